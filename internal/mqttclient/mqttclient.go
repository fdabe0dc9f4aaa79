// internal/mqttclient/mqttclient.go
package mqttclient

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

type Client struct {
	client mqtt.Client
	log    *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]subscription
}

type subscription struct {
	qos     byte
	handler func(topic string, payload []byte)
}

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// ConnectRetries é quantas vezes tentar de novo a primeira conexão.
	ConnectRetries int
}

var ErrConnectTimeout = errors.New("mqtt connect timeout")

// NewClientFromEnv lê MQTT_HOST, MQTT_PORT, MQTT_USERNAME, MQTT_PASSWORD e MQTT_CLIENT_ID.
func NewClientFromEnv(defaultClientID string) (*Client, error) {
	return NewClient(ConfigFromEnv(defaultClientID))
}

func ConfigFromEnv(defaultClientID string) Config {
	return Config{
		Host:     getenv("MQTT_HOST", "localhost"),
		Port:     getenvInt("MQTT_PORT", 1883),
		Username: os.Getenv("MQTT_USERNAME"),
		Password: os.Getenv("MQTT_PASSWORD"),
		ClientID: getenv("MQTT_CLIENT_ID", defaultClientID),
	}
}

func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		log:  zap.L().Named("mqtt").Sugar(),
		subs: make(map[string]subscription),
	}

	broker := fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warnf("connection lost: %v", err)
	})
	// clean session: as assinaturas somem a cada reconexão
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.log.Infof("connected to %s", broker)
		c.resubscribe()
	})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = mqtt.NewClient(opts)

	connect := func() error {
		token := c.client.Connect()
		if ok := token.WaitTimeout(10 * time.Second); !ok {
			return ErrConnectTimeout
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect error: %w", err)
		}
		return nil
	}

	var b backoff.BackOff = &backoff.StopBackOff{}
	if cfg.ConnectRetries > 0 {
		ebo := backoff.NewExponentialBackOff()
		ebo.InitialInterval = time.Second
		b = backoff.WithMaxRetries(ebo, uint64(cfg.ConnectRetries))
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warnf("connect to %s failed, retrying in %s: %v", broker, wait, err)
	}
	if err := backoff.RetryNotify(connect, b, notify); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()
	return c.subscribe(topic, qos, handler)
}

func (c *Client) Unsubscribe(topic string) error {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	token := c.client.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func (c *Client) subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		if err := c.subscribe(topic, s.qos, s.handler); err != nil {
			c.log.Errorf("resubscribe %s: %v", topic, err)
		}
	}
}

func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 {
			return x
		}
	}
	return def
}
