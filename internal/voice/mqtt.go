// internal/voice/mqtt.go
package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Broker é o pedaço do cliente MQTT usado pelo listener.
type Broker interface {
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Listener recebe comandos em <base>/voice/request e responde em
// <base>/voice/response com o mesmo requestId.
type Listener struct {
	broker Broker
	svc    *Service
	base   string
}

func NewListener(broker Broker, svc *Service, baseTopic string) *Listener {
	return &Listener{broker: broker, svc: svc, base: strings.TrimSuffix(baseTopic, "/")}
}

func (l *Listener) RequestTopic() string  { return l.base + "/voice/request" }
func (l *Listener) ResponseTopic() string { return l.base + "/voice/response" }

// Run assina o tópico de requisições e bloqueia até ctx terminar.
func (l *Listener) Run(ctx context.Context) error {
	topic := l.RequestTopic()
	l.svc.log.Infof("subscribing to voice topic: %s", topic)
	if err := l.broker.Subscribe(topic, 1, l.handleMessage); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	<-ctx.Done()
	if err := l.broker.Unsubscribe(topic); err != nil {
		l.svc.log.Debugf("unsubscribe %s: %v", topic, err)
	}
	return nil
}

func (l *Listener) handleMessage(topic string, payload []byte) {
	in, err := Decode(payload)
	if err != nil {
		l.svc.log.Warnf("mqtt %s: %v", topic, err)
		return
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}

	reply := l.svc.Reply(in)
	if env, ok := reply.(ResponseEnvelope); ok {
		env.RequestID = in.RequestID
		reply = env
	}

	b, err := json.Marshal(reply)
	if err != nil {
		l.svc.log.Errorf("marshal reply %s: %v", in.RequestID, err)
		return
	}
	if err := l.broker.Publish(l.ResponseTopic(), 1, false, b); err != nil {
		l.svc.log.Errorf("publish reply %s: %v", in.RequestID, err)
	}
}
