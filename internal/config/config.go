// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/catalog"
	"github.com/sua-org/cam-voice/internal/mqttclient"
	"github.com/sua-org/cam-voice/internal/storage"
)

type Config struct {
	Host string
	Port int

	// CamerasFile tem prioridade; sem ele o catálogo vem de CAMERAS / CAMERA_<ID>_URL.
	CamerasFile string

	SourceBackend    string
	FFmpegBin        string
	OpenTimeout      time.Duration
	JPEGQuality      int
	StreamMaxRetries int

	MQTTEnabled    bool
	MQTT           mqttclient.Config
	BaseTopic      string
	StatusInterval time.Duration

	MinIO storage.Config

	LogLevel  string
	LogFormat string
}

// Addr é o endereço de escuta do HTTP.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadDotEnv carrega .env do diretório atual, se existir.
func LoadDotEnv() error {
	return godotenv.Load()
}

// FromEnv lê a configuração das variáveis de ambiente.
func FromEnv() (Config, error) {
	var errs []error
	c := Config{
		Host:             getenv("HOST", "0.0.0.0"),
		Port:             getenvInt("PORT", 5000, &errs),
		CamerasFile:      os.Getenv("CAMERAS_FILE"),
		SourceBackend:    getenv("SOURCE_BACKEND", "ffmpeg"),
		FFmpegBin:        getenv("FFMPEG_BIN", "ffmpeg"),
		OpenTimeout:      getenvSeconds("SOURCE_OPEN_TIMEOUT_SECONDS", 10*time.Second, &errs),
		JPEGQuality:      getenvInt("JPEG_QUALITY", 80, &errs),
		StreamMaxRetries: getenvInt("STREAM_MAX_RETRIES", 0, &errs),

		MQTTEnabled: getenvBool("MQTT_ENABLED", false, &errs),
		MQTT: mqttclient.Config{
			Host:           getenv("MQTT_HOST", "localhost"),
			Port:           getenvInt("MQTT_PORT", 1883, &errs),
			Username:       os.Getenv("MQTT_USERNAME"),
			Password:       os.Getenv("MQTT_PASSWORD"),
			ClientID:       getenv("MQTT_CLIENT_ID", "cam-voice"),
			ConnectRetries: getenvInt("MQTT_CONNECT_RETRIES", 5, &errs),
		},
		BaseTopic:      strings.TrimSuffix(getenv("MQTT_BASE_TOPIC", "cam-voice"), "/"),
		StatusInterval: getenvSeconds("STATUS_INTERVAL_SECONDS", 30*time.Second, &errs),

		MinIO: storage.Config{
			Endpoint:      getenv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey:     os.Getenv("MINIO_SECRET_KEY"),
			Bucket:        getenv("MINIO_BUCKET", "cam-voice-snapshots"),
			UseSSL:        getenvBool("MINIO_USE_SSL", false, &errs),
			PublicBaseURL: os.Getenv("MINIO_PUBLIC_BASE_URL"),
		},

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT fora do intervalo: %d", c.Port))
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("JPEG_QUALITY deve estar entre 1 e 100: %d", c.JPEGQuality))
	}
	if c.StreamMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("STREAM_MAX_RETRIES negativo: %d", c.StreamMaxRetries))
	}
	if c.OpenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SOURCE_OPEN_TIMEOUT_SECONDS deve ser positivo"))
	}
	if c.MQTTEnabled && c.MQTT.Host == "" {
		errs = append(errs, fmt.Errorf("MQTT_ENABLED sem MQTT_HOST"))
	}
	return errors.Join(errs...)
}

// LoadCatalog monta o catálogo a partir de CAMERAS_FILE ou das variáveis de ambiente.
func (c Config) LoadCatalog() (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if c.CamerasFile != "" {
		cat, err = catalog.LoadFile(c.CamerasFile)
	} else {
		cat, err = catalog.ParseEnv(os.Environ())
	}
	if err != nil {
		return nil, err
	}
	if cat.Len() == 0 {
		return nil, errors.New("nenhuma câmera configurada (CAMERAS_FILE, CAMERAS ou CAMERA_<ID>_URL)")
	}
	return cat, nil
}

// Log registra a configuração efetiva, sem segredos.
func (c Config) Log(log *zap.SugaredLogger) {
	log.Infof("http=%s backend=%s ffmpeg=%s open_timeout=%s jpeg_quality=%d retries=%d",
		c.Addr(), c.SourceBackend, c.FFmpegBin, c.OpenTimeout, c.JPEGQuality, c.StreamMaxRetries)
	if c.MQTTEnabled {
		log.Infof("mqtt=%s:%d client_id=%s base_topic=%s status_interval=%s",
			c.MQTT.Host, c.MQTT.Port, c.MQTT.ClientID, c.BaseTopic, c.StatusInterval)
	} else {
		log.Infof("mqtt desabilitado")
	}
	if c.MinIO.Enabled() {
		log.Infof("minio=%s bucket=%s", c.MinIO.Endpoint, c.MinIO.Bucket)
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s inválido %q: %w", key, v, err))
		return def
	}
	return n
}

func getenvBool(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s inválido %q: %w", key, v, err))
		return def
	}
	return b
}

func getenvSeconds(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec < 0 {
		*errs = append(*errs, fmt.Errorf("%s inválido %q", key, v))
		return def
	}
	return time.Duration(sec) * time.Second
}
