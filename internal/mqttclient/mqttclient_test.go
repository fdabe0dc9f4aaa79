package mqttclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("MQTT_HOST", "broker.lan")
	t.Setenv("MQTT_PORT", "8883")
	t.Setenv("MQTT_USERNAME", "cam")
	t.Setenv("MQTT_PASSWORD", "secret")
	t.Setenv("MQTT_CLIENT_ID", "")

	cfg := ConfigFromEnv("cam-voice")
	assert.Equal(t, Config{Host: "broker.lan", Port: 8883, Username: "cam", Password: "secret", ClientID: "cam-voice"}, cfg)
}

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("MQTT_HOST", "")
	t.Setenv("MQTT_PORT", "abc")
	t.Setenv("MQTT_CLIENT_ID", "voice-1")

	cfg := ConfigFromEnv("cam-voice")
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 1883, cfg.Port)
	assert.Equal(t, "voice-1", cfg.ClientID)
}
