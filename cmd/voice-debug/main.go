// cmd/voice-debug/main.go
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sua-org/cam-voice/internal/mqttclient"
	"github.com/sua-org/cam-voice/internal/voice"
)

// Uso:
//
//	voice-debug -intent ShowCamera camera1
//	voice-debug -intent RemoveCamera all
func main() {
	intent := flag.String("intent", "ShowCamera", "intent (Launch, ShowCamera, RemoveCamera)")
	wait := flag.Duration("timeout", 5*time.Second, "quanto esperar pela resposta")
	flag.Parse()

	baseTopic := strings.TrimSuffix(getenv("MQTT_BASE_TOPIC", "cam-voice"), "/")
	camera := strings.Join(flag.Args(), " ")

	mqttCli, err := mqttclient.NewClientFromEnv("cam-voice-debug")
	if err != nil {
		log.Fatalf("erro ao conectar no MQTT: %v", err)
	}
	defer mqttCli.Close()

	req := voice.RequestEnvelope{
		IntentType: *intent,
		CameraName: camera,
		RequestID:  uuid.NewString(),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		log.Fatalf("erro ao montar requisição: %v", err)
	}

	replies := make(chan voice.ShortResponse, 1)
	respTopic := baseTopic + "/voice/response"
	if err := mqttCli.Subscribe(respTopic, 1, func(topic string, payload []byte) {
		var r voice.ShortResponse
		if err := json.Unmarshal(payload, &r); err != nil {
			log.Printf("[debug] resposta inválida em %s: %s", topic, string(payload))
			return
		}
		// outras requisições podem estar no mesmo tópico
		if r.RequestID != req.RequestID {
			return
		}
		select {
		case replies <- r:
		default:
		}
	}); err != nil {
		log.Fatalf("erro ao assinar tópico %s: %v", respTopic, err)
	}

	reqTopic := baseTopic + "/voice/request"
	log.Printf("[debug] %s -> %s", string(payload), reqTopic)
	if err := mqttCli.Publish(reqTopic, 1, false, payload); err != nil {
		log.Fatalf("erro ao publicar em %s: %v", reqTopic, err)
	}

	select {
	case r := <-replies:
		log.Printf("[debug] speech=%q endSession=%t", r.SpeechText, r.EndSession)
	case <-time.After(*wait):
		log.Printf("[debug] sem resposta em %s (requestId=%s)", *wait, req.RequestID)
		mqttCli.Close()
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
