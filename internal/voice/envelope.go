// internal/voice/envelope.go
package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrMalformed = errors.New("malformed voice request")

// RequestEnvelope é o corpo enviado pela plataforma de voz (formato Alexa).
// Também aceita a forma curta {"intentType": ..., "cameraName": ...}.
type RequestEnvelope struct {
	Version string   `json:"version,omitempty"`
	Request *Request `json:"request,omitempty"`

	IntentType string `json:"intentType,omitempty"`
	CameraName string `json:"cameraName,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

type Request struct {
	Type      string  `json:"type"`
	RequestID string  `json:"requestId,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
	Locale    string  `json:"locale,omitempty"`
	Intent    *Intent `json:"intent,omitempty"`
}

type Intent struct {
	Name  string          `json:"name"`
	Slots map[string]Slot `json:"slots,omitempty"`
}

type Slot struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// CameraSlot é o slot que carrega o nome da câmera.
const CameraSlot = "CameraName"

const (
	requestLaunch       = "LaunchRequest"
	requestIntent       = "IntentRequest"
	requestSessionEnded = "SessionEndedRequest"
)

// Inbound é o comando já extraído do envelope.
type Inbound struct {
	RequestID  string
	IntentName string
	CameraName string

	// Short indica a forma curta; a resposta volta na mesma forma.
	Short bool
	// SessionEnded: a plataforma só avisa que a sessão acabou, não há o que falar.
	SessionEnded bool
}

// Decode interpreta o corpo. Só devolve erro quando não é JSON ou não tem
// nem request nem intentType.
func Decode(body []byte) (Inbound, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Request == nil {
		if strings.TrimSpace(env.IntentType) == "" {
			return Inbound{}, fmt.Errorf("%w: missing request", ErrMalformed)
		}
		return Inbound{
			RequestID:  env.RequestID,
			IntentName: env.IntentType,
			CameraName: env.CameraName,
			Short:      true,
		}, nil
	}

	in := Inbound{RequestID: env.Request.RequestID}
	switch env.Request.Type {
	case requestLaunch:
		in.IntentName = requestLaunch
	case requestSessionEnded:
		in.SessionEnded = true
	case requestIntent:
		if env.Request.Intent == nil {
			return Inbound{}, fmt.Errorf("%w: intent request without intent", ErrMalformed)
		}
		in.IntentName = env.Request.Intent.Name
		in.CameraName = env.Request.Intent.Slots[CameraSlot].Value
	default:
		// tipo desconhecido segue adiante e cai no fallback
		in.IntentName = env.Request.Type
	}
	return in, nil
}

// ResponseEnvelope é a resposta no formato da plataforma de voz. RequestID só
// é preenchido nas respostas via MQTT, para o cliente casar pergunta e resposta.
type ResponseEnvelope struct {
	Version   string       `json:"version"`
	RequestID string       `json:"requestId,omitempty"`
	Response  ResponseBody `json:"response"`
}

type ResponseBody struct {
	OutputSpeech     *OutputSpeech `json:"outputSpeech,omitempty"`
	ShouldEndSession bool          `json:"shouldEndSession"`
}

type OutputSpeech struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ShortResponse é a resposta na forma curta.
type ShortResponse struct {
	RequestID  string `json:"requestId,omitempty"`
	SpeechText string `json:"speechText"`
	EndSession bool   `json:"endSession"`
}

func newResponseEnvelope(text string, endSession bool) ResponseEnvelope {
	env := ResponseEnvelope{
		Version:  "1.0",
		Response: ResponseBody{ShouldEndSession: endSession},
	}
	if text != "" {
		env.Response.OutputSpeech = &OutputSpeech{Type: "PlainText", Text: text}
	}
	return env
}
