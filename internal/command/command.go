// internal/command/command.go
package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sua-org/cam-voice/internal/core"
)

// Intent é o conjunto fechado de comandos de voz suportados.
type Intent int

const (
	IntentLaunch Intent = iota + 1
	IntentShowCamera
	IntentRemoveCamera
)

func (i Intent) String() string {
	switch i {
	case IntentLaunch:
		return "Launch"
	case IntentShowCamera:
		return "ShowCamera"
	case IntentRemoveCamera:
		return "RemoveCamera"
	default:
		return fmt.Sprintf("Intent(%d)", int(i))
	}
}

var ErrUnsupportedIntent = errors.New("unsupported intent")

// ParseIntent aceita os nomes da plataforma de voz (LaunchRequest,
// ShowCameraIntent, RemoveCameraIntent) e as formas curtas.
func ParseIntent(name string) (Intent, error) {
	switch strings.TrimSpace(name) {
	case "LaunchRequest", "Launch":
		return IntentLaunch, nil
	case "ShowCameraIntent", "ShowCamera":
		return IntentShowCamera, nil
	case "RemoveCameraIntent", "RemoveCamera":
		return IntentRemoveCamera, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedIntent, name)
}

// AllKeyword seleciona todas as câmeras em show/remove.
const AllKeyword = "all"

type Command struct {
	Intent     Intent
	CameraName string
}

type Response struct {
	SpeechText string `json:"speechText"`
	EndSession bool   `json:"endSession"`
}

const (
	launchSpeech   = "Welcome to your Alexa Camera Control. Say something like 'show camera1' or 'remove all' to control your cameras."
	fallbackSpeech = "Sorry, I can't help with that."
)

// Registry é a parte do registry de câmeras ativas que o processador usa.
type Registry interface {
	Activate(id core.CameraID) error
	Deactivate(id core.CameraID) bool
	ActivateAll()
	DeactivateAll()
}

// Processor traduz comandos em mutações do registry e na frase de resposta.
// Não faz I/O.
type Processor struct {
	reg Registry
}

func NewProcessor(reg Registry) *Processor {
	return &Processor{reg: reg}
}

func (p *Processor) Process(cmd Command) Response {
	switch cmd.Intent {
	case IntentLaunch:
		return Response{SpeechText: launchSpeech, EndSession: false}
	case IntentShowCamera:
		return Response{SpeechText: p.show(cmd.CameraName), EndSession: true}
	case IntentRemoveCamera:
		return Response{SpeechText: p.remove(cmd.CameraName), EndSession: true}
	default:
		return Fallback()
	}
}

// Execute é Process a partir do nome cru do intent; intents desconhecidos
// viram a frase de fallback, sem encerrar a sessão. Show/Remove sem câmera
// devolvem a frase de "não entendi" junto com core.ErrEmptyCommand.
func (p *Processor) Execute(intentName, cameraName string) (Response, error) {
	intent, err := ParseIntent(intentName)
	if err != nil {
		return Fallback(), err
	}
	resp := p.Process(Command{Intent: intent, CameraName: cameraName})
	if intent != IntentLaunch && core.NormalizeID(cameraName) == "" {
		return resp, fmt.Errorf("%s: %w", intent, core.ErrEmptyCommand)
	}
	return resp, nil
}

func Fallback() Response {
	return Response{SpeechText: fallbackSpeech, EndSession: false}
}

func (p *Processor) show(name string) string {
	id := core.NormalizeID(name)
	switch {
	case id == "":
		return "I didn't catch which camera to display."
	case id == AllKeyword:
		p.reg.ActivateAll()
		return "Displaying all cameras."
	}
	if err := p.reg.Activate(id); err != nil {
		return fmt.Sprintf("I don't recognize %s.", id)
	}
	return fmt.Sprintf("Displaying %s.", id)
}

func (p *Processor) remove(name string) string {
	id := core.NormalizeID(name)
	switch {
	case id == "":
		return "I didn't catch which camera to remove."
	case id == AllKeyword:
		p.reg.DeactivateAll()
		return "Removed all cameras."
	}
	if !p.reg.Deactivate(id) {
		return fmt.Sprintf("%s is not currently displayed.", id)
	}
	return fmt.Sprintf("Removed %s from display.", id)
}
