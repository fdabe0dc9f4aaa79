// internal/voice/service.go
package voice

import (
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/command"
)

// Processor executa um intent cru. Erro de intent não suportado ainda vem
// acompanhado de uma resposta falável.
type Processor interface {
	Execute(intentName, cameraName string) (command.Response, error)
}

// Service é o núcleo comum dos transportes de voz: decodifica, executa e
// codifica a resposta.
type Service struct {
	proc Processor
	log  *zap.SugaredLogger
}

func NewService(proc Processor) *Service {
	return &Service{proc: proc, log: zap.L().Named("voice").Sugar()}
}

// Reply processa o comando já decodificado e devolve o corpo da resposta
// (envelope completo ou forma curta, conforme a entrada).
func (s *Service) Reply(in Inbound) any {
	if in.SessionEnded {
		s.log.Debugf("request %s: session ended", in.RequestID)
		return newResponseEnvelope("", true)
	}

	resp, err := s.proc.Execute(in.IntentName, in.CameraName)
	switch {
	case errors.Is(err, command.ErrUnsupportedIntent):
		s.log.Infof("request %s: unsupported intent %q", in.RequestID, in.IntentName)
	case err != nil:
		s.log.Warnf("request %s: %v", in.RequestID, err)
	default:
		s.log.Infof("request %s: %s %q -> %q", in.RequestID, in.IntentName, in.CameraName, resp.SpeechText)
	}

	if in.Short {
		return ShortResponse{RequestID: in.RequestID, SpeechText: resp.SpeechText, EndSession: resp.EndSession}
	}
	return newResponseEnvelope(resp.SpeechText, resp.EndSession)
}

// Handle é Decode + Reply + json.Marshal. ErrMalformed é o único erro de entrada.
func (s *Service) Handle(body []byte) ([]byte, error) {
	in, err := Decode(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s.Reply(in))
}
