// internal/core/errors.go
package core

import "errors"

var (
	// ErrUnknownCamera: id ausente do catálogo (404 no HTTP, frase "not recognized" na voz).
	ErrUnknownCamera = errors.New("unknown camera")

	// ErrSourceUnavailable: conexão com a câmera não abriu ou caiu.
	ErrSourceUnavailable = errors.New("camera source unavailable")

	// ErrEndOfStream: a câmera encerrou o stream normalmente.
	ErrEndOfStream = errors.New("end of stream")

	// ErrDecodeError: dados corrompidos vindos da câmera.
	ErrDecodeError = errors.New("frame decode error")

	// ErrEncodeError: falha ao codificar um quadro (o quadro é descartado).
	ErrEncodeError = errors.New("frame encode error")

	// ErrEmptyCommand: comando de voz sem o slot de câmera.
	ErrEmptyCommand = errors.New("empty camera name")
)
