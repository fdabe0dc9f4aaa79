// internal/encoder/encoder.go
package encoder

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"sync"

	"github.com/sua-org/cam-voice/internal/core"
)

const DefaultQuality = 80

// Encoder transforma um quadro decodificado no payload que vai para o viewer.
type Encoder interface {
	Encode(f core.Frame) ([]byte, error)
	ContentType() string
}

// JPEG codifica quadros com image/jpeg. Sem estado; pode ser compartilhado
// entre sessões.
type JPEG struct {
	quality int
}

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// NewJPEG aceita qualidade 1..100; fora disso usa DefaultQuality.
func NewJPEG(quality int) *JPEG {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &JPEG{quality: quality}
}

func (e *JPEG) Quality() int { return e.quality }

func (e *JPEG) ContentType() string { return "image/jpeg" }

func (e *JPEG) Encode(f core.Frame) ([]byte, error) {
	if f.Image == nil {
		return nil, fmt.Errorf("%w: frame %d has no image", core.ErrEncodeError, f.Seq)
	}
	b := f.Image.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: frame %d is empty", core.ErrEncodeError, f.Seq)
	}

	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := jpeg.Encode(buf, f.Image, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("%w: frame %d: %v", core.ErrEncodeError, f.Seq, err)
	}
	// o buffer volta para o pool; o payload precisa de cópia própria
	return bytes.Clone(buf.Bytes()), nil
}
