// internal/source/synthetic.go
package source

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sua-org/cam-voice/internal/core"
)

func init() {
	Register("synthetic", func(opts Options) Source { return NewSyntheticSource(opts) })
}

// syntheticOpen conta as fontes sintéticas abertas no processo (para testes e /api/status).
var syntheticOpen atomic.Int64

// SyntheticOpen devolve quantas fontes sintéticas estão abertas agora.
func SyntheticOpen() int64 { return syntheticOpen.Load() }

// SyntheticSource gera quadros de teste sem rede. Configurada pela URI:
//
//	synthetic://<nome>?frames=N&fps=F&fail=open|decode|drop
//
// frames=0 é infinito; fail define como o stream termina após N quadros
// (ou já no Open, para fail=open).
type SyntheticSource struct {
	opts Options
	m    machine

	id     core.CameraID
	w, h   int
	limit  uint64
	fail   string
	period time.Duration
	seq    uint64
	last   time.Time
	closed chan struct{}
	live   atomic.Bool
}

func NewSyntheticSource(opts Options) *SyntheticSource {
	return &SyntheticSource{opts: opts.withDefaults()}
}

func (s *SyntheticSource) State() State { return s.m.get() }

func (s *SyntheticSource) Open(ctx context.Context, desc core.CameraDescriptor) error {
	if err := s.m.transition(StateClosed, StateOpening); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		s.m.fail()
		return err
	}

	u, err := url.Parse(desc.URI)
	if err != nil {
		s.m.fail()
		return unavailable("camera %s: %v", desc.ID, err)
	}
	q := u.Query()
	s.fail = q.Get("fail")
	if s.fail == "open" {
		s.m.fail()
		return unavailable("camera %s: connection refused", desc.ID)
	}

	s.id = desc.ID
	s.w, s.h = frameSize(desc, s.opts)
	if n, err := strconv.ParseUint(q.Get("frames"), 10, 64); err == nil {
		s.limit = n
	}
	fps := desc.FPS
	if v, err := strconv.Atoi(q.Get("fps")); err == nil {
		fps = v
	}
	if fps > 0 {
		s.period = time.Second / time.Duration(fps)
	}
	s.seq = 0
	s.closed = make(chan struct{})

	if err := s.m.transition(StateOpening, StateStreaming); err != nil {
		return unavailable("camera %s: closed while opening", desc.ID)
	}
	s.live.Store(true)
	syntheticOpen.Add(1)
	return nil
}

func (s *SyntheticSource) NextFrame(ctx context.Context) (core.Frame, error) {
	switch st := s.m.get(); st {
	case StateStreaming:
	case StateFailed:
		return core.Frame{}, core.ErrSourceUnavailable
	default:
		return core.Frame{}, fmt.Errorf("next frame on %s source", st)
	}

	if s.limit > 0 && s.seq >= s.limit {
		switch s.fail {
		case "decode":
			s.m.fail()
			return core.Frame{}, fmt.Errorf("%w: corrupt synthetic frame", core.ErrDecodeError)
		case "drop":
			s.m.fail()
			return core.Frame{}, fmt.Errorf("%w: connection reset", core.ErrSourceUnavailable)
		default:
			return core.Frame{}, core.ErrEndOfStream
		}
	}

	if s.period > 0 && !s.last.IsZero() {
		wait := time.Until(s.last.Add(s.period))
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return core.Frame{}, ctx.Err()
			case <-s.closed:
				t.Stop()
				return core.Frame{}, core.ErrEndOfStream
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return core.Frame{}, err
	}

	s.seq++
	s.last = time.Now()
	return core.Frame{Image: pattern(s.w, s.h, s.seq), Seq: s.seq, CapturedAt: s.last}, nil
}

func (s *SyntheticSource) Close() error {
	if !s.m.close() {
		return nil
	}
	if s.live.CompareAndSwap(true, false) {
		close(s.closed)
		syntheticOpen.Add(-1)
	}
	return nil
}

// pattern desenha um degradê que anda um pixel por quadro.
func pattern(w, h int, seq uint64) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	off := int(seq % uint64(max(w, 1)))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(((x + off) * 255) / max(w, 1))
			img.SetRGBA(x, y, color.RGBA{R: v, G: uint8(y * 255 / max(h, 1)), B: 255 - v, A: 0xff})
		}
	}
	return img
}
