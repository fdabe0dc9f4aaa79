//go:build gocv

// internal/source/opencv.go
package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/sua-org/cam-voice/internal/core"
)

// Disponível só com -tags gocv (precisa do OpenCV instalado).
func init() {
	Register("opencv", func(opts Options) Source { return NewOpenCVSource(opts) })
}

// OpenCVSource usa gocv.VideoCapture. Read é bloqueante e não aceita ctx,
// então o cancelamento fecha a captura por baixo.
type OpenCVSource struct {
	opts Options
	log  *zap.SugaredLogger
	m    machine

	mu      sync.Mutex
	id      core.CameraID
	cap     *gocv.VideoCapture
	mat     gocv.Mat
	seq     uint64
	reading bool
}

type captureResult struct {
	cap *gocv.VideoCapture
	err error
}

func NewOpenCVSource(opts Options) *OpenCVSource {
	return &OpenCVSource{opts: opts.withDefaults(), log: zap.L().Named("source").Sugar()}
}

func (s *OpenCVSource) State() State { return s.m.get() }

func (s *OpenCVSource) Open(ctx context.Context, desc core.CameraDescriptor) error {
	if err := s.m.transition(StateClosed, StateOpening); err != nil {
		return err
	}

	done := make(chan captureResult, 1)
	go func() {
		c, err := gocv.OpenVideoCapture(desc.ConnectURL())
		done <- captureResult{c, err}
	}()

	var r captureResult
	select {
	case r = <-done:
	case <-time.After(s.opts.OpenTimeout):
		s.m.fail()
		go closeLate(done)
		return unavailable("camera %s: open timeout after %s", desc.ID, s.opts.OpenTimeout)
	case <-ctx.Done():
		s.m.fail()
		go closeLate(done)
		return ctx.Err()
	}
	if r.err != nil || r.cap == nil || !r.cap.IsOpened() {
		s.m.fail()
		if r.cap != nil {
			r.cap.Close()
		}
		return unavailable("camera %s: %v", desc.ID, r.err)
	}

	s.mu.Lock()
	s.id = desc.ID
	s.cap = r.cap
	s.mat = gocv.NewMat()
	s.seq = 0
	s.mu.Unlock()

	if err := s.m.transition(StateOpening, StateStreaming); err != nil {
		s.release()
		return unavailable("camera %s: closed while opening", desc.ID)
	}
	s.log.Infof("opened camera %s (%s) via opencv", desc.ID, desc.Redacted())
	return nil
}

func closeLate(done <-chan captureResult) {
	if r := <-done; r.cap != nil {
		r.cap.Close()
	}
}

func (s *OpenCVSource) NextFrame(ctx context.Context) (core.Frame, error) {
	switch st := s.m.get(); st {
	case StateStreaming:
	case StateFailed:
		return core.Frame{}, core.ErrSourceUnavailable
	default:
		return core.Frame{}, fmt.Errorf("next frame on %s source", st)
	}

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	// Close durante o Read só marca o estado; quem libera a captura é este
	// goroutine, quando o Read voltar.
	s.mu.Lock()
	if s.cap == nil {
		s.mu.Unlock()
		return core.Frame{}, core.ErrEndOfStream
	}
	s.reading = true
	vc := s.cap
	s.mu.Unlock()

	ok := vc.Read(&s.mat)

	s.mu.Lock()
	s.reading = false
	s.mu.Unlock()

	if s.m.get() == StateClosed {
		s.release()
		if ctx.Err() != nil {
			return core.Frame{}, ctx.Err()
		}
		return core.Frame{}, core.ErrEndOfStream
	}
	if !ok {
		return core.Frame{}, core.ErrEndOfStream
	}
	if s.mat.Empty() {
		s.m.fail()
		return core.Frame{}, fmt.Errorf("%w: empty mat", core.ErrDecodeError)
	}
	img, err := s.mat.ToImage()
	if err != nil {
		s.m.fail()
		return core.Frame{}, fmt.Errorf("%w: %v", core.ErrDecodeError, err)
	}
	s.seq++
	return core.Frame{Image: img, Seq: s.seq, CapturedAt: time.Now()}, nil
}

func (s *OpenCVSource) Close() error {
	if !s.m.close() {
		return nil
	}
	s.release()
	return nil
}

func (s *OpenCVSource) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reading {
		return
	}
	if s.cap != nil {
		s.cap.Close()
		s.cap = nil
		s.mat.Close()
		s.log.Infof("closed camera %s", s.id)
	}
}
