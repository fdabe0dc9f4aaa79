// internal/source/ffmpeg.go
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/core"
)

func init() {
	Register("ffmpeg", func(opts Options) Source { return NewFFmpegSource(opts) })
}

// FFmpegSource decodifica a câmera com um processo ffmpeg que escreve
// quadros rgb24 crus no stdout; cada quadro tem exatamente w*h*3 bytes.
type FFmpegSource struct {
	opts Options
	log  *zap.SugaredLogger
	m    machine

	mu     sync.Mutex
	id     core.CameraID
	cancel context.CancelFunc
	stdout *os.File
	exited chan error

	width, height int
	seq           uint64
	pending       *core.Frame
}

func NewFFmpegSource(opts Options) *FFmpegSource {
	return &FFmpegSource{
		opts: opts.withDefaults(),
		log:  zap.L().Named("source").Sugar(),
	}
}

func (s *FFmpegSource) State() State { return s.m.get() }

func (s *FFmpegSource) Open(ctx context.Context, desc core.CameraDescriptor) error {
	if err := s.m.transition(StateClosed, StateOpening); err != nil {
		return err
	}

	w, h := frameSize(desc, s.opts)
	args := ffmpegArgs(desc, w, h)

	// O processo vive até Close, não até o fim de Open.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, s.opts.FFmpegBin, args...)

	pr, pw, err := os.Pipe()
	if err != nil {
		cancel()
		s.m.fail()
		return unavailable("stdout pipe: %v", err)
	}
	cmd.Stdout = pw
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		pr.Close()
		pw.Close()
		s.m.fail()
		return unavailable("stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		pr.Close()
		pw.Close()
		s.m.fail()
		return unavailable("start %s: %v", s.opts.FFmpegBin, err)
	}
	// o processo filho tem a sua cópia; a nossa fecha para o EOF chegar quando ele sair
	pw.Close()

	exited := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.log.Debugf("ffmpeg [%s]: %s", desc.ID, scanner.Text())
		}
		exited <- cmd.Wait()
	}()

	s.mu.Lock()
	s.id = desc.ID
	s.cancel = cancel
	s.stdout = pr
	s.exited = exited
	s.width, s.height = w, h
	s.seq = 0
	s.pending = nil
	s.mu.Unlock()

	s.log.Infof("opening camera %s (%s) %dx%d", desc.ID, desc.Redacted(), w, h)

	// A conexão só é considerada aberta quando o primeiro quadro chega.
	type result struct {
		frame core.Frame
		err   error
	}
	first := make(chan result, 1)
	go func() {
		f, err := s.readFrame()
		first <- result{f, err}
	}()

	timer := time.NewTimer(s.opts.OpenTimeout)
	defer timer.Stop()

	select {
	case r := <-first:
		if r.err != nil {
			s.m.fail()
			s.release()
			return unavailable("camera %s: %v", desc.ID, r.err)
		}
		if err := s.m.transition(StateOpening, StateStreaming); err != nil {
			// Close concorrente durante o Open: o release dele pode ter
			// rodado antes do processo existir
			s.release()
			return unavailable("camera %s: closed while opening", desc.ID)
		}
		s.mu.Lock()
		s.pending = &r.frame
		s.mu.Unlock()
		return nil
	case <-timer.C:
		s.m.fail()
		s.release()
		return unavailable("camera %s: no frame within %s", desc.ID, s.opts.OpenTimeout)
	case <-ctx.Done():
		s.m.fail()
		s.release()
		return ctx.Err()
	}
}

func (s *FFmpegSource) NextFrame(ctx context.Context) (core.Frame, error) {
	switch st := s.m.get(); st {
	case StateStreaming:
	case StateFailed:
		return core.Frame{}, core.ErrSourceUnavailable
	default:
		return core.Frame{}, fmt.Errorf("next frame on %s source", st)
	}

	s.mu.Lock()
	if p := s.pending; p != nil {
		s.pending = nil
		s.mu.Unlock()
		return *p, nil
	}
	s.mu.Unlock()

	// a leitura do pipe não enxerga ctx; cancelar fecha a fonte e desbloqueia o Read
	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	f, err := s.readFrame()
	if err == nil {
		return f, nil
	}
	if ctx.Err() != nil {
		return core.Frame{}, ctx.Err()
	}
	if s.m.get() == StateClosed {
		return core.Frame{}, core.ErrEndOfStream
	}
	s.m.fail()
	return core.Frame{}, err
}

// readFrame lê exatamente um quadro e classifica o erro.
func (s *FFmpegSource) readFrame() (core.Frame, error) {
	s.mu.Lock()
	r, w, h, exited := s.stdout, s.width, s.height, s.exited
	s.mu.Unlock()
	if r == nil {
		return core.Frame{}, core.ErrSourceUnavailable
	}

	buf := make([]byte, w*h*3)
	_, err := io.ReadFull(r, buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		return core.Frame{}, fmt.Errorf("%w: truncated frame", core.ErrDecodeError)
	case errors.Is(err, io.EOF):
		// stdout fechou: o código de saída diz se foi fim normal ou queda
		select {
		case werr := <-exited:
			if werr != nil {
				return core.Frame{}, fmt.Errorf("%w: ffmpeg exited: %v", core.ErrSourceUnavailable, werr)
			}
			return core.Frame{}, core.ErrEndOfStream
		case <-time.After(2 * time.Second):
			return core.Frame{}, core.ErrEndOfStream
		}
	default:
		return core.Frame{}, fmt.Errorf("%w: %v", core.ErrSourceUnavailable, err)
	}

	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	return core.Frame{Image: rgb24ToRGBA(buf, w, h), Seq: seq, CapturedAt: time.Now()}, nil
}

func (s *FFmpegSource) Close() error {
	if !s.m.close() {
		return nil
	}
	s.release()
	return nil
}

// release mata o processo e fecha o pipe. Não mexe no estado.
func (s *FFmpegSource) release() {
	s.mu.Lock()
	cancel, stdout, id := s.cancel, s.stdout, s.id
	s.cancel, s.stdout, s.pending = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stdout != nil {
		stdout.Close()
		s.log.Infof("closed camera %s", id)
	}
}

func ffmpegArgs(desc core.CameraDescriptor, w, h int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	switch desc.Scheme() {
	case "rtsp", "rtsps":
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", desc.ConnectURL(), "-an")
	if desc.FPS > 0 {
		args = append(args, "-r", strconv.Itoa(desc.FPS))
	}
	args = append(args,
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	)
	return args
}

func rgb24ToRGBA(buf []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
