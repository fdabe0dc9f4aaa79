// internal/stream/session.go
package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/core"
	"github.com/sua-org/cam-voice/internal/encoder"
	"github.com/sua-org/cam-voice/internal/source"
)

type State string

const (
	StateOpening   State = "opening"
	StateStreaming State = "streaming"
	StateRetrying  State = "retrying"
	StateEnded     State = "ended"
	StateFailed    State = "failed"
)

// Options controla uma sessão. MaxRetries=0 desliga a reconexão.
type Options struct {
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration

	// OnState é chamado a cada mudança de estado, na goroutine da sessão.
	OnState func(State)
}

// Stats é uma fotografia dos contadores de uma sessão.
type Stats struct {
	ID        string        `json:"id"`
	Camera    core.CameraID `json:"camera"`
	State     State         `json:"state"`
	Started   time.Time     `json:"started"`
	LastFrame time.Time     `json:"last_frame,omitempty"`
	Emitted   uint64        `json:"frames_emitted"`
	Skipped   uint64        `json:"frames_skipped"`
	Retries   uint64        `json:"retries"`
}

// Session liga uma fonte a um viewer: abre, lê, codifica e emite até
// o stream acabar ou o viewer sair. A fonte pertence só a ela.
type Session struct {
	ID   string
	desc core.CameraDescriptor
	src  source.Source
	enc  encoder.Encoder
	out  Emitter
	opts Options
	log  *zap.SugaredLogger

	started   time.Time
	emitted   atomic.Uint64
	skipped   atomic.Uint64
	retries   atomic.Uint64
	lastFrame atomic.Int64

	mu    sync.Mutex
	state State
}

var errViewerGone = errors.New("viewer gone")

func NewSession(desc core.CameraDescriptor, src source.Source, enc encoder.Encoder, out Emitter, opts Options) *Session {
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 500 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 10 * time.Second
	}
	return &Session{
		ID:      uuid.NewString(),
		desc:    desc,
		src:     src,
		enc:     enc,
		out:     out,
		opts:    opts,
		log:     zap.L().Named("stream").Sugar(),
		started: time.Now(),
	}
}

func (s *Session) Camera() core.CameraID { return s.desc.ID }

func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	out := Stats{
		ID:      s.ID,
		Camera:  s.desc.ID,
		State:   st,
		Started: s.started,
		Emitted: s.emitted.Load(),
		Skipped: s.skipped.Load(),
		Retries: s.retries.Load(),
	}
	if ns := s.lastFrame.Load(); ns > 0 {
		out.LastFrame = time.Unix(0, ns)
	}
	return out
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	changed := s.state != st
	s.state = st
	s.mu.Unlock()
	if changed && s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}

// Run bloqueia até o fim da sessão. Devolve nil no fim normal do stream e
// quando o viewer desconecta; ErrSourceUnavailable ou ErrDecodeError
// (embrulhados) quando a câmera falha. A fonte está fechada no retorno.
func (s *Session) Run(ctx context.Context) error {
	// o viewer saiu: fecha a fonte na hora para desbloquear NextFrame
	stop := context.AfterFunc(ctx, func() { _ = s.src.Close() })
	defer stop()
	defer s.src.Close()

	s.log.Infof("session %s: camera %s started", s.ID, s.desc.ID)

	var err error
	if s.opts.MaxRetries > 0 {
		err = s.runWithRetry(ctx)
	} else {
		err = s.attempt(ctx)
	}

	switch {
	case err == nil:
		s.setState(StateEnded)
		s.log.Infof("session %s: camera %s ended (%d frames)", s.ID, s.desc.ID, s.emitted.Load())
		return nil
	case errors.Is(err, errViewerGone) || ctx.Err() != nil:
		s.setState(StateEnded)
		s.log.Infof("session %s: viewer left camera %s (%d frames)", s.ID, s.desc.ID, s.emitted.Load())
		return nil
	default:
		s.setState(StateFailed)
		s.log.Warnf("session %s: camera %s failed: %v", s.ID, s.desc.ID, err)
		return err
	}
}

func (s *Session) runWithRetry(ctx context.Context) error {
	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = s.opts.RetryInitial
	ebo.MaxInterval = s.opts.RetryMax
	ebo.MaxElapsedTime = 0
	ebo.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(ebo, uint64(s.opts.MaxRetries)), ctx)

	op := func() error {
		before := s.emitted.Load()
		err := s.attempt(ctx)
		if s.emitted.Load() > before {
			// a conexão chegou a transmitir: a próxima queda recomeça a contagem
			b.Reset()
		}
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errViewerGone) || ctx.Err() != nil:
			return backoff.Permanent(errViewerGone)
		case errors.Is(err, core.ErrSourceUnavailable):
			return err
		default:
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, wait time.Duration) {
		s.retries.Add(1)
		s.setState(StateRetrying)
		s.log.Warnf("session %s: camera %s unavailable, retrying in %s: %v", s.ID, s.desc.ID, wait, err)
	}
	return backoff.RetryNotify(op, b, notify)
}

// attempt é um ciclo open -> loop de quadros -> close.
func (s *Session) attempt(ctx context.Context) error {
	defer s.src.Close()

	if s.retries.Load() == 0 {
		s.setState(StateOpening)
	}
	if err := s.src.Open(ctx, s.desc); err != nil {
		return err
	}
	s.setState(StateStreaming)

	for {
		f, err := s.src.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return errViewerGone
			}
			if errors.Is(err, core.ErrEndOfStream) {
				return nil
			}
			return err
		}

		payload, err := s.enc.Encode(f)
		if err != nil {
			// quadro perdido não derruba a sessão
			n := s.skipped.Add(1)
			s.log.Debugf("session %s: skipping frame %d (%d skipped): %v", s.ID, f.Seq, n, err)
			continue
		}

		if err := s.out.Emit(ctx, payload); err != nil {
			s.log.Debugf("session %s: emit: %v", s.ID, err)
			return errViewerGone
		}
		s.emitted.Add(1)
		s.lastFrame.Store(time.Now().UnixNano())
	}
}
