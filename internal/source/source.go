// internal/source/source.go
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/cam-voice/internal/core"
)

// Source é a conexão com uma câmera: uma sequência preguiçosa de quadros
// decodificados. Não reconecta sozinha; quem decide é a sessão.
type Source interface {
	// Open conecta na câmera. Qualquer falha é reportada como core.ErrSourceUnavailable.
	Open(ctx context.Context, desc core.CameraDescriptor) error

	// NextFrame bloqueia até o próximo quadro, core.ErrEndOfStream,
	// core.ErrDecodeError, core.ErrSourceUnavailable ou ctx.Err().
	NextFrame(ctx context.Context) (core.Frame, error)

	// Close libera a conexão. Idempotente, seguro em qualquer estado.
	Close() error

	State() State
}

// Options são os parâmetros comuns a todos os backends.
type Options struct {
	FFmpegBin     string
	OpenTimeout   time.Duration
	DefaultWidth  int
	DefaultHeight int
}

func (o Options) withDefaults() Options {
	if o.FFmpegBin == "" {
		o.FFmpegBin = "ffmpeg"
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 10 * time.Second
	}
	if o.DefaultWidth <= 0 {
		o.DefaultWidth = 640
	}
	if o.DefaultHeight <= 0 {
		o.DefaultHeight = 480
	}
	return o
}

type Factory func(opts Options) Source

var ErrBackendNotFound = errors.New("no source backend registered with this name")

var (
	backendsMu sync.RWMutex
	backends   = map[string]Factory{}
)

// Register é chamado no init() de cada backend (ffmpeg, opencv, synthetic).
func Register(name string, f Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[normalize(name)] = f
}

// Backends lista os backends registrados, em ordem alfabética.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	out := make([]string, 0, len(backends))
	for name := range backends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Provider cria fontes para descriptors: se existir um backend com o nome do
// esquema da URI (ex.: "synthetic://"), ele é usado; senão o backend padrão.
type Provider struct {
	defaultBackend string
	opts           Options
}

func NewProvider(defaultBackend string, opts Options) (*Provider, error) {
	name := normalize(defaultBackend)
	if name == "" {
		name = "ffmpeg"
	}
	if _, ok := lookup(name); !ok {
		return nil, fmt.Errorf("%w: %s (disponíveis: %s)", ErrBackendNotFound, name, strings.Join(Backends(), ", "))
	}
	return &Provider{defaultBackend: name, opts: opts.withDefaults()}, nil
}

// New devolve uma Source nova, ainda fechada, para desc.
func (p *Provider) New(desc core.CameraDescriptor) (Source, error) {
	if f, ok := lookup(desc.Scheme()); ok {
		return f(p.opts), nil
	}
	f, ok := lookup(p.defaultBackend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendNotFound, p.defaultBackend)
	}
	return f(p.opts), nil
}

func lookup(name string) (Factory, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	f, ok := backends[normalize(name)]
	return f, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// frameSize resolve largura/altura do descriptor com fallback para as opções.
func frameSize(desc core.CameraDescriptor, opts Options) (int, int) {
	w, h := desc.Width, desc.Height
	if w <= 0 {
		w = opts.DefaultWidth
	}
	if h <= 0 {
		h = opts.DefaultHeight
	}
	return w, h
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrSourceUnavailable, fmt.Sprintf(format, args...))
}
