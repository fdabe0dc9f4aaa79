// internal/coordinator/coordinator.go
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/core"
	"github.com/sua-org/cam-voice/internal/encoder"
	"github.com/sua-org/cam-voice/internal/source"
	"github.com/sua-org/cam-voice/internal/storage"
	"github.com/sua-org/cam-voice/internal/stream"
)

var ErrStoreDisabled = errors.New("snapshot storage not configured")

type Catalog interface {
	Resolve(id core.CameraID) (core.CameraDescriptor, error)
	IDs() []core.CameraID
}

type Registry interface {
	Snapshot() []core.CameraID
	OnChange(fn func([]core.CameraID))
}

// SourceProvider cria uma fonte nova (fechada) por sessão.
type SourceProvider interface {
	New(desc core.CameraDescriptor) (source.Source, error)
}

// Publisher é o lado de publicação do cliente MQTT.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

type Options struct {
	Stream stream.Options

	// Opcionais: sem Store o snapshot remoto devolve ErrStoreDisabled;
	// sem Publisher o status só fica disponível via Status().
	Store     storage.ImageStore
	Publisher Publisher
	BaseTopic string

	StatusInterval  time.Duration
	SnapshotTimeout time.Duration
}

// Coordinator liga catálogo, registry, fontes e encoder. Mantém as sessões
// vivas e o estado de conexão de cada câmera.
type Coordinator struct {
	catalog  Catalog
	registry Registry
	sources  SourceProvider
	enc      encoder.Encoder
	opts     Options
	log      *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*liveSession
	cameras  map[core.CameraID]*cameraStatus

	// mudanças do registry pendentes de publicação (coalescidas)
	changed chan struct{}

	hostname string
	proc     *process.Process
}

type liveSession struct {
	session *stream.Session
	cancel  context.CancelFunc
}

type cameraStatus struct {
	state         core.ConnectionState
	since         time.Time
	reason        string
	everConnected bool
}

func New(cat Catalog, reg Registry, sources SourceProvider, enc encoder.Encoder, opts Options) *Coordinator {
	if opts.SnapshotTimeout <= 0 {
		opts.SnapshotTimeout = 15 * time.Second
	}
	opts.BaseTopic = strings.TrimSuffix(opts.BaseTopic, "/")
	if opts.BaseTopic == "" {
		opts.BaseTopic = "cam-voice"
	}

	c := &Coordinator{
		catalog:  cat,
		registry: reg,
		sources:  sources,
		enc:      enc,
		opts:     opts,
		log:      zap.L().Named("coordinator").Sugar(),
		sessions: make(map[string]*liveSession),
		cameras:  make(map[core.CameraID]*cameraStatus),
		changed:  make(chan struct{}, 1),
	}
	c.hostname, _ = os.Hostname()
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Resolve expõe o catálogo para quem precisa validar um id antes de
// começar a responder (ex.: o 404 do HTTP).
func (c *Coordinator) Resolve(id core.CameraID) (core.CameraDescriptor, error) {
	return c.catalog.Resolve(id)
}

// Stream roda uma sessão de id para out até o stream acabar ou ctx ser
// cancelado. ErrUnknownCamera sai antes de qualquer I/O.
func (c *Coordinator) Stream(ctx context.Context, id core.CameraID, out stream.Emitter) error {
	desc, err := c.catalog.Resolve(id)
	if err != nil {
		return err
	}
	src, err := c.sources.New(desc)
	if err != nil {
		return fmt.Errorf("camera %s: %w", desc.ID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var s *stream.Session
	opts := c.opts.Stream
	userHook := opts.OnState
	opts.OnState = func(st stream.State) {
		c.observe(desc.ID, s.ID, st)
		if userHook != nil {
			userHook(st)
		}
	}
	s = stream.NewSession(desc, src, c.enc, out, opts)

	c.mu.Lock()
	c.sessions[s.ID] = &liveSession{session: s, cancel: cancel}
	n := c.countSessionsLocked(desc.ID)
	c.mu.Unlock()
	c.log.Infof("viewer attached to %s (session %s, %d viewers)", desc.ID, s.ID, n)

	defer func() {
		c.mu.Lock()
		delete(c.sessions, s.ID)
		c.mu.Unlock()
	}()

	return s.Run(ctx)
}

// observe traduz o estado da sessão no estado de conexão da câmera.
// Enquanto outra sessão estiver transmitindo a câmera, ela continua online.
func (c *Coordinator) observe(id core.CameraID, sessionID string, st stream.State) {
	if st != stream.StateStreaming && c.streamingElsewhere(id, sessionID) {
		return
	}
	switch st {
	case stream.StateOpening, stream.StateRetrying:
		c.setConnection(id, core.ConnectionStateConnecting, string(st))
	case stream.StateStreaming:
		c.setConnection(id, core.ConnectionStateOnline, "")
	case stream.StateFailed:
		c.setConnection(id, core.ConnectionStateOffline, "stream failed")
	case stream.StateEnded:
	}
}

func (c *Coordinator) streamingElsewhere(id core.CameraID, sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for sid, ls := range c.sessions {
		if sid != sessionID && ls.session.Camera() == id && ls.session.Stats().State == stream.StateStreaming {
			return true
		}
	}
	return false
}

func (c *Coordinator) setConnection(id core.CameraID, state core.ConnectionState, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.cameras[id]
	if !ok {
		cs = &cameraStatus{}
		c.cameras[id] = cs
	}
	if cs.state != state {
		cs.since = time.Now().UTC()
	}
	cs.state = state
	cs.reason = reason
	if state == core.ConnectionStateOnline {
		cs.everConnected = true
	}
}

// Connection devolve o último estado conhecido; câmeras nunca abertas são not_established.
func (c *Coordinator) Connection(id core.CameraID) core.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs, ok := c.cameras[id]; ok {
		return cs.state
	}
	return core.ConnectionStateNotEstablished
}

// Snapshot abre uma fonte própria, pega um quadro e devolve o JPEG.
func (c *Coordinator) Snapshot(ctx context.Context, id core.CameraID) ([]byte, error) {
	desc, err := c.catalog.Resolve(id)
	if err != nil {
		return nil, err
	}
	src, err := c.sources.New(desc)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", desc.ID, err)
	}
	defer src.Close()

	ctx, cancel := context.WithTimeout(ctx, c.opts.SnapshotTimeout)
	defer cancel()

	if err := src.Open(ctx, desc); err != nil {
		c.setConnection(desc.ID, core.ConnectionStateOffline, err.Error())
		return nil, err
	}
	f, err := src.NextFrame(ctx)
	if err != nil {
		if errors.Is(err, core.ErrEndOfStream) {
			return nil, fmt.Errorf("camera %s: %w", desc.ID, err)
		}
		c.setConnection(desc.ID, core.ConnectionStateOffline, err.Error())
		return nil, err
	}
	c.setConnection(desc.ID, core.ConnectionStateOnline, "")

	return c.enc.Encode(f)
}

// SaveSnapshot grava um snapshot no object storage e devolve a URL.
func (c *Coordinator) SaveSnapshot(ctx context.Context, id core.CameraID) (string, error) {
	if c.opts.Store == nil {
		return "", ErrStoreDisabled
	}
	data, err := c.Snapshot(ctx, id)
	if err != nil {
		return "", err
	}
	key := storage.SnapshotKey(id.String(), time.Now(), uuid.NewString()[:8])
	url, err := c.opts.Store.SaveSnapshot(ctx, key, data, c.enc.ContentType())
	if err != nil {
		return "", fmt.Errorf("save snapshot %s: %w", id, err)
	}
	c.log.Infof("snapshot of %s saved -> %s", id, url)
	return url, nil
}

// Feed é o que a página precisa para exibir uma câmera ativa.
type Feed struct {
	ID        core.CameraID        `json:"id"`
	Name      string               `json:"name"`
	Location  string               `json:"location"`
	StreamURL string               `json:"stream_url"`
	Status    core.ConnectionState `json:"status"`
}

// ActiveFeeds mapeia o snapshot do registry para as URLs de stream, na ordem de ativação.
func (c *Coordinator) ActiveFeeds() []Feed {
	active := c.registry.Snapshot()
	out := make([]Feed, 0, len(active))
	for _, id := range active {
		desc, err := c.catalog.Resolve(id)
		if err != nil {
			continue
		}
		out = append(out, Feed{
			ID:        desc.ID,
			Name:      desc.DisplayName(),
			Location:  desc.Location,
			StreamURL: "/video_feed/" + string(desc.ID),
			Status:    c.Connection(desc.ID),
		})
	}
	return out
}

// Sessions lista as sessões abertas agora, mais antigas primeiro.
func (c *Coordinator) Sessions() []stream.Stats {
	c.mu.Lock()
	out := make([]stream.Stats, 0, len(c.sessions))
	for _, ls := range c.sessions {
		out = append(out, ls.session.Stats())
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (c *Coordinator) countSessionsLocked(id core.CameraID) int {
	n := 0
	for _, ls := range c.sessions {
		if ls.session.Camera() == id {
			n++
		}
	}
	return n
}

// Run publica o status periodicamente e a cada mudança de câmeras ativas.
// Quando ctx termina, derruba todas as sessões.
func (c *Coordinator) Run(ctx context.Context) error {
	// só sinaliza; quem publica é o status loop, um de cada vez
	c.registry.OnChange(func([]core.CameraID) {
		select {
		case c.changed <- struct{}{}:
		default:
		}
	})
	defer c.registry.OnChange(nil)

	if c.opts.Publisher != nil {
		go c.runStatusLoop(ctx)
	}

	<-ctx.Done()
	c.log.Infof("context canceled, stopping all sessions")
	c.stopAll()
	return nil
}

func (c *Coordinator) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ls := range c.sessions {
		c.log.Infof("stopping session %s (%s)", id, ls.session.Camera())
		ls.cancel()
	}
}
