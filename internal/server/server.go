// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sua-org/cam-voice/internal/coordinator"
	"github.com/sua-org/cam-voice/internal/core"
	"github.com/sua-org/cam-voice/internal/stream"
	"github.com/sua-org/cam-voice/internal/voice"
)

// Coordinator é o que as rotas HTTP usam do coordenador.
type Coordinator interface {
	Resolve(id core.CameraID) (core.CameraDescriptor, error)
	Stream(ctx context.Context, id core.CameraID, out stream.Emitter) error
	Snapshot(ctx context.Context, id core.CameraID) ([]byte, error)
	SaveSnapshot(ctx context.Context, id core.CameraID) (string, error)
	ActiveFeeds() []coordinator.Feed
	Sessions() []stream.Stats
	Status(now time.Time) coordinator.Status
}

type Server struct {
	coord    Coordinator
	voice    *voice.Service
	log      *zap.SugaredLogger
	page     *template.Template
	upgrader websocket.Upgrader

	engine     *gin.Engine
	httpServer *http.Server
}

func New(addr string, coord Coordinator, voiceSvc *voice.Service) *Server {
	s := &Server{
		coord: coord,
		voice: voiceSvc,
		log:   zap.L().Named("server").Sugar(),
		page:  pageTemplate(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.engine = s.routes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		// sem WriteTimeout: os streams não têm fim
	}
	return s
}

// Handler expõe o roteador (usado nos testes com httptest).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/", s.handleIndex)
	r.GET("/static/app.js", s.handleScript)
	r.GET("/health", s.handleHealth)
	r.GET("/video_feed/:id", s.handleVideoFeed)
	r.GET("/ws/video_feed/:id", s.handleWebSocketFeed)
	if s.voice != nil {
		r.POST("/voice", voice.HTTPHandler(s.voice))
	}

	api := r.Group("/api")
	{
		api.GET("/cameras", s.handleCameras)
		api.GET("/status", s.handleStatus)
		api.POST("/cameras/:id/snapshot", s.handleSaveSnapshot)
		api.GET("/cameras/:id/snapshot.jpg", s.handleSnapshot)
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Start escuta em addr até ctx terminar e então faz shutdown gracioso.
// Streams abertos são encerrados pelo cancelamento do contexto de cada request.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// o contexto das requests deriva de ctx: cancelar derruba os streams
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Infof("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
