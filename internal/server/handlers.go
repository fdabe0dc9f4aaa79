// internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sua-org/cam-voice/internal/coordinator"
	"github.com/sua-org/cam-voice/internal/core"
	"github.com/sua-org/cam-voice/internal/stream"
)

func (s *Server) handleIndex(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := s.page.Execute(c.Writer, pageData{Feeds: s.coord.ActiveFeeds()}); err != nil {
		s.log.Errorf("render index: %v", err)
	}
}

func (s *Server) handleScript(c *gin.Context) {
	c.Data(http.StatusOK, "application/javascript; charset=utf-8", appJS)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCameras(c *gin.Context) {
	c.JSON(http.StatusOK, s.coord.ActiveFeeds())
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"display":  s.coord.Status(time.Now()),
		"sessions": s.coord.Sessions(),
	})
}

// handleVideoFeed serve o stream multipart de uma câmera do catálogo.
func (s *Server) handleVideoFeed(c *gin.Context) {
	id := core.CameraID(c.Param("id"))
	if _, err := s.coord.Resolve(id); err != nil {
		c.String(http.StatusNotFound, "Camera not found")
		return
	}

	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	err := s.coord.Stream(c.Request.Context(), id, stream.NewMultipartEmitter(c.Writer, "image/jpeg"))
	if err != nil {
		s.log.Warnf("video feed %s ended: %v", id, err)
	}
}

func (s *Server) handleWebSocketFeed(c *gin.Context) {
	id := core.CameraID(c.Param("id"))
	if _, err := s.coord.Resolve(id); err != nil {
		c.String(http.StatusNotFound, "Camera not found")
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// o Upgrader já respondeu com o erro
		s.log.Warnf("websocket upgrade %s: %v", id, err)
		return
	}
	ws := stream.NewWebSocketEmitter(conn)
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go ws.ReadLoop(cancel)

	if err := s.coord.Stream(ctx, id, ws); err != nil {
		s.log.Warnf("websocket feed %s ended: %v", id, err)
	}
}

func (s *Server) handleSnapshot(c *gin.Context) {
	id := core.CameraID(c.Param("id"))
	data, err := s.coord.Snapshot(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) handleSaveSnapshot(c *gin.Context) {
	id := core.CameraID(c.Param("id"))
	url, err := s.coord.SaveSnapshot(c.Request.Context(), id)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"camera": id, "url": url})
}

// abortWithError traduz os erros de domínio em status HTTP.
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrUnknownCamera):
		c.String(http.StatusNotFound, "Camera not found")
		return
	case errors.Is(err, coordinator.ErrStoreDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, core.ErrSourceUnavailable), errors.Is(err, core.ErrDecodeError), errors.Is(err, core.ErrEndOfStream):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	s.log.Warnf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	c.JSON(status, gin.H{"error": err.Error()})
}
