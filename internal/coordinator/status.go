// internal/coordinator/status.go
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sua-org/cam-voice/internal/core"
)

// Status é o estado publicado em <base>/display/status e servido em /api/status.
type Status struct {
	Service   string                         `json:"service"`
	Hostname  string                         `json:"hostname"`
	Timestamp string                         `json:"timestamp"`
	Active    []core.CameraID                `json:"active"`
	Sessions  map[core.CameraID]int          `json:"sessions"`
	Cameras   map[core.CameraID]CameraStatus `json:"cameras"`
	Process   ProcessStats                   `json:"process"`
}

type CameraStatus struct {
	Status        core.ConnectionState `json:"status"`
	StatusSince   string               `json:"status_since,omitempty"`
	StatusReason  string               `json:"status_reason,omitempty"`
	EverConnected bool                 `json:"ever_connected,omitempty"`
}

type ProcessStats struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryRSSBytes uint64  `json:"memory_rss_bytes"`
}

func (c *Coordinator) StatusTopic() string {
	return c.opts.BaseTopic + "/display/status"
}

// Status monta a fotografia atual. Câmeras sem sessão ficam not_established.
func (c *Coordinator) Status(now time.Time) Status {
	st := Status{
		Service:   "cam-voice",
		Hostname:  c.hostname,
		Timestamp: now.UTC().Format(time.RFC3339),
		Active:    c.registry.Snapshot(),
		Sessions:  make(map[core.CameraID]int),
		Cameras:   make(map[core.CameraID]CameraStatus),
		Process:   c.processStats(),
	}

	c.mu.Lock()
	for _, ls := range c.sessions {
		st.Sessions[ls.session.Camera()]++
	}
	for _, id := range c.catalog.IDs() {
		cs := CameraStatus{Status: core.ConnectionStateNotEstablished}
		if w, ok := c.cameras[id]; ok {
			cs.Status = w.state
			cs.StatusReason = w.reason
			cs.EverConnected = w.everConnected
			if !w.since.IsZero() {
				cs.StatusSince = w.since.Format(time.RFC3339)
			}
		}
		st.Cameras[id] = cs
	}
	c.mu.Unlock()

	return st
}

func (c *Coordinator) processStats() ProcessStats {
	var ps ProcessStats
	if c.proc == nil {
		return ps
	}
	if cpu, err := c.proc.CPUPercent(); err == nil {
		ps.CPUPercent = cpu
	}
	if memInfo, err := c.proc.MemoryInfo(); err == nil {
		ps.MemoryRSSBytes = memInfo.RSS
	}
	if memP, err := c.proc.MemoryPercent(); err == nil {
		ps.MemoryPercent = float64(memP)
	}
	return ps
}

// runStatusLoop é o único publicador de status: a cada tick e a cada
// mudança do registry. Várias mudanças seguidas viram uma publicação só,
// sempre com o snapshot mais recente.
func (c *Coordinator) runStatusLoop(ctx context.Context) {
	var tick <-chan time.Time
	if c.opts.StatusInterval > 0 {
		ticker := time.NewTicker(c.opts.StatusInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	c.log.Infof("status loop iniciado (intervalo=%s)", c.opts.StatusInterval)

	for {
		var now time.Time
		select {
		case <-ctx.Done():
			c.log.Infof("status loop encerrado (context canceled)")
			return
		case <-c.changed:
			now = time.Now()
		case t := <-tick:
			now = t
		}
		if err := c.publishStatus(now); err != nil {
			c.log.Warnf("erro ao publicar status: %v", err)
		}
	}
}

func (c *Coordinator) publishStatus(now time.Time) error {
	if c.opts.Publisher == nil {
		return nil
	}
	b, err := json.Marshal(c.Status(now))
	if err != nil {
		return fmt.Errorf("marshal display status: %w", err)
	}

	topic := c.StatusTopic()
	// retained: quem assinar depois recebe o último estado
	if err := c.opts.Publisher.Publish(topic, 1, true, b); err != nil {
		return fmt.Errorf("publish display status to %s: %w", topic, err)
	}
	c.log.Debugf("display status published -> %s", topic)
	return nil
}
