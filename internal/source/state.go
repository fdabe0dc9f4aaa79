// internal/source/state.go
package source

import (
	"fmt"
	"sync"
)

type State int

const (
	StateClosed State = iota
	StateOpening
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// machine guarda o estado de uma Source. Transições válidas:
//
//	Closed -> Opening -> Streaming -> (Closed | Failed)
//	Opening -> (Failed | Closed)
//	Failed -> Closed (via Close)
type machine struct {
	mu    sync.Mutex
	state State
}

func (m *machine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// transition muda de from para to; falha se o estado atual não for from.
func (m *machine) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("invalid source transition %s -> %s (current %s)", from, to, m.state)
	}
	m.state = to
	return nil
}

// fail marca Failed a partir de Opening/Streaming. Devolve false se já estava fechado.
func (m *machine) fail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateOpening || m.state == StateStreaming {
		m.state = StateFailed
		return true
	}
	return false
}

// close marca Closed e informa se houve mudança.
func (m *machine) close() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateClosed {
		return false
	}
	m.state = StateClosed
	return true
}
