// internal/registry/registry.go
package registry

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sua-org/cam-voice/internal/core"
)

// Catalog é o que o registry precisa saber do catálogo.
type Catalog interface {
	Contains(id core.CameraID) bool
	IDs() []core.CameraID
}

// Registry guarda o conjunto ordenado de câmeras ativas.
//
// Escritores serializam no mutex e publicam um slice novo e imutável;
// leitores (Snapshot) só fazem o Load atômico, nunca esperam o lock.
type Registry struct {
	catalog Catalog

	mu       sync.Mutex
	active   atomic.Pointer[[]core.CameraID]
	onChange func([]core.CameraID)
}

func New(catalog Catalog) *Registry {
	r := &Registry{catalog: catalog}
	empty := []core.CameraID{}
	r.active.Store(&empty)
	return r
}

// OnChange registra um callback chamado (fora do lock) após cada mutação efetiva.
func (r *Registry) OnChange(fn func([]core.CameraID)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Activate adiciona id ao final da lista. Já ativo => no-op.
func (r *Registry) Activate(id core.CameraID) error {
	if !r.catalog.Contains(id) {
		return fmt.Errorf("%w: %s", core.ErrUnknownCamera, id)
	}
	r.update(func(cur []core.CameraID) ([]core.CameraID, bool) {
		if slices.Contains(cur, id) {
			return cur, false
		}
		next := make([]core.CameraID, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, id), true
	})
	return nil
}

// Deactivate remove id e informa se ele estava ativo.
func (r *Registry) Deactivate(id core.CameraID) bool {
	removed := false
	r.update(func(cur []core.CameraID) ([]core.CameraID, bool) {
		i := slices.Index(cur, id)
		if i < 0 {
			return cur, false
		}
		removed = true
		next := make([]core.CameraID, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		return append(next, cur[i+1:]...), true
	})
	return removed
}

// ActivateAll sobrescreve o conjunto com todas as câmeras do catálogo, na ordem do catálogo.
func (r *Registry) ActivateAll() {
	all := r.catalog.IDs()
	r.update(func(cur []core.CameraID) ([]core.CameraID, bool) {
		return all, !slices.Equal(cur, all)
	})
}

// DeactivateAll esvazia o conjunto.
func (r *Registry) DeactivateAll() {
	r.update(func(cur []core.CameraID) ([]core.CameraID, bool) {
		return []core.CameraID{}, len(cur) > 0
	})
}

// Snapshot devolve uma cópia ordenada do conjunto atual. Pode ficar
// desatualizada logo após o retorno.
func (r *Registry) Snapshot() []core.CameraID {
	return slices.Clone(*r.active.Load())
}

func (r *Registry) IsActive(id core.CameraID) bool {
	return slices.Contains(*r.active.Load(), id)
}

func (r *Registry) update(fn func(cur []core.CameraID) ([]core.CameraID, bool)) {
	r.mu.Lock()
	next, changed := fn(*r.active.Load())
	if changed {
		r.active.Store(&next)
	}
	hook := r.onChange
	r.mu.Unlock()

	if changed && hook != nil {
		hook(slices.Clone(next))
	}
}
