// internal/catalog/catalog.go
package catalog

import (
	"fmt"
	"strings"

	"github.com/sua-org/cam-voice/internal/core"
)

// Catalog é o mapa estático id -> descriptor. Só leitura depois de New,
// por isso não precisa de lock.
type Catalog struct {
	order []core.CameraID
	byID  map[core.CameraID]core.CameraDescriptor
}

// New valida e normaliza os descriptors, preservando a ordem da configuração.
func New(descs ...core.CameraDescriptor) (*Catalog, error) {
	c := &Catalog{
		order: make([]core.CameraID, 0, len(descs)),
		byID:  make(map[core.CameraID]core.CameraDescriptor, len(descs)),
	}
	for i, d := range descs {
		d.ID = core.NormalizeID(string(d.ID))
		d.URI = strings.TrimSpace(d.URI)
		if d.ID == "" {
			return nil, fmt.Errorf("camera #%d: id obrigatório", i)
		}
		if d.ID == "all" {
			return nil, fmt.Errorf("camera #%d: id %q é reservado", i, d.ID)
		}
		if d.URI == "" {
			return nil, fmt.Errorf("camera %s: uri obrigatória", d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("camera %s duplicada", d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

// Resolve devolve o descriptor ou core.ErrUnknownCamera.
func (c *Catalog) Resolve(id core.CameraID) (core.CameraDescriptor, error) {
	d, ok := c.byID[id]
	if !ok {
		return core.CameraDescriptor{}, fmt.Errorf("%w: %s", core.ErrUnknownCamera, id)
	}
	return d, nil
}

func (c *Catalog) Contains(id core.CameraID) bool {
	_, ok := c.byID[id]
	return ok
}

// IDs devolve uma cópia dos ids na ordem da configuração.
func (c *Catalog) IDs() []core.CameraID {
	out := make([]core.CameraID, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) Len() int { return len(c.order) }
