package registry

import (
	"errors"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sua-org/cam-voice/internal/catalog"
	"github.com/sua-org/cam-voice/internal/core"
)

func newCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		core.CameraDescriptor{ID: "camera1", URI: "rtsp://camera1/stream1"},
		core.CameraDescriptor{ID: "camera2", URI: "rtsp://camera2/stream1"},
		core.CameraDescriptor{ID: "camera3", URI: "rtsp://camera3/stream1"},
	)
	require.NoError(t, err)
	return c
}

func TestActivateIsIdempotent(t *testing.T) {
	r := New(newCatalog(t))
	require.NoError(t, r.Activate("camera1"))
	once := r.Snapshot()
	require.NoError(t, r.Activate("camera1"))
	assert.Equal(t, once, r.Snapshot())
	assert.Equal(t, []core.CameraID{"camera1"}, r.Snapshot())
}

func TestActivateKeepsInsertionOrder(t *testing.T) {
	r := New(newCatalog(t))
	require.NoError(t, r.Activate("camera3"))
	require.NoError(t, r.Activate("camera1"))
	assert.Equal(t, []core.CameraID{"camera3", "camera1"}, r.Snapshot())
}

func TestActivateUnknown(t *testing.T) {
	r := New(newCatalog(t))
	require.NoError(t, r.Activate("camera2"))
	err := r.Activate("camera9")
	assert.True(t, errors.Is(err, core.ErrUnknownCamera))
	assert.Equal(t, []core.CameraID{"camera2"}, r.Snapshot())
}

func TestDeactivateNeverActivated(t *testing.T) {
	r := New(newCatalog(t))
	require.NoError(t, r.Activate("camera1"))
	assert.False(t, r.Deactivate("camera2"))
	assert.False(t, r.Deactivate("camera9"))
	assert.Equal(t, []core.CameraID{"camera1"}, r.Snapshot())
	assert.True(t, r.Deactivate("camera1"))
	assert.Empty(t, r.Snapshot())
}

func TestActivateAllOverwrites(t *testing.T) {
	r := New(newCatalog(t))
	require.NoError(t, r.Activate("camera3"))
	r.ActivateAll()
	assert.Equal(t, []core.CameraID{"camera1", "camera2", "camera3"}, r.Snapshot())
	r.DeactivateAll()
	assert.Empty(t, r.Snapshot())
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New(newCatalog(t))
	r.ActivateAll()
	snap := r.Snapshot()
	snap[0] = "mutated"
	assert.Equal(t, core.CameraID("camera1"), r.Snapshot()[0])
}

func TestOnChange(t *testing.T) {
	r := New(newCatalog(t))
	var calls [][]core.CameraID
	r.OnChange(func(ids []core.CameraID) { calls = append(calls, ids) })

	require.NoError(t, r.Activate("camera1"))
	require.NoError(t, r.Activate("camera1")) // no-op, sem callback
	r.Deactivate("camera2")                   // no-op
	r.DeactivateAll()
	r.DeactivateAll() // no-op

	require.Len(t, calls, 2)
	assert.Equal(t, []core.CameraID{"camera1"}, calls[0])
	assert.Empty(t, calls[1])
}

// O estado final é um fold puro sobre a sequência de operações.
func TestRegistryMatchesModel(t *testing.T) {
	cat := newCatalog(t)
	ids := []core.CameraID{"camera1", "camera2", "camera3", "camera9"}
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		r := New(cat)
		var model []core.CameraID

		for step := 0; step < 30; step++ {
			id := ids[rng.Intn(len(ids))]
			switch rng.Intn(4) {
			case 0:
				err := r.Activate(id)
				if cat.Contains(id) {
					require.NoError(t, err)
					if !slices.Contains(model, id) {
						model = append(model, id)
					}
				} else {
					require.ErrorIs(t, err, core.ErrUnknownCamera)
				}
			case 1:
				wasActive := slices.Contains(model, id)
				require.Equal(t, wasActive, r.Deactivate(id))
				model = slices.DeleteFunc(model, func(x core.CameraID) bool { return x == id })
			case 2:
				r.ActivateAll()
				model = cat.IDs()
			case 3:
				r.DeactivateAll()
				model = nil
			}
			require.ElementsMatch(t, model, r.Snapshot())
			require.Equal(t, len(model), len(r.Snapshot()))
			if len(model) > 0 {
				require.Equal(t, model, r.Snapshot())
			}
		}
	}
}

func TestConcurrentMutationsAreAtomic(t *testing.T) {
	r := New(newCatalog(t))
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				r.ActivateAll()
				_ = r.Activate("camera2")
				r.Deactivate("camera1")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				snap := r.Snapshot()
				// nunca há duplicatas nem ids fora do catálogo
				seen := map[core.CameraID]bool{}
				for _, id := range snap {
					assert.False(t, seen[id])
					seen[id] = true
					assert.Contains(t, []core.CameraID{"camera1", "camera2", "camera3"}, id)
				}
			}
		}()
	}
	wg.Wait()
}
