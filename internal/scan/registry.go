package scan

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrScanNotFound is returned when a scan id is not registered.
var ErrScanNotFound = errors.New("scan not found")

// Registry indexes scans by id. Terminal scans stay readable until they are
// removed.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*Handle)}
}

func (r *Registry) add(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.ID()] = h
}

// List returns a snapshot of every registered scan, oldest first.
func (r *Registry) List() []*Scan {
	r.mu.RLock()
	scans := make([]*Scan, 0, len(r.handles))
	for _, h := range r.handles {
		scans = append(scans, h.Snapshot())
	}
	r.mu.RUnlock()

	slices.SortFunc(scans, func(a, b *Scan) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return scans
}

// Remove forgets a terminal scan. Running scans cannot be removed.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, found := r.handles[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	if !h.Snapshot().State.Terminal() {
		return fmt.Errorf("scan %s is still running", id)
	}
	delete(r.handles, id)
	return nil
}
