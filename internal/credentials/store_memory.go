package credentials

import (
	"context"
	"sync"
)

// MemoryStore is a SecretStore backed by a map. It is used by tests and by
// the file store once the file has been parsed.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]string
}

func NewMemoryStore(tenants map[string]map[string]string) *MemoryStore {
	s := &MemoryStore{tenants: make(map[string]map[string]string, len(tenants))}
	for tenant, values := range tenants {
		s.Set(tenant, values)
	}
	return s
}

// Set replaces the values stored for a tenant.
func (s *MemoryStore) Set(tenantID string, values map[string]string) {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[tenantID] = copied
}

func (s *MemoryStore) Get(_ context.Context, tenantID string, keys []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values, found := s.tenants[tenantID]
	if !found {
		return nil, ErrTenantNotFound
	}
	res := make(map[string]string, len(keys))
	for _, key := range keys {
		if v, ok := values[key]; ok && v != "" {
			res[key] = v
		}
	}
	return res, nil
}
