package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/ratecard/internal/pagination"
)

// MemoryStore is an in-memory catalog store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*Service // by ID
	names    map[string]string   // tenant|name → ID
}

// NewMemoryStore creates a new in-memory catalog store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		services: make(map[string]*Service),
		names:    make(map[string]string),
	}
}

func nameKey(tenantID, name string) string {
	return tenantID + "|" + name
}

func (m *MemoryStore) Create(_ context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.names[nameKey(s.TenantID, s.Name)]; exists {
		return ErrNameTaken
	}

	cp := *s
	m.services[s.ID] = &cp
	m.names[nameKey(s.TenantID, s.Name)] = s.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, id string) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.services[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, s *Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.services[s.ID]
	if !ok || old.TenantID != s.TenantID {
		return ErrNotFound
	}
	if old.Name != s.Name {
		if existingID, taken := m.names[nameKey(s.TenantID, s.Name)]; taken && existingID != s.ID {
			return ErrNameTaken
		}
		delete(m.names, nameKey(old.TenantID, old.Name))
		m.names[nameKey(s.TenantID, s.Name)] = s.ID
	}
	cp := *s
	m.services[s.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.services[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.names, nameKey(s.TenantID, s.Name))
	delete(m.services, id)
	return nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string, limit int, cursor string) ([]*Service, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Service
	for _, s := range m.services {
		if s.TenantID != tenantID {
			continue
		}
		if cur != nil {
			if s.CreatedAt.After(cur.CreatedAt) {
				continue
			}
			if s.CreatedAt.Equal(cur.CreatedAt) && s.ID >= cur.ID {
				continue
			}
		}
		cp := *s
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
