package plan

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/ratecard/internal/pagination"
)

// MemoryStore is an in-memory plan store for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*Plan  // by ID
	names map[string]string // tenant|name → ID
}

// NewMemoryStore creates a new in-memory plan store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans: make(map[string]*Plan),
		names: make(map[string]string),
	}
}

func nameKey(tenantID, name string) string {
	return tenantID + "|" + name
}

func (m *MemoryStore) Create(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.names[nameKey(p.TenantID, p.Name)]; exists {
		return ErrNameTaken
	}

	cp := *p
	m.plans[p.ID] = &cp
	m.names[nameKey(p.TenantID, p.Name)] = p.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, p *Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.plans[p.ID]
	if !ok || old.TenantID != p.TenantID {
		return ErrNotFound
	}
	if old.Name != p.Name {
		if existingID, taken := m.names[nameKey(p.TenantID, p.Name)]; taken && existingID != p.ID {
			return ErrNameTaken
		}
		delete(m.names, nameKey(old.TenantID, old.Name))
		m.names[nameKey(p.TenantID, p.Name)] = p.ID
	}
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MemoryStore) List(_ context.Context, tenantID string, limit int, cursor string) ([]*Plan, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Plan
	for _, p := range m.plans {
		if p.TenantID != tenantID {
			continue
		}
		if cur != nil {
			if p.CreatedAt.After(cur.CreatedAt) {
				continue
			}
			if p.CreatedAt.Equal(cur.CreatedAt) && p.ID >= cur.ID {
				continue
			}
		}
		cp := *p
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

func (m *MemoryStore) ListByStatus(_ context.Context, tenantID string, status Status) ([]*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Plan
	for _, p := range m.plans {
		if p.TenantID == tenantID && p.Status == status {
			cp := *p
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) Exists(_ context.Context, tenantID, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.plans[id]
	return ok && p.TenantID == tenantID, nil
}

var _ Store = (*MemoryStore)(nil)
