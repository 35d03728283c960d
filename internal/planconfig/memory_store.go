package planconfig

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/ratecard/internal/pagination"
)

// MemoryStore is an in-memory configuration store for demo/development mode.
type MemoryStore struct {
	configs map[string]*Configuration // by ID
	byKey   map[string]string         // tenant|plan|service → ID
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory configuration store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		configs: make(map[string]*Configuration),
		byKey:   make(map[string]string),
	}
}

func key(tenantID, planID, serviceID string) string {
	return tenantID + "|" + planID + "|" + serviceID
}

func (m *MemoryStore) Upsert(ctx context.Context, cfg *Configuration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(cfg.TenantID, cfg.PlanID, cfg.ServiceID)
	if existingID, ok := m.byKey[k]; ok && existingID != cfg.ID {
		// Same key, different ID: replace the old row in place.
		existing := m.configs[existingID]
		cfg.ID = existingID
		cfg.CreatedAt = existing.CreatedAt
	}
	cfg.UpdatedAt = time.Now()

	cp := *cfg
	m.configs[cfg.ID] = &cp
	m.byKey[k] = cfg.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, id string) (*Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[id]
	if !ok || cfg.TenantID != tenantID {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) GetByPlanService(ctx context.Context, tenantID, planID, serviceID string) (*Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byKey[key(tenantID, planID, serviceID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.configs[id]
	return &cp, nil
}

func (m *MemoryStore) ListByPlan(ctx context.Context, tenantID, planID string, limit int, cursor string) ([]*Configuration, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Configuration
	for _, cfg := range m.configs {
		if cfg.TenantID != tenantID || cfg.PlanID != planID {
			continue
		}
		if cur != nil {
			if cfg.CreatedAt.After(cur.CreatedAt) {
				continue
			}
			if cfg.CreatedAt.Equal(cur.CreatedAt) && cfg.ID >= cur.ID {
				continue
			}
		}
		cp := *cfg
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

func (m *MemoryStore) Delete(ctx context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[id]
	if !ok || cfg.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.byKey, key(cfg.TenantID, cfg.PlanID, cfg.ServiceID))
	delete(m.configs, id)
	return nil
}

func (m *MemoryStore) CountByType(ctx context.Context, tenantID string) (map[Type]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[Type]int)
	for _, cfg := range m.configs {
		if cfg.TenantID == tenantID {
			counts[cfg.Type]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) ListByType(ctx context.Context, tenantID string, typ Type) ([]*Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Configuration
	for _, cfg := range m.configs {
		if cfg.TenantID == tenantID && cfg.Type == typ {
			cp := *cfg
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryStore) ListAllByType(ctx context.Context, typ Type) ([]*Configuration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Configuration
	for _, cfg := range m.configs {
		if cfg.Type == typ {
			cp := *cfg
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
