package rollover

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory rollover store for demo/development mode.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*Balance
}

// NewMemoryStore creates a new in-memory rollover store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]*Balance)}
}

func key(tenantID, planID, serviceID string, periodStart time.Time) string {
	return tenantID + "|" + planID + "|" + serviceID + "|" + periodStart.UTC().Format(time.RFC3339)
}

func (m *MemoryStore) Set(_ context.Context, b *Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.balances[key(b.TenantID, b.PlanID, b.ServiceID, b.PeriodStart)] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, planID, serviceID string, periodStart time.Time) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[key(tenantID, planID, serviceID, periodStart)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
