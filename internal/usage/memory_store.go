package usage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory usage store for demo/development mode.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
}

// NewMemoryStore creates a new in-memory usage store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func (m *MemoryStore) SumUnits(_ context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, e := range m.events {
		if e.TenantID == tenantID && e.PlanID == planID && e.ServiceID == serviceID &&
			e.PeriodStart.Equal(periodStart) {
			sum += e.Units
		}
	}
	return sum, nil
}

func (m *MemoryStore) ListSince(_ context.Context, tenantID string, since time.Time, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Event
	for _, e := range m.events {
		if e.TenantID == tenantID && !e.RecordedAt.Before(since) {
			cp := *e
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RecordedAt.After(result[j].RecordedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
