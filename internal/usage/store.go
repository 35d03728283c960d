package usage

import (
	"context"
	"time"
)

// Store persists usage events.
type Store interface {
	Append(ctx context.Context, e *Event) error
	// SumUnits totals the units recorded against one (plan, service)
	// pairing for a billing period.
	SumUnits(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error)
	// ListSince returns a tenant's events recorded at or after since,
	// newest first, capped at limit.
	ListSince(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Event, error)
}
