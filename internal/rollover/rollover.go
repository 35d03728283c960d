// Package rollover closes billing periods for bucket configurations
// and carries unused units into the next period.
package rollover

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means no balance exists for the requested period.
var ErrNotFound = errors.New("rollover: no balance for this period")

// Balance is the units carried into one billing period for a
// (plan, service) pairing, written when the previous period closes.
type Balance struct {
	TenantID    string    `json:"tenantId"`
	PlanID      string    `json:"planId"`
	ServiceID   string    `json:"serviceId"`
	PeriodStart time.Time `json:"periodStart"`
	Units       int64     `json:"units"`
	ClosedAt    time.Time `json:"closedAt"`
}

// Store persists rollover balances. Set is an upsert keyed
// (tenant, plan, service, period): re-closing a period overwrites its
// result, which keeps period close idempotent.
type Store interface {
	Set(ctx context.Context, b *Balance) error
	Get(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (*Balance, error)
}
