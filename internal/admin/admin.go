// Package admin provides operator-only endpoints for maintenance jobs:
// Stripe catalog sync, rollover period close, and violation export.
package admin

import (
	"context"
	"time"

	"github.com/mbd888/ratecard/internal/policy"
	"github.com/mbd888/ratecard/internal/stripesync"
)

// StripeSyncer pushes a tenant's plans into Stripe.
type StripeSyncer interface {
	SyncTenant(ctx context.Context, tenantID string, dryRun bool) (*stripesync.Result, error)
}

// PeriodCloser closes rollover balances for a billing period.
type PeriodCloser interface {
	ClosePeriod(ctx context.Context, nextPeriod time.Time) (int, error)
}

// ViolationExporter lists recorded guardrail breaches for a tenant.
type ViolationExporter interface {
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*policy.Violation, error)
}
