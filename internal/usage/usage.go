// Package usage records service consumption events and previews the
// charge a configuration would produce for a billing period.
package usage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/validation"
)

// Errors
var (
	ErrNotFound = errors.New("usage: no configuration for this plan and service")
	ErrInvalid  = errors.New("usage: event is invalid")
)

// Event is one recorded unit consumption. PeriodStart identifies the
// billing period the units count against.
type Event struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	PlanID      string    `json:"planId"`
	ServiceID   string    `json:"serviceId"`
	Units       int64     `json:"units"`
	RecordedAt  time.Time `json:"recordedAt"`
	PeriodStart time.Time `json:"periodStart"`
}

// WorkEntry is a time entry submitted for an hourly charge preview.
type WorkEntry struct {
	UserType   string `json:"userType,omitempty"`
	Minutes    int64  `json:"minutes"`
	AfterHours bool   `json:"afterHours,omitempty"`
}

// ChargePreview is the would-be charge line for one configuration in
// one billing period. The type-specific fields are populated only for
// the matching configuration type.
type ChargePreview struct {
	ConfigurationID string          `json:"configurationId"`
	Type            planconfig.Type `json:"configurationType"`
	PeriodStart     time.Time       `json:"periodStart"`

	UnitsConsumed int64           `json:"unitsConsumed,omitempty"`
	Rate          decimal.Decimal `json:"rate"`
	Amount        decimal.Decimal `json:"amount"`

	// Usage: the billed unit count after the minimum-usage floor.
	BilledUnits int64 `json:"billedUnits,omitempty"`

	// Bucket.
	OverageUnits       int64 `json:"overageUnits,omitempty"`
	UnitsCarried       int64 `json:"unitsCarried,omitempty"`
	RolloverUnits      int64 `json:"rolloverUnits,omitempty"`
	EffectiveAllotment int64 `json:"effectiveAllotment,omitempty"`

	// Hourly.
	BillableMinutes int64 `json:"billableMinutes,omitempty"`

	// Fixed.
	ProrationFactor decimal.Decimal `json:"prorationFactor,omitempty"`
}

// ValidateEvent checks a usage event before it is appended.
func ValidateEvent(e *Event) validation.Fields {
	errs := validation.Fields{}
	if e.PlanID == "" {
		errs.Set("plan_id", "is required")
	}
	if e.ServiceID == "" {
		errs.Set("service_id", "is required")
	}
	if e.Units <= 0 {
		errs.Set("units", "must be positive")
	}
	return errs
}

// PeriodStartFor truncates t to the first instant of its month in UTC.
// It is the default billing period key when a caller records usage
// without naming a period.
func PeriodStartFor(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}
