// Package proration computes partial-period billing factors for
// fixed-fee services.
//
// A fixed-fee service whose start or end falls inside a billing period
// is charged according to the plan's cycle alignment: anchored to the
// period start, anchored to the period end, or prorated by day count.
package proration

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/validation"
)

var ErrInvalidPeriod = errors.New("proration: period end must be after period start")

// Alignment selects how a partial period is billed.
type Alignment string

const (
	// AlignStart bills the full fee only when the service is active at
	// the period start; a mid-period start earns no partial credit.
	AlignStart Alignment = "start"
	// AlignEnd bills the full fee unless the service ended before the
	// period end.
	AlignEnd Alignment = "end"
	// AlignProrated bills by overlapping days over period days.
	AlignProrated Alignment = "prorated"
)

// Config describes fixed-fee billing for one plan service.
type Config struct {
	EnableProration bool      `json:"enableProration"`
	Alignment       Alignment `json:"billingCycleAlignment"`
}

// Validate checks the fixed configuration. One message per field.
func Validate(cfg Config) validation.Fields {
	errs := validation.Fields{}
	switch cfg.Alignment {
	case AlignStart, AlignEnd, AlignProrated:
	default:
		errs.Set("billing_cycle_alignment", fmt.Sprintf("must be one of start, end, prorated (got %q)", cfg.Alignment))
	}
	return errs
}

// Factor returns the fraction of the fixed fee to bill for a period,
// in [0, 1]. serviceEnd may be nil for a service with no end date.
//
// Callers consult this only when EnableProration is set; a
// non-prorating configuration always bills the full fee. A period
// whose end does not follow its start is a contract violation.
func Factor(cfg Config, periodStart, periodEnd, serviceStart time.Time, serviceEnd *time.Time) (decimal.Decimal, error) {
	if !periodEnd.After(periodStart) {
		return decimal.Zero, ErrInvalidPeriod
	}

	switch cfg.Alignment {
	case AlignStart:
		// Active at period start means started on or before it, and
		// not ended before it.
		if serviceStart.After(periodStart) {
			return decimal.Zero, nil
		}
		if serviceEnd != nil && serviceEnd.Before(periodStart) {
			return decimal.Zero, nil
		}
		return decimal.NewFromInt(1), nil

	case AlignEnd:
		if serviceEnd != nil && serviceEnd.Before(periodEnd) {
			return decimal.Zero, nil
		}
		if serviceStart.After(periodEnd) {
			return decimal.Zero, nil
		}
		return decimal.NewFromInt(1), nil

	case AlignProrated:
		overlapStart := periodStart
		if serviceStart.After(overlapStart) {
			overlapStart = serviceStart
		}
		overlapEnd := periodEnd
		if serviceEnd != nil && serviceEnd.Before(overlapEnd) {
			overlapEnd = *serviceEnd
		}
		if !overlapEnd.After(overlapStart) {
			return decimal.Zero, nil
		}
		overlapDays := daysBetween(overlapStart, overlapEnd)
		periodDays := daysBetween(periodStart, periodEnd)
		return decimal.NewFromInt(overlapDays).Div(decimal.NewFromInt(periodDays)), nil

	default:
		return decimal.Zero, fmt.Errorf("proration: unknown alignment %q", cfg.Alignment)
	}
}

// daysBetween counts whole days from a to b, rounding partial days up
// so a sub-day overlap still bills one day.
func daysBetween(a, b time.Time) int64 {
	d := b.Sub(a)
	days := int64(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
