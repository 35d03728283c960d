// Package hourly implements hourly rate resolution for Ratecard.
//
// An hourly configuration carries a base rate, optional per-user-type
// overrides, minimum billable time, round-up increments, and optional
// overtime and after-hours premiums. Resolution turns one work entry
// into billable minutes and a charge.
package hourly

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/validation"
)

var ErrNegativeDuration = errors.New("worked minutes and accumulated hours must not be negative")

var sixty = decimal.NewFromInt(60)

// UserTypeRate overrides the base rate for one user type. A
// configuration carries at most one entry per user type.
type UserTypeRate struct {
	UserType string          `json:"userType"`
	Rate     decimal.Decimal `json:"rate"`
}

// Config describes hourly billing for one plan service.
type Config struct {
	BaseRate      decimal.Decimal `json:"baseRate"`
	UserTypeRates []UserTypeRate  `json:"userTypeRates,omitempty"`

	MinimumBillableMinutes  int64 `json:"minimumBillableMinutes"`
	RoundUpToNearestMinutes int64 `json:"roundUpToNearestMinutes"`

	EnableOvertime         bool            `json:"enableOvertime"`
	OvertimeRate           decimal.Decimal `json:"overtimeRate,omitempty"`
	OvertimeThresholdHours decimal.Decimal `json:"overtimeThresholdHours,omitempty"`

	EnableAfterHours     bool            `json:"enableAfterHours"`
	AfterHoursMultiplier decimal.Decimal `json:"afterHoursMultiplier,omitempty"`
}

// Resolution is the priced outcome of one work entry.
type Resolution struct {
	BillableMinutes int64 `json:"billableMinutes"`
	// Rate is the effective hourly rate for the entry. When overtime
	// splits the entry across two rates this is the blended rate.
	Rate   decimal.Decimal `json:"rate"`
	Amount decimal.Decimal `json:"amount"`
}

// Validate checks hourly configuration fields. One message per field.
func Validate(cfg Config) validation.Fields {
	errs := validation.Fields{}

	if cfg.BaseRate.IsNegative() {
		errs.Set("base_rate", "must not be negative")
	}

	seen := make(map[string]bool, len(cfg.UserTypeRates))
	for _, utr := range cfg.UserTypeRates {
		if utr.Rate.IsNegative() {
			errs.Set("user_type_rates", fmt.Sprintf("rate for user type %q must not be negative", utr.UserType))
			continue
		}
		if seen[utr.UserType] {
			errs.Set("user_type_rates", fmt.Sprintf("duplicate rate for user type %q", utr.UserType))
		}
		seen[utr.UserType] = true
	}

	if cfg.MinimumBillableMinutes < 0 {
		errs.Set("minimum_billable_minutes", "must not be negative")
	}
	if cfg.RoundUpToNearestMinutes < 0 {
		errs.Set("round_up_to_nearest_minutes", "must not be negative")
	}

	if cfg.EnableOvertime {
		if cfg.OvertimeRate.IsNegative() {
			errs.Set("overtime_rate", "must not be negative")
		}
		if cfg.OvertimeThresholdHours.IsNegative() {
			errs.Set("overtime_threshold_hours", "must not be negative")
		}
	}

	if cfg.EnableAfterHours && cfg.AfterHoursMultiplier.LessThan(decimal.NewFromInt(1)) {
		errs.Set("after_hours_multiplier", "must be at least 1")
	}

	return errs
}

// RateForUserType returns the configured rate for a user type, falling
// back to the base rate when no override exists.
func RateForUserType(cfg Config, userType string) decimal.Decimal {
	for _, utr := range cfg.UserTypeRates {
		if utr.UserType == userType {
			return utr.Rate
		}
	}
	return cfg.BaseRate
}

// Resolve prices one work entry.
//
// Worked minutes are raised to the minimum billable time and rounded
// up to the next multiple of the round-up increment. The base rate is
// the user type's override when present. When overtime is enabled and
// the period's accumulated hours cross the threshold inside this
// entry, the minutes beyond the threshold bill at the overtime rate
// and the rest at the base rate. The after-hours multiplier applies
// on top of whichever rates are in play.
//
// hoursSoFar is the period's billable hours accumulated before this
// entry; it only matters when overtime is enabled.
func Resolve(cfg Config, userType string, workedMinutes int64, afterHours bool, hoursSoFar decimal.Decimal) (Resolution, error) {
	if workedMinutes < 0 || hoursSoFar.IsNegative() {
		return Resolution{}, ErrNegativeDuration
	}

	billable := roundUpMinutes(maxInt64(workedMinutes, cfg.MinimumBillableMinutes), cfg.RoundUpToNearestMinutes)

	regularRate := RateForUserType(cfg, userType)
	overtimeRate := cfg.OvertimeRate
	if cfg.EnableAfterHours && afterHours {
		regularRate = regularRate.Mul(cfg.AfterHoursMultiplier)
		overtimeRate = overtimeRate.Mul(cfg.AfterHoursMultiplier)
	}

	billableHours := decimal.NewFromInt(billable).Div(sixty)

	regularHours := billableHours
	overtimeHours := decimal.Zero
	if cfg.EnableOvertime {
		endHours := hoursSoFar.Add(billableHours)
		if endHours.GreaterThan(cfg.OvertimeThresholdHours) {
			overtimeHours = decimal.Min(billableHours, endHours.Sub(cfg.OvertimeThresholdHours))
			regularHours = billableHours.Sub(overtimeHours)
		}
	}

	amount := regularHours.Mul(regularRate).Add(overtimeHours.Mul(overtimeRate))

	rate := regularRate
	if billableHours.IsPositive() {
		rate = amount.Div(billableHours)
	}

	return Resolution{
		BillableMinutes: billable,
		Rate:            rate,
		Amount:          amount,
	}, nil
}

// roundUpMinutes rounds minutes up to the next multiple of increment.
// A zero increment leaves minutes untouched.
func roundUpMinutes(minutes, increment int64) int64 {
	if increment <= 0 || minutes%increment == 0 {
		return minutes
	}
	return (minutes/increment + 1) * increment
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
