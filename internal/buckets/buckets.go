// Package buckets implements prepaid bucket billing for Ratecard.
//
// A bucket grants a block of units (minutes for time buckets) per
// billing period. Consumption beyond the effective allotment bills at
// the overage rate; unused units carry into the next period when
// rollover is enabled.
package buckets

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/validation"
)

var ErrNegativeUnits = errors.New("consumed and rollover units must not be negative")

// Config describes one bucket allotment.
type Config struct {
	// TotalUnits is the per-period allotment: minutes when the bucket
	// is time-denominated, whole units otherwise. Zero is legal; every
	// consumed unit is then overage.
	TotalUnits    int64           `json:"totalUnits"`
	OverageRate   decimal.Decimal `json:"overageRate"`
	AllowRollover bool            `json:"allowRollover"`
}

// Charge is the outcome of pricing one period's consumption.
type Charge struct {
	OverageUnits  int64           `json:"overageUnits"`
	OverageCharge decimal.Decimal `json:"overageCharge"`
	UnitsCarried  int64           `json:"unitsCarried"`
}

// Validate checks bucket configuration fields. One message per field,
// keyed total_units and overage_rate.
func Validate(cfg Config) validation.Fields {
	errs := validation.Fields{}
	if cfg.TotalUnits < 0 {
		errs.Set("total_units", "must not be negative")
	}
	if cfg.OverageRate.IsNegative() {
		errs.Set("overage_rate", "must not be negative")
	}
	return errs
}

// Compute prices a period's consumption against the bucket.
//
// The effective allotment is TotalUnits plus the rollover balance when
// rollover is enabled. Consumption beyond it is overage, billed at
// OverageRate per unit; consumption below it carries forward when
// rollover is enabled. Pure and idempotent: the same inputs always
// produce the same charge.
//
// Negative consumed or rolloverAvailable values violate the caller's
// contract and return ErrNegativeUnits rather than a clamped result.
func Compute(cfg Config, consumed, rolloverAvailable int64) (Charge, error) {
	if consumed < 0 || rolloverAvailable < 0 {
		return Charge{}, ErrNegativeUnits
	}

	effective := cfg.TotalUnits
	if cfg.AllowRollover {
		effective += rolloverAvailable
	}

	var ch Charge
	if consumed > effective {
		ch.OverageUnits = consumed - effective
	}
	ch.OverageCharge = cfg.OverageRate.Mul(decimal.NewFromInt(ch.OverageUnits))
	if cfg.AllowRollover && effective > consumed {
		ch.UnitsCarried = effective - consumed
	}
	return ch, nil
}
