// Package tiers implements tiered usage pricing for Ratecard.
//
// A tier set partitions consumption into inclusive [from, to] ranges,
// each with its own per-unit rate. The last tier may be unbounded.
// Validation guarantees a set covers consumption from zero upward with
// no gaps, so rate lookup on a valid set always succeeds.
package tiers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/validation"
)

var (
	ErrNoTierForAmount = errors.New("no tier covers the consumed amount")
	ErrNegativeUnits   = errors.New("consumed units must not be negative")
)

// FieldTiers is the single field key all tier validation messages use.
const FieldTiers = "tiers"

// Tier is one priced consumption range. To == nil means the tier is
// unbounded above. Both bounds are inclusive.
type Tier struct {
	From int64           `json:"fromAmount"`
	To   *int64          `json:"toAmount"`
	Rate decimal.Decimal `json:"rate"`
}

// Set is an unordered collection of tiers. Operations work on the
// fromAmount-sorted view; callers may keep tiers in any order.
type Set []Tier

// Sorted returns a copy of the set ordered by From ascending.
func (s Set) Sorted() Set {
	out := make(Set, len(s))
	copy(out, s)
	sort.SliceStable(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Validate checks the set against the tiered pricing rules. All
// messages are keyed to the "tiers" field and the first violated rule
// wins. When tiered pricing is disabled the set is not consulted and
// validates clean.
func Validate(s Set, enabled bool) validation.Fields {
	errs := validation.Fields{}
	if !enabled {
		return errs
	}

	if len(s) == 0 {
		errs.Set(FieldTiers, "at least one tier is required when tiered pricing is enabled")
		return errs
	}

	sorted := s.Sorted()

	for i, t := range sorted {
		if t.Rate.IsNegative() {
			errs.Set(FieldTiers, fmt.Sprintf("tier %d: rate must not be negative", i+1))
			return errs
		}
	}

	for i, t := range sorted {
		if t.To != nil && *t.To < t.From {
			errs.Set(FieldTiers, fmt.Sprintf("tier %d: upper bound must be greater than or equal to lower bound", i+1))
			return errs
		}
	}

	for i, t := range sorted {
		if t.To == nil && i != len(sorted)-1 {
			errs.Set(FieldTiers, "only the last tier may be unlimited")
			return errs
		}
	}

	for i := 0; i < len(sorted)-1; i++ {
		cur, next := sorted[i], sorted[i+1]
		// cur.To is non-nil here: a nil To is only legal on the last tier.
		if next.From < *cur.To {
			errs.Set(FieldTiers, fmt.Sprintf("tier %d overlaps tier %d", i+1, i+2))
			return errs
		}
		if next.From > *cur.To+1 {
			errs.Set(FieldTiers, fmt.Sprintf("gap between tier %d and tier %d: units %d to %d are not covered", i+1, i+2, *cur.To+1, next.From-1))
			return errs
		}
	}

	if sorted[0].From != 0 {
		errs.Set(FieldTiers, "first tier must start from 0")
		return errs
	}

	return errs
}

// RateFor returns the rate of the tier containing consumed units.
// On a shared boundary the earlier tier wins. A consumption amount no
// tier covers is a contract violation: validated sets always cover,
// so callers must escalate the error rather than default the rate.
func RateFor(s Set, consumed int64) (decimal.Decimal, error) {
	if consumed < 0 {
		return decimal.Zero, ErrNegativeUnits
	}
	for _, t := range s.Sorted() {
		if consumed < t.From {
			break
		}
		if t.To == nil || consumed <= *t.To {
			return t.Rate, nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %d units", ErrNoTierForAmount, consumed)
}

// Charge prices consumption at the rate of its containing tier
// (volume pricing: one rate applies to the whole amount).
func Charge(s Set, consumed int64) (decimal.Decimal, error) {
	rate, err := RateFor(s, consumed)
	if err != nil {
		return decimal.Zero, err
	}
	return rate.Mul(decimal.NewFromInt(consumed)), nil
}

// Bound returns a *int64 for literal tier bounds.
func Bound(v int64) *int64 { return &v }
