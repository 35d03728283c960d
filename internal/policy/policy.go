// Package policy provides tenant-scoped pricing guardrails.
//
// Guardrails are collections of rules that constrain what billing
// configurations a tenant's operators may save: rate ceilings, overage
// bounds, allowed rounding increments, multiplier caps, and proration
// requirements. They run after intrinsic validation, so a guardrail
// message never masks a field-level error.
package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrPolicyNotFound = errors.New("policy: not found")
	ErrNameTaken      = errors.New("policy: name already exists for this tenant")
)

// PricingPolicy is a named, ordered set of rules checked when a
// configuration is saved.
type PricingPolicy struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenantId"`
	Name            string    `json:"name"`
	Rules           []Rule    `json:"rules"`
	Priority        int       `json:"priority"` // lower = evaluated first
	Enabled         bool      `json:"enabled"`
	EnforcementMode string    `json:"enforcementMode"`           // "enforce" (default) or "shadow"
	ShadowExpiresAt time.Time `json:"shadowExpiresAt,omitempty"` // auto-flip deadline (30-day max)
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Rule is a single constraint within a policy.
type Rule struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// RateCeilingParams caps the headline rate of a configuration. An
// empty ConfigurationType applies the ceiling to every type.
type RateCeilingParams struct {
	ConfigurationType string `json:"configurationType,omitempty"`
	MaxRate           string `json:"maxRate"`
}

// OverageRateBoundsParams bounds overage and overtime rates. At least
// one of MinRate/MaxRate must be set.
type OverageRateBoundsParams struct {
	MinRate string `json:"minRate,omitempty"`
	MaxRate string `json:"maxRate,omitempty"`
}

// RoundingIncrementsParams restricts hourly configurations to an
// approved set of round-up increments.
type RoundingIncrementsParams struct {
	AllowedMinutes []int64 `json:"allowedMinutes"`
}

// MultiplierCeilingParams caps the after-hours multiplier on hourly
// configurations.
type MultiplierCeilingParams struct {
	MaxAfterHoursMultiplier string `json:"maxAfterHoursMultiplier"`
}

// require_proration takes no params: fixed configurations must enable
// proration.

// ValidateRules checks that all rules have valid types and params.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		switch r.Type {
		case "rate_ceiling":
			var p RateCeilingParams
			if err := json.Unmarshal(r.Params, &p); err != nil {
				return fmt.Errorf("rule[%d] rate_ceiling: invalid params: %w", i, err)
			}
			if p.ConfigurationType != "" && !validConfigType(p.ConfigurationType) {
				return fmt.Errorf("rule[%d] rate_ceiling: unknown configuration type %q", i, p.ConfigurationType)
			}
			max, err := decimal.NewFromString(p.MaxRate)
			if err != nil {
				return fmt.Errorf("rule[%d] rate_ceiling: maxRate must be a decimal string", i)
			}
			if max.IsNegative() {
				return fmt.Errorf("rule[%d] rate_ceiling: maxRate must not be negative", i)
			}
		case "overage_rate_bounds":
			var p OverageRateBoundsParams
			if err := json.Unmarshal(r.Params, &p); err != nil {
				return fmt.Errorf("rule[%d] overage_rate_bounds: invalid params: %w", i, err)
			}
			if p.MinRate == "" && p.MaxRate == "" {
				return fmt.Errorf("rule[%d] overage_rate_bounds: at least one of minRate, maxRate is required", i)
			}
			var min, max decimal.Decimal
			if p.MinRate != "" {
				v, err := decimal.NewFromString(p.MinRate)
				if err != nil {
					return fmt.Errorf("rule[%d] overage_rate_bounds: minRate must be a decimal string", i)
				}
				min = v
			}
			if p.MaxRate != "" {
				v, err := decimal.NewFromString(p.MaxRate)
				if err != nil {
					return fmt.Errorf("rule[%d] overage_rate_bounds: maxRate must be a decimal string", i)
				}
				max = v
			}
			if p.MinRate != "" && p.MaxRate != "" && max.LessThan(min) {
				return fmt.Errorf("rule[%d] overage_rate_bounds: maxRate must not be below minRate", i)
			}
		case "rounding_increments":
			var p RoundingIncrementsParams
			if err := json.Unmarshal(r.Params, &p); err != nil {
				return fmt.Errorf("rule[%d] rounding_increments: invalid params: %w", i, err)
			}
			if len(p.AllowedMinutes) == 0 {
				return fmt.Errorf("rule[%d] rounding_increments: allowedMinutes must not be empty", i)
			}
			for _, m := range p.AllowedMinutes {
				if m <= 0 {
					return fmt.Errorf("rule[%d] rounding_increments: allowedMinutes entries must be positive", i)
				}
			}
		case "multiplier_ceiling":
			var p MultiplierCeilingParams
			if err := json.Unmarshal(r.Params, &p); err != nil {
				return fmt.Errorf("rule[%d] multiplier_ceiling: invalid params: %w", i, err)
			}
			max, err := decimal.NewFromString(p.MaxAfterHoursMultiplier)
			if err != nil {
				return fmt.Errorf("rule[%d] multiplier_ceiling: maxAfterHoursMultiplier must be a decimal string", i)
			}
			if max.LessThan(decimal.NewFromInt(1)) {
				return fmt.Errorf("rule[%d] multiplier_ceiling: maxAfterHoursMultiplier must be at least 1", i)
			}
		case "require_proration":
			// no params
		default:
			return fmt.Errorf("rule[%d]: unknown rule type %q", i, r.Type)
		}
	}
	return nil
}

func validConfigType(t string) bool {
	switch t {
	case "fixed", "hourly", "usage", "bucket":
		return true
	}
	return false
}
