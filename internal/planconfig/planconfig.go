// Package planconfig manages plan-service billing configurations.
//
// A configuration binds one billable service to one billing plan and
// declares how consumption of that service is priced: a fixed fee, an
// hourly rate, tiered usage, or a prepaid bucket. Exactly one
// type-specific sub-configuration is populated, matching the declared
// type. Validation dispatches to the type's rules and returns a single
// field-keyed error map.
package planconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/buckets"
	"github.com/mbd888/ratecard/internal/hourly"
	"github.com/mbd888/ratecard/internal/proration"
	"github.com/mbd888/ratecard/internal/tiers"
	"github.com/mbd888/ratecard/internal/validation"
)

// Errors
var (
	ErrNotFound = errors.New("planconfig: configuration not found")
	ErrExists   = errors.New("planconfig: configuration already exists for this plan and service")
	ErrInvalid  = errors.New("planconfig: configuration is invalid")
)

// Type is the configuration type: it selects which rate-computation
// rules apply to the plan-service pairing.
type Type string

const (
	TypeFixed  Type = "fixed"
	TypeHourly Type = "hourly"
	TypeUsage  Type = "usage"
	TypeBucket Type = "bucket"
)

// ValidType reports whether t is a known configuration type.
func ValidType(t Type) bool {
	switch t {
	case TypeFixed, TypeHourly, TypeUsage, TypeBucket:
		return true
	}
	return false
}

// Configuration is the umbrella record binding a service to a plan.
// Exactly one of Fixed, Hourly, Bucket is populated (usage
// configurations carry their parameters inline: unit, minimum, tiers).
type Configuration struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	PlanID    string `json:"planId"`
	ServiceID string `json:"serviceId"`

	Type       Type             `json:"configurationType"`
	Quantity   int64            `json:"quantity"`
	CustomRate *decimal.Decimal `json:"customRate,omitempty"`

	// Usage-type parameters.
	UnitOfMeasure       string    `json:"unitOfMeasure,omitempty"`
	MinimumUsage        int64     `json:"minimumUsage,omitempty"`
	EnableTieredPricing bool      `json:"enableTieredPricing,omitempty"`
	Tiers               tiers.Set `json:"tiers,omitempty"`

	Fixed  *proration.Config `json:"fixedConfig,omitempty"`
	Hourly *hourly.Config    `json:"hourlyConfig,omitempty"`
	Bucket *buckets.Config   `json:"bucketConfig,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the configuration: aggregate rules first, then the
// declared type's rules. The result maps field names to the first
// violated rule's message; an empty map means the configuration is
// valid.
func Validate(cfg *Configuration) validation.Fields {
	errs := validation.Fields{}

	if !ValidType(cfg.Type) {
		errs.Set("configuration_type", fmt.Sprintf("unknown configuration type %q", cfg.Type))
		return errs
	}
	if cfg.Quantity < 0 {
		errs.Set("quantity", "must not be negative")
	}
	if cfg.CustomRate != nil && cfg.CustomRate.IsNegative() {
		errs.Set("custom_rate", "must not be negative")
	}
	if msg := subConfigMismatch(cfg); msg != "" {
		errs.Set("configuration", msg)
		return errs
	}

	switch cfg.Type {
	case TypeFixed:
		errs.Merge(proration.Validate(*cfg.Fixed))
	case TypeHourly:
		errs.Merge(hourly.Validate(*cfg.Hourly))
	case TypeUsage:
		if cfg.UnitOfMeasure == "" {
			errs.Set("unit_of_measure", "is required")
		}
		if cfg.MinimumUsage < 0 {
			errs.Set("minimum_usage", "must not be negative")
		}
		errs.Merge(tiers.Validate(cfg.Tiers, cfg.EnableTieredPricing))
	case TypeBucket:
		errs.Merge(buckets.Validate(*cfg.Bucket))
	}

	return errs
}

// subConfigMismatch reports a message when the populated sub-config
// does not match the declared type, or the declared type's sub-config
// is missing. Usage configurations carry no pointer sub-config.
func subConfigMismatch(cfg *Configuration) string {
	// Fixed order so the reported stray sub-config is stable.
	checks := []struct {
		typ       Type
		populated bool
	}{
		{TypeFixed, cfg.Fixed != nil},
		{TypeHourly, cfg.Hourly != nil},
		{TypeBucket, cfg.Bucket != nil},
	}
	for _, c := range checks {
		if c.typ == cfg.Type {
			if !c.populated {
				return fmt.Sprintf("%s configuration is required for type %q", c.typ, cfg.Type)
			}
			continue
		}
		if c.populated {
			return fmt.Sprintf("%s configuration does not match declared type %q", c.typ, cfg.Type)
		}
	}
	return ""
}

// IsValid reports whether the configuration passes Validate.
func IsValid(cfg *Configuration) bool {
	return Validate(cfg).Valid()
}

// ChangeType returns a copy of cfg declared as newType with every
// previous type-specific sub-configuration discarded. The caller is
// expected to have warned the user: the old parameters are gone.
func ChangeType(cfg *Configuration, newType Type) *Configuration {
	out := *cfg
	out.Type = newType
	out.Fixed = nil
	out.Hourly = nil
	out.Bucket = nil
	out.UnitOfMeasure = ""
	out.MinimumUsage = 0
	out.EnableTieredPricing = false
	out.Tiers = nil

	switch newType {
	case TypeFixed:
		out.Fixed = &proration.Config{Alignment: proration.AlignProrated}
	case TypeHourly:
		out.Hourly = &hourly.Config{}
	case TypeBucket:
		out.Bucket = &buckets.Config{}
	}
	return &out
}
