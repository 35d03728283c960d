// Package plan manages billing plans: the named bundles of service
// pricing a tenant sells to its clients.
package plan

import (
	"errors"
	"time"

	"github.com/mbd888/ratecard/internal/validation"
)

// Errors
var (
	ErrNotFound  = errors.New("plan: not found")
	ErrNameTaken = errors.New("plan: name already taken for this tenant")
)

// Status represents a plan's lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ValidStatus reports whether s is a known plan status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusActive, StatusArchived:
		return true
	}
	return false
}

// BillingFrequency is how often the plan invoices.
type BillingFrequency string

const (
	Monthly   BillingFrequency = "monthly"
	Quarterly BillingFrequency = "quarterly"
	Annual    BillingFrequency = "annual"
)

// ValidFrequency reports whether f is a known billing frequency.
func ValidFrequency(f BillingFrequency) bool {
	switch f {
	case Monthly, Quarterly, Annual:
		return true
	}
	return false
}

// PeriodsPerYear returns how many billing periods the frequency
// produces in a year.
func (f BillingFrequency) PeriodsPerYear() int {
	switch f {
	case Quarterly:
		return 4
	case Annual:
		return 1
	default:
		return 12
	}
}

// Plan is a billing plan owned by a tenant.
type Plan struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenantId"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	BillingFrequency BillingFrequency `json:"billingFrequency"`
	Status           Status           `json:"status"`
	IsCustom         bool             `json:"isCustom"`
	StripeProductID  string           `json:"stripeProductId,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Validate checks the plan's fields.
func Validate(p *Plan) validation.Fields {
	errs := validation.Fields{}

	if p.Name == "" {
		errs.Set("name", "is required")
	} else if len(p.Name) > 200 {
		errs.Set("name", "must be at most 200 characters")
	}
	if !ValidFrequency(p.BillingFrequency) {
		errs.Set("billing_frequency", "must be monthly, quarterly, or annual")
	}
	if p.Status != "" && !ValidStatus(p.Status) {
		errs.Set("status", "must be draft, active, or archived")
	}
	return errs
}
