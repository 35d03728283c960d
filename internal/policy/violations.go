package policy

import (
	"context"
	"time"
)

// Violation is one guardrail breach observed during configuration
// evaluation. Enforced breaches blocked the write; shadow breaches
// were allowed through and recorded for review.
type Violation struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	PolicyID          string    `json:"policyId"`
	PolicyName        string    `json:"policyName"`
	RuleType          string    `json:"ruleType"`
	ConfigurationID   string    `json:"configurationId,omitempty"`
	PlanID            string    `json:"planId"`
	ServiceID         string    `json:"serviceId"`
	ConfigurationType string    `json:"configurationType"`
	Field             string    `json:"field"`
	Message           string    `json:"message"`
	Mode              string    `json:"mode"` // "enforce" or "shadow"
	CreatedAt         time.Time `json:"createdAt"`
}

// ViolationLog records guardrail breaches for audit.
type ViolationLog interface {
	Record(ctx context.Context, v *Violation) error
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Violation, error)
}
