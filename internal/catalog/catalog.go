// Package catalog manages the tenant's service catalog: the billable
// services that plan configurations reference.
package catalog

import (
	"errors"
	"time"

	"github.com/mbd888/ratecard/internal/validation"
)

// Errors
var (
	ErrNotFound  = errors.New("catalog: service not found")
	ErrNameTaken = errors.New("catalog: service name already taken for this tenant")
	ErrInvalid   = errors.New("catalog: service is invalid")
)

// Service is a billable offering in the tenant's catalog. DefaultUnit
// seeds the unit of measure when a usage configuration is created for
// it; Billable false excludes it from configuration upserts.
type Service struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	DefaultUnit string    `json:"defaultUnit,omitempty"`
	Billable    bool      `json:"billable"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Validate checks the service's fields.
func Validate(s *Service) validation.Fields {
	errs := validation.Fields{}
	if s.Name == "" {
		errs.Set("name", "is required")
	} else if len(s.Name) > 200 {
		errs.Set("name", "must be at most 200 characters")
	}
	return errs
}
