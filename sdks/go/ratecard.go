// Package ratecard is a standalone Go SDK for the rate card API. It
// depends only on the standard library so integrators can vendor it
// without pulling in the service's stack. Monetary amounts travel as
// decimal strings.
package ratecard

import (
	"fmt"
	"time"
)

// Plan is a billing plan.
type Plan struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenantId,omitempty"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	BillingFrequency string    `json:"billingFrequency"`
	Status           string    `json:"status"`
	IsCustom         bool      `json:"isCustom,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
	UpdatedAt        time.Time `json:"updatedAt,omitempty"`
}

// Service is a catalog service.
type Service struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId,omitempty"`
	Name        string    `json:"name"`
	Category    string    `json:"category,omitempty"`
	DefaultUnit string    `json:"defaultUnit,omitempty"`
	Billable    bool      `json:"billable"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Tier is one band of a tiered usage rate.
type Tier struct {
	From int64  `json:"from"`
	To   *int64 `json:"to,omitempty"` // nil = unbounded
	Rate string `json:"rate"`
}

// FixedParams configure fixed recurring charges.
type FixedParams struct {
	EnableProration bool   `json:"enableProration"`
	Alignment       string `json:"alignment,omitempty"`
}

// UserTypeRate overrides the hourly base rate for one user type.
type UserTypeRate struct {
	UserType string `json:"userType"`
	Rate     string `json:"rate"`
}

// HourlyParams configure time-based billing.
type HourlyParams struct {
	BaseRate                string         `json:"baseRate"`
	UserTypeRates           []UserTypeRate `json:"userTypeRates,omitempty"`
	MinimumBillableMinutes  int64          `json:"minimumBillableMinutes,omitempty"`
	RoundUpToNearestMinutes int64          `json:"roundUpToNearestMinutes,omitempty"`
	EnableOvertime          bool           `json:"enableOvertime,omitempty"`
	OvertimeRate            string         `json:"overtimeRate,omitempty"`
	OvertimeThresholdHours  int64          `json:"overtimeThresholdHours,omitempty"`
	EnableAfterHours        bool           `json:"enableAfterHours,omitempty"`
	AfterHoursMultiplier    string         `json:"afterHoursMultiplier,omitempty"`
}

// BucketParams configure prepaid unit buckets.
type BucketParams struct {
	TotalUnits    int64  `json:"totalUnits"`
	OverageRate   string `json:"overageRate"`
	AllowRollover bool   `json:"allowRollover,omitempty"`
}

// Configuration prices one service on one plan.
type Configuration struct {
	ID        string `json:"id,omitempty"`
	TenantID  string `json:"tenantId,omitempty"`
	PlanID    string `json:"planId,omitempty"`
	ServiceID string `json:"serviceId,omitempty"`

	Type       string `json:"configurationType"`
	Quantity   int64  `json:"quantity,omitempty"`
	CustomRate string `json:"customRate,omitempty"`

	UnitOfMeasure       string `json:"unitOfMeasure,omitempty"`
	MinimumUsage        int64  `json:"minimumUsage,omitempty"`
	EnableTieredPricing bool   `json:"enableTieredPricing,omitempty"`
	Tiers               []Tier `json:"tiers,omitempty"`

	Fixed  *FixedParams  `json:"fixedConfig,omitempty"`
	Hourly *HourlyParams `json:"hourlyConfig,omitempty"`
	Bucket *BucketParams `json:"bucketConfig,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// ValidationResult is the outcome of a configuration validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Fields map[string]string `json:"fields"`
}

// UsageEvent is one recorded consumption event.
type UsageEvent struct {
	ID          string    `json:"id,omitempty"`
	TenantID    string    `json:"tenantId,omitempty"`
	PlanID      string    `json:"planId"`
	ServiceID   string    `json:"serviceId"`
	Units       int64     `json:"units"`
	RecordedAt  time.Time `json:"recordedAt,omitempty"`
	PeriodStart time.Time `json:"periodStart,omitempty"`
}

// WorkEntry is a time entry submitted for an hourly charge preview.
type WorkEntry struct {
	UserType   string `json:"userType,omitempty"`
	Minutes    int64  `json:"minutes"`
	AfterHours bool   `json:"afterHours,omitempty"`
}

// PreviewRequest asks for a charge preview of one (plan, service) pairing.
type PreviewRequest struct {
	PlanID       string      `json:"planId"`
	ServiceID    string      `json:"serviceId"`
	PeriodStart  time.Time   `json:"periodStart"`
	PeriodEnd    time.Time   `json:"periodEnd"`
	ServiceStart time.Time   `json:"serviceStart,omitempty"`
	ServiceEnd   *time.Time  `json:"serviceEnd,omitempty"`
	WorkEntries  []WorkEntry `json:"workEntries,omitempty"`
}

// ChargePreview is the computed charge line for one pairing.
type ChargePreview struct {
	ConfigurationID string    `json:"configurationId"`
	Type            string    `json:"configurationType"`
	PeriodStart     time.Time `json:"periodStart"`

	UnitsConsumed int64  `json:"unitsConsumed,omitempty"`
	Rate          string `json:"rate"`
	Amount        string `json:"amount"`

	BilledUnits int64 `json:"billedUnits,omitempty"`

	OverageUnits  int64 `json:"overageUnits,omitempty"`
	UnitsCarried  int64 `json:"unitsCarried,omitempty"`
	RolloverUnits int64 `json:"rolloverUnits,omitempty"`
}

// Error is an API error response.
type Error struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"error"`
	Message    string            `json:"message,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %d invalid fields", e.Code, len(e.Fields))
	}
	return e.Code
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.StatusCode == 404
}

// IsValidation reports whether err carries field-level validation errors.
func IsValidation(err error) bool {
	apiErr, ok := err.(*Error)
	return ok && len(apiErr.Fields) > 0
}
