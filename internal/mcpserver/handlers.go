package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mbd888/ratecard/pkg/ratecard"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *ratecard.Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *ratecard.Client) *Handlers {
	return &Handlers{client: client}
}

// HandleValidateConfiguration validates a pricing configuration without saving it.
func (h *Handlers) HandleValidateConfiguration(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["configuration"].(map[string]any)
	if !ok {
		return mcp.NewToolResultError("configuration is required and must be an object"), nil
	}

	cfg, err := decodeConfiguration(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid configuration object: %v", err)), nil
	}

	result, err := h.client.ValidateConfiguration(ctx, cfg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Validation request failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatValidation(result)), nil
}

// HandlePreviewCharge computes the charge for a (plan, service) pairing.
func (h *Handlers) HandlePreviewCharge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := req.GetString("plan_id", "")
	if planID == "" {
		return mcp.NewToolResultError("plan_id is required"), nil
	}
	serviceID := req.GetString("service_id", "")
	if serviceID == "" {
		return mcp.NewToolResultError("service_id is required"), nil
	}

	now := time.Now().UTC()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	if s := req.GetString("period_start", ""); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid period_start: %v", err)), nil
		}
		periodStart = t
	}
	if s := req.GetString("period_end", ""); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid period_end: %v", err)), nil
		}
		periodEnd = t
	}

	preview := &ratecard.PreviewRequest{
		PlanID:       planID,
		ServiceID:    serviceID,
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		ServiceStart: periodStart,
		WorkEntries:  parseWorkEntries(req.GetArguments()["work"]),
	}

	result, err := h.client.PreviewCharge(ctx, preview)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Preview failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatPreview(result)), nil
}

// HandleListPlans lists the tenant's billing plans.
func (h *Handlers) HandleListPlans(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)

	plans, err := h.client.ListPlans(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list plans: %v", err)), nil
	}

	return mcp.NewToolResultText(formatPlanList(plans)), nil
}

// HandleGetPlanPricing returns a plan with every configuration attached to it.
func (h *Handlers) HandleGetPlanPricing(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := req.GetString("plan_id", "")
	if planID == "" {
		return mcp.NewToolResultError("plan_id is required"), nil
	}

	plan, err := h.client.GetPlan(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get plan: %v", err)), nil
	}

	configs, err := h.client.ListConfigurations(ctx, planID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list configurations: %v", err)), nil
	}

	return mcp.NewToolResultText(formatPlanPricing(plan, configs)), nil
}

// HandleListServices lists the tenant's service catalog.
func (h *Handlers) HandleListServices(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 50)

	services, err := h.client.ListServices(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list services: %v", err)), nil
	}

	return mcp.NewToolResultText(formatServiceList(services, limit)), nil
}

// HandleRecordUsage records consumed units against a pairing.
func (h *Handlers) HandleRecordUsage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	planID := req.GetString("plan_id", "")
	if planID == "" {
		return mcp.NewToolResultError("plan_id is required"), nil
	}
	serviceID := req.GetString("service_id", "")
	if serviceID == "" {
		return mcp.NewToolResultError("service_id is required"), nil
	}
	units := req.GetInt("units", 0)
	if units <= 0 {
		return mcp.NewToolResultError("units must be a positive integer"), nil
	}

	event, err := h.client.RecordUsage(ctx, &ratecard.UsageEvent{
		PlanID:    planID,
		ServiceID: serviceID,
		Units:     int64(units),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to record usage: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString("Usage recorded.\n")
	sb.WriteString(fmt.Sprintf("Event: %s\n", event.ID))
	sb.WriteString(fmt.Sprintf("Plan: %s | Service: %s | Units: %d\n", event.PlanID, event.ServiceID, event.Units))
	if !event.PeriodStart.IsZero() {
		sb.WriteString(fmt.Sprintf("Billing period starting %s\n", event.PeriodStart.Format("2006-01-02")))
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// --- Formatting helpers ---

func decodeConfiguration(raw map[string]any) (*ratecard.Configuration, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg ratecard.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseWorkEntries(raw any) []ratecard.WorkEntry {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	items, ok := m["entries"].([]any)
	if !ok {
		return nil
	}
	var entries []ratecard.WorkEntry
	for _, item := range items {
		em, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := ratecard.WorkEntry{
			UserType: getString(em, "userType", "user_type"),
		}
		if minutes, ok := em["minutes"].(float64); ok {
			entry.Minutes = int64(minutes)
		}
		if ah, ok := em["afterHours"].(bool); ok {
			entry.AfterHours = ah
		}
		entries = append(entries, entry)
	}
	return entries
}

func formatValidation(result *ratecard.ValidationResult) string {
	if result.Valid {
		return "Configuration is valid."
	}

	fields := make([]string, 0, len(result.Fields))
	for f := range result.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration is INVALID (%d problem(s)):\n\n", len(fields)))
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", f, result.Fields[f]))
	}
	return sb.String()
}

func formatPreview(p *ratecard.ChargePreview) string {
	var sb strings.Builder
	sb.WriteString("Charge Preview\n")
	sb.WriteString(fmt.Sprintf("Configuration: %s (%s)\n", p.ConfigurationID, p.Type))
	sb.WriteString(fmt.Sprintf("Period starting: %s\n", p.PeriodStart.Format("2006-01-02")))
	sb.WriteString(fmt.Sprintf("Amount: %s\n", p.Amount))
	if p.Rate != "" {
		sb.WriteString(fmt.Sprintf("Rate: %s\n", p.Rate))
	}
	if p.UnitsConsumed > 0 {
		sb.WriteString(fmt.Sprintf("Units consumed: %d\n", p.UnitsConsumed))
	}
	if p.BilledUnits > 0 {
		sb.WriteString(fmt.Sprintf("Billed units: %d\n", p.BilledUnits))
	}
	if p.OverageUnits > 0 {
		sb.WriteString(fmt.Sprintf("Overage units: %d\n", p.OverageUnits))
	}
	if p.UnitsCarried > 0 {
		sb.WriteString(fmt.Sprintf("Units carried in from prior period: %d\n", p.UnitsCarried))
	}
	if p.RolloverUnits > 0 {
		sb.WriteString(fmt.Sprintf("Units rolling over to next period: %d\n", p.RolloverUnits))
	}
	return sb.String()
}

func formatPlanList(plans []*ratecard.Plan) string {
	if len(plans) == 0 {
		return "No plans found."
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d plan(s):\n\n", len(plans)))
	for i, p := range plans {
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, p.Name, p.ID))
		sb.WriteString(fmt.Sprintf("   Status: %s | Billing: %s", p.Status, p.BillingFrequency))
		if p.IsCustom {
			sb.WriteString(" | Custom")
		}
		sb.WriteString("\n")
		if p.Description != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", p.Description))
		}
	}
	return sb.String()
}

func formatPlanPricing(plan *ratecard.Plan, configs []*ratecard.Configuration) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Plan: %s (%s)\n", plan.Name, plan.ID))
	sb.WriteString(fmt.Sprintf("Status: %s | Billing: %s\n\n", plan.Status, plan.BillingFrequency))

	if len(configs) == 0 {
		sb.WriteString("No service configurations attached.\n")
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("%d configured service(s):\n\n", len(configs)))
	for i, cfg := range configs {
		sb.WriteString(fmt.Sprintf("%d. Service %s: %s pricing (%s)\n", i+1, cfg.ServiceID, cfg.Type, cfg.ID))
		writeConfigurationDetail(&sb, cfg)
	}
	return sb.String()
}

func writeConfigurationDetail(sb *strings.Builder, cfg *ratecard.Configuration) {
	switch cfg.Type {
	case "fixed":
		sb.WriteString(fmt.Sprintf("   Rate: %s", cfg.CustomRate))
		if cfg.Quantity > 1 {
			sb.WriteString(fmt.Sprintf(" x %d", cfg.Quantity))
		}
		if cfg.Fixed != nil && cfg.Fixed.EnableProration {
			sb.WriteString(" | Prorated")
		}
		sb.WriteString("\n")
	case "usage":
		if cfg.EnableTieredPricing && len(cfg.Tiers) > 0 {
			sb.WriteString(fmt.Sprintf("   Tiered per %s:\n", cfg.UnitOfMeasure))
			for _, t := range cfg.Tiers {
				if t.To != nil {
					sb.WriteString(fmt.Sprintf("   - %d to %d: %s\n", t.From, *t.To, t.Rate))
				} else {
					sb.WriteString(fmt.Sprintf("   - %d and up: %s\n", t.From, t.Rate))
				}
			}
		} else {
			sb.WriteString(fmt.Sprintf("   Rate: %s per %s\n", cfg.CustomRate, cfg.UnitOfMeasure))
		}
		if cfg.MinimumUsage > 0 {
			sb.WriteString(fmt.Sprintf("   Minimum billable units: %d\n", cfg.MinimumUsage))
		}
	case "hourly":
		if cfg.Hourly != nil {
			sb.WriteString(fmt.Sprintf("   Base rate: %s/hour\n", cfg.Hourly.BaseRate))
			for _, r := range cfg.Hourly.UserTypeRates {
				sb.WriteString(fmt.Sprintf("   - %s: %s/hour\n", r.UserType, r.Rate))
			}
			if cfg.Hourly.EnableOvertime {
				sb.WriteString(fmt.Sprintf("   Overtime: %s/hour past %dh\n", cfg.Hourly.OvertimeRate, cfg.Hourly.OvertimeThresholdHours))
			}
			if cfg.Hourly.EnableAfterHours {
				sb.WriteString(fmt.Sprintf("   After hours multiplier: %sx\n", cfg.Hourly.AfterHoursMultiplier))
			}
		}
	case "bucket":
		if cfg.Bucket != nil {
			sb.WriteString(fmt.Sprintf("   Bucket: %d %s for %s", cfg.Bucket.TotalUnits, cfg.UnitOfMeasure, cfg.CustomRate))
			sb.WriteString(fmt.Sprintf(" | Overage: %s/unit", cfg.Bucket.OverageRate))
			if cfg.Bucket.AllowRollover {
				sb.WriteString(" | Rollover")
			}
			sb.WriteString("\n")
		}
	}
}

func formatServiceList(services []*ratecard.Service, limit int) string {
	if len(services) == 0 {
		return "No services found."
	}
	if limit > 0 && len(services) > limit {
		services = services[:limit]
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d service(s):\n\n", len(services)))
	for i, s := range services {
		sb.WriteString(fmt.Sprintf("%d. %s (%s)\n", i+1, s.Name, s.ID))
		sb.WriteString("   ")
		if s.Category != "" {
			sb.WriteString(fmt.Sprintf("Category: %s | ", s.Category))
		}
		if s.DefaultUnit != "" {
			sb.WriteString(fmt.Sprintf("Unit: %s | ", s.DefaultUnit))
		}
		if s.Billable {
			sb.WriteString("Billable\n")
		} else {
			sb.WriteString("Non-billable\n")
		}
	}
	return sb.String()
}

// getString returns the first non-empty string among the given keys.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
