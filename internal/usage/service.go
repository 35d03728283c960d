package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/buckets"
	"github.com/mbd888/ratecard/internal/hourly"
	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/planconfig"
	"github.com/mbd888/ratecard/internal/proration"
	"github.com/mbd888/ratecard/internal/syncutil"
	"github.com/mbd888/ratecard/internal/tiers"
	"github.com/mbd888/ratecard/internal/validation"
)

// ConfigProvider resolves the configuration for a (plan, service) pair.
type ConfigProvider interface {
	GetByPlanService(ctx context.Context, tenantID, planID, serviceID string) (*planconfig.Configuration, error)
}

// RolloverProvider returns the units carried into a billing period
// from the previous one.
type RolloverProvider interface {
	Balance(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error)
}

// EventEmitter receives usage notifications.
type EventEmitter interface {
	UsageRecorded(ctx context.Context, e *Event)
}

// Service records usage and previews charges.
type Service struct {
	store    Store
	configs  ConfigProvider
	rollover RolloverProvider
	events   EventEmitter
	writeMu  *syncutil.ContextShardedMutex
}

// NewService creates a new usage service.
func NewService(store Store, configs ConfigProvider) *Service {
	return &Service{
		store:   store,
		configs: configs,
		writeMu: syncutil.NewContextShardedMutex(),
	}
}

// WithRollover enables rollover balances in bucket previews.
func (s *Service) WithRollover(r RolloverProvider) *Service {
	s.rollover = r
	return s
}

// WithEvents enables realtime/webhook notifications.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Record validates and appends a usage event. Appends for the same
// (plan, service) pairing are serialized so period sums read by
// concurrent previews stay consistent.
func (s *Service) Record(ctx context.Context, e *Event) (validation.Fields, error) {
	if errs := ValidateEvent(e); !errs.Valid() {
		return errs, ErrInvalid
	}

	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if e.PeriodStart.IsZero() {
		e.PeriodStart = PeriodStartFor(e.RecordedAt)
	}
	e.ID = idgen.WithPrefix("use_")

	unlock, err := s.writeMu.LockContext(ctx, e.TenantID+"|"+e.PlanID+"|"+e.ServiceID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := s.store.Append(ctx, e); err != nil {
		return nil, err
	}
	EventsRecorded.Inc()

	if s.events != nil {
		s.events.UsageRecorded(ctx, e)
	}
	return nil, nil
}

// ConsumedUnits returns the period's recorded units for a pairing.
func (s *Service) ConsumedUnits(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error) {
	return s.store.SumUnits(ctx, tenantID, planID, serviceID, periodStart)
}

// ListSince returns a tenant's recent events.
func (s *Service) ListSince(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Event, error) {
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	return s.store.ListSince(ctx, tenantID, since, limit)
}

// PreviewRequest names the pairing and period to preview. ServiceStart
// and ServiceEnd bound a fixed service's active window for proration;
// WorkEntries carry the time entries an hourly preview prices.
type PreviewRequest struct {
	PlanID      string      `json:"planId"`
	ServiceID   string      `json:"serviceId"`
	PeriodStart time.Time   `json:"periodStart"`
	PeriodEnd   time.Time   `json:"periodEnd"`
	ServiceStart time.Time  `json:"serviceStart,omitempty"`
	ServiceEnd  *time.Time  `json:"serviceEnd,omitempty"`
	WorkEntries []WorkEntry `json:"workEntries,omitempty"`
}

// Preview resolves the pairing's configuration and computes the charge
// line the current period state would produce. Nothing is written.
func (s *Service) Preview(ctx context.Context, tenantID string, req PreviewRequest) (*ChargePreview, error) {
	cfg, err := s.configs.GetByPlanService(ctx, tenantID, req.PlanID, req.ServiceID)
	if err != nil {
		if planconfig.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	done := observePreview(string(cfg.Type))
	defer done()

	if req.PeriodStart.IsZero() {
		req.PeriodStart = PeriodStartFor(time.Now())
	}
	if req.PeriodEnd.IsZero() {
		req.PeriodEnd = req.PeriodStart.AddDate(0, 1, 0)
	}

	preview := &ChargePreview{
		ConfigurationID: cfg.ID,
		Type:            cfg.Type,
		PeriodStart:     req.PeriodStart,
	}

	switch cfg.Type {
	case planconfig.TypeUsage:
		err = s.previewUsage(ctx, tenantID, cfg, req, preview)
	case planconfig.TypeBucket:
		err = s.previewBucket(ctx, tenantID, cfg, req, preview)
	case planconfig.TypeHourly:
		err = s.previewHourly(cfg, req, preview)
	case planconfig.TypeFixed:
		err = s.previewFixed(cfg, req, preview)
	default:
		err = fmt.Errorf("usage: unknown configuration type %q", cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return preview, nil
}

func (s *Service) previewUsage(ctx context.Context, tenantID string, cfg *planconfig.Configuration, req PreviewRequest, out *ChargePreview) error {
	consumed, err := s.store.SumUnits(ctx, tenantID, req.PlanID, req.ServiceID, req.PeriodStart)
	if err != nil {
		return err
	}
	out.UnitsConsumed = consumed

	billed := consumed
	if billed < cfg.MinimumUsage {
		billed = cfg.MinimumUsage
	}
	out.BilledUnits = billed

	if cfg.EnableTieredPricing {
		rate, err := tiers.RateFor(cfg.Tiers, billed)
		if err != nil {
			return fmt.Errorf("usage: tier lookup for %d units: %w", billed, err)
		}
		out.Rate = rate
		out.Amount = rate.Mul(decimal.NewFromInt(billed))
		return nil
	}

	if cfg.CustomRate != nil {
		out.Rate = *cfg.CustomRate
	}
	out.Amount = out.Rate.Mul(decimal.NewFromInt(billed))
	return nil
}

func (s *Service) previewBucket(ctx context.Context, tenantID string, cfg *planconfig.Configuration, req PreviewRequest, out *ChargePreview) error {
	consumed, err := s.store.SumUnits(ctx, tenantID, req.PlanID, req.ServiceID, req.PeriodStart)
	if err != nil {
		return err
	}
	out.UnitsConsumed = consumed

	var rollover int64
	if s.rollover != nil && cfg.Bucket.AllowRollover {
		rollover, err = s.rollover.Balance(ctx, tenantID, req.PlanID, req.ServiceID, req.PeriodStart)
		if err != nil {
			return err
		}
	}
	out.RolloverUnits = rollover
	out.EffectiveAllotment = cfg.Bucket.TotalUnits + rollover

	charge, err := buckets.Compute(*cfg.Bucket, consumed, rollover)
	if err != nil {
		return err
	}
	out.OverageUnits = charge.OverageUnits
	out.UnitsCarried = charge.UnitsCarried
	out.Rate = cfg.Bucket.OverageRate
	out.Amount = charge.OverageCharge
	return nil
}

func (s *Service) previewHourly(cfg *planconfig.Configuration, req PreviewRequest, out *ChargePreview) error {
	hoursSoFar := decimal.Zero
	total := decimal.Zero
	var billableMinutes int64

	for i, entry := range req.WorkEntries {
		res, err := hourly.Resolve(*cfg.Hourly, entry.UserType, entry.Minutes, entry.AfterHours, hoursSoFar)
		if err != nil {
			return fmt.Errorf("usage: work entry %d: %w", i+1, err)
		}
		billableMinutes += res.BillableMinutes
		total = total.Add(res.Amount)
		hoursSoFar = hoursSoFar.Add(decimal.NewFromInt(res.BillableMinutes).Div(decimal.NewFromInt(60)))
	}

	out.BillableMinutes = billableMinutes
	out.Amount = total
	if billableMinutes > 0 {
		out.Rate = total.Div(decimal.NewFromInt(billableMinutes).Div(decimal.NewFromInt(60)))
	} else {
		out.Rate = cfg.Hourly.BaseRate
	}
	return nil
}

func (s *Service) previewFixed(cfg *planconfig.Configuration, req PreviewRequest, out *ChargePreview) error {
	factor := decimal.NewFromInt(1)
	if cfg.Fixed.EnableProration {
		serviceStart := req.ServiceStart
		if serviceStart.IsZero() {
			serviceStart = req.PeriodStart
		}
		f, err := proration.Factor(*cfg.Fixed, req.PeriodStart, req.PeriodEnd, serviceStart, req.ServiceEnd)
		if err != nil {
			return err
		}
		factor = f
	}
	out.ProrationFactor = factor

	fee := decimal.Zero
	if cfg.CustomRate != nil {
		fee = *cfg.CustomRate
	}
	qty := cfg.Quantity
	if qty <= 0 {
		qty = 1
	}
	out.Rate = fee
	out.Amount = fee.Mul(decimal.NewFromInt(qty)).Mul(factor)
	return nil
}
