package planconfig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/validation"
)

// CatalogChecker verifies that a service exists and is billable.
type CatalogChecker interface {
	IsBillable(ctx context.Context, tenantID, serviceID string) (bool, error)
}

// PlanChecker verifies that a plan exists for the tenant.
type PlanChecker interface {
	PlanExists(ctx context.Context, tenantID, planID string) (bool, error)
}

// GuardrailEvaluator applies tenant pricing policies after intrinsic
// validation. Enforced violations come back as field-keyed messages;
// shadow violations are recorded by the evaluator and not returned.
type GuardrailEvaluator interface {
	EvaluateConfiguration(ctx context.Context, cfg *Configuration) (validation.Fields, error)
}

// EventEmitter receives configuration lifecycle notifications.
type EventEmitter interface {
	ConfigurationChanged(ctx context.Context, action string, cfg *Configuration)
}

// MetricsRecorder records validation outcomes.
type MetricsRecorder interface {
	ValidationOutcome(configType string, valid bool)
}

// Service provides configuration business logic on top of a Store.
type Service struct {
	store      Store
	catalog    CatalogChecker
	plans      PlanChecker
	guardrails GuardrailEvaluator
	events     EventEmitter
	metrics    MetricsRecorder
}

// NewService creates a new configuration service.
func NewService(store Store, catalog CatalogChecker, plans PlanChecker) *Service {
	return &Service{store: store, catalog: catalog, plans: plans}
}

// WithGuardrails enables tenant pricing policy checks on upsert.
func (s *Service) WithGuardrails(g GuardrailEvaluator) *Service {
	s.guardrails = g
	return s
}

// WithEvents enables realtime/webhook notifications.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// WithMetrics enables validation outcome instrumentation.
func (s *Service) WithMetrics(m MetricsRecorder) *Service {
	s.metrics = m
	return s
}

// validateFull runs intrinsic validation plus the catalog, plan, and
// guardrail checks, in that order. Bundle import runs the same pass
// over every configuration before writing anything.
func (s *Service) validateFull(ctx context.Context, cfg *Configuration) (validation.Fields, error) {
	errs := Validate(cfg)

	if errs.Valid() && s.catalog != nil {
		billable, err := s.catalog.IsBillable(ctx, cfg.TenantID, cfg.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("check service: %w", err)
		}
		if !billable {
			errs.Set("service_id", "service does not exist or is not billable")
		}
	}
	if errs.Valid() && s.plans != nil {
		exists, err := s.plans.PlanExists(ctx, cfg.TenantID, cfg.PlanID)
		if err != nil {
			return nil, fmt.Errorf("check plan: %w", err)
		}
		if !exists {
			errs.Set("plan_id", "plan does not exist")
		}
	}

	// Guardrails run only on intrinsically valid configurations so
	// policy messages never mask field errors.
	if errs.Valid() && s.guardrails != nil {
		policyErrs, err := s.guardrails.EvaluateConfiguration(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("evaluate guardrails: %w", err)
		}
		errs.Merge(policyErrs)
	}
	return errs, nil
}

// apply writes an already-validated configuration and emits the
// lifecycle event.
func (s *Service) apply(ctx context.Context, cfg *Configuration) error {
	created := false
	if cfg.ID == "" {
		cfg.ID = idgen.WithPrefix("cfg_")
		cfg.CreatedAt = time.Now()
		created = true
	}
	if err := s.store.Upsert(ctx, cfg); err != nil {
		return err
	}

	if s.events != nil {
		action := "updated"
		if created {
			action = "created"
		}
		s.events.ConfigurationChanged(ctx, action, cfg)
	}
	return nil
}

// Upsert validates a configuration and saves it. Invalid
// configurations are rejected with the field-error map wrapped in
// ErrInvalid; the caller surfaces the map to the user.
func (s *Service) Upsert(ctx context.Context, cfg *Configuration) (validation.Fields, error) {
	errs, err := s.validateFull(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ValidationOutcome(string(cfg.Type), errs.Valid())
	}
	if !errs.Valid() {
		return errs, ErrInvalid
	}
	if err := s.apply(ctx, cfg); err != nil {
		return nil, err
	}
	return nil, nil
}

// Get returns a configuration by ID.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*Configuration, error) {
	return s.store.Get(ctx, tenantID, id)
}

// GetByPlanService returns the configuration for a (plan, service) pair.
func (s *Service) GetByPlanService(ctx context.Context, tenantID, planID, serviceID string) (*Configuration, error) {
	return s.store.GetByPlanService(ctx, tenantID, planID, serviceID)
}

// ListByPlan returns a page of a plan's configurations.
func (s *Service) ListByPlan(ctx context.Context, tenantID, planID string, limit int, cursor string) ([]*Configuration, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByPlan(ctx, tenantID, planID, limit, cursor)
}

// Delete removes a configuration.
func (s *Service) Delete(ctx context.Context, tenantID, id string) error {
	cfg, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, tenantID, id); err != nil {
		return err
	}
	if s.events != nil {
		s.events.ConfigurationChanged(ctx, "deleted", cfg)
	}
	return nil
}

// ChangeType switches a saved configuration to a new type, discarding
// the previous type-specific parameters. The result is saved as-is;
// the caller edits and re-validates it afterwards.
func (s *Service) ChangeType(ctx context.Context, tenantID, id string, newType Type) (*Configuration, error) {
	if !ValidType(newType) {
		return nil, fmt.Errorf("%w: unknown configuration type %q", ErrInvalid, newType)
	}
	cfg, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if cfg.Type == newType {
		return cfg, nil
	}

	changed := ChangeType(cfg, newType)
	if err := s.store.Upsert(ctx, changed); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.ConfigurationChanged(ctx, "updated", changed)
	}
	return changed, nil
}

// IsNotFound reports whether err is the store's not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
