package plan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/validation"
)

// ErrInvalid wraps field validation failures.
var ErrInvalid = errors.New("plan: plan is invalid")

// EventEmitter receives plan lifecycle notifications.
type EventEmitter interface {
	PlanChanged(ctx context.Context, action string, p *Plan)
}

// Service provides plan business logic on top of a Store.
type Service struct {
	store  Store
	events EventEmitter
}

// NewService creates a new plan service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// WithEvents enables realtime/webhook notifications.
func (s *Service) WithEvents(e EventEmitter) *Service {
	s.events = e
	return s
}

// Create validates and saves a new plan. New plans start as drafts
// unless a status is given.
func (s *Service) Create(ctx context.Context, p *Plan) (validation.Fields, error) {
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if errs := Validate(p); !errs.Valid() {
		return errs, ErrInvalid
	}

	p.ID = idgen.WithPrefix("plan_")
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.PlanChanged(ctx, "created", p)
	}
	return nil, nil
}

// Update validates and saves changes to an existing plan.
func (s *Service) Update(ctx context.Context, p *Plan) (validation.Fields, error) {
	if errs := Validate(p); !errs.Valid() {
		return errs, ErrInvalid
	}

	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	if s.events != nil {
		s.events.PlanChanged(ctx, "updated", p)
	}
	return nil, nil
}

// Get returns a plan by ID.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*Plan, error) {
	return s.store.Get(ctx, tenantID, id)
}

// List returns a page of the tenant's plans.
func (s *Service) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Plan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.List(ctx, tenantID, limit, cursor)
}

// Activate moves a draft plan to active.
func (s *Service) Activate(ctx context.Context, tenantID, id string) (*Plan, error) {
	return s.transition(ctx, tenantID, id, StatusActive)
}

// Archive retires a plan. Its configurations are untouched: archived
// plans keep pricing history readable.
func (s *Service) Archive(ctx context.Context, tenantID, id string) (*Plan, error) {
	return s.transition(ctx, tenantID, id, StatusArchived)
}

func (s *Service) transition(ctx context.Context, tenantID, id string, to Status) (*Plan, error) {
	p, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if p.Status == to {
		return p, nil
	}
	if p.Status == StatusArchived {
		return nil, fmt.Errorf("%w: archived plans cannot change status", ErrInvalid)
	}
	p.Status = to
	p.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, p); err != nil {
		return nil, err
	}
	if s.events != nil {
		action := "updated"
		switch to {
		case StatusActive:
			action = "activated"
		case StatusArchived:
			action = "archived"
		}
		s.events.PlanChanged(ctx, action, p)
	}
	return p, nil
}

// PlanExists reports whether the tenant owns a plan with this ID.
// Configuration upserts use it as a referential check.
func (s *Service) PlanExists(ctx context.Context, tenantID, id string) (bool, error) {
	return s.store.Exists(ctx, tenantID, id)
}

// ListActive returns the tenant's active plans. Stripe sync works off
// this list; drafts and archived plans are never exported.
func (s *Service) ListActive(ctx context.Context, tenantID string) ([]*Plan, error) {
	return s.store.ListByStatus(ctx, tenantID, StatusActive)
}

// LinkStripeProduct records the Stripe product backing a plan.
func (s *Service) LinkStripeProduct(ctx context.Context, tenantID, id, productID string) error {
	p, err := s.store.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	p.StripeProductID = productID
	p.UpdatedAt = time.Now()
	return s.store.Update(ctx, p)
}

// IsNotFound reports whether err is the store's not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
