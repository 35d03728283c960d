package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/ratecard/internal/idgen"
	"github.com/mbd888/ratecard/internal/validation"
)

// Manager provides catalog business logic on top of a Store.
type Manager struct {
	store Store
}

// NewManager creates a new catalog manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Create validates and saves a new service. Services default to
// billable unless explicitly created otherwise.
func (m *Manager) Create(ctx context.Context, s *Service) (validation.Fields, error) {
	if errs := Validate(s); !errs.Valid() {
		return errs, ErrInvalid
	}

	s.ID = idgen.WithPrefix("svc_")
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	return nil, nil
}

// Update validates and saves changes to an existing service.
func (m *Manager) Update(ctx context.Context, s *Service) (validation.Fields, error) {
	if errs := Validate(s); !errs.Valid() {
		return errs, ErrInvalid
	}
	s.UpdatedAt = time.Now()
	if err := m.store.Update(ctx, s); err != nil {
		return nil, err
	}
	return nil, nil
}

// Get returns a service by ID.
func (m *Manager) Get(ctx context.Context, tenantID, id string) (*Service, error) {
	return m.store.Get(ctx, tenantID, id)
}

// Delete removes a service from the catalog. Existing configurations
// referencing it keep working; only new upserts are refused.
func (m *Manager) Delete(ctx context.Context, tenantID, id string) error {
	return m.store.Delete(ctx, tenantID, id)
}

// List returns a page of the tenant's services.
func (m *Manager) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Service, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return m.store.List(ctx, tenantID, limit, cursor)
}

// IsBillable reports whether the service exists and is billable.
// Configuration upserts use it as a referential check.
func (m *Manager) IsBillable(ctx context.Context, tenantID, serviceID string) (bool, error) {
	s, err := m.store.Get(ctx, tenantID, serviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return s.Billable, nil
}

// DefaultUnit returns the service's default unit of measure, or ""
// when the service is unknown.
func (m *Manager) DefaultUnit(ctx context.Context, tenantID, serviceID string) (string, error) {
	s, err := m.store.Get(ctx, tenantID, serviceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return s.DefaultUnit, nil
}

// IsNotFound reports whether err is the store's not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
