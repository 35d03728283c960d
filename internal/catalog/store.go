package catalog

import "context"

// Store persists catalog services.
type Store interface {
	Create(ctx context.Context, s *Service) error
	Get(ctx context.Context, tenantID, id string) (*Service, error)
	Update(ctx context.Context, s *Service) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Service, error)
}
