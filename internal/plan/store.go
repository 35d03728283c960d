package plan

import "context"

// Store persists billing plans.
type Store interface {
	Create(ctx context.Context, p *Plan) error
	Get(ctx context.Context, tenantID, id string) (*Plan, error)
	Update(ctx context.Context, p *Plan) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Plan, error)
	ListByStatus(ctx context.Context, tenantID string, status Status) ([]*Plan, error)
	Exists(ctx context.Context, tenantID, id string) (bool, error)
}
