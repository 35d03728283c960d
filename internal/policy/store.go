package policy

import "context"

// Store persists pricing policies.
type Store interface {
	Create(ctx context.Context, p *PricingPolicy) error
	Get(ctx context.Context, id string) (*PricingPolicy, error)
	List(ctx context.Context, tenantID string) ([]*PricingPolicy, error)
	Update(ctx context.Context, p *PricingPolicy) error
	Delete(ctx context.Context, id string) error
}
