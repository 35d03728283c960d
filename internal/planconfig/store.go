package planconfig

import "context"

// Store persists plan-service configurations. A configuration is
// unique per (tenant, plan, service); Upsert replaces an existing row
// for the same key.
type Store interface {
	Upsert(ctx context.Context, cfg *Configuration) error
	Get(ctx context.Context, tenantID, id string) (*Configuration, error)
	GetByPlanService(ctx context.Context, tenantID, planID, serviceID string) (*Configuration, error)
	// ListByPlan returns up to limit configurations for a plan ordered
	// by creation time descending, starting after the cursor.
	ListByPlan(ctx context.Context, tenantID, planID string, limit int, cursor string) ([]*Configuration, error)
	Delete(ctx context.Context, tenantID, id string) error
	// CountByType returns configuration counts per type for a tenant.
	CountByType(ctx context.Context, tenantID string) (map[Type]int, error)
	// ListByType returns all of a tenant's configurations of one type.
	ListByType(ctx context.Context, tenantID string, typ Type) ([]*Configuration, error)
	// ListAllByType returns every tenant's configurations of one type.
	// Background workers use it to sweep bucket configurations.
	ListAllByType(ctx context.Context, typ Type) ([]*Configuration, error)
}
