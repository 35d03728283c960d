package plan

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/ratecard/internal/pagination"
)

// PostgresStore persists plans in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed plan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the billing_plans table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS billing_plans (
			id                VARCHAR(40) PRIMARY KEY,
			tenant_id         VARCHAR(40) NOT NULL,
			name              VARCHAR(200) NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			billing_frequency VARCHAR(20) NOT NULL DEFAULT 'monthly',
			status            VARCHAR(20) NOT NULL DEFAULT 'draft',
			is_custom         BOOLEAN NOT NULL DEFAULT FALSE,
			stripe_product_id VARCHAR(100),
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (tenant_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_billing_plans_tenant ON billing_plans(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_billing_plans_tenant_status ON billing_plans(tenant_id, status);
	`)
	return err
}

const planColumns = `
	SELECT id, tenant_id, name, description, billing_frequency, status,
		is_custom, stripe_product_id, created_at, updated_at
`

func (p *PostgresStore) Create(ctx context.Context, pl *Plan) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO billing_plans (id, tenant_id, name, description, billing_frequency,
			status, is_custom, stripe_product_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pl.ID, pl.TenantID, pl.Name, pl.Description, string(pl.BillingFrequency),
		string(pl.Status), pl.IsCustom, nullString(pl.StripeProductID), pl.CreatedAt, pl.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Plan, error) {
	return scanPlan(p.db.QueryRowContext(ctx, planColumns+`
		FROM billing_plans WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (p *PostgresStore) Update(ctx context.Context, pl *Plan) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE billing_plans SET name = $1, description = $2, billing_frequency = $3,
			status = $4, is_custom = $5, stripe_product_id = $6, updated_at = $7
		WHERE tenant_id = $8 AND id = $9`,
		pl.Name, pl.Description, string(pl.BillingFrequency), string(pl.Status),
		pl.IsCustom, nullString(pl.StripeProductID), pl.UpdatedAt, pl.TenantID, pl.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("update plan: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Plan, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	query := planColumns + ` FROM billing_plans WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if cur != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPlans(rows)
}

func (p *PostgresStore) ListByStatus(ctx context.Context, tenantID string, status Status) ([]*Plan, error) {
	rows, err := p.db.QueryContext(ctx, planColumns+`
		FROM billing_plans WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at DESC`, tenantID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list plans by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPlans(rows)
}

func (p *PostgresStore) Exists(ctx context.Context, tenantID, id string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM billing_plans WHERE tenant_id = $1 AND id = $2)`,
		tenantID, id).Scan(&exists)
	return exists, err
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row scannable) (*Plan, error) {
	pl := &Plan{}
	var (
		frequency, status string
		stripeProductID   sql.NullString
		createdAt         sql.NullTime
		updatedAt         sql.NullTime
	)
	err := row.Scan(&pl.ID, &pl.TenantID, &pl.Name, &pl.Description, &frequency,
		&status, &pl.IsCustom, &stripeProductID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	pl.BillingFrequency = BillingFrequency(frequency)
	pl.Status = Status(status)
	if stripeProductID.Valid {
		pl.StripeProductID = stripeProductID.String
	}
	if createdAt.Valid {
		pl.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		pl.UpdatedAt = updatedAt.Time
	}
	return pl, nil
}

func scanPlans(rows *sql.Rows) ([]*Plan, error) {
	var result []*Plan
	for rows.Next() {
		pl, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pl)
	}
	return result, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
