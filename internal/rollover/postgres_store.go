package rollover

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists rollover balances in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rollover store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the rollover_balances table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rollover_balances (
			tenant_id    VARCHAR(40) NOT NULL,
			plan_id      VARCHAR(40) NOT NULL,
			service_id   VARCHAR(40) NOT NULL,
			period_start TIMESTAMPTZ NOT NULL,
			units        BIGINT NOT NULL,
			closed_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, plan_id, service_id, period_start)
		);
	`)
	return err
}

func (p *PostgresStore) Set(ctx context.Context, b *Balance) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO rollover_balances (tenant_id, plan_id, service_id, period_start, units, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, plan_id, service_id, period_start) DO UPDATE SET
			units = EXCLUDED.units, closed_at = EXCLUDED.closed_at`,
		b.TenantID, b.PlanID, b.ServiceID, b.PeriodStart, b.Units, b.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("set rollover balance: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (*Balance, error) {
	b := &Balance{}
	err := p.db.QueryRowContext(ctx, `
		SELECT tenant_id, plan_id, service_id, period_start, units, closed_at
		FROM rollover_balances
		WHERE tenant_id = $1 AND plan_id = $2 AND service_id = $3 AND period_start = $4`,
		tenantID, planID, serviceID, periodStart,
	).Scan(&b.TenantID, &b.PlanID, &b.ServiceID, &b.PeriodStart, &b.Units, &b.ClosedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rollover balance: %w", err)
	}
	return b, nil
}

var _ Store = (*PostgresStore)(nil)
