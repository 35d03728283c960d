package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists usage events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed usage store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the usage_events table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS usage_events (
			id           VARCHAR(40) PRIMARY KEY,
			tenant_id    VARCHAR(40) NOT NULL,
			plan_id      VARCHAR(40) NOT NULL,
			service_id   VARCHAR(40) NOT NULL,
			units        BIGINT NOT NULL,
			recorded_at  TIMESTAMPTZ NOT NULL,
			period_start TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_usage_events_key
			ON usage_events(tenant_id, plan_id, service_id, period_start);
		CREATE INDEX IF NOT EXISTS idx_usage_events_recorded
			ON usage_events(tenant_id, recorded_at);
	`)
	return err
}

func (p *PostgresStore) Append(ctx context.Context, e *Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, tenant_id, plan_id, service_id, units, recorded_at, period_start)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.TenantID, e.PlanID, e.ServiceID, e.Units, e.RecordedAt, e.PeriodStart,
	)
	if err != nil {
		return fmt.Errorf("append usage event: %w", err)
	}
	return nil
}

func (p *PostgresStore) SumUnits(ctx context.Context, tenantID, planID, serviceID string, periodStart time.Time) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(units), 0) FROM usage_events
		WHERE tenant_id = $1 AND plan_id = $2 AND service_id = $3 AND period_start = $4`,
		tenantID, planID, serviceID, periodStart,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum usage units: %w", err)
	}
	return sum, nil
}

func (p *PostgresStore) ListSince(ctx context.Context, tenantID string, since time.Time, limit int) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, plan_id, service_id, units, recorded_at, period_start
		FROM usage_events
		WHERE tenant_id = $1 AND recorded_at >= $2
		ORDER BY recorded_at DESC
		LIMIT $3`, tenantID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list usage events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.TenantID, &e.PlanID, &e.ServiceID, &e.Units,
			&e.RecordedAt, &e.PeriodStart); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
