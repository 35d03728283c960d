package planconfig

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/mbd888/ratecard/internal/buckets"
	"github.com/mbd888/ratecard/internal/hourly"
	"github.com/mbd888/ratecard/internal/pagination"
	"github.com/mbd888/ratecard/internal/proration"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed configuration store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the plan_service_configurations table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS plan_service_configurations (
			id                    VARCHAR(40) PRIMARY KEY,
			tenant_id             VARCHAR(40) NOT NULL,
			plan_id               VARCHAR(40) NOT NULL,
			service_id            VARCHAR(40) NOT NULL,
			configuration_type    VARCHAR(20) NOT NULL,
			quantity              BIGINT NOT NULL DEFAULT 0,
			custom_rate           NUMERIC(20,6),
			unit_of_measure       VARCHAR(100) NOT NULL DEFAULT '',
			minimum_usage         BIGINT NOT NULL DEFAULT 0,
			enable_tiered_pricing BOOLEAN NOT NULL DEFAULT FALSE,
			tiers                 JSONB,
			fixed_config          JSONB,
			hourly_config         JSONB,
			bucket_config         JSONB,
			created_at            TIMESTAMPTZ DEFAULT NOW(),
			updated_at            TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (tenant_id, plan_id, service_id)
		);
		CREATE INDEX IF NOT EXISTS idx_psc_tenant_plan ON plan_service_configurations(tenant_id, plan_id);
		CREATE INDEX IF NOT EXISTS idx_psc_tenant_type ON plan_service_configurations(tenant_id, configuration_type);
	`)
	return err
}

// Upsert inserts a configuration or replaces the existing row for the
// same (tenant, plan, service) key, preserving its ID and created_at.
func (p *PostgresStore) Upsert(ctx context.Context, cfg *Configuration) error {
	tiersJSON, fixedJSON, hourlyJSON, bucketJSON, err := marshalSubConfigs(cfg)
	if err != nil {
		return err
	}

	cfg.UpdatedAt = time.Now()

	row := p.db.QueryRowContext(ctx, `
		INSERT INTO plan_service_configurations (
			id, tenant_id, plan_id, service_id, configuration_type,
			quantity, custom_rate, unit_of_measure, minimum_usage,
			enable_tiered_pricing, tiers, fixed_config, hourly_config,
			bucket_config, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (tenant_id, plan_id, service_id) DO UPDATE SET
			configuration_type    = EXCLUDED.configuration_type,
			quantity              = EXCLUDED.quantity,
			custom_rate           = EXCLUDED.custom_rate,
			unit_of_measure       = EXCLUDED.unit_of_measure,
			minimum_usage         = EXCLUDED.minimum_usage,
			enable_tiered_pricing = EXCLUDED.enable_tiered_pricing,
			tiers                 = EXCLUDED.tiers,
			fixed_config          = EXCLUDED.fixed_config,
			hourly_config         = EXCLUDED.hourly_config,
			bucket_config         = EXCLUDED.bucket_config,
			updated_at            = EXCLUDED.updated_at
		RETURNING id, created_at
	`,
		cfg.ID, cfg.TenantID, cfg.PlanID, cfg.ServiceID, string(cfg.Type),
		cfg.Quantity, nullDecimal(cfg.CustomRate), cfg.UnitOfMeasure, cfg.MinimumUsage,
		cfg.EnableTieredPricing, tiersJSON, fixedJSON, hourlyJSON,
		bucketJSON, cfg.CreatedAt, cfg.UpdatedAt,
	)

	if err := row.Scan(&cfg.ID, &cfg.CreatedAt); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrExists
		}
		return fmt.Errorf("upsert configuration: %w", err)
	}
	return nil
}

// Get retrieves a configuration by ID, scoped to a tenant.
func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Configuration, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+`
		FROM plan_service_configurations WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	cfg, err := scanConfiguration(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration: %w", err)
	}
	return cfg, nil
}

// GetByPlanService retrieves the configuration for a (plan, service) pair.
func (p *PostgresStore) GetByPlanService(ctx context.Context, tenantID, planID, serviceID string) (*Configuration, error) {
	row := p.db.QueryRowContext(ctx, selectColumns+`
		FROM plan_service_configurations
		WHERE tenant_id = $1 AND plan_id = $2 AND service_id = $3
	`, tenantID, planID, serviceID)

	cfg, err := scanConfiguration(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration by plan/service: %w", err)
	}
	return cfg, nil
}

// ListByPlan returns a plan's configurations newest first, after the cursor.
func (p *PostgresStore) ListByPlan(ctx context.Context, tenantID, planID string, limit int, cursor string) ([]*Configuration, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	query := selectColumns + `
		FROM plan_service_configurations
		WHERE tenant_id = $1 AND plan_id = $2
	`
	args := []interface{}{tenantID, planID}
	if cur != nil {
		query += ` AND (created_at, id) < ($3, $4)`
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list configurations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanConfigurations(rows)
}

// Delete removes a configuration by ID, scoped to a tenant.
func (p *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM plan_service_configurations WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete configuration: %w", err)
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

// CountByType returns per-type configuration counts for a tenant.
func (p *PostgresStore) CountByType(ctx context.Context, tenantID string) (map[Type]int, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT configuration_type, COUNT(*)
		FROM plan_service_configurations WHERE tenant_id = $1
		GROUP BY configuration_type
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count configurations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[Type]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[Type(typ)] = n
	}
	return counts, rows.Err()
}

// ListByType returns all of a tenant's configurations of one type.
func (p *PostgresStore) ListByType(ctx context.Context, tenantID string, typ Type) ([]*Configuration, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		FROM plan_service_configurations
		WHERE tenant_id = $1 AND configuration_type = $2
		ORDER BY created_at DESC
	`, tenantID, string(typ))
	if err != nil {
		return nil, fmt.Errorf("list configurations by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanConfigurations(rows)
}

// ListAllByType returns every tenant's configurations of one type.
func (p *PostgresStore) ListAllByType(ctx context.Context, typ Type) ([]*Configuration, error) {
	rows, err := p.db.QueryContext(ctx, selectColumns+`
		FROM plan_service_configurations
		WHERE configuration_type = $1
		ORDER BY tenant_id, created_at DESC
	`, string(typ))
	if err != nil {
		return nil, fmt.Errorf("list all configurations by type: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanConfigurations(rows)
}

const selectColumns = `
	SELECT id, tenant_id, plan_id, service_id, configuration_type,
		quantity, custom_rate, unit_of_measure, minimum_usage,
		enable_tiered_pricing, tiers, fixed_config, hourly_config,
		bucket_config, created_at, updated_at
`

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanConfiguration(row scannable) (*Configuration, error) {
	var cfg Configuration
	var typ string
	var customRate sql.NullString
	var tiersJSON, fixedJSON, hourlyJSON, bucketJSON []byte
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.PlanID, &cfg.ServiceID, &typ,
		&cfg.Quantity, &customRate, &cfg.UnitOfMeasure, &cfg.MinimumUsage,
		&cfg.EnableTieredPricing, &tiersJSON, &fixedJSON, &hourlyJSON,
		&bucketJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	cfg.Type = Type(typ)
	if customRate.Valid {
		d, err := decimal.NewFromString(customRate.String)
		if err != nil {
			return nil, fmt.Errorf("parse custom_rate: %w", err)
		}
		cfg.CustomRate = &d
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &cfg.Tiers); err != nil {
			return nil, fmt.Errorf("parse tiers: %w", err)
		}
	}
	if len(fixedJSON) > 0 {
		cfg.Fixed = &proration.Config{}
		if err := json.Unmarshal(fixedJSON, cfg.Fixed); err != nil {
			return nil, fmt.Errorf("parse fixed_config: %w", err)
		}
	}
	if len(hourlyJSON) > 0 {
		cfg.Hourly = &hourly.Config{}
		if err := json.Unmarshal(hourlyJSON, cfg.Hourly); err != nil {
			return nil, fmt.Errorf("parse hourly_config: %w", err)
		}
	}
	if len(bucketJSON) > 0 {
		cfg.Bucket = &buckets.Config{}
		if err := json.Unmarshal(bucketJSON, cfg.Bucket); err != nil {
			return nil, fmt.Errorf("parse bucket_config: %w", err)
		}
	}
	if createdAt.Valid {
		cfg.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		cfg.UpdatedAt = updatedAt.Time
	}
	return &cfg, nil
}

func scanConfigurations(rows *sql.Rows) ([]*Configuration, error) {
	var result []*Configuration
	for rows.Next() {
		cfg, err := scanConfiguration(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func marshalSubConfigs(cfg *Configuration) (tiersJSON, fixedJSON, hourlyJSON, bucketJSON []byte, err error) {
	if len(cfg.Tiers) > 0 {
		if tiersJSON, err = json.Marshal(cfg.Tiers); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal tiers: %w", err)
		}
	}
	if cfg.Fixed != nil {
		if fixedJSON, err = json.Marshal(cfg.Fixed); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal fixed_config: %w", err)
		}
	}
	if cfg.Hourly != nil {
		if hourlyJSON, err = json.Marshal(cfg.Hourly); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal hourly_config: %w", err)
		}
	}
	if cfg.Bucket != nil {
		if bucketJSON, err = json.Marshal(cfg.Bucket); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("marshal bucket_config: %w", err)
		}
	}
	return tiersJSON, fixedJSON, hourlyJSON, bucketJSON, nil
}

// nullDecimal returns a sql-compatible value for an optional decimal.
func nullDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}
