package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists pricing policies in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, pol *PricingPolicy) error {
	rulesJSON, err := json.Marshal(pol.Rules)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO pricing_policies (id, tenant_id, name, rules, priority, enabled, enforcement_mode, shadow_expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pol.ID, pol.TenantID, pol.Name, rulesJSON, pol.Priority, pol.Enabled,
		enforcementModeOrDefault(pol.EnforcementMode), nullTime(pol.ShadowExpiresAt),
		pol.CreatedAt, pol.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*PricingPolicy, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, rules, priority, enabled, enforcement_mode, shadow_expires_at, created_at, updated_at
		FROM pricing_policies WHERE id = $1`, id)
	return scanPolicy(row)
}

func (p *PostgresStore) List(ctx context.Context, tenantID string) ([]*PricingPolicy, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, rules, priority, enabled, enforcement_mode, shadow_expires_at, created_at, updated_at
		FROM pricing_policies WHERE tenant_id = $1
		ORDER BY priority ASC, created_at ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*PricingPolicy
	for rows.Next() {
		pol := &PricingPolicy{}
		var rulesJSON []byte
		var enfMode string
		var shadowExp sql.NullTime
		if err := rows.Scan(&pol.ID, &pol.TenantID, &pol.Name, &rulesJSON,
			&pol.Priority, &pol.Enabled, &enfMode, &shadowExp, &pol.CreatedAt, &pol.UpdatedAt); err != nil {
			return nil, err
		}
		if err := unmarshalRules(rulesJSON, &pol.Rules); err != nil {
			return nil, fmt.Errorf("corrupt rules for policy %s: %w", pol.ID, err)
		}
		pol.EnforcementMode = enfMode
		if shadowExp.Valid {
			pol.ShadowExpiresAt = shadowExp.Time
		}
		result = append(result, pol)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, pol *PricingPolicy) error {
	rulesJSON, err := json.Marshal(pol.Rules)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE pricing_policies
		SET name = $1, rules = $2, priority = $3, enabled = $4, enforcement_mode = $5, shadow_expires_at = $6, updated_at = $7
		WHERE id = $8 AND tenant_id = $9`,
		pol.Name, rulesJSON, pol.Priority, pol.Enabled,
		enforcementModeOrDefault(pol.EnforcementMode), nullTime(pol.ShadowExpiresAt),
		pol.UpdatedAt, pol.ID, pol.TenantID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM pricing_policies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// Migrate creates the pricing policy tables if they don't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pricing_policies (
			id                TEXT PRIMARY KEY,
			tenant_id         TEXT NOT NULL,
			name              TEXT NOT NULL,
			rules             JSONB NOT NULL DEFAULT '[]',
			priority          INTEGER NOT NULL DEFAULT 0,
			enabled           BOOLEAN NOT NULL DEFAULT true,
			enforcement_mode  TEXT NOT NULL DEFAULT 'enforce',
			shadow_expires_at TIMESTAMPTZ,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_pricing_policies_tenant ON pricing_policies(tenant_id);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_pricing_policies_tenant_name ON pricing_policies(tenant_id, name);

		CREATE TABLE IF NOT EXISTS policy_violations (
			id                 TEXT PRIMARY KEY,
			tenant_id          TEXT NOT NULL,
			policy_id          TEXT NOT NULL,
			policy_name        TEXT NOT NULL,
			rule_type          TEXT NOT NULL,
			configuration_id   TEXT NOT NULL DEFAULT '',
			plan_id            TEXT NOT NULL,
			service_id         TEXT NOT NULL,
			configuration_type TEXT NOT NULL,
			field              TEXT NOT NULL,
			message            TEXT NOT NULL,
			mode               TEXT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_policy_violations_tenant ON policy_violations(tenant_id, created_at DESC);
	`)
	return err
}

func scanPolicy(row *sql.Row) (*PricingPolicy, error) {
	pol := &PricingPolicy{}
	var rulesJSON []byte
	var enfMode string
	var shadowExp sql.NullTime
	err := row.Scan(&pol.ID, &pol.TenantID, &pol.Name, &rulesJSON,
		&pol.Priority, &pol.Enabled, &enfMode, &shadowExp, &pol.CreatedAt, &pol.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalRules(rulesJSON, &pol.Rules); err != nil {
		return nil, fmt.Errorf("corrupt rules for policy %s: %w", pol.ID, err)
	}
	pol.EnforcementMode = enfMode
	if shadowExp.Valid {
		pol.ShadowExpiresAt = shadowExp.Time
	}
	return pol, nil
}

// unmarshalRules decodes rules JSONB, returning an error on corruption
// instead of silently returning empty rules (which would fail-open).
func unmarshalRules(data []byte, rules *[]Rule) error {
	if len(data) == 0 {
		*rules = nil
		return nil
	}
	return json.Unmarshal(data, rules)
}

// enforcementModeOrDefault returns "enforce" for empty enforcement modes.
func enforcementModeOrDefault(mode string) string {
	if mode == "" {
		return "enforce"
	}
	return mode
}

// nullTime converts a zero time to sql.NullTime{Valid: false}.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)

// PostgresViolationLog persists guardrail violations in PostgreSQL.
type PostgresViolationLog struct {
	db *sql.DB
}

// NewPostgresViolationLog creates a new PostgreSQL-backed violation log.
func NewPostgresViolationLog(db *sql.DB) *PostgresViolationLog {
	return &PostgresViolationLog{db: db}
}

func (p *PostgresViolationLog) Record(ctx context.Context, v *Violation) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policy_violations (id, tenant_id, policy_id, policy_name, rule_type, configuration_id, plan_id, service_id, configuration_type, field, message, mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ID, v.TenantID, v.PolicyID, v.PolicyName, v.RuleType, v.ConfigurationID,
		v.PlanID, v.ServiceID, v.ConfigurationType, v.Field, v.Message, v.Mode, v.CreatedAt,
	)
	return err
}

func (p *PostgresViolationLog) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Violation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, tenant_id, policy_id, policy_name, rule_type, configuration_id, plan_id, service_id, configuration_type, field, message, mode, created_at
		FROM policy_violations WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Violation
	for rows.Next() {
		v := &Violation{}
		if err := rows.Scan(&v.ID, &v.TenantID, &v.PolicyID, &v.PolicyName, &v.RuleType,
			&v.ConfigurationID, &v.PlanID, &v.ServiceID, &v.ConfigurationType,
			&v.Field, &v.Message, &v.Mode, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

var _ ViolationLog = (*PostgresViolationLog)(nil)
