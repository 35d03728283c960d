package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/ratecard/internal/pagination"
)

// PostgresStore persists catalog services in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the catalog_services table (used in dev/test; prod uses migration files).
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS catalog_services (
			id           VARCHAR(40) PRIMARY KEY,
			tenant_id    VARCHAR(40) NOT NULL,
			name         VARCHAR(200) NOT NULL,
			category     VARCHAR(100) NOT NULL DEFAULT '',
			default_unit VARCHAR(100) NOT NULL DEFAULT '',
			billable     BOOLEAN NOT NULL DEFAULT TRUE,
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE (tenant_id, name)
		);
		CREATE INDEX IF NOT EXISTS idx_catalog_services_tenant ON catalog_services(tenant_id);
	`)
	return err
}

const serviceColumns = `
	SELECT id, tenant_id, name, category, default_unit, billable, created_at, updated_at
`

func (p *PostgresStore) Create(ctx context.Context, s *Service) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO catalog_services (id, tenant_id, name, category, default_unit,
			billable, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.TenantID, s.Name, s.Category, s.DefaultUnit, s.Billable,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, id string) (*Service, error) {
	return scanService(p.db.QueryRowContext(ctx, serviceColumns+`
		FROM catalog_services WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (p *PostgresStore) Update(ctx context.Context, s *Service) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE catalog_services SET name = $1, category = $2, default_unit = $3,
			billable = $4, updated_at = $5
		WHERE tenant_id = $6 AND id = $7`,
		s.Name, s.Category, s.DefaultUnit, s.Billable, s.UpdatedAt, s.TenantID, s.ID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return fmt.Errorf("update service: %w", err)
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

func (p *PostgresStore) Delete(ctx context.Context, tenantID, id string) error {
	result, err := p.db.ExecContext(ctx, `
		DELETE FROM catalog_services WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete service: %w", err)
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

func (p *PostgresStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Service, error) {
	cur, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}

	query := serviceColumns + ` FROM catalog_services WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if cur != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cur.CreatedAt, cur.ID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanService(row scannable) (*Service, error) {
	s := &Service{}
	var createdAt, updatedAt sql.NullTime
	err := row.Scan(&s.ID, &s.TenantID, &s.Name, &s.Category, &s.DefaultUnit,
		&s.Billable, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if createdAt.Valid {
		s.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		s.UpdatedAt = updatedAt.Time
	}
	return s, nil
}

var _ Store = (*PostgresStore)(nil)
