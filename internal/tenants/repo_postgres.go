package tenants

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const selectTenant = `
SELECT id, name, phone_number, mode, persona, greeting, confidence_threshold,
       calendar_provider, max_concurrent_streams, active, created_at
FROM tenants
`

func (r *PostgresRepo) Get(ctx context.Context, id string) (Tenant, error) {
	return r.one(ctx, selectTenant+`WHERE id = $1 AND active`, id)
}

func (r *PostgresRepo) FindByNumber(ctx context.Context, e164 string) (Tenant, error) {
	return r.one(ctx, selectTenant+`WHERE phone_number = $1 AND active`, e164)
}

func (r *PostgresRepo) one(ctx context.Context, q string, arg string) (Tenant, error) {
	if arg == "" {
		return Tenant{}, ErrTenantNotFound
	}
	var t Tenant
	err := r.db.QueryRowContext(ctx, q, arg).Scan(
		&t.ID,
		&t.Name,
		&t.PhoneNumber,
		&t.Mode,
		&t.Persona,
		&t.Greeting,
		&t.ConfidenceThreshold,
		&t.CalendarProvider,
		&t.MaxConcurrentStreams,
		&t.Active,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tenant{}, ErrTenantNotFound
		}
		return Tenant{}, err
	}
	return t, nil
}

var (
	_ Repository = (*MemoryRepo)(nil)
	_ Repository = (*PostgresRepo)(nil)
)
