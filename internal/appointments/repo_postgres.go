package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voiceai-production/pkg/utils"
)

// PostgresRepo enforces one appointment per call through the unique call_id.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const columns = `id, tenant_id, call_id, patient_name, patient_phone, service_type, requested_text,
requested_at, status, external_id, sync_status, sync_provider, sync_error, sync_attempts, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (Appointment, error) {
	var (
		a         Appointment
		requested sql.NullTime
		external  sql.NullString
	)
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.CallID,
		&a.PatientName,
		&a.PatientPhone,
		&a.ServiceType,
		&a.RequestedText,
		&requested,
		&a.Status,
		&external,
		&a.SyncStatus,
		&a.SyncProvider,
		&a.SyncError,
		&a.SyncAttempts,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, err
	}
	if requested.Valid {
		t := requested.Time
		a.RequestedAt = &t
	}
	if external.Valid {
		s := external.String
		a.ExternalID = &s
	}
	return a, nil
}

func externalArg(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return utils.NullString(*p)
}

func (r *PostgresRepo) CreateIfAbsent(ctx context.Context, a Appointment) (Appointment, bool, error) {
	const q = `
INSERT INTO appointments (` + columns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		a.ID, a.TenantID, a.CallID, a.PatientName, a.PatientPhone, a.ServiceType, a.RequestedText,
		a.RequestedAt, a.Status, externalArg(a.ExternalID), a.SyncStatus, a.SyncProvider, a.SyncError,
		a.SyncAttempts, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return Appointment{}, false, fmt.Errorf("insert appointment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return a, true, nil
	}
	existing, err := r.GetByCall(ctx, a.CallID)
	return existing, false, err
}

func (r *PostgresRepo) Get(ctx context.Context, tenantID, id string) (Appointment, error) {
	return scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM appointments WHERE tenant_id = $1 AND id = $2`, tenantID, id))
}

func (r *PostgresRepo) GetByCall(ctx context.Context, callID string) (Appointment, error) {
	return scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM appointments WHERE call_id = $1`, callID))
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Appointment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, limit int) ([]Appointment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.query(ctx, `SELECT `+columns+` FROM appointments WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`, tenantID, limit)
}

func (r *PostgresRepo) ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	return r.query(ctx, `SELECT `+columns+` FROM appointments
WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC`, tenantID, from, to)
}

func (r *PostgresRepo) UpdateSync(ctx context.Context, a Appointment) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE appointments
SET external_id = $2, sync_status = $3, sync_provider = $4, sync_error = $5, sync_attempts = $6, updated_at = $7
WHERE id = $1
`, a.ID, externalArg(a.ExternalID), a.SyncStatus, a.SyncProvider, a.SyncError, a.SyncAttempts, a.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ListPendingSync(ctx context.Context, limit int) ([]Appointment, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return r.query(ctx, `SELECT `+columns+` FROM appointments
WHERE sync_status = 'pending'
ORDER BY updated_at ASC
LIMIT $1`, limit)
}

var (
	_ Repository = (*MemoryRepo)(nil)
	_ Repository = (*PostgresRepo)(nil)
)
