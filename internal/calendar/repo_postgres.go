package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"voiceai-production/pkg/utils"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) InsertConnection(ctx context.Context, c Connection) error {
	creds, err := json.Marshal(c.Credentials)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO calendar_connections (id, tenant_id, provider, credentials, auth_type, webhook, real_time_sync, active, connected_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`, c.ID, c.TenantID, c.Provider, creds, string(c.Capabilities.AuthType), c.Capabilities.WebhookSupport,
		c.Capabilities.RealTimeSync, c.Active, c.ConnectedAt)
	if utils.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, c.Provider)
	}
	return err
}

func (r *PostgresRepo) ActiveConnections(ctx context.Context, tenantID string) ([]Connection, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, tenant_id, provider, credentials, auth_type, webhook, real_time_sync, active, connected_at
FROM calendar_connections
WHERE tenant_id = $1 AND active
ORDER BY connected_at DESC
`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var (
			c     Connection
			creds []byte
			auth  string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Provider, &creds, &auth, &c.Capabilities.WebhookSupport,
			&c.Capabilities.RealTimeSync, &c.Active, &c.ConnectedAt); err != nil {
			return nil, err
		}
		c.Capabilities.AuthType = AuthType(auth)
		if err := json.Unmarshal(creds, &c.Credentials); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) DeactivateConnection(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE calendar_connections SET active = FALSE, revoked_at = $2 WHERE id = $1 AND active
`, id, at)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoConnection
	}
	return nil
}

func (r *PostgresRepo) GetReceipt(ctx context.Context, appointmentID, provider string) (Receipt, bool, error) {
	var rc Receipt
	err := r.db.QueryRowContext(ctx, `
SELECT appointment_id, provider, tenant_id, external_id, created_at
FROM calendar_receipts WHERE appointment_id = $1 AND provider = $2
`, appointmentID, provider).Scan(&rc.AppointmentID, &rc.Provider, &rc.TenantID, &rc.ExternalID, &rc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, err
	}
	return rc, true, nil
}

func (r *PostgresRepo) PutReceipt(ctx context.Context, rc Receipt) (Receipt, error) {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO calendar_receipts (appointment_id, provider, tenant_id, external_id, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (appointment_id, provider) DO NOTHING
`, rc.AppointmentID, rc.Provider, rc.TenantID, rc.ExternalID, rc.CreatedAt)
	if err != nil {
		return Receipt{}, err
	}
	stored, ok, err := r.GetReceipt(ctx, rc.AppointmentID, rc.Provider)
	if err != nil {
		return Receipt{}, err
	}
	if !ok {
		return rc, nil
	}
	return stored, nil
}

var (
	_ Repository = (*MemoryRepo)(nil)
	_ Repository = (*PostgresRepo)(nil)
)
