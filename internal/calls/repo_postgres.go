package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voiceai-production/pkg/utils"
)

// PostgresRepo stores calls, transcripts and analyses in Postgres.
// Uniqueness of call_id on calls and transcripts is enforced by the schema.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `call_id, tenant_id, from_number, to_number, mode, status, state, outcome,
duration_seconds, recording_url, notes, created_at, updated_at, ended_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var c Call
	var ended sql.NullTime
	if err := row.Scan(
		&c.CallID,
		&c.TenantID,
		&c.From,
		&c.To,
		&c.Mode,
		&c.Status,
		&c.State,
		&c.Outcome,
		&c.DurationSeconds,
		&c.RecordingURL,
		&c.Notes,
		&c.CreatedAt,
		&c.UpdatedAt,
		&ended,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	if ended.Valid {
		t := ended.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (r *PostgresRepo) CreateIfAbsent(ctx context.Context, c Call) (Call, bool, error) {
	if c.CallID == "" || c.TenantID == "" {
		return Call{}, false, ErrInvalidArgument
	}
	const q = `
INSERT INTO calls (` + callColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		c.CallID, c.TenantID, c.From, c.To, c.Mode, c.Status, c.State, c.Outcome,
		c.DurationSeconds, c.RecordingURL, c.Notes, c.CreatedAt, c.UpdatedAt, c.EndedAt,
	)
	if err != nil {
		return Call{}, false, fmt.Errorf("insert call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return c, true, nil
	}
	existing, err := r.Get(ctx, c.CallID)
	return existing, false, err
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, callID))
}

func (r *PostgresRepo) Update(ctx context.Context, c Call) error {
	const q = `
UPDATE calls SET
  status = $2, state = $3, outcome = $4, duration_seconds = $5,
  recording_url = $6, notes = $7, updated_at = $8, ended_at = $9
WHERE call_id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		c.CallID, c.Status, c.State, c.Outcome, c.DurationSeconds,
		c.RecordingURL, c.Notes, c.UpdatedAt, c.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, tenantID string, limit int) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2`
	return r.queryCalls(ctx, q, tenantID, limit)
}

func (r *PostgresRepo) ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error) {
	if tenantID == "" {
		return nil, ErrInvalidArgument
	}
	q := `SELECT ` + callColumns + ` FROM calls WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3`
	return r.queryCalls(ctx, q, tenantID, from, to)
}

func (r *PostgresRepo) queryCalls(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const transcriptColumns = `id, call_id, tenant_id, recording_url, text, utterances, final, created_at, updated_at`

func scanTranscript(row rowScanner) (Transcript, error) {
	var t Transcript
	var raw []byte
	if err := row.Scan(&t.ID, &t.CallID, &t.TenantID, &t.RecordingURL, &t.Text, &raw, &t.Final, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transcript{}, ErrNotFound
		}
		return Transcript{}, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.Utterances); err != nil {
			return Transcript{}, fmt.Errorf("decode utterances: %w", err)
		}
	}
	return t, nil
}

func (r *PostgresRepo) SaveTranscript(ctx context.Context, t Transcript) (Transcript, bool, error) {
	if t.CallID == "" {
		return Transcript{}, false, ErrInvalidArgument
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	raw, err := json.Marshal(nonNil(t.Utterances))
	if err != nil {
		return Transcript{}, false, err
	}
	const q = `
INSERT INTO transcripts (` + transcriptColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (call_id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q, t.ID, t.CallID, t.TenantID, t.RecordingURL, t.Text, raw, t.Final, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return Transcript{}, false, fmt.Errorf("insert transcript: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return t, true, nil
	}
	existing, err := r.GetTranscript(ctx, t.CallID)
	return existing, false, err
}

func (r *PostgresRepo) GetTranscript(ctx context.Context, callID string) (Transcript, error) {
	q := `SELECT ` + transcriptColumns + ` FROM transcripts WHERE call_id = $1`
	return scanTranscript(r.db.QueryRowContext(ctx, q, callID))
}

func (r *PostgresRepo) AppendUtterances(ctx context.Context, tenantID, callID string, us []Utterance, now time.Time) (Transcript, error) {
	if callID == "" {
		return Transcript{}, ErrInvalidArgument
	}
	var out Transcript
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		// Ensure the row exists, then lock it so concurrent appends keep arrival order.
		const ensure = `
INSERT INTO transcripts (id, call_id, tenant_id, utterances, created_at, updated_at)
VALUES ($1,$2,$3,'[]',$4,$4)
ON CONFLICT (call_id) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, ensure, uuid.NewString(), callID, tenantID, now); err != nil {
			return err
		}
		q := `SELECT ` + transcriptColumns + ` FROM transcripts WHERE call_id = $1 FOR UPDATE`
		t, err := scanTranscript(tx.QueryRowContext(ctx, q, callID))
		if err != nil {
			return err
		}
		t.Utterances = append(t.Utterances, us...)
		t.UpdatedAt = now
		raw, err := json.Marshal(t.Utterances)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE transcripts SET utterances = $2, updated_at = $3 WHERE call_id = $1`, callID, raw, now); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (r *PostgresRepo) SetTranscriptText(ctx context.Context, callID, text string, final bool, now time.Time) (Transcript, error) {
	q := `
UPDATE transcripts SET text = $2, final = final OR $3, updated_at = $4
WHERE call_id = $1
RETURNING ` + transcriptColumns
	return scanTranscript(r.db.QueryRowContext(ctx, q, callID, text, final, now))
}

func (r *PostgresRepo) SetTranscriptRecording(ctx context.Context, callID, recordingURL string, now time.Time) (Transcript, error) {
	q := `
UPDATE transcripts SET recording_url = $2, updated_at = $3
WHERE call_id = $1
RETURNING ` + transcriptColumns
	return scanTranscript(r.db.QueryRowContext(ctx, q, callID, recordingURL, now))
}

func (r *PostgresRepo) SaveAnalysis(ctx context.Context, a AnalysisRecord) (bool, error) {
	if a.TranscriptID == "" || a.CallID == "" {
		return false, ErrInvalidArgument
	}
	// The WHERE clause drops stale results: an older seq never overwrites a newer one.
	const q = `
INSERT INTO analyses (
  transcript_id, call_id, tenant_id, seq, outcome, patient_name, patient_phone,
  service_type, preferred_time, confidence, notes, forced, backend, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (transcript_id) DO UPDATE SET
  seq = EXCLUDED.seq, outcome = EXCLUDED.outcome, patient_name = EXCLUDED.patient_name,
  patient_phone = EXCLUDED.patient_phone, service_type = EXCLUDED.service_type,
  preferred_time = EXCLUDED.preferred_time, confidence = EXCLUDED.confidence,
  notes = EXCLUDED.notes, forced = EXCLUDED.forced, backend = EXCLUDED.backend,
  created_at = EXCLUDED.created_at
WHERE analyses.seq <= EXCLUDED.seq
`
	res, err := r.db.ExecContext(ctx, q,
		a.TranscriptID, a.CallID, a.TenantID, a.Seq, a.Outcome, a.PatientName, a.PatientPhone,
		a.ServiceType, a.PreferredTime, a.Confidence, a.Notes, a.Forced, a.Backend, a.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("upsert analysis: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *PostgresRepo) GetAnalysis(ctx context.Context, callID string) (AnalysisRecord, error) {
	const q = `
SELECT transcript_id, call_id, tenant_id, seq, outcome, patient_name, patient_phone,
       service_type, preferred_time, confidence, notes, forced, backend, created_at
FROM analyses WHERE call_id = $1
`
	var a AnalysisRecord
	err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&a.TranscriptID, &a.CallID, &a.TenantID, &a.Seq, &a.Outcome, &a.PatientName, &a.PatientPhone,
		&a.ServiceType, &a.PreferredTime, &a.Confidence, &a.Notes, &a.Forced, &a.Backend, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AnalysisRecord{}, ErrNotFound
		}
		return AnalysisRecord{}, err
	}
	return a, nil
}

func nonNil(us []Utterance) []Utterance {
	if us == nil {
		return []Utterance{}
	}
	return us
}

var (
	_ Repository = (*MemoryRepo)(nil)
	_ Repository = (*PostgresRepo)(nil)
)
