package calls

import (
	"context"
	"time"
)

// Repository is the durable part of the call session store.
//
// Tenant isolation: List and ListBetween filter by tenant; callers of Get
// must compare Call.TenantID before exposing a row.
type Repository interface {
	// CreateIfAbsent inserts c unless a call with the same id exists.
	// It returns the stored row and whether this invocation created it.
	CreateIfAbsent(ctx context.Context, c Call) (Call, bool, error)
	Get(ctx context.Context, callID string) (Call, error)
	Update(ctx context.Context, c Call) error
	List(ctx context.Context, tenantID string, limit int) ([]Call, error)
	ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Call, error)

	// SaveTranscript inserts the call's transcript once. A second call for the
	// same call id returns the existing transcript and created=false.
	SaveTranscript(ctx context.Context, t Transcript) (Transcript, bool, error)
	GetTranscript(ctx context.Context, callID string) (Transcript, error)
	// AppendUtterances appends to the call's transcript, creating it on first use.
	AppendUtterances(ctx context.Context, tenantID, callID string, us []Utterance, now time.Time) (Transcript, error)
	SetTranscriptText(ctx context.Context, callID, text string, final bool, now time.Time) (Transcript, error)
	SetTranscriptRecording(ctx context.Context, callID, recordingURL string, now time.Time) (Transcript, error)

	// SaveAnalysis replaces the transcript's current analysis unless the stored
	// one has a higher Seq. applied=false means a = stale and was discarded.
	SaveAnalysis(ctx context.Context, a AnalysisRecord) (applied bool, err error)
	GetAnalysis(ctx context.Context, callID string) (AnalysisRecord, error)
}
