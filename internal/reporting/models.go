package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (r TimeRange) valid() bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

// CallsSummaryRequest requests aggregated call metrics.
// Tenant isolation: TenantID is required.
type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	TenantID string    `json:"tenant_id"`
	Range    TimeRange `json:"range"`

	TotalCalls int `json:"total_calls"`
	// ByState counts calls by current state; ByOutcome by the outcome they
	// reached, which survives the move to completed.
	ByState   map[string]int `json:"by_state"`
	ByOutcome map[string]int `json:"by_outcome"`
	ByMode    map[string]int `json:"by_mode"`

	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	RecordedCalls   int `json:"recorded_calls"`

	AppointmentsCreated    int `json:"appointments_created"`
	AppointmentsSynced     int `json:"appointments_synced"`
	AppointmentsSyncFailed int `json:"appointments_sync_failed"`
	AppointmentsPending    int `json:"appointments_pending_sync"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// BookingRate is appointments created per call.
	BookingRate float64 `json:"booking_rate"`
}
