package audit

import "time"

// Event is an immutable, append-only audit record.
//
// Invariants:
// - Events are never updated or deleted.
// - tenant_id is required; events are only ever listed per tenant.
// - Audit is best-effort; pipeline work never blocks on an audit failure.
type Event struct {
	ID       string    `json:"id" db:"id"`
	TenantID string    `json:"tenant_id" db:"tenant_id"`
	Type     EventType `json:"type" db:"type"`

	// Actor fields are empty for events raised by the pipeline itself.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	CallID        string `json:"call_id,omitempty" db:"call_id"`
	AppointmentID string `json:"appointment_id,omitempty" db:"appointment_id"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is optional JSON.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeAdminAction          EventType = "admin_action"
	EventTypeAnalysisFailed       EventType = "analysis_failed"
	EventTypeForcedCallback       EventType = "analysis_forced_callback"
	EventTypeInvalidCallState     EventType = "invalid_call_state"
	EventTypeCalendarSyncFailed   EventType = "calendar_sync_failed"
	EventTypeCalendarConnected    EventType = "calendar_connected"
	EventTypeCalendarDisconnected EventType = "calendar_disconnected"
	EventTypeSessionReaped        EventType = "session_reaped"
)
