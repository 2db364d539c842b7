package appointments

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("appointments: not found")
	ErrNotSchedulable = errors.New("appointments: analysis does not schedule an appointment")
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

// SyncStatus tracks the calendar push separately from the appointment itself.
// A sync failure never removes the appointment.
type SyncStatus string

const (
	SyncPending     SyncStatus = "pending"
	SyncSynced      SyncStatus = "synced"
	SyncFailed      SyncStatus = "failed"
	SyncNotRequired SyncStatus = "not_required"
)

// Appointment is created at most once per call.
type Appointment struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	CallID   string `json:"call_id" db:"call_id"`

	PatientName  string `json:"patient_name,omitempty" db:"patient_name"`
	PatientPhone string `json:"patient_phone,omitempty" db:"patient_phone"`
	ServiceType  string `json:"service_type,omitempty" db:"service_type"`

	// RequestedText is the caller's wording; RequestedAt is set when it parses.
	RequestedText string     `json:"requested_text,omitempty" db:"requested_text"`
	RequestedAt   *time.Time `json:"requested_at,omitempty" db:"requested_at"`

	Status Status `json:"status" db:"status"`

	// ExternalID stays nil until a provider accepts the push.
	ExternalID   *string    `json:"external_id,omitempty" db:"external_id"`
	SyncStatus   SyncStatus `json:"sync_status" db:"sync_status"`
	SyncProvider string     `json:"sync_provider,omitempty" db:"sync_provider"`
	SyncError    string     `json:"sync_error,omitempty" db:"sync_error"`
	SyncAttempts int        `json:"sync_attempts" db:"sync_attempts"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
