package calls

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("calls: not found")
	ErrInvalidCallState = errors.New("calls: invalid call state")
	ErrInvalidArgument  = errors.New("calls: invalid argument")
)

// Mode selects how a call is handled: store-and-forward or duplex streaming.
type Mode string

const (
	ModeRecording Mode = "recording"
	ModeStreaming Mode = "streaming"
)

func (m Mode) Valid() bool { return m == ModeRecording || m == ModeStreaming }

// Status is the provider-reported lifecycle status, independent of State.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusBusy       Status = "busy"
	StatusCanceled   Status = "canceled"
)

// Ended reports whether the provider considers the call finished.
func (s Status) Ended() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCanceled:
		return true
	}
	return false
}

// Call is one inbound telephony session. CallID is the provider-assigned id.
//
// Multi-tenant invariant: TenantID is required on every row.
type Call struct {
	CallID   string `json:"call_id" db:"call_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Mode   Mode   `json:"mode" db:"mode"`
	Status Status `json:"status" db:"status"`
	State  State  `json:"state" db:"state"`

	// Outcome is the outcome state the call reached, kept after Completed.
	Outcome State `json:"outcome,omitempty" db:"outcome"`

	DurationSeconds int    `json:"duration" db:"duration_seconds"`
	RecordingURL    string `json:"recording_url,omitempty" db:"recording_url"`

	// Notes carries operator-visible failure or degradation details.
	Notes string `json:"notes,omitempty" db:"notes"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Transition moves the call to the next state, enforcing the transition table.
func (c *Call) Transition(to State, now time.Time) error {
	if !CanTransition(c.State, to) {
		return &StateError{CallID: c.CallID, From: c.State, To: to}
	}
	c.State = to
	if to.IsOutcome() {
		c.Outcome = to
	}
	c.UpdatedAt = now
	if to.Terminal() && c.EndedAt == nil {
		t := now
		c.EndedAt = &t
	}
	return nil
}

// AddNote appends an operator note, keeping earlier ones.
func (c *Call) AddNote(note string) {
	note = strings.TrimSpace(note)
	if note == "" {
		return
	}
	if c.Notes == "" {
		c.Notes = note
		return
	}
	c.Notes += "; " + note
}

// StateError is returned for an event that does not fit the call's current state.
type StateError struct {
	CallID string
	From   State
	To     State
}

func (e *StateError) Error() string {
	return "calls: invalid call state: " + e.CallID + " " + string(e.From) + " -> " + string(e.To)
}

func (e *StateError) Unwrap() error { return ErrInvalidCallState }

// Utterance is one transcript segment.
type Utterance struct {
	Seq        int64     `json:"seq"`
	Speaker    string    `json:"speaker"`
	Text       string    `json:"text"`
	Confidence *float64  `json:"confidence,omitempty"`
	At         time.Time `json:"at"`
}

const (
	SpeakerCaller = "caller"
	SpeakerAgent  = "agent"
)

// Transcript belongs to exactly one call. Recording mode fills Text once;
// streaming mode accumulates Utterances.
type Transcript struct {
	ID           string      `json:"id" db:"id"`
	CallID       string      `json:"call_id" db:"call_id"`
	TenantID     string      `json:"tenant_id" db:"tenant_id"`
	RecordingURL string      `json:"recording_url,omitempty" db:"recording_url"`
	Text         string      `json:"text,omitempty" db:"text"`
	Utterances   []Utterance `json:"utterances,omitempty" db:"utterances"`
	Final        bool        `json:"final" db:"final"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
}

// CallerText returns the text sent to analysis: the transcription if present,
// otherwise caller utterances in arrival order.
func (t Transcript) CallerText() string {
	if strings.TrimSpace(t.Text) != "" {
		return t.Text
	}
	parts := make([]string, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		if u.Speaker != "" && u.Speaker != SpeakerCaller {
			continue
		}
		if s := strings.TrimSpace(u.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// AnalysisRecord is the persisted, current analysis of a transcript.
// Seq orders analyses of the same call; a lower Seq never replaces a higher one.
type AnalysisRecord struct {
	TranscriptID  string    `json:"transcript_id" db:"transcript_id"`
	CallID        string    `json:"call_id" db:"call_id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	Seq           int64     `json:"seq" db:"seq"`
	Outcome       string    `json:"outcome" db:"outcome"`
	PatientName   string    `json:"patient_name,omitempty" db:"patient_name"`
	PatientPhone  string    `json:"patient_phone,omitempty" db:"patient_phone"`
	ServiceType   string    `json:"service_type,omitempty" db:"service_type"`
	PreferredTime string    `json:"preferred_time,omitempty" db:"preferred_time"`
	Confidence    float64   `json:"confidence" db:"confidence"`
	Notes         string    `json:"notes,omitempty" db:"notes"`
	Forced        bool      `json:"forced" db:"forced"`
	Backend       string    `json:"backend,omitempty" db:"backend"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
