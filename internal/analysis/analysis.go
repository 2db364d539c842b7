package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAnalysisUnavailable = errors.New("analysis: unavailable")
	ErrAnalysisTimeout     = errors.New("analysis: timeout")
	ErrEmptyTranscript     = errors.New("analysis: empty transcript")
)

// Outcome is the classification of a call.
type Outcome string

const (
	OutcomeScheduled       Outcome = "scheduled"
	OutcomeCallbackNeeded  Outcome = "callback_needed"
	OutcomeInformationOnly Outcome = "information_only"
)

// ParseOutcome maps free-form model output onto an outcome. Anything
// unrecognised becomes callback_needed so it is never auto-scheduled.
func ParseOutcome(s string) Outcome {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, " ", "_"))) {
	case "scheduled", "schedule", "booked", "appointment_scheduled":
		return OutcomeScheduled
	case "information_only", "info", "information", "informational":
		return OutcomeInformationOnly
	default:
		return OutcomeCallbackNeeded
	}
}

// Analysis is the structured result of one transcript pass. Extraction
// fields are optional; Confidence is always set (0 when the model omitted it).
type Analysis struct {
	Outcome       Outcome `json:"outcome"`
	Confidence    float64 `json:"confidence"`
	PatientName   *string `json:"patient_name,omitempty"`
	PatientPhone  *string `json:"patient_phone,omitempty"`
	ServiceType   *string `json:"service_type,omitempty"`
	PreferredTime *string `json:"preferred_time,omitempty"`
	Notes         string  `json:"notes,omitempty"`

	// Backend names the analyzer that produced the result.
	Backend string `json:"backend,omitempty"`
}

// Str dereferences an optional field.
func Str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Request is the input to one analysis pass.
type Request struct {
	CallID   string
	TenantID string
	// Transcript is caller speech only.
	Transcript string
	// Persona is the tenant's business context / voice persona.
	Persona string
	// Incremental marks mid-call passes over a partial transcript.
	Incremental bool
}

// Backend is one remote (or local) language-understanding capability.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, req Request) (Analysis, error)
}

// ErrorKind classifies backend failures.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimit   ErrorKind = "rate_limit"
	KindServer      ErrorKind = "server"
	KindAuth        ErrorKind = "auth"
	KindBadRequest  ErrorKind = "bad_request"
	KindBadResponse ErrorKind = "bad_response"
	KindUnknown     ErrorKind = "unknown"
)

// Error is a backend failure with retry classification.
type Error struct {
	Kind       ErrorKind
	Backend    string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("analysis: %s %s", e.Backend, e.Kind)
	if e.StatusCode > 0 {
		s += fmt.Sprintf(" HTTP %d", e.StatusCode)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) IsRetryable() bool { return e.Retryable }

// Is maps backend failures onto the two public sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAnalysisTimeout:
		return e.Kind == KindTimeout
	case ErrAnalysisUnavailable:
		return e.Kind != KindTimeout
	}
	return false
}

// ClassifyError turns a transport/SDK error into an *Error.
func ClassifyError(backend string, status int, err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	e := &Error{Backend: backend, StatusCode: status, Cause: err}
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		e.Kind, e.Retryable = KindTimeout, true
	case status == 429 || strings.Contains(lower, "rate limit") || strings.Contains(lower, "overloaded"):
		e.Kind, e.Retryable = KindRateLimit, true
	case status == 401 || status == 403 || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		e.Kind = KindAuth
	case status >= 500 || strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") || strings.Contains(lower, "no such host"):
		e.Kind, e.Retryable = KindServer, true
	case status >= 400:
		e.Kind = KindBadRequest
	default:
		e.Kind = KindUnknown
	}
	return e
}

// ApplyThreshold forces callback_needed when the analysis would schedule
// below threshold. forced reports whether the outcome was overridden.
func ApplyThreshold(a Analysis, threshold float64) (Analysis, bool) {
	if a.Outcome == OutcomeScheduled && a.Confidence < threshold {
		a.Outcome = OutcomeCallbackNeeded
		note := fmt.Sprintf("confidence %.2f below threshold %.2f", a.Confidence, threshold)
		if a.Notes == "" {
			a.Notes = note
		} else {
			a.Notes += "; " + note
		}
		return a, true
	}
	return a, false
}
