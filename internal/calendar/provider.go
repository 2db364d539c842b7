package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrSyncFailure        = errors.New("calendar: sync failure")
	ErrNoConnection       = errors.New("calendar: no active connection")
	ErrUnknownProvider    = errors.New("calendar: unknown provider")
	ErrInvalidCredentials = errors.New("calendar: invalid credentials")
	ErrUnschedulable      = errors.New("calendar: appointment has no concrete start time")
	ErrAlreadyConnected   = errors.New("calendar: provider already connected")
)

type AuthType string

const (
	AuthOAuth2      AuthType = "oauth2"
	AuthAPIKey      AuthType = "api_key"
	AuthAppPassword AuthType = "app_password"
	AuthBasic       AuthType = "basic"
)

// Capabilities are static per provider and are queried, never assumed.
type Capabilities struct {
	AuthType       AuthType `json:"auth_type"`
	WebhookSupport bool     `json:"webhook_support"`
	RealTimeSync   bool     `json:"real_time_sync"`
}

// Credentials holds whatever a provider needs; unused fields stay empty.
type Credentials struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`

	APIKey   string `json:"api_key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// CalendarID selects a calendar inside the account; "primary" when empty.
	CalendarID string `json:"calendar_id,omitempty"`
	TimeZone   string `json:"time_zone,omitempty"`
}

func (c Credentials) Calendar() string {
	if c.CalendarID == "" {
		return "primary"
	}
	return c.CalendarID
}

// AppointmentPayload is the provider-neutral event pushed for an appointment.
type AppointmentPayload struct {
	AppointmentID string
	TenantID      string
	PatientName   string
	PatientPhone  string
	ServiceType   string
	Start         time.Time
	Duration      time.Duration
	// RequestedText is the caller's wording of the time, kept for the event body.
	RequestedText string
	Notes         string
}

func (p AppointmentPayload) End() time.Time {
	d := p.Duration
	if d <= 0 {
		d = ServiceDuration(p.ServiceType)
	}
	return p.Start.Add(d)
}

func (p AppointmentPayload) Summary() string {
	svc := p.ServiceType
	if svc == "" {
		svc = "Appointment"
	}
	if p.PatientName == "" {
		return svc
	}
	return fmt.Sprintf("%s - %s", svc, p.PatientName)
}

func (p AppointmentPayload) Description() string {
	var b strings.Builder
	if p.PatientPhone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", p.PatientPhone)
	}
	if p.RequestedText != "" {
		fmt.Fprintf(&b, "Requested: %s\n", p.RequestedText)
	}
	if p.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", p.Notes)
	}
	fmt.Fprintf(&b, "Ref: %s", p.AppointmentID)
	return b.String()
}

// Slot is a closed-open time interval.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Provider is one calendar backend. Push must be idempotent keyed by
// AppointmentPayload.AppointmentID.
type Provider interface {
	Key() string
	Capabilities() Capabilities
	Validate(ctx context.Context, creds Credentials) error
	Push(ctx context.Context, creds Credentials, p AppointmentPayload) (externalID string, err error)
	// Pull returns busy intervals in [from, to).
	Pull(ctx context.Context, creds Credentials, from, to time.Time) ([]Slot, error)
	Revoke(ctx context.Context, creds Credentials) error
}

// OAuthProvider is implemented by providers that connect through an
// authorization-code flow.
type OAuthProvider interface {
	Provider
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Credentials, error)
}

// SyncError is a provider failure. Retryable errors are left pending for the
// reconciliation sweep.
type SyncError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Cause      error
}

func (e *SyncError) Error() string {
	s := "calendar: " + e.Provider + " sync failed"
	if e.StatusCode > 0 {
		s += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

func (e *SyncError) Unwrap() []error { return []error{ErrSyncFailure, e.Cause} }

func (e *SyncError) IsRetryable() bool { return e.Retryable }

// statusError builds a SyncError from an HTTP status.
func statusError(provider string, status int, cause error) *SyncError {
	return &SyncError{
		Provider:   provider,
		StatusCode: status,
		Retryable:  status == 0 || status == 408 || status == 429 || status >= 500,
		Cause:      cause,
	}
}

// ServiceDuration maps a service type to the booked slot length.
func ServiceDuration(serviceType string) time.Duration {
	s := strings.ToLower(serviceType)
	switch {
	case strings.Contains(s, "clean"):
		return 30 * time.Minute
	case strings.Contains(s, "checkup"), strings.Contains(s, "check-up"), strings.Contains(s, "routine"):
		return 45 * time.Minute
	case strings.Contains(s, "consult"):
		return 60 * time.Minute
	case strings.Contains(s, "emergency"):
		return 30 * time.Minute
	}
	return 45 * time.Minute
}

// FreeSlots returns slotLen-sized free intervals inside [from, to) that do not
// overlap any busy interval. Busy intervals need not be sorted.
func FreeSlots(busy []Slot, from, to time.Time, slotLen time.Duration) []Slot {
	if slotLen <= 0 || !to.After(from) {
		return nil
	}
	var out []Slot
	for start := from; !start.Add(slotLen).After(to); start = start.Add(slotLen) {
		s := Slot{Start: start, End: start.Add(slotLen)}
		free := true
		for _, b := range busy {
			if s.Start.Before(b.End) && b.Start.Before(s.End) {
				free = false
				break
			}
		}
		if free {
			out = append(out, s)
		}
	}
	return out
}
