package tenants

import (
	"context"
	"errors"
	"strings"
	"time"

	"voiceai-production/internal/calls"
)

var ErrTenantNotFound = errors.New("tenants: tenant not found")

// Tenant is read-only configuration owned by the account system.
// It must not change while a call is in flight; callers load it once per event.
type Tenant struct {
	ID          string     `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	PhoneNumber string     `json:"phone_number" db:"phone_number"`
	Mode        calls.Mode `json:"mode" db:"mode"`

	// Persona is the voice persona / business context passed to analysis.
	Persona  string `json:"persona" db:"persona"`
	Greeting string `json:"greeting" db:"greeting"`

	// ConfidenceThreshold of 0 means "use the operator default".
	ConfidenceThreshold float64 `json:"confidence_threshold" db:"confidence_threshold"`
	CalendarProvider    string  `json:"calendar_provider" db:"calendar_provider"`

	// MaxConcurrentStreams of 0 disables the per-tenant streaming cap.
	MaxConcurrentStreams int `json:"max_concurrent_streams" db:"max_concurrent_streams"`

	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Threshold returns the tenant's confidence threshold, or def when unset or out of range.
func (t Tenant) Threshold(def float64) float64 {
	if t.ConfidenceThreshold > 0 && t.ConfidenceThreshold <= 1 {
		return t.ConfidenceThreshold
	}
	return def
}

// CallMode defaults to recording for tenants without an explicit mode.
func (t Tenant) CallMode() calls.Mode {
	if t.Mode.Valid() {
		return t.Mode
	}
	return calls.ModeRecording
}

// GreetingText returns the greeting spoken when a call is answered.
func (t Tenant) GreetingText() string {
	if g := strings.TrimSpace(t.Greeting); g != "" {
		return g
	}
	name := strings.TrimSpace(t.Name)
	if name == "" {
		return "Thank you for calling. How can I help you today?"
	}
	return "Thank you for calling " + name + ". How can I help you today?"
}

// Repository is read-only: tenants are managed outside this service.
type Repository interface {
	Get(ctx context.Context, id string) (Tenant, error)
	FindByNumber(ctx context.Context, e164 string) (Tenant, error)
}
