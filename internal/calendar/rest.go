package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RESTProvider is the adapter for API-key scheduling systems that expose a
// plain appointments endpoint. Idempotency is carried in the
// Idempotency-Key header.
type RESTProvider struct {
	key     string
	caps    Capabilities
	baseURL string
	client  *http.Client
}

func NewRESTProvider(key, baseURL string, caps Capabilities, client *http.Client) *RESTProvider {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RESTProvider{key: key, caps: caps, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Catalogue providers that integrate over an API key.
func NewCalendlyProvider(client *http.Client) *RESTProvider {
	return NewRESTProvider("calendly", "https://api.calendly.com", Capabilities{AuthType: AuthAPIKey, WebhookSupport: true}, client)
}

func NewAcuityProvider(client *http.Client) *RESTProvider {
	return NewRESTProvider("acuity", "https://acuityscheduling.com/api/v1", Capabilities{AuthType: AuthAPIKey, WebhookSupport: true}, client)
}

func NewCurveHeroProvider(client *http.Client) *RESTProvider {
	return NewRESTProvider("curvehero", "https://api.curvehero.com/v1", Capabilities{AuthType: AuthAPIKey, WebhookSupport: true, RealTimeSync: true}, client)
}

func (r *RESTProvider) Key() string                { return r.key }
func (r *RESTProvider) Capabilities() Capabilities { return r.caps }

func (r *RESTProvider) headers(creds Credentials) map[string]string {
	return map[string]string{"Authorization": "Bearer " + creds.APIKey}
}

func (r *RESTProvider) Validate(ctx context.Context, creds Credentials) error {
	if strings.TrimSpace(creds.APIKey) == "" {
		return fmt.Errorf("%w: %s requires an api key", ErrInvalidCredentials, r.key)
	}
	if err := doJSON(ctx, r.client, r.key, http.MethodGet, r.baseURL+"/me", r.headers(creds), nil, nil); err != nil {
		var se *SyncError
		if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		return err
	}
	return nil
}

type restAppointment struct {
	ID           string    `json:"id,omitempty"`
	Reference    string    `json:"reference"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	PatientName  string    `json:"patient_name,omitempty"`
	PatientPhone string    `json:"patient_phone,omitempty"`
	ServiceType  string    `json:"service_type,omitempty"`
	CalendarID   string    `json:"calendar_id,omitempty"`
}

func (r *RESTProvider) Push(ctx context.Context, creds Credentials, p AppointmentPayload) (string, error) {
	if p.Start.IsZero() {
		return "", ErrUnschedulable
	}
	h := r.headers(creds)
	h["Idempotency-Key"] = p.AppointmentID
	body := restAppointment{
		Reference:    p.AppointmentID,
		Title:        p.Summary(),
		Description:  p.Description(),
		Start:        p.Start.UTC(),
		End:          p.End().UTC(),
		PatientName:  p.PatientName,
		PatientPhone: p.PatientPhone,
		ServiceType:  p.ServiceType,
		CalendarID:   creds.CalendarID,
	}
	var out restAppointment
	if err := doJSON(ctx, r.client, r.key, http.MethodPost, r.baseURL+"/appointments", h, body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", statusError(r.key, 0, fmt.Errorf("response carried no appointment id"))
	}
	return out.ID, nil
}

func (r *RESTProvider) Pull(ctx context.Context, creds Credentials, from, to time.Time) ([]Slot, error) {
	q := url.Values{"from": {from.UTC().Format(time.RFC3339)}, "to": {to.UTC().Format(time.RFC3339)}}
	var resp struct {
		Busy []Slot `json:"busy"`
	}
	if err := doJSON(ctx, r.client, r.key, http.MethodGet, r.baseURL+"/availability?"+q.Encode(), r.headers(creds), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Busy, nil
}

// Revoke is a no-op; API keys are revoked in the provider's own console.
func (r *RESTProvider) Revoke(ctx context.Context, creds Credentials) error { return nil }
