package calendar

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

type MicrosoftConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// TenantID is the Azure AD tenant; "common" when empty.
	TenantID string
}

// GraphProvider talks to Outlook calendars through Microsoft Graph.
type GraphProvider struct {
	oauth   *oauth2.Config
	baseURL string
	client  *http.Client
}

func NewGraphProvider(cfg MicrosoftConfig) *GraphProvider {
	tenant := cfg.TenantID
	if tenant == "" {
		tenant = "common"
	}
	return &GraphProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     microsoft.AzureADEndpoint(tenant),
			Scopes:       []string{"offline_access", "Calendars.ReadWrite", "User.Read"},
		},
		baseURL: graphBaseURL,
	}
}

func (m *GraphProvider) Key() string { return "microsoft" }

func (m *GraphProvider) Capabilities() Capabilities {
	return Capabilities{AuthType: AuthOAuth2, WebhookSupport: true, RealTimeSync: true}
}

func (m *GraphProvider) AuthCodeURL(state string) string {
	return m.oauth.AuthCodeURL(state)
}

func (m *GraphProvider) Exchange(ctx context.Context, code string) (Credentials, error) {
	tok, err := m.oauth.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
}

func (m *GraphProvider) httpClient(ctx context.Context, creds Credentials) *http.Client {
	if m.client != nil {
		return m.client
	}
	tok := &oauth2.Token{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken, Expiry: creds.Expiry}
	return m.oauth.Client(ctx, tok)
}

func (m *GraphProvider) Validate(ctx context.Context, creds Credentials) error {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return fmt.Errorf("%w: microsoft requires an access or refresh token", ErrInvalidCredentials)
	}
	return nil
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID            string        `json:"id,omitempty"`
	Subject       string        `json:"subject,omitempty"`
	Body          *graphBody    `json:"body,omitempty"`
	Start         graphDateTime `json:"start"`
	End           graphDateTime `json:"end"`
	TransactionID string        `json:"transactionId,omitempty"`
	ShowAs        string        `json:"showAs,omitempty"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

const graphTimeLayout = "2006-01-02T15:04:05"

func (m *GraphProvider) Push(ctx context.Context, creds Credentials, p AppointmentPayload) (string, error) {
	if p.Start.IsZero() {
		return "", ErrUnschedulable
	}
	// transactionId makes Graph drop duplicate creates from retried requests.
	ev := graphEvent{
		Subject:       p.Summary(),
		Body:          &graphBody{ContentType: "text", Content: p.Description()},
		Start:         graphDateTime{DateTime: p.Start.UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		End:           graphDateTime{DateTime: p.End().UTC().Format(graphTimeLayout), TimeZone: "UTC"},
		TransactionID: p.AppointmentID,
	}
	var created graphEvent
	if err := doJSON(ctx, m.httpClient(ctx, creds), m.Key(), http.MethodPost, m.eventsURL(creds), nil, ev, &created); err != nil {
		return "", err
	}
	return created.ID, nil
}

func (m *GraphProvider) eventsURL(creds Credentials) string {
	if creds.CalendarID == "" {
		return m.baseURL + "/me/events"
	}
	return m.baseURL + "/me/calendars/" + url.PathEscape(creds.CalendarID) + "/events"
}

func (m *GraphProvider) Pull(ctx context.Context, creds Credentials, from, to time.Time) ([]Slot, error) {
	q := url.Values{
		"startDateTime": {from.UTC().Format(time.RFC3339)},
		"endDateTime":   {to.UTC().Format(time.RFC3339)},
		"$select":       {"start,end,showAs"},
	}
	var resp struct {
		Value []graphEvent `json:"value"`
	}
	headers := map[string]string{"Prefer": `outlook.timezone="UTC"`}
	if err := doJSON(ctx, m.httpClient(ctx, creds), m.Key(), http.MethodGet, m.baseURL+"/me/calendarView?"+q.Encode(), headers, nil, &resp); err != nil {
		return nil, err
	}
	var out []Slot
	for _, ev := range resp.Value {
		if strings.EqualFold(ev.ShowAs, "free") {
			continue
		}
		s, err1 := time.Parse(graphTimeLayout, trimFraction(ev.Start.DateTime))
		e, err2 := time.Parse(graphTimeLayout, trimFraction(ev.End.DateTime))
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Slot{Start: s.UTC(), End: e.UTC()})
	}
	return out, nil
}

// trimFraction drops Graph's seven-digit fractional seconds.
func trimFraction(s string) string {
	if i := strings.IndexByte(s, '.'); i > 0 {
		return s[:i]
	}
	return s
}

// Revoke is a no-op: Graph has no per-token revocation for delegated grants,
// so disconnecting only drops the stored credentials.
func (m *GraphProvider) Revoke(ctx context.Context, creds Credentials) error { return nil }
