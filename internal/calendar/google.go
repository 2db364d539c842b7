package calendar

import (
	"context"
	"crypto/sha1"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const googleRevokeURL = "https://oauth2.googleapis.com/revoke"

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type GoogleProvider struct {
	oauth *oauth2.Config

	// endpoint and client override the API base and transport in tests.
	endpoint  string
	client    *http.Client
	revokeURL string
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gcal.CalendarEventsScope, gcal.CalendarReadonlyScope},
		},
		revokeURL: googleRevokeURL,
	}
}

func (g *GoogleProvider) Key() string { return "google" }

func (g *GoogleProvider) Capabilities() Capabilities {
	return Capabilities{AuthType: AuthOAuth2, WebhookSupport: true, RealTimeSync: true}
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (Credentials, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	return Credentials{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
}

func (g *GoogleProvider) Validate(ctx context.Context, creds Credentials) error {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return fmt.Errorf("%w: google requires an access or refresh token", ErrInvalidCredentials)
	}
	return nil
}

func (g *GoogleProvider) service(ctx context.Context, creds Credentials) (*gcal.Service, error) {
	var opts []option.ClientOption
	if g.client != nil {
		opts = append(opts, option.WithHTTPClient(g.client))
	} else {
		tok := &oauth2.Token{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken, Expiry: creds.Expiry}
		opts = append(opts, option.WithTokenSource(g.oauth.TokenSource(ctx, tok)))
	}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	return gcal.NewService(ctx, opts...)
}

// GoogleEventID derives a stable event id from the appointment id. Google
// accepts lowercase base32hex, 5 to 1024 characters.
func GoogleEventID(appointmentID string) string {
	sum := sha1.Sum([]byte(appointmentID))
	enc := base32.HexEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:])
	return "va" + strings.ToLower(enc)
}

func (g *GoogleProvider) Push(ctx context.Context, creds Credentials, p AppointmentPayload) (string, error) {
	if p.Start.IsZero() {
		return "", ErrUnschedulable
	}
	svc, err := g.service(ctx, creds)
	if err != nil {
		return "", statusError(g.Key(), 0, err)
	}
	id := GoogleEventID(p.AppointmentID)
	tz := creds.TimeZone
	ev := &gcal.Event{
		Id:          id,
		Summary:     p.Summary(),
		Description: p.Description(),
		Start:       &gcal.EventDateTime{DateTime: p.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: p.End().Format(time.RFC3339), TimeZone: tz},
	}
	created, err := svc.Events.Insert(creds.Calendar(), ev).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			// 409 means an earlier attempt already created this event.
			if gerr.Code == http.StatusConflict {
				return id, nil
			}
			return "", statusError(g.Key(), gerr.Code, err)
		}
		return "", statusError(g.Key(), 0, err)
	}
	return created.Id, nil
}

func (g *GoogleProvider) Pull(ctx context.Context, creds Credentials, from, to time.Time) ([]Slot, error) {
	svc, err := g.service(ctx, creds)
	if err != nil {
		return nil, statusError(g.Key(), 0, err)
	}
	cal := creds.Calendar()
	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: from.Format(time.RFC3339),
		TimeMax: to.Format(time.RFC3339),
		Items:   []*gcal.FreeBusyRequestItem{{Id: cal}},
	}).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, statusError(g.Key(), gerr.Code, err)
		}
		return nil, statusError(g.Key(), 0, err)
	}
	var out []Slot
	for _, period := range resp.Calendars[cal].Busy {
		s, err1 := time.Parse(time.RFC3339, period.Start)
		e, err2 := time.Parse(time.RFC3339, period.End)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, Slot{Start: s, End: e})
	}
	return out, nil
}

func (g *GoogleProvider) Revoke(ctx context.Context, creds Credentials) error {
	tok := creds.RefreshToken
	if tok == "" {
		tok = creds.AccessToken
	}
	if tok == "" {
		return nil
	}
	form := url.Values{"token": {tok}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	client := g.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return statusError(g.Key(), 0, err)
	}
	defer resp.Body.Close()
	// Google answers 400 for tokens that are already invalid.
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusBadRequest {
		return statusError(g.Key(), resp.StatusCode, fmt.Errorf("revoke returned %s", resp.Status))
	}
	return nil
}
