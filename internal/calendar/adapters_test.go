package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func TestGoogleProvider_PushInsertsDeterministicEvent(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotID, _ = body["id"].(string)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": gotID})
	}))
	defer srv.Close()

	g := NewGoogleProvider(GoogleConfig{})
	g.client = srv.Client()
	g.endpoint = srv.URL + "/"

	id, err := g.Push(context.Background(), Credentials{AccessToken: "a"}, AppointmentPayload{AppointmentID: "appt-9", Start: start})
	require.NoError(t, err)
	require.Equal(t, GoogleEventID("appt-9"), gotID)
	require.Equal(t, gotID, id)
}

func TestGoogleProvider_ConflictMeansAlreadyPushed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":409,"message":"The requested identifier already exists."}}`))
	}))
	defer srv.Close()

	g := NewGoogleProvider(GoogleConfig{})
	g.client = srv.Client()
	g.endpoint = srv.URL + "/"

	id, err := g.Push(context.Background(), Credentials{AccessToken: "a"}, AppointmentPayload{AppointmentID: "appt-9", Start: start})
	require.NoError(t, err)
	require.Equal(t, GoogleEventID("appt-9"), id)
}

func TestGoogleProvider_UnschedulableWithoutStart(t *testing.T) {
	g := NewGoogleProvider(GoogleConfig{})
	_, err := g.Push(context.Background(), Credentials{AccessToken: "a"}, AppointmentPayload{AppointmentID: "x"})
	require.ErrorIs(t, err, ErrUnschedulable)
}

func TestRESTProvider_SendsIdempotencyKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/appointments", r.URL.Path)
		require.Equal(t, "appt-7", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "ch-100"})
	}))
	defer srv.Close()

	p := NewRESTProvider("curvehero", srv.URL, Capabilities{AuthType: AuthAPIKey, RealTimeSync: true}, srv.Client())
	id, err := p.Push(context.Background(), Credentials{APIKey: "key-1"}, AppointmentPayload{AppointmentID: "appt-7", Start: start})
	require.NoError(t, err)
	require.Equal(t, "ch-100", id)
}

func TestRESTProvider_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewRESTProvider("acuity", srv.URL, Capabilities{AuthType: AuthAPIKey}, srv.Client())
	_, err := p.Push(context.Background(), Credentials{APIKey: "k"}, AppointmentPayload{AppointmentID: "a", Start: start})
	var se *SyncError
	require.ErrorAs(t, err, &se)
	require.True(t, se.Retryable)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestRESTProvider_ValidateMapsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewRESTProvider("calendly", srv.URL, Capabilities{AuthType: AuthAPIKey}, srv.Client())
	require.ErrorIs(t, p.Validate(context.Background(), Credentials{APIKey: "bad"}), ErrInvalidCredentials)
}

func TestGraphProvider_PushCarriesTransactionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/events", r.URL.Path)
		var ev graphEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		require.Equal(t, "appt-5", ev.TransactionID)
		require.Equal(t, "2026-03-10T15:00:00", ev.Start.DateTime)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "AAMk"})
	}))
	defer srv.Close()

	m := NewGraphProvider(MicrosoftConfig{})
	m.baseURL = srv.URL
	m.client = srv.Client()
	id, err := m.Push(context.Background(), Credentials{AccessToken: "a"}, AppointmentPayload{AppointmentID: "appt-5", Start: start})
	require.NoError(t, err)
	require.Equal(t, "AAMk", id)
}

func TestGraphProvider_PullSkipsFreeEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[
{"start":{"dateTime":"2026-03-10T15:00:00.0000000","timeZone":"UTC"},"end":{"dateTime":"2026-03-10T15:30:00.0000000","timeZone":"UTC"},"showAs":"busy"},
{"start":{"dateTime":"2026-03-10T16:00:00.0000000","timeZone":"UTC"},"end":{"dateTime":"2026-03-10T16:30:00.0000000","timeZone":"UTC"},"showAs":"free"}]}`))
	}))
	defer srv.Close()

	m := NewGraphProvider(MicrosoftConfig{})
	m.baseURL = srv.URL
	m.client = srv.Client()
	busy, err := m.Pull(context.Background(), Credentials{AccessToken: "a"}, start, start.Add(4*time.Hour))
	require.NoError(t, err)
	require.Equal(t, []Slot{{Start: start, End: start.Add(30 * time.Minute)}}, busy)
}
