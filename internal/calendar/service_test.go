package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voiceai-production/internal/sessions"
)

func newTestService(t *testing.T, ps ...Provider) (*Service, *MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	return NewService(NewRegistry(ps...), repo, sessions.NewMemoryLocker(), nil), repo
}

func payload(id string) AppointmentPayload {
	return AppointmentPayload{
		AppointmentID: id,
		PatientName:   "Sarah Johnson",
		ServiceType:   "cleaning",
		Start:         time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
	}
}

func TestService_PushIsIdempotentPerAppointment(t *testing.T) {
	ctx := context.Background()
	prov := NewMemoryProvider("curvehero", Capabilities{AuthType: AuthAPIKey, RealTimeSync: true})
	svc, _ := newTestService(t, prov)

	_, err := svc.Connect(ctx, "t1", "curvehero", Credentials{APIKey: "k"})
	require.NoError(t, err)

	first, err := svc.Push(ctx, "t1", "", payload("appt-1"))
	require.NoError(t, err)
	second, err := svc.Push(ctx, "t1", "", payload("appt-1"))
	require.NoError(t, err)

	require.Equal(t, first.ExternalID, second.ExternalID)
	require.Equal(t, 1, prov.Pushes())
	require.Equal(t, 1, prov.Events())
}

func TestService_FailedPushLeavesNoReceipt(t *testing.T) {
	ctx := context.Background()
	prov := NewMemoryProvider("google", Capabilities{AuthType: AuthOAuth2, RealTimeSync: true})
	prov.FailNext(statusError("google", 503, errors.New("unavailable")))
	svc, repo := newTestService(t, prov)
	_, err := svc.Connect(ctx, "t1", "google", Credentials{AccessToken: "a"})
	require.NoError(t, err)

	_, err = svc.Push(ctx, "t1", "", payload("appt-2"))
	require.ErrorIs(t, err, ErrSyncFailure)
	var se *SyncError
	require.ErrorAs(t, err, &se)
	require.True(t, se.IsRetryable())

	_, ok, _ := repo.GetReceipt(ctx, "appt-2", "google")
	require.False(t, ok)

	rc, err := svc.Push(ctx, "t1", "", payload("appt-2"))
	require.NoError(t, err)
	require.NotEmpty(t, rc.ExternalID)
	require.Equal(t, 1, prov.Events())
}

func TestService_PushWithoutConnection(t *testing.T) {
	svc, _ := newTestService(t, NewMemoryProvider("google", Capabilities{}))
	_, err := svc.Push(context.Background(), "t1", "", payload("appt-3"))
	require.ErrorIs(t, err, ErrNoConnection)
}

func TestService_ConnectReplacesEarlierConnection(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t, NewMemoryProvider("google", Capabilities{AuthType: AuthOAuth2}))

	_, err := svc.Connect(ctx, "t1", "google", Credentials{AccessToken: "old"})
	require.NoError(t, err)
	_, err = svc.Connect(ctx, "t1", "google", Credentials{AccessToken: "new"})
	require.NoError(t, err)

	conns, err := repo.ActiveConnections(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	require.Equal(t, "new", conns[0].Credentials.AccessToken)
}

func TestService_ConnectionsAreTenantScoped(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewMemoryProvider("acuity", Capabilities{AuthType: AuthAPIKey}))
	_, err := svc.Connect(ctx, "t1", "acuity", Credentials{APIKey: "k1"})
	require.NoError(t, err)

	_, err = svc.Active(ctx, "t2", "")
	require.ErrorIs(t, err, ErrNoConnection)
}

func TestService_ActivePrefersTenantProvider(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t,
		NewMemoryProvider("google", Capabilities{AuthType: AuthOAuth2}),
		NewMemoryProvider("acuity", Capabilities{AuthType: AuthAPIKey}),
	)
	_, err := svc.Connect(ctx, "t1", "google", Credentials{AccessToken: "a"})
	require.NoError(t, err)
	_, err = svc.Connect(ctx, "t1", "acuity", Credentials{APIKey: "k"})
	require.NoError(t, err)

	b, err := svc.Active(ctx, "t1", "google")
	require.NoError(t, err)
	require.Equal(t, "google", b.Provider.Key())
}

func TestService_Disconnect(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewMemoryProvider("google", Capabilities{AuthType: AuthOAuth2}))
	_, err := svc.Connect(ctx, "t1", "google", Credentials{AccessToken: "a"})
	require.NoError(t, err)

	require.NoError(t, svc.Disconnect(ctx, "t1", "google"))
	_, err = svc.Active(ctx, "t1", "")
	require.ErrorIs(t, err, ErrNoConnection)
	require.ErrorIs(t, svc.Disconnect(ctx, "t1", "google"), ErrNoConnection)
}

func TestService_ConnectRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, NewMemoryProvider("google", Capabilities{AuthType: AuthOAuth2}))

	_, err := svc.Connect(ctx, "t1", "outlook-2003", Credentials{AccessToken: "a"})
	require.ErrorIs(t, err, ErrUnknownProvider)

	_, err = svc.Connect(ctx, "t1", "google", Credentials{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_Availability(t *testing.T) {
	ctx := context.Background()
	prov := NewMemoryProvider("google", Capabilities{AuthType: AuthOAuth2})
	day := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	prov.SetBusy(Slot{Start: day.Add(time.Hour), End: day.Add(90 * time.Minute)})
	svc, _ := newTestService(t, prov)
	_, err := svc.Connect(ctx, "t1", "google", Credentials{AccessToken: "a"})
	require.NoError(t, err)

	free, err := svc.PullAvailability(ctx, "t1", "", day, day.Add(2*time.Hour), 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, free, 3)
	require.Equal(t, day.Add(90*time.Minute), free[2].Start)
}

func TestService_AuthCodeURLNeedsOAuthProvider(t *testing.T) {
	svc, _ := newTestService(t,
		NewGoogleProvider(GoogleConfig{ClientID: "cid", RedirectURL: "https://voice.example.com/cb"}),
		NewAcuityProvider(nil),
	)
	u, err := svc.AuthCodeURL("google", "st")
	require.NoError(t, err)
	require.Contains(t, u, "state=st")
	require.Contains(t, u, "access_type=offline")

	_, err = svc.AuthCodeURL("acuity", "st")
	require.Error(t, err)
}
