package calendar

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServiceDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"Cleaning":     30 * time.Minute,
		"checkup":      45 * time.Minute,
		"Consultation": 60 * time.Minute,
		"emergency":    30 * time.Minute,
		"whitening":    45 * time.Minute,
		"":             45 * time.Minute,
	}
	for svc, want := range cases {
		require.Equal(t, want, ServiceDuration(svc), svc)
	}
}

func TestFreeSlots(t *testing.T) {
	from := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	busy := []Slot{{Start: from.Add(30 * time.Minute), End: from.Add(45 * time.Minute)}}
	free := FreeSlots(busy, from, from.Add(90*time.Minute), 30*time.Minute)
	require.Equal(t, []Slot{
		{Start: from, End: from.Add(30 * time.Minute)},
		{Start: from.Add(time.Hour), End: from.Add(90 * time.Minute)},
	}, free)

	require.Nil(t, FreeSlots(nil, from, from, 30*time.Minute))
}

func TestGoogleEventID(t *testing.T) {
	id := GoogleEventID("3f2a-appt")
	// Go's RE2 caps repeat counts at 1000, so the 5..1024 length bound is checked separately.
	require.Regexp(t, regexp.MustCompile(`^[a-v0-9]+$`), id)
	require.GreaterOrEqual(t, len(id), 5)
	require.LessOrEqual(t, len(id), 1024)
	require.Equal(t, id, GoogleEventID("3f2a-appt"))
	require.NotEqual(t, id, GoogleEventID("other"))
}

func TestPayloadEndUsesServiceDuration(t *testing.T) {
	start := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	p := AppointmentPayload{ServiceType: "consultation", Start: start}
	require.Equal(t, start.Add(time.Hour), p.End())
	require.Equal(t, "consultation", p.Summary())
}

func TestRegistryCatalogue(t *testing.T) {
	r := DefaultRegistry(GoogleConfig{}, MicrosoftConfig{})
	cat := r.Catalogue()
	keys := make([]string, 0, len(cat))
	for _, p := range cat {
		keys = append(keys, p.Key)
		if p.Key == "curvehero" {
			require.True(t, p.Capabilities.RealTimeSync)
		}
	}
	require.Equal(t, []string{"acuity", "calendly", "curvehero", "google", "microsoft"}, keys)

	_, err := r.Resolve("GOOGLE")
	require.NoError(t, err)
	_, err = r.Resolve("fax")
	require.ErrorIs(t, err, ErrUnknownProvider)
}
