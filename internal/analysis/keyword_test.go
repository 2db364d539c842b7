package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeywordBackend(t *testing.T) {
	kb := KeywordBackend{}
	ctx := context.Background()

	a, err := kb.Analyze(ctx, Request{Transcript: "Hi, my name is Jane Doe and I'd like to book a cleaning tomorrow at 3pm"})
	require.NoError(t, err)
	require.Equal(t, OutcomeScheduled, a.Outcome)
	require.Equal(t, 0.6, a.Confidence)
	require.Equal(t, "Cleaning", Str(a.ServiceType))
	require.Equal(t, "Jane Doe", Str(a.PatientName))
	require.Equal(t, "tomorrow at 3pm", Str(a.PreferredTime))

	a, err = kb.Analyze(ctx, Request{Transcript: "I have a lot of pain, please call back"})
	require.NoError(t, err)
	require.Equal(t, OutcomeCallbackNeeded, a.Outcome)
	require.Equal(t, "Emergency", Str(a.ServiceType))

	a, err = kb.Analyze(ctx, Request{Transcript: "What are your hours on Saturday?"})
	require.NoError(t, err)
	require.Equal(t, OutcomeInformationOnly, a.Outcome)

	_, err = kb.Analyze(ctx, Request{Transcript: "  "})
	require.ErrorIs(t, err, ErrEmptyTranscript)
}
