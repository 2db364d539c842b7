package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voiceai-production/internal/calls"
)

func formRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseTwilioForm(t *testing.T) {
	form, err := ParseTwilioForm(formRequest("CallSid=CA123&From=%2B15551234567&To=+15557654321&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2Frec%2FRE1&RecordingDuration=42"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}

	ev := form.Event(EventRecordingComplete, "t1", time.Unix(1700000000, 0).UTC())
	if ev.TenantID != "t1" || ev.CallID != "CA123" {
		t.Fatalf("unexpected event ids %+v", ev)
	}
	if ev.RecordingURL != "https://api.twilio.com/rec/RE1" || ev.RecordingDuration != 42 {
		t.Fatalf("unexpected recording fields %+v", ev)
	}
}

func TestTwilioForm_TranscriptionAndStatus(t *testing.T) {
	form, err := ParseTwilioForm(formRequest("CallSid=CA1&TranscriptionText=&TranscriptionStatus=failed&CallStatus=no-answer&CallDuration=7"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	tr := form.Event(EventTranscriptionReady, "t1", time.Now())
	if !tr.TranscriptFailed {
		t.Fatalf("expected failed transcription")
	}
	st := form.Event(EventStatusUpdate, "t1", time.Now())
	if st.Status != calls.StatusNoAnswer || st.Duration != 7 {
		t.Fatalf("unexpected status event %+v", st)
	}
}

func TestTwilioStatus(t *testing.T) {
	cases := map[string]calls.Status{
		"queued":      calls.StatusQueued,
		"in-progress": calls.StatusInProgress,
		"completed":   calls.StatusCompleted,
		"busy":        calls.StatusBusy,
		"canceled":    calls.StatusCanceled,
		"weird":       calls.StatusFailed,
	}
	for in, want := range cases {
		if got := TwilioStatus(in); got != want {
			t.Fatalf("TwilioStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
