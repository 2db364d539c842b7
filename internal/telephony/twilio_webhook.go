package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"voiceai-production/internal/calls"
)

// TwilioForm captures the voice webhook fields we use. Twilio posts
// application/x-www-form-urlencoded; the same shape covers the voice,
// recording, transcription and status callbacks.
// Ref: https://www.twilio.com/docs/usage/webhooks/voice-webhooks
type TwilioForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	CallStatus string
	Direction  string

	CallDuration int

	RecordingSid      string
	RecordingURL      string
	RecordingDuration int

	TranscriptionText   string
	TranscriptionStatus string
}

func ParseTwilioForm(r *http.Request) (TwilioForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioForm{}, err
	}
	return TwilioForm{
		CallSid:             strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:          r.PostFormValue("AccountSid"),
		From:                normalizePhone(r.PostFormValue("From")),
		To:                  normalizePhone(r.PostFormValue("To")),
		CallStatus:          r.PostFormValue("CallStatus"),
		Direction:           r.PostFormValue("Direction"),
		CallDuration:        atoi(r.PostFormValue("CallDuration")),
		RecordingSid:        r.PostFormValue("RecordingSid"),
		RecordingURL:        strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingDuration:   atoi(r.PostFormValue("RecordingDuration")),
		TranscriptionText:   strings.TrimSpace(r.PostFormValue("TranscriptionText")),
		TranscriptionStatus: r.PostFormValue("TranscriptionStatus"),
	}, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func normalizePhone(s string) string {
	// Form decoding turns an unescaped "+" into a space.
	if strings.HasPrefix(s, " ") && strings.TrimSpace(s) != "" {
		return "+" + strings.TrimSpace(s)
	}
	return strings.TrimSpace(s)
}

// TwilioStatus maps Twilio's CallStatus onto calls.Status.
func TwilioStatus(s string) calls.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return calls.StatusQueued
	case "ringing":
		return calls.StatusRinging
	case "in-progress", "answered":
		return calls.StatusInProgress
	case "completed":
		return calls.StatusCompleted
	case "busy":
		return calls.StatusBusy
	case "no-answer":
		return calls.StatusNoAnswer
	case "canceled":
		return calls.StatusCanceled
	default:
		return calls.StatusFailed
	}
}

// Event converts the form to a gateway event of the given kind.
func (f TwilioForm) Event(kind EventKind, tenantID string, now time.Time) Event {
	ev := Event{
		Kind:       kind,
		TenantID:   tenantID,
		CallID:     f.CallSid,
		From:       f.From,
		To:         f.To,
		OccurredAt: now,
	}
	switch kind {
	case EventRecordingComplete:
		ev.RecordingURL = f.RecordingURL
		ev.RecordingDuration = f.RecordingDuration
		if ev.RecordingDuration == 0 {
			ev.RecordingDuration = f.CallDuration
		}
		ev.TranscriptText = f.TranscriptionText
	case EventTranscriptionReady:
		ev.TranscriptText = f.TranscriptionText
		ev.TranscriptFailed = strings.EqualFold(f.TranscriptionStatus, "failed")
	case EventStatusUpdate:
		ev.Status = TwilioStatus(f.CallStatus)
		ev.Duration = f.CallDuration
	}
	return ev
}
