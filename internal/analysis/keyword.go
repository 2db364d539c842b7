package analysis

import (
	"context"
	"regexp"
	"strings"
)

// KeywordBackend is the offline fallback used when no model is configured.
// Its confidence is fixed at 0.6, so with the default threshold it never
// auto-schedules on its own.
type KeywordBackend struct{}

func (KeywordBackend) Name() string { return "keyword" }

var (
	serviceKeywords = []struct {
		service string
		words   []string
	}{
		{"Cleaning", []string{"cleaning", "clean", "hygiene"}},
		{"Checkup", []string{"checkup", "check-up", "check up", "exam"}},
		{"Emergency", []string{"emergency", "urgent", "pain", "broken"}},
		{"Consultation", []string{"consultation", "consult", "new patient"}},
	}
	scheduleWords = []string{"schedule", "appointment", "book"}
	infoWords     = []string{"hours", "open", "price", "cost", "insurance", "where are you"}

	timeRe = regexp.MustCompile(`(?i)\b((?:today|tomorrow|next week|monday|tuesday|wednesday|thursday|friday|saturday|sunday)(?:\s+(?:at\s+)?\d{1,2}(?::\d{2})?\s*(?:am|pm)?)?|\d{1,2}(?::\d{2})?\s*(?:am|pm))\b`)
	nameRe = regexp.MustCompile(`\b(?i:my name is|this is)\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)`)
)

const keywordConfidence = 0.6

func (KeywordBackend) Analyze(ctx context.Context, req Request) (Analysis, error) {
	text := strings.TrimSpace(req.Transcript)
	if text == "" {
		return Analysis{}, ErrEmptyTranscript
	}
	lower := strings.ToLower(text)

	a := Analysis{
		Outcome:    OutcomeCallbackNeeded,
		Confidence: keywordConfidence,
		Notes:      "auto-processed from call transcript",
		Backend:    "keyword",
	}
	for _, sk := range serviceKeywords {
		if containsAny(lower, sk.words) {
			s := sk.service
			a.ServiceType = &s
			break
		}
	}
	switch {
	case containsAny(lower, scheduleWords):
		a.Outcome = OutcomeScheduled
	case containsAny(lower, infoWords) && !strings.Contains(lower, "call back") && !strings.Contains(lower, "callback"):
		a.Outcome = OutcomeInformationOnly
	}
	if m := timeRe.FindString(text); m != "" {
		a.PreferredTime = &m
	}
	if m := nameRe.FindStringSubmatch(text); len(m) == 2 {
		a.PatientName = &m[1]
	}
	return a, nil
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
