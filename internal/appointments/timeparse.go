package appointments

import (
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var (
	absoluteLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02 3:04pm",
		"2006-01-02 3pm",
	}

	spoken = newSpokenParser()
)

func newSpokenParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseRequestedTime resolves a caller's requested time ("tomorrow at 3pm",
// "next wednesday at 2:25 p.m.", "2026-03-10 14:00") against now in loc.
// The phrase must name a clock time and land after now; anything else
// reports false and the caller keeps the text.
func ParseRequestedTime(text string, now time.Time, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	s := strings.TrimSpace(text)
	if s == "" {
		return time.Time{}, false
	}

	at, ok := parseAbsolute(s, loc)
	if !ok {
		at, ok = parseSpoken(s, now.In(loc))
	}
	if !ok || !at.After(now) {
		return time.Time{}, false
	}
	return at, true
}

func parseAbsolute(s string, loc *time.Location) (time.Time, bool) {
	lower := strings.ToLower(s)
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
		if t, err := time.ParseInLocation(layout, lower, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseSpoken(s string, base time.Time) (time.Time, bool) {
	r, err := spoken.Parse(s, base)
	if err != nil || r == nil {
		return time.Time{}, false
	}
	// A bare day ("tomorrow", "next week") keeps the base clock time, which
	// is not something the caller asked for.
	if !namesClockTime(r.Text) {
		return time.Time{}, false
	}
	return r.Time, true
}

func namesClockTime(s string) bool {
	s = strings.ToLower(s)
	return strings.ContainsAny(s, "0123456789") ||
		strings.Contains(s, "noon") || strings.Contains(s, "midnight")
}
