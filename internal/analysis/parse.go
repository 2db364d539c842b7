package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedResult = errors.New("analysis: malformed result")

// rawResult mirrors the JSON contract of the analysis capability. Fields are
// raw so that strings, numbers and nulls can all be accepted.
type rawResult struct {
	PatientName     json.RawMessage `json:"patient_name"`
	PatientPhone    json.RawMessage `json:"patient_phone"`
	ServiceType     json.RawMessage `json:"service_type"`
	PreferredTime   json.RawMessage `json:"preferred_time"`
	AppointmentDate json.RawMessage `json:"appointment_date"`
	AppointmentTime json.RawMessage `json:"appointment_time"`
	Outcome         json.RawMessage `json:"outcome"`
	Confidence      json.RawMessage `json:"confidence"`
	ConfidenceScore json.RawMessage `json:"confidence_score"`
	Notes           json.RawMessage `json:"notes"`
}

// ParseResult decodes a model response into an Analysis.
//
// It accepts surrounding prose or code fences, `confidence` or
// `confidence_score`, numbers or numeric strings (percentages > 1 are scaled),
// and date/time split into appointment_date + appointment_time. A missing or
// unparsable confidence is 0 and an unknown outcome is callback_needed.
func ParseResult(b []byte) (Analysis, error) {
	obj := extractObject(b)
	if obj == nil {
		return Analysis{}, ErrMalformedResult
	}
	var raw rawResult
	if err := json.Unmarshal(obj, &raw); err != nil {
		return Analysis{}, errors.Join(ErrMalformedResult, err)
	}

	a := Analysis{
		Outcome:      ParseOutcome(rawString(raw.Outcome)),
		PatientName:  optional(rawString(raw.PatientName)),
		PatientPhone: optional(rawString(raw.PatientPhone)),
		ServiceType:  optional(rawString(raw.ServiceType)),
		Notes:        rawString(raw.Notes),
	}

	preferred := rawString(raw.PreferredTime)
	if preferred == "" {
		preferred = strings.TrimSpace(rawString(raw.AppointmentDate) + " " + rawString(raw.AppointmentTime))
	}
	a.PreferredTime = optional(preferred)

	conf := raw.Confidence
	if len(conf) == 0 || string(conf) == "null" {
		conf = raw.ConfidenceScore
	}
	a.Confidence = rawConfidence(conf)
	return a, nil
}

func extractObject(b []byte) []byte {
	start := bytes.IndexByte(b, '{')
	end := bytes.LastIndexByte(b, '}')
	if start < 0 || end <= start {
		return nil
	}
	return b[start : end+1]
}

func rawString(m json.RawMessage) string {
	if len(m) == 0 || string(m) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(m, &s); err == nil {
		return strings.TrimSpace(s)
	}
	// Numbers and other scalars are kept verbatim.
	return strings.TrimSpace(string(m))
}

func rawConfidence(m json.RawMessage) float64 {
	s := rawString(m)
	if s == "" {
		return 0
	}
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	if pct || f > 1 {
		f /= 100
	}
	return clamp01(f)
}

func clamp01(f float64) float64 {
	switch {
	case f != f: // NaN
		return 0
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func optional(s string) *string {
	switch strings.ToLower(s) {
	case "", "null", "none", "unknown", "n/a":
		return nil
	}
	return &s
}
