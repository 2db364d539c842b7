package logger

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		notHave string
	}{
		{"call me at 555-123-4567 please", "[PHONE]", "555-123-4567"},
		{"email jane.doe@example.com", "[EMAIL]", "jane.doe@example.com"},
		{"ssn 123-45-6789", "[SSN]", "123-45-6789"},
		{"card 4111 1111 1111 1111", "[CARD]", "4111 1111"},
		{"hi, my name is Jane Smith", "my name is [NAME]", "Jane"},
	}
	for _, tc := range cases {
		got := RedactPII(tc.in)
		if !strings.Contains(got, tc.want) {
			t.Fatalf("RedactPII(%q)=%q, want it to contain %q", tc.in, got, tc.want)
		}
		if strings.Contains(got, tc.notHave) {
			t.Fatalf("RedactPII(%q)=%q still contains %q", tc.in, got, tc.notHave)
		}
	}
}

func TestRedactPII_LeavesPlainText(t *testing.T) {
	in := "I would like a cleaning next week"
	if got := RedactPII(in); got != in {
		t.Fatalf("unexpected change: %q", got)
	}
}
