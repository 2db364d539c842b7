package analysis

import (
	"fmt"
	"strings"
)

const systemPrompt = `You analyze phone call transcripts for a business receptionist.
Extract the caller's appointment request and classify the call.
Respond with a single JSON object and nothing else, using these keys:
  "patient_name": string or null,
  "patient_phone": string or null,
  "service_type": string or null,
  "preferred_time": string or null (as the caller said it, or ISO 8601 if exact),
  "outcome": one of "scheduled", "callback_needed", "information_only",
  "confidence": number between 0 and 1,
  "notes": short string.
Use "scheduled" only if the caller clearly asked to book and gave a usable time.
If unsure, lower the confidence rather than guessing.`

// BuildPrompt renders the user message for one analysis pass.
func BuildPrompt(req Request) string {
	var b strings.Builder
	if p := strings.TrimSpace(req.Persona); p != "" {
		fmt.Fprintf(&b, "Business context:\n%s\n\n", p)
	}
	if req.Incremental {
		b.WriteString("The call is still in progress; this transcript is partial.\n\n")
	}
	fmt.Fprintf(&b, "Transcript:\n%s\n", strings.TrimSpace(req.Transcript))
	return b.String()
}

// SystemPrompt returns the fixed instructions shared by all LLM backends.
func SystemPrompt() string { return systemPrompt }
