package streaming

import (
	"strings"

	"voiceai-production/internal/analysis"
)

const (
	replyRepeat   = "Sorry, I didn't catch that. Could you say it again?"
	replyCallback = "Thanks, I've noted that. Someone from our team will call you back shortly."
	replyInfo     = "Happy to help. Is there anything else I can do for you?"
	replyMoreInfo = "I can help you book that. What day and time work best for you?"
)

// Reply is the agent's spoken answer to one analysis pass.
func Reply(a analysis.Analysis, err error) string {
	if err != nil {
		return replyRepeat
	}
	switch a.Outcome {
	case analysis.OutcomeScheduled:
		var b strings.Builder
		b.WriteString("Great, I have you down")
		if s := analysis.Str(a.ServiceType); s != "" {
			b.WriteString(" for a " + strings.ToLower(s))
		}
		if p := analysis.Str(a.PreferredTime); p != "" {
			b.WriteString(" " + p)
		}
		b.WriteString(". We'll send a confirmation shortly.")
		return b.String()
	case analysis.OutcomeInformationOnly:
		return replyInfo
	}
	if analysis.Str(a.ServiceType) != "" && analysis.Str(a.PreferredTime) == "" {
		return replyMoreInfo
	}
	return replyCallback
}
