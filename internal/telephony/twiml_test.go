package telephony

import (
	"errors"
	"strings"
	"testing"

	"voiceai-production/internal/conversation"
)

var testURLs = CallbackURLs{
	Recording:     "https://voice.example.com/webhooks/twilio/recording?tenant_id=t1",
	Transcription: "https://voice.example.com/webhooks/twilio/transcription?tenant_id=t1",
	Relay:         "wss://voice.example.com/webhooks/twilio/relay?call_id=CA1&tenant_id=t1",
}

func TestRenderTwiML_GreetingAndRecord(t *testing.T) {
	xml, err := RenderTwiML(conversation.Response{
		Say:    "Thanks for calling Bright Smiles Dental.",
		Record: &conversation.RecordAction{MaxLengthSeconds: 120, SilenceTimeoutSeconds: 5, Transcribe: true},
	}, testURLs)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		"<Say>Thanks for calling Bright Smiles Dental.</Say>",
		`action="https://voice.example.com/webhooks/twilio/recording?tenant_id=t1"`,
		`maxLength="120"`,
		`timeout="5"`,
		`transcribe="true"`,
		`transcribeCallback="https://voice.example.com/webhooks/twilio/transcription?tenant_id=t1"`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in xml: %s", want, xml)
		}
	}
	if strings.Index(xml, "<Say>") > strings.Index(xml, "<Record") {
		t.Fatalf("greeting must precede record: %s", xml)
	}
}

func TestRenderTwiML_StreamConnectsRelay(t *testing.T) {
	xml, err := RenderTwiML(conversation.Response{
		Stream: &conversation.StreamAction{TenantID: "t1", CallID: "CA1", Greeting: "Hi there"},
	}, testURLs)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(xml, "<Connect>") || !strings.Contains(xml, `<ConversationRelay url="wss://voice.example.com/webhooks/twilio/relay?call_id=CA1&amp;tenant_id=t1"`) {
		t.Fatalf("expected relay connect: %s", xml)
	}
	if !strings.Contains(xml, `welcomeGreeting="Hi there"`) {
		t.Fatalf("expected welcome greeting: %s", xml)
	}
}

func TestRenderTwiML_DeclineSpeaksThenHangsUp(t *testing.T) {
	xml, err := RenderTwiML(conversation.Decline(), CallbackURLs{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(xml, "<Say>") || !strings.Contains(xml, "<Hangup>") || strings.Contains(xml, "<Reject") {
		t.Fatalf("unexpected decline twiml: %s", xml)
	}
}

func TestRenderTwiML_SilentReject(t *testing.T) {
	xml, err := RenderTwiML(conversation.Response{Reject: true}, CallbackURLs{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !strings.Contains(xml, `<Reject reason="rejected">`) {
		t.Fatalf("expected reject: %s", xml)
	}
}

func TestRenderTwiML_RecordRequiresCallback(t *testing.T) {
	_, err := RenderTwiML(conversation.Response{Record: &conversation.RecordAction{}}, CallbackURLs{})
	if !errors.Is(err, ErrMissingCallbackURL) {
		t.Fatalf("expected ErrMissingCallbackURL, got %v", err)
	}
}
