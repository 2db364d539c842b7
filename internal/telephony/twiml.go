package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"

	"voiceai-production/internal/conversation"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It avoids any provider SDK dependency and only covers the verbs the
// conversation layer emits.

var (
	ErrMissingCallbackURL = errors.New("telephony: callback url required")
)

// CallbackURLs are the absolute URLs Twilio calls back for one call.
type CallbackURLs struct {
	Recording     string
	Transcription string
	Relay         string
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlRecord struct {
	XMLName            xml.Name `xml:"Record"`
	Action             string   `xml:"action,attr"`
	Method             string   `xml:"method,attr"`
	MaxLength          int      `xml:"maxLength,attr,omitempty"`
	Timeout            int      `xml:"timeout,attr,omitempty"`
	PlayBeep           bool     `xml:"playBeep,attr"`
	Transcribe         bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
}

type twimlConnect struct {
	XMLName xml.Name `xml:"Connect"`
	Relay   twimlConversationRelay
}

type twimlConversationRelay struct {
	XMLName         xml.Name `xml:"ConversationRelay"`
	URL             string   `xml:"url,attr"`
	WelcomeGreeting string   `xml:"welcomeGreeting,attr,omitempty"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// RenderTwiML maps a conversation response to TwiML. Reject must be the
// first verb, so a decline that speaks is rendered as Say + Hangup.
func RenderTwiML(resp conversation.Response, urls CallbackURLs) (string, error) {
	var r twimlResponse

	if resp.Reject && resp.Say == "" {
		r.Verbs = append(r.Verbs, twimlReject{Reason: "rejected"})
		return encodeTwiML(r)
	}
	if resp.Say != "" && resp.Stream == nil {
		r.Verbs = append(r.Verbs, twimlSay{Text: resp.Say})
	}
	if rec := resp.Record; rec != nil {
		if urls.Recording == "" {
			return "", ErrMissingCallbackURL
		}
		v := twimlRecord{
			Action:    urls.Recording,
			Method:    "POST",
			MaxLength: rec.MaxLengthSeconds,
			Timeout:   rec.SilenceTimeoutSeconds,
			PlayBeep:  true,
		}
		if rec.Transcribe {
			if urls.Transcription == "" {
				return "", ErrMissingCallbackURL
			}
			v.Transcribe = true
			v.TranscribeCallback = urls.Transcription
		}
		r.Verbs = append(r.Verbs, v)
	}
	if st := resp.Stream; st != nil {
		if urls.Relay == "" {
			return "", ErrMissingCallbackURL
		}
		r.Verbs = append(r.Verbs, twimlConnect{Relay: twimlConversationRelay{URL: urls.Relay, WelcomeGreeting: st.Greeting}})
	}
	if resp.Hangup || resp.Reject {
		r.Verbs = append(r.Verbs, twimlHangup{})
	}
	return encodeTwiML(r)
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
