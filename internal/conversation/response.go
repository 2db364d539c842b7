package conversation

// Response is the next call action, independent of any telephony provider.
// The gateway renders it (TwiML for Twilio).
type Response struct {
	Say    string
	Record *RecordAction
	Stream *StreamAction
	Hangup bool
	// Reject declines the call without answering.
	Reject bool
}

type RecordAction struct {
	MaxLengthSeconds      int
	SilenceTimeoutSeconds int
	Transcribe            bool
}

// StreamAction connects the call to the duplex session for CallID.
type StreamAction struct {
	TenantID string
	CallID   string
	Greeting string
}

const (
	farewellText = "Thank you. We have your message and will follow up shortly. Goodbye."
	declineText  = "We are sorry, this number is not available right now. Goodbye."
)

// Decline is the generic answer for calls that cannot be routed. It never
// reveals why.
func Decline() Response { return Response{Say: declineText, Reject: true} }

func farewell() Response { return Response{Say: farewellText, Hangup: true} }
