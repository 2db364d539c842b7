package streaming

import (
	"context"
	"errors"
	"time"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/tenants"
)

var (
	ErrNoSession   = errors.New("streaming: no open session for call")
	ErrStreamLimit = errors.New("streaming: concurrent stream limit reached")
)

// Chunk is one piece of recognised speech from the transport. Seq orders
// chunks of one call; 0 means "next in arrival order".
type Chunk struct {
	Seq     int64
	Speaker string
	Text    string
	// Final is the provider's end-of-utterance flag.
	Final bool
	At    time.Time
}

// Outbound carries agent speech back to the caller.
type Outbound interface {
	SendText(ctx context.Context, text string, last bool) error
}

// Session is the in-memory state of one open stream, owned by the session
// store under the call id.
type Session struct {
	Tenant tenants.Tenant
	CallID string
	Out    Outbound

	// Gen increases on every response cycle start, interruption and close.
	// A cycle only applies its result while Gen still matches.
	Gen    uint64
	Cancel context.CancelFunc

	LastSeq     int64
	LastSpeaker string
	// Buffered counts caller utterances since the last cycle started.
	Buffered int
	Silence  *time.Timer

	Interruptions int
	Scheduled     bool
	AppointmentID string
	LastOutcome   analysis.Outcome

	CapHeld bool
	Closed  bool
}
