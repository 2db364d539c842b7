package telephony

import (
	"context"
	"errors"
	"time"

	"voiceai-production/internal/calls"
	"voiceai-production/internal/conversation"
	"voiceai-production/internal/streaming"
	"voiceai-production/internal/tenants"
)

// Rules:
// - No provider specifics outside the adapters (twilio*.go, twiml.go, relay.go).
// - Every event is tenant-scoped before it reaches the conversation layer.
// - Webhook events never wait on analysis.

var ErrUnknownEvent = errors.New("telephony: unknown event kind")

type EventKind string

const (
	EventStart              EventKind = "start"
	EventAudioChunk         EventKind = "audio-chunk"
	EventRecordingComplete  EventKind = "recording-complete"
	EventTranscriptionReady EventKind = "transcription-ready"
	EventStatusUpdate       EventKind = "status-update"
	EventStreamOpen         EventKind = "stream-open"
	EventStreamInterrupt    EventKind = "stream-interrupt"
	EventStreamClose        EventKind = "stream-close"
)

// webhook reports whether the event arrives on the provider's synchronous
// request path and must answer within the webhook timeout.
func (k EventKind) webhook() bool {
	switch k {
	case EventStart, EventRecordingComplete, EventTranscriptionReady, EventStatusUpdate:
		return true
	}
	return false
}

// Event is one provider-agnostic call event.
type Event struct {
	Kind EventKind

	// TenantID may be empty on start; the gateway then resolves it from To.
	TenantID string
	CallID   string
	From     string
	To       string

	RecordingURL      string
	RecordingDuration int

	TranscriptText   string
	TranscriptFailed bool

	Status   calls.Status
	Duration int

	Chunk streaming.Chunk
	// Out is the agent speech channel for stream-open.
	Out streaming.Outbound

	OccurredAt time.Time
}

// Reply is the gateway's answer to an event.
type Reply struct {
	conversation.Response
	TenantID string
}

// Conversation is the recording-mode state machine.
type Conversation interface {
	Start(ctx context.Context, t tenants.Tenant, in conversation.CallInfo) (conversation.Response, error)
	RecordingComplete(ctx context.Context, t tenants.Tenant, callID, recordingURL string, durationSeconds int, transcript string) (conversation.Response, error)
	TranscriptionReady(ctx context.Context, t tenants.Tenant, callID, text string, failed bool) error
	StatusUpdate(ctx context.Context, t tenants.Tenant, callID string, status calls.Status, durationSeconds int) error
}

// Streams is the duplex session manager.
type Streams interface {
	Open(ctx context.Context, t tenants.Tenant, callID, from string, out streaming.Outbound) error
	Chunk(ctx context.Context, callID string, ch streaming.Chunk) error
	Interrupt(ctx context.Context, callID string) error
	Close(ctx context.Context, callID string) error
}
