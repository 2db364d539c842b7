package telephony

import (
	"context"
	"errors"
	"sync"
	"time"

	"voiceai-production/internal/calls"
	"voiceai-production/internal/conversation"
	"voiceai-production/internal/streaming"
	"voiceai-production/internal/tenants"
	"voiceai-production/pkg/logger"
)

// Gateway resolves the tenant for each event and routes it by tenant mode.
type Gateway struct {
	tenants tenants.Repository
	conv    Conversation
	streams Streams
	timeout time.Duration

	bg sync.WaitGroup
}

func NewGateway(tr tenants.Repository, conv Conversation, streams Streams, webhookTimeout time.Duration) *Gateway {
	if webhookTimeout <= 0 {
		webhookTimeout = 800 * time.Millisecond
	}
	return &Gateway{tenants: tr, conv: conv, streams: streams, timeout: webhookTimeout}
}

func (g *Gateway) tenant(ctx context.Context, ev Event) (tenants.Tenant, error) {
	if ev.TenantID != "" {
		return g.tenants.Get(ctx, ev.TenantID)
	}
	if ev.To == "" {
		return tenants.Tenant{}, tenants.ErrTenantNotFound
	}
	return g.tenants.FindByNumber(ctx, ev.To)
}

// Handle applies one event. On any error the reply is the generic decline,
// so callers can always render it.
func (g *Gateway) Handle(ctx context.Context, ev Event) (Reply, error) {
	if ev.Kind.webhook() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	reply, err := g.handle(ctx, ev)
	if err != nil {
		log := logger.ForCall(ctx, ev.TenantID, ev.CallID)
		if errors.Is(err, tenants.ErrTenantNotFound) {
			log.Warn("event for unknown tenant", "kind", string(ev.Kind), "to", ev.To)
		} else {
			log.Error("call event failed", "kind", string(ev.Kind), "err", err)
		}
		return Reply{Response: conversation.Decline(), TenantID: reply.TenantID}, err
	}
	return reply, nil
}

func (g *Gateway) handle(ctx context.Context, ev Event) (Reply, error) {
	switch ev.Kind {
	case EventAudioChunk:
		return Reply{TenantID: ev.TenantID}, g.streams.Chunk(ctx, ev.CallID, ev.Chunk)
	case EventStreamInterrupt:
		return Reply{TenantID: ev.TenantID}, g.streams.Interrupt(ctx, ev.CallID)
	case EventStreamClose:
		return Reply{TenantID: ev.TenantID}, g.streams.Close(ctx, ev.CallID)
	}

	t, err := g.tenant(ctx, ev)
	if err != nil {
		return Reply{}, err
	}
	ctx = logger.With(ctx, logger.ForCall(ctx, t.ID, ev.CallID))
	out := Reply{TenantID: t.ID}

	switch ev.Kind {
	case EventStart:
		out.Response, err = g.conv.Start(ctx, t, conversation.CallInfo{CallID: ev.CallID, From: ev.From, To: ev.To})
	case EventRecordingComplete:
		out.Response, err = g.conv.RecordingComplete(ctx, t, ev.CallID, ev.RecordingURL, ev.RecordingDuration, ev.TranscriptText)
	case EventTranscriptionReady:
		err = g.conv.TranscriptionReady(ctx, t, ev.CallID, ev.TranscriptText, ev.TranscriptFailed)
	case EventStatusUpdate:
		if ev.Status.Ended() && t.CallMode() == calls.ModeStreaming {
			g.closeStream(ctx, t.ID, ev.CallID)
		}
		err = g.conv.StatusUpdate(ctx, t, ev.CallID, ev.Status, ev.Duration)
	case EventStreamOpen:
		err = g.streams.Open(ctx, t, ev.CallID, ev.From, ev.Out)
	default:
		err = ErrUnknownEvent
	}
	return out, err
}

// closeStream finishes a stream whose transport never closed. The final
// analysis runs off the webhook path.
func (g *Gateway) closeStream(ctx context.Context, tenantID, callID string) {
	ctx = context.WithoutCancel(ctx)
	g.bg.Add(1)
	go func() {
		defer g.bg.Done()
		if err := g.streams.Close(ctx, callID); err != nil && !errors.Is(err, streaming.ErrNoSession) {
			logger.ForCall(ctx, tenantID, callID).Error("stream close after hangup failed", "err", err)
		}
	}()
}

// Wait blocks until background stream closes return.
func (g *Gateway) Wait() { g.bg.Wait() }
