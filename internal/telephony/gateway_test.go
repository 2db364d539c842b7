package telephony

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voiceai-production/internal/calls"
	"voiceai-production/internal/conversation"
	"voiceai-production/internal/streaming"
	"voiceai-production/internal/tenants"
)

type stubConversation struct {
	mu          sync.Mutex
	started     []conversation.CallInfo
	statuses    []calls.Status
	hadDeadline bool
	resp        conversation.Response
}

func (s *stubConversation) Start(ctx context.Context, t tenants.Tenant, in conversation.CallInfo) (conversation.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.hadDeadline = ctx.Deadline()
	s.started = append(s.started, in)
	return s.resp, nil
}

func (s *stubConversation) RecordingComplete(ctx context.Context, t tenants.Tenant, callID, recordingURL string, durationSeconds int, transcript string) (conversation.Response, error) {
	return conversation.Response{Say: "bye", Hangup: true}, nil
}

func (s *stubConversation) TranscriptionReady(ctx context.Context, t tenants.Tenant, callID, text string, failed bool) error {
	return nil
}

func (s *stubConversation) StatusUpdate(ctx context.Context, t tenants.Tenant, callID string, status calls.Status, durationSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

type stubStreams struct {
	mu     sync.Mutex
	opened []string
	chunks []streaming.Chunk
	closed []string
	outs   []streaming.Outbound
}

func (s *stubStreams) Open(ctx context.Context, t tenants.Tenant, callID, from string, out streaming.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, callID)
	s.outs = append(s.outs, out)
	return nil
}

func (s *stubStreams) Chunk(ctx context.Context, callID string, ch streaming.Chunk) error {
	s.mu.Lock()
	s.chunks = append(s.chunks, ch)
	var out streaming.Outbound
	if len(s.outs) > 0 {
		out = s.outs[len(s.outs)-1]
	}
	s.mu.Unlock()
	if out != nil && ch.Final {
		return out.SendText(ctx, "echo: "+ch.Text, true)
	}
	return nil
}

func (s *stubStreams) Interrupt(ctx context.Context, callID string) error { return nil }

func (s *stubStreams) Close(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, callID)
	return nil
}

func (s *stubStreams) closedCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

func testTenants() *tenants.MemoryRepo {
	return tenants.NewMemoryRepo(
		tenants.Tenant{ID: "t1", Name: "Bright Smiles Dental", PhoneNumber: "+15550001111", Mode: calls.ModeRecording, Active: true},
		tenants.Tenant{ID: "t2", Name: "Harbor Dental", PhoneNumber: "+15550002222", Mode: calls.ModeStreaming, Active: true},
	)
}

func TestGateway_UnknownTenantDeclines(t *testing.T) {
	g := NewGateway(testTenants(), &stubConversation{}, &stubStreams{}, time.Second)
	reply, err := g.Handle(context.Background(), Event{Kind: EventStart, CallID: "CA1", To: "+15559999999"})
	if !errors.Is(err, tenants.ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
	if !reply.Reject || reply.Say == "" {
		t.Fatalf("expected generic decline, got %+v", reply.Response)
	}
	if reply.TenantID != "" {
		t.Fatalf("decline must not carry a tenant, got %q", reply.TenantID)
	}
}

func TestGateway_StartResolvesTenantByNumberUnderTimeout(t *testing.T) {
	conv := &stubConversation{resp: conversation.Response{Say: "hello"}}
	g := NewGateway(testTenants(), conv, &stubStreams{}, time.Second)
	reply, err := g.Handle(context.Background(), Event{Kind: EventStart, CallID: "CA1", From: "+15557654321", To: "+15550001111"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if reply.TenantID != "t1" || reply.Say != "hello" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if len(conv.started) != 1 || conv.started[0].From != "+15557654321" {
		t.Fatalf("unexpected start calls %+v", conv.started)
	}
	if !conv.hadDeadline {
		t.Fatalf("expected webhook deadline on start")
	}
}

func TestGateway_StreamingHangupClosesStream(t *testing.T) {
	conv := &stubConversation{}
	streams := &stubStreams{}
	g := NewGateway(testTenants(), conv, streams, time.Second)

	_, err := g.Handle(context.Background(), Event{Kind: EventStatusUpdate, TenantID: "t2", CallID: "CA9", Status: calls.StatusCompleted})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	g.Wait()
	if got := streams.closedCalls(); len(got) != 1 || got[0] != "CA9" {
		t.Fatalf("expected stream close for CA9, got %v", got)
	}
	if len(conv.statuses) != 1 || conv.statuses[0] != calls.StatusCompleted {
		t.Fatalf("expected status forwarded, got %v", conv.statuses)
	}
}

func TestGateway_RecordingStatusDoesNotTouchStreams(t *testing.T) {
	streams := &stubStreams{}
	g := NewGateway(testTenants(), &stubConversation{}, streams, time.Second)
	if _, err := g.Handle(context.Background(), Event{Kind: EventStatusUpdate, TenantID: "t1", CallID: "CA1", Status: calls.StatusCompleted}); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	g.Wait()
	if len(streams.closedCalls()) != 0 {
		t.Fatalf("recording tenant must not close streams")
	}
}

func TestGateway_UnknownKind(t *testing.T) {
	g := NewGateway(testTenants(), &stubConversation{}, &stubStreams{}, time.Second)
	if _, err := g.Handle(context.Background(), Event{Kind: "bogus", TenantID: "t1"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}
