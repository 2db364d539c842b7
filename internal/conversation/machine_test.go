package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/appointments"
	"voiceai-production/internal/audit"
	"voiceai-production/internal/calendar"
	"voiceai-production/internal/calls"
	"voiceai-production/internal/sessions"
	"voiceai-production/internal/tenants"
	"voiceai-production/internal/worker"
	"voiceai-production/pkg/retry"
)

type stubAnalyzer struct {
	result   analysis.Analysis
	degraded bool
	requests []analysis.Request
}

func (s *stubAnalyzer) AnalyzeOrDegrade(ctx context.Context, req analysis.Request) (analysis.Analysis, bool, error) {
	s.requests = append(s.requests, req)
	return s.result, s.degraded, nil
}

type harness struct {
	m        *Machine
	calls    *calls.MemoryRepo
	appts    *appointments.MemoryRepo
	queue    *worker.MemoryQueue
	audit    *audit.MemoryRepo
	analyzer *stubAnalyzer
	tenant   tenants.Tenant
}

// flakyCalls fails the next failSaves analysis writes.
type flakyCalls struct {
	*calls.MemoryRepo
	failSaves int
}

func (f *flakyCalls) SaveAnalysis(ctx context.Context, a calls.AnalysisRecord) (bool, error) {
	if f.failSaves > 0 {
		f.failSaves--
		return false, errors.New("db: connection reset")
	}
	return f.MemoryRepo.SaveAnalysis(ctx, a)
}

func newHarness(t *testing.T, queueSize int) *harness {
	return newHarnessWith(t, queueSize, nil)
}

func newHarnessWith(t *testing.T, queueSize int, wrap func(*calls.MemoryRepo) calls.Repository) *harness {
	t.Helper()
	h := &harness{
		calls:    calls.NewMemoryRepo(),
		appts:    appointments.NewMemoryRepo(),
		queue:    worker.NewMemoryQueue(queueSize),
		audit:    audit.NewMemoryRepo(),
		analyzer: &stubAnalyzer{},
		tenant: tenants.Tenant{
			ID: "t1", Name: "Bright Smiles Dental", PhoneNumber: "+15550001111",
			Mode: calls.ModeRecording, Persona: "dental office", Active: true,
		},
	}
	auditSvc := audit.NewService(h.audit, nil)
	cal := calendar.NewService(calendar.NewRegistry(), calendar.NewMemoryRepo(), sessions.NewMemoryLocker(), nil)
	resolver := appointments.NewResolver(h.appts, cal, auditSvc, nil, appointments.Config{
		DefaultThreshold: 0.8,
		Retry:            retry.Config{MaxRetries: 1, InitialDelay: time.Millisecond},
	})
	var repo calls.Repository = h.calls
	if wrap != nil {
		repo = wrap(h.calls)
	}
	h.m = NewMachine(Deps{
		Calls:    repo,
		Tenants:  tenants.NewMemoryRepo(h.tenant),
		Locks:    sessions.NewMemoryLocker(),
		Queue:    h.queue,
		Analyzer: h.analyzer,
		Resolver: resolver,
		Audit:    auditSvc,
	}, Config{DefaultThreshold: 0.8})
	return h
}

func ptr(s string) *string { return &s }

func (h *harness) startAndRecord(t *testing.T, callID, text string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: callID, From: "+15557654321", To: h.tenant.PhoneNumber})
	require.NoError(t, err)
	_, err = h.m.RecordingComplete(ctx, h.tenant, callID, "https://api.twilio.com/rec/RE1", 42, text)
	require.NoError(t, err)
}

func (h *harness) runQueued(t *testing.T) {
	t.Helper()
	for h.queue.Len() > 0 {
		j, err := h.queue.Dequeue(context.Background())
		require.NoError(t, err)
		require.NoError(t, h.m.HandleAnalysisJob(context.Background(), j))
	}
}

func (h *harness) call(t *testing.T, id string) calls.Call {
	t.Helper()
	c, err := h.calls.Get(context.Background(), id)
	require.NoError(t, err)
	return c
}

func TestStart_GreetsAndRecords(t *testing.T) {
	h := newHarness(t, 8)
	resp, err := h.m.Start(context.Background(), h.tenant, CallInfo{CallID: "CA1", From: "+15557654321"})
	require.NoError(t, err)
	require.Contains(t, resp.Say, "Bright Smiles Dental")
	require.NotNil(t, resp.Record)
	require.True(t, resp.Record.Transcribe)

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateAwaitingSpeech, c.State)
	require.Equal(t, calls.StatusInProgress, c.Status)
}

func TestStart_DuplicateIsNoop(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()
	first, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)
	before := h.call(t, "CA1")

	second, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, before, h.call(t, "CA1"))
}

func TestStart_StreamingTenantConnectsStream(t *testing.T) {
	h := newHarness(t, 8)
	h.tenant.Mode = calls.ModeStreaming
	resp, err := h.m.Start(context.Background(), h.tenant, CallInfo{CallID: "CA2"})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	require.Equal(t, "CA2", resp.Stream.CallID)
	require.Equal(t, calls.StateOpening, h.call(t, "CA2").State)
}

func TestRecordingComplete_DuplicateCreatesOneTranscriptAndOneJob(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()
	h.startAndRecord(t, "CA123", "I'd like to book a cleaning tomorrow at 3pm")

	resp, err := h.m.RecordingComplete(ctx, h.tenant, "CA123", "https://api.twilio.com/rec/RE1", 42, "I'd like to book a cleaning tomorrow at 3pm")
	require.NoError(t, err)
	require.True(t, resp.Hangup)

	require.Equal(t, 1, h.calls.TranscriptInserts("CA123"))
	require.Equal(t, 1, h.queue.Len())
	require.Len(t, h.audit.OfType(audit.EventTypeInvalidCallState), 1)
}

func TestRecordingComplete_WaitsForTranscription(t *testing.T) {
	h := newHarness(t, 8)
	h.startAndRecord(t, "CA1", "")
	require.Equal(t, calls.StateRecorded, h.call(t, "CA1").State)
	require.Zero(t, h.queue.Len())

	require.NoError(t, h.m.TranscriptionReady(context.Background(), h.tenant, "CA1", "What are your hours?", false))
	require.Equal(t, calls.StateAnalyzing, h.call(t, "CA1").State)
	require.Equal(t, 1, h.queue.Len())
}

func TestTranscriptionBeforeRecordingCallback(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()
	_, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)

	require.NoError(t, h.m.TranscriptionReady(ctx, h.tenant, "CA1", "Please call me back", false))
	_, err = h.m.RecordingComplete(ctx, h.tenant, "CA1", "https://api.twilio.com/rec/RE1", 10, "")
	require.NoError(t, err)

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateAnalyzing, c.State)
	require.Equal(t, "https://api.twilio.com/rec/RE1", c.RecordingURL)
	require.Equal(t, 10, c.DurationSeconds)
	require.Equal(t, 1, h.calls.TranscriptInserts("CA1"))
	require.Equal(t, 1, h.queue.Len())

	tr, err := h.calls.GetTranscript(ctx, "CA1")
	require.NoError(t, err)
	require.Equal(t, "https://api.twilio.com/rec/RE1", tr.RecordingURL)
	require.Equal(t, "Please call me back", tr.Text)
}

func TestRecordingAfterAnalysisIsKept(t *testing.T) {
	h := newHarness(t, 8)
	h.analyzer.result = analysis.Analysis{Outcome: analysis.OutcomeInformationOnly, Confidence: 0.9}
	ctx := context.Background()
	_, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)
	require.NoError(t, h.m.TranscriptionReady(ctx, h.tenant, "CA1", "What are your hours?", false))
	h.runQueued(t)
	require.Equal(t, calls.StateCompleted, h.call(t, "CA1").State)

	_, err = h.m.RecordingComplete(ctx, h.tenant, "CA1", "https://api.twilio.com/rec/RE9", 31, "")
	require.NoError(t, err)

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCompleted, c.State)
	require.Equal(t, calls.StateInformationOnly, c.Outcome)
	require.Equal(t, "https://api.twilio.com/rec/RE9", c.RecordingURL)
	require.Equal(t, 31, c.DurationSeconds)
	require.Empty(t, h.audit.OfType(audit.EventTypeInvalidCallState))
}

func TestAnalysis_ScheduledCreatesAppointment(t *testing.T) {
	h := newHarness(t, 8)
	h.analyzer.result = analysis.Analysis{
		Outcome: analysis.OutcomeScheduled, Confidence: 0.92,
		PatientName: ptr("Sarah Johnson"), ServiceType: ptr("cleaning"), PreferredTime: ptr("tomorrow at 3pm"),
	}
	h.startAndRecord(t, "CA1", "This is Sarah Johnson, I'd like a cleaning tomorrow at 3pm")
	h.runQueued(t)

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCompleted, c.State)
	require.Equal(t, calls.StateScheduled, c.Outcome)
	require.NotNil(t, c.EndedAt)

	appt, err := h.appts.GetByCall(context.Background(), "CA1")
	require.NoError(t, err)
	require.Equal(t, "Sarah Johnson", appt.PatientName)

	rec, err := h.calls.GetAnalysis(context.Background(), "CA1")
	require.NoError(t, err)
	require.False(t, rec.Forced)
	require.Equal(t, "dental office", h.analyzer.requests[0].Persona)
}

func TestAnalysis_LowConfidenceForcesCallback(t *testing.T) {
	h := newHarness(t, 8)
	h.analyzer.result = analysis.Analysis{Outcome: analysis.OutcomeScheduled, Confidence: 0.6, ServiceType: ptr("cleaning")}
	h.startAndRecord(t, "CA1", "maybe a cleaning sometime")
	h.runQueued(t)

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCompleted, c.State)
	require.Equal(t, calls.StateCallbackNeeded, c.Outcome)
	require.Contains(t, c.Notes, "below threshold")

	_, err := h.appts.GetByCall(context.Background(), "CA1")
	require.ErrorIs(t, err, appointments.ErrNotFound)

	rec, err := h.calls.GetAnalysis(context.Background(), "CA1")
	require.NoError(t, err)
	require.True(t, rec.Forced)
	require.Equal(t, string(analysis.OutcomeCallbackNeeded), rec.Outcome)
	require.Len(t, h.audit.OfType(audit.EventTypeForcedCallback), 1)
}

func TestAnalysis_TenantThresholdOverridesDefault(t *testing.T) {
	h := newHarness(t, 8)
	h.tenant.ConfidenceThreshold = 0.5
	h.m.tenants = tenants.NewMemoryRepo(h.tenant)
	h.analyzer.result = analysis.Analysis{Outcome: analysis.OutcomeScheduled, Confidence: 0.6}
	h.startAndRecord(t, "CA1", "book a checkup")
	h.runQueued(t)

	require.Equal(t, calls.StateScheduled, h.call(t, "CA1").Outcome)
}

func TestAnalysis_DegradedRoutesToCallback(t *testing.T) {
	h := newHarness(t, 8)
	h.analyzer.result = analysis.Analysis{Outcome: analysis.OutcomeCallbackNeeded, Notes: "analysis unavailable after 3 attempt(s)"}
	h.analyzer.degraded = true
	h.startAndRecord(t, "CA1", "hello")
	h.runQueued(t)

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCallbackNeeded, c.Outcome)
	require.Contains(t, c.Notes, "unavailable")
	require.Len(t, h.audit.OfType(audit.EventTypeAnalysisFailed), 1)
}

func TestAnalysis_JobForSettledCallIsDiscarded(t *testing.T) {
	h := newHarness(t, 8)
	h.analyzer.result = analysis.Analysis{Outcome: analysis.OutcomeInformationOnly, Confidence: 0.9}
	h.startAndRecord(t, "CA1", "what are your hours")
	h.runQueued(t)
	require.Len(t, h.analyzer.requests, 1)

	require.NoError(t, h.m.HandleAnalysisJob(context.Background(), worker.Job{Kind: worker.KindAnalyzeCall, CallID: "CA1", TenantID: "t1", Seq: 1}))
	require.Len(t, h.analyzer.requests, 1)
	require.Equal(t, calls.StateInformationOnly, h.call(t, "CA1").Outcome)
}

func TestAnalysisExpired_ForcesCallback(t *testing.T) {
	h := newHarness(t, 8)
	h.startAndRecord(t, "CA1", "hello")
	j, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)

	h.m.AnalysisExpired(context.Background(), j)
	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCompleted, c.State)
	require.Equal(t, calls.StateCallbackNeeded, c.Outcome)
	require.Contains(t, c.Notes, "timed out")
}

func TestAnalysisJobError_RoutesToCallback(t *testing.T) {
	h := newHarnessWith(t, 8, func(r *calls.MemoryRepo) calls.Repository {
		return &flakyCalls{MemoryRepo: r, failSaves: 1}
	})
	h.analyzer.result = analysis.Analysis{Outcome: analysis.OutcomeInformationOnly, Confidence: 0.9}
	h.startAndRecord(t, "CA1", "what are your hours")

	pool := worker.NewPool(h.queue, worker.PoolConfig{Workers: 1, JobTimeout: time.Second}, nil)
	pool.Handle(worker.KindAnalyzeCall, h.m.HandleAnalysisJob)
	pool.OnTimeout(h.m.AnalysisExpired)
	pool.OnFailure(h.m.AnalysisFailed)

	j, err := h.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.ErrorContains(t, pool.Process(context.Background(), j), "connection reset")

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCompleted, c.State)
	require.Equal(t, calls.StateCallbackNeeded, c.Outcome)
	require.Contains(t, c.Notes, "connection reset")
	require.Len(t, h.audit.OfType(audit.EventTypeAnalysisFailed), 1)
	require.Zero(t, h.queue.Len())
}

func TestQueueFull_RoutesToCallback(t *testing.T) {
	h := newHarness(t, 1)
	require.NoError(t, h.queue.Enqueue(context.Background(), worker.Job{Kind: worker.KindAnalyzeCall, CallID: "other"}))
	h.startAndRecord(t, "CA1", "hello")

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCallbackNeeded, c.Outcome)
	require.Contains(t, c.Notes, "could not be queued")
}

func TestStatusUpdate_HangupBeforeRecording(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()
	_, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)

	require.NoError(t, h.m.StatusUpdate(ctx, h.tenant, "CA1", calls.StatusCompleted, 7))
	c := h.call(t, "CA1")
	require.Equal(t, calls.StateCompleted, c.State)
	require.Equal(t, calls.StateCallbackNeeded, c.Outcome)
	require.Equal(t, 7, c.DurationSeconds)
	require.Contains(t, c.Notes, "hung up")
}

func TestStatusUpdate_ProviderFailure(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()
	_, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)

	require.NoError(t, h.m.StatusUpdate(ctx, h.tenant, "CA1", calls.StatusFailed, 0))
	require.Equal(t, calls.StateFailed, h.call(t, "CA1").State)
}

func TestStatusUpdate_AfterRecordingKeepsAnalysis(t *testing.T) {
	h := newHarness(t, 8)
	h.startAndRecord(t, "CA1", "hello")
	require.NoError(t, h.m.StatusUpdate(context.Background(), h.tenant, "CA1", calls.StatusCompleted, 50))

	c := h.call(t, "CA1")
	require.Equal(t, calls.StateAnalyzing, c.State)
	require.Equal(t, calls.StatusCompleted, c.Status)
}

func TestEvents_AreTenantScoped(t *testing.T) {
	h := newHarness(t, 8)
	h.startAndRecord(t, "CA1", "")
	other := tenants.Tenant{ID: "t2"}
	_, err := h.m.RecordingComplete(context.Background(), other, "CA1", "x", 1, "hi")
	require.ErrorIs(t, err, calls.ErrNotFound)
}

func TestFail(t *testing.T) {
	h := newHarness(t, 8)
	ctx := context.Background()
	_, err := h.m.Start(ctx, h.tenant, CallInfo{CallID: "CA1"})
	require.NoError(t, err)
	require.NoError(t, h.m.Fail(ctx, "t1", "CA1", "media error"))
	c := h.call(t, "CA1")
	require.Equal(t, calls.StateFailed, c.State)
	require.Equal(t, "media error", c.Notes)
}
