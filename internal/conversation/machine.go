package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/appointments"
	"voiceai-production/internal/audit"
	"voiceai-production/internal/calls"
	"voiceai-production/internal/sessions"
	"voiceai-production/internal/tenants"
	"voiceai-production/internal/worker"
	"voiceai-production/pkg/logger"
)

type Analyzer interface {
	AnalyzeOrDegrade(ctx context.Context, req analysis.Request) (analysis.Analysis, bool, error)
}

type Resolver interface {
	Resolve(ctx context.Context, t tenants.Tenant, call calls.Call, a analysis.Analysis) (appointments.Appointment, error)
}

type Auditor interface {
	Record(ctx context.Context, tenantID string, t audit.EventType, callID, appointmentID, message string, meta map[string]any)
}

type Config struct {
	DefaultThreshold      float64
	MaxRecordSeconds      int
	SilenceTimeoutSeconds int
}

// Machine drives recording-mode calls. Every event for a call runs under that
// call's lock; analysis runs behind the worker queue.
type Machine struct {
	calls    calls.Repository
	tenants  tenants.Repository
	locks    sessions.Locker
	queue    worker.Queue
	analyzer Analyzer
	resolver Resolver
	audit    Auditor
	cfg      Config
	now      func() time.Time
}

type Deps struct {
	Calls    calls.Repository
	Tenants  tenants.Repository
	Locks    sessions.Locker
	Queue    worker.Queue
	Analyzer Analyzer
	Resolver Resolver
	Audit    Auditor
}

func NewMachine(d Deps, cfg Config) *Machine {
	if cfg.MaxRecordSeconds <= 0 {
		cfg.MaxRecordSeconds = 120
	}
	if cfg.SilenceTimeoutSeconds <= 0 {
		cfg.SilenceTimeoutSeconds = 5
	}
	return &Machine{
		calls:    d.Calls,
		tenants:  d.Tenants,
		locks:    d.Locks,
		queue:    d.Queue,
		analyzer: d.Analyzer,
		resolver: d.Resolver,
		audit:    d.Audit,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CallInfo is what the provider tells us when a call arrives.
type CallInfo struct {
	CallID string
	From   string
	To     string
}

func (m *Machine) withCall(ctx context.Context, callID string, fn func() error) error {
	unlock, err := m.locks.Lock(ctx, "call:"+callID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func (m *Machine) logFor(ctx context.Context, tenantID, callID string) *slog.Logger {
	return logger.ForCall(ctx, tenantID, callID)
}

// load returns the call if it belongs to the tenant.
func (m *Machine) load(ctx context.Context, tenantID, callID string) (calls.Call, error) {
	c, err := m.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if c.TenantID != tenantID {
		return calls.Call{}, calls.ErrNotFound
	}
	return c, nil
}

func (m *Machine) transition(c *calls.Call, to calls.State) error {
	return c.Transition(to, m.now().UTC())
}

// invalid logs and audits an event that does not fit the call's state. The
// event is otherwise ignored.
func (m *Machine) invalid(ctx context.Context, c calls.Call, event string) {
	m.logFor(ctx, c.TenantID, c.CallID).Info("event ignored for call state", "event", event, "state", string(c.State))
	if m.audit != nil {
		m.audit.Record(ctx, c.TenantID, audit.EventTypeInvalidCallState, c.CallID, "",
			fmt.Sprintf("%s ignored in state %s", event, c.State), nil)
	}
}

func (m *Machine) greetingResponse(t tenants.Tenant, c calls.Call) Response {
	if c.Mode == calls.ModeStreaming {
		return Response{Stream: &StreamAction{TenantID: t.ID, CallID: c.CallID, Greeting: t.GreetingText()}}
	}
	return Response{
		Say: t.GreetingText(),
		Record: &RecordAction{
			MaxLengthSeconds:      m.cfg.MaxRecordSeconds,
			SilenceTimeoutSeconds: m.cfg.SilenceTimeoutSeconds,
			Transcribe:            true,
		},
	}
}

// Start answers a new call. A repeated start for a known call id changes
// nothing and repeats the original answer.
func (m *Machine) Start(ctx context.Context, t tenants.Tenant, in CallInfo) (Response, error) {
	if in.CallID == "" {
		return Response{}, calls.ErrInvalidArgument
	}
	var resp Response
	err := m.withCall(ctx, in.CallID, func() error {
		now := m.now().UTC()
		mode := t.CallMode()
		c, created, err := m.calls.CreateIfAbsent(ctx, calls.Call{
			CallID:    in.CallID,
			TenantID:  t.ID,
			From:      in.From,
			To:        in.To,
			Mode:      mode,
			Status:    calls.StatusRinging,
			State:     calls.InitialState(mode),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if c.TenantID != t.ID {
			return calls.ErrNotFound
		}
		if !created {
			m.logFor(ctx, t.ID, c.CallID).Info("duplicate start ignored", "state", string(c.State))
			resp = m.greetingResponse(t, c)
			return nil
		}
		if c.Mode == calls.ModeRecording {
			if err := m.transition(&c, calls.StateGreeting); err != nil {
				return err
			}
			if err := m.transition(&c, calls.StateAwaitingSpeech); err != nil {
				return err
			}
		}
		c.Status = calls.StatusInProgress
		if err := m.calls.Update(ctx, c); err != nil {
			return err
		}
		m.logFor(ctx, t.ID, c.CallID).Info("call started", "mode", string(c.Mode))
		resp = m.greetingResponse(t, c)
		return nil
	})
	return resp, err
}

// RecordingComplete stores the recording reference. When the provider
// already supplied the transcription the call moves on to analysis;
// otherwise it waits in Recorded for TranscriptionReady. A callback that
// arrives after the transcription only attaches the recording.
func (m *Machine) RecordingComplete(ctx context.Context, t tenants.Tenant, callID, recordingURL string, durationSeconds int, transcript string) (Response, error) {
	err := m.withCall(ctx, callID, func() error {
		c, err := m.load(ctx, t.ID, callID)
		if err != nil {
			return err
		}
		switch {
		case c.State == calls.StateAwaitingSpeech:
		case c.State == calls.StateRecorded, c.State == calls.StateAnalyzing,
			c.State.IsOutcome(), c.State.Terminal():
			return m.attachRecording(ctx, &c, recordingURL, durationSeconds)
		default:
			m.invalid(ctx, c, "recording-complete")
			return nil
		}
		now := m.now().UTC()
		tr, created, err := m.calls.SaveTranscript(ctx, calls.Transcript{
			ID:           uuid.NewString(),
			CallID:       callID,
			TenantID:     t.ID,
			RecordingURL: recordingURL,
			Text:         transcript,
			Final:        transcript != "",
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		if !created && transcript != "" && tr.Text == "" {
			if tr, err = m.calls.SetTranscriptText(ctx, callID, transcript, true, now); err != nil {
				return err
			}
		}
		if err := m.transition(&c, calls.StateRecorded); err != nil {
			return err
		}
		c.RecordingURL = recordingURL
		if durationSeconds > 0 {
			c.DurationSeconds = durationSeconds
		}
		if tr.Final {
			return m.beginAnalysis(ctx, &c)
		}
		return m.calls.Update(ctx, c)
	})
	if err != nil {
		return Response{}, err
	}
	return farewell(), nil
}

// attachRecording stores a late recording reference without moving the call.
// A repeat of the callback already applied is reported as invalid.
func (m *Machine) attachRecording(ctx context.Context, c *calls.Call, recordingURL string, durationSeconds int) error {
	sameURL := recordingURL == "" || recordingURL == c.RecordingURL
	sameDuration := durationSeconds <= 0 || durationSeconds == c.DurationSeconds
	if sameURL && sameDuration {
		m.invalid(ctx, *c, "recording-complete")
		return nil
	}
	if recordingURL != "" {
		c.RecordingURL = recordingURL
		_, err := m.calls.SetTranscriptRecording(ctx, c.CallID, recordingURL, m.now().UTC())
		if err != nil && !errors.Is(err, calls.ErrNotFound) {
			return err
		}
	}
	if durationSeconds > 0 {
		c.DurationSeconds = durationSeconds
	}
	m.logFor(ctx, c.TenantID, c.CallID).Info("recording attached", "state", string(c.State))
	return m.calls.Update(ctx, *c)
}

// TranscriptionReady fills the transcript text and starts analysis. It
// accepts the transcription arriving before or after the recording callback.
// An empty text with failed=true still proceeds, and analysis degrades to a
// callback.
func (m *Machine) TranscriptionReady(ctx context.Context, t tenants.Tenant, callID, text string, failed bool) error {
	return m.withCall(ctx, callID, func() error {
		c, err := m.load(ctx, t.ID, callID)
		if err != nil {
			return err
		}
		now := m.now().UTC()
		switch c.State {
		case calls.StateAwaitingSpeech:
			if _, _, err := m.calls.SaveTranscript(ctx, calls.Transcript{
				ID: uuid.NewString(), CallID: callID, TenantID: t.ID, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
			if err := m.transition(&c, calls.StateRecorded); err != nil {
				return err
			}
		case calls.StateRecorded:
		default:
			m.invalid(ctx, c, "transcription-ready")
			return nil
		}
		if _, err := m.calls.SetTranscriptText(ctx, callID, text, true, now); err != nil {
			return err
		}
		if failed {
			c.AddNote("transcription failed")
		}
		return m.beginAnalysis(ctx, &c)
	})
}

// beginAnalysis moves Recorded -> Analyzing and enqueues the job. A full
// queue routes the call to a callback instead of dropping it.
func (m *Machine) beginAnalysis(ctx context.Context, c *calls.Call) error {
	if err := m.transition(c, calls.StateAnalyzing); err != nil {
		return err
	}
	if err := m.calls.Update(ctx, *c); err != nil {
		return err
	}
	job := worker.Job{Kind: worker.KindAnalyzeCall, CallID: c.CallID, TenantID: c.TenantID, Seq: 1, EnqueuedAt: m.now().UTC()}
	if err := m.queue.Enqueue(ctx, job); err != nil {
		m.logFor(ctx, c.TenantID, c.CallID).Error("analysis enqueue failed", "err", err)
		return m.finishWithCallback(ctx, c, "analysis could not be queued: "+err.Error())
	}
	return nil
}

func (m *Machine) finishWithCallback(ctx context.Context, c *calls.Call, note string) error {
	if err := m.transition(c, calls.StateCallbackNeeded); err != nil {
		return err
	}
	c.AddNote(note)
	if err := m.transition(c, calls.StateCompleted); err != nil {
		return err
	}
	return m.calls.Update(ctx, *c)
}

// StatusUpdate records the provider status. A call that ends before any
// recording becomes a callback; a provider failure fails the call.
func (m *Machine) StatusUpdate(ctx context.Context, t tenants.Tenant, callID string, status calls.Status, durationSeconds int) error {
	return m.withCall(ctx, callID, func() error {
		c, err := m.load(ctx, t.ID, callID)
		if err != nil {
			return err
		}
		c.Status = status
		if durationSeconds > 0 {
			c.DurationSeconds = durationSeconds
		}
		c.UpdatedAt = m.now().UTC()
		if !status.Ended() || c.State.Terminal() {
			return m.calls.Update(ctx, c)
		}

		if status == calls.StatusFailed {
			c.AddNote("provider reported call failure")
			if err := m.transition(&c, calls.StateFailed); err != nil {
				return err
			}
			return m.calls.Update(ctx, c)
		}
		switch c.State {
		case calls.StateRinging, calls.StateGreeting, calls.StateAwaitingSpeech:
			return m.finishWithCallback(ctx, &c, "caller hung up before leaving a message")
		case calls.StateOpening:
			c.AddNote("call ended before the stream opened")
			if err := m.transition(&c, calls.StateFailed); err != nil {
				return err
			}
		}
		return m.calls.Update(ctx, c)
	})
}

// Fail moves a call to Failed from any non-terminal state.
func (m *Machine) Fail(ctx context.Context, tenantID, callID, reason string) error {
	return m.withCall(ctx, callID, func() error {
		c, err := m.load(ctx, tenantID, callID)
		if err != nil {
			return err
		}
		if c.State.Terminal() {
			m.invalid(ctx, c, "fail")
			return nil
		}
		c.AddNote(reason)
		if err := m.transition(&c, calls.StateFailed); err != nil {
			return err
		}
		return m.calls.Update(ctx, c)
	})
}

// HandleAnalysisJob is the worker handler for KindAnalyzeCall. The call lock
// is released while the analyzer runs, so webhooks for the call are never
// held behind it; the state is re-checked before applying the result.
func (m *Machine) HandleAnalysisJob(ctx context.Context, j worker.Job) error {
	var (
		t    tenants.Tenant
		text string
		trID string
		skip bool
	)
	err := m.withCall(ctx, j.CallID, func() error {
		c, err := m.load(ctx, j.TenantID, j.CallID)
		if err != nil {
			return err
		}
		if c.State != calls.StateAnalyzing {
			m.logFor(ctx, c.TenantID, c.CallID).Info("analysis job discarded", "state", string(c.State))
			skip = true
			return nil
		}
		t, err = m.tenants.Get(ctx, j.TenantID)
		if err != nil {
			c.AddNote("tenant unavailable: " + err.Error())
			skip = true
			if terr := m.transition(&c, calls.StateFailed); terr != nil {
				return terr
			}
			return m.calls.Update(ctx, c)
		}
		tr, err := m.calls.GetTranscript(ctx, j.CallID)
		if err != nil {
			return err
		}
		text, trID = tr.CallerText(), tr.ID
		return nil
	})
	if err != nil || skip {
		if errors.Is(err, calls.ErrNotFound) {
			return nil
		}
		return err
	}

	log := m.logFor(ctx, t.ID, j.CallID)
	a, degraded, err := m.analyzer.AnalyzeOrDegrade(ctx, analysis.Request{
		CallID:     j.CallID,
		TenantID:   t.ID,
		Transcript: text,
		Persona:    t.Persona,
	})
	if err != nil {
		return err
	}
	if degraded && m.audit != nil {
		m.audit.Record(ctx, t.ID, audit.EventTypeAnalysisFailed, j.CallID, "", a.Notes, nil)
	}
	threshold := t.Threshold(m.cfg.DefaultThreshold)
	a, forced := analysis.ApplyThreshold(a, threshold)
	if forced && m.audit != nil {
		m.audit.Record(ctx, t.ID, audit.EventTypeForcedCallback, j.CallID, "", a.Notes,
			map[string]any{"confidence": a.Confidence, "threshold": threshold})
	}
	log.Info("analysis complete", "outcome", string(a.Outcome), "confidence", a.Confidence,
		"degraded", degraded, "forced", forced, "backend", a.Backend)

	return m.withCall(ctx, j.CallID, func() error {
		c, err := m.load(ctx, t.ID, j.CallID)
		if err != nil {
			return err
		}
		if c.State != calls.StateAnalyzing {
			log.Info("analysis result discarded", "state", string(c.State))
			return nil
		}
		applied, err := m.calls.SaveAnalysis(ctx, Record(a, trID, c, j.Seq, forced, m.now().UTC()))
		if err != nil {
			return err
		}
		if !applied {
			log.Info("stale analysis discarded", "seq", j.Seq)
			return nil
		}
		if degraded || forced {
			c.AddNote(a.Notes)
		}
		return m.applyOutcome(ctx, t, &c, a)
	})
}

// applyOutcome moves Analyzing to the outcome state and on to Completed,
// resolving the appointment first when the call was scheduled.
func (m *Machine) applyOutcome(ctx context.Context, t tenants.Tenant, c *calls.Call, a analysis.Analysis) error {
	if err := m.transition(c, OutcomeState(a.Outcome)); err != nil {
		return err
	}
	if c.State == calls.StateScheduled {
		if _, err := m.resolver.Resolve(ctx, t, *c, a); err != nil {
			m.logFor(ctx, t.ID, c.CallID).Error("appointment resolution failed", "err", err)
			c.AddNote("appointment could not be created: " + err.Error())
			if terr := m.transition(c, calls.StateFailed); terr != nil {
				return terr
			}
			return m.calls.Update(ctx, *c)
		}
	}
	if err := m.transition(c, calls.StateCompleted); err != nil {
		return err
	}
	return m.calls.Update(ctx, *c)
}

// AnalysisExpired runs when an analysis job outlived the background timeout.
// The call is routed to a callback so it is never silently dropped.
func (m *Machine) AnalysisExpired(ctx context.Context, j worker.Job) {
	m.abandonAnalysis(ctx, j, "analysis timed out")
}

// AnalysisFailed runs when an analysis job returned an error, e.g. a failed
// transcript read or analysis write. The call goes to a callback with the
// error as its note.
func (m *Machine) AnalysisFailed(ctx context.Context, j worker.Job, jobErr error) {
	m.abandonAnalysis(ctx, j, "analysis failed: "+jobErr.Error())
}

func (m *Machine) abandonAnalysis(ctx context.Context, j worker.Job, note string) {
	err := m.withCall(ctx, j.CallID, func() error {
		c, err := m.load(ctx, j.TenantID, j.CallID)
		if err != nil {
			return err
		}
		if c.State != calls.StateAnalyzing {
			return nil
		}
		if m.audit != nil {
			m.audit.Record(ctx, c.TenantID, audit.EventTypeAnalysisFailed, c.CallID, "", note, nil)
		}
		return m.finishWithCallback(ctx, &c, note)
	})
	if err != nil {
		m.logFor(ctx, j.TenantID, j.CallID).Error("could not settle abandoned analysis", "err", err)
	}
}

// OutcomeState maps an analysis outcome onto the call state.
func OutcomeState(o analysis.Outcome) calls.State {
	switch o {
	case analysis.OutcomeScheduled:
		return calls.StateScheduled
	case analysis.OutcomeInformationOnly:
		return calls.StateInformationOnly
	default:
		return calls.StateCallbackNeeded
	}
}

// Record converts an analysis into its persisted form.
func Record(a analysis.Analysis, transcriptID string, c calls.Call, seq int64, forced bool, now time.Time) calls.AnalysisRecord {
	return calls.AnalysisRecord{
		TranscriptID:  transcriptID,
		CallID:        c.CallID,
		TenantID:      c.TenantID,
		Seq:           seq,
		Outcome:       string(a.Outcome),
		PatientName:   analysis.Str(a.PatientName),
		PatientPhone:  analysis.Str(a.PatientPhone),
		ServiceType:   analysis.Str(a.ServiceType),
		PreferredTime: analysis.Str(a.PreferredTime),
		Confidence:    a.Confidence,
		Notes:         a.Notes,
		Forced:        forced,
		Backend:       a.Backend,
		CreatedAt:     now,
	}
}
