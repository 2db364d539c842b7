package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"voiceai-production/internal/analysis"
	"voiceai-production/internal/appointments"
	"voiceai-production/internal/audit"
	"voiceai-production/internal/calls"
	"voiceai-production/internal/conversation"
	"voiceai-production/internal/sessions"
	"voiceai-production/internal/tenants"
	"voiceai-production/pkg/logger"
)

type Analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (analysis.Analysis, error)
	AnalyzeOrDegrade(ctx context.Context, req analysis.Request) (analysis.Analysis, bool, error)
}

type Config struct {
	SilenceThreshold time.Duration
	// CycleTimeout bounds the analysis of one response cycle. It should cover
	// the analyzer's full retry budget.
	CycleTimeout time.Duration
	// FinalTimeout bounds the final analysis pass on close. Defaults to CycleTimeout.
	FinalTimeout time.Duration
	// WriteTimeout bounds each group of state writes, on a context of its own
	// so a slow analysis never leaves the call without a terminal state.
	WriteTimeout time.Duration
	// ResolveTimeout bounds appointment resolution, calendar push included.
	ResolveTimeout   time.Duration
	DefaultThreshold float64
	// MaxSessions caps open streams in this process; 0 is unlimited.
	MaxSessions int
}

type Deps struct {
	Store    *sessions.Store[Session]
	Calls    calls.Repository
	Locks    sessions.Locker
	Analyzer Analyzer
	Resolver conversation.Resolver
	Audit    conversation.Auditor
	// Cap is optional; tenants with MaxConcurrentStreams > 0 are capped through it.
	Cap StreamCap
}

// Manager owns open streaming sessions. Session state is guarded by the
// store's per-call lock; call rows are written under the shared call lock,
// always taken after the session lock.
type Manager struct {
	store    *sessions.Store[Session]
	calls    calls.Repository
	locks    sessions.Locker
	analyzer Analyzer
	resolver conversation.Resolver
	audit    conversation.Auditor
	cap      StreamCap
	cfg      Config
	now      func() time.Time

	cycles sync.WaitGroup
}

func NewManager(d Deps, cfg Config) *Manager {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 700 * time.Millisecond
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 20 * time.Second
	}
	if cfg.FinalTimeout <= 0 {
		cfg.FinalTimeout = cfg.CycleTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 30 * time.Second
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = 0.8
	}
	return &Manager{
		store:    d.Store,
		calls:    d.Calls,
		locks:    d.Locks,
		analyzer: d.Analyzer,
		resolver: d.Resolver,
		audit:    d.Audit,
		cap:      d.Cap,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (m *Manager) logFor(ctx context.Context, tenantID, callID string) *slog.Logger {
	return logger.ForCall(ctx, tenantID, callID).With("component", "streaming")
}

// updateCall loads the call under its lock, applies fn and persists the result.
func (m *Manager) updateCall(ctx context.Context, tenantID, callID string, fn func(c *calls.Call) error) (calls.Call, error) {
	unlock, err := m.locks.Lock(ctx, "call:"+callID)
	if err != nil {
		return calls.Call{}, err
	}
	defer unlock()
	c, err := m.calls.Get(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if c.TenantID != tenantID {
		return calls.Call{}, calls.ErrNotFound
	}
	if err := fn(&c); err != nil {
		return c, err
	}
	return c, m.calls.Update(ctx, c)
}

// Open starts a stream for the call, creating the call row if the start
// webhook never arrived. Reopening an open stream swaps the outbound
// channel and keeps the session.
func (m *Manager) Open(ctx context.Context, t tenants.Tenant, callID, from string, out Outbound) error {
	if callID == "" || t.ID == "" {
		return calls.ErrInvalidArgument
	}
	if m.cfg.MaxSessions > 0 && m.store.Len() >= m.cfg.MaxSessions {
		return ErrStreamLimit
	}
	capHeld := false
	if m.cap != nil && t.MaxConcurrentStreams > 0 {
		ok, err := m.cap.Acquire(ctx, t.ID, t.MaxConcurrentStreams)
		if err != nil {
			return fmt.Errorf("stream cap: %w", err)
		}
		if !ok {
			return ErrStreamLimit
		}
		capHeld = true
	}

	reopened := false
	err := m.store.With(ctx, callID, func(s *Session, created bool) error {
		if !created {
			if s.Tenant.ID != t.ID || s.Closed {
				return ErrNoSession
			}
			s.Out = out
			reopened = true
			return nil
		}
		now := m.now().UTC()
		if _, _, err := m.calls.CreateIfAbsent(ctx, calls.Call{
			CallID:    callID,
			TenantID:  t.ID,
			From:      from,
			Mode:      calls.ModeStreaming,
			Status:    calls.StatusInProgress,
			State:     calls.StateOpening,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		if _, err := m.updateCall(ctx, t.ID, callID, func(c *calls.Call) error {
			if c.State == calls.StateStreaming {
				return nil
			}
			return c.Transition(calls.StateStreaming, now)
		}); err != nil {
			return err
		}
		*s = Session{Tenant: t, CallID: callID, Out: out, CapHeld: capHeld}
		return nil
	})
	if capHeld && (err != nil || reopened) {
		_ = m.cap.Release(context.WithoutCancel(ctx), t.ID)
	}
	if err != nil {
		return err
	}
	m.logFor(ctx, t.ID, callID).Info("stream opened", "reopened", reopened)
	return nil
}

// Chunk applies one piece of recognised speech. Duplicate or out-of-order
// sequence numbers are dropped. Caller speech while a reply is in flight
// interrupts it.
func (m *Manager) Chunk(ctx context.Context, callID string, ch Chunk) error {
	return m.store.With(ctx, callID, func(s *Session, created bool) error {
		if created || s.Closed {
			return ErrNoSession
		}
		if ch.Seq == 0 {
			ch.Seq = s.LastSeq + 1
		} else if ch.Seq <= s.LastSeq {
			m.logFor(ctx, s.Tenant.ID, callID).Debug("chunk dropped", "seq", ch.Seq, "last_seq", s.LastSeq)
			return nil
		}
		s.LastSeq = ch.Seq

		speaker := ch.Speaker
		if speaker == "" {
			speaker = calls.SpeakerCaller
		}
		if ch.At.IsZero() {
			ch.At = m.now().UTC()
		}
		text := strings.TrimSpace(ch.Text)

		if speaker == calls.SpeakerCaller && text != "" && s.Cancel != nil {
			s.Cancel()
			s.Cancel = nil
			s.Gen++
			s.Interruptions++
			m.logFor(ctx, s.Tenant.ID, callID).Info("agent reply interrupted", "gen", s.Gen)
		}
		// A turn switch ends the caller's utterance.
		if speaker != s.LastSpeaker && s.LastSpeaker == calls.SpeakerCaller && s.Buffered > 0 {
			m.startCycle(s)
		}

		if text != "" {
			if _, err := m.calls.AppendUtterances(ctx, s.Tenant.ID, callID, []calls.Utterance{{
				Seq: ch.Seq, Speaker: speaker, Text: text, At: ch.At,
			}}, m.now().UTC()); err != nil {
				return err
			}
			if speaker == calls.SpeakerCaller {
				s.Buffered++
			}
		}
		s.LastSpeaker = speaker

		if speaker != calls.SpeakerCaller || s.Buffered == 0 {
			return nil
		}
		if ch.Final {
			m.startCycle(s)
			return nil
		}
		m.armSilence(s)
		return nil
	})
}

func (m *Manager) armSilence(s *Session) {
	if s.Silence != nil {
		s.Silence.Stop()
	}
	callID, seq := s.CallID, s.LastSeq
	s.Silence = time.AfterFunc(m.cfg.SilenceThreshold, func() { m.onSilence(callID, seq) })
}

// onSilence starts a cycle when no chunk arrived since the timer was armed.
func (m *Manager) onSilence(callID string, seq int64) {
	_ = m.store.With(context.Background(), callID, func(s *Session, created bool) error {
		if created {
			return ErrNoSession
		}
		if s.Closed || s.LastSeq != seq || s.Buffered == 0 {
			return nil
		}
		m.startCycle(s)
		return nil
	})
}

// startCycle cancels any in-flight cycle and starts a new one. Caller holds
// the session lock.
func (m *Manager) startCycle(s *Session) {
	if s.Silence != nil {
		s.Silence.Stop()
		s.Silence = nil
	}
	if s.Cancel != nil {
		s.Cancel()
	}
	s.Gen++
	s.Buffered = 0
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CycleTimeout)
	s.Cancel = cancel

	t, callID, gen, out := s.Tenant, s.CallID, s.Gen, s.Out
	m.cycles.Add(1)
	go func() {
		defer m.cycles.Done()
		defer cancel()
		m.runCycle(ctx, t, callID, gen, out)
	}()
}

// runCycle analyses the partial transcript and speaks a reply. A cycle whose
// generation was superseded persists nothing and says nothing. A cycle that
// ran out of time still speaks the fallback reply.
func (m *Manager) runCycle(ctx context.Context, t tenants.Tenant, callID string, gen uint64, out Outbound) {
	log := m.logFor(ctx, t.ID, callID).With("gen", gen)
	tr, err := m.calls.GetTranscript(ctx, callID)
	if err != nil {
		log.Error("transcript unavailable for response cycle", "err", err)
		return
	}
	a, aerr := m.analyzer.Analyze(ctx, analysis.Request{
		CallID:      callID,
		TenantID:    t.ID,
		Transcript:  tr.CallerText(),
		Persona:     t.Persona,
		Incremental: true,
	})
	if errors.Is(ctx.Err(), context.Canceled) {
		log.Info("response cycle cancelled")
		return
	}
	if ctx.Err() != nil {
		log.Warn("response cycle timed out", "timeout", m.cfg.CycleTimeout.String())
		aerr = analysis.ErrAnalysisTimeout
	}
	forced := false
	if aerr != nil {
		log.Warn("incremental analysis failed", "err", aerr)
	} else {
		a, forced = analysis.ApplyThreshold(a, t.Threshold(m.cfg.DefaultThreshold))
	}

	// From here the cycle only writes and speaks; an interrupt is detected
	// through the generation, not through ctx.
	wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.WriteTimeout)
	defer func() { wcancel() }()

	var (
		reply   string
		resolve bool
	)
	err = m.store.With(wctx, callID, func(s *Session, created bool) error {
		if created {
			return ErrNoSession
		}
		if s.Closed || s.Gen != gen {
			return nil
		}
		if aerr == nil {
			base := calls.Call{CallID: callID, TenantID: t.ID}
			if _, err := m.calls.SaveAnalysis(wctx, conversation.Record(a, tr.ID, base, int64(gen), forced, m.now().UTC())); err != nil {
				return err
			}
			s.LastOutcome = a.Outcome
			resolve = a.Outcome == analysis.OutcomeScheduled && !s.Scheduled
		}
		if !resolve {
			reply = Reply(a, aerr)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			log.Error("response cycle could not apply result", "err", err)
		}
		return
	}

	// The appointment is resolved outside the session lock so chunks and
	// interrupts keep flowing during the calendar push.
	if resolve {
		appt, rerr := m.resolveMidCall(ctx, t, callID, a)
		if rerr != nil {
			log.Error("mid-call scheduling failed", "err", rerr)
			a.Outcome = analysis.OutcomeCallbackNeeded
		}
		wcancel()
		wctx, wcancel = context.WithTimeout(context.WithoutCancel(ctx), m.cfg.WriteTimeout)
		err = m.store.With(wctx, callID, func(s *Session, created bool) error {
			if created {
				return ErrNoSession
			}
			if rerr == nil && !s.Closed {
				s.Scheduled = true
				s.AppointmentID = appt.ID
			}
			if s.Closed || s.Gen != gen {
				return nil
			}
			reply = Reply(a, nil)
			return nil
		})
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				log.Error("response cycle could not apply result", "err", err)
			}
			return
		}
	}

	if reply == "" {
		log.Info("stale response cycle discarded")
		return
	}
	// An interrupt still cuts the reply short; a timed-out cycle sends on wctx.
	sendCtx := ctx
	if ctx.Err() != nil {
		sendCtx = wctx
	}
	if out != nil {
		if err := out.SendText(sendCtx, reply, true); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			log.Warn("reply not delivered", "err", err)
		}
	}
	_ = m.store.With(context.Background(), callID, func(s *Session, created bool) error {
		if created {
			return ErrNoSession
		}
		if s.Gen == gen {
			s.Cancel = nil
		}
		return nil
	})
}

// resolveMidCall books the appointment while the caller is still on the line.
// Resolution is idempotent per call, so a cycle superseded mid-push is harmless.
func (m *Manager) resolveMidCall(ctx context.Context, t tenants.Tenant, callID string, a analysis.Analysis) (appointments.Appointment, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ResolveTimeout)
	defer cancel()
	c, err := m.calls.Get(rctx, callID)
	if err != nil {
		return appointments.Appointment{}, err
	}
	return m.resolver.Resolve(rctx, t, c, a)
}

// Interrupt cancels the in-flight reply without starting a new cycle.
func (m *Manager) Interrupt(ctx context.Context, callID string) error {
	return m.store.With(ctx, callID, func(s *Session, created bool) error {
		if created || s.Closed {
			return ErrNoSession
		}
		if s.Cancel != nil {
			s.Cancel()
			s.Cancel = nil
			s.Interruptions++
		}
		s.Gen++
		return nil
	})
}

// detach marks the session closed, stops its timers and cycles, and removes
// it from the store. It returns the final snapshot.
func (m *Manager) detach(ctx context.Context, callID string) (Session, error) {
	var snap Session
	err := m.store.With(ctx, callID, func(s *Session, created bool) error {
		if created || s.Closed {
			return ErrNoSession
		}
		if s.Silence != nil {
			s.Silence.Stop()
			s.Silence = nil
		}
		if s.Cancel != nil {
			s.Cancel()
			s.Cancel = nil
		}
		s.Gen++
		s.Closed = true
		snap = *s
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	m.store.Delete(callID)
	return snap, nil
}

func (m *Manager) releaseCap(ctx context.Context, s Session) {
	if !s.CapHeld || m.cap == nil {
		return
	}
	if err := m.cap.Release(ctx, s.Tenant.ID); err != nil {
		m.logFor(ctx, s.Tenant.ID, s.CallID).Warn("stream cap release failed", "err", err)
	}
}

// Close ends the stream and runs the final analysis pass over the whole
// transcript. The call ends Completed with its outcome, or Failed; when the
// final pass itself cannot finish, the call is settled as a callback.
func (m *Manager) Close(ctx context.Context, callID string) error {
	s, err := m.detach(ctx, callID)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	defer func() {
		rctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
		defer cancel()
		m.releaseCap(rctx, s)
	}()

	ferr := m.finalize(ctx, s)
	if ferr == nil {
		return nil
	}
	m.logFor(ctx, s.Tenant.ID, callID).Error("final pass failed", "err", ferr)
	wctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	if _, err := m.settle(wctx, s, "final pass failed: "+ferr.Error(), true); err != nil {
		return errors.Join(ferr, err)
	}
	return ferr
}

// finalize runs the closing analysis under FinalTimeout. Each group of writes
// gets a fresh WriteTimeout so an analysis that used its whole budget still
// leaves time to persist the outcome.
func (m *Manager) finalize(ctx context.Context, s Session) error {
	t, callID := s.Tenant, s.CallID
	log := m.logFor(ctx, t.ID, callID)
	now := m.now().UTC()

	wctx, wcancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	tr, err := m.calls.AppendUtterances(wctx, t.ID, callID, nil, now)
	if err == nil {
		tr, err = m.calls.SetTranscriptText(wctx, callID, tr.Text, true, now)
	}
	if err == nil {
		_, err = m.updateCall(wctx, t.ID, callID, func(c *calls.Call) error {
			return c.Transition(calls.StateDraining, now)
		})
	}
	wcancel()
	if err != nil {
		return err
	}

	actx, acancel := context.WithTimeout(ctx, m.cfg.FinalTimeout)
	a, degraded, err := m.analyzer.AnalyzeOrDegrade(actx, analysis.Request{
		CallID:     callID,
		TenantID:   t.ID,
		Transcript: tr.CallerText(),
		Persona:    t.Persona,
	})
	acancel()
	if err != nil {
		a = analysis.Analysis{Outcome: analysis.OutcomeCallbackNeeded, Notes: "final analysis did not finish: " + err.Error()}
		degraded = true
	}

	wctx, wcancel = context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer wcancel()
	if degraded && m.audit != nil {
		m.audit.Record(wctx, t.ID, audit.EventTypeAnalysisFailed, callID, "", a.Notes, nil)
	}
	a, forced := analysis.ApplyThreshold(a, t.Threshold(m.cfg.DefaultThreshold))
	if forced && m.audit != nil {
		m.audit.Record(wctx, t.ID, audit.EventTypeForcedCallback, callID, "", a.Notes, map[string]any{"confidence": a.Confidence})
	}
	// An appointment booked mid-call stands regardless of the final pass.
	if s.Scheduled {
		a.Outcome = analysis.OutcomeScheduled
	}
	now = m.now().UTC()
	if _, err := m.calls.SaveAnalysis(wctx, conversation.Record(a, tr.ID, calls.Call{CallID: callID, TenantID: t.ID}, int64(s.Gen), forced, now)); err != nil {
		return err
	}

	c, err := m.updateCall(wctx, t.ID, callID, func(c *calls.Call) error {
		if err := c.Transition(calls.StateAnalyzing, now); err != nil {
			return err
		}
		if degraded || forced {
			c.AddNote(a.Notes)
		}
		return c.Transition(conversation.OutcomeState(a.Outcome), now)
	})
	if err != nil {
		return err
	}
	if c.State == calls.StateScheduled && !s.Scheduled {
		rctx, rcancel := context.WithTimeout(ctx, m.cfg.ResolveTimeout)
		_, rerr := m.resolver.Resolve(rctx, t, c, a)
		rcancel()
		if rerr != nil {
			log.Error("appointment resolution failed", "err", rerr)
			_, err = m.updateCall(wctx, t.ID, callID, func(c *calls.Call) error {
				c.AddNote("appointment could not be created: " + rerr.Error())
				return c.Transition(calls.StateFailed, m.now().UTC())
			})
			return err
		}
	}
	_, err = m.updateCall(wctx, t.ID, callID, func(c *calls.Call) error {
		return c.Transition(calls.StateCompleted, m.now().UTC())
	})
	if err == nil {
		log.Info("stream closed", "outcome", string(a.Outcome), "interruptions", s.Interruptions)
	}
	return err
}

// settle walks a streaming call from wherever it stopped to Completed as a
// callback, or Scheduled when an appointment was booked mid-call. A call
// without caller speech is failed instead. Terminal calls are left alone.
func (m *Manager) settle(ctx context.Context, s Session, reason string, hasSpeech bool) (calls.Call, error) {
	now := m.now().UTC()
	return m.updateCall(ctx, s.Tenant.ID, s.CallID, func(c *calls.Call) error {
		if c.State.Terminal() {
			return nil
		}
		c.AddNote(reason)
		if !hasSpeech && !s.Scheduled {
			return c.Transition(calls.StateFailed, now)
		}
		for _, to := range []calls.State{calls.StateDraining, calls.StateAnalyzing} {
			if c.State == calls.StateStreaming || c.State == calls.StateDraining {
				if err := c.Transition(to, now); err != nil {
					return err
				}
			}
		}
		if c.State == calls.StateAnalyzing {
			outcome := calls.StateCallbackNeeded
			if s.Scheduled {
				outcome = calls.StateScheduled
			}
			if err := c.Transition(outcome, now); err != nil {
				return err
			}
		}
		return c.Transition(calls.StateCompleted, now)
	})
}

// Abandon ends a session whose transport went away without a close. Calls
// with caller speech go to a callback, calls without any are failed.
func (m *Manager) Abandon(ctx context.Context, s Session, reason string) {
	t, callID := s.Tenant, s.CallID
	log := m.logFor(ctx, t.ID, callID)
	if s.Silence != nil {
		s.Silence.Stop()
	}
	if s.Cancel != nil {
		s.Cancel()
	}
	defer m.releaseCap(ctx, s)

	hasSpeech := false
	if tr, err := m.calls.GetTranscript(ctx, callID); err == nil {
		hasSpeech = strings.TrimSpace(tr.CallerText()) != ""
	}
	c, err := m.settle(ctx, s, reason, hasSpeech)
	if err != nil {
		log.Error("could not settle abandoned stream", "err", err)
		return
	}
	if m.audit != nil {
		m.audit.Record(ctx, t.ID, audit.EventTypeSessionReaped, callID, s.AppointmentID, reason,
			map[string]any{"outcome": string(c.Outcome), "has_speech": hasSpeech})
	}
	log.Warn("stream abandoned", "reason", reason, "outcome", string(c.Outcome), "state", string(c.State))
}

// Reap settles sessions idle past the store TTL.
func (m *Manager) Reap(ctx context.Context, now time.Time) int {
	entries := m.store.Reap(now)
	for _, e := range entries {
		m.Abandon(ctx, e.Value, "stream idle past session TTL")
	}
	return len(entries)
}

// RunReaper reaps on every tick until ctx is done.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) {
	m.store.Run(ctx, interval, func(e sessions.Entry[Session]) {
		m.Abandon(ctx, e.Value, "stream idle past session TTL")
	})
}

// Wait blocks until in-flight response cycles return.
func (m *Manager) Wait() { m.cycles.Wait() }

// Open sessions in this process.
func (m *Manager) Len() int { return m.store.Len() }
