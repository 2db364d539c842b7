package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"voiceai-production/pkg/logger"
	"voiceai-production/pkg/retry"
)

// Service wraps a Backend with per-attempt timeouts and bounded retries.
type Service struct {
	backend    Backend
	timeout    time.Duration
	maxRetries int
	backoff    retry.Config
}

type ServiceConfig struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Backoff overrides the delay schedule between attempts. Optional.
	Backoff *retry.Config
}

func NewService(backend Backend, cfg ServiceConfig) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	b := retry.DefaultConfig()
	if cfg.Backoff != nil {
		b = *cfg.Backoff
	}
	b.MaxRetries = cfg.MaxRetries
	return &Service{backend: backend, timeout: cfg.Timeout, maxRetries: cfg.MaxRetries, backoff: b}
}

func (s *Service) BackendName() string { return s.backend.Name() }

// Budget is the longest Analyze can take when every attempt times out:
// all attempts plus the waits between them.
func (s *Service) Budget() time.Duration {
	return s.timeout*time.Duration(s.maxRetries+1) + retry.MaxWait(s.backoff)
}

// Analyze runs the backend, retrying retryable failures. The returned error
// matches ErrAnalysisTimeout or ErrAnalysisUnavailable, or is the caller's
// context error when ctx was cancelled.
func (s *Service) Analyze(ctx context.Context, req Request) (Analysis, error) {
	log := logger.ForCall(ctx, req.TenantID, req.CallID)

	a, err := retry.Do(ctx, s.backoff, retry.IsRetryable, func(ctx context.Context, attempt int) (Analysis, error) {
		actx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		start := time.Now()
		a, err := s.backend.Analyze(actx, req)
		if err == nil {
			return a, nil
		}
		if ctx.Err() != nil {
			// Cancelled by the caller, not a backend failure.
			return Analysis{}, &cancelled{cause: ctx.Err()}
		}
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = &Error{Kind: KindTimeout, Backend: s.backend.Name(), Retryable: true, Cause: err}
		}
		log.Warn("analysis attempt failed",
			"backend", s.backend.Name(),
			"attempt", attempt+1,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"err", err,
		)
		return Analysis{}, err
	})
	if err == nil {
		a.Confidence = clamp01(a.Confidence)
		if a.Backend == "" {
			a.Backend = s.backend.Name()
		}
		return a, nil
	}

	var c *cancelled
	if errors.As(err, &c) {
		return Analysis{}, c.cause
	}
	if ctx.Err() != nil {
		return Analysis{}, ctx.Err()
	}
	if errors.Is(err, ErrEmptyTranscript) {
		return Analysis{}, err
	}
	if errors.Is(err, ErrAnalysisTimeout) || errors.Is(err, ErrAnalysisUnavailable) {
		return Analysis{}, err
	}
	return Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
}

// AnalyzeOrDegrade never fails for backend reasons: once retries are
// exhausted it returns a callback_needed analysis with the failure in Notes.
// degraded is true in that case. Caller cancellation is still returned as an error.
func (s *Service) AnalyzeOrDegrade(ctx context.Context, req Request) (a Analysis, degraded bool, err error) {
	a, err = s.Analyze(ctx, req)
	if err == nil {
		return a, false, nil
	}
	if ctx.Err() != nil {
		return Analysis{}, false, ctx.Err()
	}
	kind := "unavailable"
	if errors.Is(err, ErrAnalysisTimeout) {
		kind = "timeout"
	}
	if errors.Is(err, ErrEmptyTranscript) {
		kind = "empty transcript"
	}
	return Analysis{
		Outcome:    OutcomeCallbackNeeded,
		Confidence: 0,
		Notes:      fmt.Sprintf("analysis %s after %d attempt(s): %v", kind, s.maxRetries+1, err),
		Backend:    s.backend.Name(),
	}, true, nil
}

type cancelled struct{ cause error }

func (c *cancelled) Error() string     { return "analysis cancelled: " + c.cause.Error() }
func (c *cancelled) IsRetryable() bool { return false }
