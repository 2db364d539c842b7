package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voiceai-production/pkg/retry"
)

type fakeBackend struct {
	calls atomic.Int32
	fn    func(ctx context.Context, n int32) (Analysis, error)
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Analyze(ctx context.Context, req Request) (Analysis, error) {
	n := f.calls.Add(1)
	return f.fn(ctx, n)
}

var quickBackoff = &retry.Config{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

func TestService_RetriesTransientThenSucceeds(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		if n < 3 {
			return Analysis{}, &Error{Kind: KindServer, Backend: "fake", Retryable: true}
		}
		return Analysis{Outcome: OutcomeScheduled, Confidence: 0.9}, nil
	}}
	svc := NewService(fb, ServiceConfig{Timeout: time.Second, MaxRetries: 2, Backoff: quickBackoff})

	a, err := svc.Analyze(context.Background(), Request{Transcript: "x"})
	require.NoError(t, err)
	require.Equal(t, OutcomeScheduled, a.Outcome)
	require.Equal(t, "fake", a.Backend)
	require.EqualValues(t, 3, fb.calls.Load())
}

func TestService_BoundedRetriesThenUnavailable(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		return Analysis{}, &Error{Kind: KindRateLimit, Backend: "fake", Retryable: true}
	}}
	svc := NewService(fb, ServiceConfig{Timeout: time.Second, MaxRetries: 2, Backoff: quickBackoff})

	_, err := svc.Analyze(context.Background(), Request{Transcript: "x"})
	require.ErrorIs(t, err, ErrAnalysisUnavailable)
	require.EqualValues(t, 3, fb.calls.Load())
}

func TestService_NonRetryableFailsFast(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		return Analysis{}, &Error{Kind: KindAuth, Backend: "fake"}
	}}
	svc := NewService(fb, ServiceConfig{Timeout: time.Second, MaxRetries: 3, Backoff: quickBackoff})

	_, err := svc.Analyze(context.Background(), Request{Transcript: "x"})
	require.ErrorIs(t, err, ErrAnalysisUnavailable)
	require.EqualValues(t, 1, fb.calls.Load())
}

func TestService_AttemptTimeoutIsAnalysisTimeout(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		<-ctx.Done()
		return Analysis{}, ctx.Err()
	}}
	svc := NewService(fb, ServiceConfig{Timeout: 10 * time.Millisecond, MaxRetries: 1, Backoff: quickBackoff})

	_, err := svc.Analyze(context.Background(), Request{Transcript: "x"})
	require.ErrorIs(t, err, ErrAnalysisTimeout)
	require.EqualValues(t, 2, fb.calls.Load())
}

func TestService_BudgetCoversEveryAttempt(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		<-ctx.Done()
		return Analysis{}, ctx.Err()
	}}
	svc := NewService(fb, ServiceConfig{Timeout: 20 * time.Millisecond, MaxRetries: 2, Backoff: quickBackoff})
	require.Equal(t, 62*time.Millisecond, svc.Budget())

	// A caller deadline of one budget still sees every attempt run out.
	ctx, cancel := context.WithTimeout(context.Background(), svc.Budget()+50*time.Millisecond)
	defer cancel()
	_, err := svc.Analyze(ctx, Request{Transcript: "x"})
	require.ErrorIs(t, err, ErrAnalysisTimeout)
	require.EqualValues(t, 3, fb.calls.Load())
}

func TestService_CallerCancellationIsNotRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fb := &fakeBackend{fn: func(actx context.Context, n int32) (Analysis, error) {
		cancel()
		<-actx.Done()
		return Analysis{}, actx.Err()
	}}
	svc := NewService(fb, ServiceConfig{Timeout: time.Second, MaxRetries: 3, Backoff: quickBackoff})

	_, err := svc.Analyze(ctx, Request{Transcript: "x"})
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 1, fb.calls.Load())
}

func TestService_AnalyzeOrDegrade(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		return Analysis{}, &Error{Kind: KindServer, Backend: "fake", Retryable: true, Cause: errors.New("HTTP 503")}
	}}
	svc := NewService(fb, ServiceConfig{Timeout: time.Second, MaxRetries: 1, Backoff: quickBackoff})

	a, degraded, err := svc.AnalyzeOrDegrade(context.Background(), Request{Transcript: "x"})
	require.NoError(t, err)
	require.True(t, degraded)
	require.Equal(t, OutcomeCallbackNeeded, a.Outcome)
	require.Equal(t, 0.0, a.Confidence)
	require.Contains(t, a.Notes, "analysis unavailable after 2 attempt(s)")
}

func TestService_ClampsConfidence(t *testing.T) {
	fb := &fakeBackend{fn: func(ctx context.Context, n int32) (Analysis, error) {
		return Analysis{Outcome: OutcomeScheduled, Confidence: 1.7}, nil
	}}
	svc := NewService(fb, ServiceConfig{})
	a, err := svc.Analyze(context.Background(), Request{Transcript: "x"})
	require.NoError(t, err)
	require.Equal(t, 1.0, a.Confidence)
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, KindRateLimit, ClassifyError("b", 429, errors.New("x")).Kind)
	require.True(t, ClassifyError("b", 503, errors.New("x")).Retryable)
	require.False(t, ClassifyError("b", 401, errors.New("x")).Retryable)
	require.Equal(t, KindTimeout, ClassifyError("b", 0, context.DeadlineExceeded).Kind)
	require.ErrorIs(t, ClassifyError("b", 0, context.DeadlineExceeded), ErrAnalysisTimeout)
	require.ErrorIs(t, ClassifyError("b", 500, errors.New("x")), ErrAnalysisUnavailable)
}
