package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// JitterFactor in [0,1]; 0.1 means +/-10%.
	JitterFactor float64
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// Retryable is implemented by errors that know whether a retry can help.
type Retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err, or any error it wraps, declares itself retryable.
func IsRetryable(err error) bool {
	var r Retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return false
}

func applyJitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	j := float64(d) * factor * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + j)
}

// Do runs fn until it succeeds, returns a non-retryable error, or retries run
// out. shouldRetry nil means every error is retried. attempt starts at 0.
// The wait between attempts respects ctx.
func Do[T any](ctx context.Context, cfg Config, shouldRetry func(error) bool, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var (
		last  T
		err   error
		delay = cfg.InitialDelay
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		last, err = fn(ctx, attempt)
		if err == nil {
			return last, nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return last, err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		timer := time.NewTimer(applyJitter(delay, cfg.JitterFactor))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return last, errors.Join(err, ctx.Err())
		}
		if cfg.Multiplier > 0 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return last, err
}

// MaxWait is the longest total time Do can spend sleeping between attempts
// under cfg, jitter included.
func MaxWait(cfg Config) time.Duration {
	var total time.Duration
	delay := cfg.InitialDelay
	for i := 0; i < cfg.MaxRetries; i++ {
		total += delay + time.Duration(float64(delay)*max(cfg.JitterFactor, 0))
		if cfg.Multiplier > 0 {
			delay = time.Duration(float64(delay) * cfg.Multiplier)
		}
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return total
}
