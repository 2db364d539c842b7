package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

type Handler func(ctx context.Context, j Job) error

type PoolConfig struct {
	Workers int
	// JobTimeout bounds one handler run.
	JobTimeout time.Duration
}

// Pool runs a fixed number of workers over a Queue.
type Pool struct {
	queue    Queue
	cfg      PoolConfig
	log      *slog.Logger
	mu       sync.RWMutex
	handlers map[Kind]Handler

	// onTimeout runs with a fresh context when a handler exceeds JobTimeout.
	onTimeout func(ctx context.Context, j Job)
	// onFailure runs with a fresh context when a handler returns an error
	// or panics before its timeout.
	onFailure func(ctx context.Context, j Job, err error)
}

func NewPool(q Queue, cfg PoolConfig, log *slog.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pool{queue: q, cfg: cfg, log: log, handlers: map[Kind]Handler{}}
}

func (p *Pool) Handle(k Kind, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[k] = h
}

func (p *Pool) OnTimeout(fn func(ctx context.Context, j Job)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTimeout = fn
}

func (p *Pool) OnFailure(fn func(ctx context.Context, j Job, err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFailure = fn
}

// Run blocks until ctx is cancelled and all workers have returned.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	for {
		j, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("dequeue failed", "worker", id, "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		_ = p.Process(ctx, j)
	}
}

// Process runs one job under the job timeout, recovering panics.
func (p *Pool) Process(ctx context.Context, j Job) (err error) {
	p.mu.RLock()
	h, ok := p.handlers[j.Kind]
	onTimeout := p.onTimeout
	onFailure := p.onFailure
	p.mu.RUnlock()

	log := p.log.With("job_kind", string(j.Kind), "tenant_id", j.TenantID, "call_sid", j.CallID, "seq", j.Seq)
	if !ok {
		log.Warn("no handler for job kind")
		return fmt.Errorf("worker: no handler for %q", j.Kind)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("worker: handler panic: %v", r)
				log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		err = h(jobCtx, j)
	}()

	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		log.Warn("job timed out", "timeout", p.cfg.JobTimeout.String())
		if onTimeout != nil {
			tctx, tcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			onTimeout(tctx, j)
			tcancel()
		}
		if err == nil {
			err = jobCtx.Err()
		}
		return err
	}
	if err != nil {
		log.Warn("job failed", "err", err, "duration_ms", time.Since(start).Milliseconds())
		if onFailure != nil {
			fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			onFailure(fctx, j, err)
			fcancel()
		}
		return err
	}
	log.Info("job done", "duration_ms", time.Since(start).Milliseconds())
	return nil
}
