package worker

import (
	"context"
	"errors"
	"time"
)

var (
	ErrQueueFull   = errors.New("worker: queue full")
	ErrQueueClosed = errors.New("worker: queue closed")
)

type Kind string

// KindAnalyzeCall runs transcript analysis for a recorded call.
const KindAnalyzeCall Kind = "analyze_call"

// Job is the unit crossing the queue boundary. It carries identifiers only;
// handlers reload state so a stale job can be recognised and dropped.
type Job struct {
	Kind       Kind      `json:"kind"`
	CallID     string    `json:"call_id"`
	TenantID   string    `json:"tenant_id"`
	Seq        int64     `json:"seq"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Queue interface {
	Enqueue(ctx context.Context, j Job) error
	// Dequeue blocks until a job is available or ctx ends.
	Dequeue(ctx context.Context) (Job, error)
}

// MemoryQueue is a bounded in-process queue. Enqueue never blocks the
// webhook path: a full queue is reported immediately.
type MemoryQueue struct {
	ch chan Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Job, size)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, j Job) error {
	select {
	case q.ch <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case j := <-q.ch:
		return j, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int { return len(q.ch) }
