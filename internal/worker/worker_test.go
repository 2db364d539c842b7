package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_FullIsReportedImmediately(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindAnalyzeCall, CallID: "CA1"}))
	require.ErrorIs(t, q.Enqueue(ctx, Job{Kind: KindAnalyzeCall, CallID: "CA2"}), ErrQueueFull)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "CA1", j.CallID)
	require.Zero(t, q.Len())
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue_NilClient(t *testing.T) {
	q := NewRedisQueue(nil, "", 0)
	require.Error(t, q.Enqueue(context.Background(), Job{}))
	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
}

func TestPool_DispatchesByKind(t *testing.T) {
	q := NewMemoryQueue(8)
	p := NewPool(q, PoolConfig{Workers: 2, JobTimeout: time.Second}, nil)

	var seen atomic.Int32
	done := make(chan struct{}, 3)
	p.Handle(KindAnalyzeCall, func(ctx context.Context, j Job) error {
		seen.Add(1)
		done <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { p.Run(ctx); close(stopped) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, Job{Kind: KindAnalyzeCall, CallID: "CA"}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed")
		}
	}
	cancel()
	<-stopped
	require.EqualValues(t, 3, seen.Load())
}

func TestPool_RecoversPanics(t *testing.T) {
	p := NewPool(NewMemoryQueue(1), PoolConfig{Workers: 1, JobTimeout: time.Second}, nil)
	p.Handle(KindAnalyzeCall, func(ctx context.Context, j Job) error { panic("boom") })

	err := p.Process(context.Background(), Job{Kind: KindAnalyzeCall})
	require.ErrorContains(t, err, "boom")
}

func TestPool_TimeoutRunsHook(t *testing.T) {
	p := NewPool(NewMemoryQueue(1), PoolConfig{Workers: 1, JobTimeout: 20 * time.Millisecond}, nil)
	p.Handle(KindAnalyzeCall, func(ctx context.Context, j Job) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var hooked Job
	p.OnTimeout(func(ctx context.Context, j Job) {
		require.NoError(t, ctx.Err())
		hooked = j
	})

	err := p.Process(context.Background(), Job{Kind: KindAnalyzeCall, CallID: "CA5"})
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.Equal(t, "CA5", hooked.CallID)
}

func TestPool_FailureRunsHook(t *testing.T) {
	p := NewPool(NewMemoryQueue(1), PoolConfig{Workers: 1, JobTimeout: time.Second}, nil)
	p.Handle(KindAnalyzeCall, func(ctx context.Context, j Job) error {
		return errors.New("db: connection reset")
	})
	var (
		hooked    Job
		hookedErr error
	)
	p.OnFailure(func(ctx context.Context, j Job, err error) {
		require.NoError(t, ctx.Err())
		hooked, hookedErr = j, err
	})
	p.OnTimeout(func(ctx context.Context, j Job) { t.Fatal("timeout hook ran for a plain failure") })

	err := p.Process(context.Background(), Job{Kind: KindAnalyzeCall, CallID: "CA6"})
	require.ErrorContains(t, err, "connection reset")
	require.Equal(t, "CA6", hooked.CallID)
	require.ErrorContains(t, hookedErr, "connection reset")
}

func TestPool_UnknownKind(t *testing.T) {
	p := NewPool(NewMemoryQueue(1), PoolConfig{}, nil)
	require.Error(t, p.Process(context.Background(), Job{Kind: "mystery"}))
}
