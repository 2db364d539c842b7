package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_ExclusivePerKey(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "CA1")
			if err != nil {
				return
			}
			n := counter
			time.Sleep(time.Microsecond)
			counter = n + 1
			unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 20, counter)
	require.Equal(t, 0, l.Held())
}

func TestMemoryLocker_IndependentKeys(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, "A")
	require.NoError(t, err)
	defer unlockA()

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	unlockB, err := l.Lock(tctx, "B")
	require.NoError(t, err)
	unlockB()
}

func TestMemoryLocker_TimesOutAndUnlockIsIdempotent(t *testing.T) {
	l := NewMemoryLocker()
	unlock, err := l.Lock(context.Background(), "A")
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, "A")
	require.Error(t, err)

	unlock()
	unlock()
	require.Equal(t, 0, l.Held())
}

func TestKeepLease_RenewsUntilStopped(t *testing.T) {
	var mu sync.Mutex
	renewals := 0
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepLease(stop, 5*time.Millisecond, func() (bool, error) {
			mu.Lock()
			renewals++
			mu.Unlock()
			return true, nil
		})
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return renewals >= 3
	}, time.Second, 5*time.Millisecond)
	close(stop)
	<-done
}

func TestKeepLease_StopsWhenLeaseLost(t *testing.T) {
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepLease(make(chan struct{}), time.Millisecond, func() (bool, error) {
			calls++
			return false, nil
		})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("renewal loop kept running after the lease was lost")
	}
	require.Equal(t, 1, calls)
}
