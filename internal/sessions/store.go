package sessions

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrInvalidKey = errors.New("sessions: invalid key")

// Entry is a key/value pair returned by Reap.
type Entry[T any] struct {
	Key   string
	Value T
}

type slot[T any] struct {
	key     string
	pos     int
	lock    chan struct{}
	value   T
	init    bool
	dead    bool
	refs    int
	expires time.Time
}

// Store is a keyed arena of per-call session values.
//
// Slots live in a slice addressed through an index map; freed slots are
// recycled. Each slot has its own single-owner lock so work on one call never
// blocks another, and the store mutex is only held for index bookkeeping.
// Slots idle past the TTL are reclaimed by Reap.
type Store[T any] struct {
	mu    sync.Mutex
	slots []*slot[T]
	index map[string]int
	free  []int

	ttl time.Duration
	now func() time.Time
}

func NewStore[T any](ttl time.Duration) *Store[T] {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Store[T]{index: map[string]int{}, ttl: ttl, now: time.Now}
}

// SetClock overrides the time source. Tests only.
func (s *Store[T]) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *Store[T]) acquireRef(key string) *slot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[key]; ok {
		sl := s.slots[i]
		sl.refs++
		return sl
	}
	var i int
	if n := len(s.free); n > 0 {
		i = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, nil)
		i = len(s.slots) - 1
	}
	sl := &slot[T]{key: key, pos: i, lock: make(chan struct{}, 1), refs: 1, expires: s.now().Add(s.ttl)}
	s.slots[i] = sl
	s.index[key] = i
	return sl
}

func (s *Store[T]) releaseRef(sl *slot[T]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl.refs--
	if sl.dead && sl.refs == 0 {
		s.freeLocked(sl)
	}
}

// freeLocked returns the slot's arena position to the free list. Caller holds s.mu
// and has already removed the slot from the index.
func (s *Store[T]) freeLocked(sl *slot[T]) {
	if s.slots[sl.pos] != sl {
		return
	}
	s.slots[sl.pos] = nil
	s.free = append(s.free, sl.pos)
}

// With runs fn while holding the key's lock. created is true when the value
// is fresh (zero T). If fn fails on a fresh value, the slot is discarded.
// The slot's expiry is refreshed after fn returns.
func (s *Store[T]) With(ctx context.Context, key string, fn func(v *T, created bool) error) error {
	if key == "" {
		return ErrInvalidKey
	}
	for {
		sl := s.acquireRef(key)
		select {
		case sl.lock <- struct{}{}:
		case <-ctx.Done():
			s.releaseRef(sl)
			return ctx.Err()
		}
		if sl.dead {
			<-sl.lock
			s.releaseRef(sl)
			continue
		}

		created := !sl.init
		err := fn(&sl.value, created)

		s.mu.Lock()
		if err != nil && created {
			s.dropLocked(sl)
		} else {
			sl.init = true
			sl.expires = s.now().Add(s.ttl)
		}
		s.mu.Unlock()

		<-sl.lock
		s.releaseRef(sl)
		return err
	}
}

func (s *Store[T]) dropLocked(sl *slot[T]) {
	if sl.dead {
		return
	}
	sl.dead = true
	if i, ok := s.index[sl.key]; ok && i == sl.pos {
		delete(s.index, sl.key)
	}
}

// Get returns a snapshot of the value under the key's lock.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	s.mu.Lock()
	i, ok := s.index[key]
	if !ok {
		s.mu.Unlock()
		return zero, false, nil
	}
	sl := s.slots[i]
	sl.refs++
	s.mu.Unlock()
	defer s.releaseRef(sl)

	select {
	case sl.lock <- struct{}{}:
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
	defer func() { <-sl.lock }()
	if sl.dead || !sl.init {
		return zero, false, nil
	}
	return sl.value, true, nil
}

// Delete removes the key. Holders of the slot finish normally; the arena
// position is recycled once the last holder leaves.
func (s *Store[T]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return
	}
	sl := s.slots[i]
	s.dropLocked(sl)
	if sl.refs == 0 {
		s.freeLocked(sl)
	}
}

// Touch extends the key's expiry without taking its lock.
func (s *Store[T]) Touch(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[key]
	if !ok {
		return false
	}
	s.slots[i].expires = s.now().Add(s.ttl)
	return true
}

// Len is the number of live keys.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Reap reclaims expired slots that nobody holds and returns their last values.
func (s *Store[T]) Reap(now time.Time) []Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry[T]
	for key, i := range s.index {
		sl := s.slots[i]
		if sl.refs > 0 || now.Before(sl.expires) {
			continue
		}
		if sl.init {
			out = append(out, Entry[T]{Key: key, Value: sl.value})
		}
		s.dropLocked(sl)
		s.freeLocked(sl)
	}
	return out
}

// Run reaps on every tick until ctx is done.
func (s *Store[T]) Run(ctx context.Context, interval time.Duration, onReap func(Entry[T])) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.mu.Lock()
			now := s.now()
			s.mu.Unlock()
			for _, e := range s.Reap(now) {
				if onReap != nil {
					onReap(e)
				}
			}
		}
	}
}
