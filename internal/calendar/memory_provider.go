package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider keeps events in process. It backs local development and
// tests, and can be told to fail the next pushes.
type MemoryProvider struct {
	key  string
	caps Capabilities

	mu       sync.Mutex
	events   map[string]AppointmentPayload
	ids      map[string]string
	busy     []Slot
	pushes   int
	failures []error
}

func NewMemoryProvider(key string, caps Capabilities) *MemoryProvider {
	return &MemoryProvider{key: key, caps: caps, events: map[string]AppointmentPayload{}, ids: map[string]string{}}
}

func (m *MemoryProvider) Key() string                { return m.key }
func (m *MemoryProvider) Capabilities() Capabilities { return m.caps }

// FailNext queues errors returned by the next Push calls, in order.
func (m *MemoryProvider) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

func (m *MemoryProvider) SetBusy(slots ...Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = append([]Slot(nil), slots...)
}

// Pushes counts Push calls that reached the provider, failed or not.
func (m *MemoryProvider) Pushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushes
}

// Events counts distinct events held.
func (m *MemoryProvider) Events() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *MemoryProvider) Validate(ctx context.Context, creds Credentials) error {
	if creds == (Credentials{}) {
		return fmt.Errorf("%w: empty credentials", ErrInvalidCredentials)
	}
	return nil
}

func (m *MemoryProvider) Push(ctx context.Context, creds Credentials, p AppointmentPayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes++
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return "", err
	}
	if p.Start.IsZero() {
		return "", ErrUnschedulable
	}
	if id, ok := m.ids[p.AppointmentID]; ok {
		return id, nil
	}
	id := fmt.Sprintf("%s-evt-%d", m.key, len(m.ids)+1)
	m.ids[p.AppointmentID] = id
	m.events[p.AppointmentID] = p
	m.busy = append(m.busy, Slot{Start: p.Start, End: p.End()})
	return id, nil
}

func (m *MemoryProvider) Pull(ctx context.Context, creds Credentials, from, to time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Slot
	for _, s := range m.busy {
		if s.Start.Before(to) && from.Before(s.End) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *MemoryProvider) Revoke(ctx context.Context, creds Credentials) error { return nil }
