package appointments

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryRepo struct {
	mu     sync.Mutex
	byID   map[string]Appointment
	byCall map[string]string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: map[string]Appointment{}, byCall: map[string]string{}}
}

func (r *MemoryRepo) CreateIfAbsent(ctx context.Context, a Appointment) (Appointment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byCall[a.CallID]; ok {
		return r.byID[id], false, nil
	}
	r.byID[a.ID] = a
	r.byCall[a.CallID] = a.ID
	return a, true, nil
}

func (r *MemoryRepo) Get(ctx context.Context, tenantID, id string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok || a.TenantID != tenantID {
		return Appointment{}, ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepo) GetByCall(ctx context.Context, callID string) (Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCall[callID]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepo) sorted(keep func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range r.byID {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *MemoryRepo) List(ctx context.Context, tenantID string, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(a Appointment) bool { return a.TenantID == tenantID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListBetween(ctx context.Context, tenantID string, from, to time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(func(a Appointment) bool {
		return a.TenantID == tenantID && !a.CreatedAt.Before(from) && a.CreatedAt.Before(to)
	}), nil
}

func (r *MemoryRepo) UpdateSync(ctx context.Context, a Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[a.ID]
	if !ok {
		return ErrNotFound
	}
	cur.ExternalID = a.ExternalID
	cur.SyncStatus = a.SyncStatus
	cur.SyncProvider = a.SyncProvider
	cur.SyncError = a.SyncError
	cur.SyncAttempts = a.SyncAttempts
	cur.UpdatedAt = a.UpdatedAt
	r.byID[a.ID] = cur
	return nil
}

func (r *MemoryRepo) ListPendingSync(ctx context.Context, limit int) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sorted(func(a Appointment) bool { return a.SyncStatus == SyncPending })
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
