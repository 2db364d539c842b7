package tenants

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory tenant directory for tests and local runs.
type MemoryRepo struct {
	mu      sync.RWMutex
	byID    map[string]Tenant
	byPhone map[string]string
}

func NewMemoryRepo(ts ...Tenant) *MemoryRepo {
	r := &MemoryRepo{byID: map[string]Tenant{}, byPhone: map[string]string{}}
	for _, t := range ts {
		r.Put(t)
	}
	return r
}

func (r *MemoryRepo) Put(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t
	if t.PhoneNumber != "" {
		r.byPhone[t.PhoneNumber] = t.ID
	}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok || !t.Active {
		return Tenant{}, ErrTenantNotFound
	}
	return t, nil
}

func (r *MemoryRepo) FindByNumber(ctx context.Context, e164 string) (Tenant, error) {
	r.mu.RLock()
	id, ok := r.byPhone[e164]
	r.mu.RUnlock()
	if !ok {
		return Tenant{}, ErrTenantNotFound
	}
	return r.Get(ctx, id)
}
