package calendar

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps provider keys to adapters. Adapters are resolved when a
// tenant connects, never by branching on tenant identity.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: map[string]Provider{}}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[strings.ToLower(p.Key())] = p
}

func (r *Registry) Resolve(key string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
	}
	return p, nil
}

type ProviderInfo struct {
	Key          string       `json:"key"`
	Capabilities Capabilities `json:"capabilities"`
}

func (r *Registry) Catalogue() []ProviderInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProviderInfo, 0, len(r.providers))
	for k, p := range r.providers {
		out = append(out, ProviderInfo{Key: k, Capabilities: p.Capabilities()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
