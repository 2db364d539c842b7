package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"voiceai-production/pkg/utils"
)

// StreamCap bounds concurrent streams per tenant.
type StreamCap interface {
	Acquire(ctx context.Context, tenantID string, limit int) (bool, error)
	Release(ctx context.Context, tenantID string) error
}

// RedisCap shares the per-tenant count across API replicas. The TTL frees
// slots held by a crashed process.
type RedisCap struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCap(rdb *redis.Client, ttl time.Duration) *RedisCap {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisCap{rdb: rdb, ttl: ttl}
}

func capKey(tenantID string) string { return "streams:tenant:" + tenantID }

func (c *RedisCap) Acquire(ctx context.Context, tenantID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, c.rdb, capKey(tenantID), limit, c.ttl)
}

func (c *RedisCap) Release(ctx context.Context, tenantID string) error {
	return utils.ReleaseConcurrencyCap(ctx, c.rdb, capKey(tenantID))
}

// MemoryCap is the single-process StreamCap.
type MemoryCap struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryCap() *MemoryCap { return &MemoryCap{counts: map[string]int{}} }

func (c *MemoryCap) Acquire(ctx context.Context, tenantID string, limit int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[tenantID] >= limit {
		return false, nil
	}
	c.counts[tenantID]++
	return true, nil
}

func (c *MemoryCap) Release(ctx context.Context, tenantID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[tenantID] > 0 {
		c.counts[tenantID]--
	}
	if c.counts[tenantID] == 0 {
		delete(c.counts, tenantID)
	}
	return nil
}

func (c *MemoryCap) InUse(tenantID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[tenantID]
}

var (
	_ StreamCap = (*RedisCap)(nil)
	_ StreamCap = (*MemoryCap)(nil)
)
