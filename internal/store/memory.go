package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pagewatch/internal/logging"
	"pagewatch/internal/types"
)

// MemoryCache is the in-memory PlanCache fallback used when no DATABASE_URL
// is configured. It enforces TTLs only opportunistically (on CleanupExpired),
// matching the durable backend's interface but not its guarantees.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry // keyed by cache key
	byID    map[string]*types.Plan
}

type memoryEntry struct {
	taskSignature string
	plan          *types.Plan
	hitCount      int
	lastUsedAt    time.Time
	expiresAt     time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]*memoryEntry),
		byID:    make(map[string]*types.Plan),
	}
}

// Get returns the cached plan, counting the hit. Expired entries are misses.
func (c *MemoryCache) Get(ctx context.Context, taskSignature string) *types.Plan {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[types.CacheKey(taskSignature)]
	if !ok || time.Now().After(entry.expiresAt) {
		logging.CacheDebug("memory miss for signature %q", taskSignature)
		return nil
	}
	entry.hitCount++
	entry.lastUsedAt = time.Now()
	return entry.plan
}

// GetByID returns a plan by id, ignoring expiry.
func (c *MemoryCache) GetByID(ctx context.Context, planID string) *types.Plan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byID[planID]
}

// Put stores the plan, replacing any entry for the same signature.
func (c *MemoryCache) Put(ctx context.Context, plan *types.Plan, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := types.CacheKey(plan.TaskSignature)
	if old, ok := c.entries[key]; ok {
		delete(c.byID, old.plan.ID)
	}
	c.entries[key] = &memoryEntry{
		taskSignature: plan.TaskSignature,
		plan:          plan,
		expiresAt:     time.Now().Add(ttl),
	}
	c.byID[plan.ID] = plan
}

// Invalidate removes the cache entry. The plan stays reachable by id.
func (c *MemoryCache) Invalidate(ctx context.Context, taskSignature string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, types.CacheKey(taskSignature))
	return nil
}

// CleanupExpired removes expired entries.
func (c *MemoryCache) CleanupExpired(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats summarizes the cache contents.
func (c *MemoryCache) Stats(ctx context.Context) (*CacheStats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &CacheStats{Total: len(c.entries)}
	now := time.Now()
	withHits := 0
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			stats.Expired++
		}
		if entry.hitCount > 0 {
			withHits++
		}
		stats.Top = append(stats.Top, CacheTopItem{
			TaskSignature: entry.taskSignature,
			PlanID:        entry.plan.ID,
			HitCount:      entry.hitCount,
			LastUsedAt:    entry.lastUsedAt,
		})
	}
	if stats.Total > 0 {
		stats.HitRate = float64(withHits) / float64(stats.Total)
	}
	sort.Slice(stats.Top, func(i, j int) bool {
		return stats.Top[i].HitCount > stats.Top[j].HitCount
	})
	if len(stats.Top) > 5 {
		stats.Top = stats.Top[:5]
	}
	return stats, nil
}

// Refresh replaces the cached plan. The memory backend cannot fail.
func (c *MemoryCache) Refresh(ctx context.Context, taskSignature string, plan *types.Plan) error {
	if plan.TaskSignature == "" {
		plan.TaskSignature = taskSignature
	}
	c.Put(ctx, plan, DefaultTTL)
	return nil
}
