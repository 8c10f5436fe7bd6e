// Package store persists plans, cache entries, execution results and
// monitoring samples. Two plan-cache backends exist: a durable SQLite store
// and an in-memory fallback. The orchestrator never knows which is active.
package store

import (
	"context"
	"time"

	"pagewatch/internal/types"
)

// DefaultTTL is the cache entry lifetime when none is given.
const DefaultTTL = 7 * 24 * time.Hour

// CacheStats summarizes the plan cache.
type CacheStats struct {
	Total   int            `json:"total"`
	Expired int            `json:"expired"`
	HitRate float64        `json:"hitRate"`
	Top     []CacheTopItem `json:"top"`
}

// CacheTopItem is one high-traffic cache entry.
type CacheTopItem struct {
	TaskSignature string    `json:"taskSignature"`
	PlanID        string    `json:"planId"`
	HitCount      int       `json:"hitCount"`
	LastUsedAt    time.Time `json:"lastUsedAt"`
}

// PlanCache is the cache contract shared by both backends.
//
// Reads never propagate backend failures: Get and GetByID return nil on
// error and log once, so a broken cache degrades to a cache miss. Put may
// swallow errors for the same reason. Refresh is the exception: it runs
// after a successful regeneration and the caller must know whether the
// stale plan was actually replaced.
type PlanCache interface {
	Get(ctx context.Context, taskSignature string) *types.Plan
	GetByID(ctx context.Context, planID string) *types.Plan
	Put(ctx context.Context, plan *types.Plan, ttl time.Duration)
	Invalidate(ctx context.Context, taskSignature string) error
	CleanupExpired(ctx context.Context) int
	Stats(ctx context.Context) (*CacheStats, error)
	Refresh(ctx context.Context, taskSignature string, plan *types.Plan) error
}

// ResultStore persists execution results and monitoring history.
type ResultStore interface {
	SaveResult(ctx context.Context, result *types.ExecutionResult) error
	AppendSample(ctx context.Context, sample types.MonitoringSample) error
	LatestSample(ctx context.Context, taskID string) (*types.MonitoringSample, error)
	AppendChange(ctx context.Context, record types.ChangeRecord) error
	ChangeHistory(ctx context.Context, taskID string, limit int) ([]types.ChangeRecord, error)
}
