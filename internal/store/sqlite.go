package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"pagewatch/internal/logging"
	"pagewatch/internal/types"
)

// LocalStore is the durable SQLite backend. It implements both PlanCache and
// ResultStore. Thread-safe with a read-write mutex; SQLite itself runs in
// WAL mode with a busy timeout so worker restarts don't trip over each other.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open opens (or creates) the database at dbPath and ensures the schema.
func Open(dbPath string) (*LocalStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &LocalStore{db: db, dbPath: dbPath}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	logging.Store("LocalStore opened at %s", dbPath)
	return s, nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

func (s *LocalStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS execution_plans (
		id TEXT PRIMARY KEY,
		task_signature TEXT NOT NULL UNIQUE,
		instruction TEXT NOT NULL,
		url TEXT NOT NULL,
		plan_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS plan_cache (
		cache_key TEXT PRIMARY KEY,
		task_signature TEXT NOT NULL UNIQUE,
		plan_id TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		last_used_at DATETIME,
		expires_at DATETIME NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS execution_results (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		task_id TEXT,
		status TEXT NOT NULL,
		extracted_data TEXT,
		logs TEXT,
		error_json TEXT,
		metrics_json TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS monitoring_data (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		url TEXT NOT NULL,
		extracted_data TEXT NOT NULL,
		execution_id TEXT,
		captured_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS change_detections (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		execution_id TEXT,
		changed_fields TEXT NOT NULL,
		is_restock BOOLEAN NOT NULL DEFAULT 0,
		detected_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_plans_signature ON execution_plans(task_signature);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON plan_cache(expires_at);
	CREATE INDEX IF NOT EXISTS idx_results_plan ON execution_results(plan_id);
	CREATE INDEX IF NOT EXISTS idx_results_task ON execution_results(task_id);
	CREATE INDEX IF NOT EXISTS idx_monitoring_task ON monitoring_data(task_id, captured_at);
	CREATE INDEX IF NOT EXISTS idx_changes_task ON change_detections(task_id, detected_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ========== PlanCache ==========

// Get returns the cached plan for a task signature, or nil on miss, expiry
// or backend error. A hit atomically bumps hit_count and last_used_at.
func (s *LocalStore) Get(ctx context.Context, taskSignature string) *types.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()

	cacheKey := types.CacheKey(taskSignature)

	var planID string
	err := s.db.QueryRowContext(ctx, `
		SELECT plan_id FROM plan_cache
		WHERE cache_key = ? AND expires_at > ?`,
		cacheKey, time.Now().UTC()).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		logging.CacheDebug("miss for signature %q", taskSignature)
		return nil
	}
	if err != nil {
		logging.Get(logging.CategoryCache).Error("cache read failed: %v", err)
		return nil
	}

	plan, err := s.loadPlan(ctx, "id = ?", planID)
	if err != nil {
		logging.Get(logging.CategoryCache).Error("plan load failed for %s: %v", planID, err)
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE plan_cache SET hit_count = hit_count + 1, last_used_at = ?
		WHERE cache_key = ?`,
		time.Now().UTC(), cacheKey); err != nil {
		logging.CacheWarn("hit accounting failed: %v", err)
	}

	logging.Cache("hit for signature %q plan=%s", taskSignature, planID)
	return plan
}

// GetByID returns a plan by its id regardless of cache state, or nil.
func (s *LocalStore) GetByID(ctx context.Context, planID string) *types.Plan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, err := s.loadPlan(ctx, "id = ?", planID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			logging.Get(logging.CategoryCache).Error("plan load failed for %s: %v", planID, err)
		}
		return nil
	}
	return plan
}

func (s *LocalStore) loadPlan(ctx context.Context, where string, arg interface{}) (*types.Plan, error) {
	var planJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT plan_json FROM execution_plans WHERE is_active = 1 AND "+where, arg).
		Scan(&planJSON)
	if err != nil {
		return nil, err
	}
	var plan types.Plan
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &plan, nil
}

// Put upserts the plan by task signature (bumping version on conflict) and
// writes the cache entry. Errors are swallowed and logged; a missed cache
// write costs one regeneration, not the run.
func (s *LocalStore) Put(ctx context.Context, plan *types.Plan, ttl time.Duration) {
	if err := s.put(ctx, plan, ttl); err != nil {
		logging.Get(logging.CategoryCache).Error("cache write failed: %v", err)
	}
}

func (s *LocalStore) put(ctx context.Context, plan *types.Plan, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO execution_plans (id, task_signature, instruction, url, plan_json, version, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 1, ?)
		ON CONFLICT(task_signature) DO UPDATE SET
			plan_json = excluded.plan_json,
			instruction = excluded.instruction,
			url = excluded.url,
			version = execution_plans.version + 1,
			is_active = 1,
			updated_at = excluded.updated_at`,
		plan.ID, plan.TaskSignature, plan.Instruction, plan.URL, string(planJSON), now); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}

	// The cache row points at whatever plan id now owns the signature.
	var ownerID string
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM execution_plans WHERE task_signature = ?", plan.TaskSignature).
		Scan(&ownerID); err != nil {
		return fmt.Errorf("resolve plan owner: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plan_cache (cache_key, task_signature, plan_id, hit_count, expires_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			plan_id = excluded.plan_id,
			expires_at = excluded.expires_at`,
		types.CacheKey(plan.TaskSignature), plan.TaskSignature, ownerID, now.Add(ttl)); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.Cache("stored plan %s for signature %q ttl=%v", plan.ID, plan.TaskSignature, ttl)
	return nil
}

// Invalidate deletes the cache entry but keeps the plan row for audit.
func (s *LocalStore) Invalidate(ctx context.Context, taskSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM plan_cache WHERE cache_key = ?", types.CacheKey(taskSignature))
	if err != nil {
		return types.NewCacheBackendError("invalidate", err)
	}
	logging.Cache("invalidated signature %q", taskSignature)
	return nil
}

// CleanupExpired deletes expired cache entries and returns how many went.
func (s *LocalStore) CleanupExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM plan_cache WHERE expires_at <= ?", time.Now().UTC())
	if err != nil {
		logging.Get(logging.CategoryCache).Error("cleanup failed: %v", err)
		return 0
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Cache("cleaned up %d expired entries", n)
	}
	return int(n)
}

// Stats reports cache size, expiry backlog, hit rate and top entries.
func (s *LocalStore) Stats(ctx context.Context) (*CacheStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &CacheStats{}
	now := time.Now().UTC()

	var totalHits, entriesWithHits int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN expires_at <= ? THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(hit_count), 0),
		       COALESCE(SUM(CASE WHEN hit_count > 0 THEN 1 ELSE 0 END), 0)
		FROM plan_cache`, now).
		Scan(&stats.Total, &stats.Expired, &totalHits, &entriesWithHits)
	if err != nil {
		return nil, types.NewCacheBackendError("stats", err)
	}
	if stats.Total > 0 {
		stats.HitRate = float64(entriesWithHits) / float64(stats.Total)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_signature, plan_id, hit_count, COALESCE(last_used_at, created_at)
		FROM plan_cache ORDER BY hit_count DESC LIMIT 5`)
	if err != nil {
		return nil, types.NewCacheBackendError("stats top", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item CacheTopItem
		if err := rows.Scan(&item.TaskSignature, &item.PlanID, &item.HitCount, &item.LastUsedAt); err != nil {
			return nil, types.NewCacheBackendError("stats scan", err)
		}
		stats.Top = append(stats.Top, item)
	}
	return stats, rows.Err()
}

// Refresh replaces the cached plan after a successful regeneration. Unlike
// Put, errors surface: the caller must know the stale plan is gone.
func (s *LocalStore) Refresh(ctx context.Context, taskSignature string, plan *types.Plan) error {
	if plan.TaskSignature == "" {
		plan.TaskSignature = taskSignature
	}
	if err := s.put(ctx, plan, DefaultTTL); err != nil {
		return types.NewCacheBackendError("refresh", err)
	}
	return nil
}

// ========== ResultStore ==========

// SaveResult persists an execution result row.
func (s *LocalStore) SaveResult(ctx context.Context, result *types.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	extracted, err := json.Marshal(result.ExtractedData)
	if err != nil {
		return fmt.Errorf("encode extracted data: %w", err)
	}
	metrics, err := json.Marshal(result.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var errJSON []byte
	if result.Error != nil {
		if errJSON, err = json.Marshal(result.Error); err != nil {
			return fmt.Errorf("encode error: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO execution_results (id, plan_id, task_id, status, extracted_data, logs, error_json, metrics_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), result.PlanID, result.TaskID, string(result.Status),
		string(extracted), strings.Join(result.Logs, "\n"), string(errJSON),
		string(metrics), result.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert execution result: %w", err)
	}
	logging.StoreDebug("saved execution result plan=%s status=%s", result.PlanID, result.Status)
	return nil
}

// AppendSample appends one monitoring sample. Append-only by design.
func (s *LocalStore) AppendSample(ctx context.Context, sample types.MonitoringSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(sample.ExtractedData)
	if err != nil {
		return fmt.Errorf("encode sample data: %w", err)
	}
	id := sample.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_data (id, task_id, url, extracted_data, execution_id, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, sample.TaskID, sample.URL, string(data), sample.ExecutionID, sample.CapturedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert monitoring sample: %w", err)
	}
	return nil
}

// LatestSample returns the most recent sample for a task, or nil when the
// task has never been observed.
func (s *LocalStore) LatestSample(ctx context.Context, taskID string) (*types.MonitoringSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sample types.MonitoringSample
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, url, extracted_data, COALESCE(execution_id, ''), captured_at
		FROM monitoring_data WHERE task_id = ?
		ORDER BY captured_at DESC, rowid DESC LIMIT 1`, taskID).
		Scan(&sample.ID, &sample.TaskID, &sample.URL, &data, &sample.ExecutionID, &sample.CapturedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest sample: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &sample.ExtractedData); err != nil {
		return nil, fmt.Errorf("decode sample data: %w", err)
	}
	return &sample, nil
}

// AppendChange appends one change record. Append-only by design.
func (s *LocalStore) AppendChange(ctx context.Context, record types.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, err := json.Marshal(record.ChangedFields)
	if err != nil {
		return fmt.Errorf("encode changed fields: %w", err)
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO change_detections (id, task_id, execution_id, changed_fields, is_restock, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, record.TaskID, record.ExecutionID, string(fields), record.IsRestock, record.DetectedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

// ChangeHistory returns the most recent change records for a task.
func (s *LocalStore) ChangeHistory(ctx context.Context, taskID string, limit int) ([]types.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, COALESCE(execution_id, ''), changed_fields, is_restock, detected_at
		FROM change_detections WHERE task_id = ?
		ORDER BY detected_at DESC, rowid DESC LIMIT ?`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("load change history: %w", err)
	}
	defer rows.Close()

	var records []types.ChangeRecord
	for rows.Next() {
		var rec types.ChangeRecord
		var fields string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.ExecutionID, &fields, &rec.IsRestock, &rec.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &rec.ChangedFields); err != nil {
			return nil, fmt.Errorf("decode changed fields: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
