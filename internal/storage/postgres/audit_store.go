package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mapfolio/place-crawler/internal/place"
)

// AuditStore implements place.AuditLog over the crawl_log table.
// Rows are append-only and never updated.
type AuditStore struct {
	pool dbPool
}

// NewAuditStore creates a Postgres-backed audit log.
func NewAuditStore(ctx context.Context, cfg PoolConfig) (*AuditStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &AuditStore{pool: pool}, nil
}

// NewAuditStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewAuditStoreWithPool(pool dbPool) (*AuditStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &AuditStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Insert appends one crawl attempt record.
func (s *AuditStore) Insert(ctx context.Context, entry place.AuditEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("audit entry job id is required")
	}
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	var errMsg *string
	if entry.ErrorMessage != "" {
		errMsg = &entry.ErrorMessage
	}
	query := `
INSERT INTO crawl_log (id, job_id, status, error_message, start_time, end_time, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	args := []any{
		id,
		entry.JobID,
		string(entry.Status),
		errMsg,
		entry.StartTime,
		entry.EndTime,
		entry.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl log for job %s: %w", entry.JobID, err)
	}
	return nil
}
