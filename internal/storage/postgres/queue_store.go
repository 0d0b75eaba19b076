package postgres

// The queue store is the single source of truth for coordination: the
// pending -> processing transition is one conditional UPDATE, so no job
// is ever handed to two workers. Failed rows with spare retry budget are
// only revived through ClaimByID during a later import session covering
// the same id; no sweeper resets them to pending.

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mapfolio/place-crawler/internal/place"
)

const jobColumns = `id, name, category, address, status, retry_count, retry_limit, error_message, error_step, created_at, updated_at`

// QueueStore implements place.Queue over the place_queue table.
type QueueStore struct {
	pool dbPool
}

// NewQueueStore creates a Postgres-backed queue store.
func NewQueueStore(ctx context.Context, cfg PoolConfig) (*QueueStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &QueueStore{pool: pool}, nil
}

// NewQueueStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewQueueStoreWithPool(pool dbPool) (*QueueStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &QueueStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *QueueStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Enqueue inserts a pending row; an existing id is left untouched.
func (s *QueueStore) Enqueue(ctx context.Context, job place.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	retryLimit := job.RetryLimit
	if retryLimit <= 0 {
		retryLimit = place.DefaultRetryLimit
	}
	query := `
INSERT INTO place_queue (id, name, category, address, status, retry_count, retry_limit, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'pending', 0, $5, now(), now())
ON CONFLICT (id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, job.ID, job.Name, job.Category, job.Address, retryLimit); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// EnqueueBatch enqueues each job in order.
func (s *QueueStore) EnqueueBatch(ctx context.Context, jobs []place.Job) error {
	for _, job := range jobs {
		if err := s.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// ClaimOldestPending flips the oldest pending row to processing and
// returns it. SKIP LOCKED keeps concurrent callers from blocking on the
// same row; the status guard keeps them from claiming it twice.
func (s *QueueStore) ClaimOldestPending(ctx context.Context) (place.Job, error) {
	query := fmt.Sprintf(`
UPDATE place_queue
SET status = 'processing', updated_at = now()
WHERE id = (
	SELECT id FROM place_queue
	WHERE status = 'pending'
	ORDER BY created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING %s`, jobColumns)

	job, err := scanJob(s.pool.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return place.Job{}, place.ErrEmptyQueue
		}
		return place.Job{}, fmt.Errorf("claim oldest pending: %w", err)
	}
	return job, nil
}

// ClaimByID claims the job when it is still pending or retryable failed;
// otherwise it returns the current row with claimed=false so the caller
// can skip it.
func (s *QueueStore) ClaimByID(ctx context.Context, id string) (place.Job, bool, error) {
	query := fmt.Sprintf(`
UPDATE place_queue
SET status = 'processing', updated_at = now()
WHERE id = $1 AND status IN ('pending', 'failed')
RETURNING %s`, jobColumns)

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err == nil {
		return job, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return place.Job{}, false, fmt.Errorf("claim job %s: %w", id, err)
	}
	job, err = s.Get(ctx, id)
	if err != nil {
		return place.Job{}, false, err
	}
	return job, false, nil
}

// MarkSuccess transitions the job to success and clears the error fields.
func (s *QueueStore) MarkSuccess(ctx context.Context, id string) error {
	query := `
UPDATE place_queue
SET status = 'success', error_message = NULL, error_step = NULL, updated_at = now()
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark job %s success: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return place.ErrNotFound
	}
	return nil
}

// MarkFailure bumps retry_count and records the diagnostics; the row
// becomes stopped when the new count reaches its retry_limit.
func (s *QueueStore) MarkFailure(ctx context.Context, id string, message string, step place.Step) (place.Status, error) {
	query := `
UPDATE place_queue
SET retry_count = retry_count + 1,
    status = CASE WHEN retry_count + 1 >= retry_limit THEN 'stopped' ELSE 'failed' END,
    error_message = $2,
    error_step = $3,
    updated_at = now()
WHERE id = $1
RETURNING status`
	var status place.Status
	if err := s.pool.QueryRow(ctx, query, id, message, string(step)).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", place.ErrNotFound
		}
		return "", fmt.Errorf("mark job %s failure: %w", id, err)
	}
	return status, nil
}

// Get fetches a job row by id.
func (s *QueueStore) Get(ctx context.Context, id string) (place.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM place_queue WHERE id = $1`, jobColumns)
	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return place.Job{}, place.ErrNotFound
		}
		return place.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func scanJob(row pgx.Row) (place.Job, error) {
	var job place.Job
	var errMsg, errStep *string
	err := row.Scan(
		&job.ID,
		&job.Name,
		&job.Category,
		&job.Address,
		&job.Status,
		&job.RetryCount,
		&job.RetryLimit,
		&errMsg,
		&errStep,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return place.Job{}, err
	}
	if errMsg != nil {
		job.ErrorMessage = *errMsg
	}
	if errStep != nil {
		job.ErrorStep = place.Step(*errStep)
	}
	return job, nil
}
