// Package memory provides in-memory implementations for development
// and testing. Claim semantics match the Postgres stores: at most one
// caller ever owns the processing state for a given id.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mapfolio/place-crawler/internal/place"
)

// QueueStore is a mutex-guarded place.Queue.
type QueueStore struct {
	mu    sync.Mutex
	jobs  map[string]place.Job
	order []string
}

// NewQueueStore constructs an empty queue.
func NewQueueStore() *QueueStore {
	return &QueueStore{jobs: make(map[string]place.Job)}
}

// Enqueue inserts a pending row; an existing id is left untouched.
func (s *QueueStore) Enqueue(_ context.Context, job place.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return nil
	}
	if job.RetryLimit <= 0 {
		job.RetryLimit = place.DefaultRetryLimit
	}
	now := time.Now().UTC()
	job.Status = place.StatusPending
	job.RetryCount = 0
	job.CreatedAt = now
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
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

// ClaimOldestPending flips the oldest pending job to processing.
func (s *QueueStore) ClaimOldestPending(_ context.Context) (place.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status != place.StatusPending {
			continue
		}
		job.Status = place.StatusProcessing
		job.UpdatedAt = time.Now().UTC()
		s.jobs[id] = job
		return job, nil
	}
	return place.Job{}, place.ErrEmptyQueue
}

// ClaimByID claims a pending or retryable failed job; otherwise it
// reports the status that caused the skip.
func (s *QueueStore) ClaimByID(_ context.Context, id string) (place.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return place.Job{}, false, place.ErrNotFound
	}
	if job.Status != place.StatusPending && job.Status != place.StatusFailed {
		return job, false, nil
	}
	job.Status = place.StatusProcessing
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, true, nil
}

// MarkSuccess transitions the job to success and clears error fields.
func (s *QueueStore) MarkSuccess(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return place.ErrNotFound
	}
	job.Status = place.StatusSuccess
	job.ErrorMessage = ""
	job.ErrorStep = ""
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return nil
}

// MarkFailure bumps retry_count; the job becomes stopped at the limit.
func (s *QueueStore) MarkFailure(_ context.Context, id string, message string, step place.Step) (place.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return "", place.ErrNotFound
	}
	job.RetryCount++
	if job.RetryCount >= job.RetryLimit {
		job.Status = place.StatusStopped
	} else {
		job.Status = place.StatusFailed
	}
	job.ErrorMessage = message
	job.ErrorStep = step
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job.Status, nil
}

// Get fetches a job by id.
func (s *QueueStore) Get(_ context.Context, id string) (place.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return place.Job{}, place.ErrNotFound
	}
	return job, nil
}
