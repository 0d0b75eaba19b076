package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mapfolio/place-crawler/internal/place"
)

func pendingJob(id string) place.Job {
	return place.Candidate{ID: id}.Job(0)
}

func TestQueueStoreEnqueueIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueueStore()

	require.NoError(t, q.Enqueue(ctx, place.Job{ID: "100", Name: "Cafe"}))
	require.NoError(t, q.Enqueue(ctx, place.Job{ID: "100", Name: "Renamed"}))

	job, err := q.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, "Cafe", job.Name)
	require.Equal(t, place.StatusPending, job.Status)

	// Still only one claimable row.
	_, err = q.ClaimOldestPending(ctx)
	require.NoError(t, err)
	_, err = q.ClaimOldestPending(ctx)
	require.ErrorIs(t, err, place.ErrEmptyQueue)
}

func TestQueueStoreClaimOldestPendingFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueueStore()
	require.NoError(t, q.Enqueue(ctx, pendingJob("first")))
	require.NoError(t, q.Enqueue(ctx, pendingJob("second")))

	job, err := q.ClaimOldestPending(ctx)
	require.NoError(t, err)
	require.Equal(t, "first", job.ID)
	require.Equal(t, place.StatusProcessing, job.Status)

	job, err = q.ClaimOldestPending(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", job.ID)
}

func TestQueueStoreConcurrentClaimsAtMostOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueueStore()
	require.NoError(t, q.Enqueue(ctx, pendingJob("only")))

	const callers = 16
	var wg sync.WaitGroup
	claims := make(chan string, callers)
	empties := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := q.ClaimOldestPending(ctx)
			if err == nil {
				claims <- job.ID
				return
			}
			if err == place.ErrEmptyQueue {
				empties <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(claims)
	close(empties)

	require.Len(t, claims, 1)
	require.Len(t, empties, callers-1)
}

func TestQueueStoreRetryCeiling(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueueStore()
	require.NoError(t, q.Enqueue(ctx, place.Candidate{ID: "200"}.Job(2)))

	job, err := q.ClaimOldestPending(ctx)
	require.NoError(t, err)
	require.Equal(t, "200", job.ID)

	status, err := q.MarkFailure(ctx, "200", "timeout", place.StepFetch)
	require.NoError(t, err)
	require.Equal(t, place.StatusFailed, status)

	// Revive via the session path and fail again: the second failure
	// hits the ceiling and the job becomes stopped.
	_, claimed, err := q.ClaimByID(ctx, "200")
	require.NoError(t, err)
	require.True(t, claimed)

	status, err = q.MarkFailure(ctx, "200", "timeout", place.StepFetch)
	require.NoError(t, err)
	require.Equal(t, place.StatusStopped, status)

	_, err = q.ClaimOldestPending(ctx)
	require.ErrorIs(t, err, place.ErrEmptyQueue)

	_, claimed, err = q.ClaimByID(ctx, "200")
	require.NoError(t, err)
	require.False(t, claimed)
}

func TestQueueStoreClaimByIDSkipsTerminalAndProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueueStore()
	require.NoError(t, q.Enqueue(ctx, pendingJob("100")))

	_, claimed, err := q.ClaimByID(ctx, "100")
	require.NoError(t, err)
	require.True(t, claimed)

	// A second caller sees the processing row and must skip it.
	job, claimed, err := q.ClaimByID(ctx, "100")
	require.NoError(t, err)
	require.False(t, claimed)
	require.Equal(t, place.StatusProcessing, job.Status)

	require.NoError(t, q.MarkSuccess(ctx, "100"))
	job, claimed, err = q.ClaimByID(ctx, "100")
	require.NoError(t, err)
	require.False(t, claimed)
	require.Equal(t, place.StatusSuccess, job.Status)

	_, _, err = q.ClaimByID(ctx, "missing")
	require.ErrorIs(t, err, place.ErrNotFound)
}

func TestQueueStoreMarkSuccessClearsErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQueueStore()
	require.NoError(t, q.Enqueue(ctx, pendingJob("100")))

	_, err := q.ClaimOldestPending(ctx)
	require.NoError(t, err)
	_, err = q.MarkFailure(ctx, "100", "boom", place.StepUpsert)
	require.NoError(t, err)

	_, claimed, err := q.ClaimByID(ctx, "100")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, q.MarkSuccess(ctx, "100"))

	job, err := q.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, place.StatusSuccess, job.Status)
	require.Empty(t, job.ErrorMessage)
	require.Empty(t, job.ErrorStep)
}
