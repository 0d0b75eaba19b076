package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
	pubmem "github.com/mapfolio/place-crawler/internal/publisher/memory"
	"github.com/mapfolio/place-crawler/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

// stepClock advances a fixed amount per Now call so durations are
// deterministic.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(c.step)
	return c.t
}

type fakeFetcher struct {
	raw      []byte
	fetchErr error
	parsed   place.Place
	parseErr error
}

func (f *fakeFetcher) FetchDetail(_ context.Context, _ string) ([]byte, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.raw, nil
}

func (f *fakeFetcher) ParseDetail(_ string, _ []byte) (place.Place, error) {
	if f.parseErr != nil {
		return place.Place{}, f.parseErr
	}
	return f.parsed, nil
}

type failingPlaceStore struct {
	*memory.PlaceStore
}

func (failingPlaceStore) Upsert(context.Context, place.Place) error {
	return errors.New("relation does not exist")
}

type fixture struct {
	queue  *memory.QueueStore
	places *memory.PlaceStore
	audit  *memory.AuditLog
	blobs  *memory.BlobStore
	pub    *pubmem.Publisher
	clock  *stepClock
}

func newFixture(fetcher place.DetailFetcher) (*Worker, *fixture) {
	f := &fixture{
		queue:  memory.NewQueueStore(),
		places: memory.NewPlaceStore(),
		audit:  memory.NewAuditLog(),
		blobs:  memory.NewBlobStore(),
		pub:    pubmem.New(),
		clock:  newStepClock(1500 * time.Millisecond),
	}
	w := New(f.queue, f.places, f.audit, fetcher, f.blobs, f.pub, f.clock,
		Config{Topic: "crawl-events", RawPrefix: "raw"}, zap.NewNop())
	return w, f
}

func TestProcessNextSuccess(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := &fakeFetcher{
		raw:    []byte(`[{"data":{}}]`),
		parsed: place.Place{ID: "100", Name: "Morning Cafe"},
	}
	w, f := newFixture(fetcher)
	require.NoError(t, f.queue.Enqueue(ctx, place.Candidate{ID: "100"}.Job(0)))

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, place.StatusSuccess, outcome.Status)
	require.Equal(t, "100", outcome.JobID)
	require.Empty(t, outcome.ErrorMessage)

	job, err := f.queue.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, place.StatusSuccess, job.Status)

	stored, ok := f.places.Get("100")
	require.True(t, ok)
	require.Equal(t, "Morning Cafe", stored.Name)

	raw, ok := f.blobs.Object("raw/100.json")
	require.True(t, ok)
	require.Equal(t, fetcher.raw, raw)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "100", entries[0].JobID)
	require.Equal(t, place.StatusSuccess, entries[0].Status)
	require.Equal(t, int64(1500), entries[0].DurationMs)
	require.True(t, entries[0].EndTime.After(entries[0].StartTime))

	events := f.pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, "crawl-events", events[0].Topic)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	t.Parallel()

	w, _ := newFixture(&fakeFetcher{})
	_, err := w.ProcessNext(context.Background())
	require.ErrorIs(t, err, place.ErrEmptyQueue)
}

func TestProcessFetchFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, f := newFixture(&fakeFetcher{fetchErr: errors.New("connection refused")})
	require.NoError(t, f.queue.Enqueue(ctx, place.Candidate{ID: "100"}.Job(0)))

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, place.StatusFailed, outcome.Status)
	require.Equal(t, place.StepFetch, outcome.Step)
	require.Contains(t, outcome.ErrorMessage, "connection refused")

	job, err := f.queue.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, place.StatusFailed, job.Status)
	require.Equal(t, 1, job.RetryCount)
	require.Equal(t, place.StepFetch, job.ErrorStep)

	// Nothing was stored or archived.
	require.Equal(t, 0, f.places.Len())
	_, ok := f.blobs.Object("raw/100.json")
	require.False(t, ok)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, place.StatusFailed, entries[0].Status)
	require.Contains(t, entries[0].ErrorMessage, "connection refused")
}

func TestProcessParseFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fetcher := &fakeFetcher{raw: []byte("<html>"), parseErr: place.ErrMalformedPayload}
	w, f := newFixture(fetcher)
	require.NoError(t, f.queue.Enqueue(ctx, place.Candidate{ID: "100"}.Job(0)))

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, place.StatusFailed, outcome.Status)
	require.Equal(t, place.StepParse, outcome.Step)

	// The raw payload is archived even when parsing fails.
	raw, ok := f.blobs.Object("raw/100.json")
	require.True(t, ok)
	require.Equal(t, fetcher.raw, raw)
}

func TestProcessUpsertFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fixture{
		queue: memory.NewQueueStore(),
		audit: memory.NewAuditLog(),
		pub:   pubmem.New(),
		clock: newStepClock(time.Second),
	}
	w := New(f.queue, failingPlaceStore{}, f.audit,
		&fakeFetcher{raw: []byte("{}"), parsed: place.Place{ID: "100"}},
		nil, f.pub, f.clock, Config{Topic: "crawl-events"}, zap.NewNop())
	require.NoError(t, f.queue.Enqueue(ctx, place.Candidate{ID: "100"}.Job(0)))

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, place.StatusFailed, outcome.Status)
	require.Equal(t, place.StepUpsert, outcome.Step)

	job, err := f.queue.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, place.StepUpsert, job.ErrorStep)
}

func TestProcessRetryCeilingStops(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w, f := newFixture(&fakeFetcher{fetchErr: errors.New("blocked")})
	require.NoError(t, f.queue.Enqueue(ctx, place.Candidate{ID: "100"}.Job(1)))

	outcome, err := w.ProcessNext(ctx)
	require.NoError(t, err)
	require.Equal(t, place.StatusStopped, outcome.Status)

	job, err := f.queue.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, place.StatusStopped, job.Status)

	// The audit row records the attempt as failed; the stopped state
	// lives only on the queue row.
	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, place.StatusFailed, entries[0].Status)
	require.Contains(t, entries[0].ErrorMessage, "blocked")

	// Stopped jobs are never claimable again.
	_, err = w.ProcessNext(ctx)
	require.ErrorIs(t, err, place.ErrEmptyQueue)
}
