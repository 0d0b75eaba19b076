package session

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mapfolio/place-crawler/internal/dedup"
	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
	"github.com/mapfolio/place-crawler/internal/storage/memory"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

const shareID = "5b2b954792f34810aff8c7efcbfd3c39"

type fakeLister struct {
	resolveErr error
	listing    place.FolderListing
	fetchErr   error
}

func (l *fakeLister) ResolveShareID(_ context.Context, input string) (string, error) {
	if l.resolveErr != nil {
		return "", l.resolveErr
	}
	if input == "" {
		return "", place.ErrInvalidShareID
	}
	return shareID, nil
}

func (l *fakeLister) Fetch(_ context.Context, _ string) (place.FolderListing, error) {
	if l.fetchErr != nil {
		return place.FolderListing{}, l.fetchErr
	}
	return l.listing, nil
}

// fakeRunner settles claimed jobs directly against the queue, the way
// the real worker does.
type fakeRunner struct {
	queue     place.Queue
	failIDs   map[string]bool
	processed []string
}

func (r *fakeRunner) Process(ctx context.Context, job place.Job) place.CrawlOutcome {
	r.processed = append(r.processed, job.ID)
	if r.failIDs[job.ID] {
		status, _ := r.queue.MarkFailure(ctx, job.ID, "fetch blocked", place.StepFetch)
		return place.CrawlOutcome{JobID: job.ID, Status: status, Step: place.StepFetch, ErrorMessage: "fetch blocked"}
	}
	_ = r.queue.MarkSuccess(ctx, job.ID)
	return place.CrawlOutcome{JobID: job.ID, Status: place.StatusSuccess}
}

type env struct {
	queue   *memory.QueueStore
	places  *memory.PlaceStore
	folders *memory.FolderStore
	lister  *fakeLister
	runner  *fakeRunner
}

func newEnv(listing place.FolderListing) (*Orchestrator, *env) {
	e := &env{
		queue:   memory.NewQueueStore(),
		places:  memory.NewPlaceStore(),
		folders: memory.NewFolderStore(),
		lister:  &fakeLister{listing: listing},
	}
	e.runner = &fakeRunner{queue: e.queue, failIDs: map[string]bool{}}
	e.folders.Put(place.Folder{ID: "folder-1", Title: "my spots", OwnerID: "user-1"})
	o := New(dedup.NewGate(e.places), e.queue, e.runner, e.folders, e.lister,
		Config{ItemDelay: 0, RetryLimit: 2}, zap.NewNop())
	return o, e
}

func listing(ids ...string) place.FolderListing {
	fl := place.FolderListing{Name: "weekend spots"}
	for _, id := range ids {
		fl.Bookmarks = append(fl.Bookmarks, place.Bookmark{Type: "place", ID: id})
	}
	return fl
}

func TestImportHappyPath(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, e := newEnv(listing("100", "200", "300"))
	require.NoError(t, e.places.Upsert(ctx, place.Place{ID: "100", Name: "known"}))

	got, err := o.Import(ctx, "folder-1", "user-1", "https://map.example.com/shares/"+shareID)
	require.NoError(t, err)

	require.True(t, got.OK)
	require.Equal(t, shareID, got.ShareID)
	require.Equal(t, "weekend spots", got.FolderName)
	require.Equal(t, 3, got.TotalCount)
	require.Equal(t, 1, got.ExistingCount)
	require.Equal(t, 2, got.QueuedCount)
	require.Equal(t, 2, got.CrawledCount)
	require.Equal(t, 0, got.FailedCount)

	// Session items were crawled in listing order.
	require.Equal(t, []string{"200", "300"}, e.runner.processed)

	// Known and newly crawled ids are linked to the folder.
	require.Equal(t, []string{"100", "200", "300"}, e.folders.Linked("folder-1"))

	job, err := e.queue.Get(ctx, "200")
	require.NoError(t, err)
	require.Equal(t, place.StatusSuccess, job.Status)
	require.Equal(t, 2, job.RetryLimit)
}

func TestImportCarriesBookmarkCategory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fl := place.FolderListing{
		Name: "weekend spots",
		Bookmarks: []place.Bookmark{
			{Type: "place", ID: "100", Name: "Morning Cafe", Category: "cafe"},
		},
	}
	o, e := newEnv(fl)

	_, err := o.Import(ctx, "folder-1", "user-1", shareID)
	require.NoError(t, err)

	job, err := e.queue.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, "cafe", job.Category)
}

func TestImportIgnoresUnrelatedPendingJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, e := newEnv(listing("100"))

	// A job queued outside this session shares the queue.
	require.NoError(t, e.queue.Enqueue(ctx, place.Candidate{ID: "999", Name: "unrelated"}.Job(0)))

	got, err := o.Import(ctx, "folder-1", "user-1", shareID)
	require.NoError(t, err)
	require.True(t, got.OK)
	require.Equal(t, 1, got.TotalCount)
	require.Equal(t, 1, got.QueuedCount)
	require.Equal(t, 1, got.CrawledCount)
	require.Equal(t, []string{"100"}, e.runner.processed)
	require.Equal(t, []string{"100"}, e.folders.Linked("folder-1"))

	// The unrelated row is untouched.
	job, err := e.queue.Get(ctx, "999")
	require.NoError(t, err)
	require.Equal(t, place.StatusPending, job.Status)
	require.Zero(t, job.RetryCount)
}

func TestImportPartialFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, e := newEnv(listing("100", "200"))
	e.runner.failIDs["100"] = true

	got, err := o.Import(ctx, "folder-1", "user-1", shareID)
	require.NoError(t, err)

	require.False(t, got.OK)
	require.Equal(t, 1, got.CrawledCount)
	require.Equal(t, 1, got.FailedCount)
	require.Equal(t, []string{"200"}, e.folders.Linked("folder-1"))

	job, err := e.queue.Get(ctx, "100")
	require.NoError(t, err)
	require.Equal(t, place.StatusFailed, job.Status)
	require.Equal(t, 1, job.RetryCount)
}

func TestImportNotOwnerFailsFast(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, e := newEnv(listing("100"))

	_, err := o.Import(ctx, "folder-1", "intruder", shareID)
	require.ErrorIs(t, err, place.ErrNotOwner)

	// No queue mutation happened.
	_, err = e.queue.Get(ctx, "100")
	require.ErrorIs(t, err, place.ErrNotFound)
	require.Empty(t, e.folders.Linked("folder-1"))
}

func TestImportUnknownFolder(t *testing.T) {
	t.Parallel()

	o, _ := newEnv(listing("100"))
	_, err := o.Import(context.Background(), "missing", "user-1", shareID)
	require.ErrorIs(t, err, place.ErrNotFound)
}

func TestImportInvalidShareID(t *testing.T) {
	t.Parallel()

	o, _ := newEnv(listing("100"))
	_, err := o.Import(context.Background(), "folder-1", "user-1", "")
	require.ErrorIs(t, err, place.ErrInvalidShareID)
}

func TestImportEmptyListing(t *testing.T) {
	t.Parallel()

	o, e := newEnv(place.FolderListing{Name: "empty"})
	got, err := o.Import(context.Background(), "folder-1", "user-1", shareID)
	require.NoError(t, err)
	require.True(t, got.OK)
	require.Zero(t, got.TotalCount)
	require.Empty(t, e.runner.processed)
}

func TestImportListingFetchError(t *testing.T) {
	t.Parallel()

	o, e := newEnv(listing("100"))
	e.lister.fetchErr = errors.New("listing unavailable")

	_, err := o.Import(context.Background(), "folder-1", "user-1", shareID)
	require.ErrorContains(t, err, "fetch folder listing")
}

func TestImportSkipsSettledRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	o, e := newEnv(listing("100"))

	// A previous session already crawled this id successfully; the row
	// survives in the queue but the place store was since cleared.
	require.NoError(t, e.queue.Enqueue(ctx, place.Candidate{ID: "100"}.Job(0)))
	_, err := e.queue.ClaimOldestPending(ctx)
	require.NoError(t, err)
	require.NoError(t, e.queue.MarkSuccess(ctx, "100"))

	got, err := o.Import(ctx, "folder-1", "user-1", shareID)
	require.NoError(t, err)
	require.True(t, got.OK)
	require.Equal(t, 1, got.CrawledCount)
	require.Empty(t, e.runner.processed)
	require.Equal(t, []string{"100"}, e.folders.Linked("folder-1"))
}
