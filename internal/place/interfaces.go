package place

import (
	"context"
	"time"
)

// Queue persists crawl jobs and owns the status state machine. The
// processing state for a given id is held by at most one caller at any
// instant; that atomic claim is the sole concurrency-safety mechanism
// in the pipeline.
type Queue interface {
	// Enqueue inserts a pending job. A second enqueue of an existing id
	// is a no-op, not an error.
	Enqueue(ctx context.Context, job Job) error

	// EnqueueBatch enqueues each job in order with the same idempotency.
	EnqueueBatch(ctx context.Context, jobs []Job) error

	// ClaimOldestPending atomically flips the single oldest pending job
	// to processing and returns it. Returns ErrEmptyQueue when no
	// pending work exists.
	ClaimOldestPending(ctx context.Context) (Job, error)

	// ClaimByID re-reads the job's current status and, when it is still
	// claimable (pending or retryable failed), flips it to processing.
	// claimed reports whether this caller obtained ownership; when false
	// the returned job carries the status that caused the skip.
	ClaimByID(ctx context.Context, id string) (job Job, claimed bool, err error)

	// MarkSuccess transitions processing -> success and clears the
	// error fields.
	MarkSuccess(ctx context.Context, id string) error

	// MarkFailure increments retry_count and records the diagnostic
	// message and step. The resulting status is stopped when the new
	// count reaches retry_limit, failed otherwise.
	MarkFailure(ctx context.Context, id string, message string, step Step) (Status, error)

	// Get fetches a job by id. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Job, error)
}

// PlaceStore persists crawled entities and answers dedup membership.
type PlaceStore interface {
	// Upsert writes the place, overwriting attributes in place when the
	// id already exists. No duplicate rows are ever created.
	Upsert(ctx context.Context, p Place) error

	// ExistingIDs returns the subset of ids already stored. The input
	// may exceed membership-query limits; implementations chunk it.
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
}

// AuditLog records crawl attempts. Append-only.
type AuditLog interface {
	Insert(ctx context.Context, entry AuditEntry) error
}

// FolderStore resolves destination collections and links crawled places
// into them.
type FolderStore interface {
	// Get fetches a folder by id. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, folderID string) (Folder, error)

	// LinkPlaces attaches the given place ids to the folder, ignoring
	// links that already exist.
	LinkPlaces(ctx context.Context, folderID string, placeIDs []string) error
}

// DetailFetcher retrieves and normalizes one entity's detail from the
// upstream provider. FetchDetail absorbs transient upstream failures via
// its retry budget and returns the raw payload; ParseDetail flattens it.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, id string) ([]byte, error)
	ParseDetail(id string, raw []byte) (Place, error)
}

// FolderLister fetches upstream shared-collection listings.
type FolderLister interface {
	// ResolveShareID extracts the share id from a raw id, a full share
	// URL, or a redirecting short link.
	ResolveShareID(ctx context.Context, input string) (string, error)

	// Fetch returns the collection metadata plus its place-typed entries.
	Fetch(ctx context.Context, shareID string) (FolderListing, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
