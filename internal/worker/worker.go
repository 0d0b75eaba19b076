// Package worker runs the crawl pipeline for claimed queue jobs.
package worker

import (
	"context"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
)

// Config tunes worker side effects.
type Config struct {
	// Topic names the completion-event destination. Empty disables
	// publishing.
	Topic string
	// RawPrefix is the blob path prefix for archived payloads.
	RawPrefix string
}

// Worker executes fetch -> archive -> parse -> upsert for one job at a
// time. It owns all queue status transitions and writes exactly one
// audit entry per processed job.
type Worker struct {
	queue     place.Queue
	places    place.PlaceStore
	audit     place.AuditLog
	fetcher   place.DetailFetcher
	blobs     place.BlobStore
	publisher place.Publisher
	clock     place.Clock
	cfg       Config
	logger    *zap.Logger
}

// New builds a Worker. Blobs and publisher are optional; nil disables
// the corresponding side effect.
func New(
	queue place.Queue,
	places place.PlaceStore,
	audit place.AuditLog,
	fetcher place.DetailFetcher,
	blobs place.BlobStore,
	publisher place.Publisher,
	clock place.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.RawPrefix == "" {
		cfg.RawPrefix = "raw"
	}
	return &Worker{
		queue:     queue,
		places:    places,
		audit:     audit,
		fetcher:   fetcher,
		blobs:     blobs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessNext claims the oldest pending job and processes it. An empty
// queue surfaces as place.ErrEmptyQueue, which callers report as a
// no-op rather than a failure.
func (w *Worker) ProcessNext(ctx context.Context) (place.CrawlOutcome, error) {
	job, err := w.queue.ClaimOldestPending(ctx)
	if err != nil {
		return place.CrawlOutcome{}, err
	}
	return w.Process(ctx, job), nil
}

// Process runs the crawl pipeline for an already-claimed job. Per-job
// failures are folded into the outcome, never returned as errors; the
// queue row and audit log carry the diagnostics.
func (w *Worker) Process(ctx context.Context, job place.Job) place.CrawlOutcome {
	start := w.clock.Now()
	w.logger.Info("crawl start", zap.String("id", job.ID), zap.String("name", job.Name))

	outcome := w.run(ctx, job)

	end := w.clock.Now()
	duration := end.Sub(start)

	// The audit trail records success or failed only; stopped is a
	// queue-row state.
	auditStatus := outcome.Status
	if auditStatus == place.StatusStopped {
		auditStatus = place.StatusFailed
	}
	entry := place.AuditEntry{
		JobID:        job.ID,
		Status:       auditStatus,
		ErrorMessage: outcome.ErrorMessage,
		StartTime:    start,
		EndTime:      end,
		DurationMs:   duration.Milliseconds(),
	}
	if err := w.audit.Insert(ctx, entry); err != nil {
		// Audit is best-effort; losing a log row must not fail the job.
		w.logger.Error("audit insert failed", zap.String("id", job.ID), zap.Error(err))
	}

	metrics.ObserveCrawl(string(outcome.Status), duration)
	if outcome.Step != "" {
		metrics.ObserveCrawlFailure(string(outcome.Step))
	}

	if outcome.Status.Terminal() || outcome.Status == place.StatusFailed {
		w.publish(ctx, outcome)
	}

	if outcome.Status == place.StatusSuccess {
		w.logger.Info("crawl success", zap.String("id", job.ID), zap.Duration("took", duration))
	} else {
		w.logger.Warn("crawl failed",
			zap.String("id", job.ID),
			zap.String("status", string(outcome.Status)),
			zap.String("step", string(outcome.Step)),
			zap.String("error", outcome.ErrorMessage),
			zap.Duration("took", duration),
		)
	}
	return outcome
}

func (w *Worker) run(ctx context.Context, job place.Job) place.CrawlOutcome {
	raw, err := w.fetcher.FetchDetail(ctx, job.ID)
	if err != nil {
		return w.fail(ctx, job.ID, place.StepFetch, err)
	}

	w.archive(ctx, job.ID, raw)

	parsed, err := w.fetcher.ParseDetail(job.ID, raw)
	if err != nil {
		return w.fail(ctx, job.ID, place.StepParse, err)
	}

	if err := w.places.Upsert(ctx, parsed); err != nil {
		return w.fail(ctx, job.ID, place.StepUpsert, err)
	}

	if err := w.queue.MarkSuccess(ctx, job.ID); err != nil {
		w.logger.Error("mark success failed", zap.String("id", job.ID), zap.Error(err))
	}
	return place.CrawlOutcome{JobID: job.ID, Status: place.StatusSuccess}
}

func (w *Worker) fail(ctx context.Context, id string, step place.Step, cause error) place.CrawlOutcome {
	msg := cause.Error()
	status, err := w.queue.MarkFailure(ctx, id, msg, step)
	if err != nil {
		w.logger.Error("mark failure failed", zap.String("id", id), zap.Error(err))
		status = place.StatusFailed
	}
	return place.CrawlOutcome{JobID: id, Status: status, Step: step, ErrorMessage: msg}
}

func (w *Worker) archive(ctx context.Context, id string, raw []byte) {
	if w.blobs == nil {
		return
	}
	objPath := path.Join(w.cfg.RawPrefix, fmt.Sprintf("%s.json", id))
	uri, err := w.blobs.PutObject(ctx, objPath, "application/json", raw)
	if err != nil {
		// Archival is best-effort; the pipeline proceeds on the bytes
		// already in hand.
		w.logger.Warn("raw payload archive failed", zap.String("id", id), zap.Error(err))
		return
	}
	w.logger.Debug("raw payload archived", zap.String("id", id), zap.String("uri", uri))
}

func (w *Worker) publish(ctx context.Context, outcome place.CrawlOutcome) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, outcome); err != nil {
		w.logger.Warn("publish completion event failed", zap.String("id", outcome.JobID), zap.Error(err))
	}
}
