// Package session orchestrates bulk imports of shared folders into the
// crawl pipeline.
package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mapfolio/place-crawler/internal/dedup"
	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
)

// JobRunner processes one claimed job to completion. The worker
// implements it; tests substitute fakes.
type JobRunner interface {
	Process(ctx context.Context, job place.Job) place.CrawlOutcome
}

// Config tunes session pacing and queue rows.
type Config struct {
	// ItemDelay is the pause between session items, throttling the
	// upstream API.
	ItemDelay time.Duration
	// RetryLimit is assigned to jobs the session enqueues.
	RetryLimit int
}

// Orchestrator runs the import flow: resolve share id, check folder
// ownership, fetch the listing, dedup, enqueue, crawl the session's own
// items in order, and link results to the folder.
type Orchestrator struct {
	gate    *dedup.Gate
	queue   place.Queue
	runner  JobRunner
	folders place.FolderStore
	listing place.FolderLister
	cfg     Config
	logger  *zap.Logger
}

// New builds an Orchestrator.
func New(
	gate *dedup.Gate,
	queue place.Queue,
	runner JobRunner,
	folders place.FolderStore,
	listing place.FolderLister,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = place.DefaultRetryLimit
	}
	return &Orchestrator{
		gate:    gate,
		queue:   queue,
		runner:  runner,
		folders: folders,
		listing: listing,
		cfg:     cfg,
		logger:  logger,
	}
}

// Import ingests the shared folder identified by input into the user's
// folder. Per-item crawl failures do not abort the session; they are
// counted and reflected in the summary's OK flag. Ownership and share id
// problems fail fast before any queue mutation.
func (o *Orchestrator) Import(ctx context.Context, folderID, userID, input string) (place.ImportSummary, error) {
	shareID, err := o.listing.ResolveShareID(ctx, input)
	if err != nil {
		return place.ImportSummary{}, err
	}

	folder, err := o.folders.Get(ctx, folderID)
	if err != nil {
		return place.ImportSummary{}, err
	}
	if folder.OwnerID != userID {
		return place.ImportSummary{}, place.ErrNotOwner
	}

	fl, err := o.listing.Fetch(ctx, shareID)
	if err != nil {
		return place.ImportSummary{}, fmt.Errorf("fetch folder listing: %w", err)
	}

	candidates := make([]place.Candidate, 0, len(fl.Bookmarks))
	for _, b := range fl.Bookmarks {
		candidates = append(candidates, place.Candidate{
			ID:       b.ID,
			Name:     b.Name,
			Category: b.Category,
			Address:  b.Address,
		})
	}

	summary := place.ImportSummary{
		ShareID:    shareID,
		FolderName: fl.Name,
		TotalCount: len(candidates),
	}
	if len(candidates) == 0 {
		summary.OK = true
		metrics.ObserveImportSession("empty")
		return summary, nil
	}

	part, err := o.gate.Partition(ctx, candidates)
	if err != nil {
		return place.ImportSummary{}, err
	}
	summary.ExistingCount = len(part.Known)

	jobs := make([]place.Job, 0, len(part.Unknown))
	for _, c := range part.Unknown {
		jobs = append(jobs, c.Job(o.cfg.RetryLimit))
	}
	if err := o.queue.EnqueueBatch(ctx, jobs); err != nil {
		return place.ImportSummary{}, fmt.Errorf("enqueue session jobs: %w", err)
	}
	summary.QueuedCount = len(part.Unknown)

	o.logger.Info("import session start",
		zap.String("folder_id", folderID),
		zap.String("share_id", shareID),
		zap.Int("total", summary.TotalCount),
		zap.Int("existing", summary.ExistingCount),
		zap.Int("queued", summary.QueuedCount),
	)

	linkIDs := make([]string, 0, len(part.Known)+len(part.Unknown))
	for _, c := range part.Known {
		linkIDs = append(linkIDs, c.ID)
	}

	for i, c := range part.Unknown {
		if i > 0 && o.cfg.ItemDelay > 0 {
			if err := sleep(ctx, o.cfg.ItemDelay); err != nil {
				return summary, err
			}
		}

		job, claimed, err := o.queue.ClaimByID(ctx, c.ID)
		if err != nil {
			o.logger.Error("session claim failed", zap.String("id", c.ID), zap.Error(err))
			summary.FailedCount++
			continue
		}
		if !claimed {
			// Another worker got here first, or a previous session
			// already settled the row.
			switch job.Status {
			case place.StatusSuccess:
				summary.CrawledCount++
				linkIDs = append(linkIDs, c.ID)
			case place.StatusStopped:
				summary.FailedCount++
			default:
				o.logger.Info("session item skipped",
					zap.String("id", c.ID), zap.String("status", string(job.Status)))
			}
			continue
		}

		outcome := o.runner.Process(ctx, job)
		if outcome.Status == place.StatusSuccess {
			summary.CrawledCount++
			linkIDs = append(linkIDs, c.ID)
		} else {
			summary.FailedCount++
		}
	}

	if err := o.folders.LinkPlaces(ctx, folderID, linkIDs); err != nil {
		return summary, fmt.Errorf("link places to folder: %w", err)
	}

	summary.OK = summary.FailedCount == 0
	if summary.OK {
		metrics.ObserveImportSession("ok")
	} else {
		metrics.ObserveImportSession("partial")
	}
	metrics.ObserveImportItems("existing", summary.ExistingCount)
	metrics.ObserveImportItems("crawled", summary.CrawledCount)
	metrics.ObserveImportItems("failed", summary.FailedCount)

	o.logger.Info("import session done",
		zap.String("folder_id", folderID),
		zap.Bool("ok", summary.OK),
		zap.Int("crawled", summary.CrawledCount),
		zap.Int("failed", summary.FailedCount),
	)
	return summary, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
