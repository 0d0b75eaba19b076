// Command placecrawler runs the place crawl service: the HTTP API, the
// queue-backed crawl pipeline, and the bulk-import orchestrator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/mapfolio/place-crawler/internal/api"
	systemclock "github.com/mapfolio/place-crawler/internal/clock/system"
	"github.com/mapfolio/place-crawler/internal/config"
	"github.com/mapfolio/place-crawler/internal/dedup"
	"github.com/mapfolio/place-crawler/internal/fetcher/upstream"
	"github.com/mapfolio/place-crawler/internal/logging"
	"github.com/mapfolio/place-crawler/internal/metrics"
	"github.com/mapfolio/place-crawler/internal/place"
	pubmem "github.com/mapfolio/place-crawler/internal/publisher/memory"
	"github.com/mapfolio/place-crawler/internal/publisher/pubsub"
	"github.com/mapfolio/place-crawler/internal/session"
	"github.com/mapfolio/place-crawler/internal/storage/gcs"
	"github.com/mapfolio/place-crawler/internal/storage/local"
	"github.com/mapfolio/place-crawler/internal/storage/memory"
	"github.com/mapfolio/place-crawler/internal/storage/postgres"
	"github.com/mapfolio/place-crawler/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "placecrawler: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return err
	}

	publisher, topic, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}

	detail := upstream.NewDetailClient(upstream.Config{
		DetailURL: cfg.Upstream.DetailURL,
		UserAgent: cfg.Upstream.UserAgent,
		Referer:   cfg.Upstream.Referer,
		Timeout:   cfg.Upstream.FetchTimeout(),
		Schedule:  cfg.Upstream.RetrySchedule(),
	}, nil)
	searchClient := upstream.NewSearchClient(upstream.SearchConfig{
		SearchURL: cfg.Upstream.SearchURL,
		UserAgent: cfg.Upstream.UserAgent,
		Referer:   cfg.Upstream.Referer,
		Timeout:   cfg.Upstream.FetchTimeout(),
	}, nil)
	folderClient := upstream.NewFolderClient(upstream.FolderConfig{
		FolderURL: cfg.Upstream.FolderURL,
		UserAgent: cfg.Upstream.UserAgent,
	}, nil)

	clock := systemclock.New()
	gate := dedup.NewGate(stores.places)

	crawlWorker := worker.New(stores.queue, stores.places, stores.audit, detail,
		blobs, publisher, clock, worker.Config{Topic: topic, RawPrefix: cfg.Blob.Prefix}, logger)

	orchestrator := session.New(gate, stores.queue, crawlWorker, stores.folders, folderClient,
		session.Config{ItemDelay: cfg.Session.ItemDelay(), RetryLimit: cfg.Session.RetryLimit}, logger)

	server := api.NewServer(crawlWorker, orchestrator, searchClient, gate, stores.queue, cfg, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

type storeSet struct {
	queue   place.Queue
	places  place.PlaceStore
	audit   place.AuditLog
	folders place.FolderStore
}

func buildStores(ctx context.Context, cfg config.Config) (*storeSet, func(), error) {
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return nil, nil, err
		}
		queue, err := postgres.NewQueueStoreWithPool(pool)
		if err != nil {
			return nil, nil, err
		}
		places, err := postgres.NewPlaceStoreWithPool(pool)
		if err != nil {
			return nil, nil, err
		}
		audit, err := postgres.NewAuditStoreWithPool(pool)
		if err != nil {
			return nil, nil, err
		}
		folders, err := postgres.NewFolderStoreWithPool(pool)
		if err != nil {
			return nil, nil, err
		}
		return &storeSet{queue: queue, places: places, audit: audit, folders: folders},
			pool.Close, nil
	case "memory":
		return &storeSet{
			queue:   memory.NewQueueStore(),
			places:  memory.NewPlaceStore(),
			audit:   memory.NewAuditLog(),
			folders: memory.NewFolderStore(),
		}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown db provider %q", cfg.DB.Provider)
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (place.BlobStore, error) {
	switch cfg.Blob.Provider {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Blob.Bucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Blob.BaseDir})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown blob provider %q", cfg.Blob.Provider)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config) (place.Publisher, string, error) {
	switch cfg.PubSub.Provider {
	case "gcp":
		pub, err := pubsub.New(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, "", err
		}
		return pub, cfg.PubSub.TopicName, nil
	case "memory":
		return pubmem.New(), cfg.PubSub.TopicName, nil
	default:
		return nil, "", fmt.Errorf("unknown pubsub provider %q", cfg.PubSub.Provider)
	}
}
