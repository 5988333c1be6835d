// Package main wires together the scraper service binary.
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

	gcpPubsub "cloud.google.com/go/pubsub"
	gcpStorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/shelfscout/scraper/internal/api"
	"github.com/shelfscout/scraper/internal/catalog"
	"github.com/shelfscout/scraper/internal/clock/system"
	"github.com/shelfscout/scraper/internal/config"
	"github.com/shelfscout/scraper/internal/dispatcher"
	"github.com/shelfscout/scraper/internal/extractor"
	collyfetcher "github.com/shelfscout/scraper/internal/fetcher/colly"
	headlessfetcher "github.com/shelfscout/scraper/internal/fetcher/headless"
	"github.com/shelfscout/scraper/internal/hash/sha256"
	"github.com/shelfscout/scraper/internal/id/uuid"
	"github.com/shelfscout/scraper/internal/logging"
	"github.com/shelfscout/scraper/internal/metrics"
	memorypublisher "github.com/shelfscout/scraper/internal/publisher/memory"
	pubsubpublisher "github.com/shelfscout/scraper/internal/publisher/pubsub"
	queuememory "github.com/shelfscout/scraper/internal/queue/memory"
	"github.com/shelfscout/scraper/internal/reconciler"
	"github.com/shelfscout/scraper/internal/scrape"
	"github.com/shelfscout/scraper/internal/storage/gcs"
	"github.com/shelfscout/scraper/internal/storage/local"
	memorystorage "github.com/shelfscout/scraper/internal/storage/memory"
	"github.com/shelfscout/scraper/internal/storage/postgres"
	"github.com/shelfscout/scraper/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	jobStore, repos, closeStores, err := buildStores(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	queue := queuememory.NewQueue(clock)
	defer queue.Close()

	listFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Scraper.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
	})
	var detailFetcher scrape.Fetcher
	if cfg.Headless.Enabled {
		chromeFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Scraper.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			detailFetcher = chromeFetcher
			defer chromeFetcher.Close()
		}
	}

	registry := extractor.NewRegistry(listFetcher, detailFetcher, hasher, extractor.Config{
		DefaultCurrency: cfg.Scraper.DefaultCurrency,
		ProductLimit:    cfg.Scraper.ProductLimit,
	})
	rec := reconciler.New(repos, clock, logger.Named("reconciler"))

	publisher, closePublisher, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	dispatch := dispatcher.New(jobStore, queue, idGen, clock, publisher, dispatcher.Config{
		BackoffBase: cfg.BackoffBase(),
		EventTopic:  cfg.PubSub.TopicName,
	}, logger.Named("dispatcher"))

	workerCfg := worker.Config{
		JobTimeout:        cfg.JobTimeout(),
		RequestsPerSecond: cfg.Scraper.RequestsPerSecond,
		ContentType:       cfg.Storage.ContentType,
		BlobPrefix:        cfg.Storage.Prefix,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Scraper.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			registry,
			rec,
			blobStore,
			hasher,
			clock,
			dispatch,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}

	apiServer := api.NewServer(jobStore, dispatch, repos, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx, workers)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStores selects Postgres-backed stores when a DSN is configured and
// falls back to the in-memory stores otherwise.
func buildStores(ctx context.Context, cfg config.Config, clock scrape.Clock, logger *zap.Logger) (scrape.JobStore, catalog.Repositories, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Info("using in-memory stores")
		jobStore := memorystorage.NewJobStore(clock)
		catalogStore := memorystorage.NewCatalogStore(clock)
		return jobStore, catalogStore.Repositories(), func() {}, nil
	}

	dbCfg := postgres.JobStoreConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeMin) * time.Minute,
	}
	jobStore, err := postgres.NewJobStore(ctx, dbCfg, clock)
	if err != nil {
		return nil, catalog.Repositories{}, nil, fmt.Errorf("job store: %w", err)
	}
	catalogStore, err := postgres.NewCatalogStore(ctx, dbCfg, clock)
	if err != nil {
		jobStore.Close()
		return nil, catalog.Repositories{}, nil, fmt.Errorf("catalog store: %w", err)
	}
	closeStores := func() {
		catalogStore.Close()
		jobStore.Close()
	}
	logger.Info("using postgres stores")
	return jobStore, catalogStore.Repositories(), closeStores, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (scrape.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("using in-memory publisher")
		return memorypublisher.New(), func() {}, nil
	}
	client, err := gcpPubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	closeFn := func() {
		pub.Close()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pub, closeFn, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (scrape.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "", "none":
		return nil, nil
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := gcpStorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
