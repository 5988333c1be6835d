// Package worker implements the scrape pipeline execution loop.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shelfscout/scraper/internal/extractor"
	"github.com/shelfscout/scraper/internal/metrics"
	"github.com/shelfscout/scraper/internal/reconciler"
	"github.com/shelfscout/scraper/internal/scrape"
)

// Reporter receives the outcome of one job execution. The dispatcher
// implements it; workers never decide retry policy themselves.
type Reporter interface {
	JobSucceeded(ctx context.Context, item scrape.QueueItem, result map[string]any, processed, total int)
	JobFailed(ctx context.Context, item scrape.QueueItem, jobErr error)
}

// Config controls Worker behavior.
type Config struct {
	// JobTimeout bounds one job execution end to end.
	JobTimeout time.Duration
	// RequestsPerSecond spaces outbound fetches; zero disables spacing.
	RequestsPerSecond float64
	ContentType       string
	BlobPrefix        string
}

func (c Config) withDefaults() Config {
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	if c.ContentType == "" {
		c.ContentType = "text/html; charset=utf-8"
	}
	return c
}

// Worker consumes queue items and executes the extract-then-reconcile
// pipeline for each.
type Worker struct {
	queue     scrape.JobQueue
	jobStore  scrape.JobStore
	registry  *extractor.Registry
	rec       *reconciler.Reconciler
	blobStore scrape.BlobStore
	hasher    scrape.Hasher
	clock     scrape.Clock
	reporter  Reporter
	limiter   *rate.Limiter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore may be nil to disable snapshot
// archiving.
func New(
	queue scrape.JobQueue,
	jobStore scrape.JobStore,
	registry *extractor.Registry,
	rec *reconciler.Reconciler,
	blobStore scrape.BlobStore,
	hasher scrape.Hasher,
	clock scrape.Clock,
	reporter Reporter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		registry:  registry,
		rec:       rec,
		blobStore: blobStore,
		hasher:    hasher,
		clock:     clock,
		reporter:  reporter,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, scrape.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item scrape.QueueItem) {
	job, err := w.jobStore.MarkRunning(ctx, item.JobID)
	if err != nil {
		// Cancelled between enqueue and claim; retire the item quietly.
		if errors.Is(err, scrape.ErrInvalidTransition) {
			w.logger.Debug("skipping cancelled job", zap.String("job_id", item.JobID))
			w.queue.MarkDone(item.JobID, false)
			return
		}
		w.logger.Error("claim job failed", zap.String("job_id", item.JobID), zap.Error(err))
		w.queue.MarkDone(item.JobID, true)
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	start := w.clock.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
	defer cancel()

	result, processed, total, err := w.execute(jobCtx, item)
	elapsed := w.clock.Now().Sub(start)
	if err != nil {
		metrics.ObserveJob(string(item.TargetType), "failed", elapsed)
		w.logger.Warn("job execution failed",
			zap.String("job_id", item.JobID),
			zap.String("target_type", string(item.TargetType)),
			zap.String("url", item.TargetURL),
			zap.Error(err),
		)
		w.reporter.JobFailed(ctx, item, err)
		return
	}

	metrics.ObserveJob(string(item.TargetType), "completed", elapsed)
	w.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("target_type", string(item.TargetType)),
		zap.Int("processed", processed),
		zap.Int("total", total),
		zap.Duration("elapsed", elapsed),
	)
	w.reporter.JobSucceeded(ctx, item, result, processed, total)
}

func (w *Worker) execute(ctx context.Context, item scrape.QueueItem) (map[string]any, int, int, error) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return nil, 0, 0, scrape.NewTransientError("rate limit wait aborted", err)
		}
	}

	ext, err := w.registry.Extract(ctx, item.TargetType, item.TargetURL, item.Options)
	if err != nil {
		return nil, 0, 0, err
	}
	metrics.ObserveFetch(string(item.TargetType), len(ext.RawHTML))

	snapshotURI := w.archiveSnapshot(ctx, item.JobID, ext.RawHTML)

	res, err := w.reconcile(ctx, item, ext)
	if err != nil {
		return nil, 0, 0, err
	}

	result := map[string]any{
		"scraped_count": res.Scraped,
		"saved_count":   res.Saved,
	}
	for k, v := range res.Payload {
		result[k] = v
	}
	if snapshotURI != "" {
		result["snapshot_uri"] = snapshotURI
	}
	return result, res.Saved, res.Scraped, nil
}

func (w *Worker) reconcile(ctx context.Context, item scrape.QueueItem, ext scrape.Extraction) (reconciler.Result, error) {
	switch item.TargetType {
	case scrape.TargetNavigation:
		res, err := w.rec.SaveNavigation(ctx, ext.Navigation)
		if err == nil {
			metrics.ObserveItemsSaved("navigation", res.Saved)
		}
		return res, err
	case scrape.TargetCategory:
		res, err := w.rec.SaveCategories(ctx, item.TargetURL, ext.Categories)
		if err == nil {
			metrics.ObserveItemsSaved("category", res.Saved)
		}
		return res, err
	case scrape.TargetProduct:
		res, err := w.rec.SaveProducts(ctx, item.TargetURL, ext.Products)
		if err == nil {
			metrics.ObserveItemsSaved("product", res.Saved)
		}
		return res, err
	case scrape.TargetProductDetail:
		productID, ok := item.Options.Int("productId")
		if !ok {
			return reconciler.Result{}, scrape.NewValidationError("productId option is required for product detail scraping")
		}
		if ext.Detail == nil {
			return reconciler.Result{}, scrape.NewStructuralError("extraction returned no detail record", nil)
		}
		res, err := w.rec.SaveProductDetail(ctx, int64(productID), *ext.Detail)
		if err == nil {
			metrics.ObserveItemsSaved("product_detail", res.Saved)
		}
		return res, err
	default:
		return reconciler.Result{}, scrape.NewStructuralError(fmt.Sprintf("unknown scrape type %q", item.TargetType), nil)
	}
}

// archiveSnapshot stores the raw page body and returns its URI. Archiving
// failures never fail the job.
func (w *Worker) archiveSnapshot(ctx context.Context, jobID string, body []byte) string {
	if w.blobStore == nil || len(body) == 0 {
		return ""
	}
	hash, err := w.hasher.Hash(body)
	if err != nil {
		w.logger.Warn("hash snapshot failed", zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(jobID, hash), w.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("archive snapshot failed", zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}
