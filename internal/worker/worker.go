// Package worker drains the embed queue in the background: it polls crawl
// jobs, embeds finished pages, reconciles vanished URLs, and retries
// transient failures with backoff.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/axonhq/axon/internal/config"
	"github.com/axonhq/axon/internal/logging"
	"github.com/axonhq/axon/internal/pipeline"
	"github.com/axonhq/axon/internal/queue"
	"github.com/axonhq/axon/internal/reconcile"
	"github.com/axonhq/axon/internal/scrape"
	"github.com/axonhq/axon/internal/vectorstore"
)

var (
	// ErrAlreadyRunning means another daemon holds the queue lock.
	ErrAlreadyRunning = errors.New("worker: another instance is already running")

	// ErrInvalidConfig is returned when required collaborators are missing.
	ErrInvalidConfig = errors.New("worker: invalid config")
)

// DocumentEmbedder is the pipeline surface the worker needs.
type DocumentEmbedder interface {
	AutoEmbed(ctx context.Context, content string, meta pipeline.Meta) (*pipeline.Result, error)
}

var _ DocumentEmbedder = (*pipeline.Pipeline)(nil)

// Config wires the worker's collaborators.
type Config struct {
	Queue      *queue.Queue
	Scraper    scrape.Client
	Embedder   DocumentEmbedder
	Reconciler *reconcile.Store
	Store      vectorstore.Store
	Settings   config.Settings
	Logger     *logging.Logger

	// Baselines holds preflight site-map counts for the discovery guardrail.
	// Optional; nil disables the check.
	Baselines *reconcile.BaselineStore

	// LockPath guards against a second daemon on the same queue directory.
	// Empty disables locking (tests, one-shot drains).
	LockPath string
}

// Worker is the background queue drainer. One instance per queue directory.
type Worker struct {
	queue      *queue.Queue
	scraper    scrape.Client
	embedder   DocumentEmbedder
	reconciler *reconcile.Store
	store      vectorstore.Store
	settings   config.Settings
	logger     *logging.Logger
	tracer     trace.Tracer
	lockPath   string
	baselines  *reconcile.BaselineStore

	now func() time.Time
}

// New validates cfg and returns a worker.
func New(cfg Config) (*Worker, error) {
	if cfg.Queue == nil || cfg.Scraper == nil || cfg.Embedder == nil || cfg.Reconciler == nil || cfg.Store == nil {
		return nil, fmt.Errorf("%w: queue, scraper, embedder, reconciler, and store are required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		queue:      cfg.Queue,
		scraper:    cfg.Scraper,
		embedder:   cfg.Embedder,
		reconciler: cfg.Reconciler,
		store:      cfg.Store,
		settings:   cfg.Settings,
		logger:     logger.Named("worker"),
		tracer:     otel.Tracer("axon.worker"),
		lockPath:   cfg.LockPath,
		baselines:  cfg.Baselines,
		now:        time.Now,
	}, nil
}

// Run polls the queue until ctx is cancelled. Cancellation is cooperative:
// in-flight pages finish, the current job goes back to pending, and Run
// returns nil.
func (w *Worker) Run(ctx context.Context) error {
	if w.lockPath != "" {
		lock := flock.New(w.lockPath)
		held, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire daemon lock: %w", err)
		}
		if !held {
			return ErrAlreadyRunning
		}
		defer lock.Unlock()
	}

	interval := time.Duration(w.settings.Polling.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 10 * time.Second
	}
	w.logger.Info("daemon started", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.DrainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("drain tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			w.logger.Info("daemon stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// DrainOnce claims every due job and processes each. Job-level failures are
// recorded on the job, never propagated.
func (w *Worker) DrainOnce(ctx context.Context) error {
	jobs, err := w.queue.ClaimDue(w.now())
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			// Shutting down: put unprocessed claims back.
			if qErr := w.queue.Requeue(job.ID, "daemon shutdown"); qErr != nil {
				w.logger.Error("requeue on shutdown failed", zap.String("id", job.ID), zap.Error(qErr))
			}
			continue
		}
		w.processJob(ctx, job)
	}
	return ctx.Err()
}

func (w *Worker) processJob(ctx context.Context, job queue.Job) {
	ctx, span := w.tracer.Start(ctx, "worker.process_job", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.url", job.URL),
	))
	defer span.End()

	logger := w.logger.With(zap.String("id", job.ID), zap.String("jobId", job.JobID))

	status, err := w.scraper.GetCrawlStatus(ctx, job.JobID)
	switch {
	case err == nil:
	case scrape.IsJobNotFound(err):
		logger.Warn("upstream job gone, failing permanently", zap.Error(err))
		w.fail(job.ID, err.Error())
		return
	case errors.Is(err, context.Canceled):
		w.requeue(job.ID, "daemon shutdown")
		return
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.retryOrFail(job.ID, err.Error())
		return
	}

	switch status.Status {
	case scrape.StatusCompleted:
		w.completeJob(ctx, job, status, logger)
	case scrape.StatusFailed:
		logger.Warn("upstream crawl failed")
		w.fail(job.ID, "upstream crawl failed")
	default:
		// Still scraping. Waiting is not a failure, so no retry is consumed.
		w.requeue(job.ID, "still scraping: "+status.Status)
	}
}

// completeJob embeds every crawled page, then reconciles vanished URLs. All
// deletions happen strictly after all upserts, so a reconciliation delete can
// never race a fresh write within the same job.
func (w *Worker) completeJob(ctx context.Context, job queue.Job, status scrape.CrawlStatus, logger *logging.Logger) {
	w.checkBaseline(job, status, logger)

	concurrency := w.settings.Embedding.MaxConcurrent
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu         sync.Mutex
		seen       = make(map[string][]string)
		pageErrors []string
	)

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, page := range status.Data {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			content, contentType := page.Content()
			pageURL := page.Metadata.Source()
			if content == "" || pageURL == "" {
				return nil
			}
			src, err := pipeline.SourceFromURL(pageURL)
			if err != nil {
				logger.Warn("skipping page with invalid url", logging.URL("url", pageURL))
				return nil
			}
			_, err = w.embedder.AutoEmbed(ctx, content, pipeline.Meta{
				Source:        src,
				Title:         page.Metadata.Title,
				SourceCommand: "crawl",
				ContentType:   contentType,
				Collection:    job.Collection,
				HardSync:      job.HardSync,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				pageErrors = append(pageErrors, fmt.Sprintf("%s: %v", pageURL, err))
				return nil
			}
			seen[src.Domain] = append(seen[src.Domain], src.ID)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		w.requeue(job.ID, "daemon shutdown")
		return
	}
	if len(pageErrors) > 0 {
		// Partial embeds must not drive deletions: a page that failed to
		// embed would look "unseen" and get reconciled away.
		w.retryOrFail(job.ID, fmt.Sprintf("%d/%d pages failed: %s", len(pageErrors), len(status.Data), pageErrors[0]))
		return
	}

	for domain, urls := range seen {
		result, err := w.reconciler.Reconcile(reconcile.Request{
			Domain:           domain,
			SeenURLs:         urls,
			HardSync:         job.HardSync,
			MissingThreshold: w.settings.Crawl.MissingThreshold,
			GracePeriod:      time.Duration(w.settings.Crawl.GracePeriodMs) * time.Millisecond,
		})
		if err != nil {
			w.retryOrFail(job.ID, fmt.Sprintf("reconcile %s: %v", domain, err))
			return
		}
		for _, stale := range result.URLsToDelete {
			if err := w.store.DeleteByURLAndSourceCommand(ctx, job.Collection, stale, "crawl"); err != nil {
				w.retryOrFail(job.ID, fmt.Sprintf("delete stale %s: %v", stale, err))
				return
			}
			logger.Info("deleted vanished page", logging.URL("url", stale))
		}
	}

	if err := w.queue.Complete(job.ID); err != nil {
		w.logger.Error("mark completed failed", zap.String("id", job.ID), zap.Error(err))
		return
	}
	logger.Info("job completed", zap.Int("pages", len(status.Data)))
}

// baselineShortfallDivisor flags crawls that returned fewer than half the
// pages the preflight site map promised.
const baselineShortfallDivisor = 2

// checkBaseline warns when a completed crawl discovered far fewer pages than
// the preflight site map recorded for the job. The crawl still completes;
// embeds and reconciliation proceed normally.
func (w *Worker) checkBaseline(job queue.Job, status scrape.CrawlStatus, logger *logging.Logger) {
	if w.baselines == nil {
		return
	}
	entry, ok, err := w.baselines.Lookup(job.JobID)
	if err != nil {
		logger.Warn("baseline lookup failed", zap.Error(err))
		return
	}
	if !ok || entry.ExpectedCount <= 0 {
		return
	}
	if len(status.Data)*baselineShortfallDivisor < entry.ExpectedCount {
		logger.Warn("crawl discovered far fewer pages than the site map",
			zap.Int("pages", len(status.Data)),
			zap.Int("expected", entry.ExpectedCount))
	}
}

func (w *Worker) requeue(id, reason string) {
	if err := w.queue.Requeue(id, reason); err != nil {
		w.logger.Error("requeue failed", zap.String("id", id), zap.Error(err))
	}
}

func (w *Worker) retryOrFail(id, cause string) {
	job, err := w.queue.RetryOrFail(id, cause)
	if err != nil {
		w.logger.Error("retry bookkeeping failed", zap.String("id", id), zap.Error(err))
		return
	}
	if job.Status == queue.StatusFailed {
		w.logger.Warn("job exhausted retries", zap.String("id", id), zap.String("cause", cause))
	}
}

func (w *Worker) fail(id, cause string) {
	if err := w.queue.Fail(id, cause); err != nil {
		w.logger.Error("mark failed failed", zap.String("id", id), zap.Error(err))
	}
}
