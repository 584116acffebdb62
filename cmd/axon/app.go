package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/axonhq/axon/internal/config"
	"github.com/axonhq/axon/internal/embeddings"
	"github.com/axonhq/axon/internal/httpx"
	"github.com/axonhq/axon/internal/logging"
	"github.com/axonhq/axon/internal/pipeline"
	"github.com/axonhq/axon/internal/query"
	"github.com/axonhq/axon/internal/queue"
	"github.com/axonhq/axon/internal/reconcile"
	"github.com/axonhq/axon/internal/scrape"
	"github.com/axonhq/axon/internal/vectorstore"
)

// Backend endpoint environment variables. Settings cover tunables; endpoints
// and credentials stay in the environment (or credentials.json).
const (
	envScrapeURL     = "AXON_API_URL"
	envScrapeKey     = "AXON_API_KEY"
	envEmbeddingsURL = "AXON_EMBEDDINGS_URL"
	envQdrantURL     = "AXON_QDRANT_URL"
	envQdrantKey     = "AXON_QDRANT_API_KEY"

	defaultEmbeddingsURL = "http://localhost:8080"
	defaultQdrantURL     = "http://localhost:6333"
)

// app is the composition root: every command builds one and reaches its
// collaborators through it. No singletons anywhere below this.
type app struct {
	root     string
	manager  *config.Manager
	settings config.Settings
	logger   *logging.Logger

	http     *httpx.Client
	embedder *embeddings.Client
	store    *vectorstore.QdrantStore
	pipeline *pipeline.Pipeline
	queue    *queue.Queue
	recon    *reconcile.Store
	baseline *reconcile.BaselineStore
	history  *scrape.History
	scraper  scrape.Client
	query    *query.Core
}

// credentials is the optional credentials.json sidecar.
type credentials struct {
	APIKey string `json:"apiKey,omitempty"`
	APIURL string `json:"apiUrl,omitempty"`
}

func newApp() (*app, error) {
	root, err := config.Root()
	if err != nil {
		return nil, fmt.Errorf("resolve config root: %w", err)
	}
	manager := config.NewManager(root)
	settings, err := manager.Effective()
	if err != nil {
		return nil, err
	}

	level := "info"
	if flagVerbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "console"})
	if err != nil {
		return nil, err
	}

	httpClient := httpx.New(httpx.Config{
		TimeoutPerAttempt: time.Duration(settings.HTTP.TimeoutMs) * time.Millisecond,
		MaxRetries:        settings.HTTP.MaxRetries,
		BaseDelay:         time.Duration(settings.HTTP.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(settings.HTTP.MaxDelayMs) * time.Millisecond,
	}, logger)

	embedder, err := embeddings.NewClient(embeddings.Config{
		BaseURL:              envOr(envEmbeddingsURL, defaultEmbeddingsURL),
		BatchSize:            settings.Embedding.BatchSize,
		MaxConcurrentBatches: settings.Embedding.MaxConcurrentBatches,
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}

	store, err := vectorstore.NewQdrantStore(vectorstore.QdrantConfig{
		BaseURL: envOr(envQdrantURL, defaultQdrantURL),
		APIKey:  os.Getenv(envQdrantKey),
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(pipeline.Config{
		Embedder: embedder,
		Store:    store,
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	jobQueue, err := queue.Open(queue.Config{
		Dir:        filepath.Join(root, "embed-queue"),
		MaxRetries: settings.Polling.MaxRetries,
		BaseDelay:  time.Duration(settings.HTTP.BaseDelayMs) * time.Millisecond,
		MaxDelay:   time.Duration(settings.HTTP.MaxDelayMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, err
	}

	creds := loadCredentials(root)
	scrapeURL := envOr(envScrapeURL, creds.APIURL)
	scrapeKey := envOr(envScrapeKey, creds.APIKey)

	var scraper scrape.Client
	if scrapeURL != "" {
		scraper, err = scrape.NewHTTPClient(scrape.Config{BaseURL: scrapeURL, APIKey: scrapeKey}, httpClient, logger)
		if err != nil {
			return nil, err
		}
	}

	queryCore, err := query.New(query.Config{
		Embedder: embedder,
		Store:    store,
		Settings: settings,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		root:     root,
		manager:  manager,
		settings: settings,
		logger:   logger,
		http:     httpClient,
		embedder: embedder,
		store:    store,
		pipeline: pipe,
		queue:    jobQueue,
		recon:    reconcile.NewStore(filepath.Join(root, "crawl-reconciliation.json"), logger),
		baseline: reconcile.NewBaselineStore(filepath.Join(root, "crawl-baselines.json")),
		history:  scrape.NewHistory(filepath.Join(root, "jobs.json")),
		scraper:  scraper,
		query:    queryCore,
	}, nil
}

// requireScraper fails commands that need the external scrape service when no
// endpoint is configured.
func (a *app) requireScraper() (scrape.Client, error) {
	if a.scraper == nil {
		return nil, fmt.Errorf("no scrape service configured: set %s (and %s)", envScrapeURL, envScrapeKey)
	}
	return a.scraper, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
}

func loadCredentials(root string) credentials {
	data, err := os.ReadFile(filepath.Join(root, "credentials.json"))
	if err != nil {
		return credentials{}
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return credentials{}
	}
	return creds
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
