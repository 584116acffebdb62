// Package embeddings provides the adapter for the TEI-style embedding
// backend: batched, concurrency-limited, order-preserving embedding of chunk
// texts over HTTP.
package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/axonhq/axon/internal/httpx"
	"github.com/axonhq/axon/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShortResponse indicates the backend returned fewer vectors than
	// texts were sent.
	ErrShortResponse = errors.New("embedding response length mismatch")
)

// Config holds configuration for the embedding backend client.
type Config struct {
	// BaseURL is the embedding backend base URL.
	BaseURL string

	// APIKey is optional bearer auth.
	APIKey string

	// BatchSize is the maximum number of texts per /embed call.
	BatchSize int

	// MaxConcurrentBatches bounds parallel /embed calls.
	MaxConcurrentBatches int
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 24
	}
	if c.MaxConcurrentBatches == 0 {
		c.MaxConcurrentBatches = 4
	}
}

// Info describes the backend model. Cached after the first success.
type Info struct {
	ModelID        string
	Dimension      int
	MaxInputLength int
}

// Client talks to the embedding backend.
type Client struct {
	config  Config
	http    *httpx.Client
	logger  *logging.Logger
	metrics *Metrics

	infoMu sync.Mutex
	info   *Info
}

// NewClient creates an embedding backend client.
func NewClient(config Config, httpClient *httpx.Client, logger *logging.Logger) (*Client, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Client{
		config:  config,
		http:    httpClient,
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// infoResponse accepts both casings of the model-type key.
type infoResponse struct {
	ModelID        string          `json:"model_id"`
	ModelType      json.RawMessage `json:"model_type"`
	MaxInputLength int             `json:"max_input_length"`
}

type modelType struct {
	Embedding      *struct{ Dim int `json:"dim"` } `json:"embedding"`
	EmbeddingUpper *struct{ Dim int `json:"dim"` } `json:"Embedding"`
}

// Info returns the backend model info, fetching it on first use. Only a
// successful response is cached, so a failed first call does not poison
// later ones.
func (c *Client) Info(ctx context.Context) (Info, error) {
	c.infoMu.Lock()
	defer c.infoMu.Unlock()

	if c.info != nil {
		return *c.info, nil
	}

	var raw infoResponse
	if err := c.http.DoJSON(ctx, http.MethodGet, c.config.BaseURL+"/info", c.header(), nil, &raw); err != nil {
		return Info{}, fmt.Errorf("fetching backend info: %w", err)
	}

	var mt modelType
	if len(raw.ModelType) > 0 {
		if err := json.Unmarshal(raw.ModelType, &mt); err != nil {
			return Info{}, fmt.Errorf("parsing model type: %w", err)
		}
	}

	info := Info{
		ModelID:        raw.ModelID,
		MaxInputLength: raw.MaxInputLength,
	}
	switch {
	case mt.Embedding != nil:
		info.Dimension = mt.Embedding.Dim
	case mt.EmbeddingUpper != nil:
		info.Dimension = mt.EmbeddingUpper.Dim
	default:
		return Info{}, fmt.Errorf("backend info missing embedding dimension")
	}

	c.info = &info
	return info, nil
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
}

// EmbedBatch embeds one batch of texts. The result has the same length and
// order as the input.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	var vectors [][]float32
	err := c.http.DoJSON(ctx, http.MethodPost, c.config.BaseURL+"/embed", c.header(), embedRequest{Inputs: texts}, &vectors)
	c.metrics.RecordDuration(ctx, time.Since(start))
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, got %d vectors", ErrShortResponse, len(texts), len(vectors))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedChunks embeds texts in batches of BatchSize, fanning out at most
// MaxConcurrentBatches in parallel. Input order is preserved in the output.
// Any batch failure cancels outstanding work; no partial result is returned.
func (c *Client) EmbedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	type batch struct {
		start int
		texts []string
	}
	var batches []batch
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, batch{start: start, texts: texts[start:end]})
	}

	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.MaxConcurrentBatches)

	for _, b := range batches {
		g.Go(func() error {
			defer c.metrics.RecordBatch(gctx, len(b.texts))
			vectors, err := c.EmbedBatch(gctx, b.texts)
			if err != nil {
				return fmt.Errorf("batch at offset %d: %w", b.start, err)
			}
			copy(results[b.start:], vectors)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		c.metrics.RecordError(ctx)
		return nil, err
	}
	return results, nil
}

func (c *Client) header() http.Header {
	if c.config.APIKey == "" {
		return nil
	}
	return http.Header{"Authorization": []string{"Bearer " + c.config.APIKey}}
}
