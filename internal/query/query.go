// Package query is the retrieval core: embed the query, over-fetch from the
// vector store, group hits by canonical URL, and rerank groups with a small
// lexical fusion score.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/axonhq/axon/internal/config"
	"github.com/axonhq/axon/internal/logging"
	"github.com/axonhq/axon/internal/vectorstore"
)

var (
	// ErrEmptyQuery is returned for a blank query string.
	ErrEmptyQuery = errors.New("query: empty query")

	// ErrNoTemporalMatch is returned in strict temporal scope when no result
	// falls on the target date.
	ErrNoTemporalMatch = errors.New("query: no results in requested time scope")

	// ErrInvalidConfig is returned when required collaborators are missing.
	ErrInvalidConfig = errors.New("query: invalid config")
)

// QueryEmbedder embeds a query string into the model's vector space.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TemporalScope restricts results to one calendar date (UTC).
type TemporalScope struct {
	Date time.Time

	// Strict surfaces an empty scoped result as an error instead of falling
	// back to the unscoped result.
	Strict bool
}

// Request is one retrieval call.
type Request struct {
	Query      string
	Limit      int
	Domain     string
	Collection string

	// Group emits every chunk of each matched URL instead of just the top
	// chunk.
	Group bool

	// Full skips snippet extraction and returns whole chunk texts.
	Full bool

	Temporal *TemporalScope
}

// Item is one result row.
type Item struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	Score          float32 `json:"score"`
	Snippet        string  `json:"snippet,omitempty"`
	ChunkHeader    string  `json:"chunkHeader,omitempty"`
	ChunkText      string  `json:"chunkText,omitempty"`
	ChunkIndex     int     `json:"chunkIndex"`
	TotalChunks    int     `json:"totalChunks"`
	Domain         string  `json:"domain,omitempty"`
	SourceCommand  string  `json:"sourceCommand,omitempty"`
	FileModifiedAt string  `json:"fileModifiedAt,omitempty"`
	ScrapedAt      string  `json:"scrapedAt,omitempty"`
	SourcePathRel  string  `json:"sourcePathRel,omitempty"`
}

// Response is the retrieval result.
type Response struct {
	Items []Item `json:"items"`

	// ScopeFallback is set when a loose temporal scope matched nothing and
	// the unscoped result was returned instead.
	ScopeFallback bool `json:"scopeFallback,omitempty"`
}

// Config wires the core's collaborators.
type Config struct {
	Embedder QueryEmbedder
	Store    vectorstore.Store
	Settings config.Settings
	Logger   *logging.Logger
}

// Core executes semantic queries. Safe for concurrent use.
type Core struct {
	embedder QueryEmbedder
	store    vectorstore.Store
	settings config.Settings
	logger   *logging.Logger
	tracer   trace.Tracer
}

// New validates cfg and returns a query core.
func New(cfg Config) (*Core, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Core{
		embedder: cfg.Embedder,
		store:    cfg.Store,
		settings: cfg.Settings,
		logger:   logger.Named("query"),
		tracer:   otel.Tracer("axon.query"),
	}, nil
}

// Query runs one retrieval. It never partially returns: on any failure the
// response is nil.
func (c *Core) Query(ctx context.Context, req Request) (*Response, error) {
	ctx, span := c.tracer.Start(ctx, "query.search", trace.WithAttributes(
		attribute.Int("limit", req.Limit),
		attribute.Bool("grouped", req.Group),
	))
	defer span.End()

	resp, err := c.run(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(resp.Items)))
	return resp, nil
}

func (c *Core) run(ctx context.Context, req Request) (*Response, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	limit := req.Limit
	if limit <= 0 {
		limit = c.settings.Search.Limit
	}
	collection := req.Collection
	if collection == "" {
		collection = c.settings.Embedding.DefaultCollection
	}
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}

	vector, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	// Over-fetch so the post-dedup top-N stays saturated even when one URL
	// dominates the raw hits.
	overfetch := limit * c.settings.Search.OverfetchFactor
	if floor := c.settings.Search.OverfetchFloor; overfetch < floor {
		overfetch = floor
	}

	var filter map[string]string
	if req.Domain != "" {
		filter = map[string]string{vectorstore.KeyDomain: strings.ToLower(req.Domain)}
	}

	hits, err := c.store.QueryPoints(ctx, collection, vector, overfetch, filter)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}

	items := make([]Item, 0, len(hits))
	for _, hit := range hits {
		items = append(items, itemFromHit(hit))
	}

	groups := groupByURL(items)
	rerank(groups, text)
	if len(groups) > limit {
		groups = groups[:limit]
	}

	resp := &Response{Items: c.render(groups, req)}

	if req.Temporal != nil {
		scoped := filterByDate(resp.Items, req.Temporal.Date)
		switch {
		case len(scoped) > 0:
			resp.Items = scoped
		case req.Temporal.Strict:
			return nil, ErrNoTemporalMatch
		default:
			resp.ScopeFallback = true
		}
	}

	c.logger.Debug("query complete",
		zap.Int("rawHits", len(hits)),
		zap.Int("groups", len(groups)),
		zap.Int("returned", len(resp.Items)))
	return resp, nil
}

func (c *Core) render(groups []*resultGroup, req Request) []Item {
	var out []Item
	for _, g := range groups {
		emit := g.items[:1]
		if req.Group {
			emit = g.items
		}
		for _, item := range emit {
			item.URL = g.canonicalURL
			if !req.Full {
				item.Snippet = Snippet(item.ChunkText)
				item.ChunkText = ""
			}
			out = append(out, item)
		}
	}
	return out
}

func itemFromHit(hit vectorstore.ScoredPoint) Item {
	view := vectorstore.NewPayloadView(hit.Payload)
	return Item{
		URL:            view.GetString(vectorstore.KeyURL),
		Title:          view.GetString(vectorstore.KeyTitle),
		Score:          hit.Score,
		ChunkHeader:    view.GetString(vectorstore.KeyChunkHeader),
		ChunkText:      view.GetString(vectorstore.KeyChunkText),
		ChunkIndex:     view.GetInt(vectorstore.KeyChunkIndex, 0),
		TotalChunks:    view.GetInt(vectorstore.KeyTotalChunks, 0),
		Domain:         view.GetString(vectorstore.KeyDomain),
		SourceCommand:  view.GetString(vectorstore.KeySourceCommand),
		FileModifiedAt: view.GetString(vectorstore.KeyFileModifiedAt),
		ScrapedAt:      view.GetString(vectorstore.KeyScrapedAt),
		SourcePathRel:  view.GetString(vectorstore.KeySourcePathRel),
	}
}

// filterByDate keeps items whose file-modified or scraped timestamp falls on
// the target UTC date.
func filterByDate(items []Item, date time.Time) []Item {
	target := date.UTC().Truncate(24 * time.Hour)
	var scoped []Item
	for _, item := range items {
		if onDate(item.FileModifiedAt, target) || onDate(item.ScrapedAt, target) {
			scoped = append(scoped, item)
		}
	}
	return scoped
}

func onDate(stamp string, target time.Time) bool {
	if stamp == "" {
		return false
	}
	ts, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return false
	}
	return ts.UTC().Truncate(24 * time.Hour).Equal(target)
}
