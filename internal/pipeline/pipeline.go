// Package pipeline turns raw document content into vector-store points: chunk,
// embed, then atomically replace the document's previous chunks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/axonhq/axon/internal/chunker"
	"github.com/axonhq/axon/internal/config"
	"github.com/axonhq/axon/internal/embeddings"
	"github.com/axonhq/axon/internal/logging"
	"github.com/axonhq/axon/internal/vectorstore"
)

var (
	// ErrEmptyContent is returned when a document is empty after trimming.
	ErrEmptyContent = errors.New("pipeline: content is empty")

	// ErrInvalidConfig is returned when required collaborators are missing.
	ErrInvalidConfig = errors.New("pipeline: invalid config")
)

// pointNamespace is the fixed UUIDv5 namespace for point ids. Changing it
// would orphan every previously written point.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("points.axonhq.dev"))

// PointID derives the deterministic point id for (sourceID, chunkIndex).
// Re-embedding the same chunk always overwrites the same row.
func PointID(sourceID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s#%d", sourceID, chunkIndex))).String()
}

// Embedder is the embedding backend surface the pipeline needs.
type Embedder interface {
	Info(ctx context.Context) (embeddings.Info, error)
	EmbedChunks(ctx context.Context, texts []string) ([][]float32, error)
}

var _ Embedder = (*embeddings.Client)(nil)

// FileInfo carries file provenance recorded alongside file-source chunks.
type FileInfo struct {
	PathRel    string
	Name       string
	Ext        string
	SizeBytes  int64
	ModifiedAt time.Time
}

// Meta describes the document being embedded.
type Meta struct {
	Source        SourceID
	Title         string
	SourceCommand string
	ContentType   string

	// Collection overrides the routed collection when non-empty.
	Collection string

	FileInfo   *FileInfo
	IngestID   string
	IngestRoot string

	// HardSync scopes the pre-upsert delete to SourceCommand so documents
	// ingested through other commands at the same URL survive.
	HardSync bool

	// NoChunk embeds the whole document as a single chunk.
	NoChunk bool
}

// Result reports a successful embed.
type Result struct {
	Collection string
	SourceID   string
	Chunks     int
}

// Config wires the pipeline's collaborators.
type Config struct {
	Embedder Embedder
	Store    vectorstore.Store
	Settings config.Settings
	Logger   *logging.Logger
}

// Pipeline embeds documents into the vector store. Safe for concurrent use.
type Pipeline struct {
	embedder Embedder
	store    vectorstore.Store
	settings config.Settings
	logger   *logging.Logger
	tracer   trace.Tracer

	// initialized records collections whose info+ensure handshake succeeded,
	// keyed to the model dimension. Failed handshakes are never recorded, so
	// the next caller retries instead of replaying a cached failure.
	initMu      sync.Mutex
	initialized map[string]int
}

// New validates cfg and returns a ready pipeline.
func New(cfg Config) (*Pipeline, error) {
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
	return &Pipeline{
		embedder:    cfg.Embedder,
		store:       cfg.Store,
		settings:    cfg.Settings,
		logger:      logger.Named("pipeline"),
		tracer:      otel.Tracer("axon.pipeline"),
		initialized: make(map[string]int),
	}, nil
}

// AutoEmbed chunks, embeds, and writes one document. After success the store
// contains exactly the chunks derived from content under the source id, and
// no older chunks for that source.
func (p *Pipeline) AutoEmbed(ctx context.Context, content string, meta Meta) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.auto_embed", trace.WithAttributes(
		attribute.String("source.id", meta.Source.ID),
		attribute.String("source.type", string(meta.Source.Type)),
	))
	defer span.End()

	result, err := p.embedOne(ctx, content, meta)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("collection", result.Collection),
		attribute.Int("chunks", result.Chunks),
	)
	return result, nil
}

// BatchItem is one document in a batch run.
type BatchItem struct {
	Content string
	Meta    Meta
}

// BatchError records one failed item.
type BatchError struct {
	SourceID string
	Err      error
}

// BatchResult aggregates a batch run. Failures do not abort the batch.
type BatchResult struct {
	Succeeded int
	Failed    []BatchError
}

// BatchEmbed embeds items with bounded concurrency. Per-item failures are
// collected rather than propagated so one bad document cannot sink a batch.
func (p *Pipeline) BatchEmbed(ctx context.Context, items []BatchItem) (*BatchResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.batch_embed",
		trace.WithAttributes(attribute.Int("items", len(items))))
	defer span.End()

	concurrency := p.settings.Batch.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var mu sync.Mutex
	result := &BatchResult{}

	g := new(errgroup.Group)
	g.SetLimit(concurrency)
	for _, item := range items {
		g.Go(func() error {
			if _, err := p.embedOne(ctx, item.Content, item.Meta); err != nil {
				p.logger.Warn("batch item failed",
					zap.String("source", item.Meta.Source.ID), zap.Error(err))
				mu.Lock()
				result.Failed = append(result.Failed, BatchError{SourceID: item.Meta.Source.ID, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			result.Succeeded++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("succeeded", result.Succeeded),
		attribute.Int("failed", len(result.Failed)),
	)
	return result, nil
}

func (p *Pipeline) embedOne(ctx context.Context, content string, meta Meta) (*Result, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, meta.Source.ID)
	}

	collection := p.resolveCollection(meta)
	if err := vectorstore.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if _, err := p.ensureReady(ctx, collection); err != nil {
		return nil, err
	}

	var chunks []chunker.Chunk
	if meta.NoChunk {
		chunks = []chunker.Chunk{{Index: 0, Text: trimmed, TotalChunks: 1}}
	} else {
		chunks = chunker.Split(trimmed, p.chunkOptions())
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyContent, meta.Source.ID)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embedder.EmbedChunks(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks: %w", len(chunks), err)
	}

	points := p.buildPoints(chunks, vectors, meta, time.Now().UTC())

	// Delete strictly before upsert. If the upsert then fails, the source is
	// left empty rather than as a stale mixture of old and new chunks.
	if meta.HardSync && meta.SourceCommand != "" {
		err = p.store.DeleteByURLAndSourceCommand(ctx, collection, meta.Source.ID, meta.SourceCommand)
	} else {
		err = p.store.DeleteByURL(ctx, collection, meta.Source.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("clear previous chunks for %s: %w", meta.Source.ID, err)
	}

	for start := 0; start < len(points); start += vectorstore.MaxUpsertBatch {
		end := min(start+vectorstore.MaxUpsertBatch, len(points))
		if err := p.store.UpsertPoints(ctx, collection, points[start:end]); err != nil {
			return nil, fmt.Errorf("upsert points %d..%d for %s: %w", start, end, meta.Source.ID, err)
		}
	}

	p.logger.Debug("embedded document",
		zap.String("source", meta.Source.ID),
		zap.String("collection", collection),
		zap.Int("chunks", len(chunks)))

	return &Result{Collection: collection, SourceID: meta.Source.ID, Chunks: len(chunks)}, nil
}

// resolveCollection routes file and stdin sources to the repo collection when
// the caller has not overridden the collection and the default is still the
// generic web collection.
func (p *Pipeline) resolveCollection(meta Meta) string {
	if meta.Collection != "" {
		return meta.Collection
	}
	emb := p.settings.Embedding
	if meta.Source.Type != SourceTypeURL && emb.DefaultCollection == config.Defaults().Embedding.DefaultCollection {
		return emb.RepoCollection
	}
	return emb.DefaultCollection
}

// ensureReady resolves the model dimension and ensures the collection exists.
// Only successful handshakes are cached.
func (p *Pipeline) ensureReady(ctx context.Context, collection string) (int, error) {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if dim, ok := p.initialized[collection]; ok {
		return dim, nil
	}

	info, err := p.embedder.Info(ctx)
	if err != nil {
		return 0, fmt.Errorf("resolve embedding dimension: %w", err)
	}
	if err := p.store.EnsureCollection(ctx, collection, info.Dimension); err != nil {
		return 0, err
	}

	p.initialized[collection] = info.Dimension
	return info.Dimension, nil
}

func (p *Pipeline) chunkOptions() chunker.Options {
	c := p.settings.Chunking
	return chunker.Options{
		MaxChunkSize:    c.MaxChunkSize,
		TargetChunkSize: c.TargetChunkSize,
		Overlap:         c.Overlap,
		MinChunkSize:    c.MinChunkSize,
	}
}

func (p *Pipeline) buildPoints(chunks []chunker.Chunk, vectors [][]float32, meta Meta, now time.Time) []vectorstore.Point {
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		payload := map[string]any{
			vectorstore.KeyURL:           meta.Source.ID,
			vectorstore.KeyTitle:         meta.Title,
			vectorstore.KeyDomain:        meta.Source.Domain,
			vectorstore.KeySourceCommand: meta.SourceCommand,
			vectorstore.KeySourceType:    string(meta.Source.Type),
			vectorstore.KeyContentType:   meta.ContentType,
			vectorstore.KeyChunkIndex:    c.Index,
			vectorstore.KeyTotalChunks:   c.TotalChunks,
			vectorstore.KeyChunkHeader:   c.Header,
			vectorstore.KeyChunkText:     c.Text,
			vectorstore.KeyScrapedAt:     now.Format(time.RFC3339),
		}
		if fi := meta.FileInfo; fi != nil {
			payload[vectorstore.KeySourcePathRel] = fi.PathRel
			payload[vectorstore.KeyFileName] = fi.Name
			payload[vectorstore.KeyFileExt] = fi.Ext
			payload[vectorstore.KeyFileSizeBytes] = fi.SizeBytes
			payload[vectorstore.KeyFileModifiedAt] = fi.ModifiedAt.UTC().Format(time.RFC3339)
		}
		if meta.IngestID != "" {
			payload[vectorstore.KeyIngestID] = meta.IngestID
		}
		if meta.IngestRoot != "" {
			payload[vectorstore.KeyIngestRoot] = meta.IngestRoot
		}
		points[i] = vectorstore.Point{
			ID:      PointID(meta.Source.ID, c.Index),
			Vector:  vectors[i],
			Payload: payload,
		}
	}
	return points
}
