// Package vectorstore provides typed operations on the vector database:
// collection lifecycle, upsert, filtered search/scroll/delete, and counts.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a collection exists with an
	// incompatible vector size. Never retried; requires operator action.
	ErrDimensionMismatch = errors.New("collection dimension mismatch")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// MaxUpsertBatch is the largest point batch callers should send per upsert.
const MaxUpsertBatch = 100

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	Status        string `json:"status"`
	PointsCount   int    `json:"points_count"`
	Dimension     int    `json:"dimension"`
	Distance      string `json:"distance"`
	SegmentsCount int    `json:"segments_count"`
}

// Store is the interface for vector storage operations consumed by the
// pipeline, worker, and query core.
type Store interface {
	// EnsureCollection creates the collection with cosine distance if it is
	// absent. A present collection with a different dimension returns
	// ErrDimensionMismatch. Idempotent.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// UpsertPoints replaces-or-inserts points by id. Callers send batches of
	// at most MaxUpsertBatch.
	UpsertPoints(ctx context.Context, name string, points []Point) error

	// DeleteByURL removes every point whose payload url equals url.
	DeleteByURL(ctx context.Context, name, url string) error

	// DeleteByURLAndSourceCommand removes points matching both the url and
	// the originating source command. Used by reconciliation so e.g.
	// scrape-origin documents survive crawl cleanups.
	DeleteByURLAndSourceCommand(ctx context.Context, name, url, sourceCommand string) error

	// DeleteByDomain removes every point in a domain. Operator tool.
	DeleteByDomain(ctx context.Context, name, domain string) error

	// QueryPoints searches by vector with optional payload equality
	// constraints, returning scored hits in descending score order.
	QueryPoints(ctx context.Context, name string, vector []float32, limit int, filter map[string]string) ([]ScoredPoint, error)

	// ScrollByURL returns every point stored under a url, unordered.
	ScrollByURL(ctx context.Context, name, url string) ([]Record, error)

	// CountByURL counts points stored under a url.
	CountByURL(ctx context.Context, name, url string) (int, error)

	// CountByDomain counts points in a domain.
	CountByDomain(ctx context.Context, name, domain string) (int, error)

	// CountPoints counts all points in a collection.
	CountPoints(ctx context.Context, name string) (int, error)

	// GetCollectionInfo returns collection metadata.
	GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
}
