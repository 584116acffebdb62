package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/axonhq/axon/internal/httpx"
	"github.com/axonhq/axon/internal/logging"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("axon.vectorstore.qdrant")

// collectionNamePattern validates collection names: lowercase letters,
// numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects uppercase, special characters, path
// traversal, and spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// QdrantConfig holds configuration for the Qdrant REST adapter.
type QdrantConfig struct {
	// BaseURL is the Qdrant HTTP endpoint, e.g. http://localhost:6333.
	BaseURL string

	// APIKey is optional api-key header auth.
	APIKey string
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// QdrantStore is a Store implementation over Qdrant's HTTP REST API, using
// the shared retrying client for transient-fault handling.
type QdrantStore struct {
	config QdrantConfig
	http   *httpx.Client
	logger *logging.Logger

	// ensured caches collections already verified this process.
	// Key: collection name, value: dimension.
	ensured sync.Map
}

// NewQdrantStore creates a QdrantStore.
func NewQdrantStore(config QdrantConfig, httpClient *httpx.Client, logger *logging.Logger) (*QdrantStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &QdrantStore{
		config: config,
		http:   httpClient,
		logger: logger,
	}, nil
}

func (s *QdrantStore) header() http.Header {
	if s.config.APIKey == "" {
		return nil
	}
	return http.Header{"Api-Key": []string{s.config.APIKey}}
}

func (s *QdrantStore) collectionURL(name, suffix string) string {
	u := s.config.BaseURL + "/collections/" + url.PathEscape(name)
	if suffix != "" {
		u += suffix
	}
	return u
}

// envelope is the Qdrant REST response wrapper.
type envelope[T any] struct {
	Result T       `json:"result"`
	Status any     `json:"status"`
	Time   float64 `json:"time"`
}

type collectionDescription struct {
	Status        string `json:"status"`
	PointsCount   int    `json:"points_count"`
	SegmentsCount int    `json:"segments_count"`
	Config        struct {
		Params struct {
			Vectors struct {
				Size     int    `json:"size"`
				Distance string `json:"distance"`
			} `json:"vectors"`
		} `json:"params"`
	} `json:"config"`
}

// GetCollectionInfo returns collection metadata.
func (s *QdrantStore) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.GetCollectionInfo")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	var resp envelope[collectionDescription]
	err := s.http.DoJSON(ctx, http.MethodGet, s.collectionURL(name, ""), s.header(), nil, &resp)
	if err != nil {
		var statusErr *httpx.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound {
			span.SetStatus(codes.Error, "collection not found")
			return nil, ErrCollectionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("getting collection info for %s: %w", name, err)
	}

	info := &CollectionInfo{
		Status:        resp.Result.Status,
		PointsCount:   resp.Result.PointsCount,
		Dimension:     resp.Result.Config.Params.Vectors.Size,
		Distance:      resp.Result.Config.Params.Vectors.Distance,
		SegmentsCount: resp.Result.SegmentsCount,
	}
	span.SetStatus(codes.Ok, "success")
	return info, nil
}

type createCollectionRequest struct {
	Vectors struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	} `json:"vectors"`
}

// EnsureCollection creates the collection with cosine distance if absent.
// A present collection with a mismatched dimension is fatal.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("dimension", dim),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if dim <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrInvalidConfig, dim)
	}

	if cached, ok := s.ensured.Load(name); ok {
		if cached.(int) != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrDimensionMismatch, name, cached.(int), dim)
		}
		return nil
	}

	info, err := s.GetCollectionInfo(ctx, name)
	switch {
	case err == nil:
		if info.Dimension != dim {
			span.SetStatus(codes.Error, "dimension mismatch")
			return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrDimensionMismatch, name, info.Dimension, dim)
		}
		s.ensured.Store(name, dim)
		span.SetStatus(codes.Ok, "exists")
		return nil
	case errors.Is(err, ErrCollectionNotFound):
		// Create below.
	default:
		return err
	}

	var req createCollectionRequest
	req.Vectors.Size = dim
	req.Vectors.Distance = "Cosine"

	err = s.http.DoJSON(ctx, http.MethodPut, s.collectionURL(name, ""), s.header(), req, nil)
	if err != nil {
		var statusErr *httpx.StatusError
		// A 4xx "already exists" from a concurrent creator is fine as long
		// as the dimension checks out.
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			existing, infoErr := s.GetCollectionInfo(ctx, name)
			if infoErr == nil {
				if existing.Dimension != dim {
					return fmt.Errorf("%w: collection %s has dimension %d, want %d", ErrDimensionMismatch, name, existing.Dimension, dim)
				}
				s.ensured.Store(name, dim)
				span.SetStatus(codes.Ok, "exists")
				return nil
			}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.ensured.Store(name, dim)
	span.SetStatus(codes.Ok, "created")
	return nil
}

type upsertRequest struct {
	Points []Point `json:"points"`
}

// UpsertPoints replaces-or-inserts points by id.
func (s *QdrantStore) UpsertPoints(ctx context.Context, name string, points []Point) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.UpsertPoints")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("point_count", len(points)),
	)

	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	err := s.http.DoJSON(ctx, http.MethodPut, s.collectionURL(name, "/points?wait=true"), s.header(), upsertRequest{Points: points}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points to %s: %w", len(points), name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

type deleteRequest struct {
	Filter filter `json:"filter"`
}

func (s *QdrantStore) deleteByFilter(ctx context.Context, opName, name string, f filter) error {
	ctx, span := tracer.Start(ctx, opName)
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return err
	}

	err := s.http.DoJSON(ctx, http.MethodPost, s.collectionURL(name, "/points/delete?wait=true"), s.header(), deleteRequest{Filter: f}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting points from %s: %w", name, err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByURL removes all points stored under a url.
func (s *QdrantStore) DeleteByURL(ctx context.Context, name, sourceURL string) error {
	return s.deleteByFilter(ctx, "QdrantStore.DeleteByURL", name, matchFilter(map[string]string{KeyURL: sourceURL}))
}

// DeleteByURLAndSourceCommand removes points matching both url and source
// command.
func (s *QdrantStore) DeleteByURLAndSourceCommand(ctx context.Context, name, sourceURL, sourceCommand string) error {
	return s.deleteByFilter(ctx, "QdrantStore.DeleteByURLAndSourceCommand", name, matchFilter(map[string]string{
		KeyURL:           sourceURL,
		KeySourceCommand: sourceCommand,
	}))
}

// DeleteByDomain removes every point in a domain.
func (s *QdrantStore) DeleteByDomain(ctx context.Context, name, domain string) error {
	return s.deleteByFilter(ctx, "QdrantStore.DeleteByDomain", name, matchFilter(map[string]string{KeyDomain: domain}))
}

type queryRequest struct {
	Query       []float32 `json:"query"`
	Limit       int       `json:"limit"`
	Filter      *filter   `json:"filter,omitempty"`
	WithPayload bool      `json:"with_payload"`
}

type queryResult struct {
	Points []ScoredPoint `json:"points"`
}

// QueryPoints searches by vector with optional payload equality constraints.
func (s *QdrantStore) QueryPoints(ctx context.Context, name string, vector []float32, limit int, constraints map[string]string) ([]ScoredPoint, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.QueryPoints")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("limit", limit),
	)

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidConfig, limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: query vector required", ErrInvalidConfig)
	}

	req := queryRequest{
		Query:       vector,
		Limit:       limit,
		WithPayload: true,
	}
	if len(constraints) > 0 {
		f := matchFilter(constraints)
		req.Filter = &f
	}

	var resp envelope[queryResult]
	err := s.http.DoJSON(ctx, http.MethodPost, s.collectionURL(name, "/points/query"), s.header(), req, &resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}

	span.SetAttributes(attribute.Int("results_count", len(resp.Result.Points)))
	span.SetStatus(codes.Ok, "success")
	return resp.Result.Points, nil
}

type scrollRequest struct {
	Filter      *filter `json:"filter,omitempty"`
	Limit       int     `json:"limit"`
	Offset      any     `json:"offset,omitempty"`
	WithPayload bool    `json:"with_payload"`
}

type scrollResult struct {
	Points         []Record `json:"points"`
	NextPageOffset any      `json:"next_page_offset"`
}

// ScrollByURL pages through every point stored under a url.
func (s *QdrantStore) ScrollByURL(ctx context.Context, name, sourceURL string) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.ScrollByURL")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	if err := ValidateCollectionName(name); err != nil {
		return nil, err
	}

	f := matchFilter(map[string]string{KeyURL: sourceURL})
	var all []Record
	var offset any

	for {
		req := scrollRequest{
			Filter:      &f,
			Limit:       256,
			Offset:      offset,
			WithPayload: true,
		}
		var resp envelope[scrollResult]
		err := s.http.DoJSON(ctx, http.MethodPost, s.collectionURL(name, "/points/scroll"), s.header(), req, &resp)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scrolling %s: %w", name, err)
		}
		all = append(all, resp.Result.Points...)
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}

	span.SetAttributes(attribute.Int("results_count", len(all)))
	span.SetStatus(codes.Ok, "success")
	return all, nil
}

type countRequest struct {
	Filter *filter `json:"filter,omitempty"`
	Exact  bool    `json:"exact"`
}

type countResult struct {
	Count int `json:"count"`
}

func (s *QdrantStore) count(ctx context.Context, name string, f *filter) (int, error) {
	if err := ValidateCollectionName(name); err != nil {
		return 0, err
	}
	var resp envelope[countResult]
	err := s.http.DoJSON(ctx, http.MethodPost, s.collectionURL(name, "/points/count"), s.header(), countRequest{Filter: f, Exact: true}, &resp)
	if err != nil {
		return 0, fmt.Errorf("counting points in %s: %w", name, err)
	}
	return resp.Result.Count, nil
}

// CountByURL counts points stored under a url.
func (s *QdrantStore) CountByURL(ctx context.Context, name, sourceURL string) (int, error) {
	f := matchFilter(map[string]string{KeyURL: sourceURL})
	return s.count(ctx, name, &f)
}

// CountByDomain counts points in a domain.
func (s *QdrantStore) CountByDomain(ctx context.Context, name, domain string) (int, error) {
	f := matchFilter(map[string]string{KeyDomain: domain})
	return s.count(ctx, name, &f)
}

// CountPoints counts all points in a collection.
func (s *QdrantStore) CountPoints(ctx context.Context, name string) (int, error) {
	return s.count(ctx, name, nil)
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
