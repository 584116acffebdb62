package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/axonhq/axon/internal/logging"
)

const instrumentationName = "github.com/axonhq/axon/internal/embeddings"

// Metrics holds embedding-related instruments. Without a configured meter
// provider every recording is a no-op.
type Metrics struct {
	meter     metric.Meter
	logger    *logging.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates a Metrics instance.
func NewMetrics(logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"axon.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"axon.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding batch request"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"axon.embedding.errors_total",
		metric.WithDescription("Total embedding generation errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordBatch records the size of one embedding batch.
func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m.batchSize != nil && size > 0 {
		m.batchSize.Record(ctx, int64(size))
	}
}

// RecordDuration records the wall time of one embedding operation.
func (m *Metrics) RecordDuration(ctx context.Context, d time.Duration) {
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds())
	}
}

// RecordError counts one failed embedding operation.
func (m *Metrics) RecordError(ctx context.Context) {
	if m.errors != nil {
		m.errors.Add(ctx, 1)
	}
}
