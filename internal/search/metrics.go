package search

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/workspaced/internal/search"

// Metrics holds search-related metrics.
type Metrics struct {
	meter          metric.Meter
	logger         *zap.Logger
	duration       metric.Float64Histogram
	scopesSearched metric.Int64Histogram
	branchFailures metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for search.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
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
		"workspaced.search.duration_seconds",
		metric.WithDescription("End-to-end semantic search duration in seconds, labeled by kind (single, multi)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.scopesSearched, err = m.meter.Int64Histogram(
		"workspaced.search.scopes_per_query",
		metric.WithDescription("Number of scopes fanned out per multi-scope query after selector expansion"),
		metric.WithUnit("{scope}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100),
	)
	if err != nil {
		m.logger.Warn("failed to create scope histogram", zap.Error(err))
	}

	m.branchFailures, err = m.meter.Int64Counter(
		"workspaced.search.branch_failures_total",
		metric.WithDescription("Scope branches that failed or were abandoned during multi-scope fan-out"),
		metric.WithUnit("{scope}"),
	)
	if err != nil {
		m.logger.Warn("failed to create branch failure counter", zap.Error(err))
	}
}

// RecordSearch records one completed search.
func (m *Metrics) RecordSearch(ctx context.Context, kind string, scopes int, failures int, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if m.scopesSearched != nil && scopes > 0 {
		m.scopesSearched.Record(ctx, int64(scopes), attrs)
	}
	if m.branchFailures != nil && failures > 0 {
		m.branchFailures.Add(ctx, int64(failures), attrs)
	}
}
