package indexer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/workspaced/internal/indexer"

// Metrics holds background indexing metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	indexed  metric.Int64Counter
	dropped  metric.Int64Counter
	failures metric.Int64Counter
	skipped  metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for the indexer.
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

	m.indexed, err = m.meter.Int64Counter(
		"workspaced.indexer.entries_indexed_total",
		metric.WithDescription("Entries that received an embedding from the background indexer"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create indexed counter", zap.Error(err))
	}

	m.dropped, err = m.meter.Int64Counter(
		"workspaced.indexer.enqueue_drops_total",
		metric.WithDescription("Index requests dropped because the queue was full"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create drop counter", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"workspaced.indexer.failures_total",
		metric.WithDescription("Index attempts that failed and were absorbed, including embedding errors"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create failure counter", zap.Error(err))
	}

	m.skipped, err = m.meter.Int64Counter(
		"workspaced.indexer.skips_total",
		metric.WithDescription("Index attempts skipped because the entry vanished, expired, or was replaced mid-flight"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create skip counter", zap.Error(err))
	}
}

func (m *Metrics) recordIndexed(ctx context.Context) {
	if m.indexed != nil {
		m.indexed.Add(ctx, 1)
	}
}

func (m *Metrics) recordDropped(ctx context.Context) {
	if m.dropped != nil {
		m.dropped.Add(ctx, 1)
	}
}

func (m *Metrics) recordFailure(ctx context.Context) {
	if m.failures != nil {
		m.failures.Add(ctx, 1)
	}
}

func (m *Metrics) recordSkip(ctx context.Context) {
	if m.skipped != nil {
		m.skipped.Add(ctx, 1)
	}
}
