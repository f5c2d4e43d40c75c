package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Metric attribute keys
var (
	AttrOutcome     = attribute.Key("outcome")
	AttrCycleStatus = attribute.Key("cycle_status")
)

// CycleDurationBuckets are bucket boundaries for sync cycle duration (seconds).
var CycleDurationBuckets = []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600}

// ErrMeterNil is returned when NewSyncMetrics gets no meter
var ErrMeterNil = errors.New("NewSyncMetrics: meter cannot be nil")

// SyncMetrics tracks the outcomes of the order sync pipeline.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	recordsTotal  metric.Int64Counter
	cyclesTotal   metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

// SyncMetricsConfig holds configuration for sync metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewSyncMetrics creates the sync instruments on cfg.Meter.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	sm := &SyncMetrics{}
	var err error

	sm.recordsTotal, err = cfg.Meter.Int64Counter("sfagent_records_total",
		metric.WithDescription("Total number of ERP order records processed, by outcome"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter sfagent_records_total: %w", err)
	}

	sm.cyclesTotal, err = cfg.Meter.Int64Counter("sfagent_cycles_total",
		metric.WithDescription("Total number of sync cycles, by status"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter sfagent_cycles_total: %w", err)
	}

	sm.cycleDuration, err = cfg.Meter.Float64Histogram("sfagent_cycle_duration_seconds",
		metric.WithDescription("Duration of sync cycles"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(CycleDurationBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram sfagent_cycle_duration_seconds: %w", err)
	}

	logger.Debug("Sync metrics initialized")
	return sm, nil
}

// RecordOutcome counts one processed record.
func (sm *SyncMetrics) RecordOutcome(ctx context.Context, outcome string) {
	if sm == nil {
		return
	}
	sm.recordsTotal.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

// RecordCycle counts a finished cycle and its duration.
func (sm *SyncMetrics) RecordCycle(ctx context.Context, status string, d time.Duration) {
	if sm == nil {
		return
	}
	attrs := metric.WithAttributes(AttrCycleStatus.String(status))
	sm.cyclesTotal.Add(ctx, 1, attrs)
	sm.cycleDuration.Record(ctx, d.Seconds(), attrs)
}
