// Package ordersync runs one ERP to CRM order synchronization cycle.
package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/erp/sfagent/internal/domain/integration"
	"github.com/erp/sfagent/internal/domain/order"
	"github.com/erp/sfagent/internal/infrastructure/logger"
	"github.com/erp/sfagent/internal/infrastructure/telemetry"
)

// logPrefix starts every per-record and summary line
const logPrefix = "SF Pedidos"

// tokenInvalidator is implemented by token providers that can drop a cached token
type tokenInvalidator interface {
	Invalidate()
}

// Engine synchronizes the ERP order rows of one cycle into the CRM.
// Rows are processed sequentially in source order; a failing row never aborts the cycle.
type Engine struct {
	source  order.OrderSource
	gateway integration.OrderGateway
	tokens  integration.TokenProvider
	mapper  *order.Mapper
	metrics *telemetry.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures an Engine
type Option func(*engineOptions)

type engineOptions struct {
	lookups order.LookupOptions
	metrics *telemetry.SyncMetrics
	now     func() time.Time
}

// WithLookups enables the optional lookups
func WithLookups(lookups order.LookupOptions) Option {
	return func(o *engineOptions) {
		o.lookups = lookups
	}
}

// WithMetrics records outcomes and cycle durations
func WithMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(o *engineOptions) {
		o.metrics = metrics
	}
}

// WithClock overrides the clock used for cycle timing and integration timestamps
func WithClock(now func() time.Time) Option {
	return func(o *engineOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewEngine creates a new Engine
func NewEngine(
	source order.OrderSource,
	gateway integration.OrderGateway,
	tokens integration.TokenProvider,
	zapLogger *zap.Logger,
	opts ...Option,
) *Engine {
	options := &engineOptions{now: time.Now}
	for _, opt := range opts {
		opt(options)
	}
	if zapLogger == nil {
		zapLogger = zap.NewNop()
	}

	return &Engine{
		source:  source,
		gateway: gateway,
		tokens:  tokens,
		mapper:  order.NewMapper(options.lookups, order.WithClock(options.now)),
		metrics: options.metrics,
		logger:  zapLogger,
		now:     options.now,
	}
}

// RunCycle runs one synchronization cycle.
// The returned summary is never nil; the error is set only for cycle-level failures.
func (e *Engine) RunCycle(ctx context.Context) (*integration.CycleSummary, error) {
	summary := integration.NewCycleSummary(e.now())

	ctx, span := telemetry.StartSpan(ctx, "ordersync.cycle",
		telemetry.KeyCycleID.String(summary.CycleID.String()),
	)
	defer span.End()

	ctx, log := logger.WithCycleID(ctx, e.logger, summary.CycleID.String())

	err := e.runCycle(ctx, log, summary)
	summary.Finish(e.now())

	status := summary.Status()
	if err != nil {
		status = integration.CycleStatusFailed
		telemetry.RecordError(span, err)
	} else {
		telemetry.SetOK(span)
	}
	span.SetAttributes(telemetry.KeyRowCount.Int(summary.Total))
	e.metrics.RecordCycle(ctx, status.String(), summary.Duration())

	if err != nil {
		return summary, err
	}

	log.Info(fmt.Sprintf("%s cycle finished | Inserted=%d | Updated=%d | Errors=%d | Total=%d",
		logPrefix, summary.Inserted, summary.Updated, summary.Errors, summary.Total),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errors", summary.Errors),
		zap.Int("total", summary.Total),
		zap.Duration("duration", summary.Duration()),
	)
	return summary, nil
}

func (e *Engine) runCycle(ctx context.Context, log *zap.Logger, summary *integration.CycleSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanicked, r)
		}
	}()

	token, err := e.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}

	records, err := e.source.FetchOrders(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	summary.Total = len(records)

	log.Info(logPrefix+" cycle started", zap.Int("rows", len(records)))

	for i, record := range records {
		e.handleRecord(ctx, log, summary, token, i, record)
	}
	return nil
}

// handleRecord processes one row and accounts for its outcome
func (e *Engine) handleRecord(ctx context.Context, log *zap.Logger, summary *integration.CycleSummary, token string, index int, record order.RawRecord) {
	externalID, ok := order.ExternalID(record)
	if !ok {
		summary.Record(integration.OutcomeSkipped)
		e.metrics.RecordOutcome(ctx, integration.OutcomeSkipped.String())
		log.Info(logPrefix+" SKIPPED | DocNum is blank", zap.Int("row", index+1))
		return
	}

	ctx, span := telemetry.StartSpan(ctx, "ordersync.record",
		telemetry.KeyExternalID.String(externalID),
	)
	defer span.End()

	result, status, err := e.processRecord(ctx, token, externalID, record)
	if err != nil {
		summary.RecordFailure(externalID)
		e.metrics.RecordOutcome(ctx, integration.OutcomeError.String())
		telemetry.RecordError(span, err)
		e.invalidateOnUnauthorized(err)

		log.Error(fmt.Sprintf("%s ERROR | ExternalId=%s | %v", logPrefix, externalID, err),
			zap.String("external_id", externalID),
			zap.String("outcome", integration.OutcomeError.String()),
			zap.String("row", rowSnapshot(record)),
			zap.Error(err),
		)
		return
	}

	summary.Record(result.Outcome)
	e.metrics.RecordOutcome(ctx, result.Outcome.String())
	span.SetAttributes(
		telemetry.KeyOutcome.String(result.Outcome.String()),
		telemetry.KeyOrderStatus.String(status.String()),
		telemetry.KeyHTTPStatus.Int(result.StatusCode),
	)
	telemetry.SetOK(span)

	line := fmt.Sprintf("%s %s | METHOD=%s | ExternalId=%s | Status=%d",
		logPrefix, result.Outcome, result.Method, externalID, result.StatusCode)
	if result.ID != "" {
		line += " | Id=" + result.ID
	}
	log.Info(line,
		zap.String("external_id", externalID),
		zap.String("outcome", result.Outcome.String()),
		zap.String("order_status", status.String()),
		zap.Int("http_status", result.StatusCode),
	)
}

// processRecord runs existence check, status derivation, mapping and upsert for one row.
// A panic is converted into an error so it stays confined to the row.
func (e *Engine) processRecord(ctx context.Context, token, externalID string, record order.RawRecord) (result *integration.UpsertResult, status order.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %v", ErrRecordPanicked, r)
		}
	}()

	exists, err := e.gateway.Exists(ctx, token, externalID)
	if err != nil {
		return nil, "", err
	}

	status = order.DeriveStatus(record, exists)
	normalized := e.mapper.Map(record, status)

	result, err = e.gateway.Upsert(ctx, token, externalID, &normalized)
	if err != nil {
		return nil, status, err
	}
	return result, status, nil
}

// invalidateOnUnauthorized drops the cached token after a 401 so the next cycle re-authenticates
func (e *Engine) invalidateOnUnauthorized(err error) {
	var statusErr *integration.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		return
	}
	if inv, ok := e.tokens.(tokenInvalidator); ok {
		inv.Invalidate()
	}
}

// rowSnapshot serializes a row for diagnostics
func rowSnapshot(record order.RawRecord) string {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Sprintf("%v", record.Columns())
	}
	return string(raw)
}
