package erp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/erp/sfagent/internal/domain/order"
	"github.com/erp/sfagent/internal/infrastructure/logger"
	"github.com/erp/sfagent/internal/infrastructure/telemetry"
)

// ErrQueryFailed is returned when the order query cannot be executed or read
var ErrQueryFailed = errors.New("erp: order query failed")

// Source implements order.OrderSource by running the configured order query
type Source struct {
	db      *Database
	query   string
	timeout time.Duration
	logger  *zap.Logger
}

// Ensure Source implements OrderSource
var _ order.OrderSource = (*Source)(nil)

// NewSource creates a source. A zero timeout leaves the query bounded only by ctx.
func NewSource(db *Database, query string, timeout time.Duration, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		db:      db,
		query:   query,
		timeout: timeout,
		logger:  logger,
	}
}

// FetchOrders runs the order query and returns every row in result order
func (s *Source) FetchOrders(ctx context.Context) ([]order.RawRecord, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := telemetry.StartClientSpan(ctx, "erp.fetch_orders")
	defer span.End()

	records, err := s.fetch(ctx)
	if err != nil {
		s.logQueryError(ctx, err)
		telemetry.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(telemetry.KeyRowCount.Int(len(records)))
	telemetry.SetOK(span)
	return records, nil
}

func (s *Source) fetch(ctx context.Context) ([]order.RawRecord, error) {
	rows, err := s.db.DB.WithContext(ctx).Raw(s.query).Rows()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read columns: %w", ErrQueryFailed, err)
	}

	records := make([]order.RawRecord, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row %d: %w", ErrQueryFailed, len(records)+1, err)
		}
		records = append(records, order.NewRawRecord(columns, values))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	return records, nil
}

// logQueryError adds the SQLSTATE when the driver reported one.
// The cycle logger carried by ctx is preferred so the line keeps the cycle id.
func (s *Source) logQueryError(ctx context.Context, err error) {
	log := logger.FromContext(ctx, s.logger)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		log.Error("ERP order query failed",
			zap.String("sqlstate", string(pqErr.Code)),
			zap.String("condition", pqErr.Code.Name()),
			zap.Error(err),
		)
		return
	}
	log.Error("ERP order query failed", zap.Error(err))
}
