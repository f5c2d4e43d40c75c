package ordersync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/erp/sfagent/internal/domain/integration"
	"github.com/erp/sfagent/internal/domain/order"
	"github.com/erp/sfagent/internal/infrastructure/telemetry"
)

// ---------------------------------------------------------------------------
// Test doubles
// ---------------------------------------------------------------------------

type fakeSource struct {
	records []order.RawRecord
	err     error
	calls   int
}

func (s *fakeSource) FetchOrders(ctx context.Context) ([]order.RawRecord, error) {
	s.calls++
	return s.records, s.err
}

// panickingSource fails the way a broken driver would
type panickingSource struct{}

func (panickingSource) FetchOrders(ctx context.Context) ([]order.RawRecord, error) {
	panic("driver returned unexpected column type")
}

type fakeTokens struct {
	token       string
	err         error
	invalidated int
}

func (f *fakeTokens) Token(ctx context.Context) (string, error) {
	return f.token, f.err
}

func (f *fakeTokens) Invalidate() {
	f.invalidated++
}

// fakeCRM keeps upserted orders in memory and answers like the REST API
type fakeCRM struct {
	mu        sync.Mutex
	store     map[string]order.NormalizedOrder
	existsErr map[string]error
	upsertErr map[string]error
	panicOn   string
	tokens    []string
	upserts   []string
	nextID    int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		store:     map[string]order.NormalizedOrder{},
		existsErr: map[string]error{},
		upsertErr: map[string]error{},
	}
}

func (c *fakeCRM) Exists(ctx context.Context, token, externalID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	if err := c.existsErr[externalID]; err != nil {
		return false, err
	}
	_, ok := c.store[externalID]
	return ok, nil
}

func (c *fakeCRM) Upsert(ctx context.Context, token, externalID string, o *order.NormalizedOrder) (*integration.UpsertResult, error) {
	if externalID == c.panicOn {
		panic("mapping blew up")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserts = append(c.upserts, externalID)
	if err := c.upsertErr[externalID]; err != nil {
		return nil, err
	}
	if _, ok := c.store[externalID]; ok {
		c.store[externalID] = *o
		return integration.ClassifyUpsert(http.StatusNoContent, nil)
	}
	c.store[externalID] = *o
	c.nextID++
	return integration.ClassifyUpsert(http.StatusCreated, []byte(fmt.Sprintf(`{"id":"a%d","success":true,"created":true}`, c.nextID)))
}

// scriptedCRM returns fixed answers regardless of state
type scriptedCRM struct {
	exists     bool
	status     int
	body       string
	lastStatus order.Status
}

func (c *scriptedCRM) Exists(ctx context.Context, token, externalID string) (bool, error) {
	return c.exists, nil
}

func (c *scriptedCRM) Upsert(ctx context.Context, token, externalID string, o *order.NormalizedOrder) (*integration.UpsertResult, error) {
	c.lastStatus = o.Status
	return integration.ClassifyUpsert(c.status, []byte(c.body))
}

var fixedNow = time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)

func row(docNum string, extra map[string]any) order.RawRecord {
	m := map[string]any{
		order.ColDocNum:    docNum,
		order.ColCanceled:  "N",
		order.ColDocStatus: "O",
		order.ColPrinted:   "N",
		order.ColCardCode:  "C001",
		order.ColCardName:  "ACME",
	}
	for k, v := range extra {
		m[k] = v
	}
	return order.RecordFromMap(m)
}

func newObservedEngine(source order.OrderSource, gateway integration.OrderGateway, tokens integration.TokenProvider, opts ...Option) (*Engine, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewEngine(source, gateway, tokens, zap.New(core), opts...), logs
}

func messages(logs *observer.ObservedLogs, level zapcore.Level) []string {
	var out []string
	for _, e := range logs.All() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestRunCycle_NewOrderIsInsertedAsDraft(t *testing.T) {
	crm := &scriptedCRM{exists: false, status: http.StatusCreated, body: `{"id":"a1b2","success":true,"created":true}`}
	source := &fakeSource{records: []order.RawRecord{row("1001", nil)}}
	engine, logs := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, order.StatusDraft, crm.lastStatus)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, integration.CycleStatusSuccess, summary.Status())

	infos := messages(logs, zapcore.InfoLevel)
	assert.Contains(t, infos, "SF Pedidos INSERT | METHOD=PATCH | ExternalId=1001 | Status=201 | Id=a1b2")
	assert.Contains(t, infos, "SF Pedidos cycle finished | Inserted=1 | Updated=0 | Errors=0 | Total=1")
}

func TestRunCycle_ExistingCancelledOrderIsUpdated(t *testing.T) {
	crm := &scriptedCRM{exists: true, status: http.StatusNoContent}
	source := &fakeSource{records: []order.RawRecord{
		row("1001", map[string]any{order.ColCanceled: "Y", order.ColDocStatus: "C", order.ColPrinted: "Y"}),
	}}
	engine, logs := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, crm.lastStatus)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 1, summary.Updated)
	assert.Contains(t, messages(logs, zapcore.InfoLevel), "SF Pedidos UPDATE | METHOD=PATCH | ExternalId=1001 | Status=204")
}

func TestRunCycle_ExistenceFailureIsIsolated(t *testing.T) {
	crm := newFakeCRM()
	_, existsErr := integration.ClassifyExists(http.StatusInternalServerError, []byte("boom"))
	crm.existsErr["1001"] = existsErr

	source := &fakeSource{records: []order.RawRecord{row("1001", nil), row("1002", nil)}}
	engine, logs := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, []string{"1001"}, summary.FailedIDs)
	assert.Equal(t, []string{"1002"}, crm.upserts)
	assert.Equal(t, integration.CycleStatusPartial, summary.Status())

	errorsLogged := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorsLogged, 1)
	entry := errorsLogged[0]
	assert.Equal(t, "SF Pedidos ERROR | ExternalId=1001 | exists (HTTP 500): boom", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "1001", fields["external_id"])
	assert.Contains(t, fields["row"], `"DocNum":"1001"`)

	assert.Contains(t, messages(logs, zapcore.InfoLevel), "SF Pedidos cycle finished | Inserted=1 | Updated=0 | Errors=1 | Total=2")
}

// ---------------------------------------------------------------------------
// Per-record behaviour
// ---------------------------------------------------------------------------

func TestRunCycle_IdempotentAcrossCycles(t *testing.T) {
	crm := newFakeCRM()
	source := &fakeSource{records: []order.RawRecord{row("1001", nil)}}
	engine, _ := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	first, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	for i := 0; i < 2; i++ {
		next, err := engine.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, next.Inserted)
		assert.Equal(t, 1, next.Updated)
	}
	assert.Len(t, crm.store, 1)
	assert.Equal(t, order.StatusPending, crm.store["1001"].Status)
}

func TestRunCycle_BlankDocNumIsSkipped(t *testing.T) {
	crm := newFakeCRM()
	source := &fakeSource{records: []order.RawRecord{row("  ", nil), row("1002", nil)}}
	engine, logs := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, []string{"1002"}, crm.upserts)
	assert.Contains(t, messages(logs, zapcore.InfoLevel), "SF Pedidos SKIPPED | DocNum is blank")
}

func TestRunCycle_UpsertRejectedKeepsGoing(t *testing.T) {
	crm := newFakeCRM()
	_, upsertErr := integration.ClassifyUpsert(http.StatusBadRequest, []byte(`[{"errorCode":"INVALID_FIELD"}]`))
	crm.upsertErr["1001"] = upsertErr

	source := &fakeSource{records: []order.RawRecord{row("1001", nil), row("1002", nil), row("1003", nil)}}
	engine, _ := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, []string{"1001", "1002", "1003"}, crm.upserts)
}

func TestRunCycle_PanicIsConfinedToRecord(t *testing.T) {
	crm := newFakeCRM()
	crm.panicOn = "1001"

	source := &fakeSource{records: []order.RawRecord{row("1001", nil), row("1002", nil)}}
	engine, logs := newObservedEngine(source, crm, &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Inserted)

	errorsLogged := logs.FilterLevelExact(zapcore.ErrorLevel).All()
	require.Len(t, errorsLogged, 1)
	assert.True(t, strings.Contains(errorsLogged[0].Message, "mapping blew up"))
}

func TestRunCycle_UnauthorizedInvalidatesToken(t *testing.T) {
	crm := newFakeCRM()
	_, existsErr := integration.ClassifyExists(http.StatusUnauthorized, []byte(`[{"errorCode":"INVALID_SESSION_ID"}]`))
	crm.existsErr["1001"] = existsErr

	tokens := &fakeTokens{token: "tok"}
	engine, _ := newObservedEngine(&fakeSource{records: []order.RawRecord{row("1001", nil)}}, crm, tokens)

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, tokens.invalidated)
}

func TestRunCycle_TokenIsPassedToGateway(t *testing.T) {
	crm := newFakeCRM()
	engine, _ := newObservedEngine(&fakeSource{records: []order.RawRecord{row("1", nil), row("2", nil)}}, crm, &fakeTokens{token: "bearer-123"})

	_, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bearer-123", "bearer-123"}, crm.tokens)
}

func TestRunCycle_IntegrationTimestampUsesClock(t *testing.T) {
	crm := newFakeCRM()
	engine, _ := newObservedEngine(&fakeSource{records: []order.RawRecord{row("1001", nil)}}, crm, &fakeTokens{token: "tok"})

	_, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fixedNow, crm.store["1001"].IntegratedAt)
	assert.Equal(t, order.IntegrationStatusIntegrated, crm.store["1001"].IntegrationStatus)
}

func TestRunCycle_OptionalLookups(t *testing.T) {
	crm := newFakeCRM()
	records := []order.RawRecord{row("1001", map[string]any{order.ColToWhsCode: "01", order.ColRota: "R1"})}

	engine, _ := newObservedEngine(&fakeSource{records: records}, crm, &fakeTokens{token: "tok"})
	_, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Nil(t, crm.store["1001"].Warehouse)

	crm = newFakeCRM()
	engine, _ = newObservedEngine(&fakeSource{records: records}, crm, &fakeTokens{token: "tok"},
		WithLookups(order.LookupOptions{Warehouse: true}))
	_, err = engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.NotNil(t, crm.store["1001"].Warehouse)
	assert.Equal(t, "01", crm.store["1001"].Warehouse.ExternalID)
	assert.Nil(t, crm.store["1001"].Route)
}

// ---------------------------------------------------------------------------
// Cycle-level failures
// ---------------------------------------------------------------------------

func TestRunCycle_TokenFailure(t *testing.T) {
	source := &fakeSource{records: []order.RawRecord{row("1001", nil)}}
	crm := newFakeCRM()
	engine, _ := newObservedEngine(source, crm, &fakeTokens{err: errors.New("invalid_grant")})

	summary, err := engine.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenUnavailable)
	require.NotNil(t, summary)
	assert.Equal(t, 0, source.calls)
	assert.Empty(t, crm.upserts)
	assert.False(t, summary.FinishedAt.IsZero())
}

func TestRunCycle_SourceFailure(t *testing.T) {
	sourceErr := errors.New("connection refused")
	engine, logs := newObservedEngine(&fakeSource{err: sourceErr}, newFakeCRM(), &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, sourceErr)
	assert.Equal(t, 0, summary.Total)
	assert.NotContains(t, messages(logs, zapcore.InfoLevel), "SF Pedidos cycle finished | Inserted=0 | Updated=0 | Errors=0 | Total=0")
}

func TestRunCycle_SourcePanicBecomesCycleError(t *testing.T) {
	crm := newFakeCRM()
	engine, logs := newObservedEngine(panickingSource{}, crm, &fakeTokens{token: "tok"})

	var (
		summary *integration.CycleSummary
		err     error
	)
	require.NotPanics(t, func() {
		summary, err = engine.RunCycle(context.Background())
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclePanicked)
	assert.Contains(t, err.Error(), "driver returned unexpected column type")
	require.NotNil(t, summary)
	assert.False(t, summary.FinishedAt.IsZero())
	assert.Empty(t, crm.upserts)
	for _, msg := range messages(logs, zapcore.InfoLevel) {
		assert.NotContains(t, msg, "cycle finished")
	}
}

func TestRunCycle_EmptySource(t *testing.T) {
	engine, logs := newObservedEngine(&fakeSource{}, newFakeCRM(), &fakeTokens{token: "tok"})

	summary, err := engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Contains(t, messages(logs, zapcore.InfoLevel), "SF Pedidos cycle finished | Inserted=0 | Updated=0 | Errors=0 | Total=0")
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestRunCycle_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	metrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{Meter: provider.Meter("test")})
	require.NoError(t, err)

	crm := newFakeCRM()
	_, existsErr := integration.ClassifyExists(http.StatusInternalServerError, []byte("boom"))
	crm.existsErr["3"] = existsErr

	source := &fakeSource{records: []order.RawRecord{row("1", nil), row("2", nil), row("3", nil), row("", nil)}}
	engine, _ := newObservedEngine(source, crm, &fakeTokens{token: "tok"}, WithMetrics(metrics))

	_, err = engine.RunCycle(context.Background())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	var records metricdata.Sum[int64]
	for _, m := range rm.ScopeMetrics[0].Metrics {
		if m.Name == "sfagent_records_total" {
			records = m.Data.(metricdata.Sum[int64])
		}
	}

	byOutcome := map[string]int64{}
	for _, dp := range records.DataPoints {
		v, _ := dp.Attributes.Value(telemetry.AttrOutcome)
		byOutcome[v.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"INSERT": 2, "ERROR": 1, "SKIPPED": 1}, byOutcome)
}
