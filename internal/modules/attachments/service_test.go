package attachments

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/events"
	"github.com/aristath/attachments/internal/modules/mappings"
	testutil "github.com/aristath/attachments/internal/testing"
)

type fixture struct {
	mappings  *stubMappings
	trades    *MockTradeFinder
	orders    *MockOrderFinder
	positions *MockPositionFinder
	metrics   *Metrics
	bus       *events.Bus
}

func newFixture() *fixture {
	return &fixture{
		mappings:  newStubMappings(),
		trades:    new(MockTradeFinder),
		orders:    new(MockOrderFinder),
		positions: new(MockPositionFinder),
		metrics:   NewMetrics(prometheus.NewRegistry()),
		bus:       events.NewBus(),
	}
}

func (f *fixture) service(userID string) *Service {
	return NewService(userID, f.mappings, f.trades, f.orders, f.positions, f.metrics,
		events.NewManager(f.bus, zerolog.Nop()), zerolog.Nop())
}

func optionPosition() domain.Position {
	return testutil.NewPositionFixtures()[0]
}

const optionKey = "U100|AAPL240119C00150000|2|OPT|650001"

func TestService_PositionKeyMatchesDeriver(t *testing.T) {
	s := newFixture().service("alice")
	p := optionPosition()

	assert.Equal(t, optionKey, s.PositionKey(p))
	assert.Equal(t, mappings.PositionKey(p), s.PositionKey(p))
}

func TestService_MapsDefaultToEmpty(t *testing.T) {
	s := newFixture().service("alice")

	assert.NotNil(t, s.PositionTradesMap())
	assert.Empty(t, s.PositionTradesMap())
	assert.Empty(t, s.PositionPositionsMap())
	assert.Empty(t, s.PositionOrdersMap())
}

func TestService_IsReady(t *testing.T) {
	f := newFixture()
	f.mappings.set(mappings.RelationTrade, mappings.AttachmentMap{}, nil)
	f.mappings.set(mappings.RelationPosition, nil, errors.New("position mappings down"))
	f.mappings.set(mappings.RelationOrder, nil, errors.New("order mappings down"))
	s := f.service("alice")
	ctx := context.Background()

	assert.False(t, s.IsReady())

	require.NoError(t, s.TradeMappingsQuery().Refetch(ctx))
	assert.False(t, s.IsReady(), "position mapping has not succeeded")

	f.mappings.set(mappings.RelationPosition, mappings.AttachmentMap{}, nil)
	require.NoError(t, s.PositionMappingsQuery().Refetch(ctx))
	assert.True(t, s.IsReady(), "order mapping failure does not gate readiness")
	assert.False(t, s.OrderMappingsQuery().IsSuccess())
}

func TestService_NoUserIsNeverReady(t *testing.T) {
	f := newFixture()
	s := f.service("")

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsReady())
	assert.Empty(t, f.mappings.fetchCalls())
}

func TestService_RefetchMappings(t *testing.T) {
	f := newFixture()
	f.mappings.set(mappings.RelationTrade, nil, errors.New("boom"))
	f.mappings.set(mappings.RelationPosition, mappings.AttachmentMap{"k": mappings.NewIDSet("x")}, nil)
	s := f.service("alice")

	err := s.RefetchMappings(context.Background())
	assert.Error(t, err)

	// Trade first, then position, order untouched
	assert.Equal(t, []mappings.Relation{mappings.RelationTrade, mappings.RelationPosition}, f.mappings.fetchCalls())
	assert.True(t, s.PositionPositionsMap().Get("k").Has("x"))
	assert.Empty(t, s.PositionTradesMap())
	assert.False(t, s.IsReady())

	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.Refetches.WithLabelValues("trade", "error")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.Refetches.WithLabelValues("position", "success")))
}

func TestService_StartFetchesAllRelations(t *testing.T) {
	f := newFixture()
	s := f.service("alice")

	require.NoError(t, s.Start(context.Background()))
	assert.ElementsMatch(t,
		[]mappings.Relation{mappings.RelationTrade, mappings.RelationPosition, mappings.RelationOrder},
		f.mappings.fetchCalls())
	assert.True(t, s.IsReady())
	assert.True(t, s.OrderMappingsQuery().IsSuccess())
}

func TestService_FetchTradesForSymbol_Sorted(t *testing.T) {
	f := newFixture()
	f.trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return(testutil.NewTradeFixtures(), nil).Once()
	s := f.service("alice")

	trades := s.FetchTradesForSymbol(context.Background(), "AAPL", "U100")
	require.Len(t, trades, 3)
	assert.Equal(t, "15/06/2024", trades[0].TradeDate)
	assert.Equal(t, "01/01/2024", trades[1].TradeDate)
	assert.Equal(t, "03/03/2023", trades[2].TradeDate)
}

func TestService_FetchTradesForSymbol_Cached(t *testing.T) {
	f := newFixture()
	f.trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return(testutil.NewTradeFixtures(), nil).Once()
	s := f.service("alice")
	ctx := context.Background()

	first := s.FetchTradesForSymbol(ctx, "AAPL", "U100")
	// Another account on the same root reuses the cached universe
	second := s.FetchTradesForSymbol(ctx, "AAPL", "U200")

	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
	assert.Len(t, second, 3)
	f.trades.AssertNumberOfCalls(t, "FindBySymbolRoot", 1)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.CacheHits.WithLabelValues(KindTrades)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.CacheMisses.WithLabelValues(KindTrades)))

	s.InvalidateSymbolRoot("AAPL")
	f.trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return([]domain.Trade{}, nil).Once()
	assert.Empty(t, s.FetchTradesForSymbol(ctx, "AAPL", "U100"))
	f.trades.AssertNumberOfCalls(t, "FindBySymbolRoot", 2)
}

func TestService_FetchTradesForSymbol_FailureNotCached(t *testing.T) {
	f := newFixture()
	f.trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return(nil, errors.New("db locked")).Once()
	f.trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return(testutil.NewTradeFixtures(), nil).Once()

	var failures []*events.Event
	f.bus.Subscribe(events.AttachmentFetchFailed, func(e *events.Event) { failures = append(failures, e) })
	s := f.service("alice")
	ctx := context.Background()

	trades := s.FetchTradesForSymbol(ctx, "AAPL", "U100")
	assert.NotNil(t, trades)
	assert.Empty(t, trades)
	require.Len(t, failures, 1)
	assert.Equal(t, KindTrades, failures[0].Data["kind"])
	assert.Equal(t, 1.0, promtestutil.ToFloat64(f.metrics.FetchFailures.WithLabelValues(KindTrades)))

	assert.Len(t, s.FetchTradesForSymbol(ctx, "AAPL", "U100"), 3)
	f.trades.AssertExpectations(t)
}

func TestService_FetchTradesForSymbol_NoUser(t *testing.T) {
	f := newFixture()
	s := f.service("")

	trades := s.FetchTradesForSymbol(context.Background(), "AAPL", "U100")
	assert.NotNil(t, trades)
	assert.Empty(t, trades)
	assert.Empty(t, s.FetchOrdersForSymbol(context.Background(), "AAPL", "U100"))
	assert.Empty(t, s.FetchAttachedPositionsForDisplay(context.Background(), optionPosition(), mappings.NewIDSet("x")))

	f.trades.AssertNotCalled(t, "FindBySymbolRoot", mock.Anything, mock.Anything)
	f.orders.AssertNotCalled(t, "FindBySymbolRoot", mock.Anything, mock.Anything, mock.Anything)
	f.positions.AssertNotCalled(t, "FetchPositionsBySymbolRoot", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// blockingTradeFinder holds every call until release is closed.
type blockingTradeFinder struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingTradeFinder) FindBySymbolRoot(ctx context.Context, root string) ([]domain.Trade, error) {
	b.calls.Add(1)
	<-b.release
	return testutil.NewTradeFixtures(), nil
}

func TestService_FetchTradesForSymbol_ConcurrentCallsShareOneQuery(t *testing.T) {
	f := newFixture()
	finder := &blockingTradeFinder{release: make(chan struct{})}
	s := NewService("alice", f.mappings, finder, f.orders, f.positions, nil, nil, zerolog.Nop())

	const callers = 8
	results := make([][]domain.Trade, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.FetchTradesForSymbol(context.Background(), "AAPL", "U100")
		}(i)
	}

	require.Eventually(t, func() bool { return finder.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(finder.release)
	wg.Wait()

	assert.Equal(t, int32(1), finder.calls.Load())
	for _, r := range results {
		assert.Equal(t, reflect.ValueOf(results[0]).Pointer(), reflect.ValueOf(r).Pointer())
	}
}

// ctxTradeFinder holds every call until release is closed or its ctx ends.
type ctxTradeFinder struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (b *ctxTradeFinder) FindBySymbolRoot(ctx context.Context, root string) ([]domain.Trade, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if b.err != nil {
		return nil, b.err
	}
	return testutil.NewTradeFixtures(), nil
}

func TestService_FetchTradesForSymbol_CancelledCallerDoesNotFailOthers(t *testing.T) {
	f := newFixture()
	finder := &ctxTradeFinder{release: make(chan struct{})}
	var failures atomic.Int32
	f.bus.Subscribe(events.AttachmentFetchFailed, func(e *events.Event) { failures.Add(1) })
	s := NewService("alice", f.mappings, finder, f.orders, f.positions, f.metrics,
		events.NewManager(f.bus, zerolog.Nop()), zerolog.Nop())

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan []domain.Trade, 1)
	go func() { firstDone <- s.FetchTradesForSymbol(first, "AAPL", "U100") }()
	require.Eventually(t, func() bool { return finder.calls.Load() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case trades := <-firstDone:
		assert.NotNil(t, trades)
		assert.Empty(t, trades)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	secondDone := make(chan []domain.Trade, 1)
	go func() { secondDone <- s.FetchTradesForSymbol(context.Background(), "AAPL", "U100") }()
	close(finder.release)

	select {
	case trades := <-secondDone:
		assert.Len(t, trades, 3)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), finder.calls.Load())
	assert.Equal(t, int32(0), failures.Load())
	assert.Equal(t, 0.0, promtestutil.ToFloat64(f.metrics.FetchFailures.WithLabelValues(KindTrades)))
	assert.Len(t, s.FetchTradesForSymbol(context.Background(), "AAPL", "U100"), 3)
}

func TestService_FetchTradesForSymbol_SharedFailureReportedOnce(t *testing.T) {
	f := newFixture()
	finder := &ctxTradeFinder{release: make(chan struct{}), err: errors.New("db locked")}
	var failures atomic.Int32
	f.bus.Subscribe(events.AttachmentFetchFailed, func(e *events.Event) { failures.Add(1) })
	s := NewService("alice", f.mappings, finder, f.orders, f.positions, f.metrics,
		events.NewManager(f.bus, zerolog.Nop()), zerolog.Nop())

	const callers = 8
	var joined atomic.Int32
	results := make([][]domain.Trade, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			joined.Add(1)
			results[i] = s.FetchTradesForSymbol(context.Background(), "AAPL", "U100")
		}(i)
	}

	require.Eventually(t, func() bool {
		return finder.calls.Load() == 1 && joined.Load() == callers
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(finder.release)
	wg.Wait()

	for _, r := range results {
		assert.NotNil(t, r)
		assert.Empty(t, r)
	}
	// One report per storage query, however many callers shared it.
	queries := finder.calls.Load()
	assert.Less(t, queries, int32(callers))
	assert.Equal(t, queries, failures.Load())
	assert.Equal(t, float64(queries), promtestutil.ToFloat64(f.metrics.FetchFailures.WithLabelValues(KindTrades)))
}

func TestService_FetchOrdersForSymbol(t *testing.T) {
	f := newFixture()
	orders := []domain.Order{
		{ID: "1", SettleDateTarget: "02/01/2024"},
		{ID: "2", SettleDateTarget: "20/01/2024"},
	}
	f.orders.On("FindBySymbolRoot", mock.Anything, "AAPL", "U100").Return(orders, nil).Twice()
	s := f.service("alice")
	ctx := context.Background()

	got := s.FetchOrdersForSymbol(ctx, "AAPL", "U100")
	require.Len(t, got, 2)
	assert.Equal(t, domain.Ident("2"), got[0].ID)

	// Never cached
	s.FetchOrdersForSymbol(ctx, "AAPL", "U100")
	f.orders.AssertNumberOfCalls(t, "FindBySymbolRoot", 2)
}

func TestService_FetchOrdersForSymbol_Failure(t *testing.T) {
	f := newFixture()
	f.orders.On("FindBySymbolRoot", mock.Anything, "AAPL", "U100").Return(nil, errors.New("boom"))
	s := f.service("alice")

	got := s.FetchOrdersForSymbol(context.Background(), "AAPL", "U100")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestService_GetAttachedTrades(t *testing.T) {
	f := newFixture()
	f.mappings.set(mappings.RelationTrade, mappings.AttachmentMap{optionKey: mappings.NewIDSet("t1", "t3")}, nil)
	f.trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return([]domain.Trade{
		{TradeID: "t1", TradeDate: "01/01/2024"},
		{TradeID: "t2", TradeDate: "15/06/2024"},
		{TradeID: "t3", TradeDate: "03/03/2023"},
		{TradeDate: "31/12/2024"},
	}, nil).Once()
	s := f.service("alice")
	require.NoError(t, s.RefetchMappings(context.Background()))

	got := s.GetAttachedTrades(context.Background(), optionPosition())
	require.Len(t, got, 2)
	assert.Equal(t, domain.Ident("t1"), got[0].TradeID)
	assert.Equal(t, domain.Ident("t3"), got[1].TradeID)
}

func TestService_GetAttachedTrades_ShortCircuits(t *testing.T) {
	f := newFixture()
	p := optionPosition()
	stock := domain.Position{InternalAccountID: "U100", Symbol: "123XYZ", AssetClass: "STK"}
	tradeMap := mappings.AttachmentMap{optionKey: mappings.IDSet{}}
	tradeMap[mappings.PositionKey(stock)] = mappings.NewIDSet("t1")
	f.mappings.set(mappings.RelationTrade, tradeMap, nil)
	s := f.service("alice")
	require.NoError(t, s.RefetchMappings(context.Background()))

	// Empty id set
	assert.Empty(t, s.GetAttachedTrades(context.Background(), p))
	// No symbol root
	assert.Empty(t, s.GetAttachedTrades(context.Background(), stock))
	// Unknown key
	p.Conid = "other"
	assert.Empty(t, s.GetAttachedTrades(context.Background(), p))

	f.trades.AssertNotCalled(t, "FindBySymbolRoot", mock.Anything, mock.Anything)
}

func TestService_GetAttachedOrders(t *testing.T) {
	f := newFixture()
	f.mappings.set(mappings.RelationOrder, mappings.AttachmentMap{optionKey: mappings.NewIDSet("2", "3")}, nil)
	f.orders.On("FindBySymbolRoot", mock.Anything, "AAPL", "U100").Return([]domain.Order{
		{ID: "1", OrderID: "2", SettleDateTarget: "02/01/2024"},
		{ID: "2", OrderID: "9", SettleDateTarget: "01/01/2024"},
		{ID: "3", OrderID: "8", SettleDateTarget: "20/01/2024"},
	}, nil).Once()
	s := f.service("alice")
	require.NoError(t, s.Start(context.Background()))

	got := s.GetAttachedOrders(context.Background(), optionPosition())
	require.Len(t, got, 2)
	// Matched on row id, not the broker order id
	assert.Equal(t, domain.Ident("3"), got[0].ID)
	assert.Equal(t, domain.Ident("2"), got[1].ID)
}

func TestService_FetchAttachedPositionsForDisplay(t *testing.T) {
	f := newFixture()
	all := testutil.NewPositionFixtures()[:2]
	f.positions.On("FetchPositionsBySymbolRoot", mock.Anything, "AAPL", "alice", "U100").Return(all, nil).Once()
	s := f.service("alice")
	ctx := context.Background()

	sibling := mappings.PositionKey(all[1])
	first := s.FetchAttachedPositionsForDisplay(ctx, optionPosition(), mappings.NewIDSet(sibling))
	require.Len(t, first, 1)
	assert.Equal(t, "AAPL240119P00140000", first[0].Symbol)

	second := s.FetchAttachedPositionsForDisplay(ctx, optionPosition(), mappings.NewIDSet(sibling))
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer())
	f.positions.AssertNumberOfCalls(t, "FetchPositionsBySymbolRoot", 1)

	s.InvalidateAttachedPositions(optionKey)
	f.positions.On("FetchPositionsBySymbolRoot", mock.Anything, "AAPL", "alice", "U100").Return(all, nil).Once()
	assert.Len(t, s.FetchAttachedPositionsForDisplay(ctx, optionPosition(), mappings.NewIDSet(sibling)), 1)
	f.positions.AssertNumberOfCalls(t, "FetchPositionsBySymbolRoot", 2)
}

func TestService_FetchAttachedPositionsForDisplay_EmptyNotCached(t *testing.T) {
	f := newFixture()
	f.positions.On("FetchPositionsBySymbolRoot", mock.Anything, "AAPL", "alice", "U100").
		Return(testutil.NewPositionFixtures()[:2], nil).Twice()
	s := f.service("alice")
	ctx := context.Background()

	assert.Empty(t, s.FetchAttachedPositionsForDisplay(ctx, optionPosition(), mappings.NewIDSet("nothing")))
	assert.Empty(t, s.FetchAttachedPositionsForDisplay(ctx, optionPosition(), mappings.NewIDSet("nothing")))
	f.positions.AssertNumberOfCalls(t, "FetchPositionsBySymbolRoot", 2)
}

func TestService_FetchAttachedPositionsForDisplay_AccountFallback(t *testing.T) {
	f := newFixture()
	p := domain.Position{
		LegalEntity:      "LE-7",
		Symbol:           "MSFT",
		ContractQuantity: decimal.NewNullDecimal(decimal.NewFromInt(1)),
	}
	f.positions.On("FetchPositionsBySymbolRoot", mock.Anything, "MSFT", "alice", "LE-7").Return(nil, errors.New("boom")).Once()
	s := f.service("alice")

	got := s.FetchAttachedPositionsForDisplay(context.Background(), p, mappings.NewIDSet("x"))
	assert.NotNil(t, got)
	assert.Empty(t, got)
	f.positions.AssertExpectations(t)

	// No account at all short-circuits
	p.LegalEntity = ""
	assert.Empty(t, s.FetchAttachedPositionsForDisplay(context.Background(), p, mappings.NewIDSet("x")))
	f.positions.AssertNumberOfCalls(t, "FetchPositionsBySymbolRoot", 1)
}

func TestService_SavePositionOrderMappings(t *testing.T) {
	f := newFixture()
	s := f.service("alice")

	require.NoError(t, s.SavePositionOrderMappings(context.Background(), optionKey, []string{"1", "2"}))
	assert.Equal(t, []string{"1", "2"}, f.mappings.saved["alice/"+optionKey])

	assert.ErrorIs(t, f.service("").SavePositionOrderMappings(context.Background(), optionKey, nil), mappings.ErrUserRequired)
}
