package attachments

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	testutil "github.com/aristath/attachments/internal/testing"
)

func TestRegistry_ForStartsOncePerUser(t *testing.T) {
	stub := newStubMappings()
	metrics := NewMetrics(prometheus.NewRegistry())
	reg := NewRegistry(stub, new(MockTradeFinder), new(MockOrderFinder), new(MockPositionFinder), metrics, nil, zerolog.Nop())

	var wg sync.WaitGroup
	services := make([]*Service, 4)
	for i := range services {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			services[i] = reg.For(context.Background(), "alice")
		}(i)
	}
	wg.Wait()

	for _, s := range services {
		assert.Same(t, services[0], s)
		assert.True(t, s.IsReady())
	}
	assert.Len(t, stub.fetchCalls(), 3)

	bob := reg.For(context.Background(), "bob")
	assert.NotSame(t, services[0], bob)
	assert.Equal(t, 2, reg.Len())
	assert.Equal(t, 2.0, promtestutil.ToFloat64(metrics.Sessions))

	reg.Remove("bob")
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.Sessions))
}

func TestRegistry_InvalidateSymbolRoot(t *testing.T) {
	trades := new(MockTradeFinder)
	trades.On("FindBySymbolRoot", mock.Anything, "AAPL").Return(testutil.NewTradeFixtures(), nil)
	reg := NewRegistry(newStubMappings(), trades, new(MockOrderFinder), new(MockPositionFinder), nil, nil, zerolog.Nop())
	ctx := context.Background()

	s := reg.For(ctx, "alice")
	s.FetchTradesForSymbol(ctx, "AAPL", "U100")
	s.FetchTradesForSymbol(ctx, "AAPL", "U100")
	trades.AssertNumberOfCalls(t, "FindBySymbolRoot", 1)

	reg.InvalidateSymbolRoot("AAPL")
	s.FetchTradesForSymbol(ctx, "AAPL", "U100")
	trades.AssertNumberOfCalls(t, "FindBySymbolRoot", 2)
}

func TestRegistry_ForSurvivesCancelledFirstRequest(t *testing.T) {
	stub := newStubMappings()
	reg := NewRegistry(stub, new(MockTradeFinder), new(MockOrderFinder), new(MockPositionFinder), nil, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := reg.For(ctx, "alice")
	assert.True(t, s.IsReady())
	assert.Len(t, stub.fetchCalls(), 3)

	assert.Same(t, s, reg.For(context.Background(), "alice"))
	assert.Len(t, stub.fetchCalls(), 3)
}
