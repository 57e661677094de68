// Package attachments resolves the trades, orders and sibling positions
// attached to a position through the mapping tables.
package attachments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/events"
	"github.com/aristath/attachments/internal/modules/mappings"
)

// Service is the attachment engine of one user. Its caches live as long as
// the Service and are never shared with another user.
//
// Fetch operations never return errors: storage failures are logged and
// resolve to an empty list.
type Service struct {
	userID string

	mappingSource MappingSource
	tradeFinder   TradeFinder
	orderFinder   OrderFinder
	positions     PositionFinder

	tradeQuery    *mappings.Query
	positionQuery *mappings.Query
	orderQuery    *mappings.Query

	mu             sync.RWMutex
	tradesByRoot   map[string][]domain.Trade
	attachedByKey  map[string][]domain.Position
	inflightTrades singleflight.Group

	metrics *Metrics
	events  *events.Manager
	log     zerolog.Logger
}

// NewService creates the engine for userID. An empty userID yields an engine
// that is never ready and resolves everything to empty lists.
func NewService(
	userID string,
	mappingSource MappingSource,
	tradeFinder TradeFinder,
	orderFinder OrderFinder,
	positions PositionFinder,
	metrics *Metrics,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		userID:        userID,
		mappingSource: mappingSource,
		tradeFinder:   tradeFinder,
		orderFinder:   orderFinder,
		positions:     positions,
		tradeQuery:    mappingSource.PositionTradeMappingsQuery(userID),
		positionQuery: mappingSource.PositionPositionMappingsQuery(userID),
		orderQuery:    mappingSource.PositionOrderMappingsQuery(userID),
		tradesByRoot:  make(map[string][]domain.Trade),
		attachedByKey: make(map[string][]domain.Position),
		metrics:       metrics,
		events:        eventManager,
		log:           log.With().Str("service", "attachments").Str("user_id", userID).Logger(),
	}
}

// UserID returns the user the engine serves
func (s *Service) UserID() string {
	return s.userID
}

// Start runs the initial fetch of all three mapping queries. Failures stay on
// the queries; Start only reports them.
func (s *Service) Start(ctx context.Context) error {
	if s.userID == "" {
		return nil
	}
	var errs []error
	for _, q := range []*mappings.Query{s.tradeQuery, s.positionQuery, s.orderQuery} {
		err := q.Refetch(ctx)
		s.metrics.refetched(q.Name(), err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PositionKey derives the composite key of a position.
func (s *Service) PositionKey(p domain.Position) string {
	return mappings.PositionKey(p)
}

// PositionTradesMap returns position key → attached trade ids.
func (s *Service) PositionTradesMap() mappings.AttachmentMap {
	return s.tradeQuery.Data()
}

// PositionPositionsMap returns position key → attached position keys.
func (s *Service) PositionPositionsMap() mappings.AttachmentMap {
	return s.positionQuery.Data()
}

// PositionOrdersMap returns position key → attached order ids.
func (s *Service) PositionOrdersMap() mappings.AttachmentMap {
	return s.orderQuery.Data()
}

// TradeMappingsQuery exposes the underlying trade mapping query
func (s *Service) TradeMappingsQuery() *mappings.Query { return s.tradeQuery }

// PositionMappingsQuery exposes the underlying position mapping query
func (s *Service) PositionMappingsQuery() *mappings.Query { return s.positionQuery }

// OrderMappingsQuery exposes the underlying order mapping query
func (s *Service) OrderMappingsQuery() *mappings.Query { return s.orderQuery }

// IsReady is true once the trade and position mapping queries have both
// succeeded. The order mapping is not part of readiness.
func (s *Service) IsReady() bool {
	return s.tradeQuery.IsSuccess() && s.positionQuery.IsSuccess()
}

// RefetchMappings re-runs the trade mapping query and then the position
// mapping query. The order mapping is left alone. A failure of the first
// refetch does not skip the second; the returned error is informational and
// the queries keep their own error state.
func (s *Service) RefetchMappings(ctx context.Context) error {
	tradeErr := s.tradeQuery.Refetch(ctx)
	s.metrics.refetched(s.tradeQuery.Name(), tradeErr)

	positionErr := s.positionQuery.Refetch(ctx)
	s.metrics.refetched(s.positionQuery.Name(), positionErr)

	return errors.Join(tradeErr, positionErr)
}

// FetchTradesForSymbol returns every trade on symbolRoot, newest first.
// Results are cached per symbol root for the life of the Service, across
// accounts; accountID does not filter trades. Concurrent calls for the same
// root share one storage query and a failure of that query is reported once.
// A caller whose ctx ends early gets an empty list while the query completes
// for the others.
func (s *Service) FetchTradesForSymbol(ctx context.Context, symbolRoot, accountID string) []domain.Trade {
	if s.userID == "" {
		return []domain.Trade{}
	}

	if trades, ok := s.cachedTrades(symbolRoot); ok {
		s.metrics.hit(KindTrades)
		s.log.Debug().Str("symbol_root", symbolRoot).Msg("Trade cache hit")
		return trades
	}

	// The shared fetch is detached from the caller that started it, so a
	// cancelled caller never fails the others waiting on the same root.
	flightCtx := context.WithoutCancel(ctx)
	ch := s.inflightTrades.DoChan(symbolRoot, func() (interface{}, error) {
		if trades, ok := s.cachedTrades(symbolRoot); ok {
			return trades, nil
		}
		s.metrics.miss(KindTrades)

		start := time.Now()
		trades, err := s.tradeFinder.FindBySymbolRoot(flightCtx, symbolRoot)
		s.metrics.observe(KindTrades, start)
		if err != nil {
			s.fetchFailed(KindTrades, symbolRoot, accountID, err)
			return nil, err
		}
		if trades == nil {
			trades = []domain.Trade{}
		}
		SortTradesByDate(trades)

		s.mu.Lock()
		s.tradesByRoot[symbolRoot] = trades
		s.mu.Unlock()
		return trades, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return []domain.Trade{}
		}
		return res.Val.([]domain.Trade)
	case <-ctx.Done():
		s.log.Debug().Err(ctx.Err()).Str("symbol_root", symbolRoot).Msg("Trade fetch abandoned by caller")
		return []domain.Trade{}
	}
}

// FetchOrdersForSymbol returns the orders of accountID on symbolRoot, newest
// settlement first. Orders are never cached.
func (s *Service) FetchOrdersForSymbol(ctx context.Context, symbolRoot, accountID string) []domain.Order {
	if s.userID == "" {
		return []domain.Order{}
	}

	start := time.Now()
	orders, err := s.orderFinder.FindBySymbolRoot(ctx, symbolRoot, accountID)
	s.metrics.observe(KindOrders, start)
	if err != nil {
		s.fetchFailed(KindOrders, symbolRoot, accountID, err)
		return []domain.Order{}
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	SortOrdersByDate(orders)
	return orders
}

// GetAttachedTrades returns the trades attached to p, in trade-date order.
func (s *Service) GetAttachedTrades(ctx context.Context, p domain.Position) []domain.Trade {
	ids := s.PositionTradesMap().Get(s.PositionKey(p))
	if len(ids) == 0 {
		return []domain.Trade{}
	}
	root, ok := ExtractSymbolRoot(p.Symbol)
	if !ok {
		return []domain.Trade{}
	}

	attached := []domain.Trade{}
	for _, t := range s.FetchTradesForSymbol(ctx, root, p.AccountID()) {
		if t.TradeID != "" && ids.Has(t.TradeID.String()) {
			attached = append(attached, t)
		}
	}
	return attached
}

// GetAttachedOrders returns the orders attached to p, in settlement-date order.
// Orders are matched on their row id.
func (s *Service) GetAttachedOrders(ctx context.Context, p domain.Position) []domain.Order {
	ids := s.PositionOrdersMap().Get(s.PositionKey(p))
	if len(ids) == 0 {
		return []domain.Order{}
	}
	root, ok := ExtractSymbolRoot(p.Symbol)
	if !ok {
		return []domain.Order{}
	}

	attached := []domain.Order{}
	for _, o := range s.FetchOrdersForSymbol(ctx, root, p.AccountID()) {
		if o.ID != "" && ids.Has(o.ID.String()) {
			attached = append(attached, o)
		}
	}
	return attached
}

// FetchAttachedPositionsForDisplay resolves attachedKeys into the sibling
// positions of p. Non-empty results are cached under p's key; empty results
// are looked up again next time.
func (s *Service) FetchAttachedPositionsForDisplay(ctx context.Context, p domain.Position, attachedKeys mappings.IDSet) []domain.Position {
	key := s.PositionKey(p)

	s.mu.RLock()
	cached, ok := s.attachedByKey[key]
	s.mu.RUnlock()
	if ok {
		s.metrics.hit(KindPositions)
		return cached
	}

	root, hasRoot := ExtractSymbolRoot(p.Symbol)
	accountID := p.AccountID()
	if !hasRoot || accountID == "" || s.userID == "" {
		return []domain.Position{}
	}
	s.metrics.miss(KindPositions)

	start := time.Now()
	all, err := s.positions.FetchPositionsBySymbolRoot(ctx, root, s.userID, accountID)
	s.metrics.observe(KindPositions, start)
	if err != nil {
		s.fetchFailed(KindPositions, root, accountID, err)
		return []domain.Position{}
	}

	attached := []domain.Position{}
	for _, candidate := range all {
		if attachedKeys.Has(s.PositionKey(candidate)) {
			attached = append(attached, candidate)
		}
	}

	if len(attached) > 0 {
		s.mu.Lock()
		s.attachedByKey[key] = attached
		s.mu.Unlock()
	}
	return attached
}

// SavePositionOrderMappings persists the orders attached to a position.
// The order mapping query is not refetched.
func (s *Service) SavePositionOrderMappings(ctx context.Context, positionKey string, orderIDs []string) error {
	if s.userID == "" {
		return mappings.ErrUserRequired
	}
	return s.mappingSource.SavePositionOrderMappings(ctx, s.userID, positionKey, orderIDs)
}

// InvalidateSymbolRoot drops the cached trade universe of a symbol root.
func (s *Service) InvalidateSymbolRoot(symbolRoot string) {
	s.mu.Lock()
	delete(s.tradesByRoot, symbolRoot)
	s.mu.Unlock()
}

// InvalidateAttachedPositions drops the cached sibling positions of a position key.
func (s *Service) InvalidateAttachedPositions(positionKey string) {
	s.mu.Lock()
	delete(s.attachedByKey, positionKey)
	s.mu.Unlock()
}

func (s *Service) cachedTrades(symbolRoot string) ([]domain.Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trades, ok := s.tradesByRoot[symbolRoot]
	return trades, ok
}

func (s *Service) fetchFailed(kind, symbolRoot, accountID string, err error) {
	s.metrics.failed(kind)
	s.log.Error().
		Err(err).
		Str("kind", kind).
		Str("symbol_root", symbolRoot).
		Str("account_id", accountID).
		Msg("Attachment fetch failed")
	s.events.EmitTyped("attachments", &events.AttachmentFetchFailedData{
		UserID:     s.userID,
		Kind:       kind,
		SymbolRoot: symbolRoot,
		AccountID:  accountID,
		Error:      err.Error(),
	})
}
