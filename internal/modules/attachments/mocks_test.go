package attachments

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/modules/mappings"
)

// stubMappings serves fixed mapping data through real queries. Like storage,
// it refuses to read on a context that is already done.
type stubMappings struct {
	mu    sync.Mutex
	data  map[mappings.Relation]mappings.AttachmentMap
	errs  map[mappings.Relation]error
	calls []mappings.Relation
	saved map[string][]string
}

func newStubMappings() *stubMappings {
	return &stubMappings{
		data:  make(map[mappings.Relation]mappings.AttachmentMap),
		errs:  make(map[mappings.Relation]error),
		saved: make(map[string][]string),
	}
}

func (s *stubMappings) set(rel mappings.Relation, m mappings.AttachmentMap, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rel] = m
	s.errs[rel] = err
}

func (s *stubMappings) fetchCalls() []mappings.Relation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mappings.Relation(nil), s.calls...)
}

func (s *stubMappings) query(rel mappings.Relation, userID string) *mappings.Query {
	return mappings.NewQuery(string(rel), userID != "", func(ctx context.Context) (mappings.AttachmentMap, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.calls = append(s.calls, rel)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.data[rel], s.errs[rel]
	}, nil, zerolog.Nop())
}

func (s *stubMappings) PositionTradeMappingsQuery(userID string) *mappings.Query {
	return s.query(mappings.RelationTrade, userID)
}

func (s *stubMappings) PositionPositionMappingsQuery(userID string) *mappings.Query {
	return s.query(mappings.RelationPosition, userID)
}

func (s *stubMappings) PositionOrderMappingsQuery(userID string) *mappings.Query {
	return s.query(mappings.RelationOrder, userID)
}

func (s *stubMappings) SavePositionOrderMappings(ctx context.Context, userID, positionKey string, orderIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[userID+"/"+positionKey] = orderIDs
	return nil
}

type MockTradeFinder struct {
	mock.Mock
}

func (m *MockTradeFinder) FindBySymbolRoot(ctx context.Context, root string) ([]domain.Trade, error) {
	args := m.Called(ctx, root)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Trade), args.Error(1)
}

type MockOrderFinder struct {
	mock.Mock
}

func (m *MockOrderFinder) FindBySymbolRoot(ctx context.Context, root, accountID string) ([]domain.Order, error) {
	args := m.Called(ctx, root, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Order), args.Error(1)
}

type MockPositionFinder struct {
	mock.Mock
}

func (m *MockPositionFinder) FetchPositionsBySymbolRoot(ctx context.Context, root, userID, accountID string) ([]domain.Position, error) {
	args := m.Called(ctx, root, userID, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Position), args.Error(1)
}
