package attachments

import (
	"context"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/modules/mappings"
)

// MappingSource supplies the mapping queries and mapping persistence.
// Satisfied by *mappings.Client.
type MappingSource interface {
	PositionTradeMappingsQuery(userID string) *mappings.Query
	PositionPositionMappingsQuery(userID string) *mappings.Query
	PositionOrderMappingsQuery(userID string) *mappings.Query
	SavePositionOrderMappings(ctx context.Context, userID, positionKey string, orderIDs []string) error
}

// TradeFinder loads the trade universe of a symbol root.
// Satisfied by *trading.TradeRepository.
type TradeFinder interface {
	FindBySymbolRoot(ctx context.Context, root string) ([]domain.Trade, error)
}

// OrderFinder loads the orders of one account on a symbol root.
// Satisfied by *trading.OrderRepository.
type OrderFinder interface {
	FindBySymbolRoot(ctx context.Context, root, accountID string) ([]domain.Order, error)
}

// PositionFinder loads sibling positions on a symbol root.
// Satisfied by *portfolio.PositionRepository.
type PositionFinder interface {
	FetchPositionsBySymbolRoot(ctx context.Context, root, userID, accountID string) ([]domain.Position, error)
}
