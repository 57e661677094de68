package trading

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/database"
	"github.com/aristath/attachments/internal/domain"
)

// OrderRepository handles broker order database operations
type OrderRepository struct {
	ledgerDB *sql.DB // ledger.db - orders table
	log      zerolog.Logger
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(ledgerDB *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "order").Logger(),
	}
}

// FindBySymbolRoot returns the orders of accountID whose symbol starts with
// root, case-insensitively. The account must match exactly.
func (r *OrderRepository) FindBySymbolRoot(ctx context.Context, root, accountID string) ([]domain.Order, error) {
	records, err := database.Select("orders").
		ILikePrefix("symbol", root).
		Eq("internal_account_id", accountID).
		OrderBy("id", false).
		Run(ctx, r.ledgerDB)
	if err != nil {
		return nil, fmt.Errorf("failed to get orders by symbol root: %w", err)
	}

	orders := make([]domain.Order, 0, len(records))
	for _, rec := range records {
		orders = append(orders, orderFromRecord(rec))
	}

	r.log.Debug().
		Str("symbol_root", root).
		Str("account_id", accountID).
		Int("count", len(orders)).
		Msg("Fetched orders by symbol root")

	return orders, nil
}
