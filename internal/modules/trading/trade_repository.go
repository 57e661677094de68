package trading

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/database"
	"github.com/aristath/attachments/internal/domain"
)

// TradeRepository handles trade database operations
type TradeRepository struct {
	ledgerDB *sql.DB // ledger.db - trades table
	log      zerolog.Logger
}

// NewTradeRepository creates a new trade repository
func NewTradeRepository(ledgerDB *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		ledgerDB: ledgerDB,
		log:      log.With().Str("repo", "trade").Logger(),
	}
}

// FindBySymbolRoot returns every trade whose symbol starts with root,
// case-insensitively, across all accounts. Rows come back in insertion order.
func (r *TradeRepository) FindBySymbolRoot(ctx context.Context, root string) ([]domain.Trade, error) {
	records, err := database.Select("trades").
		ILikePrefix("symbol", root).
		OrderBy("id", false).
		Run(ctx, r.ledgerDB)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades by symbol root: %w", err)
	}

	trades := make([]domain.Trade, 0, len(records))
	for _, rec := range records {
		trades = append(trades, tradeFromRecord(rec))
	}

	r.log.Debug().
		Str("symbol_root", root).
		Int("count", len(trades)).
		Msg("Fetched trades by symbol root")

	return trades, nil
}
