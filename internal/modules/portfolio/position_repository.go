// Package portfolio reads current account positions from the portfolio database.
package portfolio

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/attachments/internal/database"
	"github.com/aristath/attachments/internal/domain"
)

// PositionRepository handles position database operations
type PositionRepository struct {
	portfolioDB *sql.DB // portfolio.db - positions, user_account_access
	log         zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(portfolioDB *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		portfolioDB: portfolioDB,
		log:         log.With().Str("repo", "position").Logger(),
	}
}

var positionColumns = map[string]struct{}{
	"internal_account_id": {}, "legal_entity": {}, "symbol": {}, "asset_class": {}, "conid": {},
	"contract_quantity": {}, "accounting_quantity": {}, "avg_price": {}, "market_price": {},
	"market_value": {}, "unrealized_pnl": {},
}

// HasAccountAccess reports whether userID may read accountID.
func (r *PositionRepository) HasAccountAccess(ctx context.Context, userID, accountID string) (bool, error) {
	records, err := database.Select("user_account_access", "internal_account_id").
		Eq("user_id", userID).
		Eq("internal_account_id", accountID).
		Run(ctx, r.portfolioDB)
	if err != nil {
		return false, fmt.Errorf("failed to check account access: %w", err)
	}
	return len(records) > 0, nil
}

// FetchPositionsBySymbolRoot returns the positions of accountID whose symbol
// starts with root, case-insensitively. Accounts the user cannot access yield
// an empty list.
func (r *PositionRepository) FetchPositionsBySymbolRoot(ctx context.Context, root, userID, accountID string) ([]domain.Position, error) {
	allowed, err := r.HasAccountAccess(ctx, userID, accountID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		r.log.Debug().
			Str("user_id", userID).
			Str("account_id", accountID).
			Msg("User has no access to account")
		return []domain.Position{}, nil
	}

	records, err := database.Select("positions").
		ILikePrefix("symbol", root).
		Eq("internal_account_id", accountID).
		OrderBy("id", false).
		Run(ctx, r.portfolioDB)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions by symbol root: %w", err)
	}

	positions := make([]domain.Position, 0, len(records))
	for _, rec := range records {
		p, err := positionFromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to read position %s: %w", rec.String("symbol"), err)
		}
		positions = append(positions, p)
	}

	return positions, nil
}

func positionFromRecord(rec database.Record) (domain.Position, error) {
	p := domain.Position{
		InternalAccountID: rec.String("internal_account_id"),
		LegalEntity:       rec.String("legal_entity"),
		Symbol:            rec.String("symbol"),
		AssetClass:        rec.String("asset_class"),
		Conid:             domain.IdentFromAny(rec["conid"]),
	}

	decimals := []struct {
		column string
		dst    *decimal.NullDecimal
	}{
		{"contract_quantity", &p.ContractQuantity},
		{"accounting_quantity", &p.AccountingQuantity},
		{"avg_price", &p.AvgPrice},
		{"market_price", &p.MarketPrice},
		{"market_value", &p.MarketValue},
		{"unrealized_pnl", &p.UnrealizedPnL},
	}
	for _, d := range decimals {
		s := rec.String(d.column)
		if s == "" {
			continue
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return p, fmt.Errorf("invalid %s %q: %w", d.column, s, err)
		}
		*d.dst = decimal.NewNullDecimal(v)
	}

	for k, v := range rec {
		if _, ok := positionColumns[k]; ok || v == nil {
			continue
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}

	return p, nil
}
