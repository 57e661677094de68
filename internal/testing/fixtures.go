package testing

import (
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aristath/attachments/internal/domain"
)

// NewPositionFixtures returns an option position, a sibling option on the same
// root in the same account, and a stock position in another account.
func NewPositionFixtures() []domain.Position {
	return []domain.Position{
		{
			InternalAccountID: "U100",
			Symbol:            "AAPL240119C00150000",
			AssetClass:        "OPT",
			Conid:             "650001",
			ContractQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(2)),
			AvgPrice:          decimal.NewNullDecimal(decimal.RequireFromString("3.15")),
		},
		{
			InternalAccountID: "U100",
			Symbol:            "AAPL240119P00140000",
			AssetClass:        "OPT",
			Conid:             "650002",
			ContractQuantity:  decimal.NewNullDecimal(decimal.NewFromInt(-2)),
			AvgPrice:          decimal.NewNullDecimal(decimal.RequireFromString("1.05")),
		},
		{
			LegalEntity:        "LE-7",
			Symbol:             "MSFT",
			AssetClass:         "STK",
			Conid:              "272093",
			AccountingQuantity: decimal.NewNullDecimal(decimal.NewFromInt(100)),
		},
	}
}

// NewTradeFixtures returns trades on the AAPL root, deliberately out of date order.
func NewTradeFixtures() []domain.Trade {
	return []domain.Trade{
		{TradeID: "t1", InternalAccountID: "U100", Symbol: "AAPL240119C00150000", Quantity: "2", TradePrice: "3.15", BuySell: "BUY", TradeDate: "01/01/2024"},
		{TradeID: "t2", InternalAccountID: "U100", Symbol: "AAPL240119P00140000", Quantity: "-2", TradePrice: "1.05", BuySell: "SELL", TradeDate: "15/06/2024"},
		{TradeID: "t3", InternalAccountID: "U200", Symbol: "AAPL", Quantity: "10", TradePrice: "182.5", BuySell: "BUY", TradeDate: "03/03/2023"},
	}
}

// NewOrderFixtures returns orders for two accounts on the AAPL root.
func NewOrderFixtures() []domain.Order {
	return []domain.Order{
		{OrderID: "o-1", InternalAccountID: "U100", Symbol: "AAPL240119C00150000", Quantity: "1", Price: "3.00", SettleDateTarget: "02/01/2024"},
		{OrderID: "o-2", InternalAccountID: "U100", Symbol: "AAPL240119C00150000", Quantity: "1", Price: "3.40", SettleDateTarget: "20/01/2024"},
		{OrderID: "o-3", InternalAccountID: "U200", Symbol: "AAPL", Quantity: "5", Price: "180", SettleDateTarget: "05/01/2024"},
	}
}

// SeedTrades inserts trades into a ledger database.
func SeedTrades(t *testing.T, db *sql.DB, trades []domain.Trade) {
	t.Helper()
	for _, tr := range trades {
		_, err := db.Exec(`
			INSERT INTO trades (tradeID, internal_account_id, symbol, quantity, tradePrice, buySell, tradeDate, settleDateTarget, ibCommission, assetCategory)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, tr.TradeID.String(), tr.InternalAccountID, tr.Symbol, tr.Quantity, tr.TradePrice, tr.BuySell,
			tr.TradeDate, tr.SettleDateTarget, tr.IBCommission, tr.AssetCategory)
		if err != nil {
			t.Fatalf("Failed to seed trade %s: %v", tr.TradeID, err)
		}
	}
}

// SeedOrders inserts orders into a ledger database. Row ids are assigned by sqlite.
func SeedOrders(t *testing.T, db *sql.DB, orders []domain.Order) {
	t.Helper()
	for _, o := range orders {
		_, err := db.Exec(`
			INSERT INTO orders (orderID, internal_account_id, symbol, quantity, price, orderDate, settleDateTarget)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, o.OrderID.String(), o.InternalAccountID, o.Symbol, o.Quantity, o.Price, o.OrderDate, o.SettleDateTarget)
		if err != nil {
			t.Fatalf("Failed to seed order %s: %v", o.OrderID, err)
		}
	}
}

// SeedPositions inserts positions into a portfolio database.
func SeedPositions(t *testing.T, db *sql.DB, positions []domain.Position) {
	t.Helper()
	for _, p := range positions {
		_, err := db.Exec(`
			INSERT INTO positions (internal_account_id, legal_entity, symbol, asset_class, conid,
				contract_quantity, accounting_quantity, avg_price, market_price, market_value, unrealized_pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.AccountID(), nullString(p.LegalEntity), p.Symbol, nullString(p.AssetClass), nullString(p.Conid.String()),
			nullDecimal(p.ContractQuantity), nullDecimal(p.AccountingQuantity), nullDecimal(p.AvgPrice),
			nullDecimal(p.MarketPrice), nullDecimal(p.MarketValue), nullDecimal(p.UnrealizedPnL))
		if err != nil {
			t.Fatalf("Failed to seed position %s: %v", p.Symbol, err)
		}
	}
}

// GrantAccountAccess lets userID see accountIDs in a portfolio database.
func GrantAccountAccess(t *testing.T, db *sql.DB, userID string, accountIDs ...string) {
	t.Helper()
	for _, id := range accountIDs {
		if _, err := db.Exec(`INSERT INTO user_account_access (user_id, internal_account_id) VALUES (?, ?)`, userID, id); err != nil {
			t.Fatalf("Failed to grant %s access to %s: %v", userID, id, err)
		}
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}
