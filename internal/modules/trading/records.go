// Package trading reads executed trades and broker orders from the ledger database.
package trading

import (
	"github.com/aristath/attachments/internal/database"
	"github.com/aristath/attachments/internal/domain"
)

var tradeColumns = map[string]struct{}{
	"tradeID": {}, "internal_account_id": {}, "symbol": {}, "quantity": {}, "tradePrice": {},
	"buySell": {}, "tradeDate": {}, "settleDateTarget": {}, "ibCommission": {}, "assetCategory": {},
}

var orderColumns = map[string]struct{}{
	"id": {}, "orderID": {}, "internal_account_id": {}, "symbol": {}, "quantity": {},
	"price": {}, "orderDate": {}, "settleDateTarget": {},
}

func tradeFromRecord(rec database.Record) domain.Trade {
	return domain.Trade{
		TradeID:           domain.IdentFromAny(rec["tradeID"]),
		InternalAccountID: rec.String("internal_account_id"),
		Symbol:            rec.String("symbol"),
		Quantity:          rec.String("quantity"),
		TradePrice:        rec.String("tradePrice"),
		BuySell:           rec.String("buySell"),
		TradeDate:         rec.String("tradeDate"),
		SettleDateTarget:  rec.String("settleDateTarget"),
		IBCommission:      rec.String("ibCommission"),
		AssetCategory:     rec.String("assetCategory"),
		Extra:             extraColumns(rec, tradeColumns),
	}
}

func orderFromRecord(rec database.Record) domain.Order {
	return domain.Order{
		ID:                domain.IdentFromAny(rec["id"]),
		OrderID:           domain.IdentFromAny(rec["orderID"]),
		InternalAccountID: rec.String("internal_account_id"),
		Symbol:            rec.String("symbol"),
		Quantity:          rec.String("quantity"),
		Price:             rec.String("price"),
		OrderDate:         rec.String("orderDate"),
		SettleDateTarget:  rec.String("settleDateTarget"),
		Extra:             extraColumns(rec, orderColumns),
	}
}

// extraColumns keeps every non-NULL column the typed record does not know.
func extraColumns(rec database.Record, known map[string]struct{}) map[string]any {
	var extra map[string]any
	for k, v := range rec {
		if _, ok := known[k]; ok || v == nil {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}
