package domain

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DefaultAssetClass is assumed for positions that do not report one.
const DefaultAssetClass = "OPT"

// Position is one holding of an account as shown in the positions grid.
type Position struct {
	InternalAccountID  string              `json:"internal_account_id,omitempty"`
	LegalEntity        string              `json:"legal_entity,omitempty"`
	Symbol             string              `json:"symbol"`
	AssetClass         string              `json:"asset_class,omitempty"`
	Conid              Ident               `json:"conid,omitempty"`
	ContractQuantity   decimal.NullDecimal `json:"contract_quantity"`
	AccountingQuantity decimal.NullDecimal `json:"accounting_quantity"`
	AvgPrice           decimal.NullDecimal `json:"avg_price"`
	MarketPrice        decimal.NullDecimal `json:"market_price"`
	MarketValue        decimal.NullDecimal `json:"market_value"`
	UnrealizedPnL      decimal.NullDecimal `json:"unrealized_pnl"`

	Extra map[string]any `json:"-"`
}

var positionFields = []string{
	"internal_account_id", "legal_entity", "symbol", "asset_class", "conid",
	"contract_quantity", "accounting_quantity", "avg_price", "market_price",
	"market_value", "unrealized_pnl",
}

type positionJSON Position

// MarshalJSON writes the typed fields merged with Extra.
func (p Position) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(positionJSON(p), p.Extra)
}

// UnmarshalJSON reads the typed fields and keeps the rest in Extra.
func (p *Position) UnmarshalJSON(data []byte) error {
	var v positionJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	extra, err := splitExtra(data, positionFields)
	if err != nil {
		return err
	}
	*p = Position(v)
	p.Extra = extra
	return nil
}

// AccountID returns the internal account, falling back to the legal entity.
func (p Position) AccountID() string {
	if p.InternalAccountID != "" {
		return p.InternalAccountID
	}
	return p.LegalEntity
}

// Quantity returns the contract quantity, falling back to the accounting quantity.
func (p Position) Quantity() decimal.NullDecimal {
	if p.ContractQuantity.Valid {
		return p.ContractQuantity
	}
	return p.AccountingQuantity
}
