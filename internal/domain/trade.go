package domain

import "encoding/json"

// Trade is an executed trade row. Dates are DD/MM/YYYY text as exported by the broker.
type Trade struct {
	TradeID           Ident  `json:"tradeID,omitempty"`
	InternalAccountID string `json:"internal_account_id,omitempty"`
	Symbol            string `json:"symbol"`
	Quantity          string `json:"quantity"`
	TradePrice        string `json:"tradePrice"`
	BuySell           string `json:"buySell"`
	TradeDate         string `json:"tradeDate"`
	SettleDateTarget  string `json:"settleDateTarget"`
	IBCommission      string `json:"ibCommission"`
	AssetCategory     string `json:"assetCategory"`

	Extra map[string]any `json:"-"`
}

var tradeFields = []string{
	"tradeID", "internal_account_id", "symbol", "quantity", "tradePrice", "buySell",
	"tradeDate", "settleDateTarget", "ibCommission", "assetCategory",
}

type tradeJSON Trade

// MarshalJSON writes the typed fields merged with Extra.
func (t Trade) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(tradeJSON(t), t.Extra)
}

// UnmarshalJSON reads the typed fields and keeps the rest in Extra.
func (t *Trade) UnmarshalJSON(data []byte) error {
	var v tradeJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	extra, err := splitExtra(data, tradeFields)
	if err != nil {
		return err
	}
	*t = Trade(v)
	t.Extra = extra
	return nil
}
