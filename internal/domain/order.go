package domain

import "encoding/json"

// Order is a broker order row. Attachments reference orders by ID, the
// storage row id, not by the broker's OrderID.
type Order struct {
	ID                Ident  `json:"id"`
	OrderID           Ident  `json:"orderID,omitempty"`
	InternalAccountID string `json:"internal_account_id,omitempty"`
	Symbol            string `json:"symbol"`
	Quantity          string `json:"quantity"`
	Price             string `json:"price"`
	OrderDate         string `json:"orderDate"`
	SettleDateTarget  string `json:"settleDateTarget"`

	Extra map[string]any `json:"-"`
}

var orderFields = []string{
	"id", "orderID", "internal_account_id", "symbol", "quantity", "price",
	"orderDate", "settleDateTarget",
}

type orderJSON Order

// MarshalJSON writes the typed fields merged with Extra.
func (o Order) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(orderJSON(o), o.Extra)
}

// UnmarshalJSON reads the typed fields and keeps the rest in Extra.
func (o *Order) UnmarshalJSON(data []byte) error {
	var v orderJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	extra, err := splitExtra(data, orderFields)
	if err != nil {
		return err
	}
	*o = Order(v)
	o.Extra = extra
	return nil
}
