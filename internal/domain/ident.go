package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Ident is an identifier that may arrive as a JSON string or number.
// Broker exports are inconsistent about conids and trade ids; both forms
// compare by their decimal text.
type Ident string

// UnmarshalJSON accepts strings, numbers and null.
func (id *Ident) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = Ident(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = Ident(n.String())
	return nil
}

// String returns the identifier text.
func (id Ident) String() string {
	return string(id)
}

// IdentFromAny renders a decoded column or JSON value as an identifier.
func IdentFromAny(v any) Ident {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return Ident(x)
	case []byte:
		return Ident(x)
	case int64:
		return Ident(strconv.FormatInt(x, 10))
	case int:
		return Ident(strconv.Itoa(x))
	case float64:
		return Ident(strconv.FormatFloat(x, 'f', -1, 64))
	case json.Number:
		return Ident(x.String())
	default:
		return Ident(fmt.Sprint(x))
	}
}
