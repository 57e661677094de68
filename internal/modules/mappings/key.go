// Package mappings is the data-access layer for position attachments: the
// composite position key, the mapping tables, and reactive mapping queries.
package mappings

import (
	"strings"

	"github.com/aristath/attachments/internal/domain"
)

// KeySeparator joins the identity fields of a composite position key.
const KeySeparator = "|"

// Identity is the subset of a position that determines its composite key.
type Identity struct {
	AccountID  string
	Symbol     string
	Quantity   string
	AssetClass string
	Conid      string
}

// GeneratePositionMappingKey derives account|symbol|quantity|asset_class|conid.
// Field order and defaults are shared with every stored mapping row, so any
// change here orphans existing attachments.
func GeneratePositionMappingKey(id Identity) string {
	assetClass := id.AssetClass
	if assetClass == "" {
		assetClass = domain.DefaultAssetClass
	}
	return strings.Join([]string{id.AccountID, id.Symbol, id.Quantity, assetClass, id.Conid}, KeySeparator)
}

// IdentityOf extracts the key fields of a position.
func IdentityOf(p domain.Position) Identity {
	var quantity string
	if q := p.Quantity(); q.Valid {
		quantity = q.Decimal.String()
	}
	return Identity{
		AccountID:  p.AccountID(),
		Symbol:     p.Symbol,
		Quantity:   quantity,
		AssetClass: p.AssetClass,
		Conid:      p.Conid.String(),
	}
}

// PositionKey is GeneratePositionMappingKey(IdentityOf(p)).
func PositionKey(p domain.Position) string {
	return GeneratePositionMappingKey(IdentityOf(p))
}
