package mappings

import (
	"encoding/json"
	"errors"
	"sort"
)

var (
	// ErrUserRequired is returned by operations that need a user id.
	ErrUserRequired = errors.New("user id is required")
	// ErrInvalidRelation is returned for an unknown relation kind.
	ErrInvalidRelation = errors.New("invalid mapping relation")
)

// Relation names what a position is attached to.
type Relation string

const (
	RelationTrade    Relation = "trade"
	RelationPosition Relation = "position"
	RelationOrder    Relation = "order"
)

// Table returns the mapping table of the relation.
func (r Relation) Table() (string, error) {
	switch r {
	case RelationTrade:
		return "position_trade_mappings", nil
	case RelationPosition:
		return "position_position_mappings", nil
	case RelationOrder:
		return "position_order_mappings", nil
	default:
		return "", ErrInvalidRelation
	}
}

// IDSet is a set of attached identifiers.
type IDSet map[string]struct{}

// NewIDSet builds a set, dropping duplicates and empty ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports membership. Safe on a nil set.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON writes the set as a sorted array.
func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON reads an array of ids.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}

// AttachmentMap maps a composite position key to its attached ids.
type AttachmentMap map[string]IDSet

// Get returns the set for key; absent keys yield a nil set.
func (m AttachmentMap) Get(key string) IDSet {
	return m[key]
}
