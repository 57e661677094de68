package mappings

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/events"
)

// Client exposes mapping queries and mapping persistence to the attachment engine.
type Client struct {
	repo   *Repository
	events *events.Manager
	log    zerolog.Logger
}

// NewClient creates a mapping client. events may be nil.
func NewClient(repo *Repository, eventManager *events.Manager, log zerolog.Logger) *Client {
	return &Client{
		repo:   repo,
		events: eventManager,
		log:    log.With().Str("service", "mappings").Logger(),
	}
}

// PositionTradeMappingsQuery returns a query over position→trade attachments.
func (c *Client) PositionTradeMappingsQuery(userID string) *Query {
	return c.query(RelationTrade, userID)
}

// PositionPositionMappingsQuery returns a query over position→position attachments.
func (c *Client) PositionPositionMappingsQuery(userID string) *Query {
	return c.query(RelationPosition, userID)
}

// PositionOrderMappingsQuery returns a query over position→order attachments.
func (c *Client) PositionOrderMappingsQuery(userID string) *Query {
	return c.query(RelationOrder, userID)
}

func (c *Client) query(relation Relation, userID string) *Query {
	fetch := func(ctx context.Context) (AttachmentMap, error) {
		return c.repo.Load(ctx, relation, userID)
	}
	settled := func(data AttachmentMap, err error) {
		ev := &events.MappingsRefreshedData{
			UserID:   userID,
			Relation: string(relation),
			Success:  err == nil,
			Keys:     len(data),
		}
		if err != nil {
			ev.Error = err.Error()
		}
		c.events.EmitTyped("mappings", ev)
	}
	return NewQuery("position_"+string(relation)+"_mappings", userID != "", fetch, settled, c.log)
}

// SaveMappings replaces the attachments of one position for relation.
func (c *Client) SaveMappings(ctx context.Context, relation Relation, userID, positionKey string, ids []string) error {
	if err := c.repo.Replace(ctx, relation, userID, positionKey, ids); err != nil {
		return err
	}
	c.events.EmitTyped("mappings", &events.MappingsSavedData{
		UserID:      userID,
		Relation:    string(relation),
		PositionKey: positionKey,
		Count:       len(NewIDSet(ids...)),
	})
	return nil
}

// SavePositionOrderMappings replaces the orders attached to one position.
func (c *Client) SavePositionOrderMappings(ctx context.Context, userID, positionKey string, orderIDs []string) error {
	return c.SaveMappings(ctx, RelationOrder, userID, positionKey, orderIDs)
}
