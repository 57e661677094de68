package mappings

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/database"
)

// Repository handles the position_*_mappings tables
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new mapping repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "mappings").Logger(),
	}
}

// Load returns every attachment of relation owned by userID.
func (r *Repository) Load(ctx context.Context, relation Relation, userID string) (AttachmentMap, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	table, err := relation.Table()
	if err != nil {
		return nil, err
	}

	records, err := database.Select(table, "position_key", "attached_id").
		Eq("user_id", userID).
		Run(ctx, r.db)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s mappings: %w", relation, err)
	}

	result := make(AttachmentMap)
	for _, rec := range records {
		key := rec.String("position_key")
		set, ok := result[key]
		if !ok {
			set = make(IDSet)
			result[key] = set
		}
		if id := rec.String("attached_id"); id != "" {
			set[id] = struct{}{}
		}
	}

	r.log.Debug().
		Str("relation", string(relation)).
		Str("user_id", userID).
		Int("keys", len(result)).
		Msg("Loaded mappings")

	return result, nil
}

// Replace sets the attachments of one position to exactly ids.
// An empty ids list detaches everything from the position.
func (r *Repository) Replace(ctx context.Context, relation Relation, userID, positionKey string, ids []string) error {
	if userID == "" {
		return ErrUserRequired
	}
	if positionKey == "" {
		return fmt.Errorf("position key is required")
	}
	table, err := relation.Table()
	if err != nil {
		return err
	}

	set := NewIDSet(ids...)
	now := time.Now().Unix()

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE user_id = ? AND position_key = ?",
			userID, positionKey,
		); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx,
			"INSERT INTO "+table+" (id, user_id, position_key, attached_id, created_at) VALUES (?, ?, ?, ?, ?)",
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range set.Sorted() {
			if _, err := stmt.ExecContext(ctx, uuid.NewString(), userID, positionKey, id, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %s mappings: %w", relation, err)
	}

	r.log.Info().
		Str("relation", string(relation)).
		Str("user_id", userID).
		Str("position_key", positionKey).
		Int("count", len(set)).
		Msg("Mappings saved")

	return nil
}
