// Package expansion tracks which position rows of a grid are expanded to
// show their attachments.
package expansion

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/events"
	"github.com/aristath/attachments/internal/modules/mappings"
)

// Row is one rendered grid row.
type Row interface {
	Position() domain.Position
	// Reformat asks the grid to redraw the row.
	Reformat()
}

// RowSource lists the rows currently rendered. May be nil.
type RowSource interface {
	Rows() []Row
}

// Tracker holds the expanded and processing position keys of one user session.
type Tracker struct {
	userID string
	events *events.Manager
	log    zerolog.Logger

	mu         sync.RWMutex
	expanded   map[string]struct{}
	processing map[string]struct{}
}

// NewTracker creates a tracker with nothing expanded
func NewTracker(userID string, eventManager *events.Manager, log zerolog.Logger) *Tracker {
	return &Tracker{
		userID:     userID,
		events:     eventManager,
		log:        log.With().Str("component", "expansion").Str("user_id", userID).Logger(),
		expanded:   make(map[string]struct{}),
		processing: make(map[string]struct{}),
	}
}

// Toggle flips the expansion of positionKey, clears its processing flag and
// redraws the first row whose position derives the same key. It returns the
// new expansion state.
func (t *Tracker) Toggle(positionKey string, rows RowSource) bool {
	t.mu.Lock()
	delete(t.processing, positionKey)
	_, wasExpanded := t.expanded[positionKey]
	if wasExpanded {
		delete(t.expanded, positionKey)
	} else {
		t.expanded[positionKey] = struct{}{}
	}
	t.mu.Unlock()

	if rows != nil {
		for _, row := range rows.Rows() {
			if mappings.PositionKey(row.Position()) == positionKey {
				row.Reformat()
				break
			}
		}
	}

	t.log.Debug().Str("position_key", positionKey).Bool("expanded", !wasExpanded).Msg("Toggled row")
	t.events.EmitTyped("expansion", &events.ExpansionToggledData{
		UserID:      t.userID,
		PositionKey: positionKey,
		Expanded:    !wasExpanded,
	})
	return !wasExpanded
}

// IsExpanded reports whether positionKey is expanded
func (t *Tracker) IsExpanded(positionKey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.expanded[positionKey]
	return ok
}

// MarkProcessing flags positionKey while its attachments load.
func (t *Tracker) MarkProcessing(positionKey string) {
	t.mu.Lock()
	t.processing[positionKey] = struct{}{}
	t.mu.Unlock()
}

// IsProcessing reports whether positionKey is loading
func (t *Tracker) IsProcessing(positionKey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.processing[positionKey]
	return ok
}

// Expanded returns the expanded keys in ascending order.
func (t *Tracker) Expanded() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.expanded)
}

// Processing returns the processing keys in ascending order.
func (t *Tracker) Processing() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return sortedKeys(t.processing)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Store keeps one Tracker per user.
type Store struct {
	events *events.Manager
	log    zerolog.Logger

	mu       sync.Mutex
	trackers map[string]*Tracker
}

// NewStore creates an empty store
func NewStore(eventManager *events.Manager, log zerolog.Logger) *Store {
	return &Store{
		events:   eventManager,
		log:      log,
		trackers: make(map[string]*Tracker),
	}
}

// For returns the tracker of userID, creating it on first use.
func (s *Store) For(userID string) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trackers[userID]
	if !ok {
		t = NewTracker(userID, s.events, s.log)
		s.trackers[userID] = t
	}
	return t
}
