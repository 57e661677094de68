package attachments

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aristath/attachments/internal/events"
)

// Registry keeps one Service per user for the lifetime of the process.
type Registry struct {
	mappingSource MappingSource
	tradeFinder   TradeFinder
	orderFinder   OrderFinder
	positions     PositionFinder
	metrics       *Metrics
	events        *events.Manager
	log           zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	once    sync.Once
	service *Service
}

// NewRegistry creates an empty registry
func NewRegistry(
	mappingSource MappingSource,
	tradeFinder TradeFinder,
	orderFinder OrderFinder,
	positions PositionFinder,
	metrics *Metrics,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Registry {
	return &Registry{
		mappingSource: mappingSource,
		tradeFinder:   tradeFinder,
		orderFinder:   orderFinder,
		positions:     positions,
		metrics:       metrics,
		events:        eventManager,
		log:           log.With().Str("component", "attachments_registry").Logger(),
		sessions:      make(map[string]*session),
	}
}

// For returns the Service of userID, creating and starting it on first use.
// Concurrent first calls start the Service once; later callers wait for it.
func (r *Registry) For(ctx context.Context, userID string) *Service {
	r.mu.Lock()
	sess, ok := r.sessions[userID]
	if !ok {
		sess = &session{
			service: NewService(userID, r.mappingSource, r.tradeFinder, r.orderFinder, r.positions, r.metrics, r.events, r.log),
		}
		r.sessions[userID] = sess
		r.metrics.sessionStarted()
	}
	r.mu.Unlock()

	// The first request may be cancelled mid-start; the session outlives it.
	sess.once.Do(func() {
		if err := sess.service.Start(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn().Err(err).Str("user_id", userID).Msg("Initial mapping fetch failed")
		}
	})
	return sess.service
}

// Remove forgets the Service of userID, dropping its caches.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[userID]; ok {
		delete(r.sessions, userID)
		r.metrics.sessionEnded()
	}
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// InvalidateSymbolRoot drops the trade cache of symbolRoot in every session.
func (r *Registry) InvalidateSymbolRoot(symbolRoot string) {
	r.mu.Lock()
	services := make([]*Service, 0, len(r.sessions))
	for _, sess := range r.sessions {
		services = append(services, sess.service)
	}
	r.mu.Unlock()

	for _, s := range services {
		s.InvalidateSymbolRoot(symbolRoot)
	}
}
