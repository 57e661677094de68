package mappings

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher loads a full attachment map.
type Fetcher func(ctx context.Context) (AttachmentMap, error)

// SettledHook observes every completed fetch.
type SettledHook func(data AttachmentMap, err error)

// Query is a re-fetchable read model over one mapping relation. Readers get
// the last successful result; a failed refetch keeps that data, records the
// error and clears the success flag. Overlapping refetches settle in the
// order they started: a fetch that finishes after a newer one has already
// settled is discarded.
type Query struct {
	name    string
	enabled bool
	fetch   Fetcher
	onDone  SettledHook
	log     zerolog.Logger

	mu        sync.RWMutex
	data      AttachmentMap
	success   bool
	err       error
	fetchedAt time.Time
	started   uint64
	applied   uint64
	nextSub   int
	subs      map[int]func(AttachmentMap)
}

// NewQuery creates a query. A disabled query never fetches and never succeeds.
func NewQuery(name string, enabled bool, fetch Fetcher, onDone SettledHook, log zerolog.Logger) *Query {
	return &Query{
		name:    name,
		enabled: enabled,
		fetch:   fetch,
		onDone:  onDone,
		log:     log.With().Str("query", name).Logger(),
		subs:    make(map[int]func(AttachmentMap)),
	}
}

// Name returns the query name
func (q *Query) Name() string {
	return q.name
}

// Enabled reports whether the query can fetch
func (q *Query) Enabled() bool {
	return q.enabled
}

// Data returns the current map, empty when nothing was fetched yet.
func (q *Query) Data() AttachmentMap {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.data == nil {
		return AttachmentMap{}
	}
	return q.data
}

// IsSuccess reports whether the latest fetch succeeded.
func (q *Query) IsSuccess() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.success
}

// Err returns the error of the latest fetch, if it failed.
func (q *Query) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.err
}

// FetchedAt returns when the latest successful fetch completed.
func (q *Query) FetchedAt() time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.fetchedAt
}

// Subscribe registers fn to run with the new data after each successful
// fetch. The returned function unsubscribes.
func (q *Query) Subscribe(fn func(AttachmentMap)) func() {
	q.mu.Lock()
	q.nextSub++
	id := q.nextSub
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// Refetch runs the fetcher and settles the query. The returned error is the
// fetch error; the query state already reflects it unless the result was
// superseded by a newer refetch.
func (q *Query) Refetch(ctx context.Context) error {
	if !q.enabled {
		return ErrUserRequired
	}

	q.mu.Lock()
	q.started++
	gen := q.started
	q.mu.Unlock()

	data, err := q.fetch(ctx)

	q.mu.Lock()
	if gen < q.applied {
		q.mu.Unlock()
		q.log.Debug().Err(err).Uint64("generation", gen).Msg("Discarding stale mapping fetch")
		return err
	}
	q.applied = gen
	if err != nil {
		q.err = err
		q.success = false
	} else {
		if data == nil {
			data = AttachmentMap{}
		}
		q.data = data
		q.err = nil
		q.success = true
		q.fetchedAt = time.Now()
	}
	subs := make([]func(AttachmentMap), 0, len(q.subs))
	if err == nil {
		for _, fn := range q.subs {
			subs = append(subs, fn)
		}
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Error().Err(err).Msg("Mapping query failed")
	}
	if q.onDone != nil {
		q.onDone(data, err)
	}
	for _, fn := range subs {
		fn(data)
	}

	return err
}
