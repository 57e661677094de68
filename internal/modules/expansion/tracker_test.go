package expansion

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/attachments/internal/domain"
	"github.com/aristath/attachments/internal/events"
	"github.com/aristath/attachments/internal/modules/mappings"
	testutil "github.com/aristath/attachments/internal/testing"
)

type fakeRow struct {
	position  domain.Position
	reformats int
}

func (r *fakeRow) Position() domain.Position { return r.position }
func (r *fakeRow) Reformat()                 { r.reformats++ }

type fakeGrid []*fakeRow

func (g fakeGrid) Rows() []Row {
	rows := make([]Row, len(g))
	for i, r := range g {
		rows[i] = r
	}
	return rows
}

func TestTracker_Toggle(t *testing.T) {
	positions := testutil.NewPositionFixtures()
	grid := fakeGrid{{position: positions[0]}, {position: positions[1]}, {position: positions[0]}}
	tracker := NewTracker("alice", nil, zerolog.Nop())
	key := mappings.PositionKey(positions[0])

	tracker.MarkProcessing(key)
	assert.True(t, tracker.IsProcessing(key))

	assert.True(t, tracker.Toggle(key, grid))
	assert.True(t, tracker.IsExpanded(key))
	assert.False(t, tracker.IsProcessing(key))
	// Only the first matching row is redrawn
	assert.Equal(t, 1, grid[0].reformats)
	assert.Equal(t, 0, grid[1].reformats)
	assert.Equal(t, 0, grid[2].reformats)
	assert.Equal(t, []string{key}, tracker.Expanded())

	assert.False(t, tracker.Toggle(key, grid))
	assert.False(t, tracker.IsExpanded(key))
	assert.Empty(t, tracker.Expanded())
	assert.Equal(t, 2, grid[0].reformats)
}

func TestTracker_ToggleWithoutRows(t *testing.T) {
	tracker := NewTracker("alice", nil, zerolog.Nop())

	assert.True(t, tracker.Toggle("k", nil))
	assert.True(t, tracker.IsExpanded("k"))
}

func TestTracker_LegalEntityRowsMatch(t *testing.T) {
	stock := testutil.NewPositionFixtures()[2]
	grid := fakeGrid{{position: stock}}
	tracker := NewTracker("alice", nil, zerolog.Nop())

	tracker.Toggle("LE-7|MSFT|100|STK|272093", grid)
	assert.Equal(t, 1, grid[0].reformats)
}

func TestTracker_EmitsEvent(t *testing.T) {
	bus := events.NewBus()
	var got []*events.Event
	bus.Subscribe(events.ExpansionToggled, func(e *events.Event) { got = append(got, e) })

	store := NewStore(events.NewManager(bus, zerolog.Nop()), zerolog.Nop())
	store.For("alice").Toggle("k", nil)

	require.Len(t, got, 1)
	assert.Equal(t, "k", got[0].Data["position_key"])
	assert.Equal(t, true, got[0].Data["expanded"])
	assert.Same(t, store.For("alice"), store.For("alice"))
	assert.NotSame(t, store.For("alice"), store.For("bob"))
}
