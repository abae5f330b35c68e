package presence

import (
	"math/rand"
	"testing"
	"time"

	"github.com/fako1024/perchscale/pkg/eventlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0     = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bounds = Bounds{Min: 25, Max: 55}
)

func run(tr *Tracker, masses ...float64) (events []eventlog.Record, tares int) {
	for i, m := range masses {
		out := tr.Step(m, t0.Add(time.Duration(i)*time.Second))
		if out.Tare {
			tares++
		}
		if out.Event != nil {
			events = append(events, *out.Event)
		}
	}
	return
}

func TestVisitScenario(t *testing.T) {
	tr := NewTracker(bounds)
	events, tares := run(tr, 0, 0, 30, 31, 29, 15, 0)

	require.Len(t, events, 4)
	assert.Zero(t, tares)

	want := []struct {
		kind eventlog.Kind
		mass float64
	}{
		{eventlog.Landed, 30},
		{eventlog.Present, 31},
		{eventlog.Present, 29},
		{eventlog.Left, 15},
	}
	for i, w := range want {
		assert.Equal(t, w.kind, events[i].Kind, "event %d", i)
		assert.Equal(t, w.mass, events[i].Mass, "event %d", i)
		assert.Nil(t, events[i].Health)
	}
	assert.Equal(t, t0.Add(2*time.Second), events[0].Timestamp)
	assert.Equal(t, Absent, tr.State())
}

func TestStayDuration(t *testing.T) {
	tr := NewTracker(bounds)
	tr.Step(40, t0)
	tr.Step(40, t0.Add(5*time.Second))

	out := tr.Step(0, t0.Add(12*time.Second))
	require.NotNil(t, out.Event)
	assert.Equal(t, eventlog.Left, out.Event.Kind)
	assert.Equal(t, 12*time.Second, out.Stay)
}

func TestBoundaryInclusion(t *testing.T) {
	for _, m := range []float64{bounds.Min, bounds.Max} {
		tr := NewTracker(bounds)
		out := tr.Step(m, t0)
		require.NotNil(t, out.Event, "mass %v", m)
		assert.Equal(t, eventlog.Landed, out.Event.Kind)

		out = tr.Step(m, t0.Add(time.Second))
		require.NotNil(t, out.Event, "mass %v", m)
		assert.Equal(t, eventlog.Present, out.Event.Kind)
		assert.False(t, out.Tare)
	}
}

func TestAutoZero(t *testing.T) {
	tests := []struct {
		name  string
		state State
		mass  float64
	}{
		{"light junk while empty", Absent, 10},
		{"heavy junk while empty", Absent, 120},
		{"negative drift while empty", Absent, -5},
		{"just above max while empty", Absent, 55.01},
		{"heavy object while occupied", Occupied, 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker(bounds)
			if tt.state == Occupied {
				tr.Step(30, t0)
			}
			since, _ := tr.OccupiedSince()

			out := tr.Step(tt.mass, t0.Add(time.Second))
			assert.True(t, out.Tare)
			assert.Nil(t, out.Event)
			assert.Equal(t, tt.state, tr.State())
			gotSince, _ := tr.OccupiedSince()
			assert.Equal(t, since, gotSince)
		})
	}
}

func TestEmptyProducesNothing(t *testing.T) {
	tr := NewTracker(bounds)
	out := tr.Step(0, t0)
	assert.False(t, out.Tare)
	assert.Nil(t, out.Event)
	assert.Equal(t, Absent, tr.State())
}

func TestResidualMassAfterDepartureIsZeroed(t *testing.T) {
	tr := NewTracker(bounds)
	events, tares := run(tr, 30, 15, 15)
	require.Len(t, events, 2)
	assert.Equal(t, eventlog.Left, events[1].Kind)
	assert.Equal(t, 1, tares)
}

func TestReset(t *testing.T) {
	tr := NewTracker(bounds)
	tr.Step(30, t0)
	require.Equal(t, Occupied, tr.State())

	tr.Reset()
	_, ok := tr.OccupiedSince()
	assert.False(t, ok)
	assert.Equal(t, Absent, tr.State())

	out := tr.Step(30, t0.Add(time.Second))
	require.NotNil(t, out.Event)
	assert.Equal(t, eventlog.Landed, out.Event.Kind)
}

func TestBoundsValidate(t *testing.T) {
	require.NoError(t, bounds.Validate())
	require.Error(t, Bounds{Min: 0, Max: 10}.Validate())
	require.Error(t, Bounds{Min: 30, Max: 20}.Validate())
}

// TestRandomSequences checks the structural properties of the event stream for
// arbitrary mass sequences
func TestRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	candidates := []float64{0, 0, 0, 5, 15, 24.99, 25, 30, 40, 55, 55.01, 80, -3}

	for seq := 0; seq < 200; seq++ {
		tr := NewTracker(bounds)
		var last eventlog.Kind
		for i := 0; i < 100; i++ {
			mass := candidates[rng.Intn(len(candidates))]
			before := tr.State()
			beforeSince, _ := tr.OccupiedSince()

			out := tr.Step(mass, t0.Add(time.Duration(i)*time.Second))

			since, ok := tr.OccupiedSince()
			require.Equal(t, tr.State() == Occupied, ok)
			require.Equal(t, ok, !since.IsZero())

			if out.Tare {
				require.Nil(t, out.Event)
				require.Equal(t, before, tr.State())
				require.Equal(t, beforeSince, since)
				continue
			}
			if out.Event == nil {
				continue
			}

			switch out.Event.Kind {
			case eventlog.Landed:
				require.NotEqual(t, eventlog.Landed, last, "two landings without departure")
				require.NotEqual(t, eventlog.Present, last)
			case eventlog.Present, eventlog.Left:
				require.Contains(t, []eventlog.Kind{eventlog.Landed, eventlog.Present}, last)
			}
			last = out.Event.Kind
		}
	}
}
