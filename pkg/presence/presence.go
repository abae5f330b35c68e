// Package presence turns a noisy stream of weight readings into discrete
// occupancy events. It has no I/O: time is passed in and re-zeroing the
// device is returned as a request to the caller.
package presence

import (
	"fmt"
	"time"

	"github.com/fako1024/perchscale/pkg/eventlog"
)

// State denotes the occupancy state of the sensor
type State int

const (

	// Absent denotes an empty sensor
	Absent State = iota

	// Occupied denotes an object of interest resting on the sensor
	Occupied
)

// String returns a human-readable representation of the state
func (s State) String() string {
	if s == Occupied {
		return "occupied"
	}
	return "absent"
}

// Bounds denotes the inclusive mass range [Min, Max] of an object of interest
type Bounds struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Contains returns if mass lies within the bounds (inclusive)
func (b Bounds) Contains(mass float64) bool {
	return mass >= b.Min && mass <= b.Max
}

// Validate checks that the bounds are ordered and positive
func (b Bounds) Validate() error {
	if b.Min <= 0 {
		return fmt.Errorf("minimum weight must be positive, got %v", b.Min)
	}
	if b.Max < b.Min {
		return fmt.Errorf("maximum weight %v is below minimum weight %v", b.Max, b.Min)
	}
	return nil
}

// Outcome denotes the result of a single step
type Outcome struct {

	// Tare requests the device to be re-zeroed (no event is produced then)
	Tare bool

	// Event holds the produced event, if any
	Event *eventlog.Record

	// Stay holds the duration of a visit that just ended (Left events only)
	Stay time.Duration
}

// Tracker tracks the occupancy state of a single sensor
type Tracker struct {
	bounds Bounds
	state  State
	since  time.Time
}

// NewTracker instantiates a new Tracker in the Absent state
func NewTracker(bounds Bounds) *Tracker {
	return &Tracker{bounds: bounds}
}

// State returns the current occupancy state
func (t *Tracker) State() State {
	return t.state
}

// OccupiedSince returns the time the current visit started (ok is false while Absent)
func (t *Tracker) OccupiedSince() (since time.Time, ok bool) {
	return t.since, t.state == Occupied
}

// Reset forgets any ongoing visit (e.g. after the device had to be reconnected)
func (t *Tracker) Reset() {
	t.state = Absent
	t.since = time.Time{}
}

// Step consumes a single mass reading taken at now
func (t *Tracker) Step(mass float64, now time.Time) Outcome {
	inBounds := t.bounds.Contains(mass)

	// A visit ends as soon as the mass drops below the lower bound; the reading
	// that ended it is recorded on the Left event
	if t.state == Occupied && mass < t.bounds.Min {
		stay := now.Sub(t.since)
		t.Reset()
		return Outcome{
			Event: t.record(now, mass, eventlog.Left),
			Stay:  stay,
		}
	}

	// Any other non-zero reading outside the bounds is drift or a foreign
	// object: discard it and re-zero
	if mass != 0 && !inBounds {
		return Outcome{Tare: true}
	}

	if !inBounds {
		return Outcome{}
	}

	if t.state == Absent {
		t.state = Occupied
		t.since = now
		return Outcome{Event: t.record(now, mass, eventlog.Landed)}
	}

	return Outcome{Event: t.record(now, mass, eventlog.Present)}
}

func (t *Tracker) record(now time.Time, mass float64, kind eventlog.Kind) *eventlog.Record {
	return &eventlog.Record{
		Timestamp: now,
		Mass:      mass,
		Kind:      kind,
	}
}
