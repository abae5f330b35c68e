// Package eventlog defines the occupancy event record and the append-only sinks
// it can be written to.
package eventlog

import (
	"fmt"
	"strconv"
	"time"
)

// Kind denotes the type of an occupancy event
type Kind int

const (

	// Landed is emitted when an object comes to rest on the sensor
	Landed Kind = iota + 1

	// Present is emitted on every tick while the object remains on the sensor
	Present

	// Left is emitted when the object leaves the sensor
	Left
)

// String returns the label of the event kind as written to the log
func (k Kind) String() string {
	switch k {
	case Landed:
		return "landed"
	case Present:
		return "present"
	case Left:
		return "left"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind converts a label back into a Kind
func ParseKind(label string) (Kind, error) {
	switch label {
	case "landed":
		return Landed, nil
	case "present":
		return Present, nil
	case "left":
		return Left, nil
	}
	return 0, fmt.Errorf("unknown event kind `%s`", label)
}

// TimestampFormat denotes the ISO-8601 layout used for record timestamps
const TimestampFormat = "2006-01-02T15:04:05.000000Z07:00"

// Record denotes a single immutable occupancy event
type Record struct {
	Timestamp time.Time
	Mass      float64
	Kind      Kind

	// Health holds the battery level sampled on the same tick, if any
	Health *float64
}

// Columns returns the textual representation of the record in column order
func (r Record) Columns() []string {
	health := ""
	if r.Health != nil {
		health = strconv.FormatFloat(*r.Health, 'f', -1, 64)
	}
	return []string{
		r.Timestamp.Format(TimestampFormat),
		strconv.FormatFloat(r.Mass, 'f', 2, 64),
		r.Kind.String(),
		health,
	}
}

// Header denotes the column names of the event log
var Header = []string{"timestamp", "mass_grams", "kind", "health_level"}

// Sink denotes an append-only destination for records
type Sink interface {

	// Record appends a record. It must not return before the record has been
	// handed to the underlying medium
	Record(rec Record) error

	// Flush forces any buffered data out
	Flush() error

	// Close flushes and releases the sink
	Close() error
}
