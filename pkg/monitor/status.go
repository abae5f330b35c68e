package monitor

import (
	"sync"
	"time"

	"github.com/fako1024/perchscale/pkg/eventlog"
	"github.com/fako1024/perchscale/pkg/presence"
)

// Counts denotes the number of operations performed since startup
type Counts struct {
	Landed     int `json:"landed"`
	Present    int `json:"present"`
	Left       int `json:"left"`
	AutoZero   int `json:"auto_zero"`
	Reconnects int `json:"reconnects"`
	ReadErrors int `json:"read_errors"`
	SinkErrors int `json:"sink_errors"`
	Alerts     int `json:"alerts"`
}

func (c *Counts) addEvent(kind eventlog.Kind) {
	switch kind {
	case eventlog.Landed:
		c.Landed++
	case eventlog.Present:
		c.Present++
	case eventlog.Left:
		c.Left++
	}
}

// Snapshot is a point-in-time copy of the monitor state
type Snapshot struct {
	Phase         string     `json:"phase"`
	DeviceID      string     `json:"device_id,omitempty"`
	Connected     bool       `json:"connected"`
	Presence      string     `json:"presence"`
	OccupiedSince *time.Time `json:"occupied_since,omitempty"`
	LastMass      *float64   `json:"last_mass_grams,omitempty"`
	LastReading   *time.Time `json:"last_reading,omitempty"`

	BatteryLevel    *float64 `json:"battery_level,omitempty"`
	AlertSent       bool     `json:"battery_alert_sent"`
	BatteryDisabled bool     `json:"battery_monitoring_disabled"`

	Bounds presence.Bounds `json:"bounds"`
	Counts Counts          `json:"counts"`

	StartTime time.Time `json:"start_time"`
	Now       time.Time `json:"now"`
}

// Uptime returns the duration since the monitor was created
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Status holds the observable monitor state behind an RWMutex. It is written
// by the monitor loop and read concurrently (e.g. by the HTTP API)
type Status struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStatus creates a Status with the given start time
func NewStatus(startTime time.Time, bounds presence.Bounds, now func() time.Time) *Status {
	if now == nil {
		now = time.Now
	}
	return &Status{
		snap: Snapshot{
			Phase:     Starting.String(),
			Presence:  presence.Absent.String(),
			Bounds:    bounds,
			StartTime: startTime,
		},
		now: now,
	}
}

// Snapshot returns a copy of the current state, Now is set at the moment of the call
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	snap.Now = s.now()
	return snap
}

func (s *Status) update(fn func(*Snapshot)) {
	s.mu.Lock()
	fn(&s.snap)
	s.mu.Unlock()
}
