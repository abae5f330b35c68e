// Package health samples the battery level of the device on its own schedule
// and decides when a low-battery alert has to be dispatched.
package health

import (
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/perchscale/pkg/scale"
)

const (

	// DefaultThreshold denotes the battery level (percent) at or below which an alert fires
	DefaultThreshold = 20.

	// DefaultHysteresis denotes the margin above the threshold required to re-arm the alert
	DefaultHysteresis = 5.

	// DefaultInterval denotes the time between two battery checks
	DefaultInterval = 5 * time.Minute
)

// Config denotes the battery alert configuration
type Config struct {
	Threshold  float64       `yaml:"threshold"`
	Hysteresis float64       `yaml:"hysteresis"`
	Interval   time.Duration `yaml:"check_interval"`
}

// Validate checks the configuration for consistency
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return fmt.Errorf("battery threshold must be within [0, 100], got %v", c.Threshold)
	}
	if c.Hysteresis < 0 {
		return fmt.Errorf("battery hysteresis must not be negative, got %v", c.Hysteresis)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("battery check interval must be positive, got %v", c.Interval)
	}
	return nil
}

// AlertState denotes the bookkeeping of the battery alert
type AlertState struct {

	// LastCheck holds the time of the last successful reading
	LastCheck time.Time

	// AlertSent latches once a low battery has been actioned
	AlertSent bool

	// Disabled latches once the device turned out not to report a battery level
	Disabled bool
}

// BatteryReader denotes anything that can report a battery level
type BatteryReader interface {
	BatteryLevel() (float64, error)
}

// Check denotes the result of a single MaybeCheck call
type Check struct {

	// Sampled is true if a battery level was read on this call
	Sampled bool

	// Level holds the battery level (only valid if Sampled is true)
	Level float64

	// Notify is true if a low-battery alert must be dispatched
	Notify bool

	// ReadErr holds the error of a failed read. A device without battery
	// reporting is not counted as failure
	ReadErr error
}

// LevelPtr returns a pointer to the level if one was sampled, nil otherwise
func (c Check) LevelPtr() *float64 {
	if !c.Sampled {
		return nil
	}
	level := c.Level
	return &level
}

// Monitor evaluates the battery level with alert hysteresis
type Monitor struct {
	cfg    Config
	state  AlertState
	logger scale.Logger
}

// New instantiates a new Monitor
func New(cfg Config, logger scale.Logger) *Monitor {
	if logger == nil {
		logger = &scale.NullLogger{}
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger,
	}
}

// State returns a copy of the current alert bookkeeping
func (m *Monitor) State() AlertState {
	return m.state
}

// ForceRecheck makes the next MaybeCheck call read the battery regardless of
// the schedule. Alert and disabled latches are kept
func (m *Monitor) ForceRecheck() {
	m.state.LastCheck = time.Time{}
}

// Due returns if a check would be performed at now
func (m *Monitor) Due(now time.Time) bool {
	if m.state.Disabled {
		return false
	}
	return m.state.LastCheck.IsZero() || now.Sub(m.state.LastCheck) >= m.cfg.Interval
}

// MaybeCheck reads the battery level if a check is due and evaluates it
func (m *Monitor) MaybeCheck(dev BatteryReader, now time.Time) Check {
	if !m.Due(now) {
		return Check{}
	}

	level, err := dev.BatteryLevel()
	if err != nil {
		switch {
		case errors.Is(err, scale.ErrUnsupported):
			m.logger.Warn("device does not report a battery level, battery monitoring disabled")
			m.state.Disabled = true
		case errors.Is(err, scale.ErrNoReading):

			// No value right now, try again on the next tick
			m.logger.Debug("battery level temporarily unavailable")
			return Check{ReadErr: err}
		default:
			m.logger.Warnf("failed to read battery level: %s", err)
			return Check{ReadErr: err}
		}
		return Check{}
	}

	m.state.LastCheck = now
	m.logger.Infof("battery: %.1f%%", level)

	check := Check{
		Sampled: true,
		Level:   level,
	}

	if level <= m.cfg.Threshold {
		if !m.state.AlertSent {
			m.state.AlertSent = true
			check.Notify = true
		}
	} else if level > m.cfg.Threshold+m.cfg.Hysteresis {
		m.state.AlertSent = false
	}

	return check
}
