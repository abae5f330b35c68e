// Package monitor implements the top-level control loop: it keeps a device
// connected, samples its battery on an independent schedule, turns weight
// readings into occupancy events and appends them to an event sink until the
// context is cancelled.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fako1024/perchscale/pkg/clock"
	"github.com/fako1024/perchscale/pkg/eventlog"
	"github.com/fako1024/perchscale/pkg/health"
	"github.com/fako1024/perchscale/pkg/indicator"
	"github.com/fako1024/perchscale/pkg/metrics"
	"github.com/fako1024/perchscale/pkg/notify"
	"github.com/fako1024/perchscale/pkg/presence"
	"github.com/fako1024/perchscale/pkg/reconnect"
	"github.com/fako1024/perchscale/pkg/scale"
)

const (

	// DefaultPollInterval denotes the time between two weight readings
	DefaultPollInterval = 1500 * time.Millisecond

	// DefaultSettleDelay denotes the wait after re-zeroing the device
	DefaultSettleDelay = 500 * time.Millisecond

	// DefaultReconnectSettle denotes the wait after a successful reconnect
	DefaultReconnectSettle = time.Second

	notifyTimeout = 30 * time.Second
)

// Phase denotes the lifecycle phase of the loop
type Phase int32

const (

	// Starting denotes the loop waiting for the first device connection
	Starting Phase = iota

	// Running denotes the loop sampling a device
	Running

	// ShuttingDown denotes the loop draining after cancellation
	ShuttingDown

	// Stopped denotes the terminal phase
	Stopped
)

var phaseLabels = map[Phase]string{
	Starting:     "starting",
	Running:      "running",
	ShuttingDown: "shutting_down",
	Stopped:      "stopped",
}

// String returns a human-readable representation of the phase
func (p Phase) String() string {
	if label, ok := phaseLabels[p]; ok {
		return label
	}
	return "unknown"
}

// Config denotes the loop configuration
type Config struct {
	PollInterval    time.Duration
	SettleDelay     time.Duration
	ReconnectSettle time.Duration

	Bounds presence.Bounds
	Health health.Config

	// Recipient is passed on to the notifier with every alert
	Recipient string
}

// DefaultConfig returns the default loop configuration for the given bounds
func DefaultConfig(bounds presence.Bounds) Config {
	return Config{
		PollInterval:    DefaultPollInterval,
		SettleDelay:     DefaultSettleDelay,
		ReconnectSettle: DefaultReconnectSettle,
		Bounds:          bounds,
		Health: health.Config{
			Threshold:  health.DefaultThreshold,
			Hysteresis: health.DefaultHysteresis,
			Interval:   health.DefaultInterval,
		},
	}
}

// Loop drives a single device
type Loop struct {
	cfg        Config
	supervisor *reconnect.Supervisor
	sink       eventlog.Sink

	tracker *presence.Tracker
	health  *health.Monitor

	notifier  notify.Notifier
	clock     clock.Clock
	logger    scale.Logger
	metrics   *metrics.Metrics
	indicator indicator.Indicator
	status    *Status

	phase         atomic.Int32
	tareRequested atomic.Bool
}

// New instantiates a new Loop, executing functional options, if any
func New(cfg Config, supervisor *reconnect.Supervisor, sink eventlog.Sink, options ...func(*Loop)) *Loop {
	l := &Loop{
		cfg:        cfg,
		supervisor: supervisor,
		sink:       sink,
		tracker:    presence.NewTracker(cfg.Bounds),
		clock:      clock.System{},
		logger:     &scale.NullLogger{},
		indicator:  indicator.Nop{},
	}

	for _, option := range options {
		option(l)
	}

	l.health = health.New(cfg.Health, l.logger)
	if l.status == nil {
		l.status = NewStatus(l.clock.Now(), cfg.Bounds, l.clock.Now)
	}

	return l
}

// WithNotifier sets the channel used for low-battery alerts (nil disables them)
func WithNotifier(notifier notify.Notifier) func(*Loop) {
	return func(l *Loop) {
		l.notifier = notifier
	}
}

// WithClock sets the clock
func WithClock(clk clock.Clock) func(*Loop) {
	return func(l *Loop) {
		l.clock = clk
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Loop) {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *metrics.Metrics) func(*Loop) {
	return func(l *Loop) {
		l.metrics = m
	}
}

// WithIndicator sets the occupancy indicator
func WithIndicator(ind indicator.Indicator) func(*Loop) {
	return func(l *Loop) {
		l.indicator = ind
	}
}

// WithStatus sets the status tracker
func WithStatus(status *Status) func(*Loop) {
	return func(l *Loop) {
		l.status = status
	}
}

// Status returns the status tracker of the loop
func (l *Loop) Status() *Status {
	return l.status
}

// Phase returns the current lifecycle phase
func (l *Loop) Phase() Phase {
	return Phase(l.phase.Load())
}

// RequestTare asks the loop to re-zero the device on its next tick. Safe for
// concurrent use
func (l *Loop) RequestTare() {
	l.tareRequested.Store(true)
}

// Run executes the loop until ctx is cancelled. Cancellation is a regular
// shutdown and yields a nil error; the sink is flushed and the device
// disconnected before Run returns
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infof("waiting for device (bounds [%v, %v] g, poll interval %v)", l.cfg.Bounds.Min, l.cfg.Bounds.Max, l.cfg.PollInterval)

	dev, err := l.supervisor.EnsureConnected(ctx, nil)
	if err != nil {
		return l.shutdown(nil, err)
	}
	l.connected(dev)
	l.setPhase(Running)

	for {
		if err := ctx.Err(); err != nil {
			return l.shutdown(dev, err)
		}

		if !dev.IsConnected() {
			l.logger.Warn("connection to device lost, reconnecting")
			l.metrics.SetConnected(false)
			l.status.update(func(s *Snapshot) {
				s.Connected = false
			})

			dev, err = l.supervisor.EnsureConnected(ctx, dev)
			if err != nil {
				return l.shutdown(nil, err)
			}

			// A visit cannot be followed across a link loss
			l.tracker.Reset()
			l.health.ForceRecheck()
			l.connected(dev)
			l.status.update(func(s *Snapshot) {
				s.Counts.Reconnects++
			})

			if err := clock.Sleep(ctx, l.clock, l.cfg.ReconnectSettle); err != nil {
				return l.shutdown(dev, err)
			}
			continue
		}

		l.tick(ctx, dev)

		if err := clock.Sleep(ctx, l.clock, l.cfg.PollInterval); err != nil {
			return l.shutdown(dev, err)
		}
	}
}

func (l *Loop) tick(ctx context.Context, dev scale.Device) {
	now := l.clock.Now()

	check := l.health.MaybeCheck(dev, now)
	if check.ReadErr != nil {
		l.metrics.ObserveReadError("battery")
		l.status.update(func(s *Snapshot) {
			s.Counts.ReadErrors++
		})
	}
	if check.Sampled {
		l.metrics.SetBatteryLevel(check.Level)
	}
	if check.Notify {
		l.alert(ctx, dev, check.Level, now)
	}

	if l.tareRequested.Swap(false) {
		l.logger.Info("re-zeroing device on request")
		l.tare(ctx, dev)
		return
	}

	mass, err := dev.Weight()
	if err != nil {
		l.logger.Warnf("failed to read weight: %s", err)
		l.metrics.ObserveReadError("weight")
		l.status.update(func(s *Snapshot) {
			s.Counts.ReadErrors++
		})
		return
	}

	outcome := l.tracker.Step(mass, now)
	switch {
	case outcome.Tare:
		l.logger.Infof("auto-zero: %.2f g outside [%v, %v], re-zeroing", mass, l.cfg.Bounds.Min, l.cfg.Bounds.Max)
		l.metrics.ObserveAutoZero()
		l.status.update(func(s *Snapshot) {
			s.Counts.AutoZero++
		})
		l.tare(ctx, dev)
		return
	case outcome.Event != nil:
		rec := *outcome.Event
		rec.Health = check.LevelPtr()
		l.record(rec, outcome.Stay)
	}

	occupied := l.tracker.State() == presence.Occupied
	if err := l.indicator.Set(occupied); err != nil {
		l.logger.Debugf("failed to set occupancy indicator: %s", err)
	}
	l.metrics.SetOccupied(occupied)

	alertState := l.health.State()
	l.status.update(func(s *Snapshot) {
		s.Presence = l.tracker.State().String()
		s.OccupiedSince = nil
		if since, ok := l.tracker.OccupiedSince(); ok {
			s.OccupiedSince = &since
		}
		s.LastMass = &mass
		s.LastReading = &now
		if check.Sampled {
			s.BatteryLevel = check.LevelPtr()
		}
		s.AlertSent = alertState.AlertSent
		s.BatteryDisabled = alertState.Disabled
	})
}

func (l *Loop) tare(ctx context.Context, dev scale.Device) {
	if err := dev.Tare(); err != nil {
		l.logger.Warnf("failed to re-zero device: %s", err)
		return
	}

	// Errors only stem from cancellation, which the caller observes on its next sleep
	_ = clock.Sleep(ctx, l.clock, l.cfg.SettleDelay)
}

func (l *Loop) record(rec eventlog.Record, stay time.Duration) {
	switch rec.Kind {
	case eventlog.Landed:
		l.logger.Infof("landed: %.2f g", rec.Mass)
	case eventlog.Left:
		l.logger.Infof("left: %.2f g after %v", rec.Mass, stay.Round(time.Second))
	default:
		l.logger.Debugf("present: %.2f g", rec.Mass)
	}

	l.metrics.ObserveEvent(rec.Kind.String())
	l.status.update(func(s *Snapshot) {
		s.Counts.addEvent(rec.Kind)
	})

	if err := l.sink.Record(rec); err != nil {
		l.logger.Errorf("failed to write %s event: %s", rec.Kind, err)
		l.metrics.ObserveSinkError()
		l.status.update(func(s *Snapshot) {
			s.Counts.SinkErrors++
		})
	}
}

func (l *Loop) alert(ctx context.Context, dev scale.Device, level float64, now time.Time) {
	l.logger.Warnf("battery low: %.1f%% (threshold %.1f%%)", level, l.cfg.Health.Threshold)

	if l.notifier == nil {
		l.logger.Warn("no notification channel configured, low battery alert not sent")
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	err := l.notifier.Notify(notifyCtx, notify.Alert{
		Level:     level,
		Threshold: l.cfg.Health.Threshold,
		Recipient: l.cfg.Recipient,
		DeviceID:  dev.ID(),
		Timestamp: now,
	})
	l.metrics.ObserveNotification(err)
	if err != nil {
		l.logger.Errorf("failed to send low battery alert: %s", err)
		return
	}

	l.logger.Infof("low battery alert sent to %s", l.cfg.Recipient)
	l.status.update(func(s *Snapshot) {
		s.Counts.Alerts++
	})
}

func (l *Loop) connected(dev scale.Device) {
	l.logger.Infof("connected to device %s", dev.ID())
	l.metrics.SetConnected(true)
	l.status.update(func(s *Snapshot) {
		s.Connected = true
		s.DeviceID = dev.ID()
		s.Presence = presence.Absent.String()
		s.OccupiedSince = nil
	})
}

func (l *Loop) setPhase(p Phase) {
	l.phase.Store(int32(p))
	l.status.update(func(s *Snapshot) {
		s.Phase = p.String()
	})
}

func (l *Loop) shutdown(dev scale.Device, cause error) error {
	l.setPhase(ShuttingDown)
	l.logger.Infof("shutting down (%s)", cause)

	var errs []error
	if err := l.sink.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("failed to flush event log: %w", err))
	}

	if dev != nil {
		if err := dev.Disconnect(); err != nil && !errors.Is(err, scale.ErrNotConnected) {
			l.logger.Warnf("failed to disconnect device: %s", err)
		}
	}

	if err := l.indicator.Set(false); err != nil {
		l.logger.Debugf("failed to reset occupancy indicator: %s", err)
	}
	l.metrics.SetConnected(false)
	l.metrics.SetOccupied(false)
	l.status.update(func(s *Snapshot) {
		s.Connected = false
	})

	l.setPhase(Stopped)

	if !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		errs = append(errs, cause)
	}

	return errors.Join(errs...)
}
