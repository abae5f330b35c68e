// Package reconnect implements the connect / reconnect protocol for a single
// device handle, retrying with exponential backoff until it succeeds or the
// context is cancelled.
package reconnect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/perchscale/pkg/clock"
	"github.com/fako1024/perchscale/pkg/scale"
)

// Observer is notified about the outcome of each connection attempt
type Observer func(err error)

// Supervisor produces live device handles
type Supervisor struct {
	factory        scale.Factory
	backoff        *Backoff
	connectTimeout time.Duration

	clock    clock.Clock
	observer Observer
	logger   scale.Logger
}

// New instantiates a new Supervisor, executing functional options, if any
func New(factory scale.Factory, options ...func(*Supervisor)) *Supervisor {
	s := &Supervisor{
		factory: factory,
		backoff: NewBackoff(DefaultBaseDelay, DefaultMaxDelay),
		clock:   clock.System{},
		logger:  &scale.NullLogger{},
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// WithBackoff sets the base and maximum delay between attempts
func WithBackoff(base, max time.Duration) func(*Supervisor) {
	return func(s *Supervisor) {
		s.backoff = NewBackoff(base, max)
	}
}

// WithConnectTimeout bounds each individual connection attempt (0 = unbounded)
func WithConnectTimeout(timeout time.Duration) func(*Supervisor) {
	return func(s *Supervisor) {
		s.connectTimeout = timeout
	}
}

// WithClock sets the clock used for the backoff waits
func WithClock(clk clock.Clock) func(*Supervisor) {
	return func(s *Supervisor) {
		s.clock = clk
	}
}

// WithObserver sets a callback invoked after every connection attempt
func WithObserver(fn Observer) func(*Supervisor) {
	return func(s *Supervisor) {
		s.observer = fn
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Supervisor) {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// Backoff exposes the current backoff state
func (s *Supervisor) Backoff() *Backoff {
	return s.backoff
}

// EnsureConnected returns current unchanged if it is connected. Otherwise the
// stale handle is released and fresh handles are connected until one succeeds.
// If the context is done before that happens, its error is returned and no
// further attempt is made
func (s *Supervisor) EnsureConnected(ctx context.Context, current scale.Device) (scale.Device, error) {
	if current != nil && current.IsConnected() {
		return current, nil
	}

	if current != nil {
		if err := current.Disconnect(); err != nil {
			s.logger.Debugf("ignoring error while releasing stale device handle: %s", err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dev, err := s.attempt(ctx)
		if s.observer != nil {
			s.observer(err)
		}
		if err == nil {
			s.backoff.Reset()
			return dev, nil
		}

		// A connect interrupted by cancellation is not a failure to retry
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		delay := s.backoff.Delay()
		s.logger.Warnf("connection failed: %s, retrying in %v", err, delay)
		if err := clock.Sleep(ctx, s.clock, delay); err != nil {
			return nil, err
		}
		s.backoff.Next()
	}
}

func (s *Supervisor) attempt(ctx context.Context) (scale.Device, error) {
	dev, err := s.factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create device handle: %w", err)
	}

	attemptCtx := ctx
	if s.connectTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.connectTimeout)
		defer cancel()
	}

	if err := dev.Connect(attemptCtx); err != nil {
		if derr := dev.Disconnect(); derr != nil && !errors.Is(derr, scale.ErrNotConnected) {
			s.logger.Debugf("ignoring error while releasing failed device handle: %s", derr)
		}
		return nil, err
	}

	return dev, nil
}
