// Package simulator provides a synthetic scale that produces visits, foreign
// objects and battery drain according to a scenario, without any hardware.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fako1024/perchscale/pkg/clock"
	"github.com/fako1024/perchscale/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	defaultDeviceID = "SIMULATOR"

	minVisitorWeight = 25.
	maxVisitorWeight = 55.

	noiseAmplitude = 0.5

	// Battery drain in percent per minute
	batteryDrainRate = 0.1
)

var errLinkDown = errors.New("simulated link failure")

// Scenario denotes a simulation profile
type Scenario string

const (

	// Random denotes occasional visits with some foreign objects
	Random Scenario = "random"

	// QuickVisits denotes many short visits
	QuickVisits Scenario = "quick_visits"

	// LongVisit denotes long sitting sessions
	LongVisit Scenario = "long_visit"

	// FrequentTare denotes many foreign objects requiring a re-zero
	FrequentTare Scenario = "frequent_tare"

	// FlakyLink denotes the random profile with periodic link losses
	FlakyLink Scenario = "flaky_link"
)

// Scenarios lists all supported scenarios
var Scenarios = []Scenario{Random, QuickVisits, LongVisit, FrequentTare, FlakyLink}

// ParseScenario returns the scenario with the given name
func ParseScenario(name string) (Scenario, error) {
	for _, s := range Scenarios {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown scenario `%s` (supported: %v)", name, Scenarios)
}

type durationRange struct {
	min, max time.Duration
}

type profile struct {
	visit       durationRange
	empty       durationRange
	junk        durationRange
	junkChance  float64
	dropEvery   int
	failConnect int
}

var profiles = map[Scenario]profile{
	Random: {
		visit:      durationRange{5 * time.Second, 20 * time.Second},
		empty:      durationRange{10 * time.Second, 30 * time.Second},
		junk:       durationRange{2 * time.Second, 6 * time.Second},
		junkChance: 0.2,
	},
	QuickVisits: {
		visit:      durationRange{2 * time.Second, 8 * time.Second},
		empty:      durationRange{3 * time.Second, 10 * time.Second},
		junk:       durationRange{2 * time.Second, 6 * time.Second},
		junkChance: 0.1,
	},
	LongVisit: {
		visit:      durationRange{30 * time.Second, 60 * time.Second},
		empty:      durationRange{15 * time.Second, 30 * time.Second},
		junk:       durationRange{2 * time.Second, 6 * time.Second},
		junkChance: 0.05,
	},
	FrequentTare: {
		visit:      durationRange{3 * time.Second, 10 * time.Second},
		empty:      durationRange{2 * time.Second, 5 * time.Second},
		junk:       durationRange{2 * time.Second, 6 * time.Second},
		junkChance: 0.5,
	},
	FlakyLink: {
		visit:       durationRange{5 * time.Second, 20 * time.Second},
		empty:       durationRange{10 * time.Second, 30 * time.Second},
		junk:        durationRange{2 * time.Second, 6 * time.Second},
		junkChance:  0.2,
		dropEvery:   40,
		failConnect: 2,
	},
}

type load int

const (
	loadEmpty load = iota
	loadVisitor
	loadJunk
)

type timer interface {
	ElapsedTime() time.Duration
}

func startStopwatch() timer {
	return stopwatch.Start(0)
}

type clockTimer struct {
	clk   clock.Clock
	start time.Time
}

func (c clockTimer) ElapsedTime() time.Duration {
	return c.clk.Now().Sub(c.start)
}

// Simulator denotes a synthetic scale
type Simulator struct {
	mu sync.Mutex

	scenario Scenario
	profile  profile
	rng      *rand.Rand

	connected    bool
	readings     int
	failConnects int

	load       load
	weight     float64
	tareOffset float64
	stay       time.Duration

	stateTimer   timer
	batteryTimer timer
	newTimer     func() timer

	deviceID string
	logger   scale.Logger
}

// New instantiates a new Simulator for the given scenario, executing
// functional options, if any
func New(scenario Scenario, options ...func(*Simulator)) (*Simulator, error) {
	p, ok := profiles[scenario]
	if !ok {
		return nil, fmt.Errorf("unknown scenario `%s`", scenario)
	}

	s := &Simulator{
		scenario: scenario,
		profile:  p,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		newTimer: startStopwatch,
		deviceID: defaultDeviceID,
		logger:   &scale.NullLogger{},
	}

	for _, option := range options {
		option(s)
	}

	s.batteryTimer = s.newTimer()
	s.toEmpty()

	return s, nil
}

// WithSeed makes the simulation reproducible
func WithSeed(seed int64) func(*Simulator) {
	return func(s *Simulator) {
		s.rng = rand.New(rand.NewSource(seed))
	}
}

// WithDeviceID sets the identity reported by the simulator
func WithDeviceID(id string) func(*Simulator) {
	return func(s *Simulator) {
		s.deviceID = id
	}
}

// WithClock makes visits and battery drain follow clk instead of wall time
func WithClock(clk clock.Clock) func(*Simulator) {
	return func(s *Simulator) {
		s.newTimer = func() timer {
			return clockTimer{clk: clk, start: clk.Now()}
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Simulator) {
	return func(s *Simulator) {
		s.logger = logger
	}
}

// Scenario returns the simulated scenario
func (s *Simulator) Scenario() Scenario {
	return s.scenario
}

// Connect simulates connecting to the scale
func (s *Simulator) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failConnects > 0 {
		s.failConnects--
		return errLinkDown
	}

	s.connected = true
	s.readings = 0
	s.logger.Infof("[simulator] connected to mock scale (scenario: %s)", s.scenario)

	return nil
}

// Disconnect simulates disconnecting from the scale
func (s *Simulator) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return scale.ErrNotConnected
	}
	s.connected = false
	s.logger.Info("[simulator] disconnected from mock scale")

	return nil
}

// IsConnected returns if the simulated link is up
func (s *Simulator) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ID returns the identity of the simulator
func (s *Simulator) ID() string {
	return s.deviceID
}

// Tare zeroes the scale at the current load
func (s *Simulator) Tare() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return scale.ErrNotConnected
	}
	s.tareOffset = s.weight
	s.logger.Debugf("[simulator] tared scale (offset: %.1fg)", s.tareOffset)

	return nil
}

// Weight returns the current load minus the tare offset. A non-zero load is
// subject to noise, an empty pan reads exactly zero
func (s *Simulator) Weight() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return 0, scale.ErrNotConnected
	}

	s.update()

	s.readings++
	if s.profile.dropEvery > 0 && s.readings >= s.profile.dropEvery {
		s.logger.Info("[simulator] dropping link")
		s.connected = false
		s.failConnects = s.profile.failConnect
	}

	raw := s.weight - s.tareOffset
	if raw == 0 {
		return 0, nil
	}
	raw += s.uniform(-noiseAmplitude, noiseAmplitude)

	// The scale resolves 0.1g
	return math.Round(raw*10) / 10, nil
}

// BatteryLevel returns the simulated battery level, draining 0.1% per minute
func (s *Simulator) BatteryLevel() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.batteryTimer.ElapsedTime().Minutes()
	return math.Max(0, 100-elapsed*batteryDrainRate), nil
}

////////////////////////////////////////////////////////////////////////////////

func (s *Simulator) update() {
	if s.stateTimer.ElapsedTime() <= s.stay {
		return
	}

	switch s.load {
	case loadEmpty:
		if s.rng.Float64() < s.profile.junkChance {
			s.toJunk()
		} else {
			s.toVisitor()
		}
	default:
		s.toEmpty()
	}
}

func (s *Simulator) toVisitor() {
	s.load = loadVisitor
	s.weight = s.uniform(minVisitorWeight, maxVisitorWeight)
	s.restart(s.profile.visit)
	s.logger.Debugf("[simulator] visitor landed (%.1fg)", s.weight)
}

func (s *Simulator) toEmpty() {
	s.load = loadEmpty
	s.weight = 0
	s.restart(s.profile.empty)
	s.logger.Debug("[simulator] scale empty")
}

func (s *Simulator) toJunk() {
	s.load = loadJunk

	// Light debris, heavy objects or drift below zero
	switch r := s.rng.Float64(); {
	case r < 0.33:
		s.weight = s.uniform(0.5, 15)
	case r < 0.66:
		s.weight = s.uniform(70, 200)
	default:
		s.weight = s.uniform(-20, -2)
	}
	s.restart(s.profile.junk)
	s.logger.Debugf("[simulator] foreign object on scale (%.1fg)", s.weight)
}

func (s *Simulator) restart(r durationRange) {
	s.stateTimer = s.newTimer()
	s.stay = r.min + time.Duration(s.rng.Int63n(int64(r.max-r.min)+1))
}

func (s *Simulator) uniform(min, max float64) float64 {
	return min + s.rng.Float64()*(max-min)
}
