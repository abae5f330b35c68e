package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fako1024/perchscale/pkg/clock"
	"github.com/fako1024/perchscale/pkg/eventlog"
	"github.com/fako1024/perchscale/pkg/indicator"
	"github.com/fako1024/perchscale/pkg/metrics"
	"github.com/fako1024/perchscale/pkg/notify"
	"github.com/fako1024/perchscale/pkg/presence"
	"github.com/fako1024/perchscale/pkg/reconnect"
	"github.com/fako1024/perchscale/pkg/scale"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0         = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	testBounds = presence.Bounds{Min: 25, Max: 55}
)

type testEnv struct {
	clk      *clock.Fake
	sink     *eventlog.MemorySink
	notifier *notify.Recorder
	led      *indicator.Fake
	metrics  *metrics.Metrics
	loop     *Loop
	ctx      context.Context
	cancel   context.CancelFunc
}

// newTestEnv sets up a loop handing out the given devices in order (the last
// one is reused). The loop is cancelled as soon as stop returns true
func newTestEnv(t *testing.T, cfg Config, devices []*scale.FakeDevice, stop func() bool) *testEnv {
	t.Helper()

	env := &testEnv{
		clk:      clock.NewFake(t0),
		sink:     &eventlog.MemorySink{},
		notifier: &notify.Recorder{},
		led:      &indicator.Fake{},
		metrics:  metrics.New(),
	}
	env.ctx, env.cancel = context.WithCancel(context.Background())
	t.Cleanup(env.cancel)

	env.clk.OnSleep = func(time.Duration) {
		if stop() {
			env.cancel()
		}
	}

	next := 0
	factory := func() (scale.Device, error) {
		dev := devices[next]
		if next < len(devices)-1 {
			next++
		}
		return dev, nil
	}

	sup := reconnect.New(factory,
		reconnect.WithClock(env.clk),
		reconnect.WithObserver(env.metrics.ObserveConnectAttempt),
	)

	env.loop = New(cfg, sup, env.sink,
		WithClock(env.clk),
		WithNotifier(env.notifier),
		WithIndicator(env.led),
		WithMetrics(env.metrics),
	)

	return env
}

func (e *testEnv) run(t *testing.T) {
	t.Helper()
	require.NoError(t, e.loop.Run(e.ctx))
	assert.Equal(t, Stopped, e.loop.Phase())
	assert.Equal(t, 1, e.sink.Flushes)
}

func masses(records []eventlog.Record) []float64 {
	res := make([]float64, 0, len(records))
	for _, r := range records {
		res = append(res, r.Mass)
	}
	return res
}

func TestEndToEndScenario(t *testing.T) {
	dev := scale.NewFakeDevice(0, 0, 30, 31, 29, 15, 0)
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)

	env.run(t)

	assert.Equal(t, []eventlog.Kind{eventlog.Landed, eventlog.Present, eventlog.Present, eventlog.Left}, env.sink.Kinds())
	assert.Equal(t, []float64{30, 31, 29, 15}, masses(env.sink.Records()))
	for _, rec := range env.sink.Records() {
		assert.Nil(t, rec.Health, "device without battery reading yields empty health column")
	}

	assert.Equal(t, 0, dev.TareCalls)
	assert.Equal(t, 1, dev.DisconnectCalls, "device released on shutdown")
	assert.False(t, dev.IsConnected())

	for _, d := range env.clk.Sleeps() {
		assert.Equal(t, DefaultPollInterval, d)
	}

	assert.Equal(t, []bool{false, false, true, true, true, false, false, false}, env.led.States)

	snap := env.loop.Status().Snapshot()
	assert.Equal(t, "stopped", snap.Phase)
	assert.Equal(t, Counts{Landed: 1, Present: 2, Left: 1}, snap.Counts)
	assert.True(t, snap.BatteryDisabled)

	series, err := testutil.GatherAndCount(env.metrics.Registry(), "perchscale_events_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series, "one series per event kind")
}

func TestAutoZero(t *testing.T) {
	dev := scale.NewFakeDevice(0, 70, 12, 0)
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)

	env.run(t)

	assert.Empty(t, env.sink.Records())
	assert.Equal(t, 2, dev.TareCalls, "both out-of-bounds readings trigger a re-zero")
	assert.Contains(t, env.clk.Sleeps(), DefaultSettleDelay)
	assert.Equal(t, 2, env.loop.Status().Snapshot().Counts.AutoZero)
}

func TestAutoZeroFailureIsNotFatal(t *testing.T) {
	dev := scale.NewFakeDevice(70, 30)
	dev.TareErr = errors.New("write failed")
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)

	env.run(t)

	assert.Equal(t, []eventlog.Kind{eventlog.Landed}, env.sink.Kinds())
	assert.NotContains(t, env.clk.Sleeps(), DefaultSettleDelay, "no settle wait after a failed re-zero")
}

func TestReconnectResetsPresence(t *testing.T) {
	first := scale.NewFakeDevice(30, 30, 30)
	first.DeviceID = "first"
	first.DropAfter = 3
	first.Batteries = []scale.Reading{{Value: 80}}

	second := scale.NewFakeDevice(0, 30)
	second.DeviceID = "second"
	second.Batteries = []scale.Reading{{Value: 75}}

	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{first, second}, second.Exhausted)

	env.run(t)

	assert.Equal(t, []eventlog.Kind{eventlog.Landed, eventlog.Present, eventlog.Present, eventlog.Landed}, env.sink.Kinds(),
		"visit is not continued across a reconnect")

	records := env.sink.Records()
	require.NotNil(t, records[0].Health)
	assert.Equal(t, 80.0, *records[0].Health)
	assert.Nil(t, records[1].Health)
	assert.Nil(t, records[3].Health, "battery sampled on the tick after reconnect, not on the landing tick")

	assert.Equal(t, 1, first.DisconnectCalls, "stale handle released before reconnecting")
	assert.Equal(t, 1, second.ConnectCalls)
	assert.Equal(t, 1, second.BatteryCalls, "battery re-checked immediately after reconnect")
	assert.Equal(t, 1, second.DisconnectCalls)

	assert.Contains(t, env.clk.Sleeps(), DefaultReconnectSettle)

	snap := env.loop.Status().Snapshot()
	assert.Equal(t, "second", snap.DeviceID)
	assert.Equal(t, 1, snap.Counts.Reconnects)
	require.NotNil(t, snap.BatteryLevel)
	assert.Equal(t, 75.0, *snap.BatteryLevel)
}

func TestUnsupportedBatteryPersistsAcrossReconnect(t *testing.T) {
	first := scale.NewFakeDevice(0, 0)
	first.DropAfter = 2

	second := scale.NewFakeDevice(0, 0)
	second.Batteries = []scale.Reading{{Value: 50}}

	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{first, second}, second.Exhausted)

	env.run(t)

	assert.Equal(t, 1, first.BatteryCalls)
	assert.Equal(t, 0, second.BatteryCalls)
	assert.True(t, env.loop.Status().Snapshot().BatteryDisabled)
}

func TestLowBatteryAlert(t *testing.T) {
	dev := scale.NewFakeDevice(0, 0, 0, 0)
	dev.DeviceID = "AA:BB:CC:DD:EE:FF"
	dev.Batteries = []scale.Reading{{Value: 15}, {Value: 14}, {Value: 30}, {Value: 19}}

	cfg := DefaultConfig(testBounds)
	cfg.Recipient = "keeper@example.com"
	cfg.Health.Interval = time.Second

	env := newTestEnv(t, cfg, []*scale.FakeDevice{dev}, dev.Exhausted)

	env.run(t)

	alerts := env.notifier.Alerts()
	require.Len(t, alerts, 2, "alert re-fires only after recovering above the hysteresis band")
	assert.Equal(t, notify.Alert{
		Level:     15,
		Threshold: 20,
		Recipient: "keeper@example.com",
		DeviceID:  "AA:BB:CC:DD:EE:FF",
		Timestamp: t0,
	}, alerts[0])
	assert.Equal(t, 19.0, alerts[1].Level)
	assert.Equal(t, 2, env.loop.Status().Snapshot().Counts.Alerts)
}

func TestFailedAlertStillLatches(t *testing.T) {
	dev := scale.NewFakeDevice(0, 0, 0)
	dev.Batteries = []scale.Reading{{Value: 15}, {Value: 14}, {Value: 13}}

	cfg := DefaultConfig(testBounds)
	cfg.Health.Interval = time.Second

	env := newTestEnv(t, cfg, []*scale.FakeDevice{dev}, dev.Exhausted)
	env.notifier.Err = errors.New("smtp unreachable")

	env.run(t)

	assert.Len(t, env.notifier.Alerts(), 1)
	assert.True(t, env.loop.Status().Snapshot().AlertSent)
	assert.Equal(t, 0, env.loop.Status().Snapshot().Counts.Alerts)
}

func TestAlertWithoutNotifier(t *testing.T) {
	dev := scale.NewFakeDevice(0, 0)
	dev.Batteries = []scale.Reading{{Value: 5}}

	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)
	WithNotifier(nil)(env.loop)

	env.run(t)

	assert.True(t, env.loop.Status().Snapshot().AlertSent)
}

func TestTransientReadErrors(t *testing.T) {
	dev := &scale.FakeDevice{
		Weights: []scale.Reading{
			{Err: errors.New("no notification received")},
			{Value: 30},
		},
		Batteries: []scale.Reading{{Err: scale.ErrNoReading}, {Value: 60}},
	}
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)

	env.run(t)

	records := env.sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, eventlog.Landed, records[0].Kind)
	require.NotNil(t, records[0].Health, "battery retried on the next tick after a missing reading")
	assert.Equal(t, 60.0, *records[0].Health)
	assert.Equal(t, 2, env.loop.Status().Snapshot().Counts.ReadErrors, "one weight and one battery read failed")

	n, err := testutil.GatherAndCount(env.metrics.Registry(), "perchscale_read_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "weight and battery failures are counted separately")
}

func TestSinkErrorsAreNotFatal(t *testing.T) {
	dev := scale.NewFakeDevice(30, 31, 0)
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)
	env.sink.RecordErr = errors.New("disk full")

	env.run(t)

	assert.Equal(t, 3, dev.WeightCalls)
	assert.Equal(t, 3, env.loop.Status().Snapshot().Counts.SinkErrors)
}

func TestRequestTare(t *testing.T) {
	dev := scale.NewFakeDevice(0, 0)
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, dev.Exhausted)

	env.loop.RequestTare()
	env.run(t)

	assert.Equal(t, 1, dev.TareCalls)
	assert.Equal(t, 2, dev.WeightCalls, "tick with a tare request skips the weight reading")
}

func TestCancelWhileConnecting(t *testing.T) {
	dev := scale.NewFakeDevice(0)
	dev.ConnectErr = errors.New("device not found")

	var env *testEnv
	env = newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, func() bool {
		return len(env.clk.Sleeps()) >= 3
	})

	env.run(t)

	assert.Equal(t, 3, dev.ConnectCalls, "no further attempt once cancelled during backoff")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, env.clk.Sleeps())
	assert.Empty(t, env.sink.Records())
}

func TestCancelledBeforeStart(t *testing.T) {
	dev := scale.NewFakeDevice(0)
	env := newTestEnv(t, DefaultConfig(testBounds), []*scale.FakeDevice{dev}, func() bool { return false })
	env.cancel()

	env.run(t)

	assert.Equal(t, 0, dev.ConnectCalls)
}

func TestPhaseLabels(t *testing.T) {
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", Phase(42).String())
}
