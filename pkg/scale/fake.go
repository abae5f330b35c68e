package scale

import (
	"context"
	"errors"
)

// Reading denotes a single scripted reading of a FakeDevice
type Reading struct {
	Value float64
	Err   error
}

// FakeDevice is a test double that returns scripted weight and battery readings.
// Not safe for concurrent use.
type FakeDevice struct {

	// DeviceID is returned by ID()
	DeviceID string

	// Weights contains the scripted weight readings, each call to Weight()
	// consumes the next one. Once exhausted, the last reading is repeated
	Weights []Reading

	// Batteries contains the scripted battery readings (same semantics as Weights).
	// If empty, BatteryLevel() returns ErrUnsupported
	Batteries []Reading

	// ConnectErr, if set, is returned by Connect()
	ConnectErr error

	// DisconnectErr, if set, is returned by Disconnect()
	DisconnectErr error

	// TareErr, if set, is returned by Tare()
	TareErr error

	// DropAfter, if > 0, marks the device as disconnected after that many
	// weight readings
	DropAfter int

	// Connected controls the return value of IsConnected
	Connected bool

	// Counters for assertions
	ConnectCalls    int
	DisconnectCalls int
	TareCalls       int
	WeightCalls     int
	BatteryCalls    int

	weightIdx  int
	batteryIdx int
}

// NewFakeDevice creates a FakeDevice returning the given weights
func NewFakeDevice(weights ...float64) *FakeDevice {
	f := &FakeDevice{}
	for _, w := range weights {
		f.Weights = append(f.Weights, Reading{Value: w})
	}
	return f
}

// Connect marks the device as connected (unless ConnectErr is set)
func (f *FakeDevice) Connect(ctx context.Context) error {
	f.ConnectCalls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.Connected = true
	return nil
}

// Disconnect marks the device as disconnected
func (f *FakeDevice) Disconnect() error {
	f.DisconnectCalls++
	f.Connected = false
	return f.DisconnectErr
}

// Tare counts the tare request
func (f *FakeDevice) Tare() error {
	f.TareCalls++
	return f.TareErr
}

// Weight returns the next scripted weight reading
func (f *FakeDevice) Weight() (float64, error) {
	f.WeightCalls++
	if f.DropAfter > 0 && f.WeightCalls >= f.DropAfter {
		f.Connected = false
	}
	if len(f.Weights) == 0 {
		return 0, errors.New("no weights configured")
	}
	r := f.Weights[f.weightIdx]
	if f.weightIdx < len(f.Weights)-1 {
		f.weightIdx++
	}
	return r.Value, r.Err
}

// BatteryLevel returns the next scripted battery reading
func (f *FakeDevice) BatteryLevel() (float64, error) {
	f.BatteryCalls++
	if len(f.Batteries) == 0 {
		return 0, ErrUnsupported
	}
	r := f.Batteries[f.batteryIdx]
	if f.batteryIdx < len(f.Batteries)-1 {
		f.batteryIdx++
	}
	return r.Value, r.Err
}

// IsConnected reports whether the fake device is "connected"
func (f *FakeDevice) IsConnected() bool {
	return f.Connected
}

// ID returns the configured device ID
func (f *FakeDevice) ID() string {
	return f.DeviceID
}

// Exhausted returns if all scripted weight readings have been consumed
func (f *FakeDevice) Exhausted() bool {
	return f.WeightCalls >= len(f.Weights)
}
