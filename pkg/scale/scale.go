package scale

import (
	"context"
	"errors"
)

var (

	// ErrUnsupported denotes a capability the device model does not provide at all
	ErrUnsupported = errors.New("capability not supported by device")

	// ErrNoReading denotes a reading that is temporarily unavailable
	ErrNoReading = errors.New("no reading available")

	// ErrNotConnected denotes an operation on a device that is not connected
	ErrNotConnected = errors.New("device not connected")
)

// Device denotes a weight sensor reachable over an unreliable link
type Device interface {

	// Connect establishes the connection to the device, blocking until it is
	// ready or the context is done
	Connect(ctx context.Context) error

	// Disconnect terminates the connection to the device
	Disconnect() error

	// Tare zeroes the scale
	Tare() error

	// Weight returns the current weight in grams (side-effect free)
	Weight() (float64, error)

	// BatteryLevel returns the current battery level in percent. It returns
	// ErrUnsupported if the device model cannot report it and ErrNoReading if
	// no value is available right now
	BatteryLevel() (float64, error)

	// IsConnected returns if the device is currently connected
	IsConnected() bool

	// ID returns the identity (address) of the device, if known
	ID() string
}

// Factory creates a fresh, unconnected device handle
type Factory func() (Device, error)
