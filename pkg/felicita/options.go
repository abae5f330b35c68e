package felicita

import (
	"time"

	"github.com/fako1024/gatt"
	"github.com/fako1024/perchscale/pkg/scale"
)

// WithDeviceID sets the Bluetooth address of the scale (takes precedence over the name)
func WithDeviceID(deviceID string) func(*Felicita) {
	return func(f *Felicita) {
		f.deviceID = deviceID
	}
}

// WithDeviceName sets the advertised Bluetooth name of the scale
func WithDeviceName(deviceName string) func(*Felicita) {
	return func(f *Felicita) {
		f.deviceName = deviceName
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Felicita) {
	return func(f *Felicita) {
		f.btDevice = btDevice
	}
}

// WithStaleAfter sets the age after which the last reading is not returned anymore (0 = never)
func WithStaleAfter(d time.Duration) func(*Felicita) {
	return func(f *Felicita) {
		f.staleAfter = d
	}
}

// WithLogger sets the logger
func WithLogger(logger scale.Logger) func(*Felicita) {
	return func(f *Felicita) {
		f.logger = logger
	}
}
