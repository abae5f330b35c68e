//go:build !linux

package indicator

import "errors"

// LED is not available on non-Linux platforms
type LED struct{}

// NewLED returns an error on non-Linux platforms
func NewLED(string, int) (*LED, error) {
	return nil, errors.New("indicator: gpio not supported on this platform (requires Linux)")
}

// Set is not implemented on non-Linux platforms
func (l *LED) Set(bool) error {
	return errors.New("indicator: not supported")
}

// Close is not implemented on non-Linux platforms
func (l *LED) Close() error {
	return nil
}
