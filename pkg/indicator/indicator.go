// Package indicator drives an optional occupancy indicator (e.g. an LED that is
// lit while an object rests on the sensor).
package indicator

// DefaultChip denotes the GPIO character device used if none is configured
const DefaultChip = "gpiochip0"

// Indicator denotes an on / off output
type Indicator interface {

	// Set switches the indicator on or off
	Set(on bool) error

	// Close releases the underlying resources
	Close() error
}

// Nop is an indicator that does nothing
type Nop struct{}

// Set does nothing
func (Nop) Set(bool) error { return nil }

// Close does nothing
func (Nop) Close() error { return nil }

// Fake records every state it was set to. Not safe for concurrent use.
type Fake struct {
	States []bool
	Closed bool

	// SetErr, if set, is returned by Set()
	SetErr error
}

// Set records the requested state
func (f *Fake) Set(on bool) error {
	f.States = append(f.States, on)
	return f.SetErr
}

// Close marks the indicator as closed
func (f *Fake) Close() error {
	f.Closed = true
	return nil
}

// On returns the last state the indicator was set to
func (f *Fake) On() bool {
	if len(f.States) == 0 {
		return false
	}
	return f.States[len(f.States)-1]
}
