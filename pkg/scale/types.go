package scale

import "time"

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown = "--"

	// UnitGrams denotes metric units
	UnitGrams = "g"

	// UnitOz denotes imperial units
	UnitOz = "oz"
)

// State denotes a connection state
type State int

const (

	// StateScanning is active while scanning for a bluetooth device
	StateScanning State = iota

	// StateConnected is active while being connected to the scale
	StateConnected

	// StateDisconnected is active after being disconnected from the scale
	StateDisconnected
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// ConnectionStatus denotes the current status of the bluetooth device
type ConnectionStatus struct {
	Error error
	State
}

// DataPoint denotes a weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Unit      Unit
	Weight    float64
}

// Value provides a method to retrieve the current value (for interface use)
func (d DataPoint) Value() float64 {
	return d.Weight
}

// Grams returns the weight of the data point converted to grams
func (d DataPoint) Grams() float64 {
	if d.Unit == UnitOz {
		return d.Weight * gramsPerOunce
	}
	return d.Weight
}

const gramsPerOunce = 28.349523125
