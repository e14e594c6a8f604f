// Package logic contains the pure pressure regulation state machine.
// This package has NO external dependencies (no GPIO, bus, sensor, or time.Sleep).
// Readings are passed in; actuation is returned as values.
package logic

import "time"

// State is the regulator mode. The numeric values are part of the wire
// format (the GET reply carries the state as one byte).
type State uint8

const (
	StateDepressurized    State = 0
	StateIncreasePressure State = 1
	StateMaintainPressure State = 2
	StateError            State = 3
)

func (s State) String() string {
	switch s {
	case StateDepressurized:
		return "DEPRESSURIZED"
	case StateIncreasePressure:
		return "INCREASE_PRESSURE"
	case StateMaintainPressure:
		return "MAINTAIN_PRESSURE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ValveLevel is the desired valve output.
type ValveLevel uint8

const (
	ValveClosed ValveLevel = 0
	ValveOpen   ValveLevel = 1
)

func (v ValveLevel) String() string {
	if v == ValveOpen {
		return "OPEN"
	}
	return "CLOSED"
}

// Actuation is a request to drive the valve pin to a level.
type Actuation struct {
	Pin   uint8
	Level ValveLevel
}

// Readings are the three most recent samples as reported in a GET reply.
type Readings struct {
	Current    float32
	Previous   float32
	BeforeThat float32
}

// Array returns the readings newest first.
func (r Readings) Array() [3]float32 {
	return [3]float32{r.Current, r.Previous, r.BeforeThat}
}

// HoldBand is the configured pressure interval and the valve that feeds it.
// Min <= Max is the caller's responsibility.
type HoldBand struct {
	Min float32
	Max float32
	Pin uint8
}

// Counts tracks regulator activity since startup. ValveOpens and ValveCloses
// count emitted commands, not level changes.
type Counts struct {
	Samples     int
	ValveOpens  int
	ValveCloses int
	Stalls      int
}

// Cadence holds the sampling intervals.
type Cadence struct {
	// Normal is the interval between samples outside ERROR.
	Normal time.Duration
	// Error is the throttled interval used while in ERROR.
	Error time.Duration
}

// DefaultCadence samples every 300ms, throttled to 2s in ERROR.
var DefaultCadence = Cadence{
	Normal: 300 * time.Millisecond,
	Error:  2 * time.Second,
}

// Interval returns the sampling interval for the given state.
func (c Cadence) Interval(s State) time.Duration {
	if s == StateError {
		return c.Error
	}
	return c.Normal
}

// Snapshot is a point-in-time copy of regulator state.
type Snapshot struct {
	State    State
	Readings Readings
	Band     HoldBand
	Valve    ValveLevel
	Counts   Counts

	// Configured is set once a HOLD has named a valve pin.
	Configured bool
}
