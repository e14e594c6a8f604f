package logic

// Trend is the window a StallDetector inspects: the new reading and the two
// samples before it. Last and SecondLast are zero right after a history reset.
type Trend struct {
	Reading    float32
	Last       float32
	SecondLast float32
}

// StallDetector decides whether pressure has failed to rise while the valve
// is open. A nil detector disables stall detection.
type StallDetector interface {
	Stalled(t Trend) bool
}

// NonRisingStall flags a stall when the reading has not risen by more than
// MinRise over either of the two previous samples.
type NonRisingStall struct {
	MinRise float32
}

// Stalled implements StallDetector.
func (n NonRisingStall) Stalled(t Trend) bool {
	return t.Reading <= t.Last+n.MinRise && t.Reading <= t.SecondLast+n.MinRise
}

// Regulator is a bang-bang pressure controller with hysteresis.
// Not safe for concurrent use.
type Regulator struct {
	state    State
	readings Readings
	band     HoldBand
	valve    ValveLevel
	counts   Counts
	stall    StallDetector

	// false until the first enabling HOLD names a valve pin
	configured bool

	// trend history, reset when entering INCREASE_PRESSURE or leaving ERROR
	last       float32
	secondLast float32
}

// NewRegulator creates a regulator in DEPRESSURIZED.
// stall may be nil to disable stall detection.
func NewRegulator(stall StallDetector) *Regulator {
	return &Regulator{
		state: StateDepressurized,
		stall: stall,
	}
}

// Step runs one state machine step for a new sample and returns the valve
// actuation to emit, or nil when the valve should be left as is. No
// actuation is emitted before a HOLD has configured a valve pin.
func (r *Regulator) Step(reading float32) *Actuation {
	r.counts.Samples++
	r.readings = Readings{
		Current:    reading,
		Previous:   r.last,
		BeforeThat: r.secondLast,
	}

	var act *Actuation
	switch r.state {
	case StateMaintainPressure:
		if reading < r.band.Min {
			act = r.actuate(ValveOpen)
			r.state = StateIncreasePressure
			r.resetTrend()
		} else {
			act = r.actuate(ValveClosed)
		}

	case StateIncreasePressure:
		if reading > r.band.Max {
			act = r.actuate(ValveClosed)
			r.state = StateMaintainPressure
		} else if r.stall != nil && r.stall.Stalled(Trend{Reading: reading, Last: r.last, SecondLast: r.secondLast}) {
			act = r.actuate(ValveClosed)
			r.state = StateError
			r.counts.Stalls++
		}

	case StateError:
		// Retry. The throttled cadence in ERROR bounds how fast this can repeat.
		r.resetTrend()
		r.state = StateMaintainPressure
		act = r.actuate(ValveClosed)

	default:
		act = r.actuate(ValveClosed)
	}

	r.secondLast = r.last
	r.last = reading
	return act
}

// Hold stores the band and starts maintaining pressure. When the band moves
// to a different pin while the old valve is open, Hold returns the actuation
// closing the old pin; otherwise it returns nil.
func (r *Regulator) Hold(band HoldBand) *Actuation {
	var act *Actuation
	if r.configured && r.valve == ValveOpen && band.Pin != r.band.Pin {
		act = r.actuate(ValveClosed)
	}
	r.band = band
	r.configured = true
	r.state = StateMaintainPressure
	return act
}

// Release stops regulating and returns the actuation that closes the valve,
// or nil when no pin has been configured. The stored band is kept.
func (r *Regulator) Release() *Actuation {
	r.state = StateDepressurized
	return r.actuate(ValveClosed)
}

// State returns the current state.
func (r *Regulator) State() State {
	return r.state
}

// Readings returns the readings captured by the last Step.
func (r *Regulator) Readings() Readings {
	return r.readings
}

// Snapshot returns a copy of the regulator state.
func (r *Regulator) Snapshot() Snapshot {
	return Snapshot{
		State:      r.state,
		Readings:   r.readings,
		Band:       r.band,
		Valve:      r.valve,
		Counts:     r.counts,
		Configured: r.configured,
	}
}

func (r *Regulator) actuate(level ValveLevel) *Actuation {
	if !r.configured {
		return nil
	}
	if level == ValveOpen {
		r.counts.ValveOpens++
	} else {
		r.counts.ValveCloses++
	}
	r.valve = level
	return &Actuation{Pin: r.band.Pin, Level: level}
}

func (r *Regulator) resetTrend() {
	r.last = 0
	r.secondLast = 0
}
