package logic

import (
	"testing"
	"time"
)

func holdingRegulator(t *testing.T, min, max float32, pin uint8) *Regulator {
	t.Helper()
	r := NewRegulator(nil)
	r.Hold(HoldBand{Min: min, Max: max, Pin: pin})
	if r.State() != StateMaintainPressure {
		t.Fatalf("expected MAINTAIN_PRESSURE after Hold, got %s", r.State())
	}
	return r
}

func expectActuation(t *testing.T, act *Actuation, pin uint8, level ValveLevel) {
	t.Helper()
	if act == nil {
		t.Fatalf("expected actuation pin=%d level=%s, got none", pin, level)
	}
	if act.Pin != pin || act.Level != level {
		t.Errorf("actuation: got pin=%d level=%s, want pin=%d level=%s", act.Pin, act.Level, pin, level)
	}
}

func TestNewRegulator(t *testing.T) {
	r := NewRegulator(nil)
	if r.State() != StateDepressurized {
		t.Errorf("expected DEPRESSURIZED, got %s", r.State())
	}
	if r.Readings() != (Readings{}) {
		t.Errorf("expected zero readings, got %+v", r.Readings())
	}
}

func TestNoActuationBeforeHold(t *testing.T) {
	r := NewRegulator(nil)
	for i, p := range []float32{10, 80, 0} {
		if act := r.Step(p); act != nil {
			t.Errorf("sample %d: expected no actuation without a valve pin, got %+v", i, *act)
		}
	}
	if act := r.Release(); act != nil {
		t.Errorf("Release: expected no actuation without a valve pin, got %+v", *act)
	}
	snap := r.Snapshot()
	if snap.Configured {
		t.Error("expected Configured=false before HOLD")
	}
	if snap.Counts.ValveCloses != 0 || snap.Counts.Samples != 3 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
}

func TestDepressurizedClosesValveEverySample(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 6)
	expectActuation(t, r.Release(), 6, ValveClosed)
	for i, p := range []float32{10, 80, 0} {
		act := r.Step(p)
		expectActuation(t, act, 6, ValveClosed)
		if r.State() != StateDepressurized {
			t.Errorf("sample %d: expected DEPRESSURIZED, got %s", i, r.State())
		}
	}
}

func TestHoldOnNewPinClosesOpenValve(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 3)
	expectActuation(t, r.Step(40.0), 3, ValveOpen)

	expectActuation(t, r.Hold(HoldBand{Min: 50.0, Max: 60.0, Pin: 7}), 3, ValveClosed)
	if r.State() != StateMaintainPressure {
		t.Errorf("expected MAINTAIN_PRESSURE, got %s", r.State())
	}
	if r.Snapshot().Valve != ValveClosed {
		t.Errorf("expected valve CLOSED after pin change, got %s", r.Snapshot().Valve)
	}

	// The next sample drives the new pin.
	expectActuation(t, r.Step(40.0), 7, ValveOpen)
}

func TestHoldSamePinOrClosedValveEmitsNothing(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 3)
	if act := r.Hold(HoldBand{Min: 10, Max: 20, Pin: 4}); act != nil {
		t.Errorf("closed valve: expected no actuation, got %+v", *act)
	}
	expectActuation(t, r.Step(5.0), 4, ValveOpen)
	if act := r.Hold(HoldBand{Min: 30, Max: 40, Pin: 4}); act != nil {
		t.Errorf("same pin: expected no actuation, got %+v", *act)
	}
}

func TestHoldScenario(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 3)

	act := r.Step(45.0)
	expectActuation(t, act, 3, ValveOpen)
	if r.State() != StateIncreasePressure {
		t.Fatalf("expected INCREASE_PRESSURE, got %s", r.State())
	}

	act = r.Step(62.0)
	expectActuation(t, act, 3, ValveClosed)
	if r.State() != StateMaintainPressure {
		t.Errorf("expected MAINTAIN_PRESSURE, got %s", r.State())
	}
}

func TestMaintainAboveMinClosesValve(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 4)
	for _, p := range []float32{50.0, 55.0, 70.0} {
		act := r.Step(p)
		expectActuation(t, act, 4, ValveClosed)
		if r.State() != StateMaintainPressure {
			t.Errorf("reading %v: expected MAINTAIN_PRESSURE, got %s", p, r.State())
		}
	}
}

func TestHysteresisHoldsValveOpen(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 3)
	expectActuation(t, r.Step(40.0), 3, ValveOpen)

	for _, p := range []float32{51.0, 55.0, 59.9, 60.0, 45.0} {
		if act := r.Step(p); act != nil {
			t.Errorf("reading %v: expected no actuation, got %+v", p, *act)
		}
		if r.State() != StateIncreasePressure {
			t.Errorf("reading %v: expected INCREASE_PRESSURE, got %s", p, r.State())
		}
	}

	snap := r.Snapshot()
	if snap.Valve != ValveOpen {
		t.Errorf("expected valve OPEN, got %s", snap.Valve)
	}
	if snap.Counts.ValveOpens != 1 {
		t.Errorf("expected 1 open command, got %d", snap.Counts.ValveOpens)
	}
}

func TestReleaseFromEveryState(t *testing.T) {
	setups := map[State]func(r *Regulator){
		StateDepressurized: func(r *Regulator) {
			r.Hold(HoldBand{Min: 50, Max: 60, Pin: 2})
			r.Release()
		},
		StateMaintainPressure: func(r *Regulator) {
			r.Hold(HoldBand{Min: 50, Max: 60, Pin: 2})
		},
		StateIncreasePressure: func(r *Regulator) {
			r.Hold(HoldBand{Min: 50, Max: 60, Pin: 2})
			r.Step(10)
		},
		StateError: func(r *Regulator) {
			r.Hold(HoldBand{Min: 50, Max: 60, Pin: 2})
			r.Step(10)
			r.state = StateError
		},
	}

	for want, setup := range setups {
		t.Run(want.String(), func(t *testing.T) {
			r := NewRegulator(nil)
			setup(r)
			if r.State() != want {
				t.Fatalf("setup: expected %s, got %s", want, r.State())
			}
			expectActuation(t, r.Release(), 2, ValveClosed)
			if r.State() != StateDepressurized {
				t.Errorf("expected DEPRESSURIZED, got %s", r.State())
			}
		})
	}
}

func TestReadingsShift(t *testing.T) {
	r := holdingRegulator(t, 50.0, 65.0, 1)
	r.Step(55.0)
	r.Step(58.0)
	r.Step(60.0)

	want := Readings{Current: 60.0, Previous: 58.0, BeforeThat: 55.0}
	if got := r.Readings(); got != want {
		t.Errorf("readings: got %+v, want %+v", got, want)
	}
	if got := r.Readings().Array(); got != [3]float32{60.0, 58.0, 55.0} {
		t.Errorf("array: got %v", got)
	}
}

func TestEnteringIncreaseResetsTrend(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 1)
	r.Step(55.0)
	r.Step(52.0)
	r.Step(45.0) // opens, trend reset before shift

	// Reported readings keep the pre-reset history.
	if got := r.Readings(); got != (Readings{Current: 45.0, Previous: 52.0, BeforeThat: 55.0}) {
		t.Errorf("readings at transition: got %+v", got)
	}

	r.Step(47.0)
	if got := r.Readings(); got != (Readings{Current: 47.0, Previous: 45.0, BeforeThat: 0}) {
		t.Errorf("readings after reset: got %+v", got)
	}
}

func TestStallDetectionDisabledByDefault(t *testing.T) {
	r := holdingRegulator(t, 50.0, 60.0, 1)
	r.Step(40.0)
	for i := 0; i < 10; i++ {
		r.Step(40.0)
	}
	if r.State() != StateIncreasePressure {
		t.Errorf("expected INCREASE_PRESSURE with no detector, got %s", r.State())
	}
	if r.Snapshot().Counts.Stalls != 0 {
		t.Errorf("expected no stalls, got %d", r.Snapshot().Counts.Stalls)
	}
}

func TestStallEntersErrorAndRecovers(t *testing.T) {
	r := NewRegulator(NonRisingStall{})
	r.Hold(HoldBand{Min: 50.0, Max: 60.0, Pin: 5})

	expectActuation(t, r.Step(40.0), 5, ValveOpen) // trend: last=40 secondLast=0
	if act := r.Step(41.0); act != nil {            // rising
		t.Fatalf("expected no actuation while rising, got %+v", *act)
	}
	// 41 is not above last (41) but is above secondLast (40): not stalled.
	if act := r.Step(41.0); act != nil {
		t.Fatalf("expected no actuation, got %+v", *act)
	}
	// 40.5 <= 41 and 40.5 <= 41: stalled.
	expectActuation(t, r.Step(40.5), 5, ValveClosed)
	if r.State() != StateError {
		t.Fatalf("expected ERROR, got %s", r.State())
	}
	if r.Snapshot().Counts.Stalls != 1 {
		t.Errorf("expected 1 stall, got %d", r.Snapshot().Counts.Stalls)
	}

	// ERROR recovers on the next sample.
	expectActuation(t, r.Step(40.5), 5, ValveClosed)
	if r.State() != StateMaintainPressure {
		t.Fatalf("expected MAINTAIN_PRESSURE, got %s", r.State())
	}

	// And reopens from MAINTAIN when still under pressure.
	expectActuation(t, r.Step(40.5), 5, ValveOpen)
	if r.State() != StateIncreasePressure {
		t.Errorf("expected INCREASE_PRESSURE, got %s", r.State())
	}
}

func TestNonRisingStallMinRise(t *testing.T) {
	d := NonRisingStall{MinRise: 0.5}
	tests := []struct {
		trend Trend
		want  bool
	}{
		{Trend{Reading: 10.0, Last: 9.0, SecondLast: 8.0}, false},
		{Trend{Reading: 10.4, Last: 10.0, SecondLast: 9.95}, true},
		{Trend{Reading: 10.4, Last: 10.0, SecondLast: 9.0}, false},
		{Trend{Reading: 5.0, Last: 0, SecondLast: 0}, false},
	}
	for _, tt := range tests {
		if got := d.Stalled(tt.trend); got != tt.want {
			t.Errorf("%+v: got %v, want %v", tt.trend, got, tt.want)
		}
	}
}

func TestUnknownStateFailsSafe(t *testing.T) {
	r := NewRegulator(nil)
	r.band.Pin = 9
	r.configured = true
	r.state = State(42)
	expectActuation(t, r.Step(10.0), 9, ValveClosed)
	if r.State() != State(42) {
		t.Errorf("unknown state should be left untouched, got %s", r.State())
	}
}

func TestCadenceInterval(t *testing.T) {
	c := DefaultCadence
	if got := c.Interval(StateMaintainPressure); got != 300*time.Millisecond {
		t.Errorf("normal interval: got %v, want 300ms", got)
	}
	if got := c.Interval(StateError); got != 2*time.Second {
		t.Errorf("error interval: got %v, want 2s", got)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateDepressurized:    "DEPRESSURIZED",
		StateIncreasePressure: "INCREASE_PRESSURE",
		StateMaintainPressure: "MAINTAIN_PRESSURE",
		StateError:            "ERROR",
		State(9):              "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d): got %q, want %q", s, got, want)
		}
	}
	if uint8(StateMaintainPressure) != 2 {
		t.Errorf("MAINTAIN_PRESSURE ordinal: got %d, want 2", StateMaintainPressure)
	}
}
