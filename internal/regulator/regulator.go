// Package regulator wires the pressure state machine to its sensor and the
// bus message contract. A Module is driven by a single-threaded scheduler:
// Tick once per cycle, Accept for each inbound message between ticks.
package regulator

import (
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/pressure-regulator/internal/logic"
	"github.com/sweeney/pressure-regulator/internal/protocol"
	"github.com/sweeney/pressure-regulator/internal/sensor"
)

// Options configures a Module.
type Options struct {
	Cadence  logic.Cadence
	Stall    logic.StallDetector
	Overflow OverflowPolicy
}

// DefaultOptions uses DefaultCadence, no stall detection and the
// overwrite policy.
func DefaultOptions() Options {
	return Options{
		Cadence:  logic.DefaultCadence,
		Overflow: Overwrite,
	}
}

// Module is one regulator bound to one sensor and one valve.
// Not safe for concurrent use.
type Module struct {
	reg     *logic.Regulator
	sensor  sensor.Sensor
	outbox  *Outbox
	cadence logic.Cadence

	// zero when no sample is scheduled
	dueAt time.Time
}

// New validates opts, initializes the sensor and returns a Module in
// DEPRESSURIZED. The sensor is not touched when opts are invalid.
func New(s sensor.Sensor, opts Options) (*Module, error) {
	if opts.Cadence.Normal <= 0 || opts.Cadence.Error <= 0 {
		return nil, fmt.Errorf("invalid cadence %v/%v", opts.Cadence.Normal, opts.Cadence.Error)
	}
	if err := s.Init(); err != nil {
		return nil, fmt.Errorf("init sensor: %w", err)
	}
	return &Module{
		reg:     logic.NewRegulator(opts.Stall),
		sensor:  s,
		outbox:  NewOutbox(opts.Overflow),
		cadence: opts.Cadence,
	}, nil
}

// Tick runs one scheduler cycle. A pending outbound message is always
// returned before any sampling is attempted. Otherwise the sample timer is
// armed (its interval picked from the current state) or, once due, the
// sensor is sampled and the state machine stepped; any resulting valve
// command is queued for the next Tick.
//
// A sensor error skips the step and is returned; the timer re-arms on the
// next Tick.
func (m *Module) Tick(now time.Time) (*protocol.Message, error) {
	if msg := m.outbox.Take(); msg != nil {
		return msg, nil
	}

	if m.dueAt.IsZero() {
		m.dueAt = now.Add(m.cadence.Interval(m.reg.State()))
	}
	if now.Before(m.dueAt) {
		return nil, nil
	}
	m.dueAt = time.Time{}

	reading, err := m.sensor.Sample()
	if err != nil {
		return nil, fmt.Errorf("sample pressure: %w", err)
	}

	if act := m.reg.Step(reading); act != nil {
		m.outbox.Put(actuationMessage(*act))
	}
	return nil, nil
}

// Accept handles an inbound message addressed to this module. It reports
// false for messages it does not recognize. A recognized tag with a bad
// length is rejected with an error wrapping protocol.ErrMalformed and no
// state change.
func (m *Module) Accept(msg protocol.Message) (bool, error) {
	cmd, err := protocol.DecodeCommand(msg.Payload)
	if errors.Is(err, protocol.ErrUnrecognized) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	switch c := cmd.(type) {
	case protocol.GetPressure:
		m.outbox.Put(protocol.Message{
			Address: protocol.ReplyAddress,
			Payload: protocol.EncodeStatus(m.status()),
		})
	case protocol.HoldPressure:
		var act *logic.Actuation
		if c.Enabled() {
			act = m.reg.Hold(logic.HoldBand{Min: c.Min, Max: c.Max, Pin: c.Pin})
		} else {
			act = m.reg.Release()
		}
		if act != nil {
			m.outbox.Put(actuationMessage(*act))
		}
	}
	return true, nil
}

// Pending reports whether an outbound message is waiting for the next Tick.
// Schedulers deliver it before calling Accept again.
func (m *Module) Pending() bool {
	return m.outbox.Pending()
}

// Snapshot returns the regulator state.
func (m *Module) Snapshot() logic.Snapshot {
	return m.reg.Snapshot()
}

// Dropped returns the number of outbound messages lost to overflow.
func (m *Module) Dropped() int {
	return m.outbox.Dropped()
}

// Close releases the sensor.
func (m *Module) Close() error {
	return m.sensor.Close()
}

func (m *Module) status() protocol.Status {
	return protocol.Status{
		Readings: m.reg.Readings().Array(),
		State:    uint8(m.reg.State()),
	}
}

func actuationMessage(a logic.Actuation) protocol.Message {
	return protocol.Message{
		Address: protocol.LocalAddress,
		Payload: protocol.EncodeSetIO(a.Pin, uint8(a.Level)),
	}
}
