package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sweeney/pressure-regulator/internal/gpio"
	"github.com/sweeney/pressure-regulator/internal/logic"
	"github.com/sweeney/pressure-regulator/internal/mqtt"
	"github.com/sweeney/pressure-regulator/internal/protocol"
	"github.com/sweeney/pressure-regulator/internal/regulator"
	"github.com/sweeney/pressure-regulator/internal/sensor"
	"github.com/sweeney/pressure-regulator/internal/serialbus"
	"github.com/sweeney/pressure-regulator/internal/status"
)

const address uint8 = 5

// rig is a regulator in a closed loop with a simulated vessel: valve writes
// reach the sim, bus traffic goes through a FakeBus.
type rig struct {
	sim     *sensor.Sim
	valves  *gpio.FakeWriter
	bus     *mqtt.FakeBus
	module  *regulator.Module
	now     time.Time
	samples []float32
}

func newRig(t *testing.T, cfg sensor.SimConfig, opts regulator.Options) *rig {
	t.Helper()
	r := &rig{
		sim:    sensor.NewSim(cfg),
		valves: gpio.NewFakeWriter(4),
		bus:    mqtt.NewFakeBus(),
		now:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	r.valves.OnSet = func(pin int, level uint8) {
		r.sim.SetValve(level == protocol.LevelHigh)
	}
	m, err := regulator.New(r.sim, opts)
	if err != nil {
		t.Fatalf("regulator.New: %v", err)
	}
	r.module = m
	return r
}

// step mirrors one pass of the daemon's scheduler loop: pending output is
// routed before each inbound message is accepted, then the module ticks.
func (r *rig) step(t *testing.T) {
	t.Helper()
	r.now = r.now.Add(100 * time.Millisecond)

	for {
		if r.module.Pending() {
			r.tick(t)
		}
		msg, ok := r.bus.Receive()
		if !ok {
			break
		}
		if _, err := r.module.Accept(msg); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	r.tick(t)
}

func (r *rig) tick(t *testing.T) {
	t.Helper()
	before := r.module.Snapshot().Counts.Samples
	out, err := r.module.Tick(r.now)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if snap := r.module.Snapshot(); snap.Counts.Samples != before {
		r.samples = append(r.samples, snap.Readings.Current)
	}
	if out == nil {
		return
	}
	handled, err := gpio.HandleSetIO(r.valves, *out)
	if err != nil {
		t.Fatalf("set io: %v", err)
	}
	if !handled {
		if err := r.bus.Deliver(*out); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
}

func (r *rig) hold(min, max float32, enable uint8) {
	r.bus.Inject(protocol.Message{
		Address: address,
		Payload: protocol.EncodeHoldPressure(protocol.HoldPressure{Min: min, Max: max, Enable: enable, Pin: 4}),
	})
}

// TestIntegrationHoldsBand fills the vessel from ambient and checks that,
// once above the band, pressure never escapes it by more than one sample's
// worth of supply or leak.
func TestIntegrationHoldsBand(t *testing.T) {
	cfg := sensor.DefaultSimConfig
	r := newRig(t, cfg, regulator.DefaultOptions())
	r.hold(1050, 1080, 1)

	for i := 0; i < 600; i++ {
		r.step(t)
	}

	var reachedMax bool
	for i, p := range r.samples {
		if p > 1080 {
			reachedMax = true
		}
		if !reachedMax {
			continue
		}
		if p < 1050-cfg.Leak || p > 1080+cfg.Supply {
			t.Errorf("sample %d: pressure %v escaped band", i, p)
		}
	}
	if !reachedMax {
		t.Fatal("vessel never filled past the band")
	}

	snap := r.module.Snapshot()
	if snap.Counts.ValveOpens < 2 {
		t.Errorf("expected the valve to cycle, got %d opens", snap.Counts.ValveOpens)
	}
	if snap.Counts.Stalls != 0 {
		t.Errorf("expected no stalls, got %d", snap.Counts.Stalls)
	}
}

func TestIntegrationReleaseClosesValve(t *testing.T) {
	r := newRig(t, sensor.DefaultSimConfig, regulator.DefaultOptions())
	r.hold(1050, 1080, 1)
	for i := 0; i < 5; i++ {
		r.step(t)
	}
	if level, _ := r.valves.Level(4); level != protocol.LevelHigh {
		t.Fatalf("expected valve open while filling, got %d", level)
	}

	r.hold(0, 0, 0)
	r.step(t)

	if level, _ := r.valves.Level(4); level != protocol.LevelLow {
		t.Errorf("expected valve closed after release, got %d", level)
	}
	if r.module.Snapshot().State != logic.StateDepressurized {
		t.Errorf("expected DEPRESSURIZED, got %s", r.module.Snapshot().State)
	}

	// Depressurized keeps commanding the valve closed.
	for i := 0; i < 20; i++ {
		r.step(t)
	}
	for _, w := range r.valves.Writes[len(r.valves.Writes)-3:] {
		if w.Level != protocol.LevelLow {
			t.Errorf("expected only close commands after release, got %+v", w)
		}
	}
}

// TestIntegrationStallRecovery runs with a dead supply: the valve opens but
// pressure never rises, so the stall detector trips and the regulator
// retries from MAINTAIN_PRESSURE.
func TestIntegrationStallRecovery(t *testing.T) {
	opts := regulator.DefaultOptions()
	opts.Stall = logic.NonRisingStall{}
	r := newRig(t, sensor.SimConfig{Start: 1000, Supply: 0, Leak: 0, Floor: 0}, opts)
	r.hold(1050, 1080, 1)

	var sawError bool
	var errorEnteredAt, errorLeftAt time.Time
	for i := 0; i < 100; i++ {
		r.step(t)
		st := r.module.Snapshot().State
		if st == logic.StateError && !sawError {
			sawError = true
			errorEnteredAt = r.now
		}
		if sawError && errorLeftAt.IsZero() && st != logic.StateError {
			errorLeftAt = r.now
		}
	}

	if !sawError {
		t.Fatal("expected a stall to enter ERROR")
	}
	if errorLeftAt.IsZero() {
		t.Fatal("expected ERROR to recover")
	}
	if d := errorLeftAt.Sub(errorEnteredAt); d < logic.DefaultCadence.Error {
		t.Errorf("ERROR retry after %v, want at least %v", d, logic.DefaultCadence.Error)
	}
	if r.module.Snapshot().Counts.Stalls < 2 {
		t.Errorf("expected repeated stalls with a dead supply, got %d", r.module.Snapshot().Counts.Stalls)
	}
}

// TestIntegrationGetOverSerialFraming carries a GET request and its reply
// through the serial frame codec.
func TestIntegrationGetOverSerialFraming(t *testing.T) {
	r := newRig(t, sensor.DefaultSimConfig, regulator.DefaultOptions())
	r.hold(1050, 1080, 1)
	for i := 0; i < 12; i++ {
		r.step(t)
	}

	frame, err := serialbus.EncodeFrame(protocol.Message{Address: address, Payload: protocol.EncodeGetPressure()})
	if err != nil {
		t.Fatalf("encode request: %v", err)
	}
	req := decodeFrame(t, frame)
	r.bus.Inject(*req)
	r.step(t)

	delivered, _ := r.bus.Snapshot()
	if len(delivered) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(delivered))
	}
	frame, err = serialbus.EncodeFrame(delivered[0])
	if err != nil {
		t.Fatalf("encode reply: %v", err)
	}
	reply := decodeFrame(t, frame)
	if reply.Address != protocol.ReplyAddress {
		t.Errorf("reply address: got %d, want %d", reply.Address, protocol.ReplyAddress)
	}

	st, err := protocol.DecodeStatus(reply.Payload)
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	snap := r.module.Snapshot()
	if st.Readings != snap.Readings.Array() {
		t.Errorf("readings: got %v, want %v", st.Readings, snap.Readings.Array())
	}
	if st.State != uint8(snap.State) {
		t.Errorf("state: got %d, want %d", st.State, snap.State)
	}
}

func decodeFrame(t *testing.T, frame []byte) *protocol.Message {
	t.Helper()
	d := serialbus.NewDecoder()
	for _, b := range frame {
		msg, err := d.DecodeByte(b)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if msg != nil {
			return msg
		}
	}
	t.Fatal("frame did not decode")
	return nil
}

func TestIntegrationStatusEventPayload(t *testing.T) {
	r := newRig(t, sensor.DefaultSimConfig, regulator.DefaultOptions())
	r.hold(1050, 1080, 1)
	for i := 0; i < 8; i++ {
		r.step(t)
	}

	tracker := status.NewTracker(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), status.Config{
		Address:   address,
		Transport: "mqtt",
		SampleMs:  300,
	})
	tracker.Update(r.module.Snapshot(), r.module.Dropped())
	tracker.SetBusConnected(true)

	event := mqtt.SystemEvent{
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", ""),
	}
	if err := r.bus.PublishSystem(event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var sj status.StatusJSON
	if err := json.Unmarshal(r.bus.SystemPayloads[0], &sj); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if sj.Status.Event != "HEARTBEAT" {
		t.Errorf("event: got %q", sj.Status.Event)
	}
	if sj.Status.State != "INCREASE_PRESSURE" {
		t.Errorf("state: got %q, want INCREASE_PRESSURE", sj.Status.State)
	}
	if sj.Status.Valve != "OPEN" {
		t.Errorf("valve: got %q, want OPEN", sj.Status.Valve)
	}
	if sj.Status.Hold.Min != 1050 || sj.Status.Hold.Pin != 4 {
		t.Errorf("hold: got %+v", sj.Status.Hold)
	}
	if !sj.Status.Bus.Connected || sj.Status.Bus.Address != address {
		t.Errorf("bus: got %+v", sj.Status.Bus)
	}
}

// TestIntegrationGetWhileFillingKeepsValveOpen polls status every cycle while
// the vessel fills. Replies must not displace the valve commands.
func TestIntegrationGetWhileFillingKeepsValveOpen(t *testing.T) {
	r := newRig(t, sensor.DefaultSimConfig, regulator.DefaultOptions())
	r.hold(1050, 1080, 1)

	for i := 0; i < 200; i++ {
		r.bus.Inject(protocol.Message{Address: address, Payload: protocol.EncodeGetPressure()})
		r.step(t)
	}
	for r.module.Pending() {
		r.tick(t)
	}

	if r.module.Dropped() != 0 {
		t.Errorf("expected no dropped messages, got %d", r.module.Dropped())
	}
	var reachedMax bool
	for _, p := range r.samples {
		if p > 1080 {
			reachedMax = true
		}
	}
	if !reachedMax {
		t.Error("vessel never filled: valve command lost behind a GET reply")
	}
	snap := r.module.Snapshot()
	level, _ := r.valves.Level(4)
	if (snap.Valve == logic.ValveOpen) != (level == protocol.LevelHigh) {
		t.Errorf("regulator reports valve %s but pin 4 is at level %d", snap.Valve, level)
	}
}
