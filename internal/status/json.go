package status

import (
	"encoding/json"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// StatusJSON is the top-level envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	State         string       `json:"state"`
	StateCode     uint8        `json:"state_code"`
	Valve         string       `json:"valve"`
	Readings      ReadingsJSON `json:"readings"`
	Hold          HoldJSON     `json:"hold"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Bus           BusStatus    `json:"bus"`
	Counts        CountsJSON   `json:"counts"`
	Config        ConfigJSON   `json:"config"`
}

// ReadingsJSON holds the three most recent samples in mbar.
type ReadingsJSON struct {
	Current    float32 `json:"current"`
	Previous   float32 `json:"previous"`
	BeforeThat float32 `json:"before_that"`
}

// HoldJSON is the configured hold band.
type HoldJSON struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
	Pin uint8   `json:"pin"`
}

// BusStatus reports the bus transport state.
type BusStatus struct {
	Transport string `json:"transport"`
	Connected bool   `json:"connected"`
	Address   uint8  `json:"address"`
	Dropped   int    `json:"dropped"`
}

// CountsJSON is the JSON representation of regulator counters.
type CountsJSON struct {
	Samples     int `json:"samples"`
	ValveOpens  int `json:"valve_opens"`
	ValveCloses int `json:"valve_closes"`
	Stalls      int `json:"stalls"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SampleMs      int64  `json:"sample_ms"`
	ErrorSampleMs int64  `json:"error_sample_ms"`
	HeartbeatMs   int64  `json:"heartbeat_ms"`
	Broker        string `json:"broker,omitempty"`
	SerialPort    string `json:"serial_port,omitempty"`
	HTTPAddr      string `json:"http_addr"`
	StallDetect   bool   `json:"stall_detect"`
	Overflow      string `json:"overflow"`
}

func buildInner(snap Snapshot) StatusInner {
	reg := snap.Regulator
	return StatusInner{
		State:     reg.State.String(),
		StateCode: uint8(reg.State),
		Valve:     reg.Valve.String(),
		Readings: ReadingsJSON{
			Current:    reg.Readings.Current,
			Previous:   reg.Readings.Previous,
			BeforeThat: reg.Readings.BeforeThat,
		},
		Hold:          HoldJSON{Min: reg.Band.Min, Max: reg.Band.Max, Pin: reg.Band.Pin},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Bus: BusStatus{
			Transport: snap.Config.Transport,
			Connected: snap.BusConnected,
			Address:   snap.Config.Address,
			Dropped:   snap.Dropped,
		},
		Counts: CountsJSON{
			Samples:     reg.Counts.Samples,
			ValveOpens:  reg.Counts.ValveOpens,
			ValveCloses: reg.Counts.ValveCloses,
			Stalls:      reg.Counts.Stalls,
		},
		Config: ConfigJSON{
			SampleMs:      snap.Config.SampleMs,
			ErrorSampleMs: snap.Config.ErrorSampleMs,
			HeartbeatMs:   snap.Config.HeartbeatMs,
			Broker:        snap.Config.Broker,
			SerialPort:    snap.Config.SerialPort,
			HTTPAddr:      snap.Config.HTTPAddr,
			StallDetect:   snap.Config.StallDetect,
			Overflow:      snap.Config.Overflow,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatCBOR returns the status as CBOR for constrained peers.
// Field names match the JSON rendering.
func FormatCBOR(snap Snapshot) ([]byte, error) {
	return cbor.Marshal(StatusJSON{Status: buildInner(snap)})
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
