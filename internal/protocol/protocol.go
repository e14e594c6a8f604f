// Package protocol implements the fixed-size binary messages exchanged with the
// pressure regulator over the shared bus.
//
// All float32 fields are little-endian. Every decode validates the payload
// length for the matched tag before reading any field.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Command tags.
const (
	TagGetPressure  = "GETP"
	TagHoldPressure = "HOLDP"
	TagSetIO        = "SET_IO"
)

// Message sizes in bytes.
const (
	GetPressureSize  = len(TagGetPressure)
	HoldPressureSize = len(TagHoldPressure) + 4 + 4 + 1 + 1
	StatusSize       = 4*3 + 1
	SetIOSize        = len(TagSetIO) + 1 + 1
)

// Bus addresses.
const (
	// ReplyAddress receives GET replies.
	ReplyAddress uint8 = 99
	// LocalAddress is the controller's own IO handler; SET_IO is sent here.
	LocalAddress uint8 = 0
)

// Valve levels carried by SET_IO.
const (
	LevelLow  uint8 = 0
	LevelHigh uint8 = 1
)

var (
	// ErrUnrecognized is returned when a payload carries neither the GET nor
	// the HOLD tag. Callers treat it as "not mine" and may route it elsewhere.
	ErrUnrecognized = errors.New("protocol: unrecognized command")

	// ErrMalformed is returned when a known tag arrives with the wrong length.
	ErrMalformed = errors.New("protocol: malformed payload")
)

// Message is a payload addressed to a bus endpoint.
type Message struct {
	Address uint8
	Payload []byte
}

// Transport moves messages between the regulator and the bus.
type Transport interface {
	// Deliver sends msg to its address.
	Deliver(msg Message) error

	// Receive returns the next inbound message without blocking.
	Receive() (Message, bool)

	// Close releases transport resources.
	Close() error
}

// Command is a decoded inbound command.
type Command interface {
	Tag() string
}

// GetPressure requests a status reply.
type GetPressure struct{}

// Tag returns TagGetPressure.
func (GetPressure) Tag() string { return TagGetPressure }

// HoldPressure configures the hold band.
type HoldPressure struct {
	Min    float32
	Max    float32
	Enable uint8
	Pin    uint8
}

// Tag returns TagHoldPressure.
func (HoldPressure) Tag() string { return TagHoldPressure }

// Enabled reports whether the command asks the regulator to hold pressure.
// Only the exact value 0x01 enables holding.
func (h HoldPressure) Enabled() bool { return h.Enable == 1 }

// Status is the GET reply.
type Status struct {
	Readings [3]float32
	State    uint8
}

// DecodeCommand parses an inbound payload addressed to the regulator.
func DecodeCommand(payload []byte) (Command, error) {
	switch {
	case hasTag(payload, TagHoldPressure):
		if len(payload) != HoldPressureSize {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformed, TagHoldPressure, len(payload), HoldPressureSize)
		}
		body := payload[len(TagHoldPressure):]
		return HoldPressure{
			Min:    getFloat(body[0:4]),
			Max:    getFloat(body[4:8]),
			Enable: body[8],
			Pin:    body[9],
		}, nil
	case hasTag(payload, TagGetPressure):
		if len(payload) != GetPressureSize {
			return nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformed, TagGetPressure, len(payload), GetPressureSize)
		}
		return GetPressure{}, nil
	default:
		return nil, ErrUnrecognized
	}
}

// EncodeGetPressure returns a GET request payload.
func EncodeGetPressure() []byte {
	return []byte(TagGetPressure)
}

// EncodeHoldPressure returns a HOLD request payload.
func EncodeHoldPressure(h HoldPressure) []byte {
	buf := make([]byte, HoldPressureSize)
	n := copy(buf, TagHoldPressure)
	putFloat(buf[n:n+4], h.Min)
	putFloat(buf[n+4:n+8], h.Max)
	buf[n+8] = h.Enable
	buf[n+9] = h.Pin
	return buf
}

// EncodeStatus serializes a GET reply.
func EncodeStatus(s Status) []byte {
	buf := make([]byte, StatusSize)
	for i, r := range s.Readings {
		putFloat(buf[i*4:i*4+4], r)
	}
	buf[StatusSize-1] = s.State
	return buf
}

// DecodeStatus parses a GET reply.
func DecodeStatus(payload []byte) (Status, error) {
	if len(payload) != StatusSize {
		return Status{}, fmt.Errorf("%w: status is %d bytes, want %d", ErrMalformed, len(payload), StatusSize)
	}
	var s Status
	for i := range s.Readings {
		s.Readings[i] = getFloat(payload[i*4 : i*4+4])
	}
	s.State = payload[StatusSize-1]
	return s, nil
}

// EncodeSetIO returns a SET_IO payload driving pin to level.
func EncodeSetIO(pin, level uint8) []byte {
	buf := make([]byte, SetIOSize)
	n := copy(buf, TagSetIO)
	buf[n] = pin
	buf[n+1] = level
	return buf
}

// DecodeSetIO parses a SET_IO payload.
func DecodeSetIO(payload []byte) (pin, level uint8, err error) {
	if !hasTag(payload, TagSetIO) {
		return 0, 0, ErrUnrecognized
	}
	if len(payload) != SetIOSize {
		return 0, 0, fmt.Errorf("%w: %s is %d bytes, want %d", ErrMalformed, TagSetIO, len(payload), SetIOSize)
	}
	n := len(TagSetIO)
	return payload[n], payload[n+1], nil
}

func hasTag(payload []byte, tag string) bool {
	return len(payload) >= len(tag) && string(payload[:len(tag)]) == tag
}

func putFloat(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

func getFloat(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
