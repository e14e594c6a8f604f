// Package serialbus carries bus messages over a serial line.
//
// Frame layout, before byte stuffing:
//
//	START | address | length | payload[length] | crc16 (big-endian) | END
//
// The CRC is CRC-16-CCITT over address, length and payload. START, END and
// ESC bytes inside the frame are escaped as ESC, b^EscXor.
package serialbus

import (
	"errors"
	"fmt"

	"github.com/sweeney/pressure-regulator/internal/protocol"
)

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// MaxPayloadSize bounds a frame's payload.
const MaxPayloadSize = 64

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

var (
	// ErrCRC is returned for frames whose checksum does not match.
	ErrCRC = errors.New("serialbus: crc mismatch")
	// ErrFrame is returned for truncated or oversized frames.
	ErrFrame = errors.New("serialbus: bad frame")
)

// CalculateCRC computes CRC-16-CCITT checksum for the given data
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// EncodeFrame returns msg framed for the wire.
func EncodeFrame(msg protocol.Message) ([]byte, error) {
	if len(msg.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: payload %d bytes (max %d)", ErrFrame, len(msg.Payload), MaxPayloadSize)
	}

	data := make([]byte, 0, 2+len(msg.Payload)+2)
	data = append(data, msg.Address, uint8(len(msg.Payload)))
	data = append(data, msg.Payload...)
	crc := CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	frame := make([]byte, 0, len(data)*2+2)
	frame = append(frame, StartByte)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			frame = append(frame, EscByte, b^EscXor)
		} else {
			frame = append(frame, b)
		}
	}
	return append(frame, EndByte), nil
}

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	inFrame    bool
	escapeNext bool
	buf        []byte
}

// NewDecoder creates a frame decoder.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, MaxPayloadSize+4)}
}

// Reset discards any partial frame.
func (d *Decoder) Reset() {
	d.inFrame = false
	d.escapeNext = false
	d.buf = d.buf[:0]
}

// DecodeByte feeds one byte. It returns a message when b completes a valid
// frame, and an error when b completes an invalid one. Bytes outside a
// frame are ignored.
func (d *Decoder) DecodeByte(b byte) (*protocol.Message, error) {
	switch {
	case b == StartByte:
		d.Reset()
		d.inFrame = true
		return nil, nil
	case !d.inFrame:
		return nil, nil
	case b == EndByte:
		defer d.Reset()
		if d.escapeNext {
			return nil, fmt.Errorf("%w: incomplete escape sequence", ErrFrame)
		}
		return d.finish()
	case b == EscByte && !d.escapeNext:
		d.escapeNext = true
		return nil, nil
	}

	if d.escapeNext {
		b ^= EscXor
		d.escapeNext = false
	}
	if len(d.buf) >= MaxPayloadSize+4 {
		d.Reset()
		return nil, fmt.Errorf("%w: frame exceeds max size", ErrFrame)
	}
	d.buf = append(d.buf, b)
	return nil, nil
}

func (d *Decoder) finish() (*protocol.Message, error) {
	if len(d.buf) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrame, len(d.buf))
	}
	length := int(d.buf[1])
	if len(d.buf) != 2+length+2 {
		return nil, fmt.Errorf("%w: length field %d, got %d payload bytes", ErrFrame, length, len(d.buf)-4)
	}

	body := d.buf[:2+length]
	got := uint16(d.buf[2+length])<<8 | uint16(d.buf[3+length])
	if want := CalculateCRC(body); got != want {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", ErrCRC, want, got)
	}

	return &protocol.Message{
		Address: d.buf[0],
		Payload: append([]byte(nil), d.buf[2:2+length]...),
	}, nil
}
