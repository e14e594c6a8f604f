package serialbus

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/sweeney/pressure-regulator/internal/protocol"
)

// Bus is a protocol.Transport over a serial line. A background goroutine
// decodes inbound frames; frames for other addresses are ignored.
type Bus struct {
	port    io.ReadWriteCloser
	address uint8
	log     zerolog.Logger

	mu      sync.Mutex
	inbound []protocol.Message
	max     int
	closed  bool

	done chan struct{}
}

// Open opens a serial port and starts decoding frames addressed to address.
func Open(portName string, baudRate int, address uint8, queueSize int, log zerolog.Logger) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", portName, err)
	}
	return New(port, address, queueSize, log), nil
}

// New starts a Bus on an already open port.
func New(port io.ReadWriteCloser, address uint8, queueSize int, log zerolog.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 1
	}
	b := &Bus{
		port:    port,
		address: address,
		log:     log,
		max:     queueSize,
		done:    make(chan struct{}),
	}
	go b.readLoop()
	return b
}

func (b *Bus) readLoop() {
	defer close(b.done)

	decoder := NewDecoder()
	buf := make([]byte, 128)
	for {
		n, err := b.port.Read(buf)
		for i := 0; i < n; i++ {
			msg, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				b.log.Debug().Err(derr).Msg("dropping frame")
				continue
			}
			if msg != nil && msg.Address == b.address {
				b.enqueue(*msg)
			}
		}
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if !closed && !errors.Is(err, io.EOF) {
				b.log.Error().Err(err).Msg("serial read failed")
			}
			return
		}
	}
}

func (b *Bus) enqueue(msg protocol.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbound) == b.max {
		b.log.Warn().Int("capacity", b.max).Msg("inbound queue full, dropping oldest")
		b.inbound = b.inbound[1:]
	}
	b.inbound = append(b.inbound, msg)
}

// Deliver writes msg as one frame.
func (b *Bus) Deliver(msg protocol.Message) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	if _, err := b.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive returns the oldest inbound message without blocking.
func (b *Bus) Receive() (protocol.Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbound) == 0 {
		return protocol.Message{}, false
	}
	msg := b.inbound[0]
	b.inbound = b.inbound[1:]
	return msg, true
}

// Close closes the port and waits for the reader to exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	err := b.port.Close()
	<-b.done
	return err
}
