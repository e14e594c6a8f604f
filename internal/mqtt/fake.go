package mqtt

import (
	"sync"

	"github.com/sweeney/pressure-regulator/internal/protocol"
)

// FakeBus records delivered messages and serves injected inbound messages.
type FakeBus struct {
	mu sync.Mutex

	// Inbound holds messages Receive will return, oldest first.
	Inbound []protocol.Message

	// Delivered contains all messages passed to Deliver.
	Delivered []protocol.Message

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// DeliverError, if set, will be returned by Deliver.
	DeliverError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakeBus creates a FakeBus for testing.
func NewFakeBus() *FakeBus {
	return &FakeBus{}
}

// Inject queues an inbound message.
func (f *FakeBus) Inject(msg protocol.Message) {
	f.mu.Lock()
	f.Inbound = append(f.Inbound, msg)
	f.mu.Unlock()
}

// Deliver records the message.
func (f *FakeBus) Deliver(msg protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeliverError != nil {
		return f.DeliverError
	}
	f.Delivered = append(f.Delivered, msg)
	return nil
}

// Receive pops the oldest injected message.
func (f *FakeBus) Receive() (protocol.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Inbound) == 0 {
		return protocol.Message{}, false
	}
	msg := f.Inbound[0]
	f.Inbound = f.Inbound[1:]
	return msg, true
}

// PublishSystem records the system event.
func (f *FakeBus) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the bus as closed.
func (f *FakeBus) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports whether the fake bus is "connected".
func (f *FakeBus) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Snapshot returns copies of the recorded deliveries and system events.
func (f *FakeBus) Snapshot() ([]protocol.Message, []SystemEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.Delivered...), append([]SystemEvent(nil), f.SystemEvents...)
}

// Reset clears recorded messages and events.
func (f *FakeBus) Reset() {
	f.mu.Lock()
	f.Inbound = nil
	f.Delivered = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.DeliverError = nil
	f.PublishSystemError = nil
	f.Connected = false
	f.mu.Unlock()
}
