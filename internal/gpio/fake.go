package gpio

import (
	"fmt"
	"sync"
)

// Write records a single Set call.
type Write struct {
	Pin   int
	Level uint8
}

// FakeWriter is a test double that records writes.
type FakeWriter struct {
	mu sync.Mutex

	// Writes contains every successful Set call in order.
	Writes []Write

	// Pins restricts writable pins like RealWriter; empty allows any.
	Pins []int

	// SetError, if set, will be returned by Set()
	SetError error

	// Closed tracks if Close was called
	Closed bool

	// OnSet, if set, is called after every successful write.
	OnSet func(pin int, level uint8)

	levels map[int]uint8
}

// NewFakeWriter creates a FakeWriter that allows the given pins.
func NewFakeWriter(pins ...int) *FakeWriter {
	return &FakeWriter{Pins: pins, levels: make(map[int]uint8)}
}

// Set records the write.
func (f *FakeWriter) Set(pin int, level uint8) error {
	f.mu.Lock()
	if f.SetError != nil {
		f.mu.Unlock()
		return f.SetError
	}
	if !allowed(f.Pins, pin) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrPinNotAllowed, pin)
	}
	if f.levels == nil {
		f.levels = make(map[int]uint8)
	}
	f.Writes = append(f.Writes, Write{Pin: pin, Level: level})
	f.levels[pin] = level
	onSet := f.OnSet
	f.mu.Unlock()

	if onSet != nil {
		onSet(pin, level)
	}
	return nil
}

// Level returns the last level written to pin and whether it was ever written.
func (f *FakeWriter) Level(pin int) (uint8, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.levels[pin]
	return l, ok
}

// Close marks the writer as closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
