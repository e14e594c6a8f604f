// Package gpio drives valve outputs with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "errors"

// ErrPinNotAllowed is returned when a write targets a pin outside the
// configured valve pins.
var ErrPinNotAllowed = errors.New("gpio: pin not allowed")

// Writer drives digital outputs.
type Writer interface {
	// Set drives pin to level (0 = low, anything else = high).
	Set(pin int, level uint8) error

	// Close releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// allowed reports whether pin is in pins. An empty list allows every pin.
func allowed(pins []int, pin int) bool {
	if len(pins) == 0 {
		return true
	}
	for _, p := range pins {
		if p == pin {
			return true
		}
	}
	return false
}
