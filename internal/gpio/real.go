//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives valve pins on actual hardware using Linux GPIO character device.
// Lines are requested as outputs on first use and held until Close.
type RealWriter struct {
	chip  *gpiocdev.Chip
	pins  []int
	lines map[int]*gpiocdev.Line
}

// NewRealWriter opens the GPIO chip. pins restricts which offsets may be
// driven; an empty list allows any.
func NewRealWriter(chipName string, pins []int) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	return &RealWriter{
		chip:  chip,
		pins:  pins,
		lines: make(map[int]*gpiocdev.Line),
	}, nil
}

// Set drives pin to level.
func (w *RealWriter) Set(pin int, level uint8) error {
	if !allowed(w.pins, pin) {
		return fmt.Errorf("%w: %d", ErrPinNotAllowed, pin)
	}

	value := 0
	if level != 0 {
		value = 1
	}

	line, ok := w.lines[pin]
	if !ok {
		// Request with the target value so the valve never glitches open.
		l, err := w.chip.RequestLine(pin, gpiocdev.AsOutput(value))
		if err != nil {
			return fmt.Errorf("request valve pin %d: %w", pin, err)
		}
		w.lines[pin] = l
		return nil
	}

	if err := line.SetValue(value); err != nil {
		return fmt.Errorf("set valve pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every valve low and releases GPIO resources.
// Pins are reconfigured to input with pull-down (matching Pi boot defaults)
// so a closed valve stays closed across reboot.
func (w *RealWriter) Close() error {
	var errs []error

	for pin, line := range w.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("close valve pin %d: %w", pin, err))
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("release pin %d: %w", pin, err))
		}
	}
	w.lines = map[int]*gpiocdev.Line{}

	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
