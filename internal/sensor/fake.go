package sensor

import "errors"

// FakeSensor is a test double that returns scripted readings.
type FakeSensor struct {
	// Readings contains scripted pressures. Each call to Sample() consumes
	// the next reading.
	Readings []float32

	index int

	// Initialized tracks if Init was called
	Initialized bool

	// Closed tracks if Close was called
	Closed bool

	// InitError, if set, will be returned by Init()
	InitError error

	// SampleError, if set, will be returned by Sample()
	SampleError error

	// Calls counts Sample() invocations, including failed ones.
	Calls int
}

// NewFakeSensor creates a FakeSensor with the given readings.
func NewFakeSensor(readings ...float32) *FakeSensor {
	return &FakeSensor{Readings: readings}
}

// Init records the call.
func (f *FakeSensor) Init() error {
	if f.InitError != nil {
		return f.InitError
	}
	f.Initialized = true
	return nil
}

// Sample returns the next scripted reading.
// If readings are exhausted, returns the last reading repeatedly.
func (f *FakeSensor) Sample() (float32, error) {
	f.Calls++
	if f.SampleError != nil {
		return 0, f.SampleError
	}
	if len(f.Readings) == 0 {
		return 0, errors.New("no readings configured")
	}

	r := f.Readings[f.index]
	if f.index < len(f.Readings)-1 {
		f.index++
	}
	return r, nil
}

// Close marks the sensor as closed.
func (f *FakeSensor) Close() error {
	f.Closed = true
	return nil
}
