// Package sensor provides pressure acquisition with hardware abstraction.
// The fake implementation allows testing without hardware; the simulated
// vessel lets the daemon run end to end on a desktop.
package sensor

// Sensor reads absolute pressure in mbar.
type Sensor interface {
	// Init resets the device and prepares it for sampling. It is called
	// once before the first Sample.
	Init() error

	// Sample performs one high-precision conversion and returns the pressure.
	Sample() (float32, error)

	// Close releases sensor resources.
	Close() error
}
