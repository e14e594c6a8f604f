package sensor

import "sync"

// SimConfig describes a simulated gas vessel.
type SimConfig struct {
	// Start is the initial pressure in mbar.
	Start float32
	// Supply is the pressure change per sample while the valve is open.
	Supply float32
	// Leak is the pressure loss per sample while the valve is closed.
	Leak float32
	// Floor is the pressure the vessel leaks down to (ambient).
	Floor float32
}

// DefaultSimConfig starts at ambient with a fast fill and a slow leak.
var DefaultSimConfig = SimConfig{
	Start:  1013.25,
	Supply: 12,
	Leak:   1.5,
	Floor:  1013.25,
}

// Sim is a vessel whose pressure rises while its valve is open and leaks
// otherwise. SetValve is safe to call from another goroutine.
type Sim struct {
	mu       sync.Mutex
	cfg      SimConfig
	pressure float32
	open     bool
}

// NewSim creates a simulated sensor.
func NewSim(cfg SimConfig) *Sim {
	return &Sim{cfg: cfg, pressure: cfg.Start}
}

// Init resets the vessel to its start pressure.
func (s *Sim) Init() error {
	s.mu.Lock()
	s.pressure = s.cfg.Start
	s.mu.Unlock()
	return nil
}

// SetValve opens or closes the simulated supply valve.
func (s *Sim) SetValve(open bool) {
	s.mu.Lock()
	s.open = open
	s.mu.Unlock()
}

// Sample advances the vessel one step and returns its pressure.
func (s *Sim) Sample() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		s.pressure += s.cfg.Supply
	} else {
		s.pressure -= s.cfg.Leak
		if s.pressure < s.cfg.Floor {
			s.pressure = s.cfg.Floor
		}
	}
	return s.pressure, nil
}

// Close is a no-op.
func (s *Sim) Close() error {
	return nil
}
