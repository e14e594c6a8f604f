// Package status provides a thread-safe status tracker for the pressure-regulator daemon.
// It is read by HTTP handlers and by the heartbeat publisher.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pressure-regulator/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	Address       uint8
	Transport     string
	Broker        string
	SerialPort    string
	SampleMs      int64
	ErrorSampleMs int64
	HeartbeatMs   int64
	HTTPAddr      string
	StallDetect   bool
	Overflow      string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Regulator    logic.Snapshot
	Dropped      int
	StartTime    time.Time
	Now          time.Time
	BusConnected bool
	Config       Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update records the regulator state and the outbound drop count.
// Called from runLoop on every tick.
func (t *Tracker) Update(reg logic.Snapshot, dropped int) {
	t.mu.Lock()
	t.snap.Regulator = reg
	t.snap.Dropped = dropped
	t.mu.Unlock()
}

// SetBusConnected sets the bus connection status.
func (t *Tracker) SetBusConnected(connected bool) {
	t.mu.Lock()
	t.snap.BusConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
