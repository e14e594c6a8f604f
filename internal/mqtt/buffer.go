package mqtt

import "github.com/rs/zerolog"

// bufferedMsg is a bus message held while it waits for the broker or for
// the scheduler to pick it up.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that drops the oldest message when full.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	name     string
	log      zerolog.Logger
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
	dropped  int
}

func newRingBuffer(name string, capacity int, log zerolog.Logger) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &ringBuffer{
		name:     name,
		log:      log,
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == r.capacity {
		if !r.overflow {
			r.log.Warn().Str("buffer", r.name).Int("capacity", r.capacity).Msg("buffer full, dropping oldest")
			r.overflow = true
		}
		r.dropped++
		// Overwrite oldest: head is already pointing at it
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

// pop removes and returns the oldest message.
func (r *ringBuffer) pop() (bufferedMsg, bool) {
	if r.count == 0 {
		return bufferedMsg{}, false
	}
	start := (r.head - r.count + r.capacity) % r.capacity
	msg := r.buf[start]
	r.buf[start] = bufferedMsg{}
	r.count--
	if r.count == 0 {
		r.overflow = false
	}
	return msg, true
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}
