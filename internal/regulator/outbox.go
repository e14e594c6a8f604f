package regulator

import "github.com/sweeney/pressure-regulator/internal/protocol"

// OverflowPolicy decides what happens when a message is queued while another
// is still pending.
type OverflowPolicy int

const (
	// Overwrite replaces the pending message with the new one. This is the
	// default and keeps the latest valve command.
	Overwrite OverflowPolicy = iota
	// RejectWhenFull keeps the pending message and drops the new one.
	RejectWhenFull
)

func (p OverflowPolicy) String() string {
	if p == RejectWhenFull {
		return "reject"
	}
	return "overwrite"
}

// Outbox holds at most one outbound message awaiting delivery.
type Outbox struct {
	policy  OverflowPolicy
	pending *protocol.Message
	dropped int
}

// NewOutbox creates an empty outbox with the given policy.
func NewOutbox(policy OverflowPolicy) *Outbox {
	return &Outbox{policy: policy}
}

// Put queues msg. It returns false when msg was dropped under
// RejectWhenFull. An overwritten message counts as dropped.
func (o *Outbox) Put(msg protocol.Message) bool {
	if o.pending != nil {
		o.dropped++
		if o.policy == RejectWhenFull {
			return false
		}
	}
	o.pending = &msg
	return true
}

// Take removes and returns the pending message, or nil when empty.
func (o *Outbox) Take() *protocol.Message {
	msg := o.pending
	o.pending = nil
	return msg
}

// Pending reports whether a message is waiting.
func (o *Outbox) Pending() bool {
	return o.pending != nil
}

// Dropped returns the number of messages lost to overflow.
func (o *Outbox) Dropped() int {
	return o.dropped
}
