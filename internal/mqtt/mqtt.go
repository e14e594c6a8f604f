// Package mqtt carries bus messages and system events over MQTT, with an
// abstraction for testing.
//
// Each bus address maps to one topic, <prefix>/<address>. The regulator
// subscribes to its own address topic and publishes outbound messages to the
// destination's topic. Payloads are the raw binary protocol messages.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/pressure-regulator/internal/protocol"
)

// DefaultTopicPrefix is the topic root for bus addresses.
const DefaultTopicPrefix = "nebree8/bus"

// DefaultSystemTopic is the MQTT topic for system lifecycle events.
const DefaultSystemTopic = "nebree8/pressure/system"

// Bus is a protocol.Transport that can also publish system events.
type Bus interface {
	protocol.Transport
	SystemPublisher
}

// SystemPublisher publishes lifecycle events.
type SystemPublisher interface {
	// PublishSystem sends a system lifecycle event to the broker.
	// Returns error if publishing fails (should not crash the process).
	PublishSystem(event SystemEvent) error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload is the MQTT payload for events that carry no status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// AddressTopic returns the topic for a bus address.
func AddressTopic(prefix string, addr uint8) string {
	return prefix + "/" + strconv.Itoa(int(addr))
}

// ParseAddressTopic extracts the bus address from a topic under prefix.
func ParseAddressTopic(prefix, topic string) (uint8, error) {
	rest, ok := strings.CutPrefix(topic, prefix+"/")
	if !ok {
		return 0, fmt.Errorf("topic %q not under %q", topic, prefix)
	}
	n, err := strconv.ParseUint(rest, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("topic %q: bad address: %w", topic, err)
	}
	return uint8(n), nil
}
