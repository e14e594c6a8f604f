package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/pressure-regulator/internal/protocol"
)

// Options configures a RealBus.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	SystemTopic string
	// Address is the regulator's own bus address.
	Address uint8
	// QueueSize bounds both the inbound queue and the offline outbound buffer.
	QueueSize int
}

// RealBus exchanges bus messages with an actual MQTT broker.
type RealBus struct {
	client paho.Client
	opts   Options
	log    zerolog.Logger

	mu       sync.Mutex
	inbound  *ringBuffer
	outbound *ringBuffer // held while disconnected, replayed on connect
}

// NewRealBus connects to the broker and subscribes to the regulator's address.
func NewRealBus(o Options, log zerolog.Logger) (*RealBus, error) {
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.SystemTopic == "" {
		o.SystemTopic = DefaultSystemTopic
	}

	b := &RealBus{
		opts:     o,
		log:      log,
		inbound:  newRingBuffer("inbound", o.QueueSize, log),
		outbound: newRingBuffer("outbound", o.QueueSize, log),
	}

	will, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "LWT"})
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(o.SystemTopic, string(will), 1, true).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Msg("mqtt connection lost")
		})

	b.client = paho.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return b, nil
}

// onConnect (re)subscribes and flushes messages buffered while offline.
func (b *RealBus) onConnect(c paho.Client) {
	topic := AddressTopic(b.opts.TopicPrefix, b.opts.Address)
	token := c.Subscribe(topic, 1, b.onMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		b.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
	}

	b.mu.Lock()
	pending := b.outbound.drainAll()
	b.mu.Unlock()

	for _, m := range pending {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
	b.log.Info().Str("topic", topic).Int("replayed", len(pending)).Msg("mqtt connected")
}

func (b *RealBus) onMessage(_ paho.Client, m paho.Message) {
	payload := append([]byte(nil), m.Payload()...)
	b.mu.Lock()
	b.inbound.push(bufferedMsg{topic: m.Topic(), payload: payload})
	b.mu.Unlock()
}

// Deliver publishes msg to its address topic. While disconnected the
// message is buffered and replayed on reconnect.
func (b *RealBus) Deliver(msg protocol.Message) error {
	m := bufferedMsg{
		topic:   AddressTopic(b.opts.TopicPrefix, msg.Address),
		payload: msg.Payload,
		qos:     1,
	}

	if !b.client.IsConnectionOpen() {
		b.mu.Lock()
		b.outbound.push(m)
		b.mu.Unlock()
		return nil
	}

	token := b.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Receive returns the oldest inbound message without blocking.
func (b *RealBus) Receive() (protocol.Message, bool) {
	b.mu.Lock()
	m, ok := b.inbound.pop()
	b.mu.Unlock()
	if !ok {
		return protocol.Message{}, false
	}
	addr, err := ParseAddressTopic(b.opts.TopicPrefix, m.topic)
	if err != nil {
		b.log.Debug().Err(err).Msg("inbound topic")
		addr = b.opts.Address
	}
	return protocol.Message{Address: addr, Payload: m.payload}, true
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (b *RealBus) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - we want lifecycle events delivered
	token := b.client.Publish(b.opts.SystemTopic, 1, event.Retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("publish system timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (b *RealBus) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (b *RealBus) Close() error {
	b.client.Disconnect(1000) // 1 second timeout
	return nil
}
