// Package config loads daemon settings from a YAML file on top of defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"

	"github.com/sweeney/pressure-regulator/internal/gpio"
	"github.com/sweeney/pressure-regulator/internal/logic"
	"github.com/sweeney/pressure-regulator/internal/mqtt"
	"github.com/sweeney/pressure-regulator/internal/regulator"
)

// Transport names.
const (
	TransportMQTT   = "mqtt"
	TransportSerial = "serial"
)

// Sensor names.
const (
	SensorSim = "sim"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds every daemon setting. Zero values in a loaded file fall back
// to Default.
type Config struct {
	Address     uint8  `yaml:"address"`
	Transport   string `yaml:"transport"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	SystemTopic string `yaml:"system_topic"`
	SerialPort  string `yaml:"serial_port"`
	Baud        int    `yaml:"baud"`
	QueueSize   int    `yaml:"queue_size"`

	Poll        time.Duration `yaml:"poll"`
	Sample      time.Duration `yaml:"sample"`
	ErrorSample time.Duration `yaml:"error_sample"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
	HTTPAddr    string        `yaml:"http"`

	Sensor    string `yaml:"sensor"`
	GPIOChip  string `yaml:"gpio_chip"`
	ValvePins []int  `yaml:"valve_pins"`

	Stall    Stall  `yaml:"stall"`
	Overflow string `yaml:"overflow"`
}

// Stall configures stall detection. Disabled unless Enabled is set.
type Stall struct {
	Enabled bool    `yaml:"enabled"`
	MinRise float32 `yaml:"min_rise"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Address:     5,
		Transport:   TransportMQTT,
		Broker:      "tcp://192.168.1.200:1883",
		ClientID:    "pressure-regulator",
		TopicPrefix: mqtt.DefaultTopicPrefix,
		SystemTopic: mqtt.DefaultSystemTopic,
		SerialPort:  "/dev/ttyUSB0",
		Baud:        115200,
		QueueSize:   32,
		Poll:        50 * time.Millisecond,
		Sample:      logic.DefaultCadence.Normal,
		ErrorSample: logic.DefaultCadence.Error,
		Heartbeat:   15 * time.Minute,
		HTTPAddr:    ":80",
		Sensor:      SensorSim,
		GPIOChip:    gpio.DefaultChip,
		Overflow:    regulator.Overwrite.String(),
	}
}

// Load reads path over the defaults. An empty path returns Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks for settings the daemon cannot run with.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportMQTT:
		if c.Broker == "" {
			return fmt.Errorf("%w: mqtt transport needs a broker", ErrInvalid)
		}
	case TransportSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("%w: serial transport needs a port", ErrInvalid)
		}
		if c.Baud <= 0 {
			return fmt.Errorf("%w: baud %d", ErrInvalid, c.Baud)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalid, c.Transport)
	}
	if c.Address == 0 || c.Address == 99 {
		return fmt.Errorf("%w: address %d is reserved", ErrInvalid, c.Address)
	}
	if c.Poll <= 0 || c.Sample <= 0 || c.ErrorSample <= 0 {
		return fmt.Errorf("%w: poll, sample and error_sample must be positive", ErrInvalid)
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("%w: negative heartbeat", ErrInvalid)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size %d", ErrInvalid, c.QueueSize)
	}
	if c.Sensor != SensorSim {
		return fmt.Errorf("%w: unknown sensor %q", ErrInvalid, c.Sensor)
	}
	if _, err := c.OverflowPolicy(); err != nil {
		return err
	}
	if c.Stall.MinRise < 0 {
		return fmt.Errorf("%w: negative stall min_rise", ErrInvalid)
	}
	return nil
}

// OverflowPolicy parses the overflow setting.
func (c Config) OverflowPolicy() (regulator.OverflowPolicy, error) {
	switch c.Overflow {
	case regulator.Overwrite.String(), "":
		return regulator.Overwrite, nil
	case regulator.RejectWhenFull.String():
		return regulator.RejectWhenFull, nil
	default:
		return 0, fmt.Errorf("%w: unknown overflow policy %q", ErrInvalid, c.Overflow)
	}
}

// Options builds regulator options from the config. Call Validate first.
func (c Config) Options() regulator.Options {
	opts := regulator.DefaultOptions()
	opts.Cadence = logic.Cadence{Normal: c.Sample, Error: c.ErrorSample}
	opts.Overflow, _ = c.OverflowPolicy()
	if c.Stall.Enabled {
		opts.Stall = logic.NonRisingStall{MinRise: c.Stall.MinRise}
	}
	return opts
}
