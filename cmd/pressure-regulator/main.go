// Command pressure-regulator holds a gas vessel inside a pressure band,
// taking commands over an MQTT or serial bus and driving a valve on GPIO.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sweeney/pressure-regulator/internal/config"
	"github.com/sweeney/pressure-regulator/internal/gpio"
	"github.com/sweeney/pressure-regulator/internal/logic"
	"github.com/sweeney/pressure-regulator/internal/mqtt"
	"github.com/sweeney/pressure-regulator/internal/protocol"
	"github.com/sweeney/pressure-regulator/internal/regulator"
	"github.com/sweeney/pressure-regulator/internal/sensor"
	"github.com/sweeney/pressure-regulator/internal/serialbus"
	"github.com/sweeney/pressure-regulator/internal/status"
	"github.com/sweeney/pressure-regulator/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	overrides  config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pressure-regulator",
	Short: "Closed-loop gas pressure regulator",
	Long: `pressure-regulator samples a pressure sensor and opens or closes a supply
valve to hold the vessel inside a band set over the bus.

Bus transports:
  MQTT:   --transport mqtt --broker tcp://host:1883
  Serial: --transport serial --port /dev/ttyUSB0 [--baud 115200]`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return run(cfg, newLogger())
	},
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Print one pressure sample and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := newSensor(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		if err := s.Init(); err != nil {
			return fmt.Errorf("init sensor: %w", err)
		}
		p, err := s.Sample()
		if err != nil {
			return fmt.Errorf("sample pressure: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.2f mbar\n", p)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	d := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file")
	pf.Uint8Var(&overrides.Address, "address", d.Address, "Regulator bus address")
	pf.StringVar(&overrides.Transport, "transport", d.Transport, "Bus transport (mqtt or serial)")
	pf.StringVar(&overrides.Broker, "broker", d.Broker, "MQTT broker address")
	pf.StringVarP(&overrides.SerialPort, "port", "p", d.SerialPort, "Serial port device")
	pf.IntVarP(&overrides.Baud, "baud", "b", d.Baud, "Baud rate (serial only)")
	pf.DurationVar(&overrides.Poll, "poll", d.Poll, "Scheduler tick interval")
	pf.DurationVar(&overrides.Heartbeat, "heartbeat", d.Heartbeat, "Heartbeat interval (0 to disable)")
	pf.StringVar(&overrides.HTTPAddr, "http", d.HTTPAddr, "HTTP status address (empty to disable)")
	pf.StringVar(&overrides.GPIOChip, "gpio-chip", d.GPIOChip, "GPIO character device (empty for a simulated valve)")
	pf.IntSliceVar(&overrides.ValvePins, "valve-pins", nil, "Pins SET_IO may drive (empty allows any)")
	pf.BoolVar(&overrides.Stall.Enabled, "stall", false, "Enable stall detection")
	pf.StringVar(&overrides.Overflow, "overflow", d.Overflow, "Outbound overflow policy (overwrite or reject)")

	rootCmd.Version = version
	rootCmd.AddCommand(readCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
}

// loadConfig reads the config file and applies flags the user set explicitly.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	cfg = applyFlags(cfg, overrides, cmd.Flags().Changed)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cfg, o config.Config, changed func(string) bool) config.Config {
	if changed("address") {
		cfg.Address = o.Address
	}
	if changed("transport") {
		cfg.Transport = o.Transport
	}
	if changed("broker") {
		cfg.Broker = o.Broker
	}
	if changed("port") {
		cfg.SerialPort = o.SerialPort
	}
	if changed("baud") {
		cfg.Baud = o.Baud
	}
	if changed("poll") {
		cfg.Poll = o.Poll
	}
	if changed("heartbeat") {
		cfg.Heartbeat = o.Heartbeat
	}
	if changed("http") {
		cfg.HTTPAddr = o.HTTPAddr
	}
	if changed("gpio-chip") {
		cfg.GPIOChip = o.GPIOChip
	}
	if changed("valve-pins") {
		cfg.ValvePins = o.ValvePins
	}
	if changed("stall") {
		cfg.Stall.Enabled = o.Stall.Enabled
	}
	if changed("overflow") {
		cfg.Overflow = o.Overflow
	}
	return cfg
}

func newSensor(cfg config.Config) (*sensor.Sim, error) {
	switch cfg.Sensor {
	case config.SensorSim:
		return sensor.NewSim(sensor.DefaultSimConfig), nil
	default:
		return nil, fmt.Errorf("unknown sensor %q", cfg.Sensor)
	}
}

// simValves forwards valve writes to the simulated vessel after they reach
// the underlying writer.
type simValves struct {
	gpio.Writer
	sim *sensor.Sim
}

func (v simValves) Set(pin int, level uint8) error {
	if err := v.Writer.Set(pin, level); err != nil {
		return err
	}
	v.sim.SetValve(level != protocol.LevelLow)
	return nil
}

// logPublisher stands in for system events on transports without a broker.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) PublishSystem(event mqtt.SystemEvent) error {
	p.log.Info().Str("event", event.Event).Str("reason", event.Reason).Msg("system event")
	return nil
}

func run(cfg config.Config, log zerolog.Logger) error {
	sim, err := newSensor(cfg)
	if err != nil {
		return err
	}

	var valves gpio.Writer
	if cfg.GPIOChip == "" {
		valves = gpio.NewFakeWriter(cfg.ValvePins...)
		log.Warn().Msg("no gpio chip configured, valve is simulated")
	} else {
		w, err := gpio.NewRealWriter(cfg.GPIOChip, cfg.ValvePins)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		valves = w
		if len(cfg.ValvePins) == 0 {
			log.Warn().Str("chip", cfg.GPIOChip).Msg("no valve_pins configured, HOLD may drive any line")
		}
	}
	valves = simValves{Writer: valves, sim: sim}
	defer valves.Close()

	module, err := regulator.New(sim, cfg.Options())
	if err != nil {
		return err
	}
	defer module.Close()

	var (
		bus       protocol.Transport
		publisher mqtt.SystemPublisher
		conn      mqtt.ConnectionStatus
	)
	switch cfg.Transport {
	case config.TransportSerial:
		b, err := serialbus.Open(cfg.SerialPort, cfg.Baud, cfg.Address, cfg.QueueSize, log.With().Str("component", "serial").Logger())
		if err != nil {
			return err
		}
		bus, publisher = b, logPublisher{log: log}
	default:
		b, err := mqtt.NewRealBus(mqtt.Options{
			Broker:      cfg.Broker,
			ClientID:    cfg.ClientID,
			TopicPrefix: cfg.TopicPrefix,
			SystemTopic: cfg.SystemTopic,
			Address:     cfg.Address,
			QueueSize:   cfg.QueueSize,
		}, log.With().Str("component", "mqtt").Logger())
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		bus, publisher, conn = b, b, b
	}
	defer bus.Close()

	// Tracker exists before STARTUP so the event carries a full snapshot.
	tracker := status.NewTracker(time.Now(), status.Config{
		Address:       cfg.Address,
		Transport:     cfg.Transport,
		Broker:        brokerFor(cfg),
		SerialPort:    serialPortFor(cfg),
		SampleMs:      cfg.Sample.Milliseconds(),
		ErrorSampleMs: cfg.ErrorSample.Milliseconds(),
		HeartbeatMs:   cfg.Heartbeat.Milliseconds(),
		HTTPAddr:      cfg.HTTPAddr,
		StallDetect:   cfg.Stall.Enabled,
		Overflow:      cfg.Overflow,
	})
	tracker.SetBusConnected(conn == nil || conn.IsConnected())

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Error().Err(err).Msg("failed to publish startup event")
	} else {
		log.Info().Msg("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, log.With().Str("component", "web").Logger())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http status server listening")
	}

	log.Info().
		Uint8("address", cfg.Address).
		Str("transport", cfg.Transport).
		Dur("poll", cfg.Poll).
		Dur("sample", cfg.Sample).
		Dur("heartbeat", cfg.Heartbeat).
		Bool("stall", cfg.Stall.Enabled).
		Msg("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(loop{
		module:    module,
		bus:       bus,
		valves:    valves,
		publisher: publisher,
		conn:      conn,
		tracker:   tracker,
		heartbeat: cfg.Heartbeat,
		log:       log,
	}, time.Now, ticker.C, sigCh)
}

func brokerFor(cfg config.Config) string {
	if cfg.Transport == config.TransportMQTT {
		return cfg.Broker
	}
	return ""
}

func serialPortFor(cfg config.Config) string {
	if cfg.Transport == config.TransportSerial {
		return cfg.SerialPort
	}
	return ""
}

// loop holds the collaborators driven by runLoop. conn and tracker may be nil.
type loop struct {
	module    *regulator.Module
	bus       protocol.Transport
	valves    gpio.Writer
	publisher mqtt.SystemPublisher
	conn      mqtt.ConnectionStatus
	tracker   *status.Tracker
	heartbeat time.Duration
	log       zerolog.Logger
}

// runLoop is the single-threaded scheduler. Each tick it hands every inbound
// message to the module, runs one module Tick and routes the resulting
// message: local SET_IO to the valves, everything else onto the bus. A
// pending outbound message is always routed before the next inbound one is
// accepted.
func runLoop(l loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	lastHeartbeat := now()

	for {
		select {
		case s := <-sig:
			l.log.Info().Str("signal", s.String()).Msg("shutting down")
			l.closeValve()

			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if l.tracker != nil {
				l.updateTracker()
				event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := l.publisher.PublishSystem(event); err != nil {
				l.log.Error().Err(err).Msg("failed to publish shutdown event")
			} else {
				l.log.Info().Msg("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			l.drainInbound(t)

			out, err := l.module.Tick(t)
			if err != nil {
				l.log.Error().Err(err).Msg("tick")
			}
			if out != nil {
				l.route(*out)
			}

			if l.tracker != nil {
				l.updateTracker()
			}

			if l.heartbeat > 0 && t.Sub(lastHeartbeat) >= l.heartbeat {
				lastHeartbeat = t
				l.publishHeartbeat(t)
			}
		}
	}
}

func (l loop) drainInbound(t time.Time) {
	for {
		l.flush(t)
		msg, ok := l.bus.Receive()
		if !ok {
			return
		}
		mine, err := l.module.Accept(msg)
		switch {
		case err != nil:
			l.log.Warn().Err(err).Uint8("address", msg.Address).Msg("rejected inbound message")
		case !mine:
			l.log.Debug().Uint8("address", msg.Address).Hex("payload", msg.Payload).Msg("no handler for inbound message")
		}
	}
}

// flush routes the module's pending message, if any. Tick returns a pending
// message without sampling.
func (l loop) flush(t time.Time) {
	if !l.module.Pending() {
		return
	}
	out, err := l.module.Tick(t)
	if err != nil {
		l.log.Error().Err(err).Msg("tick")
	}
	if out != nil {
		l.route(*out)
	}
}

func (l loop) route(msg protocol.Message) {
	handled, err := gpio.HandleSetIO(l.valves, msg)
	if handled {
		if err != nil {
			l.log.Error().Err(err).Msg("set valve")
		}
		return
	}
	if err := l.bus.Deliver(msg); err != nil {
		l.log.Error().Err(err).Uint8("address", msg.Address).Msg("deliver")
	}
}

// closeValve drives the held valve low if the regulator is active.
func (l loop) closeValve() {
	snap := l.module.Snapshot()
	if !snap.Configured || (snap.State == logic.StateDepressurized && snap.Valve == logic.ValveClosed) {
		return
	}
	if err := l.valves.Set(int(snap.Band.Pin), protocol.LevelLow); err != nil {
		l.log.Error().Err(err).Uint8("pin", snap.Band.Pin).Msg("close valve on shutdown")
	}
}

func (l loop) updateTracker() {
	l.tracker.Update(l.module.Snapshot(), l.module.Dropped())
	if l.conn != nil {
		l.tracker.SetBusConnected(l.conn.IsConnected())
	}
}

func (l loop) publishHeartbeat(t time.Time) {
	snap := l.module.Snapshot()
	l.log.Info().
		Str("state", snap.State.String()).
		Float32("pressure", snap.Readings.Current).
		Int("samples", snap.Counts.Samples).
		Int("stalls", snap.Counts.Stalls).
		Msg("heartbeat")

	event := mqtt.SystemEvent{Timestamp: t, Event: "HEARTBEAT"}
	if l.tracker != nil {
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Error().Err(err).Msg("heartbeat publish error")
	}
}
