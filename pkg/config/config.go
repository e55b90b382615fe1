// Package config holds blerec's file-backed configuration. Values are
// resolved in three layers: struct defaults, the YAML file, then CLI flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/device"
	"github.com/srg/blerec/internal/location"
	"github.com/srg/blerec/internal/session"
	"github.com/srg/blerec/internal/sink"
	"gopkg.in/yaml.v3"
)

// Location modes
const (
	LocationNone      = "none"
	LocationSerial    = "serial"
	LocationSimulated = "simulated"
)

// Event output formats
const (
	EventsAuto = "auto" // colored text on a terminal, JSON otherwise
	EventsText = "text"
	EventsJSON = "json"
	EventsNone = "none"
)

type OutputConfig struct {
	Dir string `yaml:"dir" json:"dir" default:"."`
	// Prefix fixes the session file prefix; when empty it is rendered from
	// the session start time with PrefixLayout.
	Prefix       string `yaml:"prefix" json:"prefix"`
	PrefixLayout string `yaml:"prefix_layout" json:"prefix_layout" default:"02-01-2006_15-04-05"`
}

type SinkConfig struct {
	Capacity     uint32        `yaml:"capacity" json:"capacity" default:"65536"`
	IdleInterval time.Duration `yaml:"idle_interval" json:"idle_interval" default:"10ms"`
}

type ReconnectConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" default:"5s"`
}

type BLEConfig struct {
	Address            string        `yaml:"address" json:"address"`
	ServiceUUID        string        `yaml:"service_uuid" json:"service_uuid" default:"10336bc0-c8f9-4de7-b637-a68b7ef33fc9"`
	CharacteristicUUID string        `yaml:"characteristic_uuid" json:"characteristic_uuid" default:"43336bc0-c8f9-4de7-b637-a68b7ef33fc9"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"10s"`
	RetryInterval      time.Duration `yaml:"retry_interval" json:"retry_interval" default:"500ms"`
}

type SimulatedLocationConfig struct {
	Latitude  float64       `yaml:"latitude" json:"latitude" default:"52.52"`
	Longitude float64       `yaml:"longitude" json:"longitude" default:"13.405"`
	Interval  time.Duration `yaml:"interval" json:"interval" default:"1s"`
}

type LocationConfig struct {
	Mode        string                  `yaml:"mode" json:"mode" default:"none"`
	Device      string                  `yaml:"device" json:"device"`
	Port        location.PortOptions    `yaml:"port" json:"port"`
	MinInterval time.Duration           `yaml:"min_interval" json:"min_interval" default:"1s"`
	Simulated   SimulatedLocationConfig `yaml:"simulated" json:"simulated"`
}

type CatalogConfig struct {
	// Path of the sqlite session journal; empty disables the catalog.
	Path string `yaml:"path" json:"path" default:"blerec.db"`
}

type EventsConfig struct {
	Format string `yaml:"format" json:"format" default:"auto"`
}

// Config holds application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" json:"log_level" default:"info"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Sink      SinkConfig      `yaml:"sink" json:"sink"`
	Reconnect ReconnectConfig `yaml:"reconnect" json:"reconnect"`
	BLE       BLEConfig       `yaml:"ble" json:"ble"`
	Location  LocationConfig  `yaml:"location" json:"location"`
	Catalog   CatalogConfig   `yaml:"catalog" json:"catalog"`
	Events    EventsConfig    `yaml:"events" json:"events"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default values; unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir must not be empty"))
	}
	if strings.ContainsAny(c.Output.Prefix, `/\`) {
		errs = append(errs, fmt.Errorf("output.prefix %q must not contain path separators", c.Output.Prefix))
	}
	if c.Sink.Capacity == 0 || c.Sink.Capacity > sink.MaxCapacity {
		errs = append(errs, fmt.Errorf("sink.capacity must be in 1..%d, got %d", sink.MaxCapacity, c.Sink.Capacity))
	}
	if c.Sink.IdleInterval <= 0 {
		errs = append(errs, errors.New("sink.idle_interval must be > 0"))
	}
	if c.Reconnect.Timeout <= 0 {
		errs = append(errs, errors.New("reconnect.timeout must be > 0"))
	}
	if _, err := device.ValidateUUID(c.BLE.ServiceUUID, c.BLE.CharacteristicUUID); err != nil {
		errs = append(errs, fmt.Errorf("ble: %w", err))
	}
	if c.BLE.ConnectTimeout <= 0 || c.BLE.RetryInterval <= 0 {
		errs = append(errs, errors.New("ble.connect_timeout and ble.retry_interval must be > 0"))
	}

	switch c.Location.Mode {
	case LocationNone, LocationSimulated:
	case LocationSerial:
		if c.Location.Device == "" {
			errs = append(errs, errors.New("location.device is required in serial mode"))
		}
		if _, err := c.Location.Port.Normalize(); err != nil {
			errs = append(errs, fmt.Errorf("location.port: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("location.mode %q: expected none, serial or simulated", c.Location.Mode))
	}
	if c.Location.MinInterval < 0 {
		errs = append(errs, errors.New("location.min_interval must not be negative"))
	}

	switch c.Events.Format {
	case EventsAuto, EventsText, EventsJSON, EventsNone:
	default:
		errs = append(errs, fmt.Errorf("events.format %q: expected auto, text, json or none", c.Events.Format))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// SessionOptions converts the output, sink and reconnect sections.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithOutputDir(c.Output.Dir),
		session.WithFilePrefix(c.Output.Prefix),
		session.WithPrefixLayout(c.Output.PrefixLayout),
		session.WithReconnectTimeout(c.Reconnect.Timeout),
		session.WithSinkOptions(
			sink.WithCapacity(c.Sink.Capacity),
			sink.WithIdleInterval(c.Sink.IdleInterval),
		),
	}
}

// TransportOptions converts the ble section.
func (c *Config) TransportOptions() device.TransportOptions {
	return device.TransportOptions{
		Address:            c.BLE.Address,
		ServiceUUID:        c.BLE.ServiceUUID,
		CharacteristicUUID: c.BLE.CharacteristicUUID,
		ConnectTimeout:     c.BLE.ConnectTimeout,
		RetryInterval:      c.BLE.RetryInterval,
	}
}

// LocationSource builds the configured location source, or nil in "none" mode.
func (c *Config) LocationSource(logger *logrus.Logger) (session.LocationSource, error) {
	switch c.Location.Mode {
	case LocationSerial:
		src, err := location.NewSerialSource(location.SerialOptions{
			Path:        c.Location.Device,
			Port:        c.Location.Port,
			MinInterval: c.Location.MinInterval,
		}, logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	case LocationSimulated:
		return location.NewSimulatedSource(location.SimulatedOptions{
			Latitude:  c.Location.Simulated.Latitude,
			Longitude: c.Location.Simulated.Longitude,
			Interval:  c.Location.Simulated.Interval,
		}, logger), nil
	case LocationNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown location mode %q", c.Location.Mode)
	}
}
