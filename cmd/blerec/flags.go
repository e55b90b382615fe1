package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blerec/pkg/config"
)

// addRecordingFlags registers the flags shared by record and simulate. Config
// backed flags default to zero values and only override the config when set.
func addRecordingFlags(cmd *cobra.Command, defaultDuration time.Duration) {
	f := cmd.Flags()
	f.StringP("output", "o", "", "Directory for session CSV files (default \".\")")
	f.String("prefix", "", "Session file prefix (default: start time)")
	f.Duration("reconnect-timeout", 0, "How long a single reconnect may take (default 5s)")
	f.String("location", "", "Location source: none, serial or simulated")
	f.String("gps-device", "", "Serial device of an NMEA GPS receiver (implies --location serial)")
	f.Int("gps-baud", 0, "GPS receiver baud rate (default 9600)")
	f.String("events", "", "Event output: auto, text, json or none")
	f.Duration("duration", defaultDuration, "Stop after this long; 0 records until Ctrl+C or link loss")
	f.Bool("verbose", false, "Debug logging")
}

// loadConfig resolves defaults, the --config file and flag overrides, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if f.Changed("catalog") {
		v, _ := f.GetString("catalog")
		if v == "off" {
			v = ""
		}
		cfg.Catalog.Path = v
	}
	if f.Lookup("output") != nil {
		if f.Changed("output") {
			cfg.Output.Dir, _ = f.GetString("output")
		}
		if f.Changed("prefix") {
			cfg.Output.Prefix, _ = f.GetString("prefix")
		}
		if f.Changed("reconnect-timeout") {
			cfg.Reconnect.Timeout, _ = f.GetDuration("reconnect-timeout")
		}
		if f.Changed("gps-device") {
			cfg.Location.Device, _ = f.GetString("gps-device")
			cfg.Location.Mode = config.LocationSerial
		}
		if f.Changed("location") {
			cfg.Location.Mode, _ = f.GetString("location")
		}
		if f.Changed("gps-baud") {
			cfg.Location.Port.BaudRate, _ = f.GetInt("gps-baud")
		}
		if f.Changed("events") {
			cfg.Events.Format, _ = f.GetString("events")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func durationFlag(cmd *cobra.Command) (time.Duration, error) {
	d, _ := cmd.Flags().GetDuration("duration")
	if d < 0 {
		return 0, fmt.Errorf("--duration must not be negative")
	}
	return d, nil
}
