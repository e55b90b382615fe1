package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/blerec/internal/device"
)

func newRecordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <device-address>",
		Short: "Record telemetry from a BLE peripheral",
		Long: `Connects to the peripheral, subscribes to its telemetry characteristic and
appends every frame to <prefix>_rear.csv or <prefix>_side.csv. A lost link is
retried once within --reconnect-timeout; the session then continues in the
same files. Recording stops on Ctrl+C, after --duration, or when the link is
lost for good.

Examples:
  # Record until Ctrl+C
  blerec record AA:BB:CC:DD:EE:FF -o ./runs

  # Record ten minutes with GPS fixes from a serial receiver
  blerec record AA:BB:CC:DD:EE:FF --duration 10m --gps-device /dev/ttyUSB0

On macOS the device address is the CoreBluetooth peripheral UUID.`,
		Args: cobra.ExactArgs(1),
		RunE: runRecord,
	}
	addRecordingFlags(cmd, 0)
	cmd.Flags().String("service", "", "Telemetry service UUID (default from config)")
	cmd.Flags().String("char", "", "Telemetry characteristic UUID (default from config)")
	cmd.Flags().Duration("connect-timeout", 0, "Connection timeout (default 10s)")
	return cmd
}

func runRecord(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.BLE.Address = args[0]
	if v, _ := cmd.Flags().GetString("service"); v != "" {
		cfg.BLE.ServiceUUID = v
	}
	if v, _ := cmd.Flags().GetString("char"); v != "" {
		cfg.BLE.CharacteristicUUID = v
	}
	if v, _ := cmd.Flags().GetDuration("connect-timeout"); v > 0 {
		cfg.BLE.ConnectTimeout = v
	}
	duration, err := durationFlag(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	transport, err := device.NewBLETransport(cfg.TransportOptions(), logger)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runRecording(ctx, recording{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		kind:      "ble",
		peer:      cfg.BLE.Address,
		duration:  duration,
		out:       cmd.OutOrStdout(),
		status:    cmd.ErrOrStderr(),
	})
}
