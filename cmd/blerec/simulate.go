package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blerec/internal/device"
)

// Reconnect outcomes of the simulated peripheral
const (
	reconnectSucceed = "succeed"
	reconnectNever   = "never"
	reconnectReject  = "reject"
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Record from a simulated peripheral",
		Long: `Runs the full recording pipeline against an in-process peripheral that
emits well-formed frames, rear and side interleaved with slots cycling 0, 1, 2.
A link drop can be scheduled to exercise the reconnect path.

Examples:
  # Ten seconds of synthetic telemetry
  blerec simulate --duration 10s -o ./sim

  # Drop the link after 200 frames and never come back
  blerec simulate --drop-after 200 --reconnect never --reconnect-timeout 2s`,
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}
	addRecordingFlags(cmd, 10*time.Second)

	cmd.Flags().String("name", "blerec-sim", "Peer name reported by the simulator")
	cmd.Flags().Duration("interval", 20*time.Millisecond, "Time between frames")
	cmd.Flags().Int("samples", 8, "Samples per frame")
	cmd.Flags().Int("drop-after", 0, "Drop the link once after this many frames (0 keeps it up)")
	cmd.Flags().String("reconnect", reconnectSucceed, "Reconnect outcome after a drop: succeed, never or reject")
	cmd.Flags().Duration("reconnect-delay", 500*time.Millisecond, "How long a successful reconnect takes")
	return cmd
}

func simulatorOptions(cmd *cobra.Command) (device.SimulatorOptions, error) {
	f := cmd.Flags()
	opts := device.SimulatorOptions{}
	opts.Name, _ = f.GetString("name")
	opts.FrameInterval, _ = f.GetDuration("interval")
	opts.SamplesPerFrame, _ = f.GetInt("samples")
	opts.DropAfter, _ = f.GetInt("drop-after")
	opts.ReconnectDelay, _ = f.GetDuration("reconnect-delay")

	if opts.FrameInterval <= 0 {
		return opts, fmt.Errorf("--interval must be > 0")
	}
	if opts.SamplesPerFrame < 0 || opts.DropAfter < 0 {
		return opts, fmt.Errorf("--samples and --drop-after must not be negative")
	}

	switch outcome, _ := f.GetString("reconnect"); outcome {
	case reconnectSucceed:
	case reconnectNever:
		opts.NeverReconnect = true
	case reconnectReject:
		opts.RejectReconnect = true
	default:
		return opts, fmt.Errorf("invalid --reconnect %q: use succeed, never or reject", outcome)
	}
	return opts, nil
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	opts, err := simulatorOptions(cmd)
	if err != nil {
		return err
	}
	duration, err := durationFlag(cmd)
	if err != nil {
		return err
	}

	logger, err := configureLogger(cmd, cfg, "verbose")
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runRecording(ctx, recording{
		cfg:       cfg,
		logger:    logger,
		transport: device.NewSimulatedPeripheral(opts, logger),
		kind:      "simulated",
		peer:      opts.Name,
		duration:  duration,
		out:       cmd.OutOrStdout(),
		status:    cmd.ErrOrStderr(),
	})
}
