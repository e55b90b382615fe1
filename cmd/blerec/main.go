package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// newRootCmd builds the command tree. Each call returns fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blerec",
		Short: "Record BLE telemetry streams to CSV",
		Long: `Records the telemetry of a dual-channel BLE sensor peripheral:

- Subscribes to the telemetry characteristic and splits frames into rear and side streams
- Flags out-of-order slots with a missed marker and the delay since the previous frame
- Survives one link drop per connection by reconnecting into the same files
- Optionally records GPS fixes from an NMEA serial receiver into a location stream
- Journals every session in a local sqlite catalog

Use "simulate" to exercise the full pipeline without hardware.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		// main() prints clean errors
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides the config file")
	root.PersistentFlags().String("config", "", "Path to a YAML config file")
	root.PersistentFlags().String("catalog", "", "Session catalog database (\"off\" disables it)")

	root.Flags().BoolP("version", "v", false, "Show version information")

	root.AddCommand(newRecordCmd())
	root.AddCommand(newSimulateCmd())
	root.AddCommand(newSessionsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
