package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/blerec/internal/device"
	"github.com/srg/blerec/internal/session"
)

// FormatUserError turns known failures into a one-line message for the
// terminal. Unknown errors are printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var notFound *device.NotFoundError
	switch {
	case device.IsConnectionState(err, device.BluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, device.ErrUnsupported):
		return "BLE is not supported on this platform; try \"blerec simulate\""
	case device.IsConnectionState(err, device.Timeout):
		return "timed out connecting to the device; is it powered and in range?"
	case errors.As(err, &notFound):
		return formatNotFound(notFound)
	case errors.Is(err, session.ErrConnectFailed):
		return fmt.Sprintf("could not connect: %v", err)
	case errors.Is(err, session.ErrReconnectTimeout):
		return "link lost and the device did not come back within the reconnect timeout; files are complete up to the drop"
	case errors.Is(err, session.ErrReconnectRejected):
		return "link lost and the transport refused to reconnect; files are complete up to the drop"
	case errors.Is(err, session.ErrLinkLost):
		return "link lost again after reconnecting; recording stopped"
	default:
		return err.Error()
	}
}

// formatNotFound names the missing GATT resource with shortened UUIDs.
func formatNotFound(e *device.NotFoundError) string {
	short := make([]string, len(e.UUIDs))
	for i, u := range e.UUIDs {
		short[i] = device.ShortenUUID(device.NormalizeUUID(u))
	}
	msg := fmt.Sprintf("the device is not a telemetry peripheral: %s not found", e.Resource)
	switch len(short) {
	case 0:
	case 1:
		msg += " (" + short[0] + ")"
	default:
		msg += fmt.Sprintf(" (%s in service %s)", short[len(short)-1], strings.Join(short[:len(short)-1], "/"))
	}
	return msg + "; check --service and --char"
}
