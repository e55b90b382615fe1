package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/srg/blerec/internal/eventbus"
	"github.com/srg/blerec/pkg/config"
	"golang.org/x/term"
)

// summaryRenderInterval limits how often telemetry summaries, which arrive
// with every frame, reach the output.
const summaryRenderInterval = time.Second

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// eventRenderer prints bus events either as colored text lines or as one
// JSON object per line.
type eventRenderer struct {
	w    io.Writer
	json bool
	now  func() time.Time

	lastSummary time.Time

	connected    *color.Color
	reconnecting *color.Color
	disconnected *color.Color
	dim          *color.Color
}

// newEventRenderer returns nil for the "none" format. "auto" picks colored
// text on a terminal and JSON otherwise.
func newEventRenderer(format string, w io.Writer) *eventRenderer {
	tty := isTerminal(w)
	switch format {
	case config.EventsNone:
		return nil
	case config.EventsAuto:
		if !tty {
			format = config.EventsJSON
		}
	}

	r := &eventRenderer{
		w:            w,
		json:         format == config.EventsJSON,
		now:          time.Now,
		connected:    color.New(color.FgGreen, color.Bold),
		reconnecting: color.New(color.FgYellow, color.Bold),
		disconnected: color.New(color.FgRed, color.Bold),
		dim:          color.New(color.Faint),
	}
	for _, c := range []*color.Color{r.connected, r.reconnecting, r.disconnected, r.dim} {
		if tty {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Render writes one event. Telemetry summaries closer than
// summaryRenderInterval to the previous one are skipped.
func (r *eventRenderer) Render(ev eventbus.Event) error {
	if _, ok := ev.(eventbus.TelemetrySummary); ok {
		now := r.now()
		if !r.lastSummary.IsZero() && now.Sub(r.lastSummary) < summaryRenderInterval {
			return nil
		}
		r.lastSummary = now
	}

	if r.json {
		data, err := eventbus.MarshalEvent(ev)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(r.w, "%s\n", data)
		return err
	}

	stamp := r.dim.Sprint(r.now().Format("15:04:05.000"))
	var err error
	switch e := ev.(type) {
	case eventbus.Connected:
		_, err = fmt.Fprintf(r.w, "%s %s %s\n", stamp, r.connected.Sprint("CONNECTED"), e.PeerName)
	case eventbus.Reconnecting:
		_, err = fmt.Fprintf(r.w, "%s %s\n", stamp, r.reconnecting.Sprint("RECONNECTING"))
	case eventbus.Disconnected:
		_, err = fmt.Fprintf(r.w, "%s %s %s\n", stamp, r.disconnected.Sprint("DISCONNECTED"), e.Reason)
	case eventbus.TelemetrySummary:
		_, err = fmt.Fprintf(r.w, "%s rear %s  side %s\n", stamp,
			channelText(e.HasRear, e.FirstSampleRear, e.TsRear),
			channelText(e.HasSide, e.FirstSampleSide, e.TsSide))
	case eventbus.LocationUpdate:
		_, err = fmt.Fprintf(r.w, "%s fix %.6f,%.6f\n", stamp, e.Latitude, e.Longitude)
	default:
		_, err = fmt.Fprintf(r.w, "%s %s\n", stamp, ev.Kind())
	}
	return err
}

func channelText(has bool, sample uint16, ts uint32) string {
	if !has {
		return "-"
	}
	return fmt.Sprintf("%5d @%d", sample, ts)
}
