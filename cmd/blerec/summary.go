package main

import (
	"fmt"
	"io"

	"github.com/srg/blerec/internal/session"
	"github.com/srg/blerec/internal/sink"
	"github.com/srg/blerec/internal/telemetry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// streamLine is one row of the end-of-session summary.
type streamLine struct {
	Path        string
	Written     int64
	Overwritten int64
	WriteErrors int64
}

// summarize joins the sink paths and metrics, keeping stream order.
func summarize(sinks *sink.Set) *orderedmap.OrderedMap[telemetry.Stream, streamLine] {
	lines := orderedmap.New[telemetry.Stream, streamLine]()
	metrics := sinks.Metrics()
	for pair := sinks.Paths().Oldest(); pair != nil; pair = pair.Next() {
		m, _ := metrics.Get(pair.Key)
		lines.Set(pair.Key, streamLine{
			Path:        pair.Value,
			Written:     m.Written,
			Overwritten: m.Overwritten,
			WriteErrors: m.WriteErrors,
		})
	}
	return lines
}

func printSummary(w io.Writer, sinks *sink.Set, stats session.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "frames %d  readings %d  missed %d  malformed %d  reconnects %d  fixes %d\n",
		stats.Frames, stats.Readings, stats.Missed, stats.DecodeErrors, stats.Reconnects, stats.LocationFixes)

	for pair := summarize(sinks).Oldest(); pair != nil; pair = pair.Next() {
		line := pair.Value
		fmt.Fprintf(w, "%-8s %6d rows  %s", pair.Key, line.Written, line.Path)
		if line.Overwritten > 0 || line.WriteErrors > 0 {
			fmt.Fprintf(w, "  (lost: %d overflow, %d write errors)", line.Overwritten, line.WriteErrors)
		}
		fmt.Fprintln(w)
	}
}
