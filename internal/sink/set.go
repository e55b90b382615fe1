package sink

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/telemetry"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultPrefixLayout renders the session start time used in file names.
const DefaultPrefixLayout = "02-01-2006_15-04-05"

// SessionPrefix renders a session start time with layout, falling back to
// DefaultPrefixLayout when layout is empty.
func SessionPrefix(start time.Time, layout string) string {
	if layout == "" {
		layout = DefaultPrefixLayout
	}
	return start.Format(layout)
}

// FileName returns the file name of a stream within a session.
func FileName(prefix string, stream telemetry.Stream) string {
	return fmt.Sprintf("%s_%s.csv", prefix, stream)
}

// SessionFiles maps every telemetry stream to its file path under dir.
func SessionFiles(dir, prefix string) map[telemetry.Stream]string {
	files := make(map[telemetry.Stream]string, len(telemetry.Streams))
	for _, stream := range telemetry.Streams {
		files[stream] = filepath.Join(dir, FileName(prefix, stream))
	}
	return files
}

// Set is the ordered collection of sinks belonging to one session.
// Its membership is fixed at construction.
type Set struct {
	sinks *orderedmap.OrderedMap[telemetry.Stream, *StreamSink]
}

// NewSet creates one stopped sink per stream under dir, named after prefix.
func NewSet(dir, prefix string, streams []telemetry.Stream, logger *logrus.Logger, opts ...Option) (*Set, error) {
	if prefix == "" {
		return nil, fmt.Errorf("session prefix cannot be empty")
	}

	sinks := orderedmap.New[telemetry.Stream, *StreamSink]()
	for _, stream := range streams {
		if _, exists := sinks.Get(stream); exists {
			return nil, fmt.Errorf("duplicate stream %q", stream)
		}
		s, err := New(string(stream), filepath.Join(dir, FileName(prefix, stream)), logger, opts...)
		if err != nil {
			return nil, err
		}
		sinks.Set(stream, s)
	}
	return &Set{sinks: sinks}, nil
}

// Get returns the sink of a stream.
func (s *Set) Get(stream telemetry.Stream) (*StreamSink, bool) {
	return s.sinks.Get(stream)
}

// Len returns the number of sinks.
func (s *Set) Len() int {
	return s.sinks.Len()
}

// StartAll starts every sink in order.
func (s *Set) StartAll() error {
	var errs []error
	for pair := s.sinks.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Start(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every sink in order, draining each one.
func (s *Set) StopAll() error {
	var errs []error
	for pair := s.sinks.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Paths returns the output file of every stream, in order.
func (s *Set) Paths() *orderedmap.OrderedMap[telemetry.Stream, string] {
	paths := orderedmap.New[telemetry.Stream, string]()
	for pair := s.sinks.Oldest(); pair != nil; pair = pair.Next() {
		paths.Set(pair.Key, pair.Value.Path())
	}
	return paths
}

// Metrics returns a snapshot of every sink's counters, in order.
func (s *Set) Metrics() *orderedmap.OrderedMap[telemetry.Stream, Metrics] {
	metrics := orderedmap.New[telemetry.Stream, Metrics]()
	for pair := s.sinks.Oldest(); pair != nil; pair = pair.Next() {
		metrics.Set(pair.Key, pair.Value.Metrics())
	}
	return metrics
}
