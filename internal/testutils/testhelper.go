package testutils

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerec/internal/eventbus"
	"github.com/srg/blerec/internal/telemetry"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// CapturedLogger returns a logger writing into the returned buffer.
func CapturedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := logrus.New()
	logger.SetOutput(buf)
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true, DisableColors: true})
	return logger, buf
}

// Frame builds a wire frame for the given header fields and samples.
func Frame(channel telemetry.Channel, slot, readIndex uint8, ts uint32, samples ...uint16) []byte {
	return telemetry.Encode(telemetry.Reading{
		Channel:             channel,
		Slot:                slot,
		ReadIndex:           readIndex,
		PeripheralTimestamp: ts,
		Samples:             samples,
	})
}

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ReadLines returns the lines of a text file without the trailing newline.
// A missing file reads as no lines.
func ReadLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// EventRecorder is a Publisher that keeps every event it receives.
type EventRecorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

// Publish implements session.Publisher.
func (r *EventRecorder) Publish(ev eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *EventRecorder) Events() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

// Kinds returns the kinds of recorded events, skipping the listed ones.
func (r *EventRecorder) Kinds(skip ...eventbus.Kind) []eventbus.Kind {
	skipped := make(map[eventbus.Kind]bool, len(skip))
	for _, k := range skip {
		skipped[k] = true
	}
	var kinds []eventbus.Kind
	for _, ev := range r.Events() {
		if !skipped[ev.Kind()] {
			kinds = append(kinds, ev.Kind())
		}
	}
	return kinds
}

// Count returns how many events of a kind were recorded.
func (r *EventRecorder) Count(kind eventbus.Kind) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}

// Last returns the most recent event of a kind.
func (r *EventRecorder) Last(kind eventbus.Kind) (eventbus.Event, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind() == kind {
			return events[i], true
		}
	}
	return nil, false
}
