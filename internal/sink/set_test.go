package sink_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/srg/blerec/internal/sink"
	"github.com/srg/blerec/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionPrefix(t *testing.T) {
	start := time.Date(2024, time.March, 7, 9, 5, 3, 0, time.UTC)

	assert.Equal(t, "07-03-2024_09-05-03", sink.SessionPrefix(start, ""))
	assert.Equal(t, "20240307T090503", sink.SessionPrefix(start, "20060102T150405"))
	assert.Equal(t, "07-03-2024_09-05-03_rear.csv", sink.FileName(sink.SessionPrefix(start, ""), telemetry.StreamRear))
}

func TestSessionFiles(t *testing.T) {
	files := sink.SessionFiles("out", "p")
	assert.Equal(t, map[telemetry.Stream]string{
		telemetry.StreamRear:     filepath.Join("out", "p_rear.csv"),
		telemetry.StreamSide:     filepath.Join("out", "p_side.csv"),
		telemetry.StreamLocation: filepath.Join("out", "p_location.csv"),
	}, files)
}

func TestNewSet(t *testing.T) {
	dir := t.TempDir()

	set, err := sink.NewSet(dir, "s1", telemetry.Streams, nil, sink.WithIdleInterval(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())

	var keys []telemetry.Stream
	var paths []string
	for pair := set.Paths().Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
		paths = append(paths, pair.Value)
	}
	assert.Equal(t, telemetry.Streams, keys, "streams MUST keep creation order")
	assert.Equal(t, []string{
		filepath.Join(dir, "s1_rear.csv"),
		filepath.Join(dir, "s1_side.csv"),
		filepath.Join(dir, "s1_location.csv"),
	}, paths)

	rear, ok := set.Get(telemetry.StreamRear)
	require.True(t, ok)
	rear.Enqueue(telemetry.LocationFix{Timestamp: time.UnixMilli(5), Latitude: 1.5, Longitude: 2})

	require.NoError(t, set.StartAll())
	for pair := set.Metrics().Oldest(); pair != nil; pair = pair.Next() {
		s, _ := set.Get(pair.Key)
		assert.True(t, s.Running(), "%s MUST be running", pair.Key)
	}
	require.NoError(t, set.StopAll())

	data, err := os.ReadFile(filepath.Join(dir, "s1_rear.csv"))
	require.NoError(t, err)
	assert.Equal(t, "5,1.5,2\n", string(data))

	m, _ := set.Metrics().Get(telemetry.StreamRear)
	assert.Equal(t, int64(1), m.Written)
}

func TestNewSetValidation(t *testing.T) {
	_, err := sink.NewSet(t.TempDir(), "", telemetry.Streams, nil)
	assert.Error(t, err, "empty prefix MUST be rejected")

	_, err = sink.NewSet(t.TempDir(), "p", []telemetry.Stream{telemetry.StreamRear, telemetry.StreamRear}, nil)
	assert.Error(t, err, "duplicate streams MUST be rejected")
}
