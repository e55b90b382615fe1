package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/srg/blerec/internal/eventbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSessionLifecycle(t *testing.T) {
	// GOAL: Verify a session row is created, annotated and closed
	//
	// TEST SCENARIO: begin → two transitions → end with totals → read back row and log

	c := openTemp(t)
	clock := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	ctx := context.Background()

	id, err := c.BeginSession(ctx, Entry{
		Peer:       "AA:BB:CC:DD:EE:FF",
		Transport:  "ble",
		OutputDir:  "/data",
		FilePrefix: "rig-20231114",
	})
	require.NoError(t, err)
	require.Len(t, id, 36, "session id MUST be a UUID")

	require.NoError(t, c.RecordTransition(ctx, id, "connected", "rig-01"))
	require.NoError(t, c.RecordTransition(ctx, id, "disconnected", "user stop"))
	require.NoError(t, c.EndSession(ctx, id, "user stop", Totals{Frames: 10, Readings: 10, Missed: 1, Reconnects: 1, LocationFixes: 4}))

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", got.Peer)
	assert.Equal(t, "rig-20231114", got.FilePrefix)
	assert.Equal(t, int64(1_700_000_001_000), got.StartedAt.UnixMilli(), "StartedAt MUST default to the catalog clock")
	assert.Equal(t, int64(1_700_000_004_000), got.EndedAt.UnixMilli())
	assert.Equal(t, "user stop", got.EndReason)
	assert.Equal(t, Totals{Frames: 10, Readings: 10, Missed: 1, Reconnects: 1, LocationFixes: 4}, got.Totals)

	transitions, err := c.Transitions(ctx, id)
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, "connected", transitions[0].Kind)
	assert.Equal(t, "rig-01", transitions[0].Detail)
	assert.Equal(t, "disconnected", transitions[1].Kind)
}

func TestSessionsNewestFirst(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()

	first, err := c.BeginSession(ctx, Entry{Peer: "a", Transport: "simulated", StartedAt: time.UnixMilli(1000)})
	require.NoError(t, err)
	second, err := c.BeginSession(ctx, Entry{Peer: "b", Transport: "simulated", StartedAt: time.UnixMilli(2000)})
	require.NoError(t, err)

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second, sessions[0].ID)
	assert.Equal(t, first, sessions[1].ID)
	assert.True(t, sessions[0].EndedAt.IsZero(), "a running session MUST have no end time")
}

func TestUnknownSession(t *testing.T) {
	c := openTemp(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.EndSession(ctx, "missing", "x", Totals{}), ErrNotFound)
}

func TestReopenKeepsSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	ctx := context.Background()

	c, err := Open(path, nil)
	require.NoError(t, err)
	id, err := c.BeginSession(ctx, Entry{Peer: "p", Transport: "ble"})
	require.NoError(t, err)
	require.NoError(t, c.Close())

	c, err = Open(path, nil)
	require.NoError(t, err, "schema creation MUST be idempotent")
	defer c.Close()

	got, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "p", got.Peer)
}

func TestFollowRecordsStatusEvents(t *testing.T) {
	// GOAL: Verify link events on the bus become transitions and summaries are ignored
	//
	// TEST SCENARIO: connected → summary → reconnecting → connected → disconnected → bus closed

	c := openTemp(t)
	ctx := context.Background()
	id, err := c.BeginSession(ctx, Entry{Peer: "p", Transport: "simulated"})
	require.NoError(t, err)

	bus := eventbus.New(nil)
	sub := bus.Subscribe(16)
	done := c.Follow(ctx, id, sub)

	bus.Publish(eventbus.Connected{PeerName: "rig-01"})
	bus.Publish(eventbus.TelemetrySummary{HasRear: true})
	bus.Publish(eventbus.Reconnecting{})
	bus.Publish(eventbus.Connected{PeerName: "rig-01"})
	bus.Publish(eventbus.Disconnected{Reason: "reconnect failed"})
	bus.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow MUST stop when the subscription closes")
	}

	transitions, err := c.Transitions(ctx, id)
	require.NoError(t, err)
	kinds := make([]string, len(transitions))
	for i, tr := range transitions {
		kinds[i] = tr.Kind
	}
	assert.Equal(t, []string{"connected", "reconnecting", "connected", "disconnected"}, kinds)
	assert.Equal(t, "reconnect failed", transitions[3].Detail)
}

func TestFollowStopsOnContext(t *testing.T) {
	c := openTemp(t)
	bus := eventbus.New(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := c.Follow(ctx, "any", bus.Subscribe(4))
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Follow MUST stop when ctx is cancelled")
	}
}
