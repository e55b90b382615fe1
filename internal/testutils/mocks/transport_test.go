package mocks

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func goroutineID(t *testing.T) uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	id, err := strconv.ParseUint(string(buf[:bytes.IndexByte(buf, ' ')]), 10, 64)
	require.NoError(t, err)
	return id
}

type recordingHandler struct {
	t *testing.T

	mu         sync.Mutex
	frames     int
	links      []bool
	goroutines []uint64
}

func (h *recordingHandler) OnFrame([]byte) {
	id := goroutineID(h.t)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames++
	h.goroutines = append(h.goroutines, id)
}

func (h *recordingHandler) OnConnectionStateChanged(connected bool) {
	id := goroutineID(h.t)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.links = append(h.links, connected)
	h.goroutines = append(h.goroutines, id)
}

func TestMockTransportCallbacksRunOffCallerGoroutine(t *testing.T) {
	// GOAL: Verify the mock honors the transport contract: callbacks come from
	// the transport's own goroutine, and Link/Deliver return after they ran
	//
	// TEST SCENARIO: connect → link up → two frames → link down → every callback
	// recorded before return, none on the test goroutine

	m := new(MockTransport)
	m.On("Connect", mock.Anything, mock.Anything).Return(nil)
	h := &recordingHandler{t: t}
	require.NoError(t, m.Connect(t.Context(), h))

	m.Link(true)
	m.Deliver([]byte{0x10}, []byte{0x21})
	m.Link(false)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []bool{true, false}, h.links, "Link MUST return after the handler ran")
	assert.Equal(t, 2, h.frames, "Deliver MUST return after every frame was handled")

	caller := goroutineID(t)
	for i, id := range h.goroutines {
		assert.NotEqual(t, caller, id, "callback %d MUST NOT run on the caller's goroutine", i)
	}
	m.AssertExpectations(t)
}
