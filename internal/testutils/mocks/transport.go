// Package mocks provides testify mocks of the session's collaborators.
package mocks

import (
	"context"
	"sync"

	"github.com/srg/blerec/internal/groutine"
	"github.com/srg/blerec/internal/session"
	"github.com/srg/blerec/internal/telemetry"
	"github.com/stretchr/testify/mock"
)

// MockTransport records the handler it is connected with so tests can drive
// link callbacks the way a real transport would.
type MockTransport struct {
	mock.Mock

	mu      sync.Mutex
	handler session.LinkHandler
}

func (m *MockTransport) Connect(ctx context.Context, handler session.LinkHandler) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	return m.Called(ctx, handler).Error(0)
}

func (m *MockTransport) RequestReconnect() bool {
	return m.Called().Bool(0)
}

func (m *MockTransport) Close() error {
	return m.Called().Error(0)
}

func (m *MockTransport) PeerName() string {
	return m.Called().String(0)
}

// Handler returns the handler passed to Connect.
func (m *MockTransport) Handler() session.LinkHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// Link reports a connection change to the handler from a transport
// goroutine and returns once the handler has run.
func (m *MockTransport) Link(connected bool) {
	h := m.Handler()
	<-groutine.Go(context.Background(), "mock-transport-link", func(context.Context) {
		h.OnConnectionStateChanged(connected)
	})
}

// Deliver sends frames to the handler in order from a transport goroutine
// and returns once all of them were handled.
func (m *MockTransport) Deliver(frames ...[]byte) {
	h := m.Handler()
	<-groutine.Go(context.Background(), "mock-transport-rx", func(context.Context) {
		for _, f := range frames {
			h.OnFrame(f)
		}
	})
}

// MockLocationSource keeps the fix callback passed to Start.
type MockLocationSource struct {
	mock.Mock

	mu    sync.Mutex
	onFix func(telemetry.LocationFix)
}

func (m *MockLocationSource) Start(ctx context.Context, onFix func(telemetry.LocationFix)) error {
	m.mu.Lock()
	m.onFix = onFix
	m.mu.Unlock()
	return m.Called(ctx).Error(0)
}

func (m *MockLocationSource) Stop() error {
	return m.Called().Error(0)
}

// Emit delivers a fix as the source would.
func (m *MockLocationSource) Emit(fix telemetry.LocationFix) {
	m.mu.Lock()
	onFix := m.onFix
	m.mu.Unlock()
	if onFix != nil {
		onFix(fix)
	}
}
