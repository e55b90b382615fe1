package session

import (
	"context"

	"github.com/srg/blerec/internal/eventbus"
	"github.com/srg/blerec/internal/telemetry"
)

// LinkHandler receives frames and connection changes from a Transport.
// Session implements it.
type LinkHandler interface {
	OnFrame(frame []byte)
	OnConnectionStateChanged(connected bool)
}

// Transport is the connected byte channel to the peripheral.
//
// Implementations deliver handler callbacks from their own goroutines, one
// frame at a time, and never synchronously from inside RequestReconnect or Close.
type Transport interface {
	// Connect begins connecting; success is reported through OnConnectionStateChanged(true).
	Connect(ctx context.Context, handler LinkHandler) error
	// RequestReconnect starts a single reconnect attempt and reports whether it was accepted.
	RequestReconnect() bool
	// Close releases the link. No callbacks are delivered afterwards.
	Close() error
	// PeerName is the peripheral's advertised display name.
	PeerName() string
}

// LocationSource produces location fixes independently of the link.
type LocationSource interface {
	Start(ctx context.Context, onFix func(telemetry.LocationFix)) error
	Stop() error
}

// Publisher receives the session's events.
type Publisher interface {
	Publish(ev eventbus.Event)
}
