// Package eventbus delivers session status and telemetry summaries to
// observers. Delivery is best effort: a slow observer loses its oldest events,
// never blocks the publisher, and always sees the latest state.
package eventbus

import (
	"encoding/json"
	"time"
)

// Kind identifies an event type.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindReconnecting     Kind = "reconnecting"
	KindDisconnected     Kind = "disconnected"
	KindTelemetrySummary Kind = "telemetry_summary"
	KindLocationUpdate   Kind = "location_update"
)

// Event is implemented by every message published on the bus.
type Event interface {
	Kind() Kind
}

// Connected is emitted each time the link enters the connected state.
type Connected struct {
	PeerName string `json:"peer_name"`
}

// Reconnecting is emitted when the single reconnect attempt begins.
type Reconnecting struct{}

// Disconnected is emitted once per terminal transition.
type Disconnected struct {
	Reason string `json:"reason,omitempty"`
}

// TelemetrySummary carries the latest first sample and peripheral timestamp
// of each channel. Has* flags tell whether a channel has reported yet.
type TelemetrySummary struct {
	FirstSampleRear uint16 `json:"first_sample_rear"`
	FirstSampleSide uint16 `json:"first_sample_side"`
	TsRear          uint32 `json:"ts_rear"`
	TsSide          uint32 `json:"ts_side"`
	HasRear         bool   `json:"has_rear"`
	HasSide         bool   `json:"has_side"`
}

// LocationUpdate carries the latest location fix.
type LocationUpdate struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	Timestamp time.Time `json:"timestamp"`
}

func (Connected) Kind() Kind        { return KindConnected }
func (Reconnecting) Kind() Kind     { return KindReconnecting }
func (Disconnected) Kind() Kind     { return KindDisconnected }
func (TelemetrySummary) Kind() Kind { return KindTelemetrySummary }
func (LocationUpdate) Kind() Kind   { return KindLocationUpdate }

// MarshalEvent renders an event as {"kind": ..., "data": {...}}.
func MarshalEvent(ev Event) ([]byte, error) {
	return json.Marshal(struct {
		Kind Kind  `json:"kind"`
		Data Event `json:"data"`
	}{Kind: ev.Kind(), Data: ev})
}
