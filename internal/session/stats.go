package session

import "sync/atomic"

// Stats counts what the session has seen since it was created.
//
// All fields use atomic operations for thread-safe access
type Stats struct {
	Frames         int64 // frames delivered by the transport
	Readings       int64 // frames decoded and routed to a sink
	DecodeErrors   int64 // malformed frames dropped
	UnknownChannel int64 // well-formed frames with an unknown channel id
	Missed         int64 // readings whose slot broke the cycle
	Dropped        int64 // frames received outside the connected state
	Reconnects     int64 // successful reconnections
	LocationFixes  int64 // fixes routed to the location sink
}

func (s *Stats) add(field *int64) {
	atomic.AddInt64(field, 1)
}

func (s *Stats) snapshot() Stats {
	return Stats{
		Frames:         atomic.LoadInt64(&s.Frames),
		Readings:       atomic.LoadInt64(&s.Readings),
		DecodeErrors:   atomic.LoadInt64(&s.DecodeErrors),
		UnknownChannel: atomic.LoadInt64(&s.UnknownChannel),
		Missed:         atomic.LoadInt64(&s.Missed),
		Dropped:        atomic.LoadInt64(&s.Dropped),
		Reconnects:     atomic.LoadInt64(&s.Reconnects),
		LocationFixes:  atomic.LoadInt64(&s.LocationFixes),
	}
}
