package sink

import "sync/atomic"

// Metrics provides lock-free counters for a StreamSink.
//
// All fields use atomic operations for thread-safe access
type Metrics struct {
	Enqueued    int64 // rows accepted by Enqueue
	Written     int64 // rows appended to the file
	WriteErrors int64 // rows lost to storage failures
	Overwritten int64 // rows lost to queue overflow
}

func (m *Metrics) addEnqueued() {
	atomic.AddInt64(&m.Enqueued, 1)
}

func (m *Metrics) addWritten() {
	atomic.AddInt64(&m.Written, 1)
}

func (m *Metrics) addWriteError() {
	atomic.AddInt64(&m.WriteErrors, 1)
}

func (m *Metrics) addOverwritten(n uint32) {
	atomic.AddInt64(&m.Overwritten, int64(n))
}

// snapshot atomically reads every counter
func (m *Metrics) snapshot() Metrics {
	return Metrics{
		Enqueued:    atomic.LoadInt64(&m.Enqueued),
		Written:     atomic.LoadInt64(&m.Written),
		WriteErrors: atomic.LoadInt64(&m.WriteErrors),
		Overwritten: atomic.LoadInt64(&m.Overwritten),
	}
}

// Pending estimates the rows still queued.
func (m Metrics) Pending() int64 {
	p := m.Enqueued - m.Written - m.WriteErrors - m.Overwritten
	if p < 0 {
		return 0
	}
	return p
}
