package telemetry

// SlotCount is the length of the cyclic slot sequence 0, 1, 2.
const SlotCount = 3

// SequenceVerdict is the loss/ordering diagnostic attached to a reading.
type SequenceVerdict struct {
	// Missed is set when the slot does not follow the previous one.
	Missed bool
	// InterArrivalDelay is the signed number of peripheral clock ticks since
	// the previous frame of either channel, or -1 when there was none. A
	// reordered frame yields a negative delay.
	InterArrivalDelay int64
}

// SequenceTracker checks that frames of a connection follow the slot cycle.
// Both channels share one counter space. The zero value is ready to use.
//
// SequenceTracker is not safe for concurrent use; the session owns it.
type SequenceTracker struct {
	primed       bool
	previousSlot uint8
	previousTS   uint32
}

// Check evaluates a frame and records it as the new previous frame.
func (t *SequenceTracker) Check(slot uint8, peripheralTimestamp uint32) SequenceVerdict {
	verdict := SequenceVerdict{InterArrivalDelay: -1}
	if t.primed {
		// the int32 view of the uint32 difference survives a clock wrap and
		// keeps small backward steps negative
		verdict.InterArrivalDelay = int64(int32(peripheralTimestamp - t.previousTS))
		verdict.Missed = !follows(t.previousSlot, slot)
	}

	t.primed = true
	t.previousSlot = slot
	t.previousTS = peripheralTimestamp
	return verdict
}

// Reset forgets the history; the next Check has no predecessor.
func (t *SequenceTracker) Reset() {
	*t = SequenceTracker{}
}

func follows(previous, current uint8) bool {
	if previous >= SlotCount {
		return false
	}
	return current == (previous+1)%SlotCount
}
