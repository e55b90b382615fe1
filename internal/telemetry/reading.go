// Package telemetry decodes sensor notification frames and checks their
// slot sequence.
//
// A frame carries one reading from either the rear or the side sensor:
//
//	byte 0     high nibble = channel id (1 = rear, 2 = side), low nibble = slot
//	byte 1     read index
//	bytes 2-5  peripheral timestamp, big-endian uint32
//	bytes 6..  samples, big-endian uint16 each
package telemetry

import (
	"fmt"
	"strconv"
	"time"
)

// Channel identifies one of the two independently sampled sensors.
type Channel uint8

const (
	ChannelRear Channel = 1
	ChannelSide Channel = 2
)

func (c Channel) String() string {
	switch c {
	case ChannelRear:
		return "rear"
	case ChannelSide:
		return "side"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid reports whether c is a channel id known to the wire protocol.
func (c Channel) Valid() bool {
	return c == ChannelRear || c == ChannelSide
}

// Stream names one persisted row stream of a recording session.
type Stream string

const (
	StreamRear     Stream = "rear"
	StreamSide     Stream = "side"
	StreamLocation Stream = "location"
)

// Streams lists every stream in file creation order.
var Streams = []Stream{StreamRear, StreamSide, StreamLocation}

// Stream returns the stream that persists readings of this channel.
func (c Channel) Stream() (Stream, bool) {
	switch c {
	case ChannelRear:
		return StreamRear, true
	case ChannelSide:
		return StreamSide, true
	default:
		return "", false
	}
}

// Reading is one decoded frame. It is never mutated after Decode returns.
type Reading struct {
	Channel             Channel
	Slot                uint8
	ReadIndex           uint8
	PeripheralTimestamp uint32
	LocalTimestamp      time.Time
	Samples             []uint16
}

// FirstSample returns the first payload sample, if any.
func (r Reading) FirstSample() (uint16, bool) {
	if len(r.Samples) == 0 {
		return 0, false
	}
	return r.Samples[0], true
}

// CSVRow renders the reading as
// channel,slot,readIndex,peripheralTimestamp,localTimestampMillis,sample0,sample1,...
func (r Reading) CSVRow() []string {
	row := make([]string, 0, 5+len(r.Samples))
	row = append(row,
		strconv.FormatUint(uint64(r.Channel), 10),
		strconv.FormatUint(uint64(r.Slot), 10),
		strconv.FormatUint(uint64(r.ReadIndex), 10),
		strconv.FormatUint(uint64(r.PeripheralTimestamp), 10),
		strconv.FormatInt(r.LocalTimestamp.UnixMilli(), 10),
	)
	for _, s := range r.Samples {
		row = append(row, strconv.FormatUint(uint64(s), 10))
	}
	return row
}

// LocationFix is a position reported by a location source.
type LocationFix struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
}

// CSVRow renders the fix as localTimestampMillis,latitude,longitude.
func (f LocationFix) CSVRow() []string {
	return []string{
		strconv.FormatInt(f.Timestamp.UnixMilli(), 10),
		strconv.FormatFloat(f.Latitude, 'f', -1, 64),
		strconv.FormatFloat(f.Longitude, 'f', -1, 64),
	}
}
