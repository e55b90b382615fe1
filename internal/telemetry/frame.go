package telemetry

import (
	"encoding/binary"
	"time"
)

const (
	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 6

	sampleSize = 2
)

// Decode parses a raw notification frame received at receivedAt.
//
// The slot nibble is accepted as is; judging it is the SequenceTracker's job.
// A frame with an unknown channel id yields ErrUnknownChannel and must be dropped.
func Decode(frame []byte, receivedAt time.Time) (Reading, error) {
	if len(frame) < HeaderSize {
		return Reading{}, &DecodeError{Kind: Truncated, Msg: "frame shorter than header"}
	}
	payload := frame[HeaderSize:]
	if len(payload)%sampleSize != 0 {
		return Reading{}, &DecodeError{Kind: Truncated, Msg: "odd payload length"}
	}

	channel := Channel(frame[0] >> 4)
	if !channel.Valid() {
		return Reading{}, &DecodeError{Kind: UnknownChannel, Msg: channel.String()}
	}

	samples := make([]uint16, len(payload)/sampleSize)
	for i := range samples {
		samples[i] = binary.BigEndian.Uint16(payload[i*sampleSize:])
	}

	return Reading{
		Channel:             channel,
		Slot:                frame[0] & 0x0F,
		ReadIndex:           frame[1],
		PeripheralTimestamp: binary.BigEndian.Uint32(frame[2:HeaderSize]),
		LocalTimestamp:      receivedAt,
		Samples:             samples,
	}, nil
}

// Encode renders a reading back into its wire layout. Channel and slot are
// truncated to their nibbles; LocalTimestamp is not part of the frame.
func Encode(r Reading) []byte {
	frame := make([]byte, HeaderSize+len(r.Samples)*sampleSize)
	frame[0] = byte(r.Channel&0x0F)<<4 | r.Slot&0x0F
	frame[1] = r.ReadIndex
	binary.BigEndian.PutUint32(frame[2:HeaderSize], r.PeripheralTimestamp)
	for i, s := range r.Samples {
		binary.BigEndian.PutUint16(frame[HeaderSize+i*sampleSize:], s)
	}
	return frame
}
