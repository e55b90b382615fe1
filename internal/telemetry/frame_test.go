package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	receivedAt := time.UnixMilli(1_700_000_000_123)

	tests := []struct {
		name    string
		frame   []byte
		want    Reading
		wantErr error
	}{
		{
			name:  "rear frame with two samples",
			frame: []byte{0x10, 0x07, 0x00, 0x00, 0x01, 0x00, 0x12, 0x34, 0xFF, 0xFF},
			want: Reading{
				Channel:             ChannelRear,
				Slot:                0,
				ReadIndex:           7,
				PeripheralTimestamp: 256,
				LocalTimestamp:      receivedAt,
				Samples:             []uint16{0x1234, 0xFFFF},
			},
		},
		{
			name:  "side frame with slot 2",
			frame: []byte{0x22, 0xFF, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01},
			want: Reading{
				Channel:             ChannelSide,
				Slot:                2,
				ReadIndex:           255,
				PeripheralTimestamp: 0xDEADBEEF,
				LocalTimestamp:      receivedAt,
				Samples:             []uint16{1},
			},
		},
		{
			name:  "out of range slot is accepted structurally",
			frame: []byte{0x1F, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x02},
			want: Reading{
				Channel:             ChannelRear,
				Slot:                15,
				PeripheralTimestamp: 1,
				LocalTimestamp:      receivedAt,
				Samples:             []uint16{2},
			},
		},
		{
			name:  "header only frame has no samples",
			frame: []byte{0x11, 0x01, 0x00, 0x00, 0x00, 0x02},
			want: Reading{
				Channel:             ChannelRear,
				Slot:                1,
				ReadIndex:           1,
				PeripheralTimestamp: 2,
				LocalTimestamp:      receivedAt,
				Samples:             []uint16{},
			},
		},
		{
			name:    "empty frame",
			frame:   nil,
			wantErr: ErrTruncated,
		},
		{
			name:    "five byte frame",
			frame:   []byte{0x10, 0x00, 0x00, 0x00, 0x00},
			wantErr: ErrTruncated,
		},
		{
			name:    "odd payload",
			frame:   []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03},
			wantErr: ErrTruncated,
		},
		{
			name:    "channel zero",
			frame:   []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02},
			wantErr: ErrUnknownChannel,
		},
		{
			name:    "channel three",
			frame:   []byte{0x30, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02},
			wantErr: ErrUnknownChannel,
		},
		{
			name:    "truncation wins over unknown channel",
			frame:   []byte{0x30, 0x00, 0x00},
			wantErr: ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.frame, receivedAt)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "error %v MUST match %v", err, tt.wantErr)

				var decodeErr *DecodeError
				assert.ErrorAs(t, err, &decodeErr, "error MUST be a DecodeError")
				assert.Equal(t, Reading{}, got, "failed decode MUST NOT produce a reading")
				return
			}

			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// Every valid 6+2k byte frame with a known channel must survive decode and re-encode.
	for _, channel := range []byte{1, 2} {
		for slot := byte(0); slot < 16; slot++ {
			for samples := 0; samples <= 8; samples++ {
				frame := make([]byte, HeaderSize+samples*2)
				frame[0] = channel<<4 | slot
				frame[1] = byte(samples*31 + int(slot))
				frame[2], frame[3], frame[4], frame[5] = 0x80, slot, byte(samples), 0x7F
				for i := HeaderSize; i < len(frame); i++ {
					frame[i] = byte(i*17 + int(slot))
				}

				reading, err := Decode(frame, time.Time{})
				require.NoError(t, err)
				assert.Equal(t, frame, Encode(reading), "round trip MUST reproduce frame %x", frame)
			}
		}
	}
}

func TestDecodeDoesNotAliasFrame(t *testing.T) {
	frame := []byte{0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05}
	reading, err := Decode(frame, time.Time{})
	require.NoError(t, err)

	frame[7] = 0x09
	assert.Equal(t, []uint16{5}, reading.Samples, "decoded samples MUST be independent of the frame buffer")
}

func TestDecodeError(t *testing.T) {
	err := &DecodeError{Kind: UnknownChannel, Msg: "channel(3)"}
	assert.Equal(t, "unknown_channel: channel(3)", err.Error())
	assert.Equal(t, "truncated", ErrTruncated.Error())
	assert.False(t, errors.Is(err, ErrTruncated))
	assert.True(t, errors.Is(err, ErrUnknownChannel))
}

func TestReadingCSVRow(t *testing.T) {
	r := Reading{
		Channel:             ChannelSide,
		Slot:                1,
		ReadIndex:           42,
		PeripheralTimestamp: 4_000_000_000,
		LocalTimestamp:      time.UnixMilli(1_700_000_000_123),
		Samples:             []uint16{0, 65535, 10},
	}

	assert.Equal(t,
		[]string{"2", "1", "42", "4000000000", "1700000000123", "0", "65535", "10"},
		r.CSVRow())

	first, ok := r.FirstSample()
	assert.True(t, ok)
	assert.Equal(t, uint16(0), first)

	_, ok = Reading{}.FirstSample()
	assert.False(t, ok, "reading without samples MUST report no first sample")
}

func TestLocationFixCSVRow(t *testing.T) {
	fix := LocationFix{
		Timestamp: time.UnixMilli(1_700_000_000_999),
		Latitude:  47.6062,
		Longitude: -122.3321,
	}
	assert.Equal(t, []string{"1700000000999", "47.6062", "-122.3321"}, fix.CSVRow())
}

func TestChannelStream(t *testing.T) {
	s, ok := ChannelRear.Stream()
	assert.True(t, ok)
	assert.Equal(t, StreamRear, s)

	s, ok = ChannelSide.Stream()
	assert.True(t, ok)
	assert.Equal(t, StreamSide, s)

	_, ok = Channel(7).Stream()
	assert.False(t, ok)
	assert.Equal(t, "channel(7)", Channel(7).String())
}
