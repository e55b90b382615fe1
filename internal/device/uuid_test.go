package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: TelemetryServiceUUID, want: "10336bc0c8f94de7b637a68b7ef33fc9"},
		{in: "10336BC0-C8F9-4DE7-B637-A68B7EF33FC9", want: "10336bc0c8f94de7b637a68b7ef33fc9"},
		{in: "0x2902", want: "2902"},
		{in: "00002902-0000-1000-8000-00805f9b34fb", want: "2902"},
		{in: " 2A19 ", want: "2a19"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeUUID(tt.in), "NormalizeUUID(%q)", tt.in)
	}
}

func TestParseUUID(t *testing.T) {
	u, err := ParseUUID(TelemetryCharacteristicUUID)
	require.NoError(t, err)
	assert.True(t, u.Equal(ble.MustParse("43336bc0c8f94de7b637a68b7ef33fc9")))

	short, err := ParseUUID("0x2902")
	require.NoError(t, err)
	assert.True(t, short.Equal(ble.ClientCharacteristicConfigUUID), "CCCD MUST parse to its 16-bit form")

	for _, bad := range []string{"", "xyz", "10336bc0-c8f9-4de7-b637", "zz336bc0-c8f9-4de7-b637-a68b7ef33fc9"} {
		_, err := ParseUUID(bad)
		assert.Error(t, err, "ParseUUID(%q) MUST fail", bad)
	}
}

func TestValidateUUID(t *testing.T) {
	got, err := ValidateUUID(TelemetryServiceUUID, "2902")
	require.NoError(t, err)
	assert.Equal(t, []string{"10336bc0c8f94de7b637a68b7ef33fc9", "2902"}, got)

	_, err = ValidateUUID()
	assert.Error(t, err)

	_, err = ValidateUUID("2902", "nope")
	assert.ErrorContains(t, err, "index 1")
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "10336bc0", ShortenUUID(NormalizeUUID(TelemetryServiceUUID)))
	assert.Equal(t, "2902", ShortenUUID("2902"))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		msg  string
		want error
	}{
		{msg: "central manager has invalid state: have=4 want=5: is Bluetooth turned on?", want: ErrBluetoothOff},
		{msg: "device not connected", want: ErrNotConnected},
		{msg: "Device Already Connected", want: ErrAlreadyConnected},
		{msg: "connection is not initialized", want: ErrNotInitialized},
	}
	for _, tt := range tests {
		err := NormalizeError(errors.New(tt.msg))
		assert.ErrorIs(t, err, tt.want, tt.msg)
		assert.Contains(t, err.Error(), tt.msg, "original message MUST be preserved")
	}

	plain := errors.New("something else")
	assert.Same(t, plain, NormalizeError(plain))
	assert.NoError(t, NormalizeError(nil))
	assert.ErrorIs(t, NormalizeError(fmt.Errorf("dial: %w", context.DeadlineExceeded)), ErrTimeout,
		"an expired dial MUST map to ErrTimeout")

	assert.True(t, IsConnectionState(fmt.Errorf("wrapped: %w", ErrClosed), Closed))
	assert.False(t, IsConnectionState(plain, Closed))
}

func TestNotFoundError(t *testing.T) {
	assert.Equal(t, `service "180f" not found`, (&NotFoundError{Resource: "service", UUIDs: []string{"180f"}}).Error())
	assert.Equal(t, `characteristic "2a19" not found in service "180f"`,
		(&NotFoundError{Resource: "characteristic", UUIDs: []string{"180f", "2a19"}}).Error())
	assert.Equal(t, "service not found", (&NotFoundError{Resource: "service"}).Error())
}
