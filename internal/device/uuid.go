package device

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
)

// GATT identity of the telemetry peripheral.
const (
	TelemetryServiceUUID        = "10336bc0-c8f9-4de7-b637-a68b7ef33fc9"
	TelemetryCharacteristicUUID = "43336bc0-c8f9-4de7-b637-a68b7ef33fc9"
)

// NormalizeUUID converts a UUID string to lowercase without dashes or a 0x prefix.
// Full UUIDs in Bluetooth SIG base format collapse to their 16-bit short form.
func NormalizeUUID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, "00001000800000805f9b34fb") {
		return s[4:8]
	}
	return s
}

// ShortenUUID returns a truncated version of a UUID for display purposes.
func ShortenUUID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// ParseUUID validates a 16-bit or 128-bit UUID string and converts it to the
// go-ble representation.
func ParseUUID(s string) (ble.UUID, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("UUID cannot be empty")
	}
	normalized := NormalizeUUID(s)
	switch len(normalized) {
	case 4:
	case 32:
		if _, err := uuid.Parse(normalized); err != nil {
			return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
	default:
		return nil, fmt.Errorf("invalid UUID %q: expected 16-bit or 128-bit form", s)
	}

	u, err := ble.Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// ValidateUUID validates that UUID strings are non-empty and well-formed.
// Returns normalized UUID strings or an error.
func ValidateUUID(uuids ...string) ([]string, error) {
	if len(uuids) == 0 {
		return nil, fmt.Errorf("at least one UUID is required")
	}

	result := make([]string, 0, len(uuids))
	for i, u := range uuids {
		if _, err := ParseUUID(u); err != nil {
			return nil, fmt.Errorf("UUID at index %d: %w", i, err)
		}
		result = append(result, NormalizeUUID(u))
	}
	return result, nil
}
