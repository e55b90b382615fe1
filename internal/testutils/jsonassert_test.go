package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/srg/blerec/internal/eventbus"
)

func sprintf(format string, args ...interface{}) string {
	return fmt.Sprintf(format, args...)
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).Options()

	if !opts.IgnoreExtraKeys {
		t.Error("Expected IgnoreExtraKeys to be true by default")
	}
	if !opts.AllowPresencePlaceholder {
		t.Error("Expected AllowPresencePlaceholder to be true by default")
	}
	if len(opts.IgnoredFields) != 0 {
		t.Errorf("Expected no ignored fields by default, got %v", opts.IgnoredFields)
	}
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		same     bool
	}{
		{
			name:     "identical",
			actual:   `{"a":1,"b":"x"}`,
			expected: `{"a":1,"b":"x"}`,
			same:     true,
		},
		{
			name:     "extra keys ignored",
			actual:   `{"a":1,"b":"x"}`,
			expected: `{"a":1}`,
			same:     true,
		},
		{
			name:     "extra keys reported",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"a":1,"b":"x"}`,
			expected: `{"a":1}`,
			same:     false,
		},
		{
			name:     "value mismatch",
			actual:   `{"a":2}`,
			expected: `{"a":1}`,
			same:     false,
		},
		{
			name:     "presence placeholder",
			actual:   `{"ts":"2024-01-01T00:00:00Z","a":1}`,
			expected: `{"ts":"<<PRESENCE>>","a":1}`,
			same:     true,
		},
		{
			name:     "presence placeholder needs the key",
			actual:   `{"a":1}`,
			expected: `{"ts":"<<PRESENCE>>","a":1}`,
			same:     false,
		},
		{
			name:     "placeholder disabled",
			opts:     []Option{WithAllowPresencePlaceholder(false)},
			actual:   `{"ts":"x"}`,
			expected: `{"ts":"<<PRESENCE>>"}`,
			same:     false,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("ts")},
			actual:   `{"ts":1,"inner":{"ts":2,"v":3}}`,
			expected: `{"ts":9,"inner":{"ts":8,"v":3}}`,
			same:     true,
		},
		{
			name:     "top level arrays",
			actual:   `[{"a":1,"b":2},{"a":3}]`,
			expected: `[{"a":1},{"a":3}]`,
			same:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.same && diff != "" {
				t.Errorf("Expected no diff, got:\n%s", diff)
			}
			if !tt.same && diff == "" {
				t.Errorf("Expected a diff")
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(t)

	if diff := ja.Diff(`{`, `{}`); !strings.Contains(diff, "invalid actual JSON") {
		t.Errorf("Expected invalid actual JSON, got: %s", diff)
	}
	if diff := ja.Diff(`{}`, `{`); !strings.Contains(diff, "invalid expected JSON") {
		t.Errorf("Expected invalid expected JSON, got: %s", diff)
	}
}

func TestJSONAsserter_AssertEvent(t *testing.T) {
	mockT := &mockTestingT{}
	ja := NewJSONAsserter(mockT)

	ok := ja.AssertEvent(eventbus.Connected{PeerName: "rig-01"}, `{"kind":"connected","data":{"peer_name":"rig-01"}}`)
	if !ok {
		t.Errorf("Expected event to match, got: %s", mockT.errorMessage)
	}

	ok = ja.AssertEvent(eventbus.Disconnected{Reason: "stopped"}, `{"kind":"disconnected","data":{"reason":"lost"}}`)
	if ok || !strings.Contains(mockT.errorMessage, "JSON assertion failed") {
		t.Errorf("Expected mismatch to be reported, got: %s", mockT.errorMessage)
	}
}
