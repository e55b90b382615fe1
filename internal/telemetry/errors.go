package telemetry

import "fmt"

// DecodeErrorKind represents the specific reason a frame could not be decoded
type DecodeErrorKind string

const (
	Truncated      DecodeErrorKind = "truncated"
	UnknownChannel DecodeErrorKind = "unknown_channel"
)

// DecodeError describes a malformed or unrecognized frame
type DecodeError struct {
	Kind DecodeErrorKind
	Msg  string
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for decode failures
var (
	ErrTruncated      = &DecodeError{Kind: Truncated}
	ErrUnknownChannel = &DecodeError{Kind: UnknownChannel}
)
