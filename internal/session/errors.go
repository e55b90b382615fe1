package session

import "fmt"

// LinkErrorKind represents why a session reached its terminal state
type LinkErrorKind string

const (
	ReconnectTimeout  LinkErrorKind = "reconnect_timeout"
	ReconnectRejected LinkErrorKind = "reconnect_rejected"
	LinkLost          LinkErrorKind = "link_lost"
	ConnectFailed     LinkErrorKind = "connect_failed"
	SessionClosed     LinkErrorKind = "session_closed"
)

// LinkError describes a terminal link failure
type LinkError struct {
	Kind LinkErrorKind
	Msg  string
}

// Error implements the error interface
func (e *LinkError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Is allows errors.Is to compare LinkError values by Kind
func (e *LinkError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*LinkError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for terminal causes
var (
	ErrReconnectTimeout  = &LinkError{Kind: ReconnectTimeout}
	ErrReconnectRejected = &LinkError{Kind: ReconnectRejected}
	ErrLinkLost          = &LinkError{Kind: LinkLost}
	ErrConnectFailed     = &LinkError{Kind: ConnectFailed}
	ErrSessionClosed     = &LinkError{Kind: SessionClosed}
)
