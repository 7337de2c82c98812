// Package protocol implements the XML wire schema exchanged between
// sessions: requests, operations, and the synchronization envelope sent to
// a newly joining participant, plus the stable error-code taxonomy both
// ends use to report protocol violations.
package protocol

import "fmt"

// Code is a stable, version-independent error identifier, suitable for
// sending across the wire in a <sync-error> element or logging without
// leaking Go-specific error text.
type Code string

const (
	InvalidRequest     Code = "INVALID_REQUEST"
	MissingOperation   Code = "MISSING_OPERATION"
	NoSuchUser         Code = "NO_SUCH_USER"
	MissingStateVector Code = "MISSING_STATE_VECTOR"
	SyncBadFormat      Code = "SYNC_BAD_FORMAT"
	SyncUnexpectedEOF  Code = "SYNC_UNEXPECTED_EOF"
	SyncBadSessionType Code = "SYNC_BAD_SESSION_TYPE"
	ReplayBadDocument  Code = "REPLAY_BAD_DOCUMENT"
)

// Error is a typed protocol-level failure carrying one of the codes above.
// It stands in for the out-parameter GError the source system uses: every
// function that can fail this way returns one instead of mutating a
// caller-supplied error pointer.
type Error struct {
	Code    Code
	Domain  string // wire "domain" attribute, e.g. "request" or "sync"
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Domain, e.Code, e.Message)
}

// newError builds an Error with a formatted message.
func newError(domain string, code Code, format string, args ...any) *Error {
	return &Error{Domain: domain, Code: code, Message: fmt.Sprintf(format, args...)}
}
