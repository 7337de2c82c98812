package protocol

import (
	"encoding/xml"

	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/user"
	"github.com/shiv248/kolaborate/internal/vector"
)

// SyncBegin opens a synchronization transfer: <sync-begin num-messages="K"/>.
// K is the total count of SyncUser, SyncRequest and SyncSegment elements
// the joiner must see before SyncEnd.
type SyncBegin struct {
	XMLName     xml.Name `xml:"sync-begin"`
	NumMessages int      `xml:"num-messages,attr"`
}

// SyncUser is one participant snapshot sent during synchronization:
// <sync-user id="u" name="N" status="S" caret="C" selection="S" hue="H"
// vector="V" log-begin="B"/>. Vector and LogBegin let the joiner seed its
// own copy of that user's RequestLog without replaying every retained
// request from index 0.
type SyncUser struct {
	XMLName   xml.Name `xml:"sync-user"`
	ID        uint32   `xml:"id,attr"`
	Name      string   `xml:"name,attr"`
	Status    string   `xml:"status,attr"`
	Caret     uint32   `xml:"caret,attr"`
	Selection int32    `xml:"selection,attr"`
	Hue       float64  `xml:"hue,attr"`
	Vector    string   `xml:"vector,attr"`
	LogBegin  int      `xml:"log-begin,attr"`
}

// EncodeSyncUser captures u's current state as a SyncUser element. v is
// the publisher's current vector component view for u; logBegin is the
// first retained index of u's RequestLog.
func EncodeSyncUser(u *user.User, v *vector.Vector, logBegin int) SyncUser {
	return SyncUser{
		ID:        u.ID,
		Name:      u.Name,
		Status:    u.Status.String(),
		Caret:     u.Caret,
		Selection: u.Selection,
		Hue:       u.Hue,
		Vector:    v.String(),
		LogBegin:  logBegin,
	}
}

// SyncRequest is one retained request sent during synchronization, reusing
// RequestElem's shape but named distinctly on the wire.
type SyncRequest struct {
	XMLName   xml.Name      `xml:"sync-request"`
	User      uint32        `xml:"user,attr"`
	Vector    string        `xml:"vector,attr"`
	Time      int64         `xml:"time,attr"`
	Type      string        `xml:"type,attr"`
	Operation OperationElem `xml:"operation"`
}

// EncodeSyncRequest converts a retained request into its sync-request wire
// form. Unlike a live RequestElem, the vector here is absolute (not
// diffed) since a joiner has no shared baseline to diff against until
// synchronization completes.
func EncodeSyncRequest(r *request.Request) (SyncRequest, error) {
	op, err := EncodeOperation(r.Operation)
	if err != nil {
		return SyncRequest{}, err
	}
	return SyncRequest{
		User:      r.User,
		Vector:    r.Vector.String(),
		Time:      r.Time,
		Type:      r.Kind.String(),
		Operation: op,
	}, nil
}

// DecodeSyncRequest is the inverse of EncodeSyncRequest.
func DecodeSyncRequest(e SyncRequest) (*request.Request, error) {
	v, err := vector.Parse(e.Vector)
	if err != nil {
		return nil, newError("sync", SyncBadFormat, "bad vector %q: %v", e.Vector, err)
	}
	var kind request.Kind
	switch e.Type {
	case "do":
		kind = request.Do
	case "undo":
		kind = request.Undo
	case "redo":
		kind = request.Redo
	default:
		return nil, newError("sync", SyncBadFormat, "unknown request type %q", e.Type)
	}
	op, err := DecodeOperation(e.Operation)
	if err != nil {
		return nil, err
	}
	return &request.Request{Vector: v, User: e.User, Time: e.Time, Kind: kind, Operation: op}, nil
}

// SyncSegment is one authored run of the initial buffer snapshot:
// <sync-segment author="u">utf8-text</sync-segment>. Multiple segments in
// sequence form the complete starting buffer.
type SyncSegment struct {
	XMLName xml.Name `xml:"sync-segment"`
	Author  uint32   `xml:"author,attr"`
	Text    string   `xml:",chardata"`
}

// SyncEnd closes the transfer: <sync-end/>.
type SyncEnd struct {
	XMLName xml.Name `xml:"sync-end"`
}

// SyncAck is the joiner's acknowledgment once it has verified it received
// exactly the promised number of messages: <sync-ack/>.
type SyncAck struct {
	XMLName xml.Name `xml:"sync-ack"`
}

// SyncError reports a synchronization failure: either side sends this and
// transitions the session to CLOSED. Domain/Code/Message mirror Error.
type SyncError struct {
	XMLName xml.Name `xml:"sync-error"`
	Domain  string   `xml:"domain,attr"`
	Code    Code     `xml:"code,attr"`
	Message string   `xml:"message,attr"`
}

// EncodeSyncError converts a protocol Error into its wire form.
func EncodeSyncError(err *Error) SyncError {
	return SyncError{Domain: err.Domain, Code: err.Code, Message: err.Message}
}

// Err converts a received SyncError back into a protocol Error.
func (e SyncError) Err() *Error {
	return &Error{Domain: e.Domain, Code: e.Code, Message: e.Message}
}

// Subscribe is sent by a joiner on the directory group to request
// synchronization of a session: <subscribe/>.
type Subscribe struct {
	XMLName xml.Name `xml:"subscribe"`
}

// UserStatusMsg and UserColorChangeMsg are the two text-only session
// messages the central method forwards alongside <request/>.
type UserStatusMsg struct {
	XMLName xml.Name `xml:"user-status"`
	User    uint32   `xml:"user,attr"`
	Status  string   `xml:"status,attr"`
}

type UserColorChangeMsg struct {
	XMLName xml.Name `xml:"user-color-change"`
	User    uint32   `xml:"user,attr"`
	Hue     float64  `xml:"hue,attr"`
}
