package protocol

import (
	"encoding/xml"

	"github.com/shiv248/kolaborate/internal/operation"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/vector"
)

// RequestElem is the XML element form of a request.Request:
//
//	<request user="u" vector="V-diff" time="T" type="do|undo|redo">
//	  <operation .../>
//	</request>
//
// Vector is encoded as a diff against the group's currently shared vector
// (vector.StringDiff); callers on both ends must agree on that origin,
// which is the receiving side's own current vector for an incoming
// request and the group's last-acknowledged vector for an outgoing one.
type RequestElem struct {
	XMLName   xml.Name      `xml:"request"`
	User      uint32        `xml:"user,attr"`
	Vector    string        `xml:"vector,attr"`
	Time      int64         `xml:"time,attr"`
	Type      string        `xml:"type,attr"`
	Operation OperationElem `xml:"operation"`
}

// EncodeRequest converts r into its wire element form, expressing its
// vector as a diff against origin.
func EncodeRequest(r *request.Request, origin *vector.Vector) (RequestElem, error) {
	// Undo/Redo requests carry no operation on the wire: the receiving
	// site resolves its own target via NextUndo/NextRedo on its log. The
	// sender's own committed Operation (if any) would describe a result
	// already specific to the sender's local history, so it is never sent.
	wireOp := operation.Operation(operation.NoOp{})
	if r.Kind == request.Do {
		wireOp = r.Operation
	}
	op, err := EncodeOperation(wireOp)
	if err != nil {
		return RequestElem{}, err
	}
	return RequestElem{
		User:      r.User,
		Vector:    r.Vector.StringDiff(origin),
		Time:      r.Time,
		Type:      r.Kind.String(),
		Operation: op,
	}, nil
}

// DecodeRequest converts a wire element back into a request.Request,
// resolving its vector against origin.
func DecodeRequest(e RequestElem, origin *vector.Vector) (*request.Request, error) {
	v, err := vector.ParseDiff(e.Vector, origin)
	if err != nil {
		return nil, newError("request", MissingStateVector, "bad vector diff %q: %v", e.Vector, err)
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
		return nil, newError("request", InvalidRequest, "unknown request type %q", e.Type)
	}

	var op operation.Operation
	if kind == request.Do {
		op, err = DecodeOperation(e.Operation)
		if err != nil {
			return nil, err
		}
	}

	return &request.Request{
		Vector:    v,
		User:      e.User,
		Time:      e.Time,
		Kind:      kind,
		Operation: op,
	}, nil
}
