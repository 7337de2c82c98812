// Package replay implements a record/replay format: an initial buffer
// snapshot followed by a serialized, reception-ordered sequence of
// requests, from which the full edit history of a session can be
// deterministically reconstructed.
package replay

import (
	"encoding/xml"
	"fmt"

	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/vector"
)

type recordElem struct {
	XMLName  xml.Name            `xml:"infinote-adopted-session-record"`
	Buffer   recordBufferElem    `xml:"buffer"`
	Requests []requestRecordElem `xml:"request"`
}

type recordBufferElem struct {
	Segments []recordSegmentElem `xml:"segment"`
}

type recordSegmentElem struct {
	Author uint32 `xml:"author,attr"`
	Text   string `xml:",chardata"`
}

// requestRecordElem is shaped like protocol.SyncRequest (absolute vector,
// full operation) but carries its own element name: a record's <request>
// is reception-ordered history, not a synchronization-transfer item.
type requestRecordElem struct {
	XMLName   xml.Name               `xml:"request"`
	User      uint32                 `xml:"user,attr"`
	Vector    string                 `xml:"vector,attr"`
	Time      int64                  `xml:"time,attr"`
	Type      string                 `xml:"type,attr"`
	Operation protocol.OperationElem `xml:"operation"`
}

func encodeRequestRecord(r *request.Request) (requestRecordElem, error) {
	op, err := protocol.EncodeOperation(r.Operation)
	if err != nil {
		return requestRecordElem{}, err
	}
	return requestRecordElem{
		User:      r.User,
		Vector:    r.Vector.String(),
		Time:      r.Time,
		Type:      r.Kind.String(),
		Operation: op,
	}, nil
}

func decodeRequestRecord(e requestRecordElem) (*request.Request, error) {
	v, err := vector.Parse(e.Vector)
	if err != nil {
		return nil, badDocument("bad vector %q: %v", e.Vector, err)
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
		return nil, badDocument("unknown request type %q", e.Type)
	}
	op, err := protocol.DecodeOperation(e.Operation)
	if err != nil {
		return nil, badDocument("bad operation: %v", err)
	}
	return &request.Request{Vector: v, User: e.User, Time: e.Time, Kind: kind, Operation: op}, nil
}

func badDocument(format string, args ...any) *protocol.Error {
	return &protocol.Error{Domain: "replay", Code: protocol.ReplayBadDocument, Message: fmt.Sprintf(format, args...)}
}

func snapshotToChunk(buf recordBufferElem) *chunk.Chunk {
	c := chunk.New()
	for _, seg := range buf.Segments {
		c = chunk.Concat(c, chunk.FromRun(seg.Text, seg.Author))
	}
	return c
}
