package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/xml"
	"fmt"

	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/operation"
)

// OperationElem is the XML element form of an operation.Operation:
//
//	<operation type="insert" pos="P">base64-chunk</operation>
//	<operation type="delete" pos="P" len="L">optional-base64-chunk</operation>
//	<operation type="split"><operation/><operation/></operation>
//	<operation type="no-op"/>
//
// Pos and Len are meaningless (and zero) outside insert/delete; Children
// is meaningful only for split. Chunk carries authored text base64-encoded
// by encodeChunk, preserving per-run authorship across the wire.
type OperationElem struct {
	XMLName  xml.Name        `xml:"operation"`
	Type     string          `xml:"type,attr"`
	Pos      uint32          `xml:"pos,attr"`
	Len      uint32          `xml:"len,attr"`
	Chunk    string          `xml:",chardata"`
	Children []OperationElem `xml:"operation"`
}

// EncodeOperation converts op into its wire element form.
func EncodeOperation(op operation.Operation) (OperationElem, error) {
	switch o := op.(type) {
	case operation.NoOp:
		return OperationElem{Type: "no-op"}, nil
	case *operation.Insert:
		return OperationElem{Type: "insert", Pos: o.Pos, Chunk: encodeChunk(o.Chunk)}, nil
	case *operation.Delete:
		e := OperationElem{Type: "delete", Pos: o.Pos, Len: o.Len}
		if o.Chunk != nil {
			e.Chunk = encodeChunk(o.Chunk)
		}
		return e, nil
	case *operation.SplitOp:
		first, err := EncodeOperation(o.First)
		if err != nil {
			return OperationElem{}, err
		}
		second, err := EncodeOperation(o.Second)
		if err != nil {
			return OperationElem{}, err
		}
		return OperationElem{Type: "split", Children: []OperationElem{first, second}}, nil
	default:
		return OperationElem{}, newError("request", InvalidRequest, "unknown operation type %T", op)
	}
}

// DecodeOperation converts a wire element back into an operation.Operation.
func DecodeOperation(e OperationElem) (operation.Operation, error) {
	switch e.Type {
	case "no-op":
		return operation.NoOp{}, nil
	case "insert":
		c, err := decodeChunk(e.Chunk)
		if err != nil {
			return nil, newError("request", InvalidRequest, "insert: %v", err)
		}
		return &operation.Insert{Pos: e.Pos, Chunk: c}, nil
	case "delete":
		var c *chunk.Chunk
		if e.Chunk != "" {
			var err error
			c, err = decodeChunk(e.Chunk)
			if err != nil {
				return nil, newError("request", InvalidRequest, "delete: %v", err)
			}
		}
		return &operation.Delete{Pos: e.Pos, Len: e.Len, Chunk: c}, nil
	case "split":
		if len(e.Children) != 2 {
			return nil, newError("request", InvalidRequest, "split operation needs exactly two children, got %d", len(e.Children))
		}
		first, err := DecodeOperation(e.Children[0])
		if err != nil {
			return nil, err
		}
		second, err := DecodeOperation(e.Children[1])
		if err != nil {
			return nil, err
		}
		return &operation.SplitOp{First: first, Second: second}, nil
	case "":
		return nil, newError("request", MissingOperation, "operation element is missing its type attribute")
	default:
		return nil, newError("request", InvalidRequest, "unknown operation type %q", e.Type)
	}
}

// encodeChunk serializes a chunk's runs as author(4 bytes BE) + length(4
// bytes BE) + UTF-8 text, repeated per run, then base64-encodes the
// result. No third-party codec in the example pack models authored-run
// text, so this is a small ad hoc framing over the standard library.
func encodeChunk(c *chunk.Chunk) string {
	var buf bytes.Buffer
	for _, r := range c.Runs() {
		var hdr [8]byte
		binary.BigEndian.PutUint32(hdr[0:4], r.Author)
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(r.Text)))
		buf.Write(hdr[:])
		buf.WriteString(r.Text)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// decodeChunk is the inverse of encodeChunk.
func decodeChunk(s string) (*chunk.Chunk, error) {
	if s == "" {
		return chunk.New(), nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bad base64 chunk: %w", err)
	}
	out := chunk.New()
	for len(raw) > 0 {
		if len(raw) < 8 {
			return nil, fmt.Errorf("truncated chunk run header")
		}
		author := binary.BigEndian.Uint32(raw[0:4])
		n := binary.BigEndian.Uint32(raw[4:8])
		raw = raw[8:]
		if uint64(len(raw)) < uint64(n) {
			return nil, fmt.Errorf("truncated chunk run text")
		}
		out = chunk.Concat(out, chunk.FromRun(string(raw[:n]), author))
		raw = raw[n:]
	}
	return out, nil
}
