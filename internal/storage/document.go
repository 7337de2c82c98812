// Package storage implements directory/filesystem persistence for a
// document's buffer, specified only by its read(path) -> buffer /
// write(path, buffer) interface. This implementation backs that
// interface with SQLite instead of bare files, storing the on-disk XML
// document format as a blob per path.
package storage

import (
	"encoding/xml"
	"fmt"

	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/chunk"
)

// documentElem is the on-disk document format: an XML file
// <inf-text-session> with a <buffer> child containing <segment author="u">
// elements that preserve per-character authorship across save/load.
type documentElem struct {
	XMLName  xml.Name   `xml:"inf-text-session"`
	Encoding string     `xml:"encoding,attr"`
	Buffer   bufferElem `xml:"buffer"`
}

type bufferElem struct {
	Segments []segmentElem `xml:"segment"`
}

type segmentElem struct {
	Author uint32 `xml:"author,attr"`
	Text   string `xml:",chardata"`
}

// encodeDocument renders b as the <inf-text-session> on-disk XML document.
func encodeDocument(b *buffer.Buffer) ([]byte, error) {
	doc := documentElem{Encoding: "utf-8"}
	for _, run := range b.Content().Runs() {
		doc.Buffer.Segments = append(doc.Buffer.Segments, segmentElem{Author: run.Author, Text: run.Text})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("storage: encode document: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// decodeDocument parses an <inf-text-session> document back into a Buffer.
func decodeDocument(data []byte) (*buffer.Buffer, error) {
	var doc documentElem
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("storage: decode document: %w", err)
	}
	c := chunk.New()
	for _, seg := range doc.Buffer.Segments {
		c = chunk.Concat(c, chunk.FromRun(seg.Text, seg.Author))
	}
	return buffer.FromChunk(c), nil
}
