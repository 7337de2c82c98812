// Package buffer implements the character-indexed, per-character-authored
// text buffer that the algorithm mutates. It is the one component with
// exactly one active writer at a time, guaranteed by the algorithm calling
// it only from within a single apply call.
package buffer

import (
	"fmt"

	"github.com/shiv248/kolaborate/internal/chunk"
)

// InsertHandler is called after text has been inserted into the buffer.
type InsertHandler func(pos int, c *chunk.Chunk)

// EraseHandler is called after text has been erased from the buffer.
type EraseHandler func(pos int, c *chunk.Chunk)

// Buffer is a mutable, authored character sequence. The zero value is not
// usable; construct one with New.
type Buffer struct {
	content *chunk.Chunk

	insertHandlers []InsertHandler
	eraseHandlers  []EraseHandler
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{content: chunk.New()}
}

// FromChunk returns a buffer initialized with the given content.
func FromChunk(c *chunk.Chunk) *Buffer {
	return &Buffer{content: c.Copy()}
}

// OnInsert registers a handler invoked on every successful InsertText. This
// is the explicit handler-table replacement for the "text-inserted" signal
// of the source system (see DESIGN.md).
func (b *Buffer) OnInsert(h InsertHandler) {
	b.insertHandlers = append(b.insertHandlers, h)
}

// OnErase registers a handler invoked on every successful EraseText.
func (b *Buffer) OnErase(h EraseHandler) {
	b.eraseHandlers = append(b.eraseHandlers, h)
}

// Len returns the buffer's length in characters.
func (b *Buffer) Len() int {
	return b.content.Length()
}

// InsertText inserts c at character offset pos.
func (b *Buffer) InsertText(pos int, c *chunk.Chunk) error {
	if pos < 0 || pos > b.content.Length() {
		return fmt.Errorf("buffer: insert at %d out of bounds (length %d)", pos, b.content.Length())
	}
	b.content = b.content.Insert(pos, c)
	for _, h := range b.insertHandlers {
		h(pos, c)
	}
	return nil
}

// EraseText removes length characters starting at pos and returns the
// removed content.
func (b *Buffer) EraseText(pos, length int) (*chunk.Chunk, error) {
	if pos < 0 || length < 0 || pos+length > b.content.Length() {
		return nil, fmt.Errorf("buffer: erase [%d,%d) out of bounds (length %d)", pos, pos+length, b.content.Length())
	}
	removed := b.content.Substring(pos, length)
	b.content = b.content.Erase(pos, length)
	for _, h := range b.eraseHandlers {
		h(pos, removed)
	}
	return removed, nil
}

// Slice returns the [pos, pos+length) sub-chunk without mutating the
// buffer.
func (b *Buffer) Slice(pos, length int) (*chunk.Chunk, error) {
	if pos < 0 || length < 0 || pos+length > b.content.Length() {
		return nil, fmt.Errorf("buffer: slice [%d,%d) out of bounds (length %d)", pos, pos+length, b.content.Length())
	}
	return b.content.Substring(pos, length), nil
}

// Content returns the buffer's current content as a chunk.
func (b *Buffer) Content() *chunk.Chunk {
	return b.content.Copy()
}

// String returns the buffer's plain-text content.
func (b *Buffer) String() string {
	return b.content.String()
}
