package buffer

import (
	"testing"

	"github.com/shiv248/kolaborate/internal/chunk"
)

func TestInsertEraseEvents(t *testing.T) {
	b := New()
	var insertedAt int
	var erasedText string

	b.OnInsert(func(pos int, c *chunk.Chunk) { insertedAt = pos })
	b.OnErase(func(pos int, c *chunk.Chunk) { erasedText = c.String() })

	if err := b.InsertText(0, chunk.FromRun("hello", 1)); err != nil {
		t.Fatal(err)
	}
	if insertedAt != 0 {
		t.Fatalf("insert handler saw pos %d, want 0", insertedAt)
	}

	if _, err := b.EraseText(1, 3); err != nil {
		t.Fatal(err)
	}
	if erasedText != "ell" {
		t.Fatalf("erase handler saw %q, want ell", erasedText)
	}
	if b.String() != "ho" {
		t.Fatalf("buffer = %q, want ho", b.String())
	}
}

func TestOutOfBounds(t *testing.T) {
	b := FromChunk(chunk.FromRun("abc", 1))
	if err := b.InsertText(10, chunk.FromRun("x", 1)); err == nil {
		t.Fatal("expected out-of-bounds insert to fail")
	}
	if _, err := b.EraseText(2, 5); err == nil {
		t.Fatal("expected out-of-bounds erase to fail")
	}
}
