package storage

import (
	"testing"

	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/pkg/database"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db.DB())
}

func TestReadMissingPathReturnsNil(t *testing.T) {
	s := newStore(t)
	b, err := s.Read("/docs/missing")
	if err != nil {
		t.Fatal(err)
	}
	if b != nil {
		t.Fatalf("expected nil buffer for a path never written, got %v", b)
	}
}

func TestWriteThenReadRoundtripsAuthorship(t *testing.T) {
	s := newStore(t)
	c := chunk.Concat(chunk.FromRun("hello ", 1), chunk.FromRun("world", 2))
	want := buffer.FromChunk(c)

	if err := s.Write("/docs/a", want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read("/docs/a")
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != want.String() {
		t.Fatalf("got %q, want %q", got.String(), want.String())
	}
	for _, run := range got.Content().Runs() {
		if run.Author == 0 {
			t.Fatalf("run %q lost its author across a save/load roundtrip", run.Text)
		}
	}
}

func TestWriteOverwritesExistingSnapshot(t *testing.T) {
	s := newStore(t)
	if err := s.Write("/docs/a", buffer.FromChunk(chunk.FromRun("first", 1))); err != nil {
		t.Fatal(err)
	}
	if err := s.Write("/docs/a", buffer.FromChunk(chunk.FromRun("second", 1))); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read("/docs/a")
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "second" {
		t.Fatalf("got %q, want %q", got.String(), "second")
	}
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	s := newStore(t)
	if err := s.Write("/docs/a", buffer.FromChunk(chunk.FromRun("x", 1))); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("/docs/a"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Read("/docs/a")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil after delete, got %v", got)
	}
}
