package algorithm

import (
	"testing"

	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/operation"
)

func newSite(initial string) *Algorithm {
	buf := buffer.FromChunk(chunk.FromRun(initial, 0))
	return New(buf, 4096)
}

func (a *Algorithm) text() string { return a.buf.String() }

// TestScenarioAConcurrentInsert reproduces spec.md §8 Scenario A end to end
// through two independent Algorithm instances exchanging requests.
func TestScenarioAConcurrentInsert(t *testing.T) {
	site1, site2 := newSite("abc"), newSite("abc")

	req1, err := site1.GenerateLocal(1, &operation.Insert{Pos: 1, Chunk: chunk.FromRun("X", 1)})
	if err != nil {
		t.Fatal(err)
	}
	req2, err := site2.GenerateLocal(2, &operation.Insert{Pos: 2, Chunk: chunk.FromRun("Y", 2)})
	if err != nil {
		t.Fatal(err)
	}

	if err := site2.Receive(req1.Copy()); err != nil {
		t.Fatal(err)
	}
	if err := site1.Receive(req2.Copy()); err != nil {
		t.Fatal(err)
	}

	if site1.text() != "aXbYc" {
		t.Fatalf("site1 = %q, want aXbYc", site1.text())
	}
	if site1.text() != site2.text() {
		t.Fatalf("site1 = %q, site2 = %q: convergence violated", site1.text(), site2.text())
	}
}

// TestScenarioBInsertVsDeleteEnclosure reproduces spec.md §8 Scenario B.
func TestScenarioBInsertVsDeleteEnclosure(t *testing.T) {
	site1, site2 := newSite("abcdef"), newSite("abcdef")

	req1, err := site1.GenerateLocal(1, &operation.Delete{Pos: 1, Len: 4})
	if err != nil {
		t.Fatal(err)
	}
	req2, err := site2.GenerateLocal(2, &operation.Insert{Pos: 3, Chunk: chunk.FromRun("X", 2)})
	if err != nil {
		t.Fatal(err)
	}

	if err := site2.Receive(req1.Copy()); err != nil {
		t.Fatal(err)
	}
	if err := site1.Receive(req2.Copy()); err != nil {
		t.Fatal(err)
	}

	if site1.text() != "aXf" {
		t.Fatalf("site1 = %q, want aXf", site1.text())
	}
	if site1.text() != site2.text() {
		t.Fatalf("site1 = %q, site2 = %q: convergence violated", site1.text(), site2.text())
	}
}

// TestScenarioCUndoAcrossConcurrentInsert reproduces spec.md §8 Scenario C:
// undoing a request must restore the state as of just after it, not erase
// concurrent work interleaved around it.
func TestScenarioCUndoAcrossConcurrentInsert(t *testing.T) {
	site1, site2 := newSite(""), newSite("")

	req1, err := site1.GenerateLocal(1, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("hello", 1)})
	if err != nil {
		t.Fatal(err)
	}
	req2, err := site2.GenerateLocal(2, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("HI", 2)})
	if err != nil {
		t.Fatal(err)
	}

	if err := site2.Receive(req1.Copy()); err != nil {
		t.Fatal(err)
	}
	if err := site1.Receive(req2.Copy()); err != nil {
		t.Fatal(err)
	}
	if site1.text() != site2.text() {
		t.Fatalf("site1 = %q, site2 = %q: convergence violated before undo", site1.text(), site2.text())
	}
	merged := site1.text()
	if len(merged) != len("helloHI") {
		t.Fatalf("merged text %q has unexpected length", merged)
	}

	undo1, err := site1.GenerateUndo(1)
	if err != nil {
		t.Fatal(err)
	}
	if site1.text() != "HI" {
		t.Fatalf("after undoing U1's insert, site1 = %q, want HI", site1.text())
	}

	if err := site2.Receive(undo1.Copy()); err != nil {
		t.Fatal(err)
	}
	if site2.text() != "HI" {
		t.Fatalf("after receiving U1's undo, site2 = %q, want HI", site2.text())
	}
}

func TestVectorMonotonicity(t *testing.T) {
	site := newSite("abc")
	before := site.CurrentVector()
	if _, err := site.GenerateLocal(1, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("x", 1)}); err != nil {
		t.Fatal(err)
	}
	after := site.CurrentVector()

	if after.Get(1) != before.Get(1)+1 {
		t.Fatalf("user 1 component should increase by exactly 1, got %d -> %d", before.Get(1), after.Get(1))
	}
}

func TestLogContiguity(t *testing.T) {
	site := newSite("")
	for i := 0; i < 5; i++ {
		if _, err := site.GenerateLocal(1, &operation.Insert{Pos: uint32(i), Chunk: chunk.FromRun("a", 1)}); err != nil {
			t.Fatal(err)
		}
	}
	log := site.logFor(1)
	if log.Begin() != 0 || log.End() != 5 {
		t.Fatalf("log = [%d,%d), want [0,5)", log.Begin(), log.End())
	}
	for i := log.Begin(); i < log.End(); i++ {
		if _, ok := log.Get(i); !ok {
			t.Fatalf("gap at index %d in [%d,%d)", i, log.Begin(), log.End())
		}
	}
}

func TestCanUndoRedoTransitions(t *testing.T) {
	site := newSite("")
	if site.CanUndo(1) {
		t.Fatal("nothing to undo yet")
	}
	site.GenerateLocal(1, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("a", 1)})
	if !site.CanUndo(1) {
		t.Fatal("should be able to undo after a Do")
	}
	if site.CanRedo(1) {
		t.Fatal("nothing to redo yet")
	}
	site.GenerateUndo(1)
	if site.CanUndo(1) {
		t.Fatal("should have nothing left to undo")
	}
	if !site.CanRedo(1) {
		t.Fatal("should be able to redo after an undo")
	}
}

func TestOutOfOrderRemoteRequestIsBuffered(t *testing.T) {
	producer := newSite("abc")
	consumer := newSite("abc")

	req1, _ := producer.GenerateLocal(1, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("x", 1)})
	req2, _ := producer.GenerateLocal(1, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("y", 1)})

	// Deliver out of order: req2 arrives before req1 and cannot apply yet.
	if err := consumer.Receive(req2.Copy()); err != nil {
		t.Fatal(err)
	}
	if consumer.text() != "abc" {
		t.Fatalf("out-of-order request should not have applied yet, got %q", consumer.text())
	}

	if err := consumer.Receive(req1.Copy()); err != nil {
		t.Fatal(err)
	}
	if consumer.text() != producer.text() {
		t.Fatalf("consumer = %q, producer = %q: buffered request should have drained", consumer.text(), producer.text())
	}
}
