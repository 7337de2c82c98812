package session

import (
	"testing"

	"github.com/shiv248/kolaborate/internal/algorithm"
	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/operation"
	"github.com/shiv248/kolaborate/internal/protocol"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/user"
)

func newPublisher(t *testing.T, initial string) *Session {
	t.Helper()
	algo := algorithm.New(buffer.FromChunk(chunk.FromRun(initial, 0)), 4096)
	s := New(algo, Publisher)
	if err := s.Users.Add(&user.User{ID: 1, Name: "alice", Status: user.Active, Flags: user.Flags{Local: true}}); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPublisherStartsRunning(t *testing.T) {
	s := newPublisher(t, "abc")
	if s.Status() != Running {
		t.Fatalf("publisher status = %s, want running", s.Status())
	}
}

func TestMemberStartsPreSync(t *testing.T) {
	algo := algorithm.New(buffer.New(), 4096)
	s := New(algo, Member)
	if s.Status() != PreSync {
		t.Fatalf("member status = %s, want presync", s.Status())
	}
}

// TestCentralMethodNonPublisherRejectsPeerMessage verifies the forwarding
// rule of spec.md §4.6: a non-publisher session only trusts a request that
// arrived from the publisher.
func TestCentralMethodNonPublisherRejectsPeerMessage(t *testing.T) {
	algo := algorithm.New(buffer.FromChunk(chunk.FromRun("abc", 0)), 4096)
	s := New(algo, Member)
	s.setStatus(Running)

	r := &request.Request{Vector: algo.CurrentVector(), User: 2, Time: 1, Kind: request.Do,
		Operation: &operation.Insert{Pos: 0, Chunk: chunk.FromRun("x", 2)}}

	if err := s.ReceiveRequest(false, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if algo.CurrentVector().Get(2) != 0 {
		t.Fatal("a request not sourced from the publisher must be silently dropped, not applied")
	}
}

func TestCentralMethodTrustsPublisherOrigin(t *testing.T) {
	algo := algorithm.New(buffer.FromChunk(chunk.FromRun("abc", 0)), 4096)
	s := New(algo, Member)
	s.setStatus(Running)

	r := &request.Request{Vector: algo.CurrentVector(), User: 2, Time: 1, Kind: request.Do,
		Operation: &operation.Insert{Pos: 0, Chunk: chunk.FromRun("x", 2)}}

	if err := s.ReceiveRequest(true, r); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if algo.CurrentVector().Get(2) != 1 {
		t.Fatal("a request sourced from the publisher must be applied")
	}
}

// TestPublisherRebroadcastsVerbatim verifies the other half of the central
// method: the publisher re-broadcasts anything it receives to every other
// member.
func TestPublisherRebroadcastsVerbatim(t *testing.T) {
	s := newPublisher(t, "abc")
	var broadcasted []any
	s.OnOutgoing(func(origin uint32, msg any) { broadcasted = append(broadcasted, msg) })

	r := &request.Request{Vector: s.Algo.CurrentVector(), User: 2, Time: 1, Kind: request.Do,
		Operation: &operation.Insert{Pos: 0, Chunk: chunk.FromRun("x", 2)}}
	if err := s.ReceiveRequest(false, r); err != nil {
		t.Fatal(err)
	}
	if len(broadcasted) != 1 {
		t.Fatalf("expected exactly one rebroadcast, got %d", len(broadcasted))
	}
}

func TestSyncRoundtripReproducesBufferAndVector(t *testing.T) {
	pub := newPublisher(t, "abc")
	if _, err := pub.Algo.GenerateLocal(1, &operation.Insert{Pos: 1, Chunk: chunk.FromRun("X", 1)}); err != nil {
		t.Fatal(err)
	}

	items, err := BuildSyncItems(pub)
	if err != nil {
		t.Fatal(err)
	}

	syncer := NewSyncer(len(items))
	for _, it := range items {
		syncer.Accept(it)
	}
	if syncer.Failed() != nil {
		t.Fatalf("unexpected sync failure: %v", syncer.Failed())
	}

	joined, serr := syncer.Finish(4096)
	if serr != nil {
		t.Fatalf("Finish: %v", serr)
	}
	if joined.Status() != Running {
		t.Fatalf("joined status = %s, want running", joined.Status())
	}
	if joined.Algo.Buffer().String() != pub.Algo.Buffer().String() {
		t.Fatalf("joined buffer = %q, want %q", joined.Algo.Buffer().String(), pub.Algo.Buffer().String())
	}
	if !joined.Algo.CurrentVector().Equal(pub.Algo.CurrentVector()) {
		t.Fatalf("joined vector = %s, want %s", joined.Algo.CurrentVector(), pub.Algo.CurrentVector())
	}

	// The joined session must be able to apply a further request from the
	// original publisher's user without re-deriving its history.
	req, err := pub.Algo.GenerateLocal(1, &operation.Insert{Pos: 0, Chunk: chunk.FromRun("Y", 1)})
	if err != nil {
		t.Fatal(err)
	}
	if err := joined.Algo.Receive(req.Copy()); err != nil {
		t.Fatalf("joined site could not apply a post-sync request: %v", err)
	}
	if joined.Algo.Buffer().String() != pub.Algo.Buffer().String() {
		t.Fatalf("joined = %q, publisher = %q after a post-sync edit", joined.Algo.Buffer().String(), pub.Algo.Buffer().String())
	}
}

func TestSyncerRejectsPartialTransfer(t *testing.T) {
	syncer := NewSyncer(2)
	syncer.Accept(Item{Segment: &protocol.SyncSegment{Author: 1, Text: "a"}})
	// Only 1 of the 2 promised items arrived; Finish must not silently
	// accept a sync-end that came early.
	if _, err := syncer.Finish(4096); err == nil {
		t.Fatal("expected Finish to reject a partial transfer")
	}
}

func TestSyncerRejectsTooManyItems(t *testing.T) {
	syncer := NewSyncer(1)
	syncer.Accept(Item{Segment: &protocol.SyncSegment{Author: 1, Text: "a"}})
	syncer.Accept(Item{Segment: &protocol.SyncSegment{Author: 1, Text: "b"}})
	if syncer.Failed() == nil {
		t.Fatal("expected the syncer to reject more items than num-messages promised")
	}
}
