package replay

import (
	"encoding/xml"
	"fmt"

	"github.com/shiv248/kolaborate/internal/algorithm"
	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/protocol"
)

// Replayer reconstructs a session's history from a recorded document one
// request at a time, or all at once. Grounded on
// inf_adopted_session_replay_play_next/play_to_end: each call of PlayNext
// deterministically applies the next recorded request to an internal
// algorithm.Algorithm, exactly as it was originally applied, so the
// caller can step through history (e.g. to drive a "show me the document
// five minutes ago" view) rather than only ever landing on the final
// state.
type Replayer struct {
	algo     *algorithm.Algorithm
	pending  []requestRecordElem
	position int
}

// NewReplayer parses a recorded document and prepares to play it back
// against a fresh algorithm with the given max log size. It does not
// apply any request yet; call PlayNext or PlayToEnd.
func NewReplayer(data []byte, maxLogSize int) (*Replayer, error) {
	var doc recordElem
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, badDocument("parse: %v", err)
	}
	buf := buffer.FromChunk(snapshotToChunk(doc.Buffer))
	return &Replayer{
		algo:    algorithm.New(buf, maxLogSize),
		pending: doc.Requests,
	}, nil
}

// Done reports whether every recorded request has been played.
func (p *Replayer) Done() bool {
	return p.position >= len(p.pending)
}

// PlayNext applies the next recorded request and advances the replay
// position. It returns false once nothing remains to play.
func (p *Replayer) PlayNext() (bool, error) {
	if p.Done() {
		return false, nil
	}
	e := p.pending[p.position]
	r, err := decodeRequestRecord(e)
	if err != nil {
		return false, err
	}
	if err := p.algo.Receive(r); err != nil {
		return false, &protocol.Error{Domain: "replay", Code: protocol.ReplayBadDocument, Message: fmt.Sprintf("request %d: %v", p.position, err)}
	}
	p.position++
	return !p.Done(), nil
}

// PlayToEnd applies every remaining recorded request in order.
func (p *Replayer) PlayToEnd() error {
	for !p.Done() {
		if _, err := p.PlayNext(); err != nil {
			return err
		}
	}
	return nil
}

// Buffer returns the buffer state reached so far.
func (p *Replayer) Buffer() *buffer.Buffer {
	return p.algo.Buffer()
}

// Algorithm returns the underlying algorithm, for callers that want full
// access (CurrentVector, per-user logs) to the state reached so far.
func (p *Replayer) Algorithm() *algorithm.Algorithm {
	return p.algo
}
