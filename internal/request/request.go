// Package request implements the immutable Request tuple and the per-user
// bounded RequestLog with its undo/redo association chains.
package request

import (
	"errors"
	"fmt"

	"github.com/shiv248/kolaborate/internal/operation"
	"github.com/shiv248/kolaborate/internal/vector"
)

// ErrInvalidSequence is returned by Log.Add when a request cannot be
// appended: wrong user, wrong vector component, or an Undo/Redo with
// nothing left to cancel.
var ErrInvalidSequence = errors.New("request: invalid sequence")

// ErrUnsafePrune is returned by Log.Remove when pruning up to the
// requested index would strand an association chain.
var ErrUnsafePrune = errors.New("request: unsafe prune")

// Kind distinguishes a Do request (carries an operation) from an Undo or
// Redo (whose effective operation is derived from an earlier request in
// the same log).
type Kind int

const (
	Do Kind = iota
	Undo
	Redo
)

func (k Kind) String() string {
	switch k {
	case Do:
		return "do"
	case Undo:
		return "undo"
	case Redo:
		return "redo"
	default:
		return "unknown"
	}
}

// Request is the immutable (vector, user, kind, operation) tuple every
// edit in the system is expressed as. Operation is nil for Undo and Redo
// until the algorithm resolves their target.
type Request struct {
	Vector    *vector.Vector
	User      uint32
	Time      int64
	Kind      Kind
	Operation operation.Operation
}

// Copy returns a deep copy of r.
func (r *Request) Copy() *Request {
	out := &Request{Vector: r.Vector.Copy(), User: r.User, Time: r.Time, Kind: r.Kind}
	if r.Operation != nil {
		out.Operation = r.Operation.Copy()
	}
	return out
}

// Log is a per-user, append-only, prunable sequence of requests indexed by
// [Begin, End). It tracks the Undo/Redo association chain so that pruning
// never strands half of an association and so that undo/redo targets can
// be found in O(1).
type Log struct {
	userID uint32
	begin  int
	end    int

	requests map[int]*Request

	// prev[i] = j means the request at i cancels/revives the request at j
	// (j < i). next is the mirror: next[j] = i.
	prev map[int]int
	next map[int]int

	// pendingDoRedo holds indices of Do/Redo requests not yet undone, in
	// the order they were added; its top is the target of the next Undo.
	pendingDoRedo []int
	// pendingUndo holds indices of Undo requests not yet redone; its top
	// is the target of the next Redo.
	pendingUndo []int
}

// NewLog returns an empty log for userID.
func NewLog(userID uint32) *Log {
	return NewLogAt(userID, 0)
}

// NewLogAt returns an empty log for userID whose Begin() and End() both
// start at begin, for bootstrapping a log whose earlier history was
// pruned at the source before it was ever transferred (a joining
// participant only ever receives a user's retained history, not its
// full index range from zero). Callers must then Add the retained
// requests in ascending index order
// starting at begin; PruneTo's whole-chain-at-a-time guarantee ensures none
// of them targets an Undo/Redo association below begin.
func NewLogAt(userID uint32, begin int) *Log {
	return &Log{
		userID:   userID,
		begin:    begin,
		end:      begin,
		requests: make(map[int]*Request),
		prev:     make(map[int]int),
		next:     make(map[int]int),
	}
}

// UserID returns the user this log belongs to.
func (l *Log) UserID() uint32 { return l.userID }

// Begin returns the lowest index still retained.
func (l *Log) Begin() int { return l.begin }

// End returns the next index that will be assigned.
func (l *Log) End() int { return l.end }

// IsEmpty reports whether the log currently retains no requests.
func (l *Log) IsEmpty() bool { return l.begin == l.end }

// Get returns the request at index i, if still retained.
func (l *Log) Get(i int) (*Request, bool) {
	r, ok := l.requests[i]
	return r, ok
}

// Add appends r, which must be the next request from this log's user:
// r.User must equal the log's user and r.Vector's component for that user
// must equal End(). Undo requests must have a pending Do/Redo to cancel;
// Redo requests must have a pending Undo to revive.
func (l *Log) Add(r *Request) error {
	if r.User != l.userID {
		return fmt.Errorf("%w: request user %d does not match log user %d", ErrInvalidSequence, r.User, l.userID)
	}
	if got := r.Vector.Get(l.userID); got != uint32(l.end) {
		return fmt.Errorf("%w: vector component %d does not match log end %d", ErrInvalidSequence, got, l.end)
	}

	var target int
	switch r.Kind {
	case Undo:
		if len(l.pendingDoRedo) == 0 {
			return fmt.Errorf("%w: no request available to undo", ErrInvalidSequence)
		}
		target = l.pendingDoRedo[len(l.pendingDoRedo)-1]
	case Redo:
		if len(l.pendingUndo) == 0 {
			return fmt.Errorf("%w: no request available to redo", ErrInvalidSequence)
		}
		target = l.pendingUndo[len(l.pendingUndo)-1]
	}

	idx := l.end
	l.requests[idx] = r
	l.end++

	switch r.Kind {
	case Do:
		l.pendingDoRedo = append(l.pendingDoRedo, idx)
	case Undo:
		l.pendingDoRedo = l.pendingDoRedo[:len(l.pendingDoRedo)-1]
		l.prev[idx] = target
		l.next[target] = idx
		l.pendingUndo = append(l.pendingUndo, idx)
	case Redo:
		l.pendingUndo = l.pendingUndo[:len(l.pendingUndo)-1]
		l.prev[idx] = target
		l.next[target] = idx
		l.pendingDoRedo = append(l.pendingDoRedo, idx)
	}

	return nil
}

// indexOf recovers a request's own index in this log from its vector's
// component for this log's user, which the add-time invariant keeps equal
// to the index.
func (l *Log) indexOf(r *Request) int {
	return int(r.Vector.Get(l.userID))
}

// NextAssociated returns the request that cancels or revives r, if any.
func (l *Log) NextAssociated(r *Request) (*Request, bool) {
	n, ok := l.next[l.indexOf(r)]
	if !ok {
		return nil, false
	}
	req, ok := l.requests[n]
	return req, ok
}

// PrevAssociated returns the request r cancels or revives, if any.
func (l *Log) PrevAssociated(r *Request) (*Request, bool) {
	p, ok := l.prev[l.indexOf(r)]
	if !ok {
		return nil, false
	}
	req, ok := l.requests[p]
	return req, ok
}

// OriginalRequest follows the association chain back to its root Do
// request.
func (l *Log) OriginalRequest(r *Request) *Request {
	cur := r
	for {
		prev, ok := l.PrevAssociated(cur)
		if !ok {
			return cur
		}
		cur = prev
	}
}

// NextUndo returns the request that a hypothetical Undo issued now would
// target, or false if there is nothing left to undo.
func (l *Log) NextUndo() (*Request, bool) {
	if len(l.pendingDoRedo) == 0 {
		return nil, false
	}
	idx := l.pendingDoRedo[len(l.pendingDoRedo)-1]
	req, ok := l.requests[idx]
	return req, ok
}

// NextRedo returns the request that a hypothetical Redo issued now would
// target, or false if there is nothing left to redo.
func (l *Log) NextRedo() (*Request, bool) {
	if len(l.pendingUndo) == 0 {
		return nil, false
	}
	idx := l.pendingUndo[len(l.pendingUndo)-1]
	req, ok := l.requests[idx]
	return req, ok
}

// relatedBounds returns the smallest [lo,hi] index interval containing i
// and every request associated with it, directly or transitively.
func (l *Log) relatedBounds(i int) (lo, hi int) {
	lo, hi = i, i
	for cur := i; ; {
		p, ok := l.prev[cur]
		if !ok {
			break
		}
		if p < lo {
			lo = p
		}
		cur = p
	}
	for cur := i; ; {
		n, ok := l.next[cur]
		if !ok {
			break
		}
		if n > hi {
			hi = n
		}
		cur = n
	}
	return lo, hi
}

// UpperRelated returns the request at the top of the smallest interval
// containing index n and all of its associates.
func (l *Log) UpperRelated(n int) *Request {
	_, hi := l.relatedBounds(n)
	return l.requests[hi]
}

// LowerRelated returns the request at the bottom of the smallest interval
// containing index n and all of its associates.
func (l *Log) LowerRelated(n int) *Request {
	lo, _ := l.relatedBounds(n)
	return l.requests[lo]
}

// SafeBound returns the largest index <= upTo (and >= Begin()) such that
// pruning [Begin(), bound) would not strand any association: no request
// below bound has an associate at or above bound.
func (l *Log) SafeBound(upTo int) int {
	if upTo > l.end {
		upTo = l.end
	}
	if upTo <= l.begin {
		if upTo < l.begin {
			return l.begin
		}
		return upTo
	}

	for {
		shrunk := false
		for i := l.begin; i < upTo; i++ {
			if n, ok := l.next[i]; ok && n >= upTo {
				upTo = i
				shrunk = true
				break
			}
		}
		if !shrunk {
			break
		}
	}
	return upTo
}

// Remove drops indices [Begin(), upTo) if it is safe to do so (no
// retained request's association is severed), returning ErrUnsafePrune
// otherwise. Callers that want best-effort pruning should use SafeBound
// to compute a safe argument first, or call PruneTo.
func (l *Log) Remove(upTo int) error {
	safe := l.SafeBound(upTo)
	if safe != upTo {
		return fmt.Errorf("%w: requested up to %d, safe bound is %d", ErrUnsafePrune, upTo, safe)
	}
	l.truncate(upTo)
	return nil
}

// PruneTo removes as many requests as can be safely dropped without
// exceeding upTo, and returns the log's new Begin().
func (l *Log) PruneTo(upTo int) int {
	l.truncate(l.SafeBound(upTo))
	return l.begin
}

func (l *Log) truncate(upTo int) {
	for i := l.begin; i < upTo; i++ {
		delete(l.requests, i)
		delete(l.prev, i)
		delete(l.next, i)
	}
	l.begin = upTo
}
