// Package algorithm implements the adopted algorithm: the transform-and-
// apply engine that is the heart of the system. It owns the buffer and
// the per-user request logs exclusively.
package algorithm

import (
	"fmt"
	"sort"
	"time"

	"github.com/shiv248/kolaborate/internal/buffer"
	"github.com/shiv248/kolaborate/internal/operation"
	"github.com/shiv248/kolaborate/internal/request"
	"github.com/shiv248/kolaborate/internal/vector"
)

// ApplyHandler is called after every request (local or remote) has been
// fully committed.
type ApplyHandler func(user uint32, r *request.Request)

// CanUndoChangedHandler is called whenever a user's CanUndo result flips.
type CanUndoChangedHandler func(user uint32, can bool)

// CanRedoChangedHandler is called whenever a user's CanRedo result flips.
type CanRedoChangedHandler func(user uint32, can bool)

// Algorithm is the transform-and-apply engine. The zero value is not
// usable; construct one with New.
type Algorithm struct {
	buf        *buffer.Buffer
	current    *vector.Vector
	logs       map[uint32]*request.Log
	maxLogSize int

	pending []*request.Request

	// coverage[u][i] is the full local state vector this site had reached
	// immediately after committing request i of user u's log: everything
	// this site had already folded into that request's committed,
	// transformed operation. It is what translate uses as the baseline for
	// re-transforming a target's revert, which must be target.Vector's
	// sender-declared vector only for the purpose of serialization — using
	// it as the transform baseline would re-apply concurrent requests this
	// site had already accounted for at commit time.
	coverage map[uint32]map[int]*vector.Vector

	lastCanUndo map[uint32]bool
	lastCanRedo map[uint32]bool

	applyHandlers   []ApplyHandler
	canUndoHandlers []CanUndoChangedHandler
	canRedoHandlers []CanRedoChangedHandler

	now func() int64
}

// New returns an algorithm operating on buf, pruning per-user logs once
// their combined size exceeds maxLogSize.
func New(buf *buffer.Buffer, maxLogSize int) *Algorithm {
	return &Algorithm{
		buf:         buf,
		current:     vector.New(),
		logs:        make(map[uint32]*request.Log),
		maxLogSize:  maxLogSize,
		coverage:    make(map[uint32]map[int]*vector.Vector),
		lastCanUndo: make(map[uint32]bool),
		lastCanRedo: make(map[uint32]bool),
		now:         func() int64 { return time.Now().Unix() },
	}
}

// NewFromSnapshot builds an Algorithm already at the given current vector
// with the given per-user logs, for a session joining mid-flight via
// synchronization: buf already holds the synchronized buffer content,
// current is the publisher's vector at sync time, and
// logs holds each user's retained requests (see request.NewLogAt),
// already Add-ed by the caller in index order so association chains and
// pending undo/redo stacks are correctly reconstructed. Coverage is left
// empty; coverageOf's documented fallback to a request's own declared
// vector applies to every request inherited this way.
func NewFromSnapshot(buf *buffer.Buffer, maxLogSize int, current *vector.Vector, logs map[uint32]*request.Log) *Algorithm {
	a := New(buf, maxLogSize)
	a.current = current.Copy()
	if logs != nil {
		a.logs = logs
	}
	return a
}

// CurrentVector returns a copy of the algorithm's current state vector.
func (a *Algorithm) CurrentVector() *vector.Vector { return a.current.Copy() }

// Buffer returns the buffer this algorithm mutates, for read access (e.g.
// snapshotting it to synchronize a joining participant).
func (a *Algorithm) Buffer() *buffer.Buffer { return a.buf }

// UserIDs returns the set of users that have a request log, in
// unspecified order. A log can be empty: Log, CanUndo and CanRedo create
// one for any user they are asked about.
func (a *Algorithm) UserIDs() []uint32 {
	out := make([]uint32, 0, len(a.logs))
	for u := range a.logs {
		out = append(out, u)
	}
	return out
}

// Log returns userID's request log, creating an empty one if userID has
// not yet issued any request.
func (a *Algorithm) Log(userID uint32) *request.Log { return a.logFor(userID) }

// OnApply registers a handler invoked after every committed request.
func (a *Algorithm) OnApply(h ApplyHandler) { a.applyHandlers = append(a.applyHandlers, h) }

// OnCanUndoChanged registers a handler invoked when CanUndo flips for some user.
func (a *Algorithm) OnCanUndoChanged(h CanUndoChangedHandler) {
	a.canUndoHandlers = append(a.canUndoHandlers, h)
}

// OnCanRedoChanged registers a handler invoked when CanRedo flips for some user.
func (a *Algorithm) OnCanRedoChanged(h CanRedoChangedHandler) {
	a.canRedoHandlers = append(a.canRedoHandlers, h)
}

func (a *Algorithm) logFor(userID uint32) *request.Log {
	l, ok := a.logs[userID]
	if !ok {
		l = request.NewLog(userID)
		a.logs[userID] = l
	}
	return l
}

// GenerateLocal builds and applies a Do request for a local edit.
func (a *Algorithm) GenerateLocal(userID uint32, op operation.Operation) (*request.Request, error) {
	r := &request.Request{Vector: a.current.Copy(), User: userID, Time: a.now(), Kind: request.Do, Operation: op}
	if err := a.apply(r); err != nil {
		return nil, err
	}
	return r, nil
}

// GenerateUndo builds and applies an Undo request targeting the nearest
// unassociated Do/Redo in userID's own log.
func (a *Algorithm) GenerateUndo(userID uint32) (*request.Request, error) {
	if !a.CanUndo(userID) {
		return nil, fmt.Errorf("algorithm: user %d has nothing to undo", userID)
	}
	r := &request.Request{Vector: a.current.Copy(), User: userID, Time: a.now(), Kind: request.Undo}
	if err := a.apply(r); err != nil {
		return nil, err
	}
	return r, nil
}

// GenerateRedo builds and applies a Redo request targeting the nearest
// unassociated Undo in userID's own log.
func (a *Algorithm) GenerateRedo(userID uint32) (*request.Request, error) {
	if !a.CanRedo(userID) {
		return nil, fmt.Errorf("algorithm: user %d has nothing to redo", userID)
	}
	r := &request.Request{Vector: a.current.Copy(), User: userID, Time: a.now(), Kind: request.Redo}
	if err := a.apply(r); err != nil {
		return nil, err
	}
	return r, nil
}

// Receive applies a request that originated elsewhere (local or remote):
// the session layer hands every deserialized wire request to this.
func (a *Algorithm) Receive(r *request.Request) error {
	return a.apply(r)
}

// CanUndo reports whether userID currently has a request to undo.
func (a *Algorithm) CanUndo(userID uint32) bool {
	_, ok := a.logFor(userID).NextUndo()
	return ok
}

// CanRedo reports whether userID currently has a request to redo.
func (a *Algorithm) CanRedo(userID uint32) bool {
	_, ok := a.logFor(userID).NextRedo()
	return ok
}

// ready implements the causality check a request must pass before it can
// be applied: r's own user component must be exactly the next expected
// index in that user's log (in-order delivery per sender), and every
// other component of r's vector must already be reflected in current.
func (a *Algorithm) ready(r *request.Request) bool {
	if r.Vector.Get(r.User) != uint32(a.logFor(r.User).End()) {
		return false
	}
	ready := true
	r.Vector.ForEach(func(u, n uint32) {
		if u == r.User {
			return
		}
		if n > a.current.Get(u) {
			ready = false
		}
	})
	return ready
}

// apply runs the full transform-and-commit pipeline for one request:
// causality-gate it, translate Undo/Redo to a concrete operation,
// transform across concurrent history, apply to the buffer, commit to
// the log, fire handlers, then drain anything that gating had deferred.
func (a *Algorithm) apply(r *request.Request) error {
	if !a.ready(r) {
		a.pending = append(a.pending, r)
		return nil
	}

	op, err := a.translate(r)
	if err != nil {
		return err
	}

	op, err = a.transformRange(op, r.Vector, a.current, r.Vector, r.User)
	if err != nil {
		return err
	}

	if err := op.Apply(r.User, a.buf); err != nil {
		return fmt.Errorf("algorithm: operation apply failed: %w", err)
	}

	committed := r.Copy()
	committed.Operation = op
	log := a.logFor(r.User)
	idx := log.End()
	if err := log.Add(committed); err != nil {
		return fmt.Errorf("algorithm: commit failed: %w", err)
	}
	a.current.Set(r.User, r.Vector.Get(r.User)+1)
	a.recordCoverage(r.User, idx, a.current.Copy())

	for _, h := range a.applyHandlers {
		h(r.User, committed)
	}
	a.fireCanUndoRedo(r.User)

	a.drainPending()
	a.cleanup()
	return nil
}

// translate resolves an Undo/Redo request to a concrete operation: Do
// requests carry their own operation; Undo/Redo
// requests revert the request they target (already fully resolved at its
// own commit time) and transform that revert across whatever other users'
// requests the target's resolution predates but r's sender already knew
// about.
func (a *Algorithm) translate(r *request.Request) (operation.Operation, error) {
	if r.Kind == request.Do {
		return r.Operation, nil
	}

	log := a.logFor(r.User)
	var target *request.Request
	var ok bool
	if r.Kind == request.Undo {
		target, ok = log.NextUndo()
	} else {
		target, ok = log.NextRedo()
	}
	if !ok {
		return nil, fmt.Errorf("algorithm: %s request from user %d has nothing to target", r.Kind, r.User)
	}

	reverted := target.Operation.Revert()
	base := a.coverageOf(target, r.User)
	return a.transformRange(reverted, base, r.Vector, r.Vector, r.User)
}

// recordCoverage remembers the full local state vector reached immediately
// after committing index idx of user's log.
func (a *Algorithm) recordCoverage(user uint32, idx int, v *vector.Vector) {
	m, ok := a.coverage[user]
	if !ok {
		m = make(map[int]*vector.Vector)
		a.coverage[user] = m
	}
	m[idx] = v
}

// coverageOf returns the recorded coverage vector for target (a request of
// the given user's log), falling back to target's own sender-declared
// vector if coverage was pruned. The fallback is conservative: it risks
// re-transforming against requests already folded into target's committed
// operation, which is harmless only when those transforms are idempotent,
// but target's own coverage is only pruned once it is old enough that this
// is exceedingly unlikely to matter in practice.
func (a *Algorithm) coverageOf(target *request.Request, user uint32) *vector.Vector {
	idx := int(target.Vector.Get(user))
	if m, ok := a.coverage[user]; ok {
		if v, ok := m[idx]; ok {
			return v
		}
	}
	return target.Vector
}

// transformRange transforms op across every request from users other than
// skipUser whose index falls in [from[u], to[u]) for that user's log, in
// a deterministic total-vector-then-user-id order so every site applies
// the same sequence of transforms regardless of arrival order.
// selfVector/selfUser identify the request op is being translated on
// behalf of, for concurrency-id tie-breaking.
func (a *Algorithm) transformRange(op operation.Operation, from, to, selfVector *vector.Vector, selfUser uint32) (operation.Operation, error) {
	var concurrent []*request.Request
	for u, log := range a.logs {
		if u == selfUser {
			continue
		}
		lo, hi := from.Get(u), to.Get(u)
		for i := lo; i < hi; i++ {
			cr, ok := log.Get(int(i))
			if !ok {
				return nil, fmt.Errorf("algorithm: transform needs request %d from user %d, already pruned", i, u)
			}
			concurrent = append(concurrent, cr)
		}
	}
	sort.Slice(concurrent, func(i, j int) bool {
		if c := concurrent[i].Vector.Compare(concurrent[j].Vector); c != 0 {
			return c < 0
		}
		return concurrent[i].User < concurrent[j].User
	})

	for _, c := range concurrent {
		id := concurrencyID(selfVector, selfUser, c)
		var err error
		op, err = op.Transform(c.Operation, id)
		if err != nil {
			return nil, err
		}
	}
	return op, nil
}

// concurrencyID derives the deterministic -1/0/+1 tiebreak between two
// concurrent operations: total vector order, then user id.
func concurrencyID(selfVector *vector.Vector, selfUser uint32, against *request.Request) int {
	switch c := selfVector.Compare(against.Vector); {
	case c < 0:
		return -1
	case c > 0:
		return 1
	default:
		switch {
		case selfUser < against.User:
			return -1
		case selfUser > against.User:
			return 1
		default:
			return 0
		}
	}
}

// drainPending retries buffered requests whose causal dependencies have
// since been satisfied, looping until a full pass makes no progress.
func (a *Algorithm) drainPending() {
	for {
		progressed := false
		pending := a.pending
		a.pending = nil
		var still []*request.Request
		for _, r := range pending {
			if a.ready(r) {
				progressed = true
				if err := a.apply(r); err != nil {
					// A buffered request that fails to apply once ready is
					// dropped rather than permanently blocking its peers;
					// the session layer is expected to have already
					// validated requests before handing them here.
					continue
				}
			} else {
				still = append(still, r)
			}
		}
		a.pending = append(a.pending, still...)
		if !progressed {
			return
		}
	}
}

func (a *Algorithm) fireCanUndoRedo(userID uint32) {
	cu := a.CanUndo(userID)
	if a.lastCanUndo[userID] != cu {
		a.lastCanUndo[userID] = cu
		for _, h := range a.canUndoHandlers {
			h(userID, cu)
		}
	}
	cr := a.CanRedo(userID)
	if a.lastCanRedo[userID] != cr {
		a.lastCanRedo[userID] = cr
		for _, h := range a.canRedoHandlers {
			h(userID, cr)
		}
	}
}

// cleanup enforces the pruning policy: once the combined size of all logs
// exceeds maxLogSize, each log is pruned back to roughly
// maxLogSize/n_users entries, never severing an association chain
// (request.Log.PruneTo already enforces that).
func (a *Algorithm) cleanup() {
	total := 0
	for _, log := range a.logs {
		total += log.End() - log.Begin()
	}
	if total <= a.maxLogSize || len(a.logs) == 0 {
		return
	}
	perUser := a.maxLogSize / len(a.logs)
	if perUser < 1 {
		perUser = 1
	}
	for u, log := range a.logs {
		keepFrom := log.End() - perUser
		if keepFrom > log.Begin() {
			log.PruneTo(keepFrom)
		}
		if m, ok := a.coverage[u]; ok {
			for idx := range m {
				if idx < log.Begin() {
					delete(m, idx)
				}
			}
		}
	}
}
