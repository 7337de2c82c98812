// Package operation implements the operation algebra of the adopted
// algorithm: Insert, Delete, Split and NoOp operations, their pairwise
// transform rules, and application to a text buffer.
//
// The source system models this as a class hierarchy (InsertOperation,
// DeleteOperation, SplitOperation, NoOperation all implementing a common
// InfAdoptedOperation interface). Here it is a tagged sum: one Go interface,
// four concrete types, no runtime type introspection needed anywhere except
// the transform dispatch, which is an ordinary type switch.
package operation

import (
	"errors"
	"fmt"

	"github.com/shiv248/kolaborate/internal/chunk"
)

// ErrNotReversible is returned by Revert on an operation that does not
// carry enough information to be undone (an irreversible Delete).
var ErrNotReversible = errors.New("operation: not reversible")

// Flags describes static properties of an operation variant.
type Flags struct {
	// Reversible is true when Revert is defined for this operation.
	Reversible bool
	// AffectsBuffer is false only for NoOp.
	AffectsBuffer bool
}

// TextBuffer is the minimal surface an operation needs to mutate a
// document. internal/buffer.Buffer implements this structurally.
type TextBuffer interface {
	InsertText(pos int, c *chunk.Chunk) error
	EraseText(pos, length int) (*chunk.Chunk, error)
	Len() int
}

// Operation is the common interface implemented by Insert, Delete, Split
// and NoOp.
type Operation interface {
	// Transform adjusts the receiver so that it can be applied after
	// against has already been applied to the same base state. concurrencyID
	// is -1, 0 or +1 and is only consulted when NeedConcurrencyID(against)
	// is true; the caller derives it from the total order of the two
	// requests' state vectors (see internal/algorithm).
	Transform(against Operation, concurrencyID int) (Operation, error)
	Copy() Operation
	// Revert returns the inverse of the operation. It panics if Flags().
	// Reversible is false; callers must check first.
	Revert() Operation
	Apply(author uint32, buf TextBuffer) error
	Flags() Flags
	// NeedConcurrencyID reports whether transforming the receiver against
	// against requires a concurrency id to break a tie. This is true only
	// for two Inserts at an identical position.
	NeedConcurrencyID(against Operation) bool
}

// opposite flips a concurrency id for the "other side" of a transform, used
// when pushing a Split's components through a transform in both directions.
func opposite(id int) int {
	return -id
}

// transformAgainstSplit is the generic handler for "self vs Split(a,b)":
// transform self against a, then transform the result against b. Used by
// every concrete Transform implementation so Split never needs special
// casing on the "against" side beyond this helper.
func transformAgainstSplit(self Operation, split *SplitOp, concurrencyID int) (Operation, error) {
	mid, err := self.Transform(split.First, concurrencyID)
	if err != nil {
		return nil, err
	}
	return mid.Transform(split.Second, concurrencyID)
}

// --- NoOp -------------------------------------------------------------

// NoOp is the identity operation. It never touches the buffer; it exists
// so a request can carry liveness information (or a translated Undo/Redo
// whose target has already been fully subsumed) without an empty Operation
// interface value.
type NoOp struct{}

func (NoOp) Transform(Operation, int) (Operation, error) { return NoOp{}, nil }
func (NoOp) Copy() Operation                              { return NoOp{} }
func (NoOp) Revert() Operation                             { return NoOp{} }
func (NoOp) Apply(uint32, TextBuffer) error                { return nil }
func (NoOp) Flags() Flags                                  { return Flags{Reversible: true, AffectsBuffer: false} }
func (NoOp) NeedConcurrencyID(Operation) bool               { return false }

// --- Insert -------------------------------------------------------------

// Insert inserts an authored run of characters at a character offset.
type Insert struct {
	Pos   uint32
	Chunk *chunk.Chunk
}

func (i *Insert) Copy() Operation {
	return &Insert{Pos: i.Pos, Chunk: i.Chunk.Copy()}
}

func (i *Insert) Flags() Flags {
	return Flags{Reversible: true, AffectsBuffer: true}
}

func (i *Insert) Revert() Operation {
	return &Delete{Pos: i.Pos, Len: uint32(i.Chunk.Length()), Chunk: i.Chunk.Copy()}
}

func (i *Insert) Apply(_ uint32, buf TextBuffer) error {
	return buf.InsertText(int(i.Pos), i.Chunk)
}

func (i *Insert) NeedConcurrencyID(against Operation) bool {
	o, ok := against.(*Insert)
	return ok && i.Pos == o.Pos
}

func (i *Insert) Transform(against Operation, concurrencyID int) (Operation, error) {
	switch o := against.(type) {
	case NoOp:
		return i.Copy(), nil
	case *SplitOp:
		return transformAgainstSplit(i, o, concurrencyID)
	case *Insert:
		switch {
		case i.Pos < o.Pos:
			return i.Copy(), nil
		case i.Pos > o.Pos:
			return &Insert{Pos: i.Pos + uint32(o.Chunk.Length()), Chunk: i.Chunk}, nil
		default:
			switch concurrencyID {
			case 1:
				return &Insert{Pos: i.Pos + uint32(o.Chunk.Length()), Chunk: i.Chunk}, nil
			case -1:
				return i.Copy(), nil
			default:
				return nil, fmt.Errorf("operation: Insert vs Insert at identical position %d requires a concurrency id", i.Pos)
			}
		}
	case *Delete:
		delStart, delEnd := o.Pos, o.Pos+o.Len
		switch {
		case i.Pos <= delStart:
			return i.Copy(), nil
		case i.Pos >= delEnd:
			return &Insert{Pos: i.Pos - o.Len, Chunk: i.Chunk}, nil
		default:
			// The insertion point falls inside a region that has been
			// deleted concurrently; it survives at the nearest legal
			// position, the start of the (now-vanished) delete.
			return &Insert{Pos: delStart, Chunk: i.Chunk}, nil
		}
	default:
		return nil, fmt.Errorf("operation: Insert.Transform: unknown operation type %T", against)
	}
}

// --- Delete -------------------------------------------------------------

// Delete removes len characters starting at Pos. If Chunk is non-nil it
// carries the removed text, making the operation reversible.
type Delete struct {
	Pos   uint32
	Len   uint32
	Chunk *chunk.Chunk // nil => irreversible
}

func (d *Delete) Copy() Operation {
	var c *chunk.Chunk
	if d.Chunk != nil {
		c = d.Chunk.Copy()
	}
	return &Delete{Pos: d.Pos, Len: d.Len, Chunk: c}
}

func (d *Delete) Flags() Flags {
	return Flags{Reversible: d.Chunk != nil, AffectsBuffer: true}
}

func (d *Delete) Revert() Operation {
	if d.Chunk == nil {
		panic(ErrNotReversible)
	}
	return &Insert{Pos: d.Pos, Chunk: d.Chunk.Copy()}
}

func (d *Delete) Apply(_ uint32, buf TextBuffer) error {
	removed, err := buf.EraseText(int(d.Pos), int(d.Len))
	if err != nil {
		return err
	}
	if d.Chunk == nil {
		d.Chunk = removed
	}
	return nil
}

func (d *Delete) NeedConcurrencyID(Operation) bool { return false }

func (d *Delete) Transform(against Operation, concurrencyID int) (Operation, error) {
	switch o := against.(type) {
	case NoOp:
		return d.Copy(), nil
	case *SplitOp:
		return transformAgainstSplit(d, o, concurrencyID)
	case *Insert:
		insPos, insLen := o.Pos, uint32(o.Chunk.Length())
		delStart, delEnd := d.Pos, d.Pos+d.Len
		switch {
		case insPos >= delEnd:
			return d.Copy(), nil
		case insPos <= delStart:
			return &Delete{Pos: d.Pos + insLen, Len: d.Len, Chunk: d.Chunk}, nil
		default:
			// The insertion lands inside the deleted range: the delete
			// must now skip over the newly inserted text, which survives,
			// split into the portion before and the portion after it.
			before := &Delete{Pos: d.Pos, Len: insPos - delStart, Chunk: trimChunk(d.Chunk, 0, insPos-delStart)}
			// after's position is relative to the buffer once before has
			// already been applied (Split runs its two operations in
			// sequence, not both against the pre-Split buffer): before
			// already removed the insPos-delStart characters that used to
			// sit ahead of it, so the offset is insLen, not
			// (insPos-delStart)+insLen.
			after := &Delete{Pos: d.Pos + insLen, Len: delEnd - insPos, Chunk: trimChunk(d.Chunk, insPos-delStart, delEnd-insPos)}
			return joinSplit(before, after), nil
		}
	case *Delete:
		return transformDeleteDelete(d, o)
	default:
		return nil, fmt.Errorf("operation: Delete.Transform: unknown operation type %T", against)
	}
}

// trimChunk returns the [offset, offset+length) sub-chunk of c, or nil if c
// is nil (irreversible delete stays irreversible after transform).
func trimChunk(c *chunk.Chunk, offset, length uint32) *chunk.Chunk {
	if c == nil {
		return nil
	}
	return c.Substring(int(offset), int(length))
}

// joinSplit wraps two operations as a Split unless one side is empty, in
// which case it degenerates to the non-empty side (or NoOp if both are
// empty), avoiding spurious zero-length Deletes in the request stream.
func joinSplit(first, second Operation) Operation {
	fd, fIsDelete := first.(*Delete)
	sd, sIsDelete := second.(*Delete)
	firstEmpty := fIsDelete && fd.Len == 0
	secondEmpty := sIsDelete && sd.Len == 0
	switch {
	case firstEmpty && secondEmpty:
		return NoOp{}
	case firstEmpty:
		return second
	case secondEmpty:
		return first
	default:
		return &SplitOp{First: first, Second: second}
	}
}

func transformDeleteDelete(self, other *Delete) (Operation, error) {
	s1, e1 := self.Pos, self.Pos+self.Len
	s2, e2 := other.Pos, other.Pos+other.Len

	if e1 <= s2 {
		return self.Copy(), nil
	}
	if e2 <= s1 {
		return &Delete{Pos: s1 - other.Len, Len: self.Len, Chunk: self.Chunk}, nil
	}

	overlapStart, overlapEnd := max32(s1, s2), min32(e1, e2)
	overlapLen := overlapEnd - overlapStart

	var removedBeforeS1 uint32
	if s2 < s1 {
		removedBeforeS1 = min32(e2, s1) - s2
	}

	newLen := self.Len - overlapLen
	if newLen == 0 {
		return NoOp{}, nil
	}

	newPos := s1 - removedBeforeS1
	var newChunk *chunk.Chunk
	if self.Chunk != nil {
		beforeLen := overlapStart - s1 // could wrap if overlapStart<s1; guarded below
		if s1 >= overlapStart {
			beforeLen = 0
		}
		afterStart := max32(s1, e2)
		afterLen := e1 - afterStart
		before := self.Chunk.Substring(0, int(beforeLen))
		after := self.Chunk.Substring(int(afterStart-s1), int(afterLen))
		newChunk = before.Insert(before.Length(), after)
	}

	return &Delete{Pos: newPos, Len: newLen, Chunk: newChunk}, nil
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// --- Split ----------------------------------------------------------

// SplitOp is a composite operation produced by transformation, never by
// direct user intent: applying it applies First then Second, in order,
// with Second's position already expressed in the coordinate system that
// results after First has been applied.
type SplitOp struct {
	First  Operation
	Second Operation
}

func (s *SplitOp) Copy() Operation {
	return &SplitOp{First: s.First.Copy(), Second: s.Second.Copy()}
}

func (s *SplitOp) Flags() Flags {
	ff, sf := s.First.Flags(), s.Second.Flags()
	return Flags{
		Reversible:    ff.Reversible && sf.Reversible,
		AffectsBuffer: ff.AffectsBuffer || sf.AffectsBuffer,
	}
}

func (s *SplitOp) Revert() Operation {
	return &SplitOp{First: s.Second.Revert(), Second: s.First.Revert()}
}

func (s *SplitOp) Apply(author uint32, buf TextBuffer) error {
	if err := s.First.Apply(author, buf); err != nil {
		return err
	}
	return s.Second.Apply(author, buf)
}

func (s *SplitOp) NeedConcurrencyID(against Operation) bool {
	return s.First.NeedConcurrencyID(against) || s.Second.NeedConcurrencyID(against)
}

func (s *SplitOp) Transform(against Operation, concurrencyID int) (Operation, error) {
	newFirst, err := s.First.Transform(against, concurrencyID)
	if err != nil {
		return nil, err
	}
	newAgainst, err := against.Transform(s.First, opposite(concurrencyID))
	if err != nil {
		return nil, err
	}
	newSecond, err := s.Second.Transform(newAgainst, concurrencyID)
	if err != nil {
		return nil, err
	}
	return &SplitOp{First: newFirst, Second: newSecond}, nil
}

// Unsplit flattens a (possibly nested) Split into its leaves in apply
// order. Non-Split operations flatten to a single-element slice.
func Unsplit(op Operation) []Operation {
	s, ok := op.(*SplitOp)
	if !ok {
		return []Operation{op}
	}
	return append(Unsplit(s.First), Unsplit(s.Second)...)
}
