// Package undogroup tracks, per local user, whether the next own Do
// request should be folded into the previous one for undo/redo purposes.
package undogroup

import (
	"unicode"
	"unicode/utf8"

	"github.com/shiv248/kolaborate/internal/chunk"
	"github.com/shiv248/kolaborate/internal/operation"
)

// JoinPredicate decides whether two adjacent Do operations by the same
// user should be grouped into one undo step. prev is the earlier
// operation already in the group; next is the candidate to extend it.
type JoinPredicate func(prev, next operation.Operation) bool

// DefaultJoinPredicate implements the default grouping rule for text
// operations: two Inserts group if next starts exactly where prev ended
// and the join does not straddle a whitespace/non-whitespace boundary
// (so typing a word, then a space, then another word produces three
// separate undo steps rather than one); two Deletes group if they form a
// backspace run (next ends where prev starts) or a delete-forward run
// (next starts where prev starts).
func DefaultJoinPredicate(prev, next operation.Operation) bool {
	switch p := prev.(type) {
	case *operation.Insert:
		n, ok := next.(*operation.Insert)
		if !ok {
			return false
		}
		if n.Pos != p.Pos+uint32(p.Chunk.Length()) {
			return false
		}
		return !crossesWordBoundary(p.Chunk, n.Chunk)
	case *operation.Delete:
		n, ok := next.(*operation.Delete)
		if !ok {
			return false
		}
		backspace := n.Pos+n.Len == p.Pos
		deleteForward := n.Pos == p.Pos
		return backspace || deleteForward
	default:
		return false
	}
}

// crossesWordBoundary reports whether the join between prev's last
// character and next's first character switches between whitespace and
// non-whitespace. An empty chunk on either side has no boundary to cross.
func crossesWordBoundary(prev, next *chunk.Chunk) bool {
	prevText, nextText := prev.String(), next.String()
	if prevText == "" || nextText == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(prevText)
	first, _ := utf8.DecodeRuneInString(nextText)
	return unicode.IsSpace(last) != unicode.IsSpace(first)
}

// entry is one request folded into the current group: the operation as
// originally applied (needed to decide whether the next request joins)
// and its reverted form (needed to build the group's combined undo).
type entry struct {
	applied  operation.Operation
	reverted operation.Operation
}

// Group tracks the open undo-grouping state for a single local user. The
// zero value is ready to use.
type Group struct {
	join JoinPredicate

	entries      []entry
	allowJoinNext bool

	undoGroups [][]entry
	redoGroups [][]entry
}

// New returns a Group using the given join predicate. A nil predicate
// uses DefaultJoinPredicate.
func New(join JoinPredicate) *Group {
	if join == nil {
		join = DefaultJoinPredicate
	}
	return &Group{join: join}
}

// StartGroup begins (or, if allowJoinPrev and an open group exists,
// continues) accumulating requests for the next undo unit.
func (g *Group) StartGroup(allowJoinPrev bool) {
	if allowJoinPrev && len(g.entries) > 0 {
		return
	}
	g.flushEntries()
}

// Record appends a just-applied Do operation to the currently open group,
// deciding first whether it joins the previous entry per the join
// predicate; if it does not join, the previous group is closed and a new
// one started.
func (g *Group) Record(op operation.Operation) {
	if len(g.entries) > 0 {
		last := g.entries[len(g.entries)-1]
		if !g.join(last.applied, op) {
			g.flushEntries()
		}
	}
	g.entries = append(g.entries, entry{applied: op, reverted: op.Revert()})
	// Recording a new Do request invalidates the redo stack: in the
	// adopted algorithm a fresh Do branches history away from any
	// previously undone work.
	g.redoGroups = nil
}

// EndGroup ends the current grouping step. With allowJoinNext false the
// open group is closed for good; with allowJoinNext true it is left open,
// so a later StartGroup(true) or Record (subject to the join predicate)
// may still extend it.
func (g *Group) EndGroup(allowJoinNext bool) {
	if !allowJoinNext {
		g.flushEntries()
	}
}

func (g *Group) flushEntries() {
	if len(g.entries) == 0 {
		return
	}
	g.undoGroups = append(g.undoGroups, g.entries)
	g.entries = nil
}

// UndoSize returns the number of requests the next Undo would fold
// together, or 0 if there is nothing to undo.
func (g *Group) UndoSize() int {
	if len(g.entries) > 0 {
		return len(g.entries)
	}
	if len(g.undoGroups) == 0 {
		return 0
	}
	return len(g.undoGroups[len(g.undoGroups)-1])
}

// RedoSize returns the number of requests the next Redo would fold
// together, or 0 if there is nothing to redo.
func (g *Group) RedoSize() int {
	if len(g.redoGroups) == 0 {
		return 0
	}
	return len(g.redoGroups[len(g.redoGroups)-1])
}

// PopUndo closes the open group (if any) and pops the most recent group
// as a single composite operation applying every member's revert in
// reverse order. It returns nil if there is nothing to undo.
func (g *Group) PopUndo() operation.Operation {
	g.flushEntries()
	if len(g.undoGroups) == 0 {
		return nil
	}
	grp := g.undoGroups[len(g.undoGroups)-1]
	g.undoGroups = g.undoGroups[:len(g.undoGroups)-1]
	g.redoGroups = append(g.redoGroups, grp)

	var combined operation.Operation = grp[len(grp)-1].reverted
	for i := len(grp) - 2; i >= 0; i-- {
		combined = &operation.SplitOp{First: combined, Second: grp[i].reverted}
	}
	return combined
}

// PopRedo pops the most recently undone group as a single composite
// operation re-applying every member in original order. It returns nil if
// there is nothing to redo.
func (g *Group) PopRedo() operation.Operation {
	if len(g.redoGroups) == 0 {
		return nil
	}
	grp := g.redoGroups[len(g.redoGroups)-1]
	g.redoGroups = g.redoGroups[:len(g.redoGroups)-1]
	g.undoGroups = append(g.undoGroups, grp)

	var combined operation.Operation = grp[0].applied
	for i := 1; i < len(grp); i++ {
		combined = &operation.SplitOp{First: combined, Second: grp[i].applied}
	}
	return combined
}
