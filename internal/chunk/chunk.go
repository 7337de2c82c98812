// Package chunk implements authored text runs: an ordered sequence of
// (text, author) pairs used by the operation algebra so every character in
// the document remembers who wrote it.
package chunk

import (
	"strings"
)

// Run is one maximal span of text written by a single author.
type Run struct {
	Text   string
	Author uint32
}

// Chunk is an ordered, author-tagged sequence of text. Adjacent runs always
// have distinct authors; Length() in runes equals the sum of the runs'
// rune lengths. The zero value is an empty chunk.
type Chunk struct {
	runs []Run
}

// New returns an empty chunk.
func New() *Chunk {
	return &Chunk{}
}

// FromRun returns a single-author chunk.
func FromRun(text string, author uint32) *Chunk {
	if text == "" {
		return New()
	}
	return &Chunk{runs: []Run{{Text: text, Author: author}}}
}

// Runs returns the chunk's runs. The returned slice must not be mutated.
func (c *Chunk) Runs() []Run {
	return c.runs
}

// Length returns the chunk's length in runes (characters).
func (c *Chunk) Length() int {
	n := 0
	for _, r := range c.runs {
		n += len([]rune(r.Text))
	}
	return n
}

// Copy returns a deep copy of c.
func (c *Chunk) Copy() *Chunk {
	out := &Chunk{runs: make([]Run, len(c.runs))}
	copy(out.runs, c.runs)
	return out
}

// appendRun adds a run to the builder, merging with the previous run if the
// author matches (maintaining the distinct-adjacent-authors invariant).
func appendRun(runs []Run, r Run) []Run {
	if r.Text == "" {
		return runs
	}
	if n := len(runs); n > 0 && runs[n-1].Author == r.Author {
		runs[n-1].Text += r.Text
		return runs
	}
	return append(runs, r)
}

// Substring returns the sub-chunk [offset, offset+length) in character
// units, preserving authorship.
func (c *Chunk) Substring(offset, length int) *Chunk {
	out := &Chunk{}
	pos := 0
	remaining := length
	for _, r := range c.runs {
		if remaining <= 0 {
			break
		}
		runLen := len([]rune(r.Text))
		runEnd := pos + runLen
		if runEnd <= offset {
			pos = runEnd
			continue
		}

		runeText := []rune(r.Text)
		start := 0
		if offset > pos {
			start = offset - pos
		}
		end := runLen
		if avail := runLen - start; avail > remaining {
			end = start + remaining
		}
		if start < end {
			piece := string(runeText[start:end])
			out.runs = appendRun(out.runs, Run{Text: piece, Author: r.Author})
			remaining -= (end - start)
		}
		pos = runEnd
	}
	return out
}

// Insert returns a copy of c with other spliced in at character offset pos.
func (c *Chunk) Insert(pos int, other *Chunk) *Chunk {
	if other.Length() == 0 {
		return c.Copy()
	}

	out := &Chunk{}
	inserted := false
	cursor := 0
	for _, r := range c.runs {
		runLen := len([]rune(r.Text))
		if !inserted && cursor <= pos && pos <= cursor+runLen {
			// Split this run at pos if necessary, then splice other in.
			runeText := []rune(r.Text)
			left := pos - cursor
			if left > 0 {
				out.runs = appendRun(out.runs, Run{Text: string(runeText[:left]), Author: r.Author})
			}
			for _, or := range other.runs {
				out.runs = appendRun(out.runs, or)
			}
			if left < runLen {
				out.runs = appendRun(out.runs, Run{Text: string(runeText[left:]), Author: r.Author})
			}
			inserted = true
			cursor += runLen
			continue
		}
		out.runs = appendRun(out.runs, r)
		cursor += runLen
	}
	if !inserted {
		for _, or := range other.runs {
			out.runs = appendRun(out.runs, or)
		}
	}
	return out
}

// Erase returns a copy of c with the character range [pos,pos+length)
// removed.
func (c *Chunk) Erase(pos, length int) *Chunk {
	total := c.Length()
	if length <= 0 {
		return c.Copy()
	}
	before := c.Substring(0, pos)
	after := c.Substring(pos+length, total-pos-length)
	return before.Insert(before.Length(), after)
}

// String returns the concatenated text content of c, ignoring authorship.
func (c *Chunk) String() string {
	var b strings.Builder
	for _, r := range c.runs {
		b.WriteString(r.Text)
	}
	return b.String()
}

// Concat returns the concatenation of a and b.
func Concat(a, b *Chunk) *Chunk {
	return a.Insert(a.Length(), b)
}
