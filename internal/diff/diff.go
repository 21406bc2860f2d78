// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 2

// =============================================================================
// LINE TYPES
// =============================================================================

// Op is the kind of a compared line.
type Op int

const (
	// Keep is a line present in both answers.
	Keep Op = iota
	// Add is a line only in the new answer.
	Add
	// Remove is a line only in the old answer.
	Remove
)

// String returns "keep", "add" or "remove".
func (o Op) String() string {
	switch o {
	case Add:
		return "add"
	case Remove:
		return "remove"
	default:
		return "keep"
	}
}

// Prefix is the unified diff marker.
func (o Op) Prefix() string {
	switch o {
	case Add:
		return "+"
	case Remove:
		return "-"
	default:
		return " "
	}
}

// Line is one compared line. Old and New are 1-based positions; the side
// a line is missing from has 0.
type Line struct {
	Op   Op
	Text string
	Old  int
	New  int
}

// Hunk is a run of changes with up to ContextLines kept lines on each side.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []Line
}

// =============================================================================
// COMPARISON
// =============================================================================

// Comparison is the result of Compare.
type Comparison struct {
	Lines   []Line
	Hunks   []Hunk
	Added   int
	Removed int
	Kept    int
}

// Compare diffs two texts by line using a longest common subsequence.
func Compare(oldText, newText string) *Comparison {
	a, b := lines(oldText), lines(newText)
	c := &Comparison{Lines: align(a, b)}
	for _, l := range c.Lines {
		switch l.Op {
		case Add:
			c.Added++
		case Remove:
			c.Removed++
		default:
			c.Kept++
		}
	}
	c.Hunks = hunks(c.Lines)
	return c
}

// Equal reports whether the texts had identical lines.
func (c *Comparison) Equal() bool {
	return c.Added == 0 && c.Removed == 0
}

// Similarity is the share of lines kept, from 0 to 1. Two empty texts are
// fully similar.
func (c *Comparison) Similarity() float64 {
	total := c.Kept*2 + c.Added + c.Removed
	if total == 0 {
		return 1
	}
	return float64(c.Kept*2) / float64(total)
}

// Summary returns e.g. "+3 -1, 80% similar".
func (c *Comparison) Summary() string {
	if c.Equal() {
		return "identical"
	}
	return fmt.Sprintf("+%d -%d, %.0f%% similar", c.Added, c.Removed, c.Similarity()*100)
}

// Unified renders the hunks in unified diff format.
func (c *Comparison) Unified(oldLabel, newLabel string) string {
	if c.Equal() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n+++ %s\n", oldLabel, newLabel)
	for _, h := range c.Hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			sb.WriteString(l.Op.Prefix())
			sb.WriteString(l.Text)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// =============================================================================
// ALGORITHM
// =============================================================================

// lines splits text, ignoring one trailing newline.
func lines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

// align walks the LCS table of a and b and emits every line in order.
// Removals come before additions at the same position.
func align(a, b []string) []Line {
	m, n := len(a), len(b)
	// suffix[i][j] is the LCS length of a[i:] and b[j:].
	suffix := make([][]int, m+1)
	for i := range suffix {
		suffix[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if a[i] == b[j] {
				suffix[i][j] = suffix[i+1][j+1] + 1
			} else {
				suffix[i][j] = max(suffix[i+1][j], suffix[i][j+1])
			}
		}
	}

	out := make([]Line, 0, m+n)
	i, j := 0, 0
	for i < m || j < n {
		switch {
		case i < m && j < n && a[i] == b[j]:
			out = append(out, Line{Op: Keep, Text: a[i], Old: i + 1, New: j + 1})
			i++
			j++
		case i < m && (j == n || suffix[i+1][j] >= suffix[i][j+1]):
			out = append(out, Line{Op: Remove, Text: a[i], Old: i + 1})
			i++
		default:
			out = append(out, Line{Op: Add, Text: b[j], New: j + 1})
			j++
		}
	}
	return out
}

// hunks groups changed lines, merging changes closer than twice the
// context.
func hunks(all []Line) []Hunk {
	var out []Hunk
	for i := 0; i < len(all); {
		if all[i].Op == Keep {
			i++
			continue
		}
		start := max(0, i-ContextLines)
		end := i
		for k := i; k < len(all); k++ {
			if all[k].Op != Keep {
				end = k
				continue
			}
			if k-end > ContextLines*2 {
				break
			}
		}
		stop := min(len(all), end+ContextLines+1)
		out = append(out, newHunk(all[start:stop]))
		i = stop
	}
	return out
}

func newHunk(ls []Line) Hunk {
	h := Hunk{Lines: ls}
	for _, l := range ls {
		if l.Op != Add {
			if h.OldCount == 0 {
				h.OldStart = l.Old
			}
			h.OldCount++
		}
		if l.Op != Remove {
			if h.NewCount == 0 {
				h.NewStart = l.New
			}
			h.NewCount++
		}
	}
	return h
}
