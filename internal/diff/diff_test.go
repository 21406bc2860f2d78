// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_Identical(t *testing.T) {
	c := Compare("a\nb\n", "a\nb")
	assert.True(t, c.Equal())
	assert.Equal(t, 2, c.Kept)
	assert.Empty(t, c.Hunks)
	assert.Equal(t, "identical", c.Summary())
	assert.Empty(t, c.Unified("old", "new"))
}

func TestCompare_Empty(t *testing.T) {
	c := Compare("", "")
	assert.True(t, c.Equal())
	assert.Equal(t, 1.0, c.Similarity())

	c = Compare("", "one\ntwo")
	assert.Equal(t, 2, c.Added)
	assert.Zero(t, c.Similarity())
	require.Len(t, c.Hunks, 1)
	assert.Equal(t, 1, c.Hunks[0].NewStart)
	assert.Equal(t, 2, c.Hunks[0].NewCount)
}

func TestCompare_ChangedLine(t *testing.T) {
	c := Compare("Paris is the capital.\nIt is in France.", "Paris is the capital.\nIt lies on the Seine.")
	assert.Equal(t, 1, c.Added)
	assert.Equal(t, 1, c.Removed)
	assert.Equal(t, 1, c.Kept)
	assert.Equal(t, "+1 -1, 50% similar", c.Summary())

	want := strings.Join([]string{
		"--- previous",
		"+++ retry",
		"@@ -1,2 +1,2 @@",
		" Paris is the capital.",
		"-It is in France.",
		"+It lies on the Seine.",
		"",
	}, "\n")
	assert.Equal(t, want, c.Unified("previous", "retry"))
}

func TestCompare_LinePositions(t *testing.T) {
	c := Compare("a\nb\nc", "a\nc\nd")
	ops := make([]string, 0, len(c.Lines))
	for _, l := range c.Lines {
		ops = append(ops, l.Op.Prefix()+l.Text)
	}
	assert.Equal(t, []string{" a", "-b", " c", "+d"}, ops)
	assert.Equal(t, Line{Op: Remove, Text: "b", Old: 2}, c.Lines[1])
	assert.Equal(t, Line{Op: Add, Text: "d", New: 3}, c.Lines[3])
}

func TestCompare_SplitsDistantChanges(t *testing.T) {
	oldText := "x\n1\n2\n3\n4\n5\n6\ny"
	newText := "X\n1\n2\n3\n4\n5\n6\nY"
	c := Compare(oldText, newText)
	require.Len(t, c.Hunks, 2)
	assert.Equal(t, 1, c.Hunks[0].OldStart)
	assert.Equal(t, 3, c.Hunks[0].OldCount)
	assert.Equal(t, 6, c.Hunks[1].OldStart)

	// Changes within twice the context share a hunk.
	c = Compare("x\n1\n2\n3\ny", "X\n1\n2\n3\nY")
	assert.Len(t, c.Hunks, 1)
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "keep", Keep.String())
	assert.Equal(t, "add", Add.String())
	assert.Equal(t, "remove", Remove.String())
}
