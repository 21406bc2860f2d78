// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff compares two answers line by line.
//
// Retrying an answer replaces it; Compare shows what the new answer kept,
// dropped and added, grouped into hunks with surrounding context.
//
// # Key Types
//
//   - Op: Kind of line (kept, added, removed)
//   - Line: One line with its position in each answer
//   - Hunk: Run of changes with context
//   - Comparison: Hunks plus counts and a similarity ratio
//
// # Usage
//
//	c := diff.Compare(oldAnswer, newAnswer)
//	fmt.Println(c.Summary())
//	fmt.Print(c.Unified("previous", "retry"))
package diff
