// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import "github.com/jeranaias/threadline/internal/model"

// AnswerRun returns the bounds [from, to) of the answer containing msgs[i].
//
// An answer is a contiguous run of assistant, search and error messages.
// It holds the target's group plus the groups linked to it by splits: a
// part opened at a split names the previous part's group as its parent.
// Walking backward, a message joins when its group is the target's group
// or an ancestor of a member; walking forward, when its group or its
// parent group already belongs to the run. User and information messages,
// and any unrelated group, end the run.
func AnswerRun(msgs []*model.Message, i int) (from, to int) {
	if i < 0 || i >= len(msgs) {
		return i, i
	}
	target := msgs[i]
	if target.GroupID == "" {
		return i, i + 1
	}

	accepted := map[string]bool{target.GroupID: true}
	accept := func(id string) {
		if id != "" {
			accepted[id] = true
		}
	}
	accept(target.ParentGroupID)

	from = i
	for j := i - 1; j >= 0; j-- {
		m := msgs[j]
		if !m.Role.IsAnswer() || !accepted[m.GroupID] {
			break
		}
		accept(m.ParentGroupID)
		from = j
	}

	to = i + 1
	for j := i + 1; j < len(msgs); j++ {
		m := msgs[j]
		if !m.Role.IsAnswer() || m.GroupID == "" {
			break
		}
		if !accepted[m.GroupID] && !accepted[m.ParentGroupID] {
			break
		}
		accept(m.GroupID)
		to = j + 1
	}
	return from, to
}
