// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeranaias/threadline/internal/model"
)

func msg(role model.Role, group, parent string) *model.Message {
	m := model.NewMessage(role, string(role))
	m.GroupID = group
	m.ParentGroupID = parent
	return m
}

func TestAnswerRun(t *testing.T) {
	user := func() *model.Message { return msg(model.RoleUser, "", "") }
	info := func() *model.Message { return msg(model.RoleInformation, "", "") }
	asst := func(g, p string) *model.Message { return msg(model.RoleAssistant, g, p) }

	tests := []struct {
		name     string
		msgs     []*model.Message
		target   int
		from, to int
	}{
		{
			name:   "single answer",
			msgs:   []*model.Message{user(), asst("G", "")},
			target: 1, from: 1, to: 2,
		},
		{
			name:   "three parts of one group",
			msgs:   []*model.Message{user(), asst("G", ""), asst("G", ""), asst("G", ""), user()},
			target: 2, from: 1, to: 4,
		},
		{
			name: "split continuation pulls in adjacent parent run",
			msgs: []*model.Message{
				user(), asst("G", ""), asst("G", ""), asst("G", ""), asst("G2", "G"),
			},
			target: 4, from: 1, to: 5,
		},
		{
			name: "retrying the parent pulls in its continuation",
			msgs: []*model.Message{
				user(), asst("G", ""), asst("G2", "G"), asst("G3", "G2"), user(),
			},
			target: 1, from: 1, to: 4,
		},
		{
			name: "non-adjacent parent is left alone",
			msgs: []*model.Message{
				user(), asst("G", ""), info(), asst("G2", "G"),
			},
			target: 3, from: 3, to: 4,
		},
		{
			name: "unrelated neighbouring answer is left alone",
			msgs: []*model.Message{
				user(), asst("A", ""), asst("B", ""),
			},
			target: 2, from: 2, to: 3,
		},
		{
			name: "search and error messages of the group are included",
			msgs: []*model.Message{
				user(), msg(model.RoleSearch, "G", ""), asst("G", ""), msg(model.RoleError, "G2", "G"),
			},
			target: 2, from: 1, to: 4,
		},
		{
			name:   "groupless message is its own run",
			msgs:   []*model.Message{user(), asst("", ""), asst("", "")},
			target: 2, from: 2, to: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			from, to := AnswerRun(tt.msgs, tt.target)
			assert.Equal(t, tt.from, from, "from")
			assert.Equal(t, tt.to, to, "to")
		})
	}
}

func TestAnswerRun_OutOfRange(t *testing.T) {
	from, to := AnswerRun(nil, 3)
	assert.Equal(t, from, to)
}
