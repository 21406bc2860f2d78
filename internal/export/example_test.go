// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export_test

import (
	"fmt"

	"github.com/jeranaias/threadline/internal/export"
	"github.com/jeranaias/threadline/internal/model"
)

func ExampleTranscriptExporter() {
	conv := model.NewConversation()
	conv.Append(model.NewMessage(model.RoleUser, "Hi"))
	conv.Append(model.NewMessage(model.RoleAssistant, "Hello!\nHow can I help?"))

	data, err := export.NewTranscriptExporter(nil).Export(conv)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Print(string(data))
	// Output:
	// # Hi
	//
	// You: Hi
	//
	// Assistant: Hello!
	//   How can I help?
}

func ExampleParseFormat() {
	f, _ := export.ParseFormat("md")
	fmt.Println(f)
	// Output: markdown
}
