// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/nexora-tui/internal/model"
)

func sampleTranscript() (model.Chat, []model.Message) {
	chat := model.Chat{ID: "c1", Title: "Trip planning"}
	msgs := []model.Message{
		model.NewUserMessage("plan a trip to Kyoto", nil),
		{Role: model.RoleBot, Text: "Day 1: Fushimi Inari...", IsComplete: true},
	}
	return chat, msgs
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatForPath("chat.json"))
	assert.Equal(t, FormatJSON, FormatForPath("chat.JSON"))
	assert.Equal(t, FormatMarkdown, FormatForPath("chat.md"))
	assert.Equal(t, FormatMarkdown, FormatForPath("chat"))
}

func TestTranscript_Markdown(t *testing.T) {
	chat, msgs := sampleTranscript()
	path := filepath.Join(t.TempDir(), "chat.md")

	require.NoError(t, Transcript(path, chat, msgs, FormatMarkdown))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "# Trip planning")
	assert.Contains(t, out, "## You")
	assert.Contains(t, out, "## Nexora")
	assert.Contains(t, out, "Fushimi Inari")
}

func TestTranscript_JSON(t *testing.T) {
	chat, msgs := sampleTranscript()
	path := filepath.Join(t.TempDir(), "chat.json")

	require.NoError(t, Transcript(path, chat, msgs, FormatJSON))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var out jsonExport
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "c1", out.ChatID)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, model.RoleBot, out.Messages[1].Role)
}

func TestTranscript_UnknownFormat(t *testing.T) {
	chat, msgs := sampleTranscript()
	err := Transcript(filepath.Join(t.TempDir(), "x"), chat, msgs, Format("yaml"))
	require.Error(t, err)
}
