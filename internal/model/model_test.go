// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("hello", nil)

	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, "hello", msg.Text)
	assert.True(t, msg.IsComplete)
	assert.NotZero(t, msg.Timestamp)
	assert.Nil(t, msg.File)
}

func TestNewUserMessage_WithFile(t *testing.T) {
	file := &FileRef{Name: "report.pdf", Size: 2048, Type: "application/pdf"}
	msg := NewUserMessage("summarize this", file)

	assert.Equal(t, file, msg.File)
	assert.Empty(t, msg.File.FileID, "file id is late-bound, must start empty")
}

func TestNewBotMessage(t *testing.T) {
	msg := NewBotMessage("")

	assert.Equal(t, RoleBot, msg.Role)
	assert.False(t, msg.IsComplete)
}

func TestRoleDisplayName(t *testing.T) {
	assert.Equal(t, "You", RoleUser.DisplayName())
	assert.Equal(t, "Nexora", RoleBot.DisplayName())
	assert.Equal(t, "other", Role("other").DisplayName())
}

func TestChatIsGuest(t *testing.T) {
	assert.True(t, (&Chat{ID: "guest-a1b2c3d4"}).IsGuest())
	assert.False(t, (&Chat{ID: "c1"}).IsGuest())
	assert.False(t, (&Chat{}).IsGuest())
}

func TestLastUserIndex(t *testing.T) {
	msgs := []Message{
		NewUserMessage("first", nil),
		{Role: RoleBot, Text: "reply", IsComplete: true},
		NewUserMessage("second", nil),
		{Role: RoleBot, Text: "reply 2", IsComplete: true},
	}

	assert.Equal(t, 2, LastUserIndex(msgs))
	assert.Equal(t, -1, LastUserIndex(nil))
	assert.Equal(t, -1, LastUserIndex([]Message{{Role: RoleBot, IsComplete: true}}))
}

func TestHasPendingBot(t *testing.T) {
	assert.False(t, HasPendingBot(nil))
	assert.False(t, HasPendingBot([]Message{NewUserMessage("hi", nil)}))

	msgs := []Message{NewUserMessage("hi", nil), NewBotMessage("")}
	assert.True(t, HasPendingBot(msgs))

	msgs[1].IsComplete = true
	assert.False(t, HasPendingBot(msgs))
}

func TestMarkAllComplete(t *testing.T) {
	msgs := []Message{
		NewUserMessage("hi", nil),
		NewBotMessage("partial answ"),
	}

	restored := MarkAllComplete(msgs)

	assert.True(t, restored[1].IsComplete)
	assert.Equal(t, "partial answ", restored[1].Text)
}

func TestMessagePreview(t *testing.T) {
	msg := NewUserMessage("line one\nline two that is quite long indeed", nil)
	preview := msg.Preview(20)

	assert.LessOrEqual(t, len([]rune(preview)), 20)
	assert.NotContains(t, preview, "\n")
}
