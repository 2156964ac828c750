// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/nexora-ai/nexora-tui/internal/util"
)

// =============================================================================
// LIMITS
// =============================================================================

const (
	// MessageLimit is the number of completed exchanges a guest may send
	// before being asked to log in.
	MessageLimit = 10

	// MaxMessageLen is the maximum accepted input length in characters.
	// Longer input is rejected locally before any request is made.
	MaxMessageLen = 4096
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleBot:
		return "Nexora"
	default:
		return string(r)
	}
}

// =============================================================================
// FILE REFERENCE
// =============================================================================

// FileRef describes a file attached to a user message. Name, Size and Type
// are fixed at selection time; FileID and ChatID are patched in after the
// upload completes.
type FileRef struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Type   string `json:"type"`
	FileID string `json:"file_id,omitempty"`
	ChatID string `json:"chat_id,omitempty"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single entry in a chat transcript. The transcript
// slice is the sole source of truth for a chat; messages are only removed
// by edit/regenerate truncation or a full chat delete.
type Message struct {
	Role       Role     `json:"from"`
	Text       string   `json:"text"`
	IsComplete bool     `json:"isComplete"`
	Timestamp  int64    `json:"timestamp"` // ms since epoch
	File       *FileRef `json:"file,omitempty"`

	// Web search attribution for bot messages.
	SearchUsed   bool   `json:"searchUsed,omitempty"`
	SearchSource string `json:"searchSource,omitempty"`

	// ShowActions forces the retry/regenerate row even on messages that
	// ended in an error or abort.
	ShowActions bool `json:"showActions,omitempty"`
}

// NewUserMessage creates a complete user message stamped with the current time.
func NewUserMessage(text string, file *FileRef) Message {
	return Message{
		Role:       RoleUser,
		Text:       text,
		IsComplete: true,
		Timestamp:  time.Now().UnixMilli(),
		File:       file,
	}
}

// NewBotMessage creates an in-flight bot message with the given initial text.
func NewBotMessage(text string) Message {
	return Message{
		Role:       RoleBot,
		Text:       text,
		IsComplete: false,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// Preview returns a truncated single-line preview of the message text.
func (m *Message) Preview(maxRunes int) string {
	return util.Sanitize(util.TruncateRunes(m.Text, maxRunes))
}

// IsEmpty returns true if the message has no text and no attachment.
func (m *Message) IsEmpty() bool {
	return m.Text == "" && m.File == nil
}

// Time returns the message timestamp as a time.Time.
func (m *Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat identifies one conversation. An empty ID means the chat has not been
// persisted server-side yet; guest chats use a client-generated "guest-" id.
type Chat struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// IsGuest reports whether the chat id was generated client-side for a guest.
func (c *Chat) IsGuest() bool {
	return len(c.ID) > 6 && c.ID[:6] == "guest-"
}

// =============================================================================
// TRANSCRIPT HELPERS
// =============================================================================

// LastUserIndex returns the index of the last user message, or -1.
func LastUserIndex(msgs []Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// HasPendingBot reports whether the transcript tail is an in-flight bot
// message. At most one such message may exist, always at the tail.
func HasPendingBot(msgs []Message) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	return last.Role == RoleBot && !last.IsComplete
}

// MarkAllComplete returns the transcript with every bot message forced
// complete. Used when restoring persisted state: partial in-flight text is
// never restored as in-flight.
func MarkAllComplete(msgs []Message) []Message {
	for i := range msgs {
		if msgs[i].Role == RoleBot {
			msgs[i].IsComplete = true
		}
	}
	return msgs
}
