// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat transcripts to files.
package export

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/util"
)

// Format selects the output encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// FormatForPath picks a format from the file extension.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatMarkdown
}

// Transcript writes a chat transcript to path in the given format.
// Writes are atomic so an interrupted export never leaves a torn file.
func Transcript(path string, chat model.Chat, msgs []model.Message, format Format) error {
	var data []byte
	var err error

	switch format {
	case FormatJSON:
		data, err = renderJSON(chat, msgs)
	case FormatMarkdown:
		data, err = renderMarkdown(chat, msgs)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	if err != nil {
		return err
	}

	return util.AtomicWriteFile(path, data, 0644)
}

// =============================================================================
// RENDERERS
// =============================================================================

// jsonExport is the stable JSON envelope.
type jsonExport struct {
	Title      string          `json:"title,omitempty"`
	ChatID     string          `json:"chat_id,omitempty"`
	ExportedAt time.Time       `json:"exported_at"`
	Messages   []model.Message `json:"messages"`
}

func renderJSON(chat model.Chat, msgs []model.Message) ([]byte, error) {
	out, err := json.MarshalIndent(jsonExport{
		Title:      chat.Title,
		ChatID:     chat.ID,
		ExportedAt: time.Now().UTC(),
		Messages:   msgs,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode transcript: %w", err)
	}
	return append(out, '\n'), nil
}

func renderMarkdown(chat model.Chat, msgs []model.Message) ([]byte, error) {
	var sb strings.Builder

	title := chat.Title
	if title == "" {
		title = "Nexora conversation"
	}
	fmt.Fprintf(&sb, "# %s\n\n", title)
	fmt.Fprintf(&sb, "_Exported %s_\n\n", time.Now().Format("2006-01-02 15:04"))

	for _, msg := range msgs {
		fmt.Fprintf(&sb, "## %s\n\n", msg.Role.DisplayName())
		if msg.File != nil {
			fmt.Fprintf(&sb, "> Attached: %s (%d bytes)\n\n", msg.File.Name, msg.File.Size)
		}
		sb.WriteString(strings.TrimSpace(msg.Text))
		sb.WriteString("\n\n")
	}

	return []byte(sb.String()), nil
}
