// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides shared rendering pieces for the Nexora TUI.
package components

import (
	"strings"

	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MESSAGE RENDERER
// =============================================================================

// MessageRenderer turns bot message text into terminal output. Completed
// messages get full markdown rendering; partial (streaming) text is shown
// plain so the renderer never fights half-open markdown constructs.
type MessageRenderer struct {
	glamour     *glamour.TermRenderer
	width       int
	markdown    bool
	syntaxTheme string
}

// NewMessageRenderer creates a renderer for the given wrap width.
// Markdown rendering degrades to highlighted plain text when glamour
// cannot initialize (e.g. a dumb terminal).
func NewMessageRenderer(width int, markdown bool, syntaxTheme string) *MessageRenderer {
	r := &MessageRenderer{
		width:       width,
		markdown:    markdown,
		syntaxTheme: syntaxTheme,
	}
	if markdown {
		gr, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			r.glamour = gr
		}
	}
	return r
}

// SetWidth rebuilds the renderer for a new wrap width.
func (r *MessageRenderer) SetWidth(width int) {
	if width == r.width {
		return
	}
	r.width = width
	if r.markdown {
		if gr, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		); err == nil {
			r.glamour = gr
		}
	}
}

// RenderComplete renders a finished bot message.
func (r *MessageRenderer) RenderComplete(text string) string {
	if r.glamour != nil {
		out, err := r.glamour.Render(text)
		if err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return r.highlightFences(text)
}

// RenderPartial renders in-flight streaming text without markdown.
func (r *MessageRenderer) RenderPartial(text string) string {
	return text
}

// highlightFences applies chroma highlighting to fenced code blocks,
// leaving the surrounding prose untouched.
func (r *MessageRenderer) highlightFences(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	var code []string
	var lang string
	inFence := false

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "```") && !inFence:
			lang = strings.TrimSpace(strings.TrimPrefix(line, "```"))
			inFence = true
		case strings.HasPrefix(line, "```") && inFence:
			out = append(out, r.highlight(strings.Join(code, "\n"), lang))
			code = nil
			lang = ""
			inFence = false
		case inFence:
			code = append(code, line)
		default:
			out = append(out, line)
		}
	}
	if inFence {
		out = append(out, r.highlight(strings.Join(code, "\n"), lang))
	}
	return strings.Join(out, "\n")
}

// highlight runs chroma over one code snippet. On any failure the raw
// code comes back unchanged.
func (r *MessageRenderer) highlight(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}

	style := chromaStyles.Get(r.syntaxTheme)
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		return code
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var sb strings.Builder
	if err := formatter.Format(&sb, style, iterator); err != nil {
		return code
	}
	return strings.TrimRight(sb.String(), "\n")
}
