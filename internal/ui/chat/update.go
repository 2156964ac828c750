// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nexora-ai/nexora-tui/internal/auth"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/session"
)

// Update handles one event.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.renderTranscript()

	case tea.KeyMsg:
		newModel, cmd, handled := m.handleKey(msg)
		if handled {
			return newModel, cmd
		}
		m = newModel

	case sessionChangedMsg:
		m.frames.MarkDirty()
		m.refreshChats()
		cmds = append(cmds, m.waitForChange())
		if m.busy() {
			// Streaming: let the frame ticker drive repaints.
			cmds = append(cmds, frameTick())
		} else {
			// Terminal transitions always paint.
			m.frames.Force()
			m.renderTranscript()
		}

	case frameMsg:
		if m.frames.Allow() {
			m.renderTranscript()
		}
		if m.busy() {
			cmds = append(cmds, frameTick())
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Forward remaining events to the focused components.
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKey processes a key press. handled=true means the event must not
// reach the components (e.g. enter would otherwise insert a newline).
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit, true

	case key.Matches(msg, m.keys.Send):
		m.submit()
		return m, nil, true

	case key.Matches(msg, m.keys.Abort):
		if m.busy() {
			m.session.Abort()
			return m, nil, true
		}
		return m, nil, false

	case key.Matches(msg, m.keys.NewChat):
		if m.editing >= 0 {
			// Ctrl+N first cancels a staged edit.
			m.editing = -1
			m.input.Reset()
			m.status = ""
			return m, nil, true
		}
		if err := m.session.NewChat(); err != nil {
			m.status = statusText(err)
		} else {
			m.status = ""
			m.renderTranscript()
		}
		return m, nil, true

	case key.Matches(msg, m.keys.Regenerate):
		if err := m.session.Regenerate(); err != nil {
			m.status = statusText(err)
		}
		return m, nil, true

	case key.Matches(msg, m.keys.EditLast):
		m.startEditLast()
		return m, nil, true

	case key.Matches(msg, m.keys.Sidebar):
		m.showSidebar = !m.showSidebar
		m.resize(m.width, m.height)
		m.renderTranscript()
		return m, nil, true

	case key.Matches(msg, m.keys.PrevChat):
		if m.selected > 0 {
			m.selected--
		}
		return m, nil, true

	case key.Matches(msg, m.keys.NextChat):
		if m.selected < len(m.chats)-1 {
			m.selected++
		}
		return m, nil, true

	case key.Matches(msg, m.keys.OpenChat):
		m.openSelected()
		return m, nil, true
	}
	return m, nil, false
}

// submit dispatches the composed message: a staged edit re-sends through
// the truncating edit path, anything else is a fresh send.
func (m *Model) submit() {
	text := m.input.Value()

	var err error
	if m.editing >= 0 {
		err = m.session.Edit(m.editing, text)
	} else {
		err = m.session.Send(text)
	}
	switch {
	case err == nil:
		m.editing = -1
		m.input.Reset()
		m.status = ""
		m.renderTranscript()
	case errors.Is(err, session.ErrEmptyMessage):
		// Silently ignore empty submits, matching every chat UI ever.
	default:
		m.status = statusText(err)
	}
}

// startEditLast loads the last user message into the composer for editing.
// Nothing is sent until the user submits the revised text; only then does
// the transcript truncate.
func (m *Model) startEditLast() {
	msgs := m.session.Messages()
	idx := model.LastUserIndex(msgs)
	if idx < 0 || m.busy() {
		return
	}
	m.editing = idx
	m.input.SetValue(msgs[idx].Text)
	m.status = "Editing message. Enter re-sends, Ctrl+N cancels."
}

// openSelected switches to the highlighted sidebar chat.
func (m *Model) openSelected() {
	if m.selected < 0 || m.selected >= len(m.chats) {
		return
	}
	if err := m.session.LoadChat(m.chats[m.selected]); err != nil {
		m.status = statusText(err)
		return
	}
	// A staged edit indexes the old transcript; drop it.
	m.editing = -1
	m.input.Reset()
	m.status = ""
	m.renderTranscript()
}

// statusText maps local rejections to short inline notices.
func statusText(err error) string {
	switch {
	case errors.Is(err, session.ErrMessageTooLong):
		return "Message is too long (4096 characters max)."
	case errors.Is(err, session.ErrBusy):
		return "Wait for the current response to finish."
	case errors.Is(err, auth.ErrGuestLimit):
		return "Guest limit reached. Log in to continue chatting."
	case errors.Is(err, session.ErrNoUserMessage):
		return "Nothing to regenerate yet."
	default:
		return err.Error()
	}
}

// resize recomputes component dimensions.
func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height

	contentWidth := width
	if m.showSidebar {
		contentWidth -= sidebarWidth
	}
	if contentWidth < 20 {
		contentWidth = 20
	}

	// Header, status bar and input each take rows from the viewport.
	inputHeight := 5
	chromeHeight := 2 + 1 + inputHeight
	viewportHeight := height - chromeHeight
	if viewportHeight < 3 {
		viewportHeight = 3
	}

	m.viewport.Width = contentWidth
	m.viewport.Height = viewportHeight
	m.input.SetWidth(contentWidth - 4)
	m.renderer.SetWidth(contentWidth - 2)
}
