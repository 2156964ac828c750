// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the Nexora TUI.
package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nexora-ai/nexora-tui/internal/auth"
	"github.com/nexora-ai/nexora-tui/internal/config"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/session"
	"github.com/nexora-ai/nexora-tui/internal/storage"
	"github.com/nexora-ai/nexora-tui/internal/ui/components"
	"github.com/nexora-ai/nexora-tui/internal/ui/styles"
)

// sidebarWidth is the fixed recent-chat panel width.
const sidebarWidth = 28

// sessionChangedMsg signals that the session mutated state.
type sessionChangedMsg struct{}

// Model is the Bubble Tea model for the chat view.
// The cancel-bearing pieces are pointers so Bubble Tea's value copies in
// Update never duplicate a mutex.
type Model struct {
	session *session.Manager
	auth    *auth.Manager
	store   *storage.Store
	cfg     *config.Config

	theme    *styles.Theme
	renderer *components.MessageRenderer
	frames   *frameLimiter

	viewport viewport.Model
	input    textarea.Model
	spin     spinner.Model
	keys     KeyMap

	width  int
	height int

	showSidebar bool
	chats       []model.Chat
	selected    int

	// editing is the transcript index staged for an edit, -1 when the
	// composer holds a fresh message.
	editing int

	// status is a transient inline notice (validation failures etc).
	status string
}

// New creates the chat view.
func New(sess *session.Manager, authMgr *auth.Manager, store *storage.Store, cfg *config.Config) Model {
	theme := styles.NewTheme(cfg.UI.Theme)

	input := textarea.New()
	input.Placeholder = "Message Nexora..."
	input.CharLimit = model.MaxMessageLen
	input.ShowLineNumbers = false
	input.SetHeight(3)
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	chats, _ := store.RecentChats()

	return Model{
		session:     sess,
		auth:        authMgr,
		store:       store,
		cfg:         cfg,
		theme:       theme,
		renderer:    components.NewMessageRenderer(80, cfg.UI.Markdown, cfg.UI.SyntaxTheme),
		frames:      &frameLimiter{},
		viewport:    viewport.New(80, 20),
		input:       input,
		spin:        spin,
		keys:        DefaultKeyMap(),
		showSidebar: true,
		chats:       chats,
		editing:     -1,
	}
}

// Init starts the background listeners.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spin.Tick,
		m.waitForChange(),
	)
}

// waitForChange bridges the session's notify channel into the event loop.
func (m Model) waitForChange() tea.Cmd {
	return func() tea.Msg {
		<-m.session.Notify()
		return sessionChangedMsg{}
	}
}

// refreshChats reloads the sidebar list.
func (m *Model) refreshChats() {
	if chats, err := m.store.RecentChats(); err == nil {
		m.chats = chats
		if m.selected >= len(m.chats) {
			m.selected = len(m.chats) - 1
		}
		if m.selected < 0 {
			m.selected = 0
		}
	}
}

// busy reports whether a generation is running.
func (m Model) busy() bool {
	s := m.session.State()
	return s == session.StateSending || s == session.StateStreaming
}
