// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/session"
	"github.com/nexora-ai/nexora-tui/internal/util"
)

// View renders the full chat screen.
func (m Model) View() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)

	if !m.showSidebar {
		return content
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), content)
}

// =============================================================================
// CHROME
// =============================================================================

func (m Model) renderHeader() string {
	brand := m.theme.HeaderBrand.Render("Nexora")

	title := m.session.Chat().Title
	if title == "" {
		title = "New chat"
	}
	info := m.theme.HeaderInfo.Render(util.TruncateRunes(title, 48))

	var account string
	if user := m.auth.User(); user != nil {
		account = m.theme.HeaderInfo.Render(user.Email)
	} else {
		account = m.theme.HeaderInfo.Render("guest")
	}

	line := brand + "  " + info
	gap := m.contentWidth() - lipgloss.Width(line) - lipgloss.Width(account) - 2
	if gap > 0 {
		line += strings.Repeat(" ", gap) + account
	}
	return m.theme.Header.Width(m.contentWidth()).Render(line)
}

func (m Model) renderInput() string {
	count := len([]rune(m.input.Value()))
	counter := fmt.Sprintf("%d/%d", count, model.MaxMessageLen)
	style := m.theme.CharCount
	if count >= model.MaxMessageLen {
		style = m.theme.CharLimit
	}

	box := m.theme.InputActive
	if m.busy() {
		box = m.theme.InputBox
	}
	return box.Width(m.contentWidth() - 2).Render(
		m.input.View() + "\n" + style.Render(counter))
}

func (m Model) renderStatusBar() string {
	var left string
	switch m.session.State() {
	case session.StateSending:
		left = m.spin.View() + " sending"
	case session.StateStreaming:
		left = m.spin.View() + " streaming"
	case session.StateErrored:
		left = "error"
	case session.StateAborted:
		left = "stopped"
	case session.StateCompleted:
		left = "ready"
	default:
		left = "ready"
	}
	bar := m.theme.StatusState.Render(left)

	if m.status != "" {
		bar += m.theme.StatusBar.Render(" · " + m.status)
	}

	if remaining := m.auth.GuestRemaining(); remaining >= 0 {
		quota := fmt.Sprintf(" · %d free message", remaining)
		if remaining != 1 {
			quota += "s"
		}
		bar += m.theme.StatusQuota.Render(quota + " left")
	}

	return m.theme.StatusBar.Width(m.contentWidth()).Render(bar)
}

func (m Model) renderSidebar() string {
	var sb strings.Builder
	sb.WriteString(m.theme.HeaderBrand.Render("Chats"))
	sb.WriteString("\n\n")

	if len(m.chats) == 0 {
		sb.WriteString(m.theme.ChatEntry.Render("No chats yet"))
	}
	for i, chat := range m.chats {
		title := chat.Title
		if title == "" {
			title = chat.ID
		}
		title = runewidth.Truncate(title, sidebarWidth-4, "…")
		if i == m.selected {
			sb.WriteString(m.theme.ChatSelected.Render(title))
		} else {
			sb.WriteString(m.theme.ChatEntry.Render(title))
		}
		sb.WriteString("\n")
	}

	return m.theme.Sidebar.
		Width(sidebarWidth - 1).
		Height(m.height - 1).
		Render(sb.String())
}

func (m Model) contentWidth() int {
	w := m.width
	if m.showSidebar {
		w -= sidebarWidth
	}
	if w < 20 {
		w = 20
	}
	return w
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// renderTranscript repaints the viewport from the session transcript and
// pins the scroll position to the bottom.
func (m *Model) renderTranscript() {
	msgs := m.session.Messages()
	var sb strings.Builder

	for i, msg := range msgs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.renderMessage(msg))
	}

	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessage(msg model.Message) string {
	var sb strings.Builder

	switch msg.Role {
	case model.RoleUser:
		sb.WriteString(m.theme.UserLabel.Render(msg.Role.DisplayName()))
		if msg.File != nil {
			sb.WriteString(" ")
			sb.WriteString(m.theme.FileTag.Render("📎 " + msg.File.Name))
		}
		sb.WriteString("\n")
		sb.WriteString(m.theme.UserMessage.Render(msg.Text))

	case model.RoleBot:
		sb.WriteString(m.theme.BotLabel.Render(msg.Role.DisplayName()))
		sb.WriteString("\n")
		sb.WriteString(m.renderBotText(msg))
	}
	return sb.String()
}

func (m *Model) renderBotText(msg model.Message) string {
	switch {
	case strings.HasPrefix(msg.Text, "Error: "):
		return m.theme.ErrorMessage.Render(msg.Text)
	case msg.Text == session.AbortNotice:
		return m.theme.Notice.Render(msg.Text)
	case strings.HasSuffix(msg.Text, session.AbortNotice):
		// Aborted mid-stream: partial answer plus the stop notice.
		body := strings.TrimSuffix(msg.Text, session.AbortNotice)
		body = strings.TrimRight(body, "\n")
		return m.theme.BotMessage.Render(body) + "\n" +
			m.theme.Notice.Render(session.AbortNotice)
	case !msg.IsComplete:
		text := m.renderer.RenderPartial(msg.Text)
		if text == "" {
			return m.spin.View()
		}
		return m.theme.BotMessage.Render(text + " ▌")
	default:
		return m.renderer.RenderComplete(msg.Text)
	}
}
