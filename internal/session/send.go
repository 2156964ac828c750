// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/nexora-ai/nexora-tui/internal/api"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/storage"
	"github.com/nexora-ai/nexora-tui/internal/stream"
)

// AbortNotice replaces the trailing bot message when the user stops a
// generation.
const AbortNotice = "Generation stopped by user. Please try again."

// analyzingNotice is the placeholder shown while a file is processed.
const analyzingNotice = "Analyzing file..."

// titleThreshold is the transcript length from which a chat gets a
// server-generated title.
const titleThreshold = 3

// =============================================================================
// SEND
// =============================================================================

// Send validates and dispatches a user message. Local rejections (empty,
// oversized, guest quota, generation already running) return an error and
// touch neither the transcript nor the network.
func (m *Manager) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len([]rune(text)) > model.MaxMessageLen {
		return ErrMessageTooLong
	}
	if err := m.auth.CheckQuota(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.busy() {
		m.mu.Unlock()
		return ErrBusy
	}

	history := m.historyLocked()
	m.messages = append(m.messages, model.NewUserMessage(text, nil))
	m.messages = append(m.messages, model.NewBotMessage(""))
	m.state = StateSending
	m.lastFile = nil
	req := api.SendRequest{
		Message:             text,
		ChatID:              m.chat.ID,
		CollectionID:        m.opts.CollectionID,
		ConversationHistory: history,
		EnableWebSearch:     m.opts.EnableWebSearch,
		ResponseStyle:       m.opts.ResponseStyle,
	}
	m.persistLocked()

	ctx, cancel := context.WithTimeout(context.Background(), api.GenerationTimeout)
	m.cancels.set(cancel)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()
	m.signal()

	go m.runGeneration(ctx, cancel, done, req)
	return nil
}

// Edit replaces the text of the user message at index i, discards
// everything after it and re-sends. Discarded messages are gone for good.
func (m *Manager) Edit(i int, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	if len([]rune(text)) > model.MaxMessageLen {
		return ErrMessageTooLong
	}
	if err := m.auth.CheckQuota(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.busy() {
		m.mu.Unlock()
		return ErrBusy
	}
	if i < 0 || i >= len(m.messages) || m.messages[i].Role != model.RoleUser {
		m.mu.Unlock()
		return ErrNoUserMessage
	}

	m.messages = m.messages[:i+1]
	m.messages[i].Text = text
	m.messages[i].Timestamp = time.Now().UnixMilli()
	m.mu.Unlock()

	return m.redispatch(i)
}

// Regenerate re-runs the last exchange, replacing only the trailing bot
// response.
func (m *Manager) Regenerate() error {
	if err := m.auth.CheckQuota(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.busy() {
		m.mu.Unlock()
		return ErrBusy
	}
	idx := model.LastUserIndex(m.messages)
	if idx < 0 {
		m.mu.Unlock()
		return ErrNoUserMessage
	}
	m.messages = m.messages[:idx+1]
	file := m.lastFile
	m.mu.Unlock()

	if file != nil {
		return m.dispatchFile(idx, file)
	}
	return m.redispatch(idx)
}

// redispatch starts a generation for the existing user message at idx.
// The transcript must already be truncated to idx+1.
func (m *Manager) redispatch(idx int) error {
	m.mu.Lock()
	if m.state.busy() {
		m.mu.Unlock()
		return ErrBusy
	}

	text := m.messages[idx].Text
	texts := make([]string, 0, idx)
	for _, msg := range m.messages[:idx] {
		texts = append(texts, msg.Text)
	}
	req := api.SendRequest{
		Message:             text,
		ChatID:              m.chat.ID,
		CollectionID:        m.opts.CollectionID,
		ConversationHistory: api.TrimHistory(texts),
		EnableWebSearch:     m.opts.EnableWebSearch,
		ResponseStyle:       m.opts.ResponseStyle,
	}

	m.messages = append(m.messages, model.NewBotMessage(""))
	m.state = StateSending
	m.persistLocked()

	ctx, cancel := context.WithTimeout(context.Background(), api.GenerationTimeout)
	m.cancels.set(cancel)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()
	m.signal()

	go m.runGeneration(ctx, cancel, done, req)
	return nil
}

// =============================================================================
// GENERATION PIPELINE
// =============================================================================

// runGeneration performs one streaming exchange end to end.
func (m *Manager) runGeneration(ctx context.Context, cancel context.CancelFunc, done chan struct{}, req api.SendRequest) {
	defer close(done)
	defer cancel()

	body, err := m.client.Send(ctx, req)
	if err != nil {
		m.finishError(ctx, err)
		return
	}
	defer body.Close()

	decoder := stream.NewDecoder(body, m.logger)
	m.mu.Lock()
	if m.opts.StallTimeout > 0 {
		decoder.SetStallTimeout(m.opts.StallTimeout)
	}
	m.mu.Unlock()
	events, errs := decoder.Events(ctx)

	for ev := range events {
		m.applyEvent(ev)
	}

	if err := <-errs; err != nil {
		m.finishError(ctx, err)
		return
	}
	m.finishSuccess()
}

// applyEvent folds one stream event into the transcript.
func (m *Manager) applyEvent(ev stream.Event) {
	m.mu.Lock()
	// Events already buffered when an abort lands must not reach the
	// transcript after the stop notice replaced it.
	if !m.state.busy() {
		m.mu.Unlock()
		return
	}
	defer func() {
		m.persistLocked()
		m.mu.Unlock()
		m.signal()
	}()

	if m.state == StateSending {
		m.state = StateStreaming
	}

	switch ev.Type {
	case stream.EventMetadata:
		// Adopt the server-assigned id only for brand-new chats.
		if m.chat.ID == "" && ev.ChatID != "" {
			m.chat.ID = ev.ChatID
			if m.chat.Title == "" {
				if idx := model.LastUserIndex(m.messages); idx >= 0 {
					m.chat.Title = m.messages[idx].Preview(40)
				}
			}
			if err := m.store.Put(storage.KeyCurrentChat, m.chat); err != nil {
				m.logger.Printf("session: failed to persist current chat: %v", err)
			}
			if err := m.store.TouchRecentChat(m.chat); err != nil {
				m.logger.Printf("session: failed to update recent chats: %v", err)
			}
		}

	case stream.EventToken:
		last := len(m.messages) - 1
		if last < 0 || m.messages[last].Role != model.RoleBot || m.messages[last].IsComplete {
			m.messages = append(m.messages, model.NewBotMessage(""))
			last = len(m.messages) - 1
		}
		m.messages[last].Text += ev.Content
	}
}

// finishSuccess marks the exchange complete, spends guest quota and kicks
// off title generation when due.
func (m *Manager) finishSuccess() {
	m.mu.Lock()
	if !m.state.busy() {
		m.mu.Unlock()
		return
	}
	last := len(m.messages) - 1
	if last >= 0 && m.messages[last].Role == model.RoleBot {
		m.messages[last].IsComplete = true
		m.messages[last].ShowActions = true
	}
	m.state = StateCompleted
	m.persistLocked()
	chat := m.chat
	count := len(m.messages)
	m.mu.Unlock()
	m.signal()

	// Quota is charged only once the completed transcript is on disk.
	if err := m.writer.Flush(); err != nil {
		m.logger.Printf("session: flush after completion failed: %v", err)
	}
	m.auth.ConsumeGuestMessage()

	if chat.ID != "" && count >= titleThreshold && m.auth.IsAuthenticated() {
		go m.generateTitle(chat.ID)
	}
}

// finishError records a failed exchange. Cancellation is not an error
// here; Abort already rewrote the transcript.
func (m *Manager) finishError(ctx context.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return
	}

	reason := err.Error()
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		reason = apiErr.Detail
	}
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "the request timed out"
	}
	if errors.Is(err, stream.ErrStalled) {
		reason = "the response stream stalled"
	}
	m.logger.Printf("session: generation failed: %v", err)

	m.mu.Lock()
	if !m.state.busy() {
		m.mu.Unlock()
		return
	}
	text := fmt.Sprintf("Error: %s\n\nPlease try again.", reason)
	last := len(m.messages) - 1
	if last >= 0 && m.messages[last].Role == model.RoleBot {
		m.messages[last].Text = text
		m.messages[last].IsComplete = true
		m.messages[last].ShowActions = true
	} else {
		bot := model.NewBotMessage(text)
		bot.IsComplete = true
		bot.ShowActions = true
		m.messages = append(m.messages, bot)
	}
	m.state = StateErrored
	m.persistLocked()
	m.mu.Unlock()
	m.signal()
}

// Abort stops the running generation. Idempotent; a no-op when nothing is
// in flight. The text accumulated up to the abort point stays in the
// trailing bot message, annotated with the stop notice; no further tokens
// are applied.
func (m *Manager) Abort() {
	m.cancels.cancel()

	m.mu.Lock()
	if !m.state.busy() {
		m.mu.Unlock()
		return
	}
	last := len(m.messages) - 1
	if last >= 0 && m.messages[last].Role == model.RoleBot {
		msg := &m.messages[last]
		if msg.Text != "" {
			msg.Text += "\n\n" + AbortNotice
		} else {
			msg.Text = AbortNotice
		}
		msg.IsComplete = true
		msg.ShowActions = true
	}
	m.state = StateAborted
	m.persistLocked()
	m.mu.Unlock()
	m.signal()
}

// =============================================================================
// FILE EXCHANGES
// =============================================================================

// SendFile uploads a file for analysis. The exchange is non-streaming:
// one placeholder bot message is shown until the analysis arrives, and the
// result replaces it. The extended upload timeout applies.
func (m *Manager) SendFile(name string, content []byte, query string) error {
	if err := m.auth.CheckQuota(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state.busy() {
		m.mu.Unlock()
		return ErrBusy
	}

	file := &model.FileRef{
		Name: filepath.Base(name),
		Size: int64(len(content)),
		Type: mime.TypeByExtension(filepath.Ext(name)),
	}
	m.messages = append(m.messages, model.NewUserMessage(query, file))
	idx := len(m.messages) - 1
	pending := &pendingFile{name: file.Name, content: content, query: query}
	m.lastFile = pending
	m.mu.Unlock()

	return m.dispatchFile(idx, pending)
}

// dispatchFile runs the upload for the user message at idx.
func (m *Manager) dispatchFile(idx int, file *pendingFile) error {
	m.mu.Lock()
	if m.state.busy() {
		m.mu.Unlock()
		return ErrBusy
	}

	bot := model.NewBotMessage(analyzingNotice)
	m.messages = append(m.messages, bot)
	m.state = StateSending
	chatID := m.chat.ID
	m.persistLocked()

	ctx, cancel := context.WithTimeout(context.Background(), api.UploadTimeout)
	m.cancels.set(cancel)
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()
	m.signal()

	go func() {
		defer close(done)
		defer cancel()

		result, err := m.client.UploadFile(ctx, file.name, bytes.NewReader(file.content), file.query, chatID)
		if err != nil {
			m.finishError(ctx, err)
			return
		}
		m.applyFileResult(idx, result)
	}()
	return nil
}

// applyFileResult patches the transcript with the analysis outcome.
func (m *Manager) applyFileResult(idx int, result *api.UploadResult) {
	m.mu.Lock()
	if !m.state.busy() {
		m.mu.Unlock()
		return
	}
	if idx < len(m.messages) && m.messages[idx].File != nil {
		m.messages[idx].File.FileID = result.FileID
		m.messages[idx].File.ChatID = result.ChatID
	}

	if m.chat.ID == "" && result.ChatID != "" {
		m.chat.ID = result.ChatID
		if err := m.store.Put(storage.KeyCurrentChat, m.chat); err != nil {
			m.logger.Printf("session: failed to persist current chat: %v", err)
		}
		if err := m.store.TouchRecentChat(m.chat); err != nil {
			m.logger.Printf("session: failed to update recent chats: %v", err)
		}
	}

	last := len(m.messages) - 1
	if last >= 0 && m.messages[last].Role == model.RoleBot {
		m.messages[last].Text = result.Text()
		m.messages[last].IsComplete = true
		m.messages[last].ShowActions = true
	}
	m.state = StateCompleted
	m.persistLocked()
	m.mu.Unlock()
	m.signal()

	if err := m.writer.Flush(); err != nil {
		m.logger.Printf("session: flush after file exchange failed: %v", err)
	}
	m.auth.ConsumeGuestMessage()
}

// =============================================================================
// TITLES
// =============================================================================

// generateTitle asks the server for a chat title. Detached from the send
// path: failures are logged, never surfaced.
func (m *Manager) generateTitle(chatID string) {
	m.mu.Lock()
	texts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		texts = append(texts, msg.Text)
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), api.DefaultTimeout)
	defer cancel()

	title, err := m.client.GenerateTitle(ctx, chatID, api.TrimHistory(texts))
	if err != nil || title == "" {
		m.logger.Printf("session: title generation failed: %v", err)
		return
	}

	m.mu.Lock()
	if m.chat.ID == chatID {
		m.chat.Title = title
		if err := m.store.Put(storage.KeyCurrentChat, m.chat); err != nil {
			m.logger.Printf("session: failed to persist current chat: %v", err)
		}
	}
	chat := model.Chat{ID: chatID, Title: title}
	m.mu.Unlock()

	if err := m.store.TouchRecentChat(chat); err != nil {
		m.logger.Printf("session: failed to update recent chats: %v", err)
	}
	m.signal()
}
