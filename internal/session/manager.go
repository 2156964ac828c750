// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the chat lifecycle: transcript state, the single
// in-flight generation, and the transitions between idle, sending,
// streaming and the terminal outcomes.
package session

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/nexora-ai/nexora-tui/internal/api"
	"github.com/nexora-ai/nexora-tui/internal/auth"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/storage"
)

// =============================================================================
// STATES
// =============================================================================

// State is the session's position in the generation lifecycle.
type State int

const (
	// StateIdle means no generation is running and none has run yet
	// (or the transcript was switched since the last outcome).
	StateIdle State = iota
	// StateSending means the request is dispatched, no event received yet.
	StateSending
	// StateStreaming means events are arriving.
	StateStreaming
	// StateCompleted means the last generation finished cleanly.
	StateCompleted
	// StateErrored means the last generation failed.
	StateErrored
	// StateAborted means the user stopped the last generation.
	StateAborted
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// busy reports whether a generation is in flight.
func (s State) busy() bool {
	return s == StateSending || s == StateStreaming
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrEmptyMessage rejects blank sends locally.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong rejects oversized sends locally.
	ErrMessageTooLong = errors.New("message exceeds maximum length")

	// ErrBusy rejects a second generation while one is in flight.
	ErrBusy = errors.New("a generation is already running")

	// ErrNoUserMessage means there is nothing to regenerate or edit.
	ErrNoUserMessage = errors.New("no user message to act on")
)

// =============================================================================
// MANAGER
// =============================================================================

// cancelState guards the in-flight cancel function. Held by pointer so the
// mutex is never copied.
type cancelState struct {
	mu         sync.Mutex
	cancelFunc context.CancelFunc
}

func (c *cancelState) set(fn context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelFunc = fn
}

// cancel invokes and clears the stored cancel function.
// Safe to call repeatedly.
func (c *cancelState) cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
}

// Options tune per-request behavior.
type Options struct {
	ResponseStyle   string
	EnableWebSearch bool
	CollectionID    string

	// StallTimeout overrides the decoder's silent-stream window.
	// Zero keeps the default.
	StallTimeout time.Duration
}

// Manager drives one conversation. All exported methods are safe for
// concurrent use; mutations are serialized behind one mutex and mirrored
// to the debounced store after every change.
type Manager struct {
	client *api.Client
	auth   *auth.Manager
	store  *storage.Store
	writer *storage.DebouncedWriter
	logger *log.Logger

	mu       sync.Mutex
	state    State
	chat     model.Chat
	messages []model.Message
	opts     Options
	lastFile *pendingFile
	done     chan struct{} // closed when the current generation goroutine exits

	cancels *cancelState

	// notify is a coalesced change signal for the UI event loop.
	notify chan struct{}
}

// pendingFile carries the inputs of a file exchange for regeneration.
type pendingFile struct {
	name    string
	content []byte
	query   string
}

// NewManager creates a session manager.
func NewManager(client *api.Client, authMgr *auth.Manager, store *storage.Store, writer *storage.DebouncedWriter, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		client:  client,
		auth:    authMgr,
		store:   store,
		writer:  writer,
		logger:  logger,
		cancels: &cancelState{},
		notify:  make(chan struct{}, 1),
	}
}

// Notify returns the coalesced change channel. One receive may cover many
// mutations; readers re-pull state via Messages/State/Chat.
func (m *Manager) Notify() <-chan struct{} {
	return m.notify
}

// SetOptions updates per-request options for subsequent sends.
func (m *Manager) SetOptions(opts Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts = opts
}

// =============================================================================
// TRANSCRIPT ACCESS
// =============================================================================

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Chat returns the active chat identity.
func (m *Manager) Chat() model.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chat
}

// Messages returns a copy of the transcript.
func (m *Manager) Messages() []model.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Wait blocks until the in-flight generation (if any) has fully settled.
func (m *Manager) Wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// LoadChat switches to an existing chat, restoring its transcript.
// Rejected while a generation is running.
func (m *Manager) LoadChat(chat model.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.busy() {
		return ErrBusy
	}

	msgs, err := m.store.LoadMessages(chat.ID)
	if err != nil {
		return err
	}
	m.chat = chat
	m.messages = msgs
	m.state = StateIdle
	m.lastFile = nil

	if err := m.store.Put(storage.KeyCurrentChat, chat); err != nil {
		m.logger.Printf("session: failed to persist current chat: %v", err)
	}
	m.signal()
	return nil
}

// NewChat clears the transcript for a fresh conversation. The server
// assigns the real chat id on the first exchange.
func (m *Manager) NewChat() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.busy() {
		return ErrBusy
	}
	m.chat = model.Chat{}
	m.messages = nil
	m.state = StateIdle
	m.lastFile = nil
	if err := m.store.Delete(storage.KeyCurrentChat); err != nil {
		m.logger.Printf("session: failed to clear current chat: %v", err)
	}
	m.signal()
	return nil
}

// =============================================================================
// INTERNAL HELPERS (callers hold m.mu)
// =============================================================================

// storageID is the key under which this transcript persists: the server
// chat id once assigned, the guest id before that.
func (m *Manager) storageID() string {
	if m.chat.ID != "" {
		return m.chat.ID
	}
	return m.auth.GuestID()
}

// persistLocked mirrors the transcript to the debounced store.
func (m *Manager) persistLocked() {
	msgs := make([]model.Message, len(m.messages))
	copy(msgs, m.messages)
	m.writer.Put(storage.MessagesKey(m.storageID()), msgs)
}

// signal wakes the UI without blocking.
func (m *Manager) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// historyLocked returns the recent message texts for request context.
func (m *Manager) historyLocked() []string {
	texts := make([]string, 0, len(m.messages))
	for _, msg := range m.messages {
		texts = append(texts, msg.Text)
	}
	return api.TrimHistory(texts)
}
