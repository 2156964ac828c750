// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth manages the authenticated or guest session.
//
// The Manager is the single owner of identity state: who is signed in, the
// bearer token, and for guests the stable guest id plus the message quota.
// Everything else (session machine, UI) reads identity through it instead
// of touching persisted keys directly.
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/nexora-ai/nexora-tui/internal/api"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/storage"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGuestLimit is returned when a guest has used all free messages.
	ErrGuestLimit = errors.New("guest message limit reached")

	// ErrNotAuthenticated is returned for operations requiring an account.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Manager owns the current session: account identity or guest quota.
type Manager struct {
	client *api.Client
	store  *storage.Store
	logger *log.Logger

	mu         sync.RWMutex
	user       *api.User
	token      string
	guestID    string
	guestCount int

	// onSessionCleared fires after a logout or 401 de-auth so the UI can
	// drop account-scoped views.
	onSessionCleared func()
}

// NewManager creates a session manager and registers itself as the
// client's 401 handler.
func NewManager(client *api.Client, store *storage.Store, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	guestID, err := store.GuestID()
	if err != nil {
		return nil, fmt.Errorf("failed to load guest identity: %w", err)
	}
	guestCount, err := store.GuestCount()
	if err != nil {
		return nil, fmt.Errorf("failed to load guest quota: %w", err)
	}

	m := &Manager{
		client:     client,
		store:      store,
		logger:     logger,
		guestID:    guestID,
		guestCount: guestCount,
	}
	client.OnUnauthorized(m.handleUnauthorized)
	return m, nil
}

// OnSessionCleared registers the hook fired after logout or forced de-auth.
func (m *Manager) OnSessionCleared(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionCleared = fn
}

// Restore loads a persisted session and validates the token against the
// server. An invalid or expired token degrades to a guest session instead
// of failing startup; network errors keep the stored session optimistically.
func (m *Manager) Restore(ctx context.Context) error {
	var token string
	ok, err := m.store.Get(storage.KeyToken, &token)
	if err != nil {
		return err
	}
	if !ok || token == "" {
		return nil // guest session
	}

	m.client.SetToken(token)

	user, err := m.client.Me(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			// handleUnauthorized already cleared everything.
			return nil
		}
		// Offline start: keep the stored user until the server says no.
		m.logger.Printf("auth: token validation unavailable: %v", err)
		var stored api.User
		if ok, _ := m.store.Get(storage.KeyUser, &stored); ok {
			m.setUser(&stored, token)
		}
		return nil
	}

	m.setUser(user, token)
	if err := m.store.Put(storage.KeyUser, user); err != nil {
		m.logger.Printf("auth: failed to refresh stored user: %v", err)
	}
	return nil
}

// Login signs in, fetches the fresh account record, persists the session
// and resets the guest quota. Guest-era transcripts are dropped.
func (m *Manager) Login(ctx context.Context, email, password string) (*api.User, error) {
	result, err := m.client.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	m.client.SetToken(result.Token)

	user := result.User
	if fresh, err := m.client.Me(ctx); err == nil {
		user = fresh
	}
	if user == nil {
		m.client.SetToken("")
		return nil, errors.New("login response missing user")
	}

	if err := m.store.Put(storage.KeyToken, result.Token); err != nil {
		return nil, fmt.Errorf("failed to persist token: %w", err)
	}
	if err := m.store.Put(storage.KeyUser, user); err != nil {
		return nil, fmt.Errorf("failed to persist user: %w", err)
	}

	// Guest chats do not carry over into an account.
	if err := m.store.DeleteMessages(); err != nil {
		m.logger.Printf("auth: failed to drop guest transcripts: %v", err)
	}
	if err := m.store.Delete(storage.KeyCurrentChat); err != nil {
		m.logger.Printf("auth: failed to reset current chat: %v", err)
	}
	if err := m.store.SetGuestCount(0); err != nil {
		m.logger.Printf("auth: failed to reset guest quota: %v", err)
	}

	m.mu.Lock()
	m.user = user
	m.token = result.Token
	m.guestCount = 0
	m.mu.Unlock()

	return user, nil
}

// Logout clears the session locally. No server call is involved.
func (m *Manager) Logout() {
	m.clearSession()
}

// handleUnauthorized is the client's 401 hook: any rejected token de-auths
// the whole app, regardless of which request tripped it.
func (m *Manager) handleUnauthorized() {
	m.mu.RLock()
	wasAuthed := m.token != ""
	m.mu.RUnlock()
	if !wasAuthed {
		return
	}
	m.logger.Printf("auth: session invalidated by server")
	m.clearSession()
}

func (m *Manager) clearSession() {
	m.client.SetToken("")
	if err := m.store.ClearSession(); err != nil {
		m.logger.Printf("auth: failed to clear stored session: %v", err)
	}

	m.mu.Lock()
	m.user = nil
	m.token = ""
	fn := m.onSessionCleared
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (m *Manager) setUser(user *api.User, token string) {
	m.mu.Lock()
	m.user = user
	m.token = token
	m.mu.Unlock()
}

// =============================================================================
// ACCESSORS
// =============================================================================

// User returns the signed-in account, or nil for guests.
func (m *Manager) User() *api.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user
}

// IsAuthenticated reports whether an account session is active.
func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.user != nil && m.token != ""
}

// GuestID returns the stable guest identity.
func (m *Manager) GuestID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.guestID
}

// =============================================================================
// GUEST QUOTA
// =============================================================================

// GuestRemaining returns how many free messages a guest has left.
// Authenticated sessions are unlimited from the client's perspective.
func (m *Manager) GuestRemaining() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user != nil {
		return -1
	}
	remaining := model.MessageLimit - m.guestCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CheckQuota reports whether a send may start. Guests at the limit get
// ErrGuestLimit before any network traffic.
func (m *Manager) CheckQuota() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.user != nil {
		return nil
	}
	if m.guestCount >= model.MessageLimit {
		return ErrGuestLimit
	}
	return nil
}

// ConsumeGuestMessage increments the guest counter and persists it.
// No-op for authenticated sessions. Called only after an exchange
// completed successfully, so failed or aborted sends stay free.
func (m *Manager) ConsumeGuestMessage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user != nil {
		return
	}
	m.guestCount++
	if err := m.store.SetGuestCount(m.guestCount); err != nil {
		m.logger.Printf("auth: failed to persist guest quota: %v", err)
	}
}
