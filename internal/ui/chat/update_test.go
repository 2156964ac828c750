// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/nexora-tui/internal/api"
	"github.com/nexora-ai/nexora-tui/internal/auth"
	"github.com/nexora-ai/nexora-tui/internal/config"
	"github.com/nexora-ai/nexora-tui/internal/session"
	"github.com/nexora-ai/nexora-tui/internal/storage"
)

func newTestModel(t *testing.T, handler http.Handler) (*Model, *session.Manager) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := storage.Open(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := api.New(srv.URL, "test-key", nil)
	authMgr, err := auth.NewManager(client, store, nil)
	require.NoError(t, err)

	writer := storage.NewDebouncedWriter(store, 10*time.Millisecond, nil)
	t.Cleanup(func() { writer.Close() })

	sess := session.NewManager(client, authMgr, store, writer, nil)
	m := New(sess, authMgr, store, config.Default())
	return &m, sess
}

func streamReply(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprint(w, "data: {\"type\":\"metadata\",\"chat_id\":\"c1\"}\n")
	payload, _ := json.Marshal(map[string]string{"type": "token", "content": text})
	fmt.Fprintf(w, "data: %s\n", payload)
	fmt.Fprint(w, "data: {\"type\":\"done\"}\n")
}

func TestStartEditLast_StagesWithoutSending(t *testing.T) {
	requests := 0
	m, sess := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		streamReply(w, "answer")
	}))

	m.input.SetValue("first question")
	m.submit()
	sess.Wait()
	require.Equal(t, 1, requests)

	m.startEditLast()

	// Staging only loads the composer; no request, no truncation yet.
	assert.Equal(t, 1, requests)
	assert.Equal(t, 0, m.editing)
	assert.Equal(t, "first question", m.input.Value())
	require.Len(t, sess.Messages(), 2)

	// The revised text is what flows through the edit path on submit.
	m.input.SetValue("better question")
	m.submit()
	sess.Wait()

	assert.Equal(t, 2, requests)
	msgs := sess.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "better question", msgs[0].Text)
	assert.Equal(t, "answer", msgs[1].Text)
	assert.Equal(t, -1, m.editing, "edit mode ends after submit")
}

func TestNewChatKeyCancelsStagedEdit(t *testing.T) {
	m, sess := newTestModel(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamReply(w, "answer")
	}))

	m.input.SetValue("first question")
	m.submit()
	sess.Wait()

	m.startEditLast()
	require.Equal(t, 0, m.editing)

	// Ctrl+N cancels the staged edit instead of wiping the chat.
	canceled, _, handled := m.handleKey(tea.KeyMsg{Type: tea.KeyCtrlN})
	require.True(t, handled)
	assert.Equal(t, -1, canceled.editing)
	assert.Empty(t, canceled.input.Value())
	require.Len(t, sess.Messages(), 2)

	canceled.input.SetValue("a new message")
	canceled.submit()
	sess.Wait()

	msgs := sess.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "first question", msgs[0].Text)
	assert.Equal(t, "a new message", msgs[2].Text)
}
