// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/nexora-tui/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// KEY-VALUE BASICS
// =============================================================================

func TestStore_PutGet(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(KeyTheme, "dark"))

	var theme string
	ok, err := store.Get(KeyTheme, &theme)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "dark", theme)
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	var value string
	ok, err := store.Get("nope", &value)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, value)
}

func TestStore_PutReplaces(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(KeyResponseStyle, "concise"))
	require.NoError(t, store.Put(KeyResponseStyle, "detailed"))

	var style string
	_, err := store.Get(KeyResponseStyle, &style)
	require.NoError(t, err)
	assert.Equal(t, "detailed", style)
}

func TestStore_DeletePrefix(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(MessagesKey("c1"), []string{"a"}))
	require.NoError(t, store.Put(MessagesKey("c2"), []string{"b"}))
	require.NoError(t, store.Put(KeyTheme, "dark"))

	n, err := store.DeletePrefix("messages-")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var theme string
	ok, _ := store.Get(KeyTheme, &theme)
	assert.True(t, ok, "unrelated keys must survive")
}

func TestStore_KeysPrefixEscaping(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("a_b", 1))
	require.NoError(t, store.Put("axb", 2))

	keys, err := store.Keys("a_")
	require.NoError(t, err)
	assert.Equal(t, []string{"a_b"}, keys, "underscore must not act as a wildcard")
}

// =============================================================================
// TYPED STATE
// =============================================================================

func TestStore_MessagesRoundTrip(t *testing.T) {
	store := newTestStore(t)

	msgs := []model.Message{
		model.NewUserMessage("hello", nil),
		model.NewBotMessage("partial"),
	}
	require.NoError(t, store.SaveMessages("c1", msgs))

	loaded, err := store.LoadMessages("c1")
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "hello", loaded[0].Text)
	assert.True(t, loaded[1].IsComplete,
		"interrupted transcripts must be restored as complete")
	assert.Equal(t, "partial", loaded[1].Text)
}

func TestStore_LoadMessagesMissing(t *testing.T) {
	store := newTestStore(t)

	msgs, err := store.LoadMessages("nope")
	require.NoError(t, err)
	assert.Nil(t, msgs)
}

func TestStore_RecentChats(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.TouchRecentChat(model.Chat{ID: "c1", Title: "First"}))
	require.NoError(t, store.TouchRecentChat(model.Chat{ID: "c2", Title: "Second"}))
	require.NoError(t, store.TouchRecentChat(model.Chat{ID: "c1", Title: "First updated"}))

	chats, err := store.RecentChats()
	require.NoError(t, err)
	require.Len(t, chats, 2, "touching an existing chat must not duplicate it")
	assert.Equal(t, "c1", chats[0].ID)
	assert.Equal(t, "First updated", chats[0].Title)
	assert.Equal(t, "c2", chats[1].ID)
}

func TestStore_RemoveRecentChat(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.TouchRecentChat(model.Chat{ID: "c1"}))
	require.NoError(t, store.SaveMessages("c1", []model.Message{model.NewUserMessage("hi", nil)}))

	require.NoError(t, store.RemoveRecentChat("c1"))

	chats, _ := store.RecentChats()
	assert.Empty(t, chats)
	msgs, _ := store.LoadMessages("c1")
	assert.Nil(t, msgs, "transcript must be deleted with the chat")
}

func TestStore_GuestIDStable(t *testing.T) {
	store := newTestStore(t)

	first, err := store.GuestID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "guest-"))

	second, err := store.GuestID()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_GuestCount(t *testing.T) {
	store := newTestStore(t)

	n, err := store.GuestCount()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, store.SetGuestCount(7))
	n, _ = store.GuestCount()
	assert.Equal(t, 7, n)
}

func TestStore_ClearSession(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put(KeyUser, map[string]string{"id": "u1"}))
	require.NoError(t, store.Put(KeyToken, "tok"))
	require.NoError(t, store.Put(KeyCurrentChat, model.Chat{ID: "c1"}))
	require.NoError(t, store.SaveMessages("c1", []model.Message{model.NewUserMessage("hi", nil)}))
	require.NoError(t, store.TouchRecentChat(model.Chat{ID: "c1"}))
	require.NoError(t, store.Put(KeyTheme, "dark"))

	require.NoError(t, store.ClearSession())

	var token string
	ok, _ := store.Get(KeyToken, &token)
	assert.False(t, ok)
	msgs, _ := store.LoadMessages("c1")
	assert.Nil(t, msgs)
	chats, _ := store.RecentChats()
	assert.Empty(t, chats)

	var theme string
	ok, _ = store.Get(KeyTheme, &theme)
	assert.True(t, ok, "preferences survive session clearing")
}

func TestStore_FeedbackStates(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SetFeedbackState("m1", "up"))
	require.NoError(t, store.SetFeedbackState("m2", "down"))

	states, err := store.FeedbackStates()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"m1": "up", "m2": "down"}, states)
}

// =============================================================================
// DEBOUNCED WRITER
// =============================================================================

func TestDebouncedWriter_CoalescesWrites(t *testing.T) {
	store := newTestStore(t)
	writer := NewDebouncedWriter(store, 50*time.Millisecond, nil)
	defer writer.Close()

	// Burst of writes within the window: only the last may land.
	for i := 0; i < 10; i++ {
		writer.Put(KeyGuestCount, i)
	}

	// Nothing should be visible before the window elapses.
	var n int
	ok, _ := store.Get(KeyGuestCount, &n)
	assert.False(t, ok, "write must be deferred")

	require.Eventually(t, func() bool {
		ok, _ := store.Get(KeyGuestCount, &n)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 9, n, "only the latest value survives the window")
}

func TestDebouncedWriter_FlushWritesImmediately(t *testing.T) {
	store := newTestStore(t)
	writer := NewDebouncedWriter(store, time.Hour, nil)
	defer writer.Close()

	writer.Put(KeyTheme, "light")
	require.NoError(t, writer.Flush())

	var theme string
	ok, _ := store.Get(KeyTheme, &theme)
	assert.True(t, ok)
	assert.Equal(t, "light", theme)
}

func TestDebouncedWriter_CloseFlushesPending(t *testing.T) {
	store := newTestStore(t)
	writer := NewDebouncedWriter(store, time.Hour, nil)

	writer.Put(KeyModel, "nexora-large")
	require.NoError(t, writer.Close())

	var m string
	ok, _ := store.Get(KeyModel, &m)
	assert.True(t, ok)
	assert.Equal(t, "nexora-large", m)
}

func TestDebouncedWriter_ConcurrentPuts(t *testing.T) {
	store := newTestStore(t)
	writer := NewDebouncedWriter(store, 10*time.Millisecond, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			writer.Put(MessagesKey("c1"), i)
		}(i)
	}
	wg.Wait()
	require.NoError(t, writer.Close())

	var v int
	ok, _ := store.Get(MessagesKey("c1"), &v)
	assert.True(t, ok)
}
