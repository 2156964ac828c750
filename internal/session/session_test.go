// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexora-ai/nexora-tui/internal/api"
	"github.com/nexora-ai/nexora-tui/internal/auth"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/storage"
)

// testEnv bundles the wired-up stack around one fake server.
type testEnv struct {
	mgr    *Manager
	auth   *auth.Manager
	store  *storage.Store
	writer *storage.DebouncedWriter
}

func newTestEnv(t *testing.T, handler http.Handler) *testEnv {
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

	return &testEnv{
		mgr:    NewManager(client, authMgr, store, writer, nil),
		auth:   authMgr,
		store:  store,
		writer: writer,
	}
}

// streamOK writes a well-formed event stream producing the given text.
func streamOK(w http.ResponseWriter, chatID string, tokens ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	fmt.Fprintf(w, "data: {\"type\":\"metadata\",\"chat_id\":%q}\n", chatID)
	for _, tok := range tokens {
		payload, _ := json.Marshal(map[string]string{"type": "token", "content": tok})
		fmt.Fprintf(w, "data: %s\n", payload)
	}
	fmt.Fprint(w, "data: {\"type\":\"done\"}\n")
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_HappyPath(t *testing.T) {
	var gotReq api.SendRequest
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/send", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		streamOK(w, "chat-1", "Hel", "lo")
	}))

	require.NoError(t, env.mgr.Send("hi there"))
	env.mgr.Wait()

	assert.Equal(t, StateCompleted, env.mgr.State())
	assert.Equal(t, "hi there", gotReq.Message)

	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleBot, msgs[1].Role)
	assert.Equal(t, "Hello", msgs[1].Text)
	assert.True(t, msgs[1].IsComplete)

	// Server chat id adopted and persisted.
	assert.Equal(t, "chat-1", env.mgr.Chat().ID)
	var current model.Chat
	ok, _ := env.store.Get(storage.KeyCurrentChat, &current)
	assert.True(t, ok)
	assert.Equal(t, "chat-1", current.ID)

	// Transcript durably stored under the adopted id.
	stored, err := env.store.LoadMessages("chat-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "Hello", stored[1].Text)

	// One successful exchange consumes one guest message.
	n, _ := env.store.GuestCount()
	assert.Equal(t, 1, n)
}

func TestSend_LocalValidation(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("validation failures must not reach the network")
	}))

	assert.ErrorIs(t, env.mgr.Send(""), ErrEmptyMessage)
	assert.ErrorIs(t, env.mgr.Send("   \n\t"), ErrEmptyMessage)
	assert.ErrorIs(t, env.mgr.Send(strings.Repeat("x", model.MaxMessageLen+1)), ErrMessageTooLong)
	assert.Empty(t, env.mgr.Messages())
	assert.Equal(t, StateIdle, env.mgr.State())
}

func TestSend_MaxLengthBoundary(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "c1", "ok")
	}))

	// Exactly at the limit is allowed; runes count, not bytes.
	require.NoError(t, env.mgr.Send(strings.Repeat("あ", model.MaxMessageLen)))
	env.mgr.Wait()
	assert.Equal(t, StateCompleted, env.mgr.State())
}

func TestSend_GuestQuotaExhausted(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("quota rejection must not reach the network")
	}))
	require.NoError(t, env.store.SetGuestCount(model.MessageLimit))

	// Manager state is loaded at construction; rebuild with the stored count.
	client := api.New("http://unused.invalid", "k", nil)
	authMgr, err := auth.NewManager(client, env.store, nil)
	require.NoError(t, err)
	mgr := NewManager(client, authMgr, env.store, env.writer, nil)

	assert.ErrorIs(t, mgr.Send("hello"), auth.ErrGuestLimit)
	assert.Empty(t, mgr.Messages())
}

func TestSend_RejectedWhileBusy(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"a\"}\n")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: {\"type\":\"done\"}\n")
	}))

	require.NoError(t, env.mgr.Send("first"))

	require.Eventually(t, func() bool {
		return env.mgr.State().busy()
	}, 2*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, env.mgr.Send("second"), ErrBusy)
	assert.ErrorIs(t, env.mgr.Regenerate(), ErrBusy)

	close(release)
	env.mgr.Wait()
	assert.Equal(t, StateCompleted, env.mgr.State())
}

// =============================================================================
// FAILURES
// =============================================================================

func TestSend_ErrorEvent(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"part\"}\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"content\":\"model overloaded\"}\n")
	}))

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Wait()

	assert.Equal(t, StateErrored, env.mgr.State())
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Error: model overloaded\n\nPlease try again.", msgs[1].Text)
	assert.True(t, msgs[1].IsComplete)
	assert.True(t, msgs[1].ShowActions)

	// Failed exchanges are free.
	n, _ := env.store.GuestCount()
	assert.Zero(t, n)
}

func TestSend_TransportRejection(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"detail":"Service is restarting"}`))
	}))

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Wait()

	assert.Equal(t, StateErrored, env.mgr.State())
	msgs := env.mgr.Messages()
	assert.Equal(t, "Error: Service is restarting\n\nPlease try again.", msgs[len(msgs)-1].Text)
}

func TestSend_ConnectionDropMidStream(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"Hel\"}\n")
		// No done event: the connection just ends.
	}))

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Wait()

	assert.Equal(t, StateErrored, env.mgr.State())
	msgs := env.mgr.Messages()
	last := msgs[len(msgs)-1]
	assert.True(t, strings.HasPrefix(last.Text, "Error: "), "got %q", last.Text)
	assert.True(t, last.IsComplete)
}

func TestFinishError_WithoutTrailingBotAppendsFullErrorMessage(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// An in-flight exchange whose bot placeholder is gone still yields the
	// standard error display message.
	env.mgr.mu.Lock()
	env.mgr.messages = []model.Message{model.NewUserMessage("hi", nil)}
	env.mgr.state = StateSending
	env.mgr.mu.Unlock()

	env.mgr.finishError(context.Background(), errors.New("boom"))

	assert.Equal(t, StateErrored, env.mgr.State())
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Error: boom\n\nPlease try again.", msgs[1].Text)
	assert.True(t, msgs[1].IsComplete)
	assert.True(t, msgs[1].ShowActions)
}

// =============================================================================
// ABORT
// =============================================================================

func TestAbort_PreservesPartialTextWithNotice(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"partial \"}\n")
		w.(http.Flusher).Flush()
		<-release
		fmt.Fprint(w, "data: {\"type\":\"token\",\"content\":\"never applied\"}\n")
	}))
	defer close(release)

	require.NoError(t, env.mgr.Send("hi"))
	require.Eventually(t, func() bool {
		msgs := env.mgr.Messages()
		return len(msgs) == 2 && msgs[1].Text != ""
	}, 2*time.Second, 5*time.Millisecond)

	env.mgr.Abort()
	env.mgr.Wait()

	assert.Equal(t, StateAborted, env.mgr.State())
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	// Exactly the text streamed before the abort survives, with the stop
	// notice appended; the buffered second token never lands.
	assert.Equal(t, "partial \n\n"+AbortNotice, msgs[1].Text)
	assert.True(t, msgs[1].IsComplete)
	assert.True(t, msgs[1].ShowActions)

	// Aborted exchanges are free.
	n, _ := env.store.GuestCount()
	assert.Zero(t, n)
}

func TestAbort_BeforeFirstTokenShowsNoticeOnly(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-release
	}))
	defer close(release)

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Abort()
	env.mgr.Wait()

	assert.Equal(t, StateAborted, env.mgr.State())
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, AbortNotice, msgs[1].Text)
}

func TestAbort_IdempotentAndNoOpWhenIdle(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "c1", "ok")
	}))

	env.mgr.Abort() // nothing running
	assert.Equal(t, StateIdle, env.mgr.State())

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Wait()
	env.mgr.Abort() // already completed
	env.mgr.Abort()
	assert.Equal(t, StateCompleted, env.mgr.State())
}

// =============================================================================
// EDIT AND REGENERATE
// =============================================================================

func TestEdit_TruncatesAndResends(t *testing.T) {
	reply := "first"
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "c1", reply)
	}))

	require.NoError(t, env.mgr.Send("one"))
	env.mgr.Wait()
	reply = "second"
	require.NoError(t, env.mgr.Send("two"))
	env.mgr.Wait()
	require.Len(t, env.mgr.Messages(), 4)

	// Edit the first user message: everything after it is discarded.
	reply = "edited reply"
	require.NoError(t, env.mgr.Edit(0, "one, revised"))
	env.mgr.Wait()

	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one, revised", msgs[0].Text)
	assert.Equal(t, "edited reply", msgs[1].Text)
}

func TestEdit_RejectsNonUserIndex(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "c1", "ok")
	}))

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Wait()

	assert.ErrorIs(t, env.mgr.Edit(1, "nope"), ErrNoUserMessage) // bot message
	assert.ErrorIs(t, env.mgr.Edit(5, "nope"), ErrNoUserMessage)
	assert.ErrorIs(t, env.mgr.Edit(-1, "nope"), ErrNoUserMessage)
}

func TestRegenerate_ReplacesOnlyTrailingReply(t *testing.T) {
	reply := "take one"
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "c1", reply)
	}))

	require.NoError(t, env.mgr.Send("question"))
	env.mgr.Wait()

	reply = "take two"
	require.NoError(t, env.mgr.Regenerate())
	env.mgr.Wait()

	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "question", msgs[0].Text)
	assert.Equal(t, "take two", msgs[1].Text)
}

func TestRegenerate_EmptyTranscript(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(http.NotFound))
	assert.ErrorIs(t, env.mgr.Regenerate(), ErrNoUserMessage)
}

// =============================================================================
// FILE EXCHANGES
// =============================================================================

func TestSendFile_HappyPath(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "what is this?", r.FormValue("query"))
		w.Write([]byte(`{"answer":"A quarterly report.","file_id":"f1","chat_id":"chat-9"}`))
	}))

	require.NoError(t, env.mgr.SendFile("report.pdf", []byte("pdf bytes"), "what is this?"))
	env.mgr.Wait()

	assert.Equal(t, StateCompleted, env.mgr.State())
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)

	require.NotNil(t, msgs[0].File)
	assert.Equal(t, "report.pdf", msgs[0].File.Name)
	assert.Equal(t, "f1", msgs[0].File.FileID, "file id is patched from the response")
	assert.Equal(t, "chat-9", msgs[0].File.ChatID)

	assert.Equal(t, "A quarterly report.", msgs[1].Text)
	assert.True(t, msgs[1].IsComplete)
	assert.Equal(t, "chat-9", env.mgr.Chat().ID)

	n, _ := env.store.GuestCount()
	assert.Equal(t, 1, n)
}

func TestSendFile_Failure(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"Unsupported file type"}`))
	}))

	require.NoError(t, env.mgr.SendFile("weird.bin", []byte{0x00}, ""))
	env.mgr.Wait()

	assert.Equal(t, StateErrored, env.mgr.State())
	msgs := env.mgr.Messages()
	assert.Equal(t, "Error: Unsupported file type\n\nPlease try again.", msgs[len(msgs)-1].Text)

	n, _ := env.store.GuestCount()
	assert.Zero(t, n)
}

func TestRegenerate_RepeatsFileExchange(t *testing.T) {
	uploads := 0
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads++
		fmt.Fprintf(w, `{"answer":"analysis %d","file_id":"f1","chat_id":"c1"}`, uploads)
	}))

	require.NoError(t, env.mgr.SendFile("doc.txt", []byte("text"), "summarize"))
	env.mgr.Wait()
	require.NoError(t, env.mgr.Regenerate())
	env.mgr.Wait()

	assert.Equal(t, 2, uploads)
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "analysis 2", msgs[1].Text)
}

// =============================================================================
// TITLES
// =============================================================================

func TestTitleGeneration_AfterThirdMessage(t *testing.T) {
	titleCalls := 0
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			w.Write([]byte(`{"access_token":"tok","user":{"id":"u1","email":"a@b.c","name":"Ada"}}`))
		case "/auth/me":
			w.Write([]byte(`{"id":"u1","email":"a@b.c","name":"Ada"}`))
		case "/send":
			streamOK(w, "chat-1", "reply")
		case "/chat/generate-title":
			titleCalls++
			w.Write([]byte(`{"title":"Greetings"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	_, err := env.auth.Login(context.Background(), "a@b.c", "pw")
	require.NoError(t, err)

	// First exchange: 2 messages, below the threshold.
	require.NoError(t, env.mgr.Send("hello"))
	env.mgr.Wait()
	assert.Zero(t, titleCalls)

	// Second exchange crosses the threshold.
	require.NoError(t, env.mgr.Send("more"))
	env.mgr.Wait()

	require.Eventually(t, func() bool {
		return env.mgr.Chat().Title == "Greetings"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, titleCalls)

	chats, err := env.store.RecentChats()
	require.NoError(t, err)
	require.NotEmpty(t, chats)
	assert.Equal(t, "Greetings", chats[0].Title)
}

func TestTitleGeneration_SkippedForGuests(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/send":
			streamOK(w, "chat-1", "reply")
		case "/chat/generate-title":
			t.Error("guests must not trigger title generation")
		}
	}))

	require.NoError(t, env.mgr.Send("one"))
	env.mgr.Wait()
	require.NoError(t, env.mgr.Send("two"))
	env.mgr.Wait()

	// Give a stray title goroutine a chance to surface before the test ends.
	time.Sleep(50 * time.Millisecond)
}

// =============================================================================
// CHAT SWITCHING
// =============================================================================

func TestLoadChat_RestoresTranscript(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "chat-1", "hello back")
	}))

	require.NoError(t, env.mgr.Send("hi"))
	env.mgr.Wait()

	require.NoError(t, env.mgr.NewChat())
	assert.Empty(t, env.mgr.Messages())
	assert.Equal(t, StateIdle, env.mgr.State())

	require.NoError(t, env.mgr.LoadChat(model.Chat{ID: "chat-1", Title: "old"}))
	msgs := env.mgr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello back", msgs[1].Text)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotify_SignalsDuringStreaming(t *testing.T) {
	env := newTestEnv(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamOK(w, "c1", "a", "b", "c")
	}))

	require.NoError(t, env.mgr.Send("hi"))

	select {
	case <-env.mgr.Notify():
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification received")
	}
	env.mgr.Wait()
}
