// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"github.com/google/uuid"

	"github.com/nexora-ai/nexora-tui/internal/model"
)

// =============================================================================
// TYPED STATE ACCESSORS
// =============================================================================

// MaxRecentChats bounds the recent-chat list kept for the sidebar.
const MaxRecentChats = 30

// SaveMessages stores the transcript for a chat.
func (s *Store) SaveMessages(chatID string, msgs []model.Message) error {
	return s.Put(MessagesKey(chatID), msgs)
}

// LoadMessages returns the stored transcript for a chat, or nil when absent.
// Incomplete trailing bot messages from an interrupted run are restored as
// complete so old chats never show a stuck typing indicator.
func (s *Store) LoadMessages(chatID string) ([]model.Message, error) {
	var msgs []model.Message
	ok, err := s.Get(MessagesKey(chatID), &msgs)
	if err != nil || !ok {
		return nil, err
	}
	return model.MarkAllComplete(msgs), nil
}

// RecentChats returns the recent-chat list, newest first.
func (s *Store) RecentChats() ([]model.Chat, error) {
	var chats []model.Chat
	if _, err := s.Get(KeyRecentChats, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// TouchRecentChat moves (or inserts) a chat at the front of the recent list.
func (s *Store) TouchRecentChat(chat model.Chat) error {
	chats, err := s.RecentChats()
	if err != nil {
		return err
	}

	updated := make([]model.Chat, 0, len(chats)+1)
	updated = append(updated, chat)
	for _, c := range chats {
		if c.ID != chat.ID {
			updated = append(updated, c)
		}
	}
	if len(updated) > MaxRecentChats {
		updated = updated[:MaxRecentChats]
	}
	return s.Put(KeyRecentChats, updated)
}

// RemoveRecentChat drops a chat from the recent list and its transcript.
func (s *Store) RemoveRecentChat(chatID string) error {
	chats, err := s.RecentChats()
	if err != nil {
		return err
	}

	kept := chats[:0]
	for _, c := range chats {
		if c.ID != chatID {
			kept = append(kept, c)
		}
	}
	if err := s.Put(KeyRecentChats, kept); err != nil {
		return err
	}
	return s.Delete(MessagesKey(chatID))
}

// GuestID returns the stable guest identity, minting one on first use.
func (s *Store) GuestID() (string, error) {
	var id string
	ok, err := s.Get(KeyGuestID, &id)
	if err != nil {
		return "", err
	}
	if ok && id != "" {
		return id, nil
	}

	id = "guest-" + uuid.NewString()
	if err := s.Put(KeyGuestID, id); err != nil {
		return "", err
	}
	return id, nil
}

// GuestCount returns the number of guest messages consumed.
func (s *Store) GuestCount() (int, error) {
	var n int
	if _, err := s.Get(KeyGuestCount, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// SetGuestCount stores the guest message counter.
func (s *Store) SetGuestCount(n int) error {
	return s.Put(KeyGuestCount, n)
}

// FeedbackStates returns the recorded per-message feedback ratings.
func (s *Store) FeedbackStates() (map[string]string, error) {
	states := make(map[string]string)
	if _, err := s.Get(KeyFeedbackStates, &states); err != nil {
		return nil, err
	}
	return states, nil
}

// SetFeedbackState records a rating for one message id.
func (s *Store) SetFeedbackState(messageID, rating string) error {
	states, err := s.FeedbackStates()
	if err != nil {
		return err
	}
	states[messageID] = rating
	return s.Put(KeyFeedbackStates, states)
}

// ClearSession removes all account-scoped state: identity, token, the
// current chat pointer, every transcript and the recent list. Preferences
// (model, response style, theme) survive.
func (s *Store) ClearSession() error {
	for _, key := range []string{KeyUser, KeyToken, KeyCurrentChat, KeyRecentChats} {
		if err := s.Delete(key); err != nil {
			return err
		}
	}
	return s.DeleteMessages()
}
