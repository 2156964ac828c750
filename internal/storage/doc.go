// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence for the Nexora TUI.
//
// Client state is kept in a single SQLite key-value table: the signed-in
// user and token, the current chat pointer, per-chat transcripts under
// messages-<chatId>, the recent-chat list, guest identity and quota, and
// UI preferences. Values are JSON.
//
// # Key Types
//
//   - Store: SQLite-backed key-value store with typed accessors
//   - DebouncedWriter: trailing-edge write coalescing for streaming bursts
//
// # Usage
//
// Open the store and wrap it for high-frequency writes:
//
//	store, err := storage.Open(path, logger)
//	writer := storage.NewDebouncedWriter(store, 0, logger)
//	writer.Put(storage.MessagesKey(chatID), msgs)
//	defer writer.Close() // flushes pending state
//
// # Storage Location
//
// The database lives at ~/.nexora/state.db.
package storage
