// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
//
// This package defines the core domain types used throughout the application
// for representing chat transcripts and their invariants.
//
// # Key Types
//
//   - Message: single transcript entry with role, text, completion flag and
//     optional file attachment
//   - FileRef: attachment metadata with late-bound server ids
//   - Chat: conversation identity (server id or client guest id) and title
//   - Role: message role enumeration (user, bot)
//
// # Transcript Invariant
//
// A transcript is an insertion-ordered slice of Message. At most one message
// may have IsComplete == false, and only at the tail (the in-flight bot
// message). Messages are removed only by edit/regenerate truncation or a
// full chat delete.
package model
