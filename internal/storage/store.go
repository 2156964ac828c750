// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// WELL-KNOWN KEYS
// =============================================================================

// Keys under which client state is persisted.
const (
	KeyUser           = "user"
	KeyToken          = "token"
	KeyCurrentChat    = "currentChat"
	KeyRecentChats    = "recentChats"
	KeyGuestID        = "guestId"
	KeyGuestCount     = "guestCount"
	KeyFeedbackStates = "feedbackStates"
	KeyModel          = "model"
	KeyResponseStyle  = "response_style"
	KeyTheme          = "theme"

	// messagesPrefix prefixes the per-chat transcript keys.
	messagesPrefix = "messages-"
)

// MessagesKey returns the transcript key for a chat id.
func MessagesKey(chatID string) string {
	return messagesPrefix + chatID
}

// =============================================================================
// KEY-VALUE STORE
// =============================================================================

// Store is the SQLite-backed key-value store.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (creating if needed) the store at the given path.
// A nil logger discards diagnostics.
func Open(path string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure database: %w", err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores value under key, JSON-encoded. Existing values are replaced.
func (s *Store) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}

	_, err = s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

// Get loads the value under key into out. Returns false when the key is
// absent; out is untouched in that case.
func (s *Store) Get(key string, out any) (bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		// A corrupt value is treated as absent rather than fatal, the
		// client can always rebuild local state from the server.
		s.logger.Printf("storage: discarding corrupt value for %q: %v", key, err)
		return false, nil
	}
	return true, nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %q: %w", key, err)
	}
	return nil
}

// DeletePrefix removes every key with the given prefix and reports how many
// were deleted. Used to drop all messages-* transcripts on logout.
func (s *Store) DeletePrefix(prefix string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM kv WHERE key LIKE ? ESCAPE '\'`, likePattern(prefix))
	if err != nil {
		return 0, fmt.Errorf("failed to delete prefix %q: %w", prefix, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Keys lists all keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT key FROM kv WHERE key LIKE ? ESCAPE '\' ORDER BY key`, likePattern(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// DeleteMessages removes every stored transcript.
func (s *Store) DeleteMessages() error {
	_, err := s.DeletePrefix(messagesPrefix)
	return err
}

// likePattern escapes LIKE metacharacters in prefix and appends the
// wildcard.
func likePattern(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+2)
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '%', '_', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, prefix[i])
	}
	return string(escaped) + "%"
}
