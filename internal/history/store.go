// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history provides a local cache of conversations and messages.
//
// The backend is the source of truth; the cache keeps the last known
// state so the conversation list and message history stay usable when
// the backend is unreachable.
package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/docchat/internal/model"
)

var (
	ErrClosed = errors.New("history store closed")
)

// schema holds the cache tables. Sources are stored as a JSON array,
// timestamps as unix seconds.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    user_id    TEXT NOT NULL,
    id         TEXT NOT NULL,
    title      TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (user_id, id)
);

CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL,
    id              TEXT NOT NULL,
    role            TEXT NOT NULL,
    text            TEXT NOT NULL,
    sources         TEXT NOT NULL DEFAULT '[]',
    created_at      INTEGER NOT NULL,
    PRIMARY KEY (conversation_id, id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages(conversation_id, created_at);
`

// Store is a SQLite-backed cache of conversation history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// SaveConversations replaces the cached conversation list for a user.
// Only persisted conversations are cached; temporary ones are local
// working state and never survive a restart.
func (s *Store) SaveConversations(userID string, conversations []*model.Conversation) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM conversations WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO conversations (user_id, id, title, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range conversations {
		if !c.ID.IsPersisted() {
			continue
		}
		if _, err := stmt.Exec(userID, c.ID.String(), c.Title, c.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}
	}

	return tx.Commit()
}

// Conversations returns the cached conversation list for a user, newest
// first.
func (s *Store) Conversations(userID string) ([]*model.Conversation, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		"SELECT id, title, created_at FROM conversations WHERE user_id = ? ORDER BY created_at DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*model.Conversation
	for rows.Next() {
		var id, title string
		var createdAt int64
		if err := rows.Scan(&id, &title, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conversations = append(conversations, &model.Conversation{
			ID:        model.PersistedID(id),
			Title:     title,
			CreatedAt: time.Unix(createdAt, 0).UTC(),
		})
	}
	return conversations, rows.Err()
}

// =============================================================================
// MESSAGES
// =============================================================================

// SaveMessages replaces the cached messages of a conversation. Unfinalized
// messages are skipped; a stream still in flight has nothing durable yet.
func (s *Store) SaveMessages(conversationID string, messages []*model.Message) error {
	if s.db == nil {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE conversation_id = ?", conversationID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	stmt, err := tx.Prepare(
		"INSERT INTO messages (conversation_id, id, role, text, sources, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		if !m.Finalized() {
			continue
		}
		sources := m.Sources
		if sources == nil {
			sources = []string{}
		}
		encoded, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("failed to encode sources: %w", err)
		}
		if _, err := stmt.Exec(conversationID, m.ID, m.Role.String(), m.Text, string(encoded), m.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Messages returns the cached messages of a conversation, oldest first.
func (s *Store) Messages(conversationID string) ([]*model.Message, error) {
	if s.db == nil {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		"SELECT id, role, text, sources, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		var id, role, text, encodedSources string
		var createdAt int64
		if err := rows.Scan(&id, &role, &text, &encodedSources, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		var sources []string
		if err := json.Unmarshal([]byte(encodedSources), &sources); err != nil {
			sources = nil
		}
		messages = append(messages, model.NewPersistedMessage(id, model.Role(role), text, sources, time.Unix(createdAt, 0).UTC()))
	}
	return messages, rows.Err()
}
