// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/docchat/internal/util"
)

// =============================================================================
// CONVERSATION ID
// =============================================================================

// ConversationID identifies a conversation. Before the server has
// acknowledged the first message the id is a locally generated temporary
// token; after reconciliation it carries the server-assigned identifier.
// The tagged form makes the distinction explicit instead of relying on a
// string prefix convention.
type ConversationID struct {
	value     string
	persisted bool
}

// TemporaryID generates a fresh local-only conversation id.
func TemporaryID() ConversationID {
	return ConversationID{value: uuid.NewString()}
}

// PersistedID wraps a server-assigned conversation id.
func PersistedID(id string) ConversationID {
	return ConversationID{value: id, persisted: true}
}

// IsTemporary reports whether the id has not yet been confirmed by the server.
func (id ConversationID) IsTemporary() bool {
	return !id.persisted
}

// IsPersisted reports whether the id was assigned by the server.
func (id ConversationID) IsPersisted() bool {
	return id.persisted
}

// IsZero reports whether the id is the zero value.
func (id ConversationID) IsZero() bool {
	return id.value == ""
}

// String returns the raw id value for display and local storage keys.
func (id ConversationID) String() string {
	return id.value
}

// Wire returns the id to transmit to the backend. A temporary id must
// never cross the wire, so it normalizes to ("", false).
func (id ConversationID) Wire() (string, bool) {
	if !id.persisted {
		return "", false
	}
	return id.value, true
}

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is one entry in the conversation list.
type Conversation struct {
	ID        ConversationID
	Title     string
	CreatedAt time.Time
}

// NewTemporaryConversation creates an optimistic local conversation whose
// title is derived from the first message.
func NewTemporaryConversation(firstMessage string) *Conversation {
	return &Conversation{
		ID:        TemporaryID(),
		Title:     DeriveTitle(firstMessage),
		CreatedAt: time.Now(),
	}
}

// Promote replaces a temporary id with the server-assigned one. The title
// and list position are untouched; promoting an already persisted
// conversation is a no-op.
func (c *Conversation) Promote(serverID string) {
	if c.ID.IsPersisted() || serverID == "" {
		return
	}
	c.ID = PersistedID(serverID)
}

// =============================================================================
// TITLE DERIVATION
// =============================================================================

// TitleMaxRunes is the longest a derived title may be before truncation.
const TitleMaxRunes = 30

// titleEllipsis marks a truncated title.
const titleEllipsis = "..."

// DeriveTitle builds a conversation title from the first user message.
//
// Whitespace runs collapse to single spaces. Short input is used as-is.
// Longer input is cut to TitleMaxRunes; if a space falls in the second
// half of the cut the title breaks at that word boundary instead of
// mid-word. Truncated titles end with an ellipsis.
func DeriveTitle(input string) string {
	title := util.CollapseWhitespace(input)

	runes := []rune(title)
	if len(runes) <= TitleMaxRunes {
		return title
	}

	cut := runes[:TitleMaxRunes]
	if idx := lastSpace(cut); idx > TitleMaxRunes/2 {
		cut = cut[:idx]
	}
	return string(cut) + titleEllipsis
}

// lastSpace returns the index of the last space rune, or -1.
func lastSpace(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == ' ' {
			return i
		}
	}
	return -1
}
