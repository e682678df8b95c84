// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	default:
		return string(r)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// An assistant message starts as an unfinalized placeholder and grows as
// answer chunks arrive. Finalization attaches the source references and
// closes the message to further accumulation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Text string `json:"text"`

	// Sources attached on finalization. Nil until finalized; an empty
	// (non-nil) slice means the answer completed with no sources.
	Sources []string `json:"sources,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	finalized  bool
	streamText strings.Builder
}

// NewUserMessage creates a finalized user message.
func NewUserMessage(text string) *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      RoleUser,
		Text:      text,
		CreatedAt: time.Now(),
		finalized: true,
	}
}

// NewAssistantPlaceholder creates an empty, unfinalized assistant message
// ready to receive streamed chunks.
func NewAssistantPlaceholder() *Message {
	return &Message{
		ID:        generateMessageID(),
		Role:      RoleAssistant,
		CreatedAt: time.Now(),
	}
}

// NewPersistedMessage creates a finalized message from values fetched from
// the backend.
func NewPersistedMessage(id string, role Role, text string, sources []string, createdAt time.Time) *Message {
	if id == "" {
		id = generateMessageID()
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &Message{
		ID:        id,
		Role:      role,
		Text:      text,
		Sources:   sources,
		CreatedAt: createdAt,
		finalized: true,
	}
}

// =============================================================================
// ACCUMULATION
// =============================================================================

// AppendText appends an answer chunk to an unfinalized message.
// Append-only: the concatenation of chunks in arrival order equals the
// text a single combined chunk would have produced.
func (m *Message) AppendText(delta string) {
	if m.finalized {
		return
	}
	m.streamText.WriteString(delta)
}

// Finalize closes the message to further accumulation.
//
// When fullText is non-nil it replaces the accumulated text entirely;
// otherwise the accumulated chunk text is kept as-is. Sources are always
// attached, as an empty slice when the server sent none. Finalizing an
// already finalized message is a no-op.
func (m *Message) Finalize(fullText *string, sources []string) {
	if m.finalized {
		return
	}

	if fullText != nil {
		m.Text = *fullText
	} else {
		m.Text = m.streamText.String()
	}
	m.streamText.Reset()

	if sources == nil {
		sources = []string{}
	}
	m.Sources = sources
	m.finalized = true
}

// Finalized reports whether the message is closed to accumulation.
func (m *Message) Finalized() bool {
	return m.finalized
}

// DisplayText returns the content to display (streaming or final).
func (m *Message) DisplayText() string {
	if !m.finalized && m.streamText.Len() > 0 {
		return m.streamText.String()
	}
	return m.Text
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateMessageID creates a unique message ID.
func generateMessageID() string {
	return "msg_" + uuid.NewString()
}
