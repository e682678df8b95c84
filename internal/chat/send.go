// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/jeranaias/docchat/internal/api"
	"github.com/jeranaias/docchat/internal/model"
	"github.com/jeranaias/docchat/internal/stream"
)

// Send submits the draft input to the backend and drives the answer
// stream to completion.
//
// The user message and an assistant placeholder are inserted before the
// request is made. When no conversation is open, a temporary one is
// created at the head of the list and promoted in place once the server
// acknowledges it with a persisted id. Any failure rolls the optimistic
// state back; cancellation rolls back silently and is not an error.
//
// Only one send may run at a time; a concurrent call fails fast with
// ErrSendInFlight.
func (c *Controller) Send(ctx context.Context) error {
	c.mu.Lock()
	input := strings.TrimSpace(c.input)
	if input == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	if c.loading {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.loading = true
	c.input = ""
	c.notice = ""

	userMsg := model.NewUserMessage(input)
	placeholder := model.NewAssistantPlaceholder()
	c.messages = append(c.messages, userMsg, placeholder)

	// First message of a fresh chat: synthesize the conversation up
	// front so the list reflects it immediately.
	if c.current == nil {
		conv := model.NewTemporaryConversation(input)
		c.conversations = append([]*model.Conversation{conv}, c.conversations...)
		c.current = conv
	}
	conv := c.current
	wireID, _ := conv.ID.Wire()

	sendCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	onDelta := c.onDelta
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.loading = false
		c.cancel = nil
		c.mu.Unlock()
	}()

	st, err := c.client.StreamAnswer(sendCtx, api.AnswerRequest{
		Content:        input,
		ConversationID: wireID,
		UserID:         c.userID,
	})
	if err != nil {
		c.rollback(userMsg, placeholder, conv, err)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer st.Close()

	for {
		ev, err := st.Next(sendCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			c.rollback(userMsg, placeholder, conv, err)
			return err
		}

		switch ev.Type {
		case stream.EventChunk:
			c.applyChunk(placeholder, ev.Content, onDelta)
		case stream.EventComplete:
			c.applyComplete(conv, placeholder, ev)
		case stream.EventError:
			srvErr := &ServerError{Message: ev.Message}
			c.rollback(userMsg, placeholder, conv, srvErr)
			return srvErr
		}
	}

	// Cancelled mid-answer: discard the partial exchange silently.
	if sendCtx.Err() != nil && !placeholder.Finalized() {
		c.rollback(userMsg, placeholder, conv, sendCtx.Err())
		return nil
	}

	// Stream closed without a completion frame; keep what arrived.
	placeholder.Finalize(nil, nil)

	c.persistExchange(conv)
	return nil
}

// applyChunk appends one streamed delta to the placeholder.
func (c *Controller) applyChunk(placeholder *model.Message, delta string, onDelta func(string)) {
	c.mu.Lock()
	placeholder.AppendText(delta)
	c.mu.Unlock()

	if onDelta != nil && delta != "" {
		onDelta(delta)
	}
}

// applyComplete finalizes the answer and reconciles the conversation id.
func (c *Controller) applyComplete(conv *model.Conversation, placeholder *model.Message, ev stream.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	placeholder.Finalize(ev.FullText, ev.Sources)

	// Promotion happens in place: the conversation keeps its title and
	// position in the list, only the id changes.
	if ev.ConversationID != "" && conv.ID.IsTemporary() {
		conv.Promote(ev.ConversationID)
	}
}

// rollback removes the optimistic exchange after a failed send. A
// conversation the server never acknowledged with a persisted id is
// removed from the list along with its transcript, whichever send
// created it. The failure surfaces as a notice unless it was a
// cancellation.
func (c *Controller) rollback(userMsg, placeholder *model.Message, conv *model.Conversation, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.messages[:0]
	for _, m := range c.messages {
		if m != userMsg && m != placeholder {
			kept = append(kept, m)
		}
	}
	c.messages = kept

	if conv.ID.IsTemporary() {
		keptConvs := c.conversations[:0]
		for _, cv := range c.conversations {
			if cv != conv {
				keptConvs = append(keptConvs, cv)
			}
		}
		c.conversations = keptConvs
		if c.current == conv {
			c.current = nil
			c.messages = nil
		}
	}

	if cause != nil && !errors.Is(cause, context.Canceled) {
		c.notice = cause.Error()
	}
}

// persistExchange mirrors the finished conversation into the history
// cache. Best effort; cache failures never fail a send.
func (c *Controller) persistExchange(conv *model.Conversation) {
	if c.cache == nil {
		return
	}

	c.mu.Lock()
	conversations := make([]*model.Conversation, len(c.conversations))
	copy(conversations, c.conversations)
	messages := make([]*model.Message, len(c.messages))
	copy(messages, c.messages)
	id := conv.ID
	c.mu.Unlock()

	if !id.IsPersisted() {
		return
	}
	c.cacheConversations(conversations)
	if err := c.cache.SaveMessages(id.String(), messages); err != nil {
		log.Printf("history cache: %v", err)
	}
}
