// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates conversations against the backend.
//
// The Controller owns the conversation list, the open conversation and
// its messages. Sends are optimistic: the user message and an assistant
// placeholder appear immediately and are rolled back if the backend
// rejects the request.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/jeranaias/docchat/internal/api"
	"github.com/jeranaias/docchat/internal/history"
	"github.com/jeranaias/docchat/internal/model"
)

// Error variables for controller operations.
var (
	// ErrEmptyMessage indicates the input was blank after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrSendInFlight indicates a send is already running.
	ErrSendInFlight = errors.New("a message is already being sent")
)

// ServerError is an explicit error reported inside an answer stream.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	return fmt.Sprintf("server error: %s", e.Message)
}

// Controller drives the chat session state.
type Controller struct {
	client *api.Client
	userID string

	// cache is optional; when set, list and message state is mirrored
	// into it and read back when the backend is unreachable.
	cache *history.Store

	mu            sync.Mutex
	conversations []*model.Conversation
	current       *model.Conversation
	messages      []*model.Message
	input         string
	loading       bool
	connected     bool
	notice        string
	cancel        context.CancelFunc

	// onDelta is invoked for every streamed text chunk.
	onDelta func(delta string)
}

// NewController creates a controller for one user against one backend.
func NewController(client *api.Client, userID string) *Controller {
	return &Controller{
		client: client,
		userID: userID,
	}
}

// WithHistory attaches a local history cache.
func (c *Controller) WithHistory(cache *history.Store) *Controller {
	c.cache = cache
	return c
}

// SetStreamSink registers a callback invoked for each streamed chunk.
// The callback runs on the send goroutine and must not call back into
// the controller.
func (c *Controller) SetStreamSink(fn func(delta string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDelta = fn
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Conversations returns a snapshot of the conversation list.
func (c *Controller) Conversations() []*model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Conversation, len(c.conversations))
	copy(out, c.conversations)
	return out
}

// Current returns the open conversation, or nil before the first send.
func (c *Controller) Current() *model.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Messages returns a snapshot of the open conversation's messages.
func (c *Controller) Messages() []*model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Loading reports whether a send is in flight.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Connected reports the result of the last connectivity check.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SetInput stores the draft input text.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
}

// Input returns the draft input text.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// TakeNotice returns the pending user-facing notice and clears it.
func (c *Controller) TakeNotice() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	notice := c.notice
	c.notice = ""
	return notice
}

// =============================================================================
// CONVERSATION MANAGEMENT
// =============================================================================

// NewChat closes the open conversation and starts from a blank state.
// The next send creates a fresh conversation.
func (c *Controller) NewChat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loading {
		return ErrSendInFlight
	}
	c.current = nil
	c.messages = nil
	c.input = ""
	return nil
}

// RefreshConversations reloads the conversation list from the backend,
// falling back to the local cache when the backend is unreachable.
func (c *Controller) RefreshConversations(ctx context.Context) error {
	summaries, err := c.client.ListConversations(ctx, c.userID, 0)
	if err != nil {
		cached, cacheErr := c.loadCachedConversations()
		if cacheErr != nil {
			return err
		}
		c.mu.Lock()
		c.conversations = cached
		c.connected = false
		c.mu.Unlock()
		return nil
	}

	conversations := make([]*model.Conversation, 0, len(summaries))
	for _, s := range summaries {
		conversations = append(conversations, &model.Conversation{
			ID:        model.PersistedID(s.ID),
			Title:     s.Title,
			CreatedAt: s.CreatedAt,
		})
	}

	c.mu.Lock()
	c.conversations = conversations
	c.connected = true
	c.mu.Unlock()

	c.cacheConversations(conversations)
	return nil
}

// OpenConversation loads a persisted conversation and makes it current.
func (c *Controller) OpenConversation(ctx context.Context, id model.ConversationID) error {
	if !id.IsPersisted() {
		return errors.New("conversation has not been persisted yet")
	}

	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	conv := c.findConversation(id)
	c.mu.Unlock()
	if conv == nil {
		return fmt.Errorf("unknown conversation %s", id.String())
	}

	messages, err := c.client.FetchMessages(ctx, id.String(), 0)
	if err != nil {
		cached, cacheErr := c.loadCachedMessages(id.String())
		if cacheErr != nil {
			return err
		}
		messages = cached
	} else if c.cache != nil {
		if err := c.cache.SaveMessages(id.String(), messages); err != nil {
			log.Printf("history cache: %v", err)
		}
	}

	c.mu.Lock()
	c.current = conv
	c.messages = messages
	c.mu.Unlock()
	return nil
}

// findConversation returns the listed conversation with the given id.
// Caller holds c.mu.
func (c *Controller) findConversation(id model.ConversationID) *model.Conversation {
	for _, conv := range c.conversations {
		if conv.ID == id {
			return conv
		}
	}
	return nil
}

// =============================================================================
// CONNECTIVITY AND DOCUMENTS
// =============================================================================

// CheckConnectivity probes the backend and records reachability.
func (c *Controller) CheckConnectivity(ctx context.Context) (*api.CorpusStatus, error) {
	status, err := c.client.DocumentStatus(ctx, c.userID)

	c.mu.Lock()
	c.connected = err == nil
	c.mu.Unlock()

	return status, err
}

// UploadDocuments sends a batch of documents for ingestion.
func (c *Controller) UploadDocuments(ctx context.Context, paths []string) ([]api.UploadResult, error) {
	return c.client.UploadDocuments(ctx, c.userID, paths)
}

// ClearDocuments removes every ingested document for the user.
func (c *Controller) ClearDocuments(ctx context.Context) error {
	return c.client.ClearDocuments(ctx, c.userID)
}

// CancelActive cancels the in-flight send, if any.
func (c *Controller) CancelActive() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// =============================================================================
// CACHE PLUMBING
// =============================================================================

func (c *Controller) loadCachedConversations() ([]*model.Conversation, error) {
	if c.cache == nil {
		return nil, errors.New("no history cache")
	}
	return c.cache.Conversations(c.userID)
}

func (c *Controller) loadCachedMessages(conversationID string) ([]*model.Message, error) {
	if c.cache == nil {
		return nil, errors.New("no history cache")
	}
	return c.cache.Messages(conversationID)
}

func (c *Controller) cacheConversations(conversations []*model.Conversation) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SaveConversations(c.userID, conversations); err != nil {
		log.Printf("history cache: %v", err)
	}
}
