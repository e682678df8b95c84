// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/docchat/internal/api"
	"github.com/jeranaias/docchat/internal/history"
	"github.com/jeranaias/docchat/internal/model"
)

func openTestCache(t *testing.T) *history.Store {
	t.Helper()
	s, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRefreshConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/conversations", r.URL.Path)
		io.WriteString(w, `[
			{"id": 2, "title": "Newest", "created_at": "2025-06-02T10:00:00Z"},
			{"id": 1, "title": "Oldest", "created_at": "2025-06-01T10:00:00Z"}
		]`)
	}))
	defer srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice")
	require.NoError(t, c.RefreshConversations(context.Background()))

	convs := c.Conversations()
	require.Len(t, convs, 2)
	require.Equal(t, "2", convs[0].ID.String())
	require.True(t, convs[0].ID.IsPersisted())
	require.Equal(t, "Newest", convs[0].Title)
	require.True(t, c.Connected())
}

func TestRefreshConversations_FallsBackToCache(t *testing.T) {
	cache := openTestCache(t)
	require.NoError(t, cache.SaveConversations("alice", []*model.Conversation{
		{ID: model.PersistedID("9"), Title: "From cache", CreatedAt: time.Now()},
	}))

	// Backend is unreachable.
	srv := httptest.NewServer(nil)
	srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice").WithHistory(cache)
	require.NoError(t, c.RefreshConversations(context.Background()))

	convs := c.Conversations()
	require.Len(t, convs, 1)
	require.Equal(t, "From cache", convs[0].Title)
	require.False(t, c.Connected())
}

func TestRefreshConversations_NoCacheSurfacesError(t *testing.T) {
	srv := httptest.NewServer(nil)
	srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice")
	require.Error(t, c.RefreshConversations(context.Background()))
}

func TestOpenConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/conversations/7/messages", r.URL.Path)
		io.WriteString(w, `[
			{"id": 1, "content": "hi", "message_type": "user", "created_at": "2025-06-01T10:00:00Z"},
			{"id": 2, "content": {"text": "hello", "sources": []}, "message_type": "assistant", "created_at": "2025-06-01T10:00:03Z"}
		]`)
	}))
	defer srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice")
	conv := &model.Conversation{ID: model.PersistedID("7"), Title: "Open me", CreatedAt: time.Now()}
	c.conversations = []*model.Conversation{conv}

	require.NoError(t, c.OpenConversation(context.Background(), conv.ID))
	require.Same(t, conv, c.Current())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Text)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestOpenConversation_FallsBackToCache(t *testing.T) {
	cache := openTestCache(t)
	require.NoError(t, cache.SaveMessages("7", []*model.Message{
		model.NewPersistedMessage("m1", model.RoleUser, "cached question", nil, time.Now()),
	}))

	srv := httptest.NewServer(nil)
	srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice").WithHistory(cache)
	conv := &model.Conversation{ID: model.PersistedID("7"), Title: "Offline", CreatedAt: time.Now()}
	c.conversations = []*model.Conversation{conv}

	require.NoError(t, c.OpenConversation(context.Background(), conv.ID))
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "cached question", msgs[0].Text)
}

func TestOpenConversation_RejectsUnknownAndTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice")

	require.Error(t, c.OpenConversation(context.Background(), model.TemporaryID()))
	require.Error(t, c.OpenConversation(context.Background(), model.PersistedID("404")))
}

func TestNewChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice")
	conv := &model.Conversation{ID: model.PersistedID("7"), Title: "Open", CreatedAt: time.Now()}
	c.conversations = []*model.Conversation{conv}
	c.current = conv
	c.messages = []*model.Message{model.NewPersistedMessage("m1", model.RoleUser, "q", nil, time.Now())}
	c.SetInput("draft")

	require.NoError(t, c.NewChat())
	require.Nil(t, c.Current())
	require.Empty(t, c.Messages())
	require.Empty(t, c.Input())
	require.Len(t, c.Conversations(), 1, "the list itself is untouched")
}

func TestCheckConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/documents/status", r.URL.Path)
		io.WriteString(w, `{"has_documents": true, "document_count": 1, "total_chunks": 12, "documents": []}`)
	}))
	defer srv.Close()

	c := NewController(api.NewClient(srv.URL), "alice")
	status, err := c.CheckConnectivity(context.Background())
	require.NoError(t, err)
	require.True(t, c.Connected())
	require.Equal(t, 12, status.TotalChunks)

	srv.Close()
	_, err = c.CheckConnectivity(context.Background())
	require.Error(t, err)
	require.False(t, c.Connected())
}

func TestSend_PersistsToHistoryCache(t *testing.T) {
	srv := streamServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		io.WriteString(w, "data: {\"type\":\"chunk\",\"content\":\"the answer\"}\n")
		io.WriteString(w, "data: {\"type\":\"complete\",\"conversationId\":\"88\",\"sources\":[\"doc.pdf\"]}\n")
		io.WriteString(w, "data: [DONE]\n")
	})
	defer srv.Close()

	cache := openTestCache(t)
	c := NewController(api.NewClient(srv.URL), "alice").WithHistory(cache)

	c.SetInput("a question about the document")
	require.NoError(t, c.Send(context.Background()))

	convs, err := cache.Conversations("alice")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "88", convs[0].ID.String())

	msgs, err := cache.Messages("88")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "the answer", msgs[1].Text)
}
