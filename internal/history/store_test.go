// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/docchat/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_ConversationsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	saved := []*model.Conversation{
		{ID: model.PersistedID("1"), Title: "Old chat", CreatedAt: now.Add(-time.Hour)},
		{ID: model.PersistedID("2"), Title: "New chat", CreatedAt: now},
	}
	if err := s.SaveConversations("alice", saved); err != nil {
		t.Fatalf("SaveConversations() error = %v", err)
	}

	got, err := s.Conversations("alice")
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d conversations, want 2", len(got))
	}
	// Newest first.
	if got[0].ID.String() != "2" || got[1].ID.String() != "1" {
		t.Errorf("order = [%s %s], want [2 1]", got[0].ID.String(), got[1].ID.String())
	}
	if !got[0].ID.IsPersisted() {
		t.Error("cached conversation should load as persisted")
	}
	if got[0].Title != "New chat" {
		t.Errorf("Title = %q, want %q", got[0].Title, "New chat")
	}
}

func TestStore_TemporaryConversationsNotCached(t *testing.T) {
	s := openTestStore(t)

	saved := []*model.Conversation{
		model.NewTemporaryConversation("not yet acknowledged"),
		{ID: model.PersistedID("9"), Title: "Kept", CreatedAt: time.Now()},
	}
	if err := s.SaveConversations("bob", saved); err != nil {
		t.Fatalf("SaveConversations() error = %v", err)
	}

	got, err := s.Conversations("bob")
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(got) != 1 || got[0].ID.String() != "9" {
		t.Errorf("got %v, want only the persisted conversation", got)
	}
}

func TestStore_SaveReplacesPerUser(t *testing.T) {
	s := openTestStore(t)

	first := []*model.Conversation{{ID: model.PersistedID("1"), Title: "A", CreatedAt: time.Now()}}
	second := []*model.Conversation{{ID: model.PersistedID("2"), Title: "B", CreatedAt: time.Now()}}
	other := []*model.Conversation{{ID: model.PersistedID("3"), Title: "C", CreatedAt: time.Now()}}

	if err := s.SaveConversations("alice", first); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveConversations("carol", other); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveConversations("alice", second); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Conversations("alice")
	if len(got) != 1 || got[0].ID.String() != "2" {
		t.Errorf("alice cache = %v, want only conversation 2", got)
	}
	got, _ = s.Conversations("carol")
	if len(got) != 1 || got[0].ID.String() != "3" {
		t.Errorf("carol cache = %v, want untouched", got)
	}
}

func TestStore_MessagesRoundTrip(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)
	saved := []*model.Message{
		model.NewPersistedMessage("m1", model.RoleUser, "question", nil, now.Add(-time.Minute)),
		model.NewPersistedMessage("m2", model.RoleAssistant, "answer", []string{"a.pdf"}, now),
	}
	if err := s.SaveMessages("7", saved); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}

	got, err := s.Messages("7")
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	// Oldest first.
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("order = [%s %s], want [m1 m2]", got[0].ID, got[1].ID)
	}
	if got[1].Role != model.RoleAssistant {
		t.Errorf("Role = %v, want assistant", got[1].Role)
	}
	if len(got[1].Sources) != 1 || got[1].Sources[0] != "a.pdf" {
		t.Errorf("Sources = %v, want [a.pdf]", got[1].Sources)
	}
}

func TestStore_UnfinalizedMessagesSkipped(t *testing.T) {
	s := openTestStore(t)

	placeholder := model.NewAssistantPlaceholder()
	placeholder.AppendText("in flight")

	saved := []*model.Message{
		model.NewPersistedMessage("m1", model.RoleUser, "q", nil, time.Now()),
		placeholder,
	}
	if err := s.SaveMessages("7", saved); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}

	got, _ := s.Messages("7")
	if len(got) != 1 || got[0].ID != "m1" {
		t.Errorf("got %v, want only the finalized message", got)
	}
}

func TestStore_Closed(t *testing.T) {
	s := openTestStore(t)
	s.Close()

	if _, err := s.Conversations("alice"); err != ErrClosed {
		t.Errorf("Conversations() after Close = %v, want ErrClosed", err)
	}
	if err := s.SaveMessages("1", nil); err != ErrClosed {
		t.Errorf("SaveMessages() after Close = %v, want ErrClosed", err)
	}
}
