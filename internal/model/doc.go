// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// A Conversation carries a tagged ConversationID that is either a local
// temporary token or a server-assigned identifier. A Message accumulates
// streamed answer chunks until it is finalized with its source references.
package model
