// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/docchat/internal/stream"
)

// AnswerRequest is the payload of a streaming answer request.
type AnswerRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"-"`
	UserID         string `json:"user_id"`
}

// answerRequestWire is the JSON shape the backend expects. Conversation
// ids persist as numbers on the backend, so the id round-trips through
// wireID.
type answerRequestWire struct {
	Content        string `json:"content"`
	ConversationID wireID `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id"`
}

// AnswerStream is an open streaming answer response. The caller pulls
// decoded events with Next and must Close the stream when done.
type AnswerStream struct {
	body    io.ReadCloser
	decoder *stream.Decoder
}

// Next returns the next decoded event. See stream.Decoder.Next for the
// termination contract.
func (s *AnswerStream) Next(ctx context.Context) (stream.Event, error) {
	return s.decoder.Next(ctx)
}

// Close releases the underlying connection.
func (s *AnswerStream) Close() error {
	return s.body.Close()
}

// StreamAnswer sends a question to the retrieval pipeline and returns the
// open answer stream. The stream stays open until the server finishes or
// ctx is cancelled; the REST timeout does not apply.
func (c *Client) StreamAnswer(ctx context.Context, req AnswerRequest) (*AnswerStream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(answerRequestWire{
		Content:        req.Content,
		ConversationID: wireID(req.ConversationID),
		UserID:         req.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/messages/rag/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("User-Agent", userAgent)

	c.logRequest(httpReq)
	startTime := time.Now()
	// Streaming requests use the client without a timeout; lifetime is
	// controlled by ctx.
	resp, err := sharedStreamingClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.logResponse(resp, time.Since(startTime))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := readResponse(resp)
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	return &AnswerStream{
		body:    resp.Body,
		decoder: stream.NewDecoder(resp.Body),
	}, nil
}
