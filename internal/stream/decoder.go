// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the newline-delimited answer frames produced by
// the backend into typed events.
//
// The protocol is one frame per line, prefixed by "data:". A frame payload
// is either a JSON object carrying a typed event, the literal [DONE]
// terminator, or arbitrary text treated as a raw chunk.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType identifies the kind of a decoded stream event.
type EventType int

const (
	// EventChunk is an incremental text delta of the in-progress answer.
	EventChunk EventType = iota

	// EventComplete ends the answer, optionally carrying the
	// server-assigned conversation id, source references, and the full
	// answer text.
	EventComplete

	// EventError is an explicit error frame from the server. It ends the
	// sequence after being reported.
	EventError
)

// Event is one decoded protocol frame.
type Event struct {
	Type EventType

	// Chunk payload.
	Content string

	// Complete payload. ConversationID is empty when the server sent
	// none. Sources is nil when absent. FullText is nil when absent and
	// must then leave previously accumulated chunk text untouched.
	ConversationID string
	Sources        []string
	FullText       *string

	// Error payload.
	Message string
}

// wireFrame is the JSON shape of a structured frame payload.
type wireFrame struct {
	Type           string   `json:"type"`
	Content        string   `json:"content"`
	ConversationID string   `json:"conversationId"`
	Sources        []string `json:"sources"`
	FullText       *string  `json:"fullText"`
	Message        string   `json:"message"`
}

// =============================================================================
// DECODER
// =============================================================================

const (
	// dataPrefix marks a protocol frame; other lines are ignored.
	dataPrefix = "data:"

	// doneMarker terminates the sequence regardless of stream closure.
	doneMarker = "[DONE]"

	// maxLineSize bounds a single frame line (64KB).
	maxLineSize = 64 * 1024
)

// Decoder turns one response body into a lazy sequence of events.
//
// A decoder is single-use and non-restartable: it owns its position in
// the underlying reader and serves exactly one stream. Undecoded bytes
// are buffered across reads, so splitting the same byte stream at
// different offsets yields identical events.
type Decoder struct {
	r    *bufio.Reader
	done bool
}

// NewDecoder creates a decoder over an open response body.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r: bufio.NewReaderSize(r, 4096),
	}
}

// Next returns the next decoded event.
//
// It returns io.EOF when the sequence has ended: on stream closure, on
// the [DONE] marker, after an error frame has been delivered, or on
// context cancellation. Cancellation is a normal early termination, not
// a failure. Only an unexpected transport-level read fault is returned
// as a non-EOF error.
func (d *Decoder) Next(ctx context.Context) (Event, error) {
	if d.done {
		return Event{}, io.EOF
	}

	for {
		if ctx.Err() != nil {
			d.done = true
			return Event{}, io.EOF
		}

		line, err := d.readLine()
		if err != nil {
			d.done = true

			// A final line without a trailing newline still decodes.
			if errors.Is(err, io.EOF) && strings.TrimSpace(line) != "" {
				if ev, ok, end := decodeLine(line); ok && !end {
					return ev, nil
				}
			}
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			// Reads aborted by cancellation surface as wrapped context
			// errors from net/http; treat them as normal termination.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return Event{}, io.EOF
			}
			return Event{}, fmt.Errorf("read stream: %w", err)
		}

		ev, ok, end := decodeLine(line)
		if end {
			d.done = true
			return Event{}, io.EOF
		}
		if !ok {
			continue
		}
		if ev.Type == EventError {
			// An error frame is the last event of the sequence.
			d.done = true
		}
		return ev, nil
	}
}

// readLine reads one line, enforcing the frame size bound. It assembles
// the line from bounded buffer-sized slices so an oversized frame is
// rejected without ever being held in memory whole.
func (d *Decoder) readLine() (string, error) {
	var line strings.Builder
	for {
		chunk, err := d.r.ReadSlice('\n')
		line.Write(chunk)
		if line.Len() > maxLineSize {
			return "", fmt.Errorf("frame too large: over %d bytes", maxLineSize)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line.String(), err
	}
}

// decodeLine decodes one raw line into an event.
//
// Returns ok=false for lines that carry no event (blank lines, lines
// without the frame marker, progress frames) and end=true for the
// [DONE] terminator. Malformed structured payloads degrade to verbatim
// text chunks rather than failing the stream.
func decodeLine(line string) (ev Event, ok bool, end bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return Event{}, false, false
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if payload == "" {
		return Event{}, false, false
	}
	if payload == doneMarker {
		return Event{}, false, true
	}

	if strings.HasPrefix(payload, "{") {
		var frame wireFrame
		if err := json.Unmarshal([]byte(payload), &frame); err == nil {
			switch frame.Type {
			case "chunk":
				return Event{Type: EventChunk, Content: frame.Content}, true, false
			case "complete":
				return Event{
					Type:           EventComplete,
					ConversationID: frame.ConversationID,
					Sources:        frame.Sources,
					FullText:       frame.FullText,
				}, true, false
			case "error":
				return Event{Type: EventError, Message: frame.Message}, true, false
			default:
				// Progress frames ("start", "thinking") carry nothing
				// the client renders.
				return Event{}, false, false
			}
		}
		// Unparseable object: fall through to the raw chunk fallback.
	}

	return Event{Type: EventChunk, Content: payload}, true, false
}
