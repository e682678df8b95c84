// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the docchat backend.
//
// The backend exposes conversation history, document management, and a
// streaming answer endpoint under a single base URL. This package
// implements the client for communicating with that API.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/docchat/internal/model"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is the base URL of a locally running backend.
	DefaultBaseURL = "http://localhost:8000/api/v1"

	// DefaultTimeout is the default timeout for REST requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit

	// MaxUploadFiles is the largest batch the upload endpoint accepts.
	MaxUploadFiles = 10

	// userAgent identifies the client on every request.
	userAgent = "docchat/0.1.0"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client with connection pooling for all REST requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient is used for streaming requests (no timeout, context-controlled).
	// PERFORMANCE: Connection pooling for streaming requests.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context
	}
)

// allowedUploadExtensions is the set of document types the backend ingests.
var allowedUploadExtensions = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".md":   true,
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".gif":  true,
}

// Error variables for common backend errors.
var (
	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTooManyFiles indicates an upload batch exceeded MaxUploadFiles.
	ErrTooManyFiles = errors.New("too many files in upload batch")

	// ErrUnsupportedFileType indicates a file extension the backend rejects.
	ErrUnsupportedFileType = errors.New("unsupported file type")
)

// BackendError represents an error response from the backend API.
type BackendError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error (HTTP %d)", e.Status)
}

// apiErrorResponse represents an error response body from the backend.
type apiErrorResponse struct {
	Detail string `json:"detail"`
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// wireID decodes an identifier the backend may send as a JSON number or
// string. It always normalizes to a string.
type wireID string

// UnmarshalJSON implements json.Unmarshaler.
func (w *wireID) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" {
		*w = ""
		return nil
	}
	if strings.HasPrefix(s, "\"") {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*w = wireID(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = wireID(n.String())
	return nil
}

// MarshalJSON implements json.Marshaler. Numeric ids are sent back as
// numbers to match what the backend stores.
func (w wireID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(w), 10, 64); err == nil {
		return json.Marshal(n)
	}
	return json.Marshal(string(w))
}

// ConversationSummary is one entry of the conversation listing.
type ConversationSummary struct {
	ID           string
	Title        string
	MessageCount int
	CreatedAt    time.Time
}

// conversationResponse is the wire shape of a listed conversation.
type conversationResponse struct {
	ID           wireID    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// messageResponse is the wire shape of a persisted message. Content is
// either a bare string or an object carrying the text with its sources.
type messageResponse struct {
	ID          wireID          `json:"id"`
	Content     json.RawMessage `json:"content"`
	MessageType string          `json:"message_type"`
	Role        string          `json:"role"`
	CreatedAt   time.Time       `json:"created_at"`
}

// messageContent is the structured variant of a message content payload.
type messageContent struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

// DocumentInfo describes one ingested document.
type DocumentInfo struct {
	Filename string `json:"filename"`
	Status   string `json:"status"`
}

// CorpusStatus reports the state of the user's document corpus.
type CorpusStatus struct {
	HasDocuments  bool           `json:"has_documents"`
	DocumentCount int            `json:"document_count"`
	TotalChunks   int            `json:"total_chunks"`
	Documents     []DocumentInfo `json:"documents"`
}

// UploadResult is the per-file outcome of an upload batch.
type UploadResult struct {
	Filename        string `json:"filename"`
	Status          string `json:"status"`
	ChunksProcessed int    `json:"chunks_processed"`
	Message         string `json:"message"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for communicating with the docchat backend API.
type Client struct {
	baseURL string

	// mu guards timeout, which config hot reload may change while
	// requests are in flight on other goroutines.
	mu      sync.RWMutex
	timeout time.Duration

	// limiter smooths bursts of REST calls against the backend.
	limiter *rate.Limiter
}

// NewClient creates a new backend client for the given base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

// WithTimeout sets the per-request timeout for REST calls. Safe to call
// concurrently with in-flight requests.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.mu.Lock()
	c.timeout = timeout
	c.mu.Unlock()
	return c
}

// requestTimeout returns the current per-request timeout.
func (c *Client) requestTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeout
}

// BaseURL returns the configured backend base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// Request/Response Logging (without sensitive data)
// =============================================================================

// logRequest logs an API request without exposing sensitive data.
// Does not log the body (may contain user content).
func (c *Client) logRequest(req *http.Request) {
	log.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs an API response with duration.
// Only logs status code and duration, no response body.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API Response: %d %s (%v)", resp.StatusCode, resp.Status, duration)
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// readResponse reads the response body with size limits to prevent memory exhaustion.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail != "" {
		switch statusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Detail)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Detail)
		default:
			return &BackendError{Status: statusCode, Message: apiErr.Detail}
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &BackendError{Status: statusCode, Message: strings.TrimSpace(string(body))}
	}
}

// do performs one REST request and returns the response body.
//
// PERFORMANCE: Uses shared HTTP client with connection pooling.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout())
	defer cancel()
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", userAgent)

	c.logRequest(req)
	startTime := time.Now()
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(startTime))

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}
	return body, nil
}

// getJSON performs a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// ListConversations fetches the user's conversations, newest first.
func (c *Client) ListConversations(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	query := url.Values{
		"user_id": {userID},
		"limit":   {strconv.Itoa(limit)},
	}

	var raw []conversationResponse
	if err := c.getJSON(ctx, "/chat/conversations", query, &raw); err != nil {
		return nil, err
	}

	summaries := make([]ConversationSummary, 0, len(raw))
	for _, r := range raw {
		summaries = append(summaries, ConversationSummary{
			ID:           string(r.ID),
			Title:        r.Title,
			MessageCount: r.MessageCount,
			CreatedAt:    r.CreatedAt,
		})
	}
	return summaries, nil
}

// FetchMessages fetches the messages of a conversation, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	query := url.Values{"limit": {strconv.Itoa(limit)}}
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages"

	var raw []messageResponse
	if err := c.getJSON(ctx, path, query, &raw); err != nil {
		return nil, err
	}

	messages := make([]*model.Message, 0, len(raw))
	for _, r := range raw {
		text, sources := decodeContent(r.Content)
		messages = append(messages, model.NewPersistedMessage(
			string(r.ID), decodeRole(r), text, sources, r.CreatedAt))
	}
	return messages, nil
}

// decodeRole maps the wire role fields onto a model.Role. Older rows use
// message_type, newer ones a role field.
func decodeRole(r messageResponse) model.Role {
	role := r.Role
	if role == "" {
		role = r.MessageType
	}
	switch role {
	case "assistant", "ai", "bot":
		return model.RoleAssistant
	default:
		return model.RoleUser
	}
}

// decodeContent normalizes a content payload that is either a bare string
// or a {text, sources} object. Undecodable payloads degrade to their raw
// JSON text.
func decodeContent(raw json.RawMessage) (string, []string) {
	if len(raw) == 0 {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}

	var obj messageContent
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text, obj.Sources
	}

	return string(raw), nil
}

// =============================================================================
// DOCUMENTS
// =============================================================================

// DocumentStatus reports the state of the user's ingested documents.
// It doubles as the connectivity probe: any well-formed response means
// the backend is reachable.
func (c *Client) DocumentStatus(ctx context.Context, userID string) (*CorpusStatus, error) {
	query := url.Values{"user_id": {userID}}

	var status CorpusStatus
	if err := c.getJSON(ctx, "/chat/documents/status", query, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ValidateUploadBatch checks a batch of file paths against the backend's
// upload constraints before any bytes are sent.
func ValidateUploadBatch(paths []string) error {
	if len(paths) == 0 {
		return errors.New("no files to upload")
	}
	if len(paths) > MaxUploadFiles {
		return fmt.Errorf("%w: %d files, maximum %d", ErrTooManyFiles, len(paths), MaxUploadFiles)
	}
	for _, p := range paths {
		ext := strings.ToLower(filepath.Ext(p))
		if !allowedUploadExtensions[ext] {
			return fmt.Errorf("%w: %s", ErrUnsupportedFileType, filepath.Base(p))
		}
	}
	return nil
}

// UploadDocuments uploads a batch of documents for ingestion and returns
// the per-file results.
func (c *Client) UploadDocuments(ctx context.Context, userID string, paths []string) ([]UploadResult, error) {
	if err := ValidateUploadBatch(paths); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", filepath.Base(p), err)
		}
		part, err := w.CreateFormFile("files", filepath.Base(p))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", filepath.Base(p), err)
		}
	}
	if err := w.WriteField("user_id", userID); err != nil {
		return nil, fmt.Errorf("failed to encode form: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/chat/upload/multiple", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	var results []UploadResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return results, nil
}

// ClearDocuments removes every ingested document for the user.
func (c *Client) ClearDocuments(ctx context.Context, userID string) error {
	u := c.baseURL + "/chat/documents/clear?" + url.Values{"user_id": {userID}}.Encode()
	req, err := http.NewRequest(http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	_, err = c.do(ctx, req)
	return err
}
