// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for communicating with the Nexora API.
//
// All business logic (auth, inference, billing, file storage) lives behind
// this API; the client attaches the demo-protection header and bearer token,
// decodes the {detail} error envelope, and surfaces 401 responses through a
// global unauthorized hook.
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
	"net/http"
	"strings"
	"sync"
	"time"
)

// Configuration constants for the Nexora API.
const (
	// DefaultBaseURL is the base URL used when no configuration is present.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultDemoKey is the demo-protection key sent with every request.
	DefaultDemoKey = "octopus-demo"

	// DefaultTimeout is the default timeout for plain JSON requests.
	DefaultTimeout = 60 * time.Second

	// UploadTimeout is the extended timeout for file analysis requests.
	UploadTimeout = 180 * time.Second

	// GenerationTimeout bounds one full streaming generation.
	GenerationTimeout = 300 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 10 * 1024 * 1024 // 10MB limit
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// Shared HTTP client for plain JSON requests.
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

	// sharedStreamingClient is used for streaming and upload requests
	// (no client timeout, controlled via context).
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
	}
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrUnauthorized indicates the bearer token was rejected (HTTP 401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// APIError represents an error envelope from the Nexora API.
type APIError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api error (HTTP %d): %s", e.Status, e.Detail)
}

// Is allows APIError comparisons against sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// errorEnvelope is the JSON error body returned by the API.
type errorEnvelope struct {
	Detail string `json:"detail"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the HTTP client for the Nexora API.
type Client struct {
	baseURL string
	demoKey string
	logger  *log.Logger

	mu    sync.RWMutex
	token string

	// onUnauthorized is invoked once per 401 response, independent of the
	// operation that triggered it (global de-authentication side effect).
	onUnauthorized func()
}

// New creates a client for the given base URL.
// A nil logger discards transport diagnostics.
func New(baseURL, demoKey string, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if demoKey == "" {
		demoKey = DefaultDemoKey
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		demoKey: demoKey,
		logger:  logger,
	}
}

// SetToken stores the bearer token attached to subsequent requests.
// An empty token means unauthenticated (guest) requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers the hook invoked when any request gets a 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// setHeaders attaches the demo-protection header and, when present, the
// bearer token.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("x-demo-key", c.demoKey)
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// =============================================================================
// REQUEST HELPERS
// =============================================================================

// postJSON issues a JSON POST and decodes the response into out (if non-nil).
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	return c.do(req, out)
}

// getJSON issues a GET and decodes the response into out (if non-nil).
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	return c.do(req, out)
}

// do executes a non-streaming request and handles the error envelope.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	if out == nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseSize))
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// handleErrorResponse decodes the {detail} envelope and fires the
// unauthorized hook on 401.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Detail == "" {
		envelope.Detail = fmt.Sprintf("request failed with status %d", resp.StatusCode)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.fireUnauthorized()
	}

	return &APIError{Status: resp.StatusCode, Detail: envelope.Detail}
}

// fireUnauthorized invokes the registered unauthorized hook.
func (c *Client) fireUnauthorized() {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()

	c.logger.Printf("api: unauthorized response, invalidating session")
	if fn != nil {
		fn()
	}
}
