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
)

// =============================================================================
// CHAT STREAMING
// =============================================================================

// HistoryLimit is how many recent message texts are sent as context.
const HistoryLimit = 6

// SendRequest is the body of a POST /send request.
type SendRequest struct {
	Message             string   `json:"message"`
	ChatID              string   `json:"chat_id,omitempty"`
	CollectionID        string   `json:"collection_id,omitempty"`
	ConversationHistory []string `json:"conversation_history,omitempty"`
	EnableWebSearch     bool     `json:"enable_web_search"`
	ResponseStyle       string   `json:"response_style,omitempty"`
}

// TrimHistory returns at most the last HistoryLimit entries of texts.
func TrimHistory(texts []string) []string {
	if len(texts) <= HistoryLimit {
		return texts
	}
	return texts[len(texts)-HistoryLimit:]
}

// Send starts a streaming generation and returns the raw response body.
// The caller owns the body and must close it; decoding is the stream
// package's job. The context should carry the overall generation deadline
// (GenerationTimeout); the streaming client itself has no timeout.
func (c *Client) Send(ctx context.Context, reqBody SendRequest) (io.ReadCloser, error) {
	reqBody.ConversationHistory = TrimHistory(reqBody.ConversationHistory)

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setHeaders(req)

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}

	return resp.Body, nil
}

// =============================================================================
// TITLES AND FEEDBACK
// =============================================================================

// GenerateTitle asks the server for a short chat title summarizing the
// given message texts.
func (c *Client) GenerateTitle(ctx context.Context, chatID string, texts []string) (string, error) {
	body := struct {
		ChatID   string   `json:"chat_id,omitempty"`
		Messages []string `json:"messages"`
	}{ChatID: chatID, Messages: texts}

	var out struct {
		Title string `json:"title"`
	}
	if err := c.postJSON(ctx, "/chat/generate-title", body, &out); err != nil {
		return "", err
	}
	return out.Title, nil
}

// SubmitFeedback records a thumbs rating and optional comment for an answer.
func (c *Client) SubmitFeedback(ctx context.Context, messageID, rating, comment string) error {
	body := struct {
		MessageID string `json:"message_id"`
		Rating    string `json:"rating"`
		Comment   string `json:"comment,omitempty"`
	}{MessageID: messageID, Rating: rating, Comment: comment}

	return c.postJSON(ctx, "/feedback/submit-answer", body, nil)
}
