// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// =============================================================================
// FILE UPLOADS
// =============================================================================

// UploadResult is the response to a file analysis upload.
type UploadResult struct {
	Message string `json:"message"`
	Answer  string `json:"answer"`
	FileID  string `json:"file_id"`
	ChatID  string `json:"chat_id"`
}

// Text returns the analysis text, whichever field the server used.
func (r *UploadResult) Text() string {
	if r.Answer != "" {
		return r.Answer
	}
	return r.Message
}

// UploadFile posts a file for analysis. query is the optional user question
// accompanying the file; chatID attaches the result to an existing chat.
// The caller's context should carry UploadTimeout; analysis is slow.
func (c *Client) UploadFile(ctx context.Context, filename string, content io.Reader, query, chatID string) (*UploadResult, error) {
	fields := map[string]string{}
	if query != "" {
		fields["query"] = query
	}
	if chatID != "" {
		fields["chat_id"] = chatID
	}

	var out UploadResult
	if err := c.postMultipart(ctx, "/files/upload", filename, content, fields, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadRAG uploads a document into a retrieval collection and returns the
// collection id used for follow-up questions.
func (c *Client) UploadRAG(ctx context.Context, filename string, content io.Reader) (string, error) {
	var out struct {
		CollectionID string `json:"collection_id"`
	}
	if err := c.postMultipart(ctx, "/files/upload-rag", filename, content, nil, &out); err != nil {
		return "", err
	}
	return out.CollectionID, nil
}

// postMultipart builds and sends a multipart form with one file part plus
// plain fields. Uses the streaming client: uploads routinely outlive the
// JSON client's timeout.
func (c *Client) postMultipart(ctx context.Context, path, filename string, content io.Reader, fields map[string]string, out any) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("failed to read file content: %w", err)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.setHeaders(req)

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.handleErrorResponse(resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
