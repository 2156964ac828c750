// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/url"
)

// =============================================================================
// SHARED CHAT VIEWS
// =============================================================================

// SharedChat is the read-only transcript of a shared conversation.
type SharedChat struct {
	Title    string            `json:"title"`
	Messages []json.RawMessage `json:"messages"`
}

// SharedChat fetches the current transcript for a share token.
func (c *Client) SharedChat(ctx context.Context, token string) (*SharedChat, error) {
	var out SharedChat
	if err := c.getJSON(ctx, "/shared/"+url.PathEscape(token), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat reports viewer presence for a shared chat.
func (c *Client) Heartbeat(ctx context.Context, token, viewerID string) error {
	body := struct {
		ViewerID string `json:"viewer_id"`
	}{ViewerID: viewerID}

	return c.postJSON(ctx, "/shared/"+url.PathEscape(token)+"/heartbeat", body, nil)
}

// LiveViewers returns the current live viewer count for a shared chat.
func (c *Client) LiveViewers(ctx context.Context, token string) (int, error) {
	var out struct {
		LiveViewers int `json:"live_viewers"`
	}
	if err := c.getJSON(ctx, "/shared/"+url.PathEscape(token)+"/viewers", &out); err != nil {
		return 0, err
	}
	return out.LiveViewers, nil
}
