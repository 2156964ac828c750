// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package shared implements the read-only view of a shared conversation.
//
// A shared chat is opened by token and only ever polled: the transcript is
// refreshed periodically, viewer presence is reported by heartbeat, and the
// live-viewer count is kept current. Nothing in this package can send.
package shared

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/nexora-ai/nexora-tui/internal/api"
)

// Polling cadence for a shared view.
const (
	RefreshInterval   = 12 * time.Second
	HeartbeatInterval = 10 * time.Second
	ViewersInterval   = 3 * time.Second
)

// Viewer polls one shared conversation.
type Viewer struct {
	client   *api.Client
	token    string
	viewerID string
	logger   *log.Logger

	refreshEvery   time.Duration
	heartbeatEvery time.Duration
	viewersEvery   time.Duration

	// refreshLimit caps manual refreshes so a key-mashing user cannot
	// outpace the polling cadence.
	refreshLimit *rate.Limiter

	mu      sync.RWMutex
	chat    *api.SharedChat
	viewers int

	notify chan struct{}
}

// NewViewer creates a viewer for a share token. Each viewer gets a fresh
// identity; reopening the view counts as a new viewer.
func NewViewer(client *api.Client, token string, logger *log.Logger) *Viewer {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Viewer{
		client:         client,
		token:          token,
		viewerID:       uuid.NewString(),
		logger:         logger,
		refreshEvery:   RefreshInterval,
		heartbeatEvery: HeartbeatInterval,
		viewersEvery:   ViewersInterval,
		refreshLimit:   rate.NewLimiter(rate.Every(time.Second), 1),
		notify:         make(chan struct{}, 1),
	}
}

// Notify returns the coalesced change channel.
func (v *Viewer) Notify() <-chan struct{} {
	return v.notify
}

// Chat returns the last fetched transcript, or nil before the first fetch.
func (v *Viewer) Chat() *api.SharedChat {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chat
}

// LiveViewers returns the last known live viewer count.
func (v *Viewer) LiveViewers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.viewers
}

// ViewerID returns this viewer's identity as reported in heartbeats.
func (v *Viewer) ViewerID() string {
	return v.viewerID
}

// Run registers the view and polls until ctx is cancelled. The initial
// fetch error is returned so callers can surface a dead share link;
// subsequent poll failures are logged and retried on the next tick.
func (v *Viewer) Run(ctx context.Context) error {
	if err := v.fetch(ctx); err != nil {
		return err
	}
	v.heartbeat(ctx)
	v.countViewers(ctx)

	refresh := time.NewTicker(v.refreshEvery)
	defer refresh.Stop()
	heartbeat := time.NewTicker(v.heartbeatEvery)
	defer heartbeat.Stop()
	viewers := time.NewTicker(v.viewersEvery)
	defer viewers.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			if err := v.fetch(ctx); err != nil {
				v.logger.Printf("shared: transcript refresh failed: %v", err)
			}
		case <-heartbeat.C:
			v.heartbeat(ctx)
		case <-viewers.C:
			v.countViewers(ctx)
		}
	}
}

// Refresh fetches the transcript immediately, rate limited.
func (v *Viewer) Refresh(ctx context.Context) error {
	if !v.refreshLimit.Allow() {
		return nil
	}
	return v.fetch(ctx)
}

func (v *Viewer) fetch(ctx context.Context) error {
	chat, err := v.client.SharedChat(ctx, v.token)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.chat = chat
	v.mu.Unlock()
	v.signal()
	return nil
}

func (v *Viewer) heartbeat(ctx context.Context) {
	if err := v.client.Heartbeat(ctx, v.token, v.viewerID); err != nil {
		v.logger.Printf("shared: heartbeat failed: %v", err)
	}
}

func (v *Viewer) countViewers(ctx context.Context) {
	n, err := v.client.LiveViewers(ctx, v.token)
	if err != nil {
		v.logger.Printf("shared: viewer count failed: %v", err)
		return
	}
	v.mu.Lock()
	changed := n != v.viewers
	v.viewers = n
	v.mu.Unlock()
	if changed {
		v.signal()
	}
}

func (v *Viewer) signal() {
	select {
	case v.notify <- struct{}{}:
	default:
	}
}
