// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// FRAME LIMITING
// =============================================================================

// Streaming tokens can arrive far faster than a terminal can usefully
// repaint. Rendering every token causes flicker and burns CPU, so redraws
// during streaming are capped at a fixed frame rate; the transcript state
// itself is always current, only the paint is throttled.

// defaultMaxFPS caps streaming redraws.
const defaultMaxFPS = 30

// frameInterval is the minimum spacing between streaming redraws.
const frameInterval = time.Second / defaultMaxFPS

// frameMsg asks the update loop to repaint the streaming transcript.
type frameMsg struct{}

// frameTick schedules the next streaming repaint.
func frameTick() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg {
		return frameMsg{}
	})
}

// frameLimiter coalesces repaint requests between frames. Change
// notifications arrive from the streaming goroutine; Allow is called on
// the Bubble Tea loop.
type frameLimiter struct {
	mu    sync.Mutex
	last  time.Time
	dirty bool
}

// MarkDirty records that the transcript changed since the last paint.
func (f *frameLimiter) MarkDirty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirty = true
}

// Allow reports whether a repaint is due, clearing the dirty flag when it
// fires. At most one repaint per frameInterval.
func (f *frameLimiter) Allow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return false
	}
	now := time.Now()
	if now.Sub(f.last) < frameInterval {
		return false
	}
	f.last = now
	f.dirty = false
	return true
}

// Force clears the limiter and permits the next paint immediately.
// Used for terminal transitions (done, error, abort) that must render.
func (f *frameLimiter) Force() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = time.Time{}
	f.dirty = true
}
