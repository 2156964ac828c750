// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"time"
)

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// Accumulator collects events from one generation and builds the final text.
// Token contents are concatenated strictly in arrival order; nothing is
// reordered or deduplicated.
type Accumulator struct {
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	content strings.Builder

	ChatID     string
	TokenCount int
	Done       bool

	StartTime    time.Time
	FirstTokenAt time.Time
}

// NewAccumulator creates a new accumulator with the start time set.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		StartTime: time.Now(),
	}
}

// Add processes one event.
func (a *Accumulator) Add(ev Event) {
	switch ev.Type {
	case EventMetadata:
		// A metadata event is only meaningful once.
		if a.ChatID == "" {
			a.ChatID = ev.ChatID
		}
	case EventToken:
		if a.FirstTokenAt.IsZero() {
			a.FirstTokenAt = time.Now()
		}
		a.content.WriteString(ev.Content)
		a.TokenCount++
	case EventDone:
		a.Done = true
	}
}

// Text returns the accumulated content so far.
func (a *Accumulator) Text() string {
	return a.content.String()
}

// TTFT returns the time to first token, or zero if none arrived.
func (a *Accumulator) TTFT() time.Duration {
	if a.FirstTokenAt.IsZero() {
		return 0
	}
	return a.FirstTokenAt.Sub(a.StartTime)
}
