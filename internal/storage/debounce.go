// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"io"
	"log"
	"sync"
	"time"
)

// =============================================================================
// DEBOUNCED WRITER
// =============================================================================

// DefaultDebounce is the trailing-edge write coalescing window.
const DefaultDebounce = 500 * time.Millisecond

// DebouncedWriter coalesces rapid writes to the same key so that a burst of
// transcript mutations during streaming produces one database write, not
// hundreds. Only the latest value per key survives the window; intermediate
// states are dropped on purpose.
//
// Flush and Close write everything still pending, so shutdown never loses
// the newest state.
type DebouncedWriter struct {
	store  *Store
	delay  time.Duration
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]any
	timer   *time.Timer
	closed  bool
}

// NewDebouncedWriter wraps store with a coalescing window.
// delay <= 0 uses DefaultDebounce.
func NewDebouncedWriter(store *Store, delay time.Duration, logger *log.Logger) *DebouncedWriter {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &DebouncedWriter{
		store:   store,
		delay:   delay,
		logger:  logger,
		pending: make(map[string]any),
	}
}

// Put schedules value for writing under key. A later Put for the same key
// before the window elapses replaces the scheduled value.
func (w *DebouncedWriter) Put(key string, value any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		// Late writes after Close go straight through so nothing is lost.
		if err := w.store.Put(key, value); err != nil {
			w.logger.Printf("storage: write after close failed for %q: %v", key, err)
		}
		return
	}

	w.pending[key] = value

	if w.timer == nil {
		w.timer = time.AfterFunc(w.delay, w.flushTimer)
	} else {
		w.timer.Reset(w.delay)
	}
}

// Delete schedules removal of key, cancelling any pending write for it.
func (w *DebouncedWriter) Delete(key string) error {
	w.mu.Lock()
	delete(w.pending, key)
	w.mu.Unlock()
	return w.store.Delete(key)
}

// Flush writes all pending values immediately. Returns the first write
// error; remaining keys are still attempted.
func (w *DebouncedWriter) Flush() error {
	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[string]any)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.writeBatch(batch)
}

// Close flushes pending writes and stops the timer. The writer degrades to
// pass-through afterwards.
func (w *DebouncedWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	batch := w.pending
	w.pending = make(map[string]any)
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	return w.writeBatch(batch)
}

// flushTimer is the timer callback.
func (w *DebouncedWriter) flushTimer() {
	if err := w.Flush(); err != nil {
		w.logger.Printf("storage: debounced flush failed: %v", err)
	}
}

func (w *DebouncedWriter) writeBatch(batch map[string]any) error {
	var firstErr error
	for key, value := range batch {
		if err := w.store.Put(key, value); err != nil {
			w.logger.Printf("storage: write failed for %q: %v", key, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
