// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream decodes the server's chunked /send response into typed events.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// eventPrefix marks candidate event payload lines. Everything else in the
// stream is ignored.
var eventPrefix = []byte("data: ")

// DefaultStallTimeout is how long the decoder waits for a new event before
// treating the stream as dead.
const DefaultStallTimeout = 60 * time.Second

// MaxLineSize is the maximum allowed size for a single event line (64KB).
const MaxLineSize = 64 * 1024

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType identifies one of the four recognized stream event kinds.
// Anything else on the wire is logged and skipped.
type EventType string

const (
	EventMetadata EventType = "metadata"
	EventToken    EventType = "token"
	EventDone     EventType = "done"
	EventError    EventType = "error"
)

// Event is one decoded unit from the response stream.
//   - metadata: ChatID carries the server-assigned chat identifier
//   - token: Content carries an incremental text fragment
//   - done: terminal success, no payload
//   - error: terminal failure, Content carries a human-readable message
type Event struct {
	Type    EventType
	ChatID  string
	Content string
}

// wireEvent mirrors the JSON payload of a "data: " line.
type wireEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	ChatID  string `json:"chat_id,omitempty"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrStalled is returned when no event arrives within the stall timeout.
var ErrStalled = errors.New("stream stalled: no events received")

// ErrDecoderUsed is returned when Events is called twice on one decoder.
// A decoder consumes its reader and is not restartable.
var ErrDecoderUsed = errors.New("stream decoder already consumed")

// StreamError wraps a terminal stream failure, preserving any content
// accumulated before the error so callers can keep partial responses.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return "stream error (partial content received): " + e.Err.Error()
	}
	return "stream error: " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder parses a chunked response body into a finite sequence of events.
// One decoder serves exactly one request; create a new one per request.
//
// Lines are assembled from raw chunks by bufio, so a multi-byte character or
// a "data: " prefix split across chunk boundaries is reassembled before any
// decoding happens. Splitting occurs only on '\n' bytes, which can never
// land inside a UTF-8 sequence.
type Decoder struct {
	reader       *bufio.Reader
	logger       *log.Logger
	stallTimeout time.Duration
	used         bool
}

// NewDecoder creates a decoder for one response body.
// A nil logger discards decode diagnostics.
func NewDecoder(r io.Reader, logger *log.Logger) *Decoder {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Decoder{
		reader:       bufio.NewReader(r),
		logger:       logger,
		stallTimeout: DefaultStallTimeout,
	}
}

// SetStallTimeout overrides the stall timeout. Zero disables stall detection.
func (d *Decoder) SetStallTimeout(timeout time.Duration) {
	d.stallTimeout = timeout
}

// Events starts decoding and returns the event and terminal-error channels.
// The event channel is closed when the stream ends (done event, error event,
// EOF, cancellation or stall). At most one error is delivered:
//   - nil-equivalent (no error sent) after a done event
//   - the error event's message, EOF-without-done, read failures
//   - ErrStalled when the stall timeout elapses between events
//   - ctx.Err() on cancellation; no events are emitted after cancellation
func (d *Decoder) Events(ctx context.Context) (<-chan Event, <-chan error) {
	events := make(chan Event, 64)
	errs := make(chan error, 1)

	if d.used {
		close(events)
		errs <- ErrDecoderUsed
		close(errs)
		return events, errs
	}
	d.used = true

	go d.run(ctx, events, errs)

	return events, errs
}

// run is the decode loop. Lines are read on a separate goroutine so the
// stall timer can fire while a read is blocked.
func (d *Decoder) run(ctx context.Context, events chan<- Event, errs chan<- error) {
	defer close(events)
	defer close(errs)

	type lineResult struct {
		line []byte
		err  error
	}

	lines := make(chan lineResult)
	go func() {
		defer close(lines)
		for {
			line, err := d.readLine()
			select {
			case lines <- lineResult{line: line, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	stall := time.NewTimer(d.stallInterval())
	defer stall.Stop()

	for {
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return

		case <-stall.C:
			d.logger.Printf("stream: no events for %s, treating as stalled", d.stallTimeout)
			errs <- ErrStalled
			return

		case res, ok := <-lines:
			if !ok {
				// Reader goroutine exited after cancellation.
				errs <- ctx.Err()
				return
			}
			if res.err != nil {
				if res.err == io.EOF {
					// EOF without a done event: connection dropped mid-stream.
					errs <- io.ErrUnexpectedEOF
				} else {
					errs <- res.err
				}
				return
			}

			ev, ok := d.decodeLine(res.line)
			if !ok {
				continue
			}

			// Reset the stall clock only on successfully parsed events.
			if !stall.Stop() {
				select {
				case <-stall.C:
				default:
				}
			}
			stall.Reset(d.stallInterval())

			// Never emit after cancellation.
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}

			switch ev.Type {
			case EventDone:
				return
			case EventError:
				msg := ev.Content
				if msg == "" {
					msg = "generation error"
				}
				errs <- errors.New(msg)
				return
			}
		}
	}
}

// readLine reads one newline-terminated line, enforcing MaxLineSize.
// A trailing line without a newline is still returned at EOF.
func (d *Decoder) readLine() ([]byte, error) {
	var buf bytes.Buffer
	for {
		part, err := d.reader.ReadSlice('\n')
		buf.Write(part)
		if buf.Len() > MaxLineSize {
			return nil, errors.New("stream line too large")
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		line := bytes.TrimRight(buf.Bytes(), "\r\n")
		if err == io.EOF && len(line) > 0 {
			return line, nil
		}
		return line, err
	}
}

// decodeLine parses a single line into an event.
// Non-event lines and malformed payloads are skipped, never fatal.
func (d *Decoder) decodeLine(line []byte) (Event, bool) {
	if !bytes.HasPrefix(line, eventPrefix) {
		return Event{}, false
	}
	payload := line[len(eventPrefix):]

	var wire wireEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		d.logger.Printf("stream: skipping malformed event line: %v", err)
		return Event{}, false
	}

	switch EventType(wire.Type) {
	case EventMetadata:
		return Event{Type: EventMetadata, ChatID: wire.ChatID}, true
	case EventToken:
		if wire.Content == "" {
			return Event{}, false
		}
		return Event{Type: EventToken, Content: wire.Content}, true
	case EventDone:
		return Event{Type: EventDone}, true
	case EventError:
		return Event{Type: EventError, Content: wire.Content}, true
	default:
		d.logger.Printf("stream: skipping unknown event type %q", wire.Type)
		return Event{}, false
	}
}

// stallInterval returns the effective stall timer duration.
func (d *Decoder) stallInterval() time.Duration {
	if d.stallTimeout <= 0 {
		// Effectively disabled.
		return 24 * time.Hour
	}
	return d.stallTimeout
}
