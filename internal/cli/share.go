// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/shared"
)

// runShare opens a shared conversation read-only and keeps it updated
// until interrupted.
func (a *App) runShare(token string) int {
	viewer := shared.NewViewer(a.Client, token, a.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- viewer.Run(ctx) }()

	var lastShown int
	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintln(os.Stderr, "error:", err)
				return 1
			}
			return 0

		case <-viewer.Notify():
			chat := viewer.Chat()
			if chat == nil {
				continue
			}
			if lastShown == 0 && chat.Title != "" {
				fmt.Printf("== %s ==\n", chat.Title)
			}
			for _, raw := range chat.Messages[lastShown:] {
				printSharedMessage(raw)
			}
			lastShown = len(chat.Messages)
			if n := viewer.LiveViewers(); n > 1 {
				fmt.Printf("-- %d people watching --\n", n)
			}
		}
	}
}

func printSharedMessage(raw json.RawMessage) {
	var msg model.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	fmt.Printf("%s: %s\n", msg.Role.DisplayName(), msg.Text)
}
