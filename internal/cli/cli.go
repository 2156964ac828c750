// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli wires the application together and dispatches subcommands.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nexora-ai/nexora-tui/internal/api"
	"github.com/nexora-ai/nexora-tui/internal/auth"
	"github.com/nexora-ai/nexora-tui/internal/config"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/session"
	"github.com/nexora-ai/nexora-tui/internal/storage"
	"github.com/nexora-ai/nexora-tui/internal/ui/chat"
)

const usage = `nexora - terminal client for the Nexora assistant

Usage:
  nexora                  Start the chat TUI
  nexora login            Sign in to your account
  nexora signup           Create an account and verify your email
  nexora logout           Sign out and clear local session data
  nexora reset-password   Reset a forgotten password
  nexora repl             Plain line-mode chat (no TUI)
  nexora share TOKEN      Watch a shared conversation (read-only)
  nexora config           Print the configuration file path
  nexora help             Show this help
`

// App bundles the wired application stack.
type App struct {
	Cfg     *config.Config
	Client  *api.Client
	Store   *storage.Store
	Writer  *storage.DebouncedWriter
	Auth    *auth.Manager
	Session *session.Manager
	Logger  *log.Logger

	logFile *os.File
	watcher *config.Watcher

	// collectionID is the active retrieval collection, set by /collection.
	// It survives config reloads.
	collectionID string
}

// sessionOptions builds the request options from the current config plus
// any active retrieval collection.
func (a *App) sessionOptions() session.Options {
	return session.Options{
		ResponseStyle:   a.Cfg.Chat.ResponseStyle,
		EnableWebSearch: a.Cfg.Chat.EnableWebSearch,
		CollectionID:    a.collectionID,
		StallTimeout:    a.Cfg.API.StallTimeout(),
	}
}

// NewApp loads configuration and wires the full stack.
func NewApp() (*App, error) {
	if err := config.EnsureDir(); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logFile := newLogger()

	statePath, err := cfg.StatePath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(statePath, logger)
	if err != nil {
		return nil, err
	}

	client := api.New(cfg.API.BaseURL, cfg.API.DemoKey, logger)
	authMgr, err := auth.NewManager(client, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	writer := storage.NewDebouncedWriter(store, cfg.Storage.Debounce(), logger)
	sess := session.NewManager(client, authMgr, store, writer, logger)

	app := &App{
		Cfg:     cfg,
		Client:  client,
		Store:   store,
		Writer:  writer,
		Auth:    authMgr,
		Session: sess,
		Logger:  logger,
		logFile: logFile,
	}
	sess.SetOptions(app.sessionOptions())

	// Live-reload request options on config edits.
	if path, err := config.Path(); err == nil {
		if w, err := config.Watch(path, app.applyConfig, logger); err == nil {
			app.watcher = w
		} else {
			logger.Printf("cli: config watch unavailable: %v", err)
		}
	}

	return app, nil
}

// applyConfig picks up reloadable settings from a config change.
func (a *App) applyConfig(cfg *config.Config) {
	a.Cfg = cfg
	a.Session.SetOptions(a.sessionOptions())
}

// Close flushes pending writes and releases resources.
func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Close()
	}
	if err := a.Writer.Close(); err != nil {
		a.Logger.Printf("cli: final flush failed: %v", err)
	}
	a.Store.Close()
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// newLogger opens the application log file; a failure degrades to stderr.
func newLogger() (*log.Logger, *os.File) {
	path, err := config.LogPath()
	if err == nil {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err == nil {
			return log.New(f, "", log.LstdFlags), f
		}
	}
	return log.New(os.Stderr, "", log.LstdFlags), nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run parses arguments and executes the selected command.
func Run(args []string) int {
	cmd := ""
	if len(args) > 0 {
		cmd = args[0]
	}

	switch cmd {
	case "help", "-h", "--help":
		fmt.Print(usage)
		return 0
	case "config":
		path, err := config.Path()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		fmt.Println(path)
		return 0
	}

	app, err := NewApp()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := app.Auth.Restore(ctx); err != nil {
		app.Logger.Printf("cli: session restore failed: %v", err)
	}
	cancel()

	switch cmd {
	case "", "chat":
		return app.runTUI()
	case "login":
		return app.runLogin()
	case "signup":
		return app.runSignup()
	case "reset-password":
		return app.runResetPassword()
	case "logout":
		app.Auth.Logout()
		fmt.Println("Signed out.")
		return 0
	case "repl":
		return app.runREPL()
	case "share":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: nexora share TOKEN")
			return 2
		}
		return app.runShare(args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

// runTUI starts the full-screen chat.
func (a *App) runTUI() int {
	// Resume the last open chat if one is recorded.
	var current model.Chat
	if ok, _ := a.Store.Get(storage.KeyCurrentChat, &current); ok && current.ID != "" {
		if err := a.Session.LoadChat(current); err != nil {
			a.Logger.Printf("cli: failed to resume chat: %v", err)
		}
	}

	program := tea.NewProgram(
		chat.New(a.Session, a.Auth, a.Store, a.Cfg),
		tea.WithAltScreen(),
	)
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
