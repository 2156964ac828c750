// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/nexora-ai/nexora-tui/internal/config"
	"github.com/nexora-ai/nexora-tui/internal/export"
	"github.com/nexora-ai/nexora-tui/internal/model"
	"github.com/nexora-ai/nexora-tui/internal/session"
)

// runREPL is the plain line-mode chat for terminals where the TUI is
// unwelcome (ssh sessions, scripts, screen readers).
func (a *App) runREPL() int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := a.replHistoryPath()
	if f, err := os.Open(historyPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	fmt.Println("Nexora REPL. Type /help for commands, Ctrl+C to exit.")
	if remaining := a.Auth.GuestRemaining(); remaining >= 0 {
		fmt.Printf("Guest mode: %d free messages left.\n", remaining)
	}

	for {
		input, err := line.Prompt("> ")
		if err != nil {
			// Ctrl+C or EOF ends the session.
			fmt.Println()
			return 0
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := a.replCommand(input); quit {
				return 0
			}
			continue
		}

		if err := a.Session.Send(input); err != nil {
			fmt.Println("!", replErrorText(err))
			continue
		}
		a.printGeneration()
	}
}

// replCommand handles slash commands. Returns true to exit.
func (a *App) replCommand(input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/new":
		if err := a.Session.NewChat(); err != nil {
			fmt.Println("!", replErrorText(err))
		} else {
			fmt.Println("Started a new chat.")
		}
	case "/regen":
		if err := a.Session.Regenerate(); err != nil {
			fmt.Println("!", replErrorText(err))
		} else {
			a.printGeneration()
		}
	case "/chats":
		chats, err := a.Store.RecentChats()
		if err != nil || len(chats) == 0 {
			fmt.Println("No chats yet.")
			break
		}
		for i, chat := range chats {
			title := chat.Title
			if title == "" {
				title = chat.ID
			}
			fmt.Printf("%2d. %s\n", i+1, title)
		}
	case "/file":
		path, query, _ := strings.Cut(arg, " ")
		if path == "" {
			fmt.Println("Usage: /file <path> [question]")
			break
		}
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Println("!", err)
			break
		}
		if err := a.Session.SendFile(filepath.Base(path), content, strings.TrimSpace(query)); err != nil {
			fmt.Println("!", replErrorText(err))
			break
		}
		a.printGeneration()
	case "/collection":
		if arg == "" {
			fmt.Println("Usage: /collection <path>")
			break
		}
		content, err := os.ReadFile(arg)
		if err != nil {
			fmt.Println("!", err)
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.API.UploadTimeout())
		collectionID, err := a.Client.UploadRAG(ctx, filepath.Base(arg), bytes.NewReader(content))
		cancel()
		if err != nil {
			fmt.Println("!", err)
			break
		}
		a.collectionID = collectionID
		a.Session.SetOptions(a.sessionOptions())
		fmt.Println("Collection ready. Questions now search the uploaded document.")
	case "/rate":
		rating, comment, _ := strings.Cut(arg, " ")
		if rating != "up" && rating != "down" {
			fmt.Println("Usage: /rate up|down [comment]")
			break
		}
		a.rateLastAnswer(rating, strings.TrimSpace(comment))
	case "/export":
		if arg == "" {
			fmt.Println("Usage: /export <file.md|file.json>")
			break
		}
		msgs := a.Session.Messages()
		if len(msgs) == 0 {
			fmt.Println("Nothing to export yet.")
			break
		}
		if err := export.Transcript(arg, a.Session.Chat(), msgs, export.FormatForPath(arg)); err != nil {
			fmt.Println("!", err)
		} else {
			fmt.Println("Saved to", arg)
		}
	case "/help":
		fmt.Println("/new            start a new chat")
		fmt.Println("/regen          regenerate the last answer")
		fmt.Println("/chats          list recent chats")
		fmt.Println("/file PATH [Q]  upload a file for analysis")
		fmt.Println("/collection P   upload a document to search against")
		fmt.Println("/rate up|down   rate the last answer")
		fmt.Println("/export FILE    save the transcript (markdown or json)")
		fmt.Println("/quit           exit")
	default:
		fmt.Println("Unknown command. Try /help.")
	}
	return false
}

// printGeneration streams the growing bot reply to stdout until the
// generation settles, then reports the outcome.
func (a *App) printGeneration() {
	var shown string
	for {
		<-a.Session.Notify()

		msgs := a.Session.Messages()
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1]
			if last.Role == model.RoleBot && last.Text != shown {
				if strings.HasPrefix(last.Text, shown) {
					// Tokens and the abort notice only append.
					fmt.Print(last.Text[len(shown):])
				} else {
					// Errors replace the streamed text wholesale.
					if shown != "" {
						fmt.Println()
					}
					fmt.Print(last.Text)
				}
				shown = last.Text
			}
		}

		switch a.Session.State() {
		case session.StateSending, session.StateStreaming:
			continue
		default:
			fmt.Println()
			return
		}
	}
}

// rateLastAnswer submits a thumbs rating for the most recent completed bot
// message and remembers it locally so it is not re-prompted.
func (a *App) rateLastAnswer(rating, comment string) {
	msgs := a.Session.Messages()
	var target *model.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleBot && msgs[i].IsComplete {
			target = &msgs[i]
			break
		}
	}
	if target == nil {
		fmt.Println("No answer to rate yet.")
		return
	}

	messageID := strconv.FormatInt(target.Timestamp, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Client.SubmitFeedback(ctx, messageID, rating, comment); err != nil {
		fmt.Println("!", err)
		return
	}
	if err := a.Store.SetFeedbackState(messageID, rating); err != nil {
		a.Logger.Printf("cli: failed to save feedback state: %v", err)
	}
	fmt.Println("Thanks for the feedback.")
}

func replErrorText(err error) string {
	return strings.TrimPrefix(err.Error(), "session: ")
}

func (a *App) replHistoryPath() string {
	dir, err := config.Dir()
	if err != nil {
		return filepath.Join(os.TempDir(), "nexora_history")
	}
	return filepath.Join(dir, "repl_history")
}
