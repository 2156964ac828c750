// Nexora TUI - a terminal client for the Nexora chat assistant.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/nexora-ai/nexora-tui/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "version" || args[0] == "--version") {
		fmt.Printf("nexora %s (%s, %s)\n", Version, GitCommit, BuildDate)
		return
	}
	os.Exit(cli.Run(args))
}
