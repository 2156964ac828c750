// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

// runLogin prompts for credentials on the terminal and signs in.
// The password is read with echo disabled.
func (a *App) runLogin() int {
	reader := bufio.NewReader(os.Stdin)

	email, err := promptLine(reader, "Email: ")
	if err != nil || email == "" {
		fmt.Fprintln(os.Stderr, "error: email is required")
		return 2
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), authFlowTimeout)
	defer cancel()

	user, err := a.Auth.Login(ctx, email, password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "login failed:", err)
		return 1
	}

	fmt.Printf("Signed in as %s (%s).\n", user.Name, user.Email)
	return 0
}
