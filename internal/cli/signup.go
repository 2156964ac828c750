// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// authFlowTimeout bounds each request in the interactive account flows.
const authFlowTimeout = 30 * time.Second

// runSignup registers a new account and walks through email verification.
func (a *App) runSignup() int {
	reader := bufio.NewReader(os.Stdin)

	email, err := promptLine(reader, "Email: ")
	if err != nil || email == "" {
		fmt.Fprintln(os.Stderr, "error: email is required")
		return 2
	}
	name, err := promptLine(reader, "Name: ")
	if err != nil || name == "" {
		fmt.Fprintln(os.Stderr, "error: name is required")
		return 2
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if password != confirm {
		fmt.Fprintln(os.Stderr, "error: passwords do not match")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), authFlowTimeout)
	err = a.Client.Signup(ctx, email, password, name)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "signup failed:", err)
		return 1
	}

	fmt.Println("Account created. A verification code was sent to", email)
	if !a.verifyEmail(reader, email) {
		return 1
	}
	fmt.Println("Email verified. Sign in with: nexora login")
	return 0
}

// verifyEmail loops on the code prompt until the server accepts one.
// Typing "resend" requests a fresh code; an empty line gives up.
func (a *App) verifyEmail(reader *bufio.Reader, email string) bool {
	for {
		code, err := promptLine(reader, "Verification code (or 'resend'): ")
		if err != nil || code == "" {
			fmt.Fprintln(os.Stderr, "verification cancelled; run 'nexora signup' again to retry")
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), authFlowTimeout)
		if code == "resend" {
			err = a.Client.ResendCode(ctx, email)
			cancel()
			if err != nil {
				fmt.Fprintln(os.Stderr, "resend failed:", err)
			} else {
				fmt.Println("A new code was sent.")
			}
			continue
		}

		err = a.Client.VerifyCode(ctx, email, code)
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, "verification failed:", err)
			continue
		}
		return true
	}
}

// runResetPassword drives the forgot-password flow: request a code, then
// set the new password with it.
func (a *App) runResetPassword() int {
	reader := bufio.NewReader(os.Stdin)

	email, err := promptLine(reader, "Email: ")
	if err != nil || email == "" {
		fmt.Fprintln(os.Stderr, "error: email is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), authFlowTimeout)
	err = a.Client.ForgotPassword(ctx, email)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	fmt.Println("A reset code was sent to", email)

	code, err := promptLine(reader, "Reset code: ")
	if err != nil || code == "" {
		fmt.Fprintln(os.Stderr, "error: reset code is required")
		return 2
	}
	password, err := promptPassword("New password: ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	ctx, cancel = context.WithTimeout(context.Background(), authFlowTimeout)
	err = a.Client.ResetPassword(ctx, email, code, password)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "reset failed:", err)
		return 1
	}
	fmt.Println("Password updated. Sign in with: nexora login")
	return 0
}

// =============================================================================
// PROMPT HELPERS
// =============================================================================

func promptLine(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(label string) (string, error) {
	fmt.Print(label)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pw), nil
}
