// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
)

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// User is the account record returned by the API.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified"`
}

// LoginResult carries the token and user from a successful login.
type LoginResult struct {
	Token string `json:"access_token"`
	User  *User  `json:"user"`
}

// Login exchanges credentials for a bearer token. The token is NOT stored
// on the client; the auth layer decides when a session becomes active.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var out LoginResult
	if err := c.postJSON(ctx, "/auth/login", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Signup registers a new account. The account must be verified by code
// before login succeeds.
func (c *Client) Signup(ctx context.Context, email, password, name string) error {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}{Email: email, Password: password, Name: name}

	return c.postJSON(ctx, "/auth/signup", body, nil)
}

// VerifyCode confirms the email verification code sent at signup.
func (c *Client) VerifyCode(ctx context.Context, email, code string) error {
	body := struct {
		Email string `json:"email"`
		Code  string `json:"code"`
	}{Email: email, Code: code}

	return c.postJSON(ctx, "/auth/verify-code", body, nil)
}

// ResendCode requests a fresh verification code.
func (c *Client) ResendCode(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{Email: email}

	return c.postJSON(ctx, "/auth/resend", body, nil)
}

// ForgotPassword starts a password reset flow.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	body := struct {
		Email string `json:"email"`
	}{Email: email}

	return c.postJSON(ctx, "/auth/forgot-password", body, nil)
}

// ResetPassword completes a password reset with the emailed code.
func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	body := struct {
		Email       string `json:"email"`
		Code        string `json:"code"`
		NewPassword string `json:"new_password"`
	}{Email: email, Code: code, NewPassword: newPassword}

	return c.postJSON(ctx, "/auth/reset-password", body, nil)
}

// Me validates the current token and returns the fresh user record.
// A 401 here fires the unauthorized hook like everywhere else.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.getJSON(ctx, "/auth/me", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
