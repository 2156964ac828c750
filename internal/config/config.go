// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config handles Nexora TUI configuration.
//
// Configuration is loaded from (in order of precedence):
//  1. Environment variables (NEXORA_*)
//  2. ~/.nexora/config.toml
//  3. Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURE
// =============================================================================

// Config is the root configuration.
type Config struct {
	API     APIConfig     `toml:"api"`
	Chat    ChatConfig    `toml:"chat"`
	UI      UIConfig      `toml:"ui"`
	Storage StorageConfig `toml:"storage"`
}

// APIConfig holds server connection settings.
type APIConfig struct {
	// BaseURL is the Nexora API endpoint.
	BaseURL string `toml:"base_url"`

	// DemoKey is sent as the demo-protection header.
	DemoKey string `toml:"demo_key"`

	// TimeoutSecs bounds plain JSON requests.
	TimeoutSecs int `toml:"timeout_secs"`

	// UploadTimeoutSecs bounds file analysis requests.
	UploadTimeoutSecs int `toml:"upload_timeout_secs"`

	// StallTimeoutSecs is how long a stream may go silent.
	StallTimeoutSecs int `toml:"stall_timeout_secs"`
}

// ChatConfig holds per-request chat behavior.
type ChatConfig struct {
	// ResponseStyle is the server-side answer style (e.g. "concise").
	ResponseStyle string `toml:"response_style"`

	// EnableWebSearch asks the server to ground answers in search.
	EnableWebSearch bool `toml:"enable_web_search"`
}

// UIConfig holds presentation settings.
type UIConfig struct {
	// Theme selects the color theme ("dark" or "light").
	Theme string `toml:"theme"`

	// Markdown enables rendered markdown for bot messages.
	Markdown bool `toml:"markdown"`

	// SyntaxTheme is the code highlighting theme.
	SyntaxTheme string `toml:"syntax_theme"`
}

// StorageConfig holds local persistence settings.
type StorageConfig struct {
	// Path overrides the state database location.
	Path string `toml:"path"`

	// DebounceMs is the write coalescing window.
	DebounceMs int `toml:"debounce_ms"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:           "http://localhost:8000",
			DemoKey:           "octopus-demo",
			TimeoutSecs:       60,
			UploadTimeoutSecs: 180,
			StallTimeoutSecs:  60,
		},
		Chat: ChatConfig{
			ResponseStyle: "balanced",
		},
		UI: UIConfig{
			Theme:       "dark",
			Markdown:    true,
			SyntaxTheme: "monokai",
		},
		Storage: StorageConfig{
			DebounceMs: 500,
		},
	}
}

// UploadTimeout returns the file upload timeout as a duration.
func (c *APIConfig) UploadTimeout() time.Duration {
	return time.Duration(c.UploadTimeoutSecs) * time.Second
}

// StallTimeout returns the stall window as a duration.
func (c *APIConfig) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutSecs) * time.Second
}

// Debounce returns the write coalescing window as a duration.
func (c *StorageConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the configuration directory (~/.nexora).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".nexora"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// StatePath returns the state database path, honoring the override.
func (c *Config) StatePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// LogPath returns the application log file path.
func LogPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "nexora.log"), nil
}

// EnsureDir creates the config directory if missing.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file, fills defaults and applies env overrides.
// A missing file is not an error; defaults apply.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a specific config file.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config file with restricted permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION AND OVERRIDES
// =============================================================================

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url cannot be empty")
	}
	if !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.TimeoutSecs <= 0 {
		return fmt.Errorf("api.timeout_secs must be positive")
	}
	if c.API.StallTimeoutSecs < 0 {
		return fmt.Errorf("api.stall_timeout_secs cannot be negative")
	}
	switch c.UI.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("ui.theme must be \"dark\" or \"light\", got %q", c.UI.Theme)
	}
	if c.Storage.DebounceMs < 0 {
		return fmt.Errorf("storage.debounce_ms cannot be negative")
	}
	return nil
}

// ApplyEnvOverrides applies NEXORA_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("NEXORA_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := os.Getenv("NEXORA_DEMO_KEY"); v != "" {
		c.API.DemoKey = v
	}
	if v := os.Getenv("NEXORA_THEME"); v != "" {
		c.UI.Theme = v
	}
	if v := os.Getenv("NEXORA_RESPONSE_STYLE"); v != "" {
		c.Chat.ResponseStyle = v
	}
	if v := os.Getenv("NEXORA_STATE_PATH"); v != "" {
		c.Storage.Path = v
	}
}
