// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package internal

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// SupportedExtensions are the file extensions the decoder understands.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".webp", ".safetensors"}

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app" toml:"app"`
	Auth   AuthConfig        `yaml:"auth" toml:"auth"`
	Editor EditorConfig      `yaml:"editor" toml:"editor"`
	Watch  WatchConfig       `yaml:"watch" toml:"watch"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Editor.Validate(); err != nil {
		return fmt.Errorf("editor: %w", err)
	}
	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level" toml:"log_level"`
	HTTP     HTTPConfig `yaml:"http" toml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port" toml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode" toml:"mode"`
	Token string `yaml:"token" toml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// EditorConfig configures decoding and write-back.
type EditorConfig struct {
	// MaxUploadBytes limits the size of uploaded files.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" toml:"max_upload_bytes"`

	// CacheSize is the number of decoded records kept in memory. 0 disables the cache.
	CacheSize int `yaml:"cache_size" toml:"cache_size"`

	// RetainText keeps existing PNG text chunks on write.
	RetainText bool `yaml:"retain_text" toml:"retain_text"`

	// DecodeTimeout limits the time spent decoding one file. 0 means no limit.
	DecodeTimeout time.Duration `yaml:"decode_timeout" toml:"decode_timeout"`
}

// Validate validates the editor configuration.
func (c *EditorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxUploadBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.CacheSize, validation.Min(0)),
		validation.Field(&c.DecodeTimeout, validation.Min(time.Duration(0))),
	)
}

// WatchConfig configures the drop folder watcher.
type WatchConfig struct {
	Paths      []string `yaml:"paths" toml:"paths"`
	Extensions []string `yaml:"extensions" toml:"extensions"`
}

// Validate validates the watch configuration.
func (c *WatchConfig) Validate() error {
	in := make([]any, len(SupportedExtensions))
	for i, ext := range SupportedExtensions {
		in[i] = ext
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Paths, validation.Each(validation.Required)),
		validation.Field(&c.Extensions, validation.Each(validation.In(in...))),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Editor: EditorConfig{
			MaxUploadBytes: 50 << 20,
			CacheSize:      128,
			DecodeTimeout:  10 * time.Second,
		},
		Watch: WatchConfig{
			Extensions: slices.Clone(SupportedExtensions),
		},
	}
}
