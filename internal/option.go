// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package internal

import (
	"log/slog"

	"github.com/bep/genmeta/internal/watcher"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	logger  *slog.Logger
	version string
	onWatch watcher.EventCallback
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger sets the logger. The default logs JSON at the configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(a *application) {
		a.logger = logger
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(version string) Option {
	return func(a *application) {
		a.version = version
	}
}

// WithWatchCallback sets a callback invoked for every file decoded by the watcher.
func WithWatchCallback(fn watcher.EventCallback) Option {
	return func(a *application) {
		a.onWatch = fn
	}
}
