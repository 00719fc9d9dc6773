// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package watcher decodes files as they are dropped into or written in a set of directories.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/bep/genmeta/internal/metaservice"
)

// EventCallback is called after a watched file has been decoded.
// err is set if the file could not be read or its format is unknown.
type EventCallback func(path string, res *metaservice.Result, err error)

// Options configures Watch.
type Options struct {
	// Paths are the directories to watch, including subdirectories.
	Paths []string

	// Extensions limits the files decoded, e.g. ".png". Matching is case insensitive.
	Extensions []string

	Logger *slog.Logger

	// OnDecode, if set, is called for every decoded file.
	OnDecode EventCallback
}

// Watch starts an fsnotify watcher on the configured directories and decodes
// new or written files until ctx is cancelled.
// New directories created at runtime are added to the watch list.
func Watch(ctx context.Context, svc *metaservice.Service, opts Options) error {
	if len(opts.Paths) == 0 {
		return errors.New("watcher: no paths to watch")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, p := range opts.Paths {
		if err := addDirsRecursive(w, p); err != nil {
			return err
		}
		logger.Info("watcher: started", slog.String("root", p))
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			info, statErr := os.Stat(ev.Name)
			if statErr != nil {
				continue
			}
			if info.IsDir() {
				if ev.Op&fsnotify.Create != 0 {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
				}
				continue
			}
			if !hasExtension(ev.Name, opts.Extensions) || info.Size() == 0 {
				continue
			}

			res, readErr := svc.ReadFile(ev.Name)
			if readErr != nil {
				logger.Warn("watcher: decode failed", slog.String("path", ev.Name), slog.String("error", readErr.Error()))
			} else {
				logDecoded(logger, ev.Name, res)
			}
			if opts.OnDecode != nil {
				opts.OnDecode(ev.Name, res, readErr)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func logDecoded(logger *slog.Logger, path string, res *metaservice.Result) {
	attrs := []any{
		slog.String("path", path),
		slog.String("format", res.Format.String()),
		slog.String("prompt", res.Prompt),
		slog.Any("loras", res.LoRAs),
		slog.String("checkpoint", res.Checkpoint),
	}
	if res.Error != "" {
		attrs = append(attrs, slog.String("record_error", res.Error))
	}
	logger.Info("watcher: decoded", attrs...)
}

func hasExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return slices.ContainsFunc(extensions, func(e string) bool {
		return strings.EqualFold(e, ext)
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
