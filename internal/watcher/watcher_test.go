// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package watcher_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bep/genmeta/internal/metaservice"
	"github.com/bep/genmeta/internal/testutil"
	"github.com/bep/genmeta/internal/watcher"

	qt "github.com/frankban/quicktest"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(c *qt.C, timeout, tick time.Duration, fn func() bool, msg string) {
	c.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	c.Fatal(msg)
}

func TestWatch(t *testing.T) {
	c := qt.New(t)

	dir := c.TempDir()
	svc, err := metaservice.New(metaservice.Options{})
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu      sync.Mutex
		prompts = make(map[string]string)
	)
	done := make(chan error, 1)
	go func() {
		done <- watcher.Watch(ctx, svc, watcher.Options{
			Paths:      []string{dir},
			Extensions: []string{".png", ".JPG"},
			Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
			OnDecode: func(path string, res *metaservice.Result, err error) {
				if err != nil {
					return
				}
				mu.Lock()
				prompts[filepath.Base(path)] = res.Prompt
				mu.Unlock()
			},
		})
	}()

	time.Sleep(100 * time.Millisecond)

	png := testutil.PNG(testutil.TEXt("parameters", "a cat\nSteps: 20"))
	c.Assert(os.WriteFile(filepath.Join(dir, "cat.png"), png, 0o644), qt.IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("a cat\nSteps: 20"), 0o644), qt.IsNil)

	sub := filepath.Join(dir, "sub")
	c.Assert(os.Mkdir(sub, 0o755), qt.IsNil)
	time.Sleep(100 * time.Millisecond)
	c.Assert(os.WriteFile(filepath.Join(sub, "dog.png"), testutil.PNG(testutil.TEXt("prompt", "a dog")), 0o644), qt.IsNil)

	get := func(name string) string {
		mu.Lock()
		defer mu.Unlock()
		return prompts[name]
	}

	eventually(c, 5*time.Second, 50*time.Millisecond, func() bool {
		return get("cat.png") == "a cat"
	}, "cat.png not decoded by watcher")
	eventually(c, 5*time.Second, 50*time.Millisecond, func() bool {
		return get("dog.png") == "a dog"
	}, "file in new directory not decoded by watcher")

	mu.Lock()
	_, found := prompts["notes.txt"]
	mu.Unlock()
	c.Assert(found, qt.IsFalse)

	cancel()
	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("watcher did not stop")
	}
}

func TestWatchNoPaths(t *testing.T) {
	c := qt.New(t)

	svc, err := metaservice.New(metaservice.Options{})
	c.Assert(err, qt.IsNil)
	c.Assert(watcher.Watch(context.Background(), svc, watcher.Options{}), qt.ErrorMatches, "watcher: no paths to watch")
}
