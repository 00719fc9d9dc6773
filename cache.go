// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a fixed size LRU cache of decoded records keyed by content.
// It is safe for concurrent use.
type Cache struct {
	c    *lru.Cache[string, *Record]
	hits atomic.Uint64
}

// NewCache creates a new Cache holding at most size records.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[string, *Record](size)
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Decode is like Decode, but returns a copy of a cached record when the same
// content was decoded before. opts.R is read fully.
func (c *Cache) Decode(opts Options) (*Record, error) {
	if opts.R == nil {
		return nil, fmt.Errorf("no reader provided")
	}
	b, err := io.ReadAll(opts.R)
	if err != nil {
		return nil, err
	}
	if opts.Format == FormatAuto {
		opts.Format = DetectFormat(opts.MIMEType, opts.Filename, b)
	}

	sum := sha256.Sum256(b)
	key := opts.Format.String() + ":" + hex.EncodeToString(sum[:])
	if rec, found := c.c.Get(key); found {
		c.hits.Add(1)
		return rec.Clone(), nil
	}

	opts.R = bytes.NewReader(b)
	rec, err := Decode(opts)
	if err != nil {
		return nil, err
	}
	// Timed out decodes are not cached.
	if opts.Timeout == 0 || rec.Error == "" {
		c.c.Add(key, rec.Clone())
	}
	return rec, nil
}

// Hits returns the number of decodes answered from the cache.
func (c *Cache) Hits() uint64 {
	return c.hits.Load()
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	return c.c.Len()
}
