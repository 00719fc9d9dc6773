// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package metaservice decodes and edits generation metadata on behalf of
// the HTTP API, the MCP server, the watcher and the CLI.
package metaservice

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bep/genmeta"
	"github.com/bep/genmeta/internal/metrics"
)

// ErrExists is returned when an edited copy would overwrite an existing file.
var ErrExists = errors.New("file already exists")

// Options configures a Service.
type Options struct {
	// CacheSize is the number of decoded records to keep. 0 disables the cache.
	CacheSize int

	// DecodeTimeout limits the time spent decoding one file. 0 means no limit.
	DecodeTimeout time.Duration

	// RetainText keeps existing PNG text chunks on write.
	RetainText bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service coordinates decoding, caching and write-back.
type Service struct {
	opts  Options
	cache *genmeta.Cache
}

// New creates a new Service.
func New(opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Service{opts: opts}
	if opts.CacheSize > 0 {
		cache, err := genmeta.NewCache(opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create cache: %w", err)
		}
		s.cache = cache
		opts.Metrics.RegisterCache(cache.Hits, cache.Len)
	}
	return s, nil
}

// Result is a decoded record with the values derived from it.
type Result struct {
	*genmeta.Record
	LoRAs      []string             `json:"loras"`
	Checkpoint string               `json:"checkpoint,omitempty"`
	Summary    *genmeta.LoRASummary `json:"summary,omitempty"`
}

// NewResult derives the LoRA references, checkpoint and, for safetensors,
// the training summary from rec.
func NewResult(rec *genmeta.Record) *Result {
	res := &Result{
		Record:     rec,
		LoRAs:      rec.LoRAs(),
		Checkpoint: rec.Checkpoint(),
	}
	if res.LoRAs == nil {
		res.LoRAs = []string{}
	}
	if rec.LoraMetadata != nil {
		if s := genmeta.SummarizeLoRA(rec.LoraMetadata); !s.IsZero() {
			res.Summary = &s
		}
	}
	return res
}

// Read decodes the metadata in b. name and mimeType are used to determine the format.
func (s *Service) Read(name, mimeType string, b []byte) (*Result, error) {
	rec, err := s.decode(name, mimeType, b)
	if err != nil {
		return nil, err
	}
	return NewResult(rec), nil
}

// ReadFile decodes the metadata in the file at path.
func (s *Service) ReadFile(path string) (*Result, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Read(filepath.Base(path), "", b)
}

func (s *Service) decode(name, mimeType string, b []byte) (*genmeta.Record, error) {
	opts := genmeta.Options{
		R:        bytes.NewReader(b),
		Filename: name,
		MIMEType: mimeType,
		Timeout:  s.opts.DecodeTimeout,
		Warnf: func(format string, args ...any) {
			s.opts.Logger.Debug(fmt.Sprintf(format, args...), slog.String("file", name))
		},
	}

	start := time.Now()
	var (
		rec *genmeta.Record
		err error
	)
	if s.cache != nil {
		rec, err = s.cache.Decode(opts)
	} else {
		rec, err = genmeta.Decode(opts)
	}
	if err != nil {
		return nil, err
	}
	s.opts.Metrics.ObserveDecode(rec.Format.String(), rec.Error, time.Since(start))
	return rec, nil
}

// EditRequest describes the changes to make to a record before it is written back.
// Nil fields are left unchanged.
type EditRequest struct {
	Prompt   *string
	Negative *string

	// Settings replaces all parameters with the tokens of a settings line,
	// e.g. "Steps: 20, Sampler: Euler".
	Settings *string

	// Set sets individual parameters after Settings is applied.
	Set map[string]string

	// Remove removes parameters after Set is applied.
	Remove []string
}

// Apply applies the request to rec.
func (req EditRequest) Apply(rec *genmeta.Record) {
	if req.Prompt != nil {
		rec.SetPrompt(*req.Prompt)
	}
	if req.Negative != nil {
		rec.SetNegative(*req.Negative)
	}
	if req.Settings != nil {
		rec.SetParameters(genmeta.SplitSettings(*req.Settings))
	}
	for k, v := range req.Set {
		rec.SetParameter(k, v)
	}
	for _, k := range req.Remove {
		rec.RemoveParameter(k)
	}
}

// Edit decodes b, applies req and writes the result back into a copy of b.
// It returns the new content and the file name to use for it.
func (s *Service) Edit(name, mimeType string, b []byte, req EditRequest) ([]byte, string, error) {
	rec, err := s.decode(name, mimeType, b)
	if err != nil {
		return nil, "", err
	}
	req.Apply(rec)

	out, err := genmeta.Edit(b, rec, genmeta.EditOptions{RetainText: s.opts.RetainText})
	s.opts.Metrics.ObserveEdit(rec.Format.String(), err)
	if err != nil {
		return nil, "", err
	}
	if name == "" {
		name = "image" + extension(rec.Format)
	}
	return out, genmeta.EditedFilename(name), nil
}

// EditFile edits the file at path and writes the result next to it, see genmeta.EditedFilename.
// If outPath is empty, the edited sibling is used. Existing files are never overwritten.
func (s *Service) EditFile(path, outPath string, req EditRequest) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	out, name, err := s.Edit(filepath.Base(path), "", b, req)
	if err != nil {
		return "", err
	}
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(path), name)
	}
	if err := writeNew(outPath, out); err != nil {
		return "", err
	}
	s.opts.Logger.Info("wrote edited file", slog.String("src", path), slog.String("dst", outPath))
	return outPath, nil
}

func writeNew(filename string, b []byte) error {
	f, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%s: %w", filename, ErrExists)
		}
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(filename)
		return err
	}
	return f.Close()
}

func extension(f genmeta.Format) string {
	switch f {
	case genmeta.JPEG:
		return ".jpg"
	case genmeta.FormatAuto:
		return ""
	}
	return "." + f.String()
}
