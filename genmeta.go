// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package genmeta reads and writes the generation metadata (prompt, negative prompt,
// sampler settings, LoRA references) that image generators embed in PNG, JPEG and WEBP
// files, and the training metadata stored in safetensors model headers.
package genmeta

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	// ErrUnsupportedWrite is returned when writing metadata back into a format
	// that does not support it (WEBP, safetensors).
	ErrUnsupportedWrite = errors.New("writing metadata is not supported for this format")

	// ErrUnknownFormat is returned when the format could not be determined.
	ErrUnknownFormat = errors.New("unknown file format")

	// ErrStopWalking is a sentinel error to signal that the walk should stop.
	ErrStopWalking = fmt.Errorf("stop walking")

	// Internal error to signal that we should stop any further processing.
	errStop = fmt.Errorf("stop")
)

const (
	// FormatAuto signals that the format should be detected from
	// the MIME type, the filename or the leading bytes.
	FormatAuto Format = iota
	// PNG is the PNG image format.
	PNG
	// JPEG is the JPEG image format.
	JPEG
	// WebP is the WebP image format.
	WebP
	// SafeTensors is the safetensors model format.
	SafeTensors
)

var formatNames = [...]string{"auto", "png", "jpeg", "webp", "safetensors"}

// Format is a metadata container format.
type Format int

func (f Format) String() string {
	if f < 0 || int(f) >= len(formatNames) {
		return fmt.Sprintf("Format(%d)", int(f))
	}
	return formatNames[f]
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	if s == "jpg" {
		s = "jpeg"
	}
	for i, name := range formatNames {
		if name == s {
			*f = Format(i)
			return nil
		}
	}
	return fmt.Errorf("unknown format %q", string(text))
}

// Writable reports whether metadata can be written back into this format.
func (f Format) Writable() bool {
	return f == PNG || f == JPEG
}

// MIMEType returns the MIME type of the format.
func (f Format) MIMEType() string {
	switch f {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	case WebP:
		return "image/webp"
	case SafeTensors:
		return "application/octet-stream"
	default:
		return ""
	}
}

// Options contains the options for the Decode function.
type Options struct {
	// The Reader (typically a *os.File) to read metadata from.
	R io.ReadSeeker

	// Filename and MIMEType are used to detect the format when Format is FormatAuto.
	// Both are optional; the leading bytes of R are used as a fallback.
	Filename string
	MIMEType string

	// The format in R.
	Format Format

	// Warnf will be called for each warning.
	Warnf func(string, ...any)

	// Timeout is the maximum time the decoder will spend on reading metadata.
	// If set to 0, the decoder will not time out.
	Timeout time.Duration
}

// Decode reads the metadata in opts.R and returns a new Record.
//
// Malformed or truncated input never fails the call: what could be read is
// returned, and Record.Error is set when the container itself was unreadable.
// An error is only returned when there is nothing to decode from or the format
// could not be determined.
func Decode(opts Options) (*Record, error) {
	if opts.R == nil {
		return nil, errors.New("no reader provided")
	}
	if opts.Warnf == nil {
		opts.Warnf = func(string, ...any) {}
	}

	if opts.Format == FormatAuto {
		var head [sniffLen]byte
		n, _ := io.ReadFull(opts.R, head[:])
		if _, err := opts.R.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		opts.Format = DetectFormat(opts.MIMEType, opts.Filename, head[:n])
		if opts.Format == FormatAuto {
			return nil, ErrUnknownFormat
		}
	}

	rec := newRecord(opts.Format)

	base := &baseDecoder{
		streamReader: newStreamReader(opts.R, byteOrderFor(opts.Format)),
		opts:         opts,
		rec:          rec,
	}

	var dec decoder
	switch opts.Format {
	case PNG:
		dec = &imageDecoderPNG{baseDecoder: base}
	case JPEG:
		dec = &imageDecoderJPEG{baseDecoder: base}
	case WebP:
		dec = &imageDecoderWebP{baseDecoder: base}
	case SafeTensors:
		dec = &modelDecoderSafeTensors{baseDecoder: base}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, opts.Format)
	}

	decode := func() (err error) {
		defer func() {
			if err2 := errFromRecover(recover()); err2 != nil {
				err = err2
			}
		}()
		return dec.decode()
	}

	var err error
	if opts.Timeout > 0 {
		errc := make(chan error, 1)
		go func() {
			errc <- decode()
		}()
		select {
		case <-time.After(opts.Timeout):
			// The decoder goroutine still owns rec.
			rec = newRecord(opts.Format)
			err = fmt.Errorf("timed out after %s", opts.Timeout)
		case err = <-errc:
		}
	} else {
		err = decode()
	}

	if err = base.errFinal(err); err != nil {
		rec.Error = err.Error()
	}
	rec.syncParametersMap()

	return rec, nil
}

// DecodeBytes is a convenience wrapper around Decode for in-memory content.
func DecodeBytes(b []byte, filename string) (*Record, error) {
	return Decode(Options{R: bytes.NewReader(b), Filename: filename})
}

type decoder interface {
	decode() error
}

type baseDecoder struct {
	*streamReader
	opts Options
	rec  *Record
}

// errFinal maps the error from a decoder to what should be reported in
// Record.Error. Running out of input is a partial result, not an error.
func (d *baseDecoder) errFinal(err error) error {
	if err == nil || err == errStop {
		err = d.readErr
	}
	switch {
	case err == nil:
		return nil
	case err == ErrStopWalking, err == errStop:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), err == errShortRead:
		return nil
	}
	return err
}

func errFromRecover(r any) error {
	if r == nil {
		return nil
	}
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("unknown panic: %v", r)
}

// InvalidFormatError is used when the container is malformed in a way that
// prevents any further processing.
type InvalidFormatError struct {
	Err error
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid format: %s", e.Err)
}

// Is reports whether the target error is an InvalidFormatError.
func (e *InvalidFormatError) Is(target error) bool {
	_, ok := target.(*InvalidFormatError)
	return ok
}

func (e *InvalidFormatError) Unwrap() error {
	return e.Err
}

func newInvalidFormatErrorf(format string, args ...any) error {
	return &InvalidFormatError{Err: fmt.Errorf(format, args...)}
}

// IsInvalidFormat reports whether the error was an InvalidFormatError.
func IsInvalidFormat(err error) bool {
	return errors.Is(err, &InvalidFormatError{})
}
