// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"fmt"
)

// EditOptions configures Edit.
type EditOptions struct {
	// RetainText keeps the existing PNG text chunks (except "parameters")
	// instead of dropping them.
	RetainText bool
}

// Edit returns a copy of src with rec's prompt, negative prompt and
// parameters written back as a single parameter string. src is never modified.
//
// The container is chosen by the leading bytes of src. The result is decoded
// again and must yield the same parameter string, or an error is returned.
// WEBP and safetensors return ErrUnsupportedWrite.
func Edit(src []byte, rec *Record, opts EditOptions) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("no record provided")
	}
	f := SniffFormat(src)
	if f == FormatAuto {
		f = rec.Format
	}

	params := rec.ParameterString()

	var (
		out    []byte
		err    error
		rawKey string
	)
	switch f {
	case PNG:
		out, err = writePNG(src, params, pngWriteOptions{RetainText: opts.RetainText})
		rawKey = parametersKey
	case JPEG:
		out, err = writeJPEG(src, params)
		rawKey = exifTagUserComment
	case WebP, SafeTensors:
		return nil, fmt.Errorf("%s: %w", f, ErrUnsupportedWrite)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}

	got, err := Decode(Options{R: bytes.NewReader(out), Format: f})
	if err != nil {
		return nil, fmt.Errorf("%s: verify: %w", f, err)
	}
	if got.Error != "" {
		return nil, fmt.Errorf("%s: verify: %s", f, got.Error)
	}
	if v := got.Raw[rawKey]; v != params {
		return nil, fmt.Errorf("%s: verify: written parameters do not read back (got %q)", f, v)
	}

	return out, nil
}
