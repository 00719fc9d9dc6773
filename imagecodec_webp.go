// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/image/riff"
)

var (
	fccWEBP = riff.FourCC{'W', 'E', 'B', 'P'}
	fccEXIF = riff.FourCC{'E', 'X', 'I', 'F'}
	fccXMP  = riff.FourCC{'X', 'M', 'P', ' '}
)

// webpScanLen is how much of a WEBP file is scanned when
// no XMP chunk was found.
const webpScanLen = 1 << 20

// RE2 caps repeat counts at 1000, so the value is cut to
// looseParametersMax bytes after matching.
var looseParametersRe = regexp.MustCompile(`(?i)parameters[:=]\s*([^\n\r<]{10,})`)

const looseParametersMax = 2000

type imageDecoderWebP struct {
	*baseDecoder
}

// decode walks the RIFF chunks for EXIF and XMP. If no XMP packet turns up,
// the start of the file is scanned for one, then for a bare "parameters:" label.
func (e *imageDecoderWebP) decode() error {
	xmp, err := e.walkChunks()
	if err != nil {
		e.opts.Warnf("webp: %s", err)
	}
	if xmp != "" {
		e.rec.applyXMP(xmp)
		return nil
	}

	e.seek(0)
	head, err := io.ReadAll(io.LimitReader(e.r, webpScanLen))
	if err != nil {
		return err
	}
	if xmp := findXMP(head); xmp != "" {
		e.rec.Raw["xmp"] = xmp
		e.rec.applyXMP(xmp)
		return nil
	}
	if m := looseParametersRe.FindSubmatch(head); m != nil {
		v := m[1]
		if len(v) > looseParametersMax {
			v = v[:looseParametersMax]
		}
		s := strings.TrimSpace(decodeText(v))
		e.rec.setRawIfUnset(parametersKey, s)
		e.rec.merge(ParseParameters(s))
	}
	return nil
}

// walkChunks decodes any EXIF chunk and returns the first XMP packet.
func (e *imageDecoderWebP) walkChunks() (string, error) {
	formType, rr, err := riff.NewReader(e.r)
	if err != nil {
		return "", err
	}
	if formType != fccWEBP {
		return "", errors.New("not a WebP file")
	}

	var (
		xmp      string
		exifDone bool
	)
	for {
		chunkID, chunkLen, chunkData, err := rr.Next()
		if err == io.EOF {
			return xmp, nil
		}
		if err != nil {
			return xmp, err
		}
		if chunkLen > maxChunkSize {
			continue
		}

		switch chunkID {
		case fccEXIF:
			if exifDone {
				continue
			}
			exifDone = true
			b, err := io.ReadAll(chunkData)
			if err != nil {
				return xmp, err
			}
			if err := decodeEXIF(b, e.rec); err != nil {
				e.opts.Warnf("webp: exif: %s", err)
			}
		case fccXMP:
			if xmp != "" {
				continue
			}
			b, err := io.ReadAll(chunkData)
			if err != nil {
				return xmp, err
			}
			xmp = strings.TrimSpace(decodeText(trimBytesNulls(b)))
			e.rec.Raw["xmp"] = xmp
		}
	}
}
