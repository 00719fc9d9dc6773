// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"path/filepath"
	"strings"
)

// sniffLen is the number of leading bytes needed by SniffFormat.
const sniffLen = 16

var (
	magicPNG  = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	magicJPEG = []byte{0xff, 0xd8, 0xff}
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
)

// DetectFormat determines the format from the MIME type, then the filename
// extension, then the leading bytes in head. It returns FormatAuto if none match.
func DetectFormat(mimeType, filename string, head []byte) Format {
	if f := formatFromMIMEType(mimeType); f != FormatAuto {
		return f
	}
	if f := FormatFromFilename(filename); f != FormatAuto {
		return f
	}
	return SniffFormat(head)
}

// SniffFormat determines the image format from its magic bytes.
// SafeTensors has no magic and is never sniffed.
func SniffFormat(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicJPEG):
		return JPEG
	case bytes.HasPrefix(head, magicPNG):
		return PNG
	case len(head) >= 12 && bytes.Equal(head[0:4], magicRIFF) && bytes.Equal(head[8:12], magicWEBP):
		return WebP
	}
	return FormatAuto
}

// FormatFromFilename determines the format from the filename extension.
func FormatFromFilename(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return PNG
	case ".jpg", ".jpeg":
		return JPEG
	case ".webp":
		return WebP
	case ".safetensors":
		return SafeTensors
	}
	return FormatAuto
}

func formatFromMIMEType(mimeType string) Format {
	mimeType = strings.ToLower(mimeType)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	mimeType = strings.TrimSpace(mimeType)
	switch {
	case mimeType == "image/png":
		return PNG
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return JPEG
	case mimeType == "image/webp":
		return WebP
	}
	return FormatAuto
}

// EditedFilename returns the name for an edited copy of filename,
// with "_edited" inserted before the extension.
func EditedFilename(filename string) string {
	ext := filepath.Ext(filename)
	return strings.TrimSuffix(filename, ext) + "_edited" + ext
}
