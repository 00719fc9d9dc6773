// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"encoding/binary"
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// decodeText decodes b as UTF-8, falling back to Latin-1 when b is not valid UTF-8.
// It never fails.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// Not reachable for ISO8859_1, every byte maps to a rune.
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(s)
}

// BinaryString returns b as a string with one rune per byte (0-255).
// This is the representation used by tools that treat strings as byte arrays.
func BinaryString(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// FromBinaryString is the inverse of BinaryString.
// Each rune is masked to its low 8 bits.
func FromBinaryString(s string) []byte {
	b := make([]byte, 0, len(s))
	for _, r := range s {
		b = append(b, byte(r&0xff))
	}
	return b
}

// Uint16At reads a 16-bit integer at off, returning false if b is too short.
func Uint16At(b []byte, off int, order binary.ByteOrder) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return order.Uint16(b[off:]), true
}

// Uint32At reads a 32-bit integer at off, returning false if b is too short.
func Uint32At(b []byte, off int, order binary.ByteOrder) (uint32, bool) {
	if off < 0 || off+4 > len(b) {
		return 0, false
	}
	return order.Uint32(b[off:]), true
}

// Uint64At reads a 64-bit integer at off, returning false if b is too short.
func Uint64At(b []byte, off int, order binary.ByteOrder) (uint64, bool) {
	if off < 0 || off+8 > len(b) {
		return 0, false
	}
	return order.Uint64(b[off:]), true
}

var markupRe = regexp.MustCompile(`<[^>]+>`)

// stripMarkup removes anything that looks like an XML/HTML tag and unescapes entities.
func stripMarkup(s string) string {
	return strings.TrimSpace(html.UnescapeString(markupRe.ReplaceAllString(s, "")))
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func trimBytesNulls(b []byte) []byte {
	var lo, hi int
	for lo = 0; lo < len(b) && b[lo] == 0; lo++ {
	}
	for hi = len(b) - 1; hi >= 0 && b[hi] == 0; hi-- {
	}
	if lo > hi {
		return nil
	}
	return b[lo : hi+1]
}
