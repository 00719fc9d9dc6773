// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"errors"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/text/encoding/unicode"
)

var exifHeader = []byte("Exif\x00\x00")

// UserComment character code prefixes (8 bytes each).
var (
	userCommentUnicode   = []byte("UNICODE\x00")
	userCommentASCII     = []byte("ASCII\x00\x00\x00")
	userCommentJIS       = []byte("JIS\x00\x00\x00\x00\x00")
	userCommentUndefined = make([]byte, 8)
)

const (
	exifTagImageDescription = "ImageDescription"
	exifTagUserComment      = "UserComment"
)

// decodeEXIF reads ImageDescription and UserComment from an EXIF block
// (a TIFF structure, optionally preceded by the "Exif\0\0" APP1 header)
// and merges them into rec as parameter blobs.
func decodeEXIF(b []byte, rec *Record) error {
	b = bytes.TrimPrefix(b, exifHeader)
	if len(b) == 0 {
		return errors.New("empty EXIF block")
	}
	x, err := exif.Decode(bytes.NewReader(b))
	if x == nil {
		return err
	}

	if tag, err := x.Get(exif.ImageDescription); err == nil {
		if desc := decodeText(trimBytesNulls(tag.Val)); desc != "" {
			rec.Raw[exifTagImageDescription] = desc
			rec.merge(ParseParameters(desc))
		}
	}
	if tag, err := x.Get(exif.UserComment); err == nil {
		if uc := decodeUserComment(tag.Val); uc != "" {
			rec.Raw[exifTagUserComment] = uc
			rec.merge(ParseParameters(uc))
		}
	}

	// Errors from sub-IFDs the tags above do not live in are of no interest.
	return nil
}

// decodeUserComment decodes an EXIF UserComment value using its 8-byte
// character code prefix. Values without a known prefix are read as text.
func decodeUserComment(b []byte) string {
	switch {
	case bytes.HasPrefix(b, userCommentUnicode):
		return decodeUTF16(b[len(userCommentUnicode):])
	case bytes.HasPrefix(b, userCommentASCII),
		bytes.HasPrefix(b, userCommentJIS),
		bytes.HasPrefix(b, userCommentUndefined):
		return decodeText(trimBytesNulls(b[8:]))
	default:
		return decodeText(trimBytesNulls(b))
	}
}

// encodeUserComment encodes s as a UNICODE UserComment, UTF-16 big endian.
func encodeUserComment(s string) ([]byte, error) {
	enc, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return append(bytes.Clone(userCommentUnicode), enc...), nil
}

// decodeUTF16 decodes UTF-16 text, big endian unless a BOM says otherwise.
func decodeUTF16(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	s, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes(b)
	if err != nil {
		return decodeText(trimBytesNulls(b))
	}
	return strings.TrimRight(string(s), "\x00")
}
