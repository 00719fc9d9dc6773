// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"
)

// JPEG marker codes, the byte following 0xff.
const (
	markerTEM  = 0x01
	markerRST0 = 0xd0
	markerRST7 = 0xd7
	markerSOI  = 0xd8
	markerEOI  = 0xd9
	markerSOS  = 0xda
	markerAPP1 = 0xe1
	markerCOM  = 0xfe
)

// maxJPEGScan limits how much of the entropy-coded data is scanned for
// a trailing XMP packet.
const maxJPEGScan = 64 << 20

// isStandaloneMarker reports whether the marker has no length field.
func isStandaloneMarker(m byte) bool {
	return m == markerTEM || m == markerSOI || m == markerEOI || (m >= markerRST0 && m <= markerRST7)
}

type imageDecoderJPEG struct {
	*baseDecoder
}

func (e *imageDecoderJPEG) decode() error {
	soi, err := e.readBytesVolatileE(2)
	if err != nil || soi[0] != 0xff || soi[1] != markerSOI {
		return newInvalidFormatErrorf("jpeg: missing SOI marker")
	}

	var (
		exifDone bool
		xmp      string
	)
	// XMP is merged last so EXIF wins, also on a truncated file.
	defer func() {
		if xmp != "" {
			e.rec.applyXMP(xmp)
		}
	}()

	for {
		prefix := e.read1()
		if e.isEOF {
			return nil
		}
		if prefix != 0xff {
			return newInvalidFormatErrorf("jpeg: expected marker at offset %d, got 0x%02x", e.pos()-1, prefix)
		}
		marker := e.read1()
		for marker == 0xff {
			// Fill bytes.
			marker = e.read1()
		}
		if e.isEOF {
			return nil
		}

		if isStandaloneMarker(marker) {
			if marker == markerEOI {
				return nil
			}
			continue
		}

		if marker == markerSOS {
			if xmp == "" {
				tail, err := io.ReadAll(io.LimitReader(e.r, maxJPEGScan))
				if err != nil {
					return err
				}
				xmp = findXMP(tail)
			}
			return nil
		}

		length := e.read2()
		if e.isEOF {
			return nil
		}
		if length < 2 {
			return newInvalidFormatErrorf("jpeg: invalid segment length %d for marker 0x%02x", length, marker)
		}

		switch marker {
		case markerAPP1, markerCOM:
			payload, err := e.readBytes(int64(length - 2))
			if err != nil {
				return err
			}
			if marker == markerAPP1 && bytes.HasPrefix(payload, exifHeader) {
				if exifDone {
					continue
				}
				exifDone = true
				if err := decodeEXIF(payload, e.rec); err != nil {
					e.opts.Warnf("jpeg: exif: %s", err)
				}
				continue
			}
			if xmp == "" {
				xmp = findXMP(payload)
			}
		default:
			e.skip(int64(length - 2))
		}
	}
}

type jpegSegment struct {
	marker byte

	// start is the offset of the segment's 0xff prefix, end the offset after its last byte.
	start, end int

	// payload is the segment data after the length field.
	payload []byte
}

// jpegSegments walks the marker segments of a JPEG up to and including SOS
// (or EOI). The entropy-coded data after SOS is not walked.
// A byte that should start a marker but is not 0xff is an error.
func jpegSegments(b []byte) ([]jpegSegment, error) {
	if len(b) < 2 || b[0] != 0xff || b[1] != markerSOI {
		return nil, newInvalidFormatErrorf("jpeg: missing SOI marker")
	}
	var segs []jpegSegment
	i := 2
	for i < len(b) {
		if b[i] != 0xff {
			return nil, newInvalidFormatErrorf("jpeg: expected marker at offset %d, got 0x%02x", i, b[i])
		}
		start := i
		for i < len(b) && b[i] == 0xff {
			i++
		}
		if i == len(b) {
			return nil, newInvalidFormatErrorf("jpeg: truncated marker at offset %d", start)
		}
		marker := b[i]
		i++

		if isStandaloneMarker(marker) {
			segs = append(segs, jpegSegment{marker: marker, start: start, end: i})
			if marker == markerEOI {
				return segs, nil
			}
			continue
		}

		length, ok := Uint16At(b, i, binary.BigEndian)
		if !ok || length < 2 || i+int(length) > len(b) {
			return nil, newInvalidFormatErrorf("jpeg: invalid segment length for marker 0x%02x at offset %d", marker, start)
		}
		end := i + int(length)
		segs = append(segs, jpegSegment{marker: marker, start: start, end: end, payload: b[i+2 : end]})
		i = end

		if marker == markerSOS {
			return segs, nil
		}
	}
	return segs, nil
}

func appendJPEGSegment(out []byte, marker byte, payload []byte) ([]byte, error) {
	if len(payload)+2 > 0xffff {
		return nil, fmt.Errorf("jpeg: segment of %d bytes exceeds the maximum segment size", len(payload)+2)
	}
	out = append(out, 0xff, marker)
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	return append(out, payload...), nil
}

// writeJPEG returns a copy of src with the parameter string stored as the
// EXIF UserComment. An existing EXIF segment is updated in place; otherwise
// a new one is inserted right after SOI. All other bytes are copied as is.
func writeJPEG(src []byte, parameters string) ([]byte, error) {
	segs, err := jpegSegments(src)
	if err != nil {
		return nil, err
	}
	comment, err := encodeUserComment(parameters)
	if err != nil {
		return nil, fmt.Errorf("jpeg: encode UserComment: %w", err)
	}

	out := make([]byte, 0, len(src)+len(comment)+64)

	idx := slices.IndexFunc(segs, func(s jpegSegment) bool {
		return s.marker == markerAPP1 && bytes.HasPrefix(s.payload, exifHeader)
	})
	if idx < 0 {
		payload := append(bytes.Clone(exifHeader), newEXIFBlock(comment)...)
		out = append(out, src[:2]...)
		if out, err = appendJPEGSegment(out, markerAPP1, payload); err != nil {
			return nil, err
		}
		return append(out, src[2:]...), nil
	}

	seg := segs[idx]
	w, err := newTIFFEditor(seg.payload[len(exifHeader):])
	if err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}
	if err := w.setUserComment(comment); err != nil {
		return nil, fmt.Errorf("jpeg: %w", err)
	}

	out = append(out, src[:seg.start]...)
	if out, err = appendJPEGSegment(out, markerAPP1, append(bytes.Clone(exifHeader), w.b...)); err != nil {
		return nil, err
	}
	return append(out, src[seg.end:]...), nil
}
