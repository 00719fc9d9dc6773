// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"encoding/binary"
	"slices"
)

const (
	byteOrderBigEndian    = 0x4d4d
	byteOrderLittleEndian = 0x4949
	tiffMagic             = 42

	exifIFDPointer  = 0x8769
	exifUserComment = 0x9286

	ifdEntrySize = 12
)

type exifType uint16

const (
	exifTypeUnsignedByte  exifType = 1
	exifTypeUnsignedASCII exifType = 2
	exifTypeUnsignedShort exifType = 3
	exifTypeUnsignedLong  exifType = 4
	exifTypeUnsignedRat   exifType = 5
	exifTypeSignedByte    exifType = 6
	exifTypeUndef         exifType = 7
	exifTypeSignedShort   exifType = 8
	exifTypeSignedLong    exifType = 9
	exifTypeSignedRat     exifType = 10
	exifTypeSignedFloat   exifType = 11
	exifTypeSignedDouble  exifType = 12
)

type ifdEntry struct {
	tag   uint16
	typ   exifType
	count uint32
	// The value, if it fits in 4 bytes, else its offset. As stored.
	value [4]byte
}

// tiffEditor edits the TIFF structure of an EXIF block.
//
// Edits are append-only: new values and rewritten IFDs are written at the
// end of the block and only pointers are patched in place, so no existing
// offset (maker notes, thumbnails, other sub-IFDs) moves.
type tiffEditor struct {
	b     []byte
	order tiffByteOrder
}

// tiffByteOrder is a byte order that can both read and append.
type tiffByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

func newTIFFEditor(tiff []byte) (*tiffEditor, error) {
	if len(tiff) < 8 {
		return nil, newInvalidFormatErrorf("exif: TIFF header too short")
	}
	var order tiffByteOrder
	switch binary.BigEndian.Uint16(tiff) {
	case byteOrderBigEndian:
		order = binary.BigEndian
	case byteOrderLittleEndian:
		order = binary.LittleEndian
	default:
		return nil, newInvalidFormatErrorf("exif: invalid byte order marker 0x%x", tiff[:2])
	}
	if order.Uint16(tiff[2:]) != tiffMagic {
		return nil, newInvalidFormatErrorf("exif: invalid TIFF magic")
	}
	return &tiffEditor{b: bytes.Clone(tiff), order: order}, nil
}

func (w *tiffEditor) ifd0Offset() uint32 {
	return w.order.Uint32(w.b[4:])
}

// readIFD returns the entries of the IFD at off and its next-IFD pointer.
func (w *tiffEditor) readIFD(off uint32) ([]ifdEntry, uint32, error) {
	n, ok := Uint16At(w.b, int(off), w.order)
	if off < 8 || !ok {
		return nil, 0, newInvalidFormatErrorf("exif: IFD offset %d out of range", off)
	}
	start := int(off) + 2
	end := start + int(n)*ifdEntrySize
	next, ok := Uint32At(w.b, end, w.order)
	if !ok {
		return nil, 0, newInvalidFormatErrorf("exif: IFD at %d with %d entries overruns the block", off, n)
	}
	entries := make([]ifdEntry, n)
	for i := range entries {
		p := w.b[start+i*ifdEntrySize:]
		e := &entries[i]
		e.tag = w.order.Uint16(p)
		e.typ = exifType(w.order.Uint16(p[2:]))
		e.count = w.order.Uint32(p[4:])
		copy(e.value[:], p[8:12])
	}
	return entries, next, nil
}

func (w *tiffEditor) align() {
	if len(w.b)%2 != 0 {
		w.b = append(w.b, 0)
	}
}

// appendData appends p word-aligned and returns its offset.
func (w *tiffEditor) appendData(p []byte) uint32 {
	w.align()
	off := uint32(len(w.b))
	w.b = append(w.b, p...)
	return off
}

// appendIFD appends an IFD with the entries sorted by tag and returns its offset.
func (w *tiffEditor) appendIFD(entries []ifdEntry, next uint32) uint32 {
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, func(a, b ifdEntry) int {
		return int(a.tag) - int(b.tag)
	})
	w.align()
	off := uint32(len(w.b))
	w.b = w.order.AppendUint16(w.b, uint16(len(entries)))
	for _, e := range entries {
		w.b = w.order.AppendUint16(w.b, e.tag)
		w.b = w.order.AppendUint16(w.b, uint16(e.typ))
		w.b = w.order.AppendUint32(w.b, e.count)
		w.b = append(w.b, e.value[:]...)
	}
	w.b = w.order.AppendUint32(w.b, next)
	return off
}

func (w *tiffEditor) longEntry(tag uint16, v uint32) ifdEntry {
	e := ifdEntry{tag: tag, typ: exifTypeUnsignedLong, count: 1}
	w.order.PutUint32(e.value[:], v)
	return e
}

func (w *tiffEditor) undefinedEntry(tag uint16, p []byte) ifdEntry {
	e := ifdEntry{tag: tag, typ: exifTypeUndef, count: uint32(len(p))}
	if len(p) <= 4 {
		copy(e.value[:], p)
	} else {
		w.order.PutUint32(e.value[:], w.appendData(p))
	}
	return e
}

// entryPos is the position of entry i of the IFD at off.
func entryPos(off uint32, i int) int {
	return int(off) + 2 + i*ifdEntrySize
}

// setUserComment stores comment as the Exif IFD's UserComment (0x9286).
// An existing entry is pointed at the new value. Otherwise the Exif IFD is
// rewritten with the extra entry; if IFD0 has no Exif IFD pointer, IFD0 is
// rewritten too and the header repointed at it.
func (w *tiffEditor) setUserComment(comment []byte) error {
	ifd0 := w.ifd0Offset()
	entries0, next0, err := w.readIFD(ifd0)
	if err != nil {
		return err
	}

	ptrIdx := slices.IndexFunc(entries0, func(e ifdEntry) bool { return e.tag == exifIFDPointer })
	if ptrIdx < 0 {
		uc := w.undefinedEntry(exifUserComment, comment)
		exifOff := w.appendIFD([]ifdEntry{uc}, 0)
		newIFD0 := w.appendIFD(append(slices.Clone(entries0), w.longEntry(exifIFDPointer, exifOff)), next0)
		w.order.PutUint32(w.b[4:], newIFD0)
		return nil
	}

	exifOff := w.order.Uint32(entries0[ptrIdx].value[:])
	entries, next, err := w.readIFD(exifOff)
	if err != nil {
		return err
	}

	uc := w.undefinedEntry(exifUserComment, comment)

	if i := slices.IndexFunc(entries, func(e ifdEntry) bool { return e.tag == exifUserComment }); i >= 0 {
		p := w.b[entryPos(exifOff, i):]
		w.order.PutUint16(p[2:], uint16(uc.typ))
		w.order.PutUint32(p[4:], uc.count)
		copy(p[8:12], uc.value[:])
		return nil
	}

	newExifOff := w.appendIFD(append(entries, uc), next)
	w.order.PutUint32(w.b[entryPos(ifd0, ptrIdx)+8:], newExifOff)
	return nil
}

// newEXIFBlock builds a minimal big endian TIFF structure holding
// IFD0 with an Exif IFD pointer and an Exif IFD with the UserComment.
func newEXIFBlock(comment []byte) []byte {
	w := &tiffEditor{
		b:     []byte{'M', 'M', 0, tiffMagic, 0, 0, 0, 8},
		order: binary.BigEndian,
	}
	ifd0 := w.appendIFD([]ifdEntry{w.longEntry(exifIFDPointer, 0)}, 0)
	exifOff := w.appendIFD([]ifdEntry{w.undefinedEntry(exifUserComment, comment)}, 0)
	w.order.PutUint32(w.b[entryPos(ifd0, 0)+8:], exifOff)
	return w.b
}
