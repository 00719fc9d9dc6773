// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"encoding/binary"
	"errors"
	"io"
)

var errShortRead = errors.New("short read")

// maxChunkSize limits the size of a single metadata chunk or segment read into memory.
const maxChunkSize = 10 * 1024 * 1024

func newStreamReader(r io.ReadSeeker, byteOrder binary.ByteOrder) *streamReader {
	return &streamReader{
		r:         r,
		byteOrder: byteOrder,
	}
}

// byteOrderFor returns the byte order of the length fields in f.
func byteOrderFor(f Format) binary.ByteOrder {
	switch f {
	case WebP, SafeTensors:
		return binary.LittleEndian
	default:
		return binary.BigEndian
	}
}

// streamReader reads the length-prefixed structures of a container.
//
// The fixed-size reads (read1, read2, read4, seek) do not return errors;
// they panic with errStop, which the decoder recovers from, and the
// underlying error is kept in readErr. The first io.EOF is swallowed and
// only sets isEOF, so a walker can check it once per chunk.
// Not safe for concurrent use.
type streamReader struct {
	r         io.ReadSeeker
	byteOrder binary.ByteOrder

	buf []byte

	isEOF   bool
	readErr error
}

// readBytes reads length bytes into a new slice that the caller owns.
func (e *streamReader) readBytes(length int64) ([]byte, error) {
	switch {
	case length < 0:
		return nil, newInvalidFormatErrorf("negative length")
	case length > maxChunkSize:
		return nil, newInvalidFormatErrorf("length %d exceeds max %d", length, maxChunkSize)
	}
	b := make([]byte, length)
	if _, err := io.ReadFull(e.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// readBytesVolatileE reads n bytes into the shared buffer.
// The result is only valid until the next read.
func (e *streamReader) readBytesVolatileE(n int) ([]byte, error) {
	if n > cap(e.buf) {
		e.buf = make([]byte, n)
	}
	n2, err := io.ReadFull(e.r, e.buf[:n])
	if err != nil {
		return nil, err
	}
	if n != n2 {
		return nil, errShortRead
	}
	return e.buf[:n], nil
}

func (e *streamReader) readN(n int) []byte {
	b, err := e.readBytesVolatileE(n)
	if err != nil {
		e.stop(err)
		// Swallowed EOF.
		return make([]byte, n)
	}
	return b
}

func (e *streamReader) read1() uint8 {
	return e.readN(1)[0]
}

func (e *streamReader) read2() uint16 {
	return e.byteOrder.Uint16(e.readN(2))
}

func (e *streamReader) read4() uint32 {
	return e.byteOrder.Uint32(e.readN(4))
}

func (e *streamReader) pos() int64 {
	n, _ := e.r.Seek(0, io.SeekCurrent)
	return n
}

// size returns the total size of the stream, preserving the current position.
func (e *streamReader) size() int64 {
	cur := e.pos()
	n, err := e.r.Seek(0, io.SeekEnd)
	if err != nil {
		e.stop(err)
	}
	e.seek(cur)
	return n
}

func (e *streamReader) seek(pos int64) {
	if _, err := e.r.Seek(pos, io.SeekStart); err != nil {
		e.stop(err)
	}
}

func (e *streamReader) skip(n int64) {
	e.r.Seek(n, io.SeekCurrent)
}

func (e *streamReader) stop(err error) {
	if err == io.EOF && !e.isEOF {
		e.isEOF = true
		return
	}
	if err != nil {
		e.readErr = err
	}
	panic(errStop)
}
