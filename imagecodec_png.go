// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// chunkType is a PNG chunk type, the big-endian value of its four ASCII bytes.
type chunkType uint32

const (
	chunkIHDR chunkType = 0x49484452
	chunkIEND chunkType = 0x49454e44
	chunkTEXt chunkType = 0x74455874
	chunkITXt chunkType = 0x69545874
	chunkZTXt chunkType = 0x7a545874
	chunkEXIf chunkType = 0x65584966
)

func (t chunkType) fourCC() [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(t))
	return b
}

func (t chunkType) String() string {
	b := t.fourCC()
	return string(b[:])
}

func (t chunkType) isText() bool {
	return t == chunkTEXt || t == chunkITXt || t == chunkZTXt
}

const (
	pngChunkOverhead = 12 // length, type, CRC
	zTXtPresent      = "[zTXt chunk present]"
	parametersKey    = "parameters"
)

type pngChunk struct {
	typ    chunkType
	length uint32
	data   []byte
	crc    uint32

	// Offset of the chunk's length field in the stream.
	offset int64
}

// appendTo appends the chunk as stored, with its original CRC.
func (c pngChunk) appendTo(b []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(c.data)))
	b = binary.BigEndian.AppendUint32(b, uint32(c.typ))
	b = append(b, c.data...)
	return binary.BigEndian.AppendUint32(b, c.crc)
}

func newTextChunk(keyword, text string) pngChunk {
	data := make([]byte, 0, len(keyword)+1+len(text))
	data = append(data, keyword...)
	data = append(data, 0)
	data = append(data, text...)
	return pngChunk{typ: chunkTEXt, data: data, crc: chunkCRC(chunkTEXt, data)}
}

var errNotPNG = errors.New("invalid PNG signature")

// pngWalker walks the chunks of a PNG stream.
type pngWalker struct {
	*streamReader
}

// walk calls fn for each chunk after the signature, up to and including IEND.
// Chunk data is only read for types accepted by load; other chunks are passed
// to fn without data. Walking stops early, without error, on a chunk whose
// declared length overruns the stream.
func (w pngWalker) walk(load func(chunkType) bool, fn func(pngChunk) error) error {
	sig, err := w.readBytesVolatileE(len(magicPNG))
	if err != nil || !bytes.Equal(sig, magicPNG) {
		return errNotPNG
	}
	size := w.size()

	for {
		length := w.read4()
		if w.isEOF {
			return nil
		}
		typ := chunkType(w.read4())
		if w.isEOF {
			return nil
		}
		remaining := size - w.pos()
		if int64(length)+4 > remaining {
			return nil
		}

		c := pngChunk{typ: typ, length: length, offset: w.pos() - 8}
		if load(typ) {
			if c.data, err = w.readBytes(int64(length)); err != nil {
				return err
			}
		} else {
			w.skip(int64(length))
		}
		c.crc = w.read4()

		if err := fn(c); err != nil {
			return err
		}
		if typ == chunkIEND {
			return nil
		}
	}
}

type imageDecoderPNG struct {
	*baseDecoder
}

func (e *imageDecoderPNG) decode() error {
	load := func(t chunkType) bool {
		return t == chunkTEXt || t == chunkITXt || t == chunkEXIf
	}
	err := pngWalker{e.streamReader}.walk(load, func(c pngChunk) error {
		switch c.typ {
		case chunkTEXt:
			e.handleText(c.data)
		case chunkITXt:
			e.handleInternationalText(c.data)
		case chunkZTXt:
			e.rec.appendRaw("zTXt", zTXtPresent)
		case chunkEXIf:
			if err := decodeEXIF(c.data, e.rec); err != nil {
				e.opts.Warnf("png: eXIf: %s", err)
			}
		}
		return nil
	})
	if err == errNotPNG {
		// Tolerated; the file only looked like a PNG.
		e.opts.Warnf("png: %s", err)
		return nil
	}
	return err
}

func (e *imageDecoderPNG) handleText(data []byte) {
	var key, value string
	if k, v, found := bytes.Cut(data, []byte{0}); found {
		key, value = decodeText(k), decodeText(v)
	} else {
		txt := decodeText(data)
		k, v, found := strings.Cut(txt, ":")
		if !found {
			e.rec.appendRaw("text", txt)
			e.rec.ingestText("text", txt)
			return
		}
		key, value = strings.TrimSpace(k), strings.TrimSpace(v)
	}
	e.rec.appendRaw(key, value)
	e.rec.ingestText(key, value)
}

// handleInternationalText treats everything after the keyword's NUL as the value,
// less the leading NULs of empty sub-fields. The compression flag, language tag
// and translated keyword are not parsed out.
func (e *imageDecoderPNG) handleInternationalText(data []byte) {
	k, v, _ := bytes.Cut(data, []byte{0})
	key := decodeText(k)
	if key == "" {
		key = "iTXt"
	}
	value := decodeText(bytes.TrimLeft(v, "\x00"))
	e.rec.appendRaw(key, value)
	e.rec.ingestText(key, value)
}

// pngWriteOptions configures writePNG.
type pngWriteOptions struct {
	// RetainText keeps existing text chunks, except those with the
	// "parameters" keyword that the new chunk replaces.
	RetainText bool
}

// writePNG returns a copy of src with the parameter string stored in a new
// tEXt chunk keyed "parameters" immediately before IEND. Text chunks are
// dropped unless retained; every other chunk is copied as is.
func writePNG(src []byte, parameters string, opts pngWriteOptions) ([]byte, error) {
	var (
		out     = make([]byte, 0, len(src)+len(parameters)+64)
		sawIEND bool
	)
	out = append(out, magicPNG...)

	r := newStreamReader(bytes.NewReader(src), binary.BigEndian)
	walk := func() (err error) {
		defer func() {
			if err2 := errFromRecover(recover()); err2 != nil {
				err = err2
			}
		}()
		load := func(t chunkType) bool {
			return t == chunkTEXt || t == chunkITXt
		}
		return pngWalker{r}.walk(load, func(c pngChunk) error {
			if c.typ.isText() && !(opts.RetainText && !isParametersChunk(c)) {
				return nil
			}
			if c.typ == chunkIEND {
				out = newTextChunk(parametersKey, parameters).appendTo(out)
				sawIEND = true
			}
			end := c.offset + pngChunkOverhead + int64(c.length)
			out = append(out, src[c.offset:end]...)
			return nil
		})
	}

	err := walk()
	if err == errStop {
		err = r.readErr
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("png: %w", err)
	}
	if !sawIEND {
		return nil, errors.New("png: missing IEND chunk")
	}
	return out, nil
}

func isParametersChunk(c pngChunk) bool {
	if c.typ != chunkTEXt && c.typ != chunkITXt {
		return false
	}
	k, _, _ := bytes.Cut(c.data, []byte{0})
	return string(k) == parametersKey
}
