// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package testutil builds small but valid PNG, JPEG, WEBP and safetensors
// files for tests.
package testutil

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"unicode/utf16"
)

// PNGChunk is a PNG chunk before serialization.
type PNGChunk struct {
	Type string
	Data []byte
}

// TEXt returns a tEXt chunk.
func TEXt(keyword, text string) PNGChunk {
	return PNGChunk{Type: "tEXt", Data: []byte(keyword + "\x00" + text)}
}

// ITXt returns an uncompressed iTXt chunk with empty language and translated keyword.
func ITXt(keyword, text string) PNGChunk {
	return PNGChunk{Type: "iTXt", Data: []byte(keyword + "\x00\x00\x00\x00\x00" + text)}
}

// ZTXt returns a zTXt chunk.
func ZTXt(keyword, text string) PNGChunk {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(text))
	w.Close()
	return PNGChunk{Type: "zTXt", Data: append([]byte(keyword+"\x00\x00"), buf.Bytes()...)}
}

// PNG returns a 1x1 RGB PNG with the given chunks between IHDR and IDAT.
func PNG(chunks ...PNGChunk) []byte {
	b := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], 1)
	binary.BigEndian.PutUint32(ihdr[4:], 1)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 2 // RGB
	b = AppendPNGChunk(b, PNGChunk{Type: "IHDR", Data: ihdr})

	for _, c := range chunks {
		b = AppendPNGChunk(b, c)
	}

	var idat bytes.Buffer
	w := zlib.NewWriter(&idat)
	w.Write([]byte{0, 0xff, 0x80, 0x00}) // filter type, one pixel
	w.Close()
	b = AppendPNGChunk(b, PNGChunk{Type: "IDAT", Data: idat.Bytes()})

	return AppendPNGChunk(b, PNGChunk{Type: "IEND"})
}

// AppendPNGChunk appends c with its length and CRC.
func AppendPNGChunk(b []byte, c PNGChunk) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(c.Data)))
	start := len(b)
	b = append(b, c.Type...)
	b = append(b, c.Data...)
	return binary.BigEndian.AppendUint32(b, crc32.ChecksumIEEE(b[start:]))
}

// JPEG returns a 1x1 baseline JPEG with the given segments inserted after SOI.
// See Segment.
func JPEG(segments ...[]byte) []byte {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, G: 128, A: 255})
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		panic(err)
	}
	src := buf.Bytes()

	b := append([]byte{}, src[:2]...)
	for _, s := range segments {
		b = append(b, s...)
	}
	return append(b, src[2:]...)
}

// Segment returns a JPEG marker segment.
func Segment(marker byte, payload []byte) []byte {
	b := []byte{0xff, marker}
	b = binary.BigEndian.AppendUint16(b, uint16(len(payload)+2))
	return append(b, payload...)
}

// APP1 returns an APP1 segment.
func APP1(payload []byte) []byte {
	return Segment(0xe1, payload)
}

// XMPSegment returns an APP1 segment holding the XMP packet.
func XMPSegment(packet string) []byte {
	return APP1(append([]byte("http://ns.adobe.com/xap/1.0/\x00"), packet...))
}

// XMP returns an XMP packet with the parameters as the rdf:Description content.
func XMP(parameters string) string {
	return `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
		`<rdf:Description rdf:about="">` + parameters + `</rdf:Description></rdf:RDF></x:xmpmeta>`
}

// ByteOrder is a byte order that can both read and append.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// EXIF returns an EXIF block ("Exif\0\0" followed by a TIFF structure) with an
// optional ImageDescription in IFD0 and, if userComment is not nil, an Exif IFD
// holding the UserComment.
func EXIF(order ByteOrder, description string, userComment []byte) []byte {
	type entry struct {
		tag, typ uint16
		data     []byte
	}
	var ifd0 []entry
	if description != "" {
		ifd0 = append(ifd0, entry{0x010e, 2, append([]byte(description), 0)})
	}
	hasExif := userComment != nil
	n0 := len(ifd0)
	if hasExif {
		n0++
	}
	exifOff := 8 + 2 + 12*n0 + 4
	dataOff := exifOff
	if hasExif {
		dataOff += 2 + 12 + 4
	}

	var b, data []byte
	if order == binary.BigEndian {
		b = []byte("MM")
	} else {
		b = []byte("II")
	}
	b = order.AppendUint16(b, 42)
	b = order.AppendUint32(b, 8)

	writeEntry := func(e entry) {
		b = order.AppendUint16(b, e.tag)
		b = order.AppendUint16(b, e.typ)
		b = order.AppendUint32(b, uint32(len(e.data)))
		if len(e.data) <= 4 {
			v := make([]byte, 4)
			copy(v, e.data)
			b = append(b, v...)
			return
		}
		b = order.AppendUint32(b, uint32(dataOff+len(data)))
		data = append(data, e.data...)
		if len(data)%2 != 0 {
			data = append(data, 0)
		}
	}

	b = order.AppendUint16(b, uint16(n0))
	for _, e := range ifd0 {
		writeEntry(e)
	}
	if hasExif {
		b = order.AppendUint16(b, 0x8769)
		b = order.AppendUint16(b, 4)
		b = order.AppendUint32(b, 1)
		b = order.AppendUint32(b, uint32(exifOff))
	}
	b = order.AppendUint32(b, 0)

	if hasExif {
		b = order.AppendUint16(b, 1)
		writeEntry(entry{0x9286, 7, userComment})
		b = order.AppendUint32(b, 0)
	}

	b = append(b, data...)
	return append([]byte("Exif\x00\x00"), b...)
}

// UserCommentASCII returns an ASCII encoded EXIF UserComment.
func UserCommentASCII(s string) []byte {
	return append([]byte("ASCII\x00\x00\x00"), s...)
}

// UserCommentUnicode returns a UNICODE encoded EXIF UserComment in the given byte order.
// Little endian comments start with a byte order mark.
func UserCommentUnicode(s string, order ByteOrder) []byte {
	b := []byte("UNICODE\x00")
	if order == binary.LittleEndian {
		b = order.AppendUint16(b, 0xfeff)
	}
	for _, u := range utf16.Encode([]rune(s)) {
		b = order.AppendUint16(b, u)
	}
	return b
}

// RIFFChunk is a WEBP chunk.
type RIFFChunk struct {
	FourCC string
	Data   []byte
}

// WebP returns a WEBP container with a small VP8L chunk followed by chunks.
// The image data is not decodable; only the container is valid.
func WebP(chunks ...RIFFChunk) []byte {
	chunks = append([]RIFFChunk{{FourCC: "VP8L", Data: []byte{0x2f, 0, 0, 0, 0x10, 0x07, 0x10, 0x11, 0x11, 0x88, 0x88, 0xfe, 0x07, 0}}}, chunks...)
	var body []byte
	body = append(body, "WEBP"...)
	for _, c := range chunks {
		body = append(body, c.FourCC...)
		body = binary.LittleEndian.AppendUint32(body, uint32(len(c.Data)))
		body = append(body, c.Data...)
		if len(c.Data)%2 != 0 {
			body = append(body, 0)
		}
	}
	b := []byte("RIFF")
	b = binary.LittleEndian.AppendUint32(b, uint32(len(body)))
	return append(b, body...)
}

// SafeTensors returns a safetensors file with header marshalled as JSON,
// followed by tensorBytes bytes of zeroed tensor data.
func SafeTensors(header any, tensorBytes int) []byte {
	h, err := json.Marshal(header)
	if err != nil {
		panic(err)
	}
	return SafeTensorsRaw(uint64(len(h)), append(h, make([]byte, tensorBytes)...))
}

// SafeTensorsRaw returns a safetensors file with the header length n and the rest as is.
func SafeTensorsRaw(n uint64, rest []byte) []byte {
	b := binary.LittleEndian.AppendUint64(nil, n)
	return append(b, rest...)
}

// LoRAHeader returns a safetensors header with one tensor and the given __metadata__.
func LoRAHeader(metadata map[string]string) map[string]any {
	return map[string]any{
		"__metadata__": metadata,
		"lora_unet_down_blocks_0_attentions_0_proj_in.alpha": map[string]any{
			"dtype":        "F16",
			"shape":        []int{},
			"data_offsets": []int{0, 2},
		},
	}
}
