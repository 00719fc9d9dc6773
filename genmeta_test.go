// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta_test

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bep/genmeta"
	"github.com/bep/genmeta/internal/testutil"

	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const aCat = "a cat\nNegative prompt: blurry\nSteps: 20, Sampler: Euler, CFG scale: 7, Seed: 42"

var eq = qt.CmpEquals(
	cmpopts.EquateEmpty(),
)

func decode(c *qt.C, b []byte, filename string) *genmeta.Record {
	c.Helper()
	rec, err := genmeta.Decode(genmeta.Options{
		R:        bytes.NewReader(b),
		Filename: filename,
		Warnf: func(format string, args ...any) {
			c.Logf(format, args...)
		},
	})
	c.Assert(err, qt.IsNil)
	return rec
}

func TestDecodePNG(t *testing.T) {
	c := qt.New(t)

	c.Run("A1111 parameters", func(c *qt.C) {
		rec := decode(c, testutil.PNG(testutil.TEXt("parameters", aCat)), "cat.png")

		c.Assert(rec.Format, qt.Equals, genmeta.PNG)
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.Negative, qt.Equals, "blurry")
		c.Assert(rec.Parameters, qt.DeepEquals, []string{"Steps: 20", "Sampler: Euler", "CFG scale: 7", "Seed: 42"})
		c.Assert(rec.ParametersMap, qt.DeepEquals, map[string]string{
			"Steps":     "20",
			"Sampler":   "Euler",
			"CFG scale": "7",
			"Seed":      "42",
		})
		c.Assert(rec.Raw["parameters"], qt.Equals, aCat)
	})

	c.Run("Sniffed", func(c *qt.C) {
		rec := decode(c, testutil.PNG(testutil.TEXt("parameters", aCat)), "")
		c.Assert(rec.Format, qt.Equals, genmeta.PNG)
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("iTXt", func(c *qt.C) {
		rec := decode(c, testutil.PNG(testutil.ITXt("parameters", aCat)), "cat.png")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.ParametersMap["Seed"], qt.Equals, "42")
	})

	c.Run("zTXt", func(c *qt.C) {
		rec := decode(c, testutil.PNG(testutil.ZTXt("parameters", aCat)), "cat.png")
		c.Assert(rec.Prompt, qt.Equals, "")
		c.Assert(rec.Raw["zTXt"], qt.Equals, "[zTXt chunk present]")
	})

	c.Run("Prompt and comfy keys", func(c *qt.C) {
		rec := decode(c, testutil.PNG(
			testutil.TEXt("prompt", "a dog"),
			testutil.TEXt("comfyui", `{"nodes": [{"id": 3}]}`),
			testutil.TEXt("Software", "some tool"),
		), "dog.png")
		c.Assert(rec.Prompt, qt.Equals, "a dog")
		c.Assert(rec.Comfy["nodes"], qt.Not(qt.IsNil))
		c.Assert(rec.Raw["Software"], qt.Equals, "some tool")
	})

	c.Run("Invalid comfy JSON", func(c *qt.C) {
		rec := decode(c, testutil.PNG(testutil.TEXt("comfyui", `{"nodes": [`)), "dog.png")
		c.Assert(rec.Comfy, qt.IsNil)
		c.Assert(rec.Raw["comfyui"], qt.Equals, `{"nodes": [`)
	})

	c.Run("XMP text", func(c *qt.C) {
		rec := decode(c, testutil.PNG(testutil.ITXt("XML:com.adobe.xmp", testutil.XMP(aCat))), "cat.png")
		c.Assert(rec.XMP, qt.Contains, "<x:xmpmeta")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("Text without NUL", func(c *qt.C) {
		rec := decode(c, testutil.PNG(rawChunk("tEXt", "Comment: hello")), "x.png")
		c.Assert(rec.Raw["Comment"], qt.Equals, "hello")
	})

	c.Run("Latin-1", func(c *qt.C) {
		rec := decode(c, testutil.PNG(rawChunk("tEXt", "Author\x00caf\xe9")), "x.png")
		c.Assert(rec.Raw["Author"], qt.Equals, "café")
	})

	c.Run("eXIf", func(c *qt.C) {
		exif := testutil.EXIF(binary.LittleEndian, "", testutil.UserCommentASCII(aCat))
		rec := decode(c, testutil.PNG(testutil.PNGChunk{Type: "eXIf", Data: exif[6:]}), "x.png")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.Raw["UserComment"], qt.Equals, aCat)
	})

	c.Run("Truncated", func(c *qt.C) {
		b := testutil.PNG(testutil.TEXt("parameters", aCat))
		rec := decode(c, b[:len(b)-20], "cat.png")
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("Not a PNG", func(c *qt.C) {
		rec := decode(c, []byte("this is not a PNG file at all"), "cat.png")
		c.Assert(rec.Format, qt.Equals, genmeta.PNG)
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Prompt, qt.Equals, "")
		c.Assert(rec.Parameters, qt.HasLen, 0)
	})
}

func rawChunk(typ, data string) testutil.PNGChunk {
	return testutil.PNGChunk{Type: typ, Data: []byte(data)}
}

type pngChunk struct {
	typ  string
	data []byte
	crc  uint32
}

func pngChunks(c *qt.C, b []byte) []pngChunk {
	c.Helper()
	c.Assert(len(b) > 8, qt.IsTrue)
	b = b[8:]
	var chunks []pngChunk
	for len(b) >= 12 {
		n := binary.BigEndian.Uint32(b)
		chunks = append(chunks, pngChunk{
			typ:  string(b[4:8]),
			data: b[8 : 8+n],
			crc:  binary.BigEndian.Uint32(b[8+n:]),
		})
		b = b[12+n:]
	}
	c.Assert(b, qt.HasLen, 0)
	return chunks
}

func TestEditPNG(t *testing.T) {
	c := qt.New(t)

	src := testutil.PNG(
		testutil.TEXt("parameters", aCat),
		testutil.TEXt("Software", "some tool"),
		testutil.ZTXt("Comment", "compressed"),
		testutil.PNGChunk{Type: "gAMA", Data: []byte{0, 0, 0xb1, 0x8f}},
	)
	orig := bytes.Clone(src)

	rec := decode(c, src, "cat.png")
	rec.SetPrompt("a dog")
	rec.SetParameter("Steps", "30")

	c.Run("Round trip", func(c *qt.C) {
		out, err := genmeta.Edit(src, rec, genmeta.EditOptions{})
		c.Assert(err, qt.IsNil)
		c.Assert(src, qt.DeepEquals, orig)

		want := "a dog\nNegative prompt: blurry\nSteps: 30, Sampler: Euler, CFG scale: 7, Seed: 42"
		c.Assert(rec.ParameterString(), qt.Equals, want)

		got := decode(c, out, "cat_edited.png")
		c.Assert(got.Raw["parameters"], qt.Equals, want)
		c.Assert(got.Prompt, qt.Equals, "a dog")
		c.Assert(got.ParametersMap["Steps"], qt.Equals, "30")
		c.Assert(got.Raw["Software"], qt.Equals, "")

		var (
			srcChunks = pngChunks(c, src)
			outChunks = pngChunks(c, out)
			nonText   = func(chunks []pngChunk) []pngChunk {
				var res []pngChunk
				for _, ch := range chunks {
					if ch.typ != "tEXt" && ch.typ != "iTXt" && ch.typ != "zTXt" {
						res = append(res, ch)
					}
				}
				return res
			}
		)
		c.Assert(nonText(outChunks), qt.CmpEquals(cmp.AllowUnexported(pngChunk{})), nonText(srcChunks))

		// The new chunk sits right before IEND.
		text := outChunks[len(outChunks)-2]
		c.Assert(text.typ, qt.Equals, "tEXt")
		c.Assert(string(text.data), qt.Equals, "parameters\x00"+want)
		c.Assert(text.crc, qt.Equals, genmeta.CRC32(append([]byte("tEXt"), text.data...)))
		c.Assert(outChunks[len(outChunks)-1].typ, qt.Equals, "IEND")
	})

	c.Run("Retain text", func(c *qt.C) {
		out, err := genmeta.Edit(src, rec, genmeta.EditOptions{RetainText: true})
		c.Assert(err, qt.IsNil)
		got := decode(c, out, "cat_edited.png")
		c.Assert(got.Raw["Software"], qt.Equals, "some tool")
		c.Assert(got.Raw["zTXt"], qt.Equals, "[zTXt chunk present]")
		c.Assert(got.Raw["parameters"], qt.Equals, rec.ParameterString())
	})

	c.Run("Missing IEND", func(c *qt.C) {
		b := testutil.PNG()
		_, err := genmeta.Edit(b[:len(b)-12], rec, genmeta.EditOptions{})
		c.Assert(err, qt.ErrorMatches, ".*IEND.*")
	})
}

func TestCRC32(t *testing.T) {
	c := qt.New(t)

	c.Assert(genmeta.CRC32([]byte("123456789")), qt.Equals, uint32(0xcbf43926))
	c.Assert(genmeta.CRC32([]byte("IEND")), qt.Equals, uint32(0xae426082))
	c.Assert(genmeta.CRC32(nil), qt.Equals, uint32(0))
}

func TestDecodeJPEG(t *testing.T) {
	c := qt.New(t)

	c.Run("EXIF UserComment", func(c *qt.C) {
		for _, order := range []testutil.ByteOrder{binary.BigEndian, binary.LittleEndian} {
			c.Run(fmt.Sprint(order), func(c *qt.C) {
				exif := testutil.EXIF(order, "", testutil.UserCommentUnicode(aCat, order))
				rec := decode(c, testutil.JPEG(testutil.APP1(exif)), "cat.jpg")
				c.Assert(rec.Error, qt.Equals, "")
				c.Assert(rec.Prompt, qt.Equals, "a cat")
				c.Assert(rec.Negative, qt.Equals, "blurry")
				c.Assert(rec.ParametersMap["CFG scale"], qt.Equals, "7")
				c.Assert(rec.Raw["UserComment"], qt.Equals, aCat)
			})
		}
	})

	c.Run("EXIF ImageDescription", func(c *qt.C) {
		exif := testutil.EXIF(binary.BigEndian, aCat, nil)
		rec := decode(c, testutil.JPEG(testutil.APP1(exif)), "cat.jpg")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.Raw["ImageDescription"], qt.Equals, aCat)
	})

	c.Run("XMP", func(c *qt.C) {
		rec := decode(c, testutil.JPEG(testutil.XMPSegment(testutil.XMP(aCat))), "cat.jpg")
		c.Assert(rec.XMP, qt.Contains, "</x:xmpmeta>")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.ParametersMap["Seed"], qt.Equals, "42")
	})

	c.Run("XMP parameters element", func(c *qt.C) {
		packet := `<x:xmpmeta xmlns:x="adobe:ns:meta/"><parameters>` + aCat + `</parameters></x:xmpmeta>`
		rec := decode(c, testutil.JPEG(testutil.Segment(0xfe, []byte(packet))), "cat.jpg")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("XMP attribute", func(c *qt.C) {
		packet := `<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">` +
			`<rdf:Description xmlns:sd="http://example.com/sd/" sd:parameters="a cat&#xA;Negative prompt: blurry&#xA;Steps: 20, Seed: 42"/>` +
			`</rdf:RDF></x:xmpmeta>`
		rec := decode(c, testutil.JPEG(testutil.XMPSegment(packet)), "cat.jpg")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.Negative, qt.Equals, "blurry")
	})

	c.Run("EXIF before XMP", func(c *qt.C) {
		exif := testutil.EXIF(binary.BigEndian, "", testutil.UserCommentASCII("from exif\nSteps: 1"))
		rec := decode(c, testutil.JPEG(
			testutil.XMPSegment(testutil.XMP("from xmp\nNegative prompt: xmp negative\nSteps: 2")),
			testutil.APP1(exif),
		), "cat.jpg")
		c.Assert(rec.Prompt, qt.Equals, "from exif")
		c.Assert(rec.Negative, qt.Equals, "xmp negative")
	})

	c.Run("Invalid marker", func(c *qt.C) {
		b := testutil.JPEG(testutil.APP1([]byte("Exif\x00\x00")))
		b = append(b[:2], append([]byte{0x00, 0x01}, b[2:]...)...)
		rec := decode(c, b, "cat.jpg")
		c.Assert(rec.Error, qt.Contains, "expected marker")
	})

	c.Run("Truncated", func(c *qt.C) {
		// Ends right after an APP1 marker.
		b := []byte{0xff, 0xd8, 0xff, 0xfe, 0x00, 0x04, 'h', 'i', 0xff, 0xe1}
		rec := decode(c, b, "cat.jpg")
		c.Assert(rec.Error, qt.Equals, "")

		// Ends inside the EXIF segment.
		app1 := testutil.APP1(testutil.EXIF(binary.BigEndian, "", testutil.UserCommentASCII(aCat)))
		b = append([]byte{0xff, 0xd8}, testutil.XMPSegment(testutil.XMP(aCat))...)
		b = append(b, app1[:len(app1)/2]...)
		rec = decode(c, b, "cat.jpg")
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("Missing SOI", func(c *qt.C) {
		rec := decode(c, []byte("not a jpeg"), "cat.jpg")
		c.Assert(rec.Error, qt.Not(qt.Equals), "")
	})
}

func TestEditJPEG(t *testing.T) {
	c := qt.New(t)

	edit := func(c *qt.C, src []byte) (*genmeta.Record, []byte) {
		c.Helper()
		orig := bytes.Clone(src)
		rec := decode(c, src, "cat.jpg")
		rec.SetPrompt("a cat")
		rec.SetNegative("blurry")
		rec.SetParameters([]string{"Steps: 20", "Sampler: Euler", "CFG scale: 7", "Seed: 42"})
		out, err := genmeta.Edit(src, rec, genmeta.EditOptions{})
		c.Assert(err, qt.IsNil)
		c.Assert(src, qt.DeepEquals, orig)

		got := decode(c, out, "cat_edited.jpg")
		c.Assert(got.Error, qt.Equals, "")
		c.Assert(got.Raw["UserComment"], qt.Equals, aCat)
		c.Assert(got.Prompt, qt.Equals, "a cat")
		c.Assert(got.Negative, qt.Equals, "blurry")
		return got, out
	}

	c.Run("No EXIF", func(c *qt.C) {
		src := testutil.JPEG()
		_, out := edit(c, src)
		c.Assert(out[:4], qt.DeepEquals, []byte{0xff, 0xd8, 0xff, 0xe1})
		c.Assert(bytes.HasSuffix(out, src[2:]), qt.IsTrue)
	})

	c.Run("EXIF without Exif IFD", func(c *qt.C) {
		exif := testutil.EXIF(binary.LittleEndian, "a photo", nil)
		got, _ := edit(c, testutil.JPEG(testutil.APP1(exif)))
		c.Assert(got.Raw["ImageDescription"], qt.Equals, "a photo")
	})

	c.Run("EXIF with UserComment", func(c *qt.C) {
		for _, order := range []testutil.ByteOrder{binary.BigEndian, binary.LittleEndian} {
			c.Run(fmt.Sprint(order), func(c *qt.C) {
				exif := testutil.EXIF(order, "a photo", testutil.UserCommentASCII("old comment"))
				src := testutil.JPEG(testutil.APP1(exif), testutil.XMPSegment(testutil.XMP("old")))
				got, out := edit(c, src)
				c.Assert(got.Raw["ImageDescription"], qt.Equals, "a photo")
				// Segments after the EXIF segment are untouched.
				c.Assert(bytes.HasSuffix(out, src[2+len(testutil.APP1(exif)):]), qt.IsTrue)
			})
		}
	})

	c.Run("Edit twice", func(c *qt.C) {
		_, once := edit(c, testutil.JPEG())
		edit(c, once)
	})

	c.Run("Invalid marker", func(c *qt.C) {
		b := testutil.JPEG()
		b = append(b[:2], append([]byte{0x12, 0x34}, b[2:]...)...)
		_, err := genmeta.Edit(b, &genmeta.Record{Format: genmeta.JPEG}, genmeta.EditOptions{})
		c.Assert(err, qt.IsNotNil)
		c.Assert(genmeta.IsInvalidFormat(err), qt.IsTrue)
	})
}

func TestDecodeWebP(t *testing.T) {
	c := qt.New(t)

	c.Run("XMP chunk", func(c *qt.C) {
		b := testutil.WebP(testutil.RIFFChunk{FourCC: "XMP ", Data: []byte(testutil.XMP(aCat))})
		rec := decode(c, b, "cat.webp")
		c.Assert(rec.Format, qt.Equals, genmeta.WebP)
		c.Assert(rec.Prompt, qt.Equals, "a cat")
		c.Assert(rec.ParametersMap["Sampler"], qt.Equals, "Euler")
		c.Assert(rec.Raw["xmp"], qt.Contains, "<x:xmpmeta")
	})

	c.Run("EXIF chunk", func(c *qt.C) {
		exif := testutil.EXIF(binary.LittleEndian, "", testutil.UserCommentASCII(aCat))
		rec := decode(c, testutil.WebP(testutil.RIFFChunk{FourCC: "EXIF", Data: exif}), "cat.webp")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("Loose parameters", func(c *qt.C) {
		line := "a very detailed cat sitting on a mat in the sun, Steps: 5, Sampler: Euler"
		b := testutil.WebP(testutil.RIFFChunk{FourCC: "ZZZZ", Data: []byte("parameters: " + line + "\n")})
		rec := decode(c, b, "")
		c.Assert(rec.Format, qt.Equals, genmeta.WebP)
		c.Assert(rec.Raw["parameters"], qt.Equals, line)
		c.Assert(rec.ParametersMap["Steps"], qt.Equals, "5")
	})

	c.Run("Loose parameters capped", func(c *qt.C) {
		line := "Steps: 5, " + strings.Repeat("x", 3000)
		b := testutil.WebP(testutil.RIFFChunk{FourCC: "ZZZZ", Data: []byte("parameters=" + line + "\n")})
		rec := decode(c, b, "cat.webp")
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Raw["parameters"], qt.HasLen, 2000)
		c.Assert(rec.ParametersMap["Steps"], qt.Equals, "5")
	})

	c.Run("Loose parameters too short", func(c *qt.C) {
		b := testutil.WebP(testutil.RIFFChunk{FourCC: "ZZZZ", Data: []byte("parameters: short\n")})
		rec := decode(c, b, "cat.webp")
		c.Assert(rec.Raw["parameters"], qt.Equals, "")
	})

	c.Run("Broken RIFF", func(c *qt.C) {
		b := append([]byte("RIFF\xff\xff\xff\x7fWEBP"), testutil.XMP(aCat)...)
		rec := decode(c, b, "cat.webp")
		c.Assert(rec.Prompt, qt.Equals, "a cat")
	})

	c.Run("Edit unsupported", func(c *qt.C) {
		b := testutil.WebP()
		orig := bytes.Clone(b)
		rec := decode(c, b, "cat.webp")
		out, err := genmeta.Edit(b, rec, genmeta.EditOptions{})
		c.Assert(errors.Is(err, genmeta.ErrUnsupportedWrite), qt.IsTrue)
		c.Assert(out, qt.IsNil)
		c.Assert(b, qt.DeepEquals, orig)
	})
}

func TestDecodeSafeTensors(t *testing.T) {
	c := qt.New(t)

	c.Run("Metadata", func(c *qt.C) {
		b := testutil.SafeTensors(testutil.LoRAHeader(map[string]string{
			"ss_output_name": "mylora",
			"ss_num_epochs":  "10",
		}), 2)
		rec := decode(c, b, "mylora.safetensors")
		c.Assert(rec.Format, qt.Equals, genmeta.SafeTensors)
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Parameters, qt.DeepEquals, []string{`ss_num_epochs: "10"`, `ss_output_name: "mylora"`})
		c.Assert(rec.LoraMetadata.Len(), qt.Equals, 2)
		v, _ := rec.LoraMetadata.Get("ss_output_name")
		c.Assert(v, qt.Equals, "mylora")
		c.Assert(rec.Raw["tensor_count"], qt.Equals, "1")
	})

	c.Run("Double encoded", func(c *qt.C) {
		b := testutil.SafeTensors(map[string]any{
			"__metadata__": `{"b": 1, "a": {"x": "<y>"}}`,
		}, 0)
		rec := decode(c, b, "x.safetensors")
		c.Assert(rec.Parameters, qt.DeepEquals, []string{"b: 1", `a: {"x":"<y>"}`})
		pair := rec.LoraMetadata.Oldest()
		c.Assert(pair.Key, qt.Equals, "b")
	})

	c.Run("Nested key order", func(c *qt.C) {
		body := []byte(`{"__metadata__": {"ss_x": {"zeta": 1, "alpha": [2, {"b": 3, "a": 4}]}}}`)
		rec := decode(c, testutil.SafeTensorsRaw(uint64(len(body)), body), "x.safetensors")
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.Parameters, qt.DeepEquals, []string{`ss_x: {"zeta":1,"alpha":[2,{"b":3,"a":4}]}`})
	})

	c.Run("Invalid metadata", func(c *qt.C) {
		b := testutil.SafeTensors(map[string]any{"__metadata__": "not json"}, 0)
		rec := decode(c, b, "x.safetensors")
		c.Assert(rec.Error, qt.Equals, "")
		c.Assert(rec.LoraMetadata, qt.IsNil)
		c.Assert(rec.Raw["__metadata__"], qt.Equals, "not json")
	})

	c.Run("Header beyond EOF", func(c *qt.C) {
		rec := decode(c, testutil.SafeTensorsRaw(1000, []byte(`{"__metadata__": {"a": "b"}}`)), "x.safetensors")
		c.Assert(rec.Error, qt.Contains, "exceeds file size")
		c.Assert(rec.Parameters, qt.HasLen, 0)
		c.Assert(rec.LoraMetadata, qt.IsNil)
	})

	c.Run("Too short", func(c *qt.C) {
		rec := decode(c, []byte{1, 2, 3}, "x.safetensors")
		c.Assert(rec.Error, qt.Not(qt.Equals), "")
		c.Assert(rec.Parameters, qt.HasLen, 0)
	})

	c.Run("Invalid JSON", func(c *qt.C) {
		body := []byte("{not json")
		rec := decode(c, testutil.SafeTensorsRaw(uint64(len(body)), body), "x.safetensors")
		c.Assert(rec.Error, qt.Not(qt.Equals), "")
	})

	c.Run("Edit unsupported", func(c *qt.C) {
		_, err := genmeta.Edit([]byte{}, &genmeta.Record{Format: genmeta.SafeTensors}, genmeta.EditOptions{})
		c.Assert(errors.Is(err, genmeta.ErrUnsupportedWrite), qt.IsTrue)
	})
}

func TestDecodeErrors(t *testing.T) {
	c := qt.New(t)

	_, err := genmeta.Decode(genmeta.Options{})
	c.Assert(err, qt.ErrorMatches, "no reader provided")

	_, err = genmeta.DecodeBytes([]byte("hello world, what is this?"), "")
	c.Assert(err, qt.Equals, genmeta.ErrUnknownFormat)
}

func TestRecordJSON(t *testing.T) {
	c := qt.New(t)

	rec := decode(c, testutil.PNG(testutil.TEXt("parameters", aCat)), "cat.png")
	b, err := json.Marshal(rec)
	c.Assert(err, qt.IsNil)

	var m map[string]any
	c.Assert(json.Unmarshal(b, &m), qt.IsNil)
	c.Assert(m["format"], qt.Equals, "png")
	c.Assert(m["prompt"], qt.Equals, "a cat")
	c.Assert(m["negative"], qt.Equals, "blurry")
	c.Assert(m["parametersMap"], qt.DeepEquals, map[string]any{
		"Steps": "20", "Sampler": "Euler", "CFG scale": "7", "Seed": "42",
	})

	var rec2 genmeta.Record
	c.Assert(json.Unmarshal(b, &rec2), qt.IsNil)
	c.Assert(&rec2, eq, rec)
}

func TestFormat(t *testing.T) {
	c := qt.New(t)

	c.Assert(genmeta.PNG.String(), qt.Equals, "png")
	c.Assert(genmeta.Format(42).String(), qt.Equals, "Format(42)")
	c.Assert(genmeta.JPEG.Writable(), qt.IsTrue)
	c.Assert(genmeta.WebP.Writable(), qt.IsFalse)
	c.Assert(genmeta.WebP.MIMEType(), qt.Equals, "image/webp")

	var f genmeta.Format
	c.Assert(f.UnmarshalText([]byte("JPG")), qt.IsNil)
	c.Assert(f, qt.Equals, genmeta.JPEG)
	c.Assert(f.UnmarshalText([]byte("gif")), qt.IsNotNil)
}

func TestDetectFormat(t *testing.T) {
	c := qt.New(t)

	png := testutil.PNG()
	jpg := testutil.JPEG()
	webp := testutil.WebP()

	for _, test := range []struct {
		mime, filename string
		head           []byte
		want           genmeta.Format
	}{
		{"image/png", "x.jpg", jpg, genmeta.PNG},
		{"image/jpeg; charset=binary", "", nil, genmeta.JPEG},
		{"", "Model.SafeTensors", nil, genmeta.SafeTensors},
		{"", "x.JPEG", nil, genmeta.JPEG},
		{"application/octet-stream", "x.bin", png, genmeta.PNG},
		{"", "", jpg, genmeta.JPEG},
		{"", "", webp, genmeta.WebP},
		{"", "", []byte("RIFF\x00\x00\x00\x00WAVE"), genmeta.FormatAuto},
		{"", "", nil, genmeta.FormatAuto},
	} {
		c.Assert(genmeta.DetectFormat(test.mime, test.filename, test.head), qt.Equals, test.want, qt.Commentf("%v", test))
	}

	c.Assert(genmeta.EditedFilename("photo.png"), qt.Equals, "photo_edited.png")
	c.Assert(genmeta.EditedFilename("dir/photo.v2.jpeg"), qt.Equals, "dir/photo.v2_edited.jpeg")
	c.Assert(genmeta.EditedFilename("noext"), qt.Equals, "noext_edited")
}

func TestCache(t *testing.T) {
	c := qt.New(t)

	cache, err := genmeta.NewCache(2)
	c.Assert(err, qt.IsNil)

	b := testutil.PNG(testutil.TEXt("parameters", aCat))
	rec1, err := cache.Decode(genmeta.Options{R: bytes.NewReader(b), Filename: "a.png"})
	c.Assert(err, qt.IsNil)
	rec1.SetPrompt("changed")

	rec2, err := cache.Decode(genmeta.Options{R: bytes.NewReader(b), Filename: "b.png"})
	c.Assert(err, qt.IsNil)
	c.Assert(rec2.Prompt, qt.Equals, "a cat")
	c.Assert(cache.Len(), qt.Equals, 1)
	c.Assert(cache.Hits(), qt.Equals, uint64(1))

	_, err = cache.Decode(genmeta.Options{R: bytes.NewReader(testutil.JPEG()), Filename: "c.jpg"})
	c.Assert(err, qt.IsNil)
	c.Assert(cache.Len(), qt.Equals, 2)

	_, err = genmeta.NewCache(0)
	c.Assert(err, qt.IsNotNil)
}

func BenchmarkDecode(b *testing.B) {
	exif := testutil.EXIF(binary.BigEndian, "", testutil.UserCommentUnicode(aCat, binary.BigEndian))
	for _, test := range []struct {
		name     string
		filename string
		b        []byte
	}{
		{"PNG", "x.png", testutil.PNG(testutil.TEXt("parameters", aCat))},
		{"JPEG", "x.jpg", testutil.JPEG(testutil.APP1(exif), testutil.XMPSegment(testutil.XMP(aCat)))},
		{"WebP", "x.webp", testutil.WebP(testutil.RIFFChunk{FourCC: "XMP ", Data: []byte(testutil.XMP(aCat))})},
		{"SafeTensors", "x.safetensors", testutil.SafeTensors(testutil.LoRAHeader(map[string]string{"ss_output_name": "x"}), 64)},
	} {
		b.Run(test.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, err := genmeta.Decode(genmeta.Options{R: bytes.NewReader(test.b), Filename: test.filename})
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
