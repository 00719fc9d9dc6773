// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	safeTensorsMetadataKey = "__metadata__"

	// maxSafeTensorsHeader is the largest JSON header we read.
	maxSafeTensorsHeader = 100 << 20
)

// modelDecoderSafeTensors reads the JSON header of a safetensors file.
// Only the 8-byte length prefix and the header itself are read.
type modelDecoderSafeTensors struct {
	*baseDecoder
}

func (e *modelDecoderSafeTensors) decode() error {
	size := e.size()

	b, err := e.readBytesVolatileE(8)
	if err != nil {
		return newInvalidFormatErrorf("safetensors: missing header length: %s", err)
	}
	n := binary.LittleEndian.Uint64(b)
	if n > uint64(size-8) {
		return newInvalidFormatErrorf("safetensors: header length %d exceeds file size %d", n, size)
	}
	if n > maxSafeTensorsHeader {
		return newInvalidFormatErrorf("safetensors: header length %d exceeds max %d", n, maxSafeTensorsHeader)
	}

	header := make([]byte, n)
	if _, err := io.ReadFull(e.r, header); err != nil {
		return newInvalidFormatErrorf("safetensors: reading header: %s", err)
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(header, &entries); err != nil {
		return newInvalidFormatErrorf("safetensors: decoding header: %s", err)
	}

	meta, found := entries[safeTensorsMetadataKey]
	delete(entries, safeTensorsMetadataKey)
	e.rec.Raw["tensor_count"] = strconv.Itoa(len(entries))

	if found {
		e.handleMetadata(meta)
	}
	return nil
}

func (e *modelDecoderSafeTensors) handleMetadata(raw json.RawMessage) {
	// Some writers store the object JSON-encoded as a string.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}

	om := orderedmap.New[string, any]()
	if err := json.Unmarshal(raw, om); err != nil {
		e.opts.Warnf("safetensors: %s: %s", safeTensorsMetadataKey, err)
		e.rec.Raw[safeTensorsMetadataKey] = string(raw)
		return
	}

	e.rec.LoraMetadata = om

	values := orderedmap.New[string, json.RawMessage]()
	if err := json.Unmarshal(raw, values); err != nil {
		e.opts.Warnf("safetensors: %s: %s", safeTensorsMetadataKey, err)
		return
	}
	for pair := values.Oldest(); pair != nil; pair = pair.Next() {
		v, err := metadataValue(pair.Value)
		if err != nil {
			e.opts.Warnf("safetensors: %s: %s", pair.Key, err)
			continue
		}
		e.rec.Parameters = append(e.rec.Parameters, pair.Key+": "+v)
	}
}

// metadataValue formats a metadata value as compact JSON,
// keeping the key order of nested objects.
func metadataValue(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return compactJSON(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// compactJSON encodes v without HTML escaping.
func compactJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
