// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"encoding/json"
	"strings"
)

// textKind classifies a decoded text field by its key and value.
type textKind int

const (
	textKindRaw textKind = iota
	textKindParameters
	textKindPrompt
	textKindComfy
	textKindXMP
)

func classifyText(key, value string) textKind {
	lk := strings.ToLower(key)
	switch {
	case strings.Contains(lk, "parameter"):
		return textKindParameters
	case strings.Contains(lk, "prompt") && value != "":
		return textKindPrompt
	case strings.Contains(lk, "comfy") && strings.HasPrefix(strings.TrimSpace(value), "{"):
		return textKindComfy
	case strings.Contains(lk, "xmp"), strings.Contains(lk, "xml"), strings.Contains(value, xmpPacketMarker):
		return textKindXMP
	default:
		return textKindRaw
	}
}

// ingestText routes a decoded key/value pair from any container into the record.
func (r *Record) ingestText(key, value string) {
	switch classifyText(key, value) {
	case textKindParameters:
		r.merge(ParseParameters(value))
	case textKindPrompt:
		r.setPromptIfUnset(value)
	case textKindComfy:
		var v map[string]any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			r.setRawIfUnset(key, value)
			return
		}
		r.Comfy = v
	case textKindXMP:
		r.XMP = value
		r.merge(ParseParameters(stripMarkup(value)))
	default:
		r.setRawIfUnset(key, value)
	}
}

func (r *Record) setRawIfUnset(key, value string) {
	if _, found := r.Raw[key]; !found {
		r.Raw[key] = value
	}
}
