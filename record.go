// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"maps"
	"slices"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Record is the format-agnostic result of decoding a file's metadata.
//
// A Record's Format never changes after creation; edits only touch
// Prompt, Negative and Parameters (with ParametersMap kept in sync).
type Record struct {
	Format   Format `json:"format"`
	Prompt   string `json:"prompt,omitempty"`
	Negative string `json:"negative,omitempty"`

	// Parameters holds the raw "key: value" or bare tokens in order of appearance.
	// Duplicates are allowed.
	Parameters []string `json:"parameters"`

	// ParametersMap is derived from Parameters, see ParametersMap.
	ParametersMap map[string]string `json:"parametersMap"`

	// Raw holds the decoded text of container fields, keyed by
	// chunk keyword or tag name.
	Raw map[string]string `json:"raw"`

	// XMP is the raw XMP packet, if found.
	XMP string `json:"xmp,omitempty"`

	// Comfy is an embedded ComfyUI workflow/prompt graph.
	Comfy map[string]any `json:"comfy,omitempty"`

	// LoraMetadata is the __metadata__ object of a safetensors header, in key order.
	LoraMetadata *orderedmap.OrderedMap[string, any] `json:"loraMetadata,omitempty"`

	// Error is set when the container could not be fully parsed.
	// Other fields may then be partially populated and should not be treated as authoritative.
	Error string `json:"error,omitempty"`
}

func newRecord(f Format) *Record {
	return &Record{
		Format:        f,
		Parameters:    []string{},
		ParametersMap: map[string]string{},
		Raw:           map[string]string{},
	}
}

// SetPrompt sets the prompt.
func (r *Record) SetPrompt(s string) {
	r.Prompt = s
}

// SetNegative sets the negative prompt.
func (r *Record) SetNegative(s string) {
	r.Negative = s
}

// SetParameters replaces all parameter tokens.
func (r *Record) SetParameters(params []string) {
	r.Parameters = r.Parameters[:0]
	for _, p := range params {
		if p = strings.TrimSpace(p); p != "" {
			r.Parameters = append(r.Parameters, p)
		}
	}
	r.syncParametersMap()
}

// SetParameter sets key to value. Every token with that key is rewritten;
// if there is none, a new token is appended.
func (r *Record) SetParameter(key, value string) {
	key = collapseWhitespace(key)
	if key == "" {
		return
	}
	tok := key + ": " + strings.TrimSpace(value)
	found := false
	for i, p := range r.Parameters {
		if k, _, ok := splitParameter(p); ok && k == key {
			r.Parameters[i] = tok
			found = true
		}
	}
	if !found {
		r.Parameters = append(r.Parameters, tok)
	}
	r.syncParametersMap()
}

// RemoveParameter removes all tokens with the given key.
func (r *Record) RemoveParameter(key string) {
	key = collapseWhitespace(key)
	r.Parameters = slices.DeleteFunc(r.Parameters, func(p string) bool {
		k, _, ok := splitParameter(p)
		return ok && k == key
	})
	r.syncParametersMap()
}

// ParameterString serializes the editable fields as an A1111-style parameter blob:
// the prompt, an optional "Negative prompt:" line and the parameters joined by ", ".
func (r *Record) ParameterString() string {
	var sb strings.Builder
	sb.WriteString(r.Prompt)
	if r.Negative != "" {
		sb.WriteString("\nNegative prompt: ")
		sb.WriteString(r.Negative)
	}
	if len(r.Parameters) > 0 {
		sb.WriteString("\n")
		sb.WriteString(strings.Join(r.Parameters, ", "))
	}
	return sb.String()
}

// SettingsString serializes the parameters map as a comma-separated settings line,
// keys in order of first appearance.
func (r *Record) SettingsString() string {
	return SettingsString(r.Parameters)
}

// LoRAs returns the LoRA references found in the prompt and parameters.
func (r *Record) LoRAs() []string {
	return ExtractLoRAs(r.Prompt + "\n" + strings.Join(r.Parameters, "\n"))
}

// Checkpoint returns the checkpoint/model name, or an empty string.
func (r *Record) Checkpoint() string {
	return Checkpoint(r)
}

// Clone returns a copy of r that can be edited independently.
// Nested JSON values in Comfy and LoraMetadata are shared.
func (r *Record) Clone() *Record {
	c := *r
	c.Parameters = slices.Clone(r.Parameters)
	c.ParametersMap = maps.Clone(r.ParametersMap)
	c.Raw = maps.Clone(r.Raw)
	c.Comfy = maps.Clone(r.Comfy)
	if r.LoraMetadata != nil {
		c.LoraMetadata = orderedmap.New[string, any]()
		for pair := r.LoraMetadata.Oldest(); pair != nil; pair = pair.Next() {
			c.LoraMetadata.Set(pair.Key, pair.Value)
		}
	}
	return &c
}

func (r *Record) syncParametersMap() {
	r.ParametersMap = ParametersMap(r.Parameters)
}

func (r *Record) setPromptIfUnset(s string) {
	if r.Prompt == "" {
		r.Prompt = s
	}
}

func (r *Record) setNegativeIfUnset(s string) {
	if r.Negative == "" {
		r.Negative = s
	}
}

// merge merges the result of parsing a parameter blob.
// Prompt and negative are first-writer-wins, tokens are appended.
func (r *Record) merge(p Parameters) {
	r.setPromptIfUnset(p.Prompt)
	r.setNegativeIfUnset(p.Negative)
	r.Parameters = append(r.Parameters, p.Settings...)
}

func (r *Record) appendRaw(key, value string) {
	r.Raw[key] += value
}
