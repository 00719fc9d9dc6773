// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"regexp"
	"strings"
)

var (
	// <lora:name:0.8>
	loraAngleRe = regexp.MustCompile(`(?i)<\s*lora\s*:\s*([^:>]+)(?:\s*:\s*([0-9.]+))?\s*>`)
	// lora: name:0.8
	loraLabelRe = regexp.MustCompile(`\b(?:lora|LORA)\s*:\s*([a-zA-Z0-9_\-/. ]+)(?:\s*:\s*([0-9.]+))?`)
	// <LoRA:anything>
	loraAnyRe = regexp.MustCompile(`(?i)<\s*LoRA\s*:\s*([^>]+)\s*>`)
	// name: 0123456789ab
	loraHashRe = regexp.MustCompile(`(?i)([a-zA-Z0-9_\-/.]+):\s*([a-f0-9]{12})`)
)

// ExtractLoRAs returns the LoRA references in text, deduplicated and in order of discovery.
// All pattern families are applied independently and their matches unioned.
func ExtractLoRAs(text string) []string {
	if text == "" {
		return nil
	}
	var (
		seen   = make(map[string]bool)
		result []string
	)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		result = append(result, s)
	}
	nameWeight := func(m []string) string {
		name := strings.TrimSpace(m[1])
		if w := strings.TrimSpace(m[2]); w != "" {
			return name + ":" + w
		}
		return name
	}

	for _, m := range loraAngleRe.FindAllStringSubmatch(text, -1) {
		add(nameWeight(m))
	}
	for _, m := range loraLabelRe.FindAllStringSubmatch(text, -1) {
		add(nameWeight(m))
	}
	for _, m := range loraAnyRe.FindAllStringSubmatch(text, -1) {
		add(strings.TrimSpace(m[1]))
	}
	for _, m := range loraHashRe.FindAllStringSubmatch(text, -1) {
		add(strings.TrimSpace(m[1]) + ": " + strings.TrimSpace(m[2]))
	}

	return result
}

// checkpointKeys are the parameter keys that may name the checkpoint, in priority order.
var checkpointKeys = []string{"Checkpoint", "Model", "sd_model_checkpoint", "Model hash", "checkpoint", "model"}

var (
	promptModelRe      = regexp.MustCompile(`(?i)Model:\s*([^\n,]+)`)
	promptCheckpointRe = regexp.MustCompile(`(?i)checkpoint:\s*([^\n,]+)`)
)

// Checkpoint returns the checkpoint/model name of r, or an empty string.
// The parameters map is checked before Raw, then any parameter token
// mentioning a model or checkpoint, then the prompt.
func Checkpoint(r *Record) string {
	for _, k := range checkpointKeys {
		if v := r.ParametersMap[k]; v != "" {
			return v
		}
	}
	for _, k := range checkpointKeys {
		if v := r.Raw[k]; v != "" {
			return v
		}
	}
	for _, p := range r.Parameters {
		lower := strings.ToLower(p)
		if strings.Contains(lower, "model:") || strings.Contains(lower, "checkpoint:") {
			return p
		}
	}
	if r.Prompt != "" {
		m := promptModelRe.FindStringSubmatch(r.Prompt)
		if m == nil {
			m = promptCheckpointRe.FindStringSubmatch(r.Prompt)
		}
		if m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}
