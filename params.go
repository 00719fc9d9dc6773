// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"regexp"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Parameters is the result of parsing an A1111-style parameter blob.
type Parameters struct {
	Prompt   string
	Negative string

	// Settings holds the comma-separated tokens of the settings line, in order.
	Settings []string

	// Map is derived from Settings, see ParametersMap.
	Map map[string]string
}

var (
	promptLabelRe   = regexp.MustCompile(`(?is)(?:^|\n)Prompt:\s*(.*?)(?:\nNegative prompt:|\nSteps:|\nSampler:|$)`)
	negativeLabelRe = regexp.MustCompile(`(?is)(?:^|\n)Negative prompt:\s*(.*?)(?:\nSteps:|\nSampler:|$)`)

	// Where the prompt ends in the A1111 layout when it carries no label.
	unlabeledPromptEndRe = regexp.MustCompile(`(?im)^(?:Negative prompt:|Steps:)`)

	knownSettingsRe = regexp.MustCompile(`(?i)(Steps:\s*\d+|Sampler:\s*[^,]+|CFG scale:\s*[^,]+|Seed:\s*[^,]+|Size:\s*[^,]+)`)
)

// minInferredPromptLen is the length a first line must exceed to be taken as an unlabeled prompt.
const minInferredPromptLen = 40

// ParseParameters parses an A1111-style parameter blob:
//
//	a cat
//	Negative prompt: blurry
//	Steps: 20, Sampler: Euler, CFG scale: 7, Seed: 42
//
// Labeled fields (Prompt:, Negative prompt:, a line starting with Steps:) are
// read first; what they leave undetermined is filled in by inferParameters.
func ParseParameters(text string) Parameters {
	var p Parameters
	t := strings.TrimSpace(strings.ReplaceAll(text, "\r", ""))
	if t == "" {
		p.Map = map[string]string{}
		return p
	}

	if m := promptLabelRe.FindStringSubmatch(t); m != nil {
		p.Prompt = strings.TrimSpace(m[1])
	}
	if m := negativeLabelRe.FindStringSubmatch(t); m != nil {
		p.Negative = strings.TrimSpace(m[1])
	}

	lines := nonEmptyLines(t)
	for _, line := range lines {
		if hasPrefixFold(line, "Steps:") {
			p.Settings = SplitSettings(line)
			break
		}
	}

	inferParameters(&p, t, lines)

	p.Map = ParametersMap(p.Settings)
	return p
}

// inferParameters is the best-effort inference step of ParseParameters.
// It only fills fields the labeled pass left empty:
//
//   - prompt: the text above the first "Negative prompt:" or "Steps:" line,
//     else the first line if it is longer than 40 characters;
//   - settings: the last line containing both ':' and ',' that is not a
//     "Prompt:" or "Negative prompt:" line,
//     else any Steps/Sampler/CFG scale/Seed/Size fragments found in the text.
func inferParameters(p *Parameters, t string, lines []string) {
	if p.Prompt == "" {
		if loc := unlabeledPromptEndRe.FindStringIndex(t); loc != nil && loc[0] > 0 {
			p.Prompt = strings.TrimSpace(t[:loc[0]])
		}
	}
	if p.Prompt == "" && len(lines) > 0 {
		first := lines[0]
		if len(first) > minInferredPromptLen && !hasPrefixFold(first, "Steps:") && !hasPrefixFold(first, "Negative prompt:") {
			p.Prompt = first
		}
	}

	if p.Settings != nil {
		return
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if isLabeledLine(lines[i]) {
			continue
		}
		if strings.Contains(lines[i], ":") && strings.Contains(lines[i], ",") {
			p.Settings = SplitSettings(lines[i])
			// A labeled field runs to the end of the text when no Steps:
			// line follows it; the settings line is not part of it.
			p.Prompt = trimTrailingLine(p.Prompt, lines[i])
			p.Negative = trimTrailingLine(p.Negative, lines[i])
			return
		}
	}
	for _, m := range knownSettingsRe.FindAllString(t, -1) {
		if m = strings.TrimSpace(m); m != "" {
			p.Settings = append(p.Settings, m)
		}
	}
}

// SplitSettings splits a settings line such as "Steps: 20, Sampler: Euler"
// into its trimmed, non-empty comma-separated tokens.
func SplitSettings(line string) []string {
	var tokens []string
	for _, part := range strings.Split(line, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

// splitParameter splits a token on its first ':' (or, if it has none, its first '=').
// The key has its whitespace collapsed. ok is false for bare tokens and empty keys.
func splitParameter(tok string) (key, value string, ok bool) {
	i := strings.IndexByte(tok, ':')
	if i < 0 {
		i = strings.IndexByte(tok, '=')
	}
	if i < 0 {
		return "", "", false
	}
	key = collapseWhitespace(tok[:i])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(tok[i+1:]), true
}

// otherKey collects bare tokens in a parameters map.
const otherKey = "Other"

// ParametersMap maps parameter keys to values (last writer wins).
// Each token is split on its first ':' (else '='); bare tokens are
// joined with "; " under "Other".
func ParametersMap(params []string) map[string]string {
	om := OrderedParametersMap(params)
	m := make(map[string]string, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		m[pair.Key] = pair.Value
	}
	return m
}

// OrderedParametersMap is ParametersMap with keys in order of first appearance.
func OrderedParametersMap(params []string) *orderedmap.OrderedMap[string, string] {
	om := orderedmap.New[string, string]()
	for _, tok := range params {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if k, v, ok := splitParameter(tok); ok {
			om.Set(k, v)
			continue
		}
		if strings.ContainsAny(tok, ":=") {
			// Empty key.
			continue
		}
		if prev, found := om.Get(otherKey); found {
			om.Set(otherKey, prev+"; "+tok)
		} else {
			om.Set(otherKey, tok)
		}
	}
	return om
}

// SettingsString serializes the parameters map of params as "key: value" pairs joined by ", ".
func SettingsString(params []string) string {
	om := OrderedParametersMap(params)
	parts := make([]string, 0, om.Len())
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		parts = append(parts, pair.Key+": "+pair.Value)
	}
	return strings.Join(parts, ", ")
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// trimTrailingLine removes line from the end of s if it is the last line.
func trimTrailingLine(s, line string) string {
	if strings.HasSuffix(s, "\n"+line) {
		return strings.TrimSpace(strings.TrimSuffix(s, line))
	}
	return s
}

// isLabeledLine reports whether line starts a prompt or negative prompt.
func isLabeledLine(line string) bool {
	return hasPrefixFold(line, "Prompt:") || hasPrefixFold(line, "Negative prompt:")
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
