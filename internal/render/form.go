// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package render

import (
	"strings"

	"github.com/bep/genmeta"
)

// FormRow is one row of a parameter edit form. A row with an empty Key is a bare token.
type FormRow struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FormRows returns the editable parameter rows of rec, one per token.
func FormRows(rec *genmeta.Record) []FormRow {
	rows := make([]FormRow, 0, len(rec.Parameters))
	for _, p := range rec.Parameters {
		k, v, found := strings.Cut(p, ":")
		if !found {
			rows = append(rows, FormRow{Value: strings.TrimSpace(p)})
			continue
		}
		rows = append(rows, FormRow{Key: strings.TrimSpace(k), Value: strings.TrimSpace(v)})
	}
	return rows
}

// ApplyForm writes prompt, negative and the form rows back to rec.
// Rows with a key become "key: value" tokens, rows without one bare tokens.
// Rows where both are empty are dropped.
func ApplyForm(rec *genmeta.Record, prompt, negative string, rows []FormRow) {
	rec.SetPrompt(strings.TrimSpace(prompt))
	rec.SetNegative(strings.TrimSpace(negative))

	params := make([]string, 0, len(rows))
	for _, r := range rows {
		k, v := strings.TrimSpace(r.Key), strings.TrimSpace(r.Value)
		switch {
		case k == "" && v == "":
		case k == "":
			params = append(params, v)
		default:
			params = append(params, k+": "+v)
		}
	}
	rec.SetParameters(params)
}
