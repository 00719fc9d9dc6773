// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

// Package render turns records into terminal views and edit forms back into records.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bep/genmeta"
)

// NotAvailable is shown for the LoRAs and Checkpoint rows when nothing was found.
const NotAvailable = "N/A"

// CommonKeys are shown first, in this order, when present.
var CommonKeys = []string{"Steps", "Sampler", "CFG scale", "Seed", "Size", "Model", "Model hash", "Checkpoint", "sd_model_checkpoint"}

const otherKey = "Other"

var (
	titleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF007F")).Bold(true).Underline(true)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5C00")).Bold(true)
	valueStyle = lipgloss.NewStyle()
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true)
	subStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	divider    = subStyle.Render(strings.Repeat("─", 48))
)

// Row is one name/value line in a view.
type Row struct {
	Name  string
	Value string
}

// ParameterRows returns the parameter table of rec: LoRAs and Checkpoint,
// the CommonKeys that are set, the remaining keys in order of appearance and
// finally every bare token as "Other".
func ParameterRows(rec *genmeta.Record) []Row {
	var rows []Row

	loras := NotAvailable
	if l := rec.LoRAs(); len(l) > 0 {
		loras = strings.Join(l, ", ")
	}
	rows = append(rows, Row{"LoRAs", loras})

	checkpoint := rec.Checkpoint()
	if checkpoint == "" {
		checkpoint = NotAvailable
	}
	rows = append(rows, Row{"Checkpoint", checkpoint})

	om := genmeta.OrderedParametersMap(rec.Parameters)
	for _, k := range CommonKeys {
		if v, found := om.Get(k); found && v != "" {
			rows = append(rows, Row{k, v})
		}
	}
	for pair := om.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == otherKey || slices.Contains(CommonKeys, pair.Key) {
			continue
		}
		rows = append(rows, Row{pair.Key, pair.Value})
	}
	for _, p := range rec.Parameters {
		if p = strings.TrimSpace(p); p != "" && !strings.ContainsAny(p, ":=") {
			rows = append(rows, Row{otherKey, p})
		}
	}

	return rows
}

// SummaryRows returns the non-empty fields of a LoRA training summary.
func SummaryRows(s genmeta.LoRASummary) []Row {
	var rows []Row
	add := func(name, value string) {
		if strings.TrimSpace(value) != "" {
			rows = append(rows, Row{name, value})
		}
	}
	add("Model name", s.ModelName)
	add("Base model", s.BaseModel)
	add("VAE", s.VAE)
	add("Batch size", s.BatchSize)
	add("Resolution", s.Resolution)
	add("Clip skip", s.ClipSkip)
	add("Epoch", s.Epoch)
	add("Steps", s.Steps)
	add("Optimizer", s.Optimizer)
	add("Optimizer args", s.OptimizerArgs)
	add("Scheduler", s.Scheduler)
	add("Learning rates", s.LearningRates)
	add("Training date", s.TrainingDate)
	add("Training duration", s.TrainingDuration)

	var datasets []string
	for _, d := range s.Datasets {
		datasets = append(datasets, fmt.Sprintf("%s: %d images x %d repeats", d.Name, d.ImageCount, d.Repeats))
	}
	add("Datasets", strings.Join(datasets, "; "))
	add("Suggested prompt", s.SuggestedPrompt)

	var tags []string
	for i, t := range s.TagFrequency {
		if i == 20 {
			tags = append(tags, fmt.Sprintf("... (%d more)", len(s.TagFrequency)-i))
			break
		}
		tags = append(tags, fmt.Sprintf("%s (%d)", t.Tag, t.Count))
	}
	add("Tag frequency", strings.Join(tags, ", "))

	return rows
}

// View renders rec for a terminal. title is typically the file name.
func View(title string, rec *genmeta.Record) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(title))
	b.WriteString(subStyle.Render(" (" + rec.Format.String() + ")"))
	b.WriteString("\n")
	if rec.Error != "" {
		b.WriteString(errorStyle.Render("error: " + rec.Error))
		b.WriteString("\n")
	}
	b.WriteString(divider + "\n")

	section := func(name, text string) {
		if text == "" {
			return
		}
		b.WriteString(labelStyle.Render(name))
		b.WriteString("\n")
		b.WriteString(valueStyle.Render(text))
		b.WriteString("\n\n")
	}
	section("Prompt", rec.Prompt)
	section("Negative prompt", rec.Negative)

	writeRows(&b, ParameterRows(rec))

	if rec.LoraMetadata != nil {
		if s := genmeta.SummarizeLoRA(rec.LoraMetadata); !s.IsZero() {
			b.WriteString(divider + "\n")
			b.WriteString(titleStyle.Render("LoRA training") + "\n")
			writeRows(&b, SummaryRows(s))
		}
	}

	return b.String()
}

func writeRows(b *strings.Builder, rows []Row) {
	width := 0
	for _, r := range rows {
		width = max(width, lipgloss.Width(r.Name))
	}
	name := labelStyle.Width(width + 2)
	for _, r := range rows {
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, name.Render(r.Name+":"), valueStyle.Render(formatValue(r.Value))))
		b.WriteString("\n")
	}
}

// formatValue indents values holding a JSON object or array.
func formatValue(v string) string {
	t := strings.TrimSpace(v)
	if !strings.HasPrefix(t, "{") && !strings.HasPrefix(t, "[") {
		return v
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(t), "", "  "); err != nil {
		return v
	}
	return buf.String()
}
