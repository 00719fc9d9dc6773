// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import (
	"cmp"
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// LoRASummary is a digest of the training metadata (kohya-ss "ss_*" keys)
// in a LoRA's safetensors header. Missing values are empty.
type LoRASummary struct {
	ModelName     string `json:"modelName,omitempty"`
	BaseModel     string `json:"baseModel,omitempty"`
	VAE           string `json:"vae,omitempty"`
	BatchSize     string `json:"batchSize,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	ClipSkip      string `json:"clipSkip,omitempty"`
	Epoch         string `json:"epoch,omitempty"`
	Steps         string `json:"steps,omitempty"`
	Optimizer     string `json:"optimizer,omitempty"`
	OptimizerArgs string `json:"optimizerArgs,omitempty"`
	Scheduler     string `json:"scheduler,omitempty"`
	LearningRates string `json:"learningRates,omitempty"`

	// TrainingDate is the UTC start date, e.g. "Jan 2, 2006".
	TrainingDate     string `json:"trainingDate,omitempty"`
	TrainingDuration string `json:"trainingDuration,omitempty"`

	Datasets        []LoRADataset `json:"datasets,omitempty"`
	SuggestedPrompt string        `json:"suggestedPrompt,omitempty"`

	// TagFrequency is sorted by count, highest first.
	TagFrequency []TagCount `json:"tagFrequency,omitempty"`
}

// LoRADataset is one training image directory.
type LoRADataset struct {
	Name       string `json:"name"`
	Repeats    int    `json:"repeats"`
	ImageCount int    `json:"imageCount"`
}

// TagCount is a caption tag and how many training images used it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// IsZero reports whether no training metadata was found.
func (s LoRASummary) IsZero() bool {
	return s.ModelName == "" && s.BaseModel == "" && s.Steps == "" && s.Epoch == "" &&
		s.Optimizer == "" && len(s.TagFrequency) == 0 && len(s.Datasets) == 0
}

var (
	optimizerNameRe = regexp.MustCompile(`(\w+)\s*$`)
	optimizerArgRe  = regexp.MustCompile(`(\w+)=((?:[^,()]+|\([^()]*\))+)`)
)

// SummarizeLoRA builds a LoRASummary from a safetensors __metadata__ object.
// meta may be nil.
func SummarizeLoRA(meta *orderedmap.OrderedMap[string, any]) LoRASummary {
	var s LoRASummary
	if meta == nil {
		return s
	}

	get := func(keys ...string) string {
		for _, k := range keys {
			if v, found := meta.Get(k); found {
				if str := strings.TrimSpace(cast.ToString(v)); str != "" {
					return str
				}
			}
		}
		return ""
	}

	s.ModelName = get("ss_output_name", "ss_model_name", "model", "name")
	s.BaseModel = get("ss_sd_model_name", "base_model", "base")
	s.VAE = get("ss_vae_name", "vae")
	s.BatchSize = get("ss_total_batch_size")
	if s.BatchSize == "" {
		s.BatchSize = firstDatasetBatchSize(meta)
	}
	if s.BatchSize == "" {
		s.BatchSize = get("batch", "batch_size")
	}
	s.Resolution = get("ss_resolution", "resolution", "res")
	s.ClipSkip = get("ss_clip_skip", "clip_skip")
	s.Epoch = nOfM(get("ss_epoch"), get("ss_num_epochs"))
	s.Steps = nOfM(get("ss_steps"), get("ss_max_train_steps"))

	if opt := get("ss_optimizer"); opt != "" {
		s.Optimizer, s.OptimizerArgs = parseOptimizer(opt)
	} else {
		s.Optimizer = get("optimizer")
	}
	if s.OptimizerArgs == "" {
		s.OptimizerArgs = get("optimizer_args")
	}
	s.Scheduler = get("ss_lr_scheduler", "scheduler")
	if lr, te, unet := get("ss_learning_rate"), get("ss_text_encoder_lr"), get("ss_unet_lr"); lr != "" || te != "" || unet != "" {
		s.LearningRates = fmt.Sprintf("LR: %s TE: %s UNET: %s", lr, te, unet)
	}

	if started, err := cast.ToFloat64E(get("ss_training_started_at")); err == nil && started > 0 {
		start := time.Unix(int64(started), 0).UTC()
		s.TrainingDate = start.Format("Jan 2, 2006")
		if finished, err := cast.ToFloat64E(get("ss_training_finished_at")); err == nil && finished > 0 {
			s.TrainingDuration = formatDuration(time.Unix(int64(finished), 0).Sub(start))
		}
	}
	if s.TrainingDate == "" {
		s.TrainingDate = get("train_date")
	}
	if s.TrainingDuration == "" {
		s.TrainingDuration = get("train_time")
	}

	s.Datasets = datasetDirs(meta)
	s.SuggestedPrompt = get("ss_prompt", "prompt", "suggested_prompt")

	for _, k := range []string{"ss_tag_frequency", "tag_frequency", "tags"} {
		if v, found := meta.Get(k); found {
			s.TagFrequency = tagFrequency(v)
			break
		}
	}

	return s
}

func nOfM(n, m string) string {
	switch {
	case n == "" && m == "":
		return ""
	case m == "":
		return n
	default:
		return n + " of " + m
	}
}

// parseOptimizer splits e.g. "bitsandbytes.optim.AdamW8bit(weight_decay=0.1,betas=(0.9, 0.99))"
// into its class name and its arguments as "k: v" pairs joined by ", ".
func parseOptimizer(s string) (name, args string) {
	i := strings.IndexByte(s, '(')
	if i <= 0 {
		if m := optimizerNameRe.FindStringSubmatch(s); m != nil {
			return m[1], ""
		}
		return s, ""
	}
	name = s[:i]
	if m := optimizerNameRe.FindStringSubmatch(name); m != nil {
		name = m[1]
	}
	argsString := strings.TrimSuffix(s[i+1:], ")")
	var parts []string
	for _, m := range optimizerArgRe.FindAllStringSubmatch(argsString, -1) {
		parts = append(parts, m[1]+": "+strings.TrimSpace(m[2]))
	}
	if len(parts) == 0 {
		return name, strings.TrimSpace(argsString)
	}
	return name, strings.Join(parts, ", ")
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dh %dm %ds", h, m, sec)
}

// jsonValue returns v decoded if it is a JSON document stored as a string.
func jsonValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return nil
	}
	return decoded
}

func firstDatasetBatchSize(meta *orderedmap.OrderedMap[string, any]) string {
	v, found := meta.Get("ss_datasets")
	if !found {
		return ""
	}
	datasets, ok := jsonValue(v).([]any)
	if !ok || len(datasets) == 0 {
		return ""
	}
	first, ok := datasets[0].(map[string]any)
	if !ok {
		return ""
	}
	return cast.ToString(first["batch_size_per_device"])
}

func datasetDirs(meta *orderedmap.OrderedMap[string, any]) []LoRADataset {
	v, found := meta.Get("ss_dataset_dirs")
	if !found {
		return nil
	}
	dirs, ok := jsonValue(v).(map[string]any)
	if !ok {
		return nil
	}
	var datasets []LoRADataset
	for name, d := range dirs {
		m, ok := d.(map[string]any)
		if !ok {
			continue
		}
		datasets = append(datasets, LoRADataset{
			Name:       name,
			Repeats:    cast.ToInt(m["n_repeats"]),
			ImageCount: cast.ToInt(m["img_count"]),
		})
	}
	slices.SortFunc(datasets, func(a, b LoRADataset) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return datasets
}

// tagFrequency flattens a (possibly nested, possibly JSON-encoded) tag
// frequency object. Counts for a tag seen in several directories are added up.
func tagFrequency(v any) []TagCount {
	counts := make(map[string]int)
	var walk func(v any)
	walk = func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		for k, vv := range m {
			switch vv := vv.(type) {
			case map[string]any:
				walk(vv)
			default:
				tag := strings.TrimPrefix(k, "img.")
				counts[tag] += cast.ToInt(vv)
			}
		}
	}
	walk(jsonValue(v))

	if len(counts) == 0 {
		return nil
	}
	tags := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		tags = append(tags, TagCount{Tag: tag, Count: n})
	}
	slices.SortFunc(tags, func(a, b TagCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	return tags
}
