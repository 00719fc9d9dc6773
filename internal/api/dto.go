// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package api

import "github.com/bep/genmeta/internal/metaservice"

// MetadataResponse is the decoded record with its LoRAs, checkpoint and LoRA training summary.
type MetadataResponse = metaservice.Result

// LoRAsRequest is the request body for extracting LoRA references from text.
type LoRAsRequest struct {
	Text string `json:"text"`
}

// LoRAsResponse wraps the extracted LoRA references.
type LoRAsResponse struct {
	LoRAs []string `json:"loras"`
}
