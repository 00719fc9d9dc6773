// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/bep/genmeta/internal/metaservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(svc *metaservice.Service, maxUploadBytes int64, authEnabled bool, token string) chi.Router {
	h := NewHandler(svc, maxUploadBytes)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Post("/metadata", h.ReadMetadata)
	r.Post("/metadata/edit", h.EditMetadata)
	r.Post("/loras", h.ExtractLoRAs)

	return r
}
