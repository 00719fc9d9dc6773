// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/bep/genmeta"
	"github.com/bep/genmeta/internal/metaservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc            *metaservice.Service
	maxUploadBytes int64
}

// NewHandler creates a new Handler.
func NewHandler(svc *metaservice.Service, maxUploadBytes int64) *Handler {
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// ReadMetadata handles POST /api/metadata (multipart/form-data, field "file").
func (h *Handler) ReadMetadata(w http.ResponseWriter, r *http.Request) {
	b, header, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Read(header.Filename, header.Header.Get("Content-Type"), b)
	if err != nil {
		h.writeError(w, "read metadata", header.Filename, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EditMetadata handles POST /api/metadata/edit (multipart/form-data).
// Fields: "file", and optionally "prompt", "negative" and "parameters" (a settings line).
// Fields that are not sent are left unchanged. The response is the edited file.
func (h *Handler) EditMetadata(w http.ResponseWriter, r *http.Request) {
	b, header, ok := h.readUpload(w, r)
	if !ok {
		return
	}

	var req metaservice.EditRequest
	form := r.MultipartForm.Value
	if v, found := form["prompt"]; found && len(v) > 0 {
		req.Prompt = &v[0]
	}
	if v, found := form["negative"]; found && len(v) > 0 {
		req.Negative = &v[0]
	}
	if v, found := form["parameters"]; found && len(v) > 0 {
		req.Settings = &v[0]
	}

	out, name, err := h.svc.Edit(header.Filename, header.Header.Get("Content-Type"), b, req)
	if err != nil {
		h.writeError(w, "edit metadata", header.Filename, err)
		return
	}

	contentType := genmeta.SniffFormat(out).MIMEType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out); err != nil {
		slog.Error("write edited file failed", slog.String("file", name), slog.String("error", err.Error()))
	}
}

// ExtractLoRAs handles POST /api/loras.
func (h *Handler) ExtractLoRAs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req LoRAsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	loras := genmeta.ExtractLoRAs(req.Text)
	if loras == nil {
		loras = []string{}
	}
	writeJSON(w, http.StatusOK, LoRAsResponse{LoRAs: loras})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return nil, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return nil, nil, false
	}
	defer file.Close()

	b, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read uploaded file"))
		return nil, nil, false
	}
	return b, header, true
}

func (h *Handler) writeError(w http.ResponseWriter, op, filename string, err error) {
	switch {
	case errors.Is(err, genmeta.ErrUnsupportedWrite):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, genmeta.ErrUnknownFormat), genmeta.IsInvalidFormat(err):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("file", filename), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
