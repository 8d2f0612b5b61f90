package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"apkforge/api/pipeline"
)

func (h *Handler) StartBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchIcon+formOverhead)
	if err := r.ParseMultipartForm(maxBatchIcon + formOverhead); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	targets, err := parseTargets(r.FormValue("urls"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	iconPath, err := h.saveUpload(r, "icon", "batch-icon", maxBatchIcon, isImage)
	if err != nil {
		writeErr(w, err)
		return
	}

	id, err := h.batcher.Submit(r.Context(), pipeline.BatchRequest{
		AppName:     r.FormValue("appName"),
		APKPrefix:   strings.TrimSpace(r.FormValue("apkPrefix")),
		Targets:     targets,
		RawIconPath: iconPath,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, map[string]interface{}{
		"message":     fmt.Sprintf("batch queued with %d build(s)", len(targets)),
		"batchId":     id,
		"totalBuilds": len(targets),
	})
}

// parseTargets accepts either [{"url": ..., "fbPixelId": ...}] or a plain
// list of url strings.
func parseTargets(raw string) ([]pipeline.Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("urls is required")
	}
	var targets []pipeline.Target
	if err := json.Unmarshal([]byte(raw), &targets); err == nil {
		return targets, nil
	}
	var urls []string
	if err := json.Unmarshal([]byte(raw), &urls); err != nil {
		return nil, fmt.Errorf("urls must be a JSON array: %v", err)
	}
	for _, u := range urls {
		targets = append(targets, pipeline.Target{URL: u})
	}
	return targets, nil
}

func (h *Handler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := h.batcher.Status(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	writeJSON(w, st)
}

func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.batcher.List())
}
