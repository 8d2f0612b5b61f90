package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"apkforge/api/model"
)

type ServiceHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // up, down, unknown
	Details string `json:"details,omitempty"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	writeJSON(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"services": []ServiceHealth{
			h.checkBuilder(),
			h.checkCleanup(),
			h.checkS3(ctx),
			h.checkPreflight(ctx),
		},
	})
}

func (h *Handler) checkBuilder() ServiceHealth {
	state := "idle"
	if h.builder.Busy() {
		state = "building"
	}
	return ServiceHealth{Name: "builder", Status: "up", Details: fmt.Sprintf("%s, %d queued", state, h.batcher.Pending())}
}

func (h *Handler) checkCleanup() ServiceHealth {
	return ServiceHealth{Name: "cleanup", Status: "up", Details: fmt.Sprintf("%d file(s) pending", h.scheduler.Len())}
}

func (h *Handler) checkS3(ctx context.Context) ServiceHealth {
	if h.s3Client == nil {
		return ServiceHealth{Name: "s3/minio", Status: "unknown", Details: "not configured"}
	}
	if err := h.s3Client.Healthy(ctx); err != nil {
		return ServiceHealth{Name: "s3/minio", Status: "down", Details: err.Error()}
	}
	return ServiceHealth{Name: "s3/minio", Status: "up"}
}

func (h *Handler) checkPreflight(ctx context.Context) ServiceHealth {
	result := h.preflight(ctx)
	if !result.Valid() {
		details := result.Summary()
		if errs := result.BySeverity(model.SeverityError); len(errs) > 0 {
			details += ": " + errs[0].Message
		}
		return ServiceHealth{Name: "preflight", Status: "down", Details: details}
	}
	return ServiceHealth{Name: "preflight", Status: "up", Details: result.Summary()}
}
