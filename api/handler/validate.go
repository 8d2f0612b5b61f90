package handler

import (
	"context"
	"net/http"
	"time"

	"apkforge/api/model"
	"apkforge/api/validate"
)

func (h *Handler) preflight(ctx context.Context) *model.ValidationResult {
	v := &validate.Validator{Config: h.cfg}
	if h.s3Client != nil {
		v.Mirror = h.s3Client
	}
	return v.Validate(ctx)
}

// Validate reports whether this host can run builds.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, h.preflight(ctx))
}
