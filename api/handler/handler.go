package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"apkforge/api/cleanup"
	"apkforge/api/config"
	"apkforge/api/hub"
	"apkforge/api/icon"
	"apkforge/api/pipeline"
	"apkforge/api/storage"
)

const (
	maxBuildIcon = 5 << 20
	maxBatchIcon = 2 << 20
	formOverhead = 1 << 20
)

type Handler struct {
	cfg       *config.Config
	builder   *pipeline.Builder
	batcher   *pipeline.Batcher
	scheduler *cleanup.Scheduler
	ws        *hub.Hub
	s3Client  *storage.Client
}

func New(cfg *config.Config, builder *pipeline.Builder, batcher *pipeline.Batcher, scheduler *cleanup.Scheduler, ws *hub.Hub, s3Client *storage.Client) *Handler {
	return &Handler{
		cfg:       cfg,
		builder:   builder,
		batcher:   batcher,
		scheduler: scheduler,
		ws:        ws,
		s3Client:  s3Client,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/build", h.StartBuild)
	r.Get("/build/status", h.BuildStatus)
	r.Post("/batch-build", h.StartBatch)
	r.Get("/batch-build", h.ListBatches)
	r.Get("/batch-build/status/{id}", h.BatchStatus)
	r.Get("/download/{filename}", h.Download)
	r.Get("/cleanup/status", h.CleanupStatus)
	r.Post("/cleanup", h.ForceCleanup)
	r.Get("/health", h.Health)
	r.Get("/validate", h.Validate)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// writeErr maps domain errors to status codes.
func writeErr(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	var perr *icon.ProcessError
	switch {
	case errors.As(err, &verr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{"error": err.Error(), "problems": verr.Problems})
	case errors.Is(err, pipeline.ErrBuildInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrInvalidRequest), errors.As(err, &perr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("handler: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// saveUpload stores the multipart file field under the uploads directory and
// registers it for cleanup. accept checks the sniffed content type.
func (h *Handler) saveUpload(r *http.Request, field, prefix string, limit int64, accept func(contentType string) bool) (string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("%w: %s file is required", pipeline.ErrInvalidRequest, field)
	}
	defer file.Close()

	if header.Size > limit {
		return "", fmt.Errorf("%w: %s exceeds %dMB", pipeline.ErrInvalidRequest, field, limit>>20)
	}
	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	if ct := http.DetectContentType(head[:n]); !accept(ct) {
		return "", fmt.Errorf("%w: %s has unsupported type %s", pipeline.ErrInvalidRequest, field, ct)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	if err := os.MkdirAll(h.cfg.UploadsDir, 0o755); err != nil {
		return "", err
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" || len(ext) > 5 {
		ext = ".img"
	}
	path := filepath.Join(h.cfg.UploadsDir, fmt.Sprintf("%s-%d%s", prefix, time.Now().UnixNano(), ext))
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, io.LimitReader(file, limit)); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	h.scheduler.ScheduleDeletion(path, h.cfg.CleanupDelay)
	return path, nil
}

func isPNG(ct string) bool   { return ct == "image/png" }
func isImage(ct string) bool { return strings.HasPrefix(ct, "image/") }
