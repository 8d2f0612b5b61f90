package handler

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"apkforge/api/model"
	"apkforge/api/pipeline"
)

func (h *Handler) StartBuild(w http.ResponseWriter, r *http.Request) {
	if h.builder.Busy() {
		writeErr(w, pipeline.ErrBuildInProgress)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBuildIcon+formOverhead)
	if err := r.ParseMultipartForm(maxBuildIcon + formOverhead); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	appName := strings.TrimSpace(r.FormValue("appName"))
	appURL := strings.TrimSpace(r.FormValue("appUrl"))
	if appURL == "" {
		appURL = strings.TrimSpace(r.FormValue("targetUrl"))
	}
	if appName == "" || appURL == "" {
		writeError(w, http.StatusBadRequest, "appName, appUrl and icon are required")
		return
	}
	if _, err := model.ParseTargetURL(appURL); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid appUrl: %v", err))
		return
	}

	iconPath, err := h.saveUpload(r, "icon", "icon", maxBuildIcon, isPNG)
	if err != nil {
		writeErr(w, err)
		return
	}

	req := pipeline.Request{
		AppName:     appName,
		TargetURL:   appURL,
		RawIconPath: iconPath,
	}
	if prefix := strings.TrimSpace(r.FormValue("apkPrefix")); prefix != "" {
		req.ArtifactName = model.PrefixedAPKName(prefix, appURL, "")
	}

	id, err := h.builder.Start(r.Context(), req)
	if err != nil {
		if errors.Is(err, pipeline.ErrBuildInProgress) {
			os.Remove(iconPath)
		}
		writeErr(w, err)
		return
	}

	writeJSON(w, map[string]string{
		"message": "build started",
		"buildId": id,
	})
}

func (h *Handler) BuildStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.builder.Status())
}
