package handler

import (
	"log"
	"net/http"
	"time"

	"apkforge/api/hub"
)

type pendingFile struct {
	Name             string `json:"name"`
	RemainingMinutes int    `json:"remainingMinutes"`
	Size             int64  `json:"size"`
}

func (h *Handler) CleanupStatus(w http.ResponseWriter, r *http.Request) {
	pending := h.scheduler.Pending()
	files := make([]pendingFile, 0, len(pending))
	for _, p := range pending {
		files = append(files, pendingFile{Name: p.Name, RemainingMinutes: p.RemainingMinutes, Size: p.Size})
	}

	var next *time.Time
	if t, ok := h.scheduler.NextExpiry(); ok {
		next = &t
	}
	writeJSON(w, map[string]interface{}{
		"pendingCount": len(files),
		"files":        files,
		"nextCleanup":  next,
	})
}

func (h *Handler) ForceCleanup(w http.ResponseWriter, r *http.Request) {
	res := h.scheduler.RunPass()
	if res.Err != nil {
		log.Printf("cleanup: manual pass: %v", res.Err)
	}
	h.ws.Broadcast(hub.Event{Type: hub.FilesCleaned, Payload: map[string]int{"cleaned": res.Removed, "remaining": res.Remaining}})
	writeJSON(w, map[string]int{
		"cleaned":   res.Removed,
		"remaining": res.Remaining,
	})
}
