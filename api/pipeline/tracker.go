package pipeline

import (
	"sync"
	"time"

	"apkforge/api/model"
)

// Tracker holds the status of the current (or last) build. Writers are the
// build goroutine; readers get copies through Snapshot.
type Tracker struct {
	mu     sync.RWMutex
	status model.BuildStatus
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		status: model.BuildStatus{State: model.StateIdle, Logs: []model.LogEntry{}},
		now:    time.Now,
	}
}

// Reset starts a new build record, discarding the previous one.
func (t *Tracker) Reset(buildID, appName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := buildID
	started := t.now()
	t.status = model.BuildStatus{
		State:      model.StateConfiguring,
		IsBuilding: true,
		Logs:       []model.LogEntry{},
		BuildID:    &id,
		AppName:    appName,
		StartedAt:  &started,
	}
}

func (t *Tracker) SetState(s model.BuildState) {
	t.mu.Lock()
	t.status.State = s
	t.status.IsBuilding = s.Active()
	t.mu.Unlock()
}

func (t *Tracker) Log(kind model.LogKind, msg string) model.LogEntry {
	entry := model.LogEntry{
		Timestamp: t.now().Format(model.LogTimeFormat),
		Message:   msg,
		Kind:      kind,
	}
	t.mu.Lock()
	t.status.Logs = append(t.status.Logs, entry)
	t.mu.Unlock()
	return entry
}

// SetProgress raises progress to p. Lower values are ignored; the boolean
// reports whether the value changed.
func (t *Tracker) SetProgress(p int) (int, bool) {
	if p > 100 {
		p = 100
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p <= t.status.Progress {
		return t.status.Progress, false
	}
	t.status.Progress = p
	return p, true
}

func (t *Tracker) Progress() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Progress
}

// Finish moves the build to a terminal state. Progress is always 100 afterwards.
func (t *Tracker) Finish(success bool, downloadURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	finished := t.now()
	t.status.State = model.StateFailed
	if success {
		t.status.State = model.StateSucceeded
	}
	t.status.IsBuilding = false
	t.status.Completed = true
	t.status.Success = success
	t.status.Progress = 100
	t.status.FinishedAt = &finished
	if success && downloadURL != "" {
		u := downloadURL
		t.status.DownloadURL = &u
	}
}

// Snapshot returns a copy that shares nothing with the tracker.
func (t *Tracker) Snapshot() model.BuildStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	s.Logs = append([]model.LogEntry{}, t.status.Logs...)
	if t.status.DownloadURL != nil {
		u := *t.status.DownloadURL
		s.DownloadURL = &u
	}
	if t.status.BuildID != nil {
		id := *t.status.BuildID
		s.BuildID = &id
	}
	return s
}
