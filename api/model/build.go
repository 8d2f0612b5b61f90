package model

import "time"

type BuildState string

const (
	StateIdle        BuildState = "idle"
	StateConfiguring BuildState = "configuring"
	StateRunning     BuildState = "running"
	StateSucceeded   BuildState = "succeeded"
	StateFailed      BuildState = "failed"
)

// Active reports whether a build in this state holds the build slot.
func (s BuildState) Active() bool {
	return s == StateConfiguring || s == StateRunning
}

// Terminal reports whether the state ends a build.
func (s BuildState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

type LogKind string

const (
	LogInfo  LogKind = "info"
	LogError LogKind = "error"
)

// LogTimeFormat is the wall-clock format used for build log timestamps.
const LogTimeFormat = "15:04:05"

type LogEntry struct {
	Timestamp string  `json:"timestamp"`
	Message   string  `json:"message"`
	Kind      LogKind `json:"type"`
}

type BuildStatus struct {
	State       BuildState `json:"state"`
	IsBuilding  bool       `json:"isBuilding"`
	Progress    int        `json:"progress"`
	Logs        []LogEntry `json:"logs"`
	Success     bool       `json:"success"`
	Completed   bool       `json:"completed"`
	DownloadURL *string    `json:"downloadUrl"`
	BuildID     *string    `json:"buildId"`
	AppName     string     `json:"appName,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// BuildOutcome is the result of one build, shared by the status surface and the
// batch queue.
type BuildOutcome struct {
	URL         string `json:"url"`
	APKName     string `json:"apkName"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	BuildID     string `json:"buildId,omitempty"`
}
