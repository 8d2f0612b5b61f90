package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"apkforge/api/hub"
	"apkforge/api/icon"
	"apkforge/api/metrics"
	"apkforge/api/model"
	"apkforge/api/progress"
	"apkforge/api/runtime"
)

var (
	ErrBuildInProgress = errors.New("a build is already in progress")
	ErrInvalidRequest  = errors.New("invalid build request")
)

// artifacts older than the build start by more than this are leftovers.
const mtimeSlack = 2 * time.Second

type IconProcessor interface {
	Process(path string) (*icon.Result, error)
}

type Scheduler interface {
	ScheduleDeletion(path string, delay time.Duration) time.Time
}

type Mirror interface {
	Upload(ctx context.Context, path string) error
}

type Broadcaster interface {
	Broadcast(evt hub.Event)
}

type Config struct {
	DeployDir       string
	ArtifactDir     string
	PublicDir       string
	Script          string
	ArtifactPattern string
	Timeout         time.Duration
	CleanupDelay    time.Duration
}

type Request struct {
	AppName      string
	TargetURL    string
	IconPath     string // already processed icon
	RawIconPath  string // uploaded icon, processed during configuring when IconPath is empty
	ArtifactName string // published name; empty means <buildId[:8]>-<artifact>
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.AppName) == "" {
		return fmt.Errorf("%w: app name is required", ErrInvalidRequest)
	}
	if _, err := model.ParseTargetURL(r.TargetURL); err != nil {
		return fmt.Errorf("%w: target url %q: %v", ErrInvalidRequest, r.TargetURL, err)
	}
	if r.IconPath == "" && r.RawIconPath == "" {
		return fmt.Errorf("%w: icon is required", ErrInvalidRequest)
	}
	return nil
}

// descriptor is the config.json consumed by the build script.
type descriptor struct {
	AppName  string `json:"app_name"`
	AppURL   string `json:"app_url"`
	IconFile string `json:"icon_file"`
}

// Builder runs one build at a time through configure → build → publish.
type Builder struct {
	Runner  runtime.Runner
	Icons   IconProcessor
	Cleanup Scheduler
	Mirror  Mirror      // optional
	WS      Broadcaster // optional
	Rules   *progress.Rules

	cfg     Config
	tracker *Tracker
	slot    chan struct{}
}

func NewBuilder(cfg Config, runner runtime.Runner) *Builder {
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = cfg.DeployDir
	}
	if cfg.ArtifactPattern == "" {
		cfg.ArtifactPattern = "app-release*.apk"
	}
	if cfg.Script == "" {
		cfg.Script = "auto_build.sh"
	}
	return &Builder{
		Runner:  runner,
		Icons:   &icon.Processor{},
		Rules:   progress.Default(),
		cfg:     cfg,
		tracker: NewTracker(),
		slot:    make(chan struct{}, 1),
	}
}

// Start launches a build in the background and returns its id. It fails with
// ErrBuildInProgress, leaving the current status untouched, when the build
// slot is taken.
func (b *Builder) Start(ctx context.Context, req Request) (string, error) {
	select {
	case b.slot <- struct{}{}:
	default:
		return "", ErrBuildInProgress
	}
	if err := req.Validate(); err != nil {
		<-b.slot
		return "", err
	}

	id := uuid.NewString()
	b.tracker.Reset(id, req.AppName)
	go b.execute(context.WithoutCancel(ctx), id, req)
	return id, nil
}

// Run waits for the build slot and executes synchronously. The error is
// non-nil only when ctx ended before the slot was obtained; build failures
// are reported in the outcome.
func (b *Builder) Run(ctx context.Context, req Request) (*model.BuildOutcome, error) {
	select {
	case b.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	id := uuid.NewString()
	b.tracker.Reset(id, req.AppName)
	return b.execute(ctx, id, req), nil
}

func (b *Builder) Status() model.BuildStatus {
	return b.tracker.Snapshot()
}

func (b *Builder) Busy() bool {
	return len(b.slot) > 0
}

type step struct {
	name  string
	state model.BuildState
	fn    func(ctx context.Context, bc *buildContext) error
}

type buildContext struct {
	id       string
	req      Request
	artifact string
	name     string
}

func (b *Builder) execute(ctx context.Context, id string, req Request) (outcome *model.BuildOutcome) {
	start := time.Now()
	metrics.BuildStarted()
	outcome = &model.BuildOutcome{URL: req.TargetURL, APKName: req.ArtifactName, BuildID: id}

	defer func() { <-b.slot }()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("pipeline: build %s panicked: %v", id, r)
			b.fail(id, outcome, fmt.Errorf("internal error: %v", r))
		}
		metrics.BuildFinished(outcome.Success, time.Since(start))
	}()

	b.broadcast(hub.BuildStarted, id, map[string]string{"appName": req.AppName, "url": req.TargetURL})
	b.logf(id, model.LogInfo, "Starting build of %s for %s", req.AppName, req.TargetURL)

	bc := &buildContext{id: id, req: req}
	steps := []step{
		{name: "configure", state: model.StateConfiguring, fn: b.configure},
		{name: "build", state: model.StateRunning, fn: b.build},
		{name: "publish", state: model.StateRunning, fn: b.publish},
	}
	for _, s := range steps {
		b.tracker.SetState(s.state)
		if err := s.fn(ctx, bc); err != nil {
			b.fail(id, outcome, fmt.Errorf("%s: %w", s.name, err))
			return outcome
		}
	}

	downloadURL := model.DownloadURL(bc.name)
	outcome.Success = true
	outcome.APKName = bc.name
	outcome.DownloadURL = downloadURL

	b.logf(id, model.LogInfo, "Build succeeded: %s", bc.name)
	b.tracker.Finish(true, downloadURL)
	b.broadcast(hub.BuildCompleted, id, outcome)
	return outcome
}

func (b *Builder) fail(id string, outcome *model.BuildOutcome, err error) {
	outcome.Success = false
	outcome.Error = err.Error()
	outcome.DownloadURL = ""
	b.logf(id, model.LogError, "Build failed: %v", err)
	b.tracker.Finish(false, "")
	b.broadcast(hub.BuildFailed, id, outcome)
}

func (b *Builder) configure(ctx context.Context, bc *buildContext) error {
	if err := bc.req.Validate(); err != nil {
		return err
	}

	iconPath := bc.req.IconPath
	if iconPath == "" {
		res, err := b.Icons.Process(bc.req.RawIconPath)
		if err != nil {
			return err
		}
		iconPath = res.Path
		b.schedule(iconPath, b.cfg.CleanupDelay)
		b.logf(bc.id, model.LogInfo, "Icon resized from %dx%d to %dx%d", res.OriginalWidth, res.OriginalHeight, icon.Size, icon.Size)
	}

	if err := os.MkdirAll(b.cfg.DeployDir, 0o755); err != nil {
		return fmt.Errorf("create deploy dir: %w", err)
	}
	if err := copyFile(iconPath, filepath.Join(b.cfg.DeployDir, "icon.png")); err != nil {
		return fmt.Errorf("copy icon: %w", err)
	}

	data, err := json.MarshalIndent(descriptor{
		AppName:  bc.req.AppName,
		AppURL:   strings.TrimSpace(bc.req.TargetURL),
		IconFile: "icon.png",
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(b.cfg.DeployDir, "config.json"), data, 0o644); err != nil {
		return fmt.Errorf("write build descriptor: %w", err)
	}
	b.logf(bc.id, model.LogInfo, "Build descriptor written")
	return nil
}

func (b *Builder) build(ctx context.Context, bc *buildContext) error {
	b.logf(bc.id, model.LogInfo, "Running %s", b.cfg.Script)
	start := time.Now()

	res, err := b.Runner.Run(ctx, runtime.RunOpts{
		Command: []string{"bash", b.cfg.Script},
		Dir:     b.cfg.DeployDir,
		Timeout: b.cfg.Timeout,
	}, func(l runtime.Line) { b.onLine(bc.id, l) })
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("build script exited with code %d", res.ExitCode)
	}

	artifact, err := locateArtifact(b.cfg.ArtifactDir, b.cfg.ArtifactPattern, start.Add(-mtimeSlack))
	if err != nil {
		return err
	}
	bc.artifact = artifact
	return nil
}

func (b *Builder) publish(ctx context.Context, bc *buildContext) error {
	bc.name = bc.req.ArtifactName
	if bc.name == "" {
		bc.name = model.BuildArtifactName(bc.id, bc.artifact)
	}

	if err := os.MkdirAll(b.cfg.PublicDir, 0o755); err != nil {
		return fmt.Errorf("create public dir: %w", err)
	}
	dest := filepath.Join(b.cfg.PublicDir, bc.name)
	if err := copyFile(bc.artifact, dest); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}

	if b.Mirror != nil {
		if err := b.Mirror.Upload(ctx, dest); err != nil {
			// the local copy is authoritative
			b.logf(bc.id, model.LogError, "Mirror upload failed: %v", err)
		}
	}
	// Registered before success is reported.
	b.schedule(dest, b.cfg.CleanupDelay)
	return nil
}

func (b *Builder) onLine(id string, l runtime.Line) {
	if l.Stream == runtime.Stderr {
		b.logf(id, model.LogError, "%s", l.Text)
		return
	}
	b.logf(id, model.LogInfo, "%s", l.Text)
	if b.Rules == nil {
		return
	}
	if p, changed := b.tracker.SetProgress(b.Rules.Apply(b.tracker.Progress(), l.Text)); changed {
		b.broadcast(hub.BuildProgress, id, map[string]int{"progress": p})
	}
}

func (b *Builder) logf(id string, kind model.LogKind, format string, args ...interface{}) {
	entry := b.tracker.Log(kind, fmt.Sprintf(format, args...))
	log.Printf("[%s] %s", entry.Timestamp, entry.Message)
	b.broadcast(hub.BuildLog, id, entry)
}

func (b *Builder) broadcast(typ, id string, payload interface{}) {
	if b.WS == nil {
		return
	}
	b.WS.Broadcast(hub.Event{Type: typ, BuildID: id, Payload: payload})
}

func (b *Builder) schedule(path string, delay time.Duration) {
	if b.Cleanup != nil {
		b.Cleanup.ScheduleDeletion(path, delay)
	}
}

// locateArtifact picks the newest file matching pattern in dir, ignoring files
// older than notBefore. Ties go to the lexically smallest path.
func locateArtifact(dir, pattern string, notBefore time.Time) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("artifact pattern %q: %w", pattern, err)
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var found []candidate
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().Before(notBefore) {
			continue
		}
		found = append(found, candidate{path: m, mtime: info.ModTime()})
	}
	if len(found) == 0 {
		return "", fmt.Errorf("no artifact matching %s in %s", pattern, dir)
	}

	sort.Slice(found, func(i, j int) bool {
		if !found[i].mtime.Equal(found[j].mtime) {
			return found[i].mtime.After(found[j].mtime)
		}
		return found[i].path < found[j].path
	})
	return found[0].path, nil
}

// copyFile writes src to dst through a temporary file so readers never see a
// partial artifact.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
