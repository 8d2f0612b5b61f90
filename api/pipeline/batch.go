package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"apkforge/api/hub"
	"apkforge/api/metrics"
	"apkforge/api/model"
)

type Target struct {
	URL       string `json:"url"`
	FBPixelID string `json:"fbPixelId,omitempty"`
}

type BatchRequest struct {
	AppName     string
	APKPrefix   string
	Targets     []Target
	RawIconPath string
}

// ValidationError lists every problem found in a batch submission. Nothing is
// enqueued when it is returned.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid batch: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// BuildRunner is the part of Builder the batch queue drives.
type BuildRunner interface {
	Run(ctx context.Context, req Request) (*model.BuildOutcome, error)
	Status() model.BuildStatus
}

// Batcher queues batch items and feeds them to the builder one at a time,
// FIFO across batches.
type Batcher struct {
	Icons   IconProcessor
	Cleanup Scheduler
	WS      Broadcaster // optional

	builder      BuildRunner
	ctx          context.Context
	buildTimeout time.Duration
	cleanupDelay time.Duration
	now          func() time.Time

	mu       sync.Mutex
	batches  map[string]*model.BatchStatus
	icons    map[string][]string // batch id → icon files to release on completion
	queue    []model.QueueItem
	names    map[string]string // artifact name → owning batch id
	draining bool
}

// NewBatcher returns a Batcher whose drainer stops waiting for the build slot
// once ctx is done.
func NewBatcher(ctx context.Context, builder BuildRunner, icons IconProcessor, buildTimeout, cleanupDelay time.Duration) *Batcher {
	return &Batcher{
		Icons:        icons,
		builder:      builder,
		ctx:          ctx,
		buildTimeout: buildTimeout,
		cleanupDelay: cleanupDelay,
		now:          time.Now,
		batches:      make(map[string]*model.BatchStatus),
		icons:        make(map[string][]string),
		names:        make(map[string]string),
	}
}

func (r BatchRequest) validate() error {
	var problems []string
	if strings.TrimSpace(r.AppName) == "" {
		problems = append(problems, "app name is required")
	}
	if strings.TrimSpace(r.APKPrefix) == "" {
		problems = append(problems, "apk prefix is required")
	}
	if r.RawIconPath == "" {
		problems = append(problems, "icon is required")
	}
	if len(r.Targets) == 0 {
		problems = append(problems, "at least one url is required")
	}
	for i, t := range r.Targets {
		if _, err := model.ParseTargetURL(t.URL); err != nil {
			problems = append(problems, fmt.Sprintf("urls[%d] %q: %v", i, t.URL, err))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Submit validates the whole batch, prepares the shared icon and enqueues one
// item per target. It returns without waiting for any build.
func (b *Batcher) Submit(ctx context.Context, req BatchRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	res, err := b.Icons.Process(req.RawIconPath)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	status := &model.BatchStatus{
		ID:          id,
		AppName:     strings.TrimSpace(req.AppName),
		APKPrefix:   req.APKPrefix,
		TotalBuilds: len(req.Targets),
		Queue:       make([]model.QueueItem, 0, len(req.Targets)),
		Completed:   []model.BuildOutcome{},
		Failed:      []model.BuildOutcome{},
		StartTime:   b.now(),
	}

	b.mu.Lock()
	for i, t := range req.Targets {
		status.Queue = append(status.Queue, model.QueueItem{
			BatchID:    id,
			Index:      i,
			URL:        strings.TrimSpace(t.URL),
			IconPath:   res.Path,
			NamePrefix: req.APKPrefix,
			FBPixelID:  model.TrackingID(t.URL, t.FBPixelID),
			APKName:    b.claimName(id, model.PrefixedAPKName(req.APKPrefix, t.URL, t.FBPixelID)),
		})
	}
	b.batches[id] = status
	iconFiles := []string{req.RawIconPath, res.Path}
	b.icons[id] = iconFiles
	b.queue = append(b.queue, status.Queue...)
	depth := len(b.queue)
	// Held until every queued build could have finished.
	hold := time.Duration(depth)*b.buildTimeout + b.cleanupDelay
	startDrain := !b.draining
	b.draining = true
	summary := status.Summary()
	b.mu.Unlock()

	for _, f := range iconFiles {
		b.schedule(f, hold)
	}
	metrics.QueueDepth(depth)
	log.Printf("batch: %s queued %d build(s) for %s", id, len(req.Targets), status.AppName)
	b.broadcast(hub.BatchQueued, id, summary)

	if startDrain {
		go b.drain()
	}
	return id, nil
}

func (b *Batcher) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			return
		}
		item := b.queue[0]
		b.queue = b.queue[1:]
		depth := len(b.queue)
		appName := ""
		if st, ok := b.batches[item.BatchID]; ok {
			appName = st.AppName
			st.CurrentBuild = &model.CurrentBuildRef{Index: item.Index, URL: item.URL, APKName: item.APKName}
			st.Queue = removeItem(st.Queue, item.Index)
		}
		b.mu.Unlock()

		metrics.QueueDepth(depth)
		log.Printf("batch: %s building %d: %s", item.BatchID, item.Index+1, item.URL)
		b.record(item, b.runItem(item, appName))
	}
}

func (b *Batcher) runItem(item model.QueueItem, appName string) (outcome *model.BuildOutcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("batch: %s item %d panicked: %v", item.BatchID, item.Index, r)
			outcome = &model.BuildOutcome{URL: item.URL, APKName: item.APKName, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	out, err := b.builder.Run(b.ctx, Request{
		AppName:      appName,
		TargetURL:    item.URL,
		IconPath:     item.IconPath,
		ArtifactName: item.APKName,
	})
	if err != nil {
		return &model.BuildOutcome{URL: item.URL, APKName: item.APKName, Error: err.Error()}
	}
	return out
}

func (b *Batcher) record(item model.QueueItem, outcome *model.BuildOutcome) {
	outcome.URL = item.URL
	outcome.APKName = item.APKName

	b.mu.Lock()
	st, ok := b.batches[item.BatchID]
	if !ok {
		b.mu.Unlock()
		return
	}
	if outcome.Success {
		st.Completed = append(st.Completed, *outcome)
	} else {
		st.Failed = append(st.Failed, *outcome)
	}
	done := st.Recompute()
	var iconFiles []string
	if done {
		finished := b.now()
		st.FinishedAt = &finished
		iconFiles = b.icons[item.BatchID]
		delete(b.icons, item.BatchID)
	}
	summary := st.Summary()
	b.mu.Unlock()

	b.broadcast(hub.BatchItem, item.BatchID, outcome)
	if done {
		for _, f := range iconFiles {
			b.schedule(f, b.cleanupDelay)
		}
		log.Printf("batch: %s finished, %d succeeded, %d failed", item.BatchID, summary.Completed, summary.Failed)
		b.broadcast(hub.BatchCompleted, item.BatchID, summary)
	}
}

// Status returns a copy of the batch, with the live progress of its running item.
func (b *Batcher) Status(id string) (*model.BatchStatus, bool) {
	b.mu.Lock()
	st, ok := b.batches[id]
	if !ok {
		b.mu.Unlock()
		return nil, false
	}
	c := st.Clone()
	b.mu.Unlock()

	if c.CurrentBuild != nil {
		if bs := b.builder.Status(); bs.State.Active() {
			c.CurrentBuildProgress = bs.Progress
		}
	}
	return c, true
}

// List returns batch summaries, newest first.
func (b *Batcher) List() []model.BatchSummary {
	b.mu.Lock()
	out := make([]model.BatchSummary, 0, len(b.batches))
	for _, st := range b.batches {
		out = append(out, st.Summary())
	}
	b.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Pending is the number of items waiting for the build slot.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Evict drops completed batches started more than olderThan ago.
func (b *Batcher) Evict(olderThan time.Duration) int {
	cutoff := b.now().Add(-olderThan)
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, st := range b.batches {
		if st.AllCompleted && st.StartTime.Before(cutoff) {
			delete(b.batches, id)
			for name, owner := range b.names {
				if owner == id {
					delete(b.names, name)
				}
			}
			n++
		}
	}
	if n > 0 {
		log.Printf("batch: evicted %d finished batch(es)", n)
	}
	return n
}

func (b *Batcher) broadcast(typ, id string, payload interface{}) {
	if b.WS == nil {
		return
	}
	b.WS.Broadcast(hub.Event{Type: typ, BatchID: id, Payload: payload})
}

func (b *Batcher) schedule(path string, delay time.Duration) {
	if b.Cleanup != nil {
		b.Cleanup.ScheduleDeletion(path, delay)
	}
}

// claimName reserves an artifact name in the public directory for batch id,
// suffixing names already held by a live batch: x.apk, x-2.apk, ...
// Callers hold b.mu.
func (b *Batcher) claimName(id, name string) string {
	candidate := name
	for i := 2; b.names[candidate] != ""; i++ {
		candidate = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, model.APKExt), i, model.APKExt)
	}
	b.names[candidate] = id
	return candidate
}

func removeItem(queue []model.QueueItem, index int) []model.QueueItem {
	for i, q := range queue {
		if q.Index == index {
			return append(queue[:i:i], queue[i+1:]...)
		}
	}
	return queue
}
