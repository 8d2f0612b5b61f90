package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
)

// DefaultDelay applies when ScheduleDeletion is called without a delay.
const DefaultDelay = 10 * time.Minute

type Options struct {
	DefaultDelay time.Duration
	Interval     time.Duration
	Now          func() time.Time
}

// Scheduler deletes registered files once their expiry has passed. It assumes
// it is the only process touching the directories it manages.
type Scheduler struct {
	cron     *cron.Cron
	entries  map[string]time.Time // path → expiry
	sweeps   []sweep
	onTick   []func()
	onDelete []func(path string)
	delay    time.Duration
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

type sweep struct {
	dir    string
	maxAge time.Duration
}

type PassResult struct {
	Removed   int
	Remaining int
	Err       error
}

type PendingFile struct {
	Name             string    `json:"name"`
	Path             string    `json:"path"`
	RemainingMinutes int       `json:"remainingMinutes"`
	Size             int64     `json:"size"`
	ExpireAt         time.Time `json:"expireAt"`
}

func New(opts Options) *Scheduler {
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = DefaultDelay
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		cron:     cron.New(),
		entries:  make(map[string]time.Time),
		delay:    opts.DefaultDelay,
		interval: opts.Interval,
		now:      opts.Now,
	}
}

// ScheduleDeletion registers path for deletion after delay. Registering a path
// again replaces its expiry.
func (s *Scheduler) ScheduleDeletion(path string, delay time.Duration) time.Time {
	if delay <= 0 {
		delay = s.delay
	}
	expireAt := s.now().Add(delay)

	s.mu.Lock()
	s.entries[path] = expireAt
	s.mu.Unlock()

	log.Printf("cleanup: %s scheduled for deletion at %s", filepath.Base(path), expireAt.Format(time.RFC3339))
	return expireAt
}

// Sweep adds a directory to the stale-file sweep performed on every tick.
func (s *Scheduler) Sweep(dir string, maxAge time.Duration) {
	s.mu.Lock()
	s.sweeps = append(s.sweeps, sweep{dir: dir, maxAge: maxAge})
	s.mu.Unlock()
}

// OnTick registers fn to run after every scheduled pass.
func (s *Scheduler) OnTick(fn func()) {
	s.mu.Lock()
	s.onTick = append(s.onTick, fn)
	s.mu.Unlock()
}

// OnDelete registers fn to run for every path removed from the registry by a pass.
func (s *Scheduler) OnDelete(fn func(path string)) {
	s.mu.Lock()
	s.onDelete = append(s.onDelete, fn)
	s.mu.Unlock()
}

// RunPass deletes every expired entry. Missing files count as cleaned; failed
// deletions stay registered for the next pass and never stop the pass.
func (s *Scheduler) RunPass() PassResult {
	now := s.now()

	s.mu.Lock()
	expired := make(map[string]time.Time)
	for path, expireAt := range s.entries {
		if !now.Before(expireAt) {
			expired[path] = expireAt
		}
	}
	s.mu.Unlock()

	var errs *multierror.Error
	var removed []string
	for path := range expired {
		err := os.Remove(path)
		switch {
		case err == nil:
			log.Printf("cleanup: removed %s", filepath.Base(path))
			removed = append(removed, path)
		case errors.Is(err, fs.ErrNotExist):
			removed = append(removed, path)
		default:
			log.Printf("cleanup: remove %s: %v", path, err)
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", path, err))
		}
	}

	s.mu.Lock()
	for _, path := range removed {
		// Re-registered during the pass: keep the newer expiry.
		if s.entries[path].Equal(expired[path]) {
			delete(s.entries, path)
		}
	}
	remaining := len(s.entries)
	hooks := append([]func(string){}, s.onDelete...)
	s.mu.Unlock()

	sort.Strings(removed)
	for _, path := range removed {
		for _, fn := range hooks {
			fn(path)
		}
	}

	return PassResult{
		Removed:   len(removed),
		Remaining: remaining,
		Err:       errs.ErrorOrNil(),
	}
}

// SweepStale deletes regular files in dir last modified more than maxAge
// before now. Files for which keep returns true are left alone; keep may be nil.
func SweepStale(dir string, maxAge time.Duration, now time.Time, keep func(path string) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := now.Add(-maxAge)
	var errs *multierror.Error
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = multierror.Append(errs, err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if keep != nil && keep(path) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = multierror.Append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, errs.ErrorOrNil()
}

// Pending lists registered files, soonest expiry first.
func (s *Scheduler) Pending() []PendingFile {
	now := s.now()

	s.mu.Lock()
	files := make([]PendingFile, 0, len(s.entries))
	for path, expireAt := range s.entries {
		files = append(files, PendingFile{Name: filepath.Base(path), Path: path, ExpireAt: expireAt})
	}
	s.mu.Unlock()

	for i := range files {
		remaining := files[i].ExpireAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		files[i].RemainingMinutes = int(math.Ceil(remaining.Minutes()))
		if info, err := os.Stat(files[i].Path); err == nil {
			files[i].Size = info.Size()
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].ExpireAt.Equal(files[j].ExpireAt) {
			return files[i].Path < files[j].Path
		}
		return files[i].ExpireAt.Before(files[j].ExpireAt)
	})
	return files
}

// NextExpiry returns the soonest registered expiry.
func (s *Scheduler) NextExpiry() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	for _, expireAt := range s.entries {
		if next.IsZero() || expireAt.Before(next) {
			next = expireAt
		}
	}
	return next, !next.IsZero()
}

func (s *Scheduler) Scheduled(path string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.entries[path]
	return t, ok
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) Start() error {
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return fmt.Errorf("schedule cleanup with '%s': %w", spec, err)
	}
	s.cron.Start()
	log.Printf("cleanup: scheduler started, pass every %s", s.interval)
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("cleanup: scheduler stopped")
}

func (s *Scheduler) tick() {
	res := s.RunPass()
	if res.Removed > 0 || res.Err != nil {
		log.Printf("cleanup: pass removed %d, %d remaining", res.Removed, res.Remaining)
	}

	now := s.now()
	s.mu.Lock()
	sweeps := append([]sweep{}, s.sweeps...)
	hooks := append([]func(){}, s.onTick...)
	// registered files are owned by the registry until they expire
	held := make(map[string]bool, len(s.entries))
	for path, expireAt := range s.entries {
		if expireAt.After(now) {
			held[filepath.Clean(path)] = true
		}
	}
	s.mu.Unlock()

	keep := func(path string) bool { return held[filepath.Clean(path)] }
	for _, sw := range sweeps {
		n, err := SweepStale(sw.dir, sw.maxAge, now, keep)
		if err != nil {
			log.Printf("cleanup: sweep %s: %v", sw.dir, err)
		}
		if n > 0 {
			log.Printf("cleanup: swept %d stale file(s) from %s", n, sw.dir)
		}
	}
	for _, fn := range hooks {
		fn()
	}
}
