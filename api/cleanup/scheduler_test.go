package cleanup

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestScheduler() (*Scheduler, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(Options{Interval: time.Minute, Now: clock.Now}), clock
}

func writeFile(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))
	return path
}

func TestScheduleDeletionExpires(t *testing.T) {
	s, clock := newTestScheduler()
	path := writeFile(t, t.TempDir(), "a.apk")

	s.ScheduleDeletion(path, 10*time.Minute)

	clock.Advance(9 * time.Minute)
	res := s.RunPass()
	assert.Equal(t, 0, res.Removed)
	assert.Equal(t, 1, res.Remaining)
	assert.FileExists(t, path)

	clock.Advance(time.Minute)
	res = s.RunPass()
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, res.Remaining)
	assert.NoFileExists(t, path)
	_, ok := s.Scheduled(path)
	assert.False(t, ok)
}

func TestDefaultDelay(t *testing.T) {
	s, clock := newTestScheduler()
	expireAt := s.ScheduleDeletion("/nonexistent/file", 0)
	assert.Equal(t, clock.Now().Add(DefaultDelay), expireAt)
}

func TestReRegisterOverwrites(t *testing.T) {
	s, clock := newTestScheduler()
	path := writeFile(t, t.TempDir(), "b.png")

	s.ScheduleDeletion(path, time.Minute)
	s.ScheduleDeletion(path, 20*time.Minute)
	assert.Equal(t, 1, s.Len())

	clock.Advance(5 * time.Minute)
	assert.Equal(t, 0, s.RunPass().Removed)
	assert.FileExists(t, path)

	clock.Advance(15 * time.Minute)
	assert.Equal(t, 1, s.RunPass().Removed)
}

func TestMissingFileIsCleaned(t *testing.T) {
	s, clock := newTestScheduler()
	s.ScheduleDeletion(filepath.Join(t.TempDir(), "gone.apk"), time.Minute)

	clock.Advance(time.Minute)
	res := s.RunPass()
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, s.Len())
}

func TestFailedDeletionIsRetained(t *testing.T) {
	s, clock := newTestScheduler()
	dir := t.TempDir()

	// A non-empty directory cannot be removed with os.Remove.
	stuck := filepath.Join(dir, "stuck")
	require.NoError(t, os.Mkdir(stuck, 0o755))
	writeFile(t, stuck, "inner")
	ok := writeFile(t, dir, "ok.apk")

	s.ScheduleDeletion(stuck, time.Minute)
	s.ScheduleDeletion(ok, time.Minute)
	clock.Advance(2 * time.Minute)

	res := s.RunPass()
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 1, res.Remaining)
	assert.NoFileExists(t, ok)
	_, retained := s.Scheduled(stuck)
	assert.True(t, retained)

	require.NoError(t, os.Remove(filepath.Join(stuck, "inner")))
	res = s.RunPass()
	require.NoError(t, res.Err)
	assert.Equal(t, 1, res.Removed)
	assert.Equal(t, 0, res.Remaining)
}

func TestRunPassIdempotent(t *testing.T) {
	s, clock := newTestScheduler()
	dir := t.TempDir()
	s.ScheduleDeletion(writeFile(t, dir, "1.apk"), time.Minute)
	s.ScheduleDeletion(writeFile(t, dir, "2.apk"), time.Minute)
	clock.Advance(time.Minute)

	assert.Equal(t, 2, s.RunPass().Removed)
	second := s.RunPass()
	assert.Equal(t, 0, second.Removed)
	assert.Equal(t, 0, second.Remaining)
}

func TestOnDeleteHook(t *testing.T) {
	s, clock := newTestScheduler()
	path := writeFile(t, t.TempDir(), "c.apk")
	var deleted []string
	s.OnDelete(func(p string) { deleted = append(deleted, p) })

	s.ScheduleDeletion(path, time.Minute)
	clock.Advance(time.Minute)
	s.RunPass()

	assert.Equal(t, []string{path}, deleted)
}

func TestPendingAndNextExpiry(t *testing.T) {
	s, clock := newTestScheduler()
	dir := t.TempDir()
	late := writeFile(t, dir, "late.apk")
	soon := writeFile(t, dir, "soon.apk")

	_, ok := s.NextExpiry()
	assert.False(t, ok)

	s.ScheduleDeletion(late, 10*time.Minute)
	s.ScheduleDeletion(soon, 90*time.Second)

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "soon.apk", pending[0].Name)
	assert.Equal(t, 2, pending[0].RemainingMinutes)
	assert.Equal(t, int64(4), pending[0].Size)
	assert.Equal(t, 10, pending[1].RemainingMinutes)

	next, ok := s.NextExpiry()
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(90*time.Second), next)
}

func TestSweepStale(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "old.png")
	fresh := writeFile(t, dir, "fresh.png")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	now := time.Now()
	require.NoError(t, os.Chtimes(old, now.Add(-2*time.Hour), now.Add(-2*time.Hour)))

	n, err := SweepStale(dir, time.Hour, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func TestSweepStaleMissingDir(t *testing.T) {
	n, err := SweepStale(filepath.Join(t.TempDir(), "nope"), time.Minute, time.Now(), nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestTickRunsSweepsAndHooks(t *testing.T) {
	s, _ := newTestScheduler()
	dir := t.TempDir()
	stale := writeFile(t, dir, "stale.png")
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(stale, past, past))

	ticks := 0
	s.Sweep(dir, time.Hour)
	s.OnTick(func() { ticks++ })
	s.tick()

	assert.NoFileExists(t, stale)
	assert.Equal(t, 1, ticks)
}

func TestTickSweepSparesHeldFiles(t *testing.T) {
	s, clock := newTestScheduler()
	dir := t.TempDir()
	held := writeFile(t, dir, "processed-batch-icon.png")
	orphan := writeFile(t, dir, "batch-icon-1.png")
	aged := clock.Now().Add(-31 * time.Minute)
	require.NoError(t, os.Chtimes(held, aged, aged))
	require.NoError(t, os.Chtimes(orphan, aged, aged))

	// a long batch holds its icon past the upload max age
	s.ScheduleDeletion(held, 2*time.Hour)
	s.Sweep(dir, 30*time.Minute)
	s.tick()

	assert.FileExists(t, held)
	assert.NoFileExists(t, orphan)

	// once the hold lapses the registry removes it on the next pass
	clock.Advance(2*time.Hour + time.Second)
	s.tick()
	assert.NoFileExists(t, held)
}

func TestSweepStaleKeep(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.png")
	b := writeFile(t, dir, "b.png")
	now := time.Now()
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(a, old, old))
	require.NoError(t, os.Chtimes(b, old, old))

	n, err := SweepStale(dir, time.Hour, now, func(p string) bool { return p == a })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, a)
	assert.NoFileExists(t, b)
}
