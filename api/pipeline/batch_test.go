package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apkforge/api/hub"
	"apkforge/api/model"
	"apkforge/api/runtime"
)

// failingOn builds every target except those whose url contains marker, and
// records the order in which targets were built.
func failingOn(t *testing.T, marker string, order *[]string, mu *sync.Mutex) runFunc {
	return func(ctx context.Context, opts runtime.RunOpts, onLine func(runtime.Line)) (*runtime.RunResult, error) {
		d := readDescriptor(t, opts.Dir)
		mu.Lock()
		*order = append(*order, d.AppURL)
		mu.Unlock()
		if marker != "" && strings.Contains(d.AppURL, marker) {
			onLine(runtime.Line{Stream: runtime.Stderr, Text: "gradle exploded"})
			return &runtime.RunResult{ExitCode: 1}, nil
		}
		return succeed("BUILD SUCCESSFUL")(ctx, opts, onLine)
	}
}

func newTestBatcher(env *testEnv) *Batcher {
	b := NewBatcher(context.Background(), env.builder, env.icons, time.Minute, 10*time.Minute)
	b.Cleanup = env.cleanup
	b.WS = env.ws
	return b
}

func waitBatch(t *testing.T, b *Batcher, id string) *model.BatchStatus {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := b.Status(id)
		return ok && st.AllCompleted
	}, 5*time.Second, 5*time.Millisecond)
	st, _ := b.Status(id)
	require.Empty(t, st.Queue, "queue must be empty once all builds finished")
	return st
}

func TestBatchSecondItemFails(t *testing.T) {
	var order []string
	var mu sync.Mutex
	env := newTestEnv(t, nil)
	env.runner.fn = failingOn(t, "broken", &order, &mu)
	batcher := newTestBatcher(env)

	id, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:   "Shop",
		APKPrefix: "shop_",
		Targets: []Target{
			{URL: "https://one.example.com/?fb_pixel_id=11"},
			{URL: "https://broken.example.com"},
			{URL: "https://three.example.com", FBPixelID: "33"},
		},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)

	st := waitBatch(t, batcher, id)
	assert.Equal(t, 3, st.TotalBuilds)
	require.Len(t, st.Completed, 2)
	require.Len(t, st.Failed, 1)
	assert.Nil(t, st.CurrentBuild)
	assert.Equal(t, 100, st.Progress)

	assert.Equal(t, "shop_11.apk", st.Completed[0].APKName)
	assert.Equal(t, "/api/download/shop_11.apk", st.Completed[0].DownloadURL)
	assert.Equal(t, "shop_33.apk", st.Completed[1].APKName)
	assert.Equal(t, "https://broken.example.com", st.Failed[0].URL)
	assert.Equal(t, "shop_broken_example_com.apk", st.Failed[0].APKName)
	assert.Contains(t, st.Failed[0].Error, "exited with code 1")

	assert.FileExists(t, filepath.Join(env.publicDir, "shop_11.apk"))
	assert.FileExists(t, filepath.Join(env.publicDir, "shop_33.apk"))
	assert.NoFileExists(t, filepath.Join(env.publicDir, "shop_broken_example_com.apk"))

	assert.Equal(t, []string{
		"https://one.example.com/?fb_pixel_id=11",
		"https://broken.example.com",
		"https://three.example.com",
	}, order)
	assert.Len(t, env.ws.OfType(hub.BatchCompleted), 1)
	assert.Len(t, env.ws.OfType(hub.BatchItem), 3)

	// Icon held while queued, then released with the default delay.
	delay, ok := env.cleanup.Delay(env.iconPath)
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, delay)
}

func TestBatchInvalidURLRejectsAll(t *testing.T) {
	env := newTestEnv(t, succeed())
	batcher := newTestBatcher(env)

	_, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:   "Shop",
		APKPrefix: "shop_",
		Targets: []Target{
			{URL: "https://ok.example.com"},
			{URL: "not a url"},
		},
		RawIconPath: env.iconPath,
	})

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 1)
	assert.Contains(t, verr.Problems[0], "urls[1]")
	assert.Contains(t, verr.Problems[0], "not a url")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, batcher.List())
	assert.Equal(t, 0, batcher.Pending())
	assert.Equal(t, 0, env.icons.calls)
	assert.Equal(t, 0, env.runner.Calls())
}

func TestBatchRequiresFields(t *testing.T) {
	env := newTestEnv(t, succeed())
	batcher := newTestBatcher(env)

	_, err := batcher.Submit(context.Background(), BatchRequest{})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Problems, 4)
	assert.Contains(t, verr.Problems, "apk prefix is required")
}

func TestBatchesDrainFIFO(t *testing.T) {
	var order []string
	var mu sync.Mutex
	release := make(chan struct{})
	env := newTestEnv(t, nil)
	inner := failingOn(t, "", &order, &mu)
	env.runner.fn = func(ctx context.Context, opts runtime.RunOpts, onLine func(runtime.Line)) (*runtime.RunResult, error) {
		<-release
		return inner(ctx, opts, onLine)
	}
	batcher := newTestBatcher(env)

	first, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "A",
		APKPrefix:   "x_",
		Targets:     []Target{{URL: "https://a1.example.com"}, {URL: "https://a2.example.com"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)
	second, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "B",
		APKPrefix:   "x_",
		Targets:     []Target{{URL: "https://b1.example.com"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _ := batcher.Status(first)
		return st.CurrentBuild != nil
	}, 5*time.Second, 5*time.Millisecond)
	st, _ := batcher.Status(first)
	assert.Equal(t, 0, st.CurrentBuild.Index)
	assert.Equal(t, 2, batcher.Pending())

	close(release)
	waitBatch(t, batcher, first)
	waitBatch(t, batcher, second)

	assert.Equal(t, []string{"https://a1.example.com", "https://a2.example.com", "https://b1.example.com"}, order)

	list := batcher.List()
	require.Len(t, list, 2)
	for _, s := range list {
		assert.True(t, s.AllCompleted)
	}
}

func TestBatchDuplicateNames(t *testing.T) {
	env := newTestEnv(t, succeed())
	batcher := newTestBatcher(env)

	id, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "Dup",
		APKPrefix:   "p_",
		Targets:     []Target{{URL: "https://same.example.com/a"}, {URL: "https://same.example.com/b"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)
	st := waitBatch(t, batcher, id)
	require.Len(t, st.Completed, 2)
	assert.Equal(t, "p_same_example_com.apk", st.Completed[0].APKName)
	assert.Equal(t, "p_same_example_com-2.apk", st.Completed[1].APKName)

	// A later batch with the same prefix must not overwrite the published files.
	again, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "Dup",
		APKPrefix:   "p_",
		Targets:     []Target{{URL: "https://same.example.com/c"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)
	st = waitBatch(t, batcher, again)
	require.Len(t, st.Completed, 1)
	assert.Equal(t, "p_same_example_com-3.apk", st.Completed[0].APKName)
	assert.FileExists(t, filepath.Join(env.publicDir, "p_same_example_com.apk"))
	assert.FileExists(t, filepath.Join(env.publicDir, "p_same_example_com-3.apk"))

	// Names are released with the batch that owned them.
	batcher.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	require.Equal(t, 2, batcher.Evict(time.Hour))
	batcher.now = time.Now
	fresh, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "Dup",
		APKPrefix:   "p_",
		Targets:     []Target{{URL: "https://same.example.com/d"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)
	st = waitBatch(t, batcher, fresh)
	assert.Equal(t, "p_same_example_com.apk", st.Completed[0].APKName)
}

func TestBatchQueueShrinksAsItemsStart(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, nil)
	env.runner.fn = func(ctx context.Context, opts runtime.RunOpts, onLine func(runtime.Line)) (*runtime.RunResult, error) {
		<-release
		return succeed("BUILD SUCCESSFUL")(ctx, opts, onLine)
	}
	batcher := newTestBatcher(env)

	id, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "Shop",
		APKPrefix:   "shop_",
		Targets:     []Target{{URL: "https://a.example.com"}, {URL: "https://b.example.com"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, _ := batcher.Status(id)
		return st.CurrentBuild != nil
	}, 5*time.Second, 5*time.Millisecond)
	st, _ := batcher.Status(id)
	require.Len(t, st.Queue, 1)
	assert.Equal(t, "https://b.example.com", st.Queue[0].URL)

	close(release)
	st = waitBatch(t, batcher, id)
	assert.Len(t, st.Completed, 2)
}

func TestBatchEvict(t *testing.T) {
	env := newTestEnv(t, succeed())
	batcher := newTestBatcher(env)

	id, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "Old",
		APKPrefix:   "x_",
		Targets:     []Target{{URL: "https://old.example.com"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)
	waitBatch(t, batcher, id)

	assert.Equal(t, 0, batcher.Evict(time.Hour))

	batcher.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Equal(t, 1, batcher.Evict(time.Hour))
	_, ok := batcher.Status(id)
	assert.False(t, ok)
}

func TestBatchStatusUnknown(t *testing.T) {
	env := newTestEnv(t, succeed())
	_, ok := newTestBatcher(env).Status("missing")
	assert.False(t, ok)
}

func TestBatchCancelledContextFailsItems(t *testing.T) {
	env := newTestEnv(t, succeed())
	ctx, cancel := context.WithCancel(context.Background())
	batcher := NewBatcher(ctx, env.builder, env.icons, time.Minute, 10*time.Minute)

	// Hold the slot so the drainer has to wait for it.
	env.builder.slot <- struct{}{}
	id, err := batcher.Submit(context.Background(), BatchRequest{
		AppName:     "Stopped",
		APKPrefix:   "x_",
		Targets:     []Target{{URL: "https://a.example.com"}},
		RawIconPath: env.iconPath,
	})
	require.NoError(t, err)
	cancel()

	st := waitBatch(t, batcher, id)
	require.Len(t, st.Failed, 1)
	assert.Contains(t, st.Failed[0].Error, "context canceled")
	assert.Equal(t, 0, env.runner.Calls())
}
