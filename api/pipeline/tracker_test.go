package pipeline

import (
	"testing"

	"apkforge/api/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerInitialState(t *testing.T) {
	s := NewTracker().Snapshot()
	assert.Equal(t, model.StateIdle, s.State)
	assert.False(t, s.IsBuilding)
	assert.NotNil(t, s.Logs)
	assert.Nil(t, s.BuildID)
}

func TestTrackerProgressMonotonic(t *testing.T) {
	tr := NewTracker()
	tr.Reset("b1", "Demo")

	p, changed := tr.SetProgress(40)
	assert.True(t, changed)
	assert.Equal(t, 40, p)

	p, changed = tr.SetProgress(10)
	assert.False(t, changed)
	assert.Equal(t, 40, p)

	p, _ = tr.SetProgress(250)
	assert.Equal(t, 100, p)
}

func TestTrackerFinishForcesComplete(t *testing.T) {
	tr := NewTracker()
	tr.Reset("b1", "Demo")
	tr.SetProgress(30)
	tr.Finish(false, "/api/download/ignored.apk")

	s := tr.Snapshot()
	assert.Equal(t, model.StateFailed, s.State)
	assert.Equal(t, 100, s.Progress)
	assert.True(t, s.Completed)
	assert.False(t, s.Success)
	assert.False(t, s.IsBuilding)
	assert.Nil(t, s.DownloadURL, "failed builds carry no download url")
	assert.NotNil(t, s.FinishedAt)
}

func TestTrackerResetClearsPrevious(t *testing.T) {
	tr := NewTracker()
	tr.Reset("b1", "First")
	tr.Log(model.LogInfo, "hello")
	tr.Finish(true, "/api/download/a.apk")

	tr.Reset("b2", "Second")
	s := tr.Snapshot()
	require.NotNil(t, s.BuildID)
	assert.Equal(t, "b2", *s.BuildID)
	assert.Empty(t, s.Logs)
	assert.Equal(t, 0, s.Progress)
	assert.Nil(t, s.DownloadURL)
	assert.True(t, s.IsBuilding)
	assert.Equal(t, model.StateConfiguring, s.State)
}

func TestTrackerSnapshotIsCopy(t *testing.T) {
	tr := NewTracker()
	tr.Reset("b1", "Demo")
	tr.Log(model.LogInfo, "one")

	s := tr.Snapshot()
	s.Logs[0].Message = "mutated"
	*s.BuildID = "other"

	again := tr.Snapshot()
	assert.Equal(t, "one", again.Logs[0].Message)
	assert.Equal(t, "b1", *again.BuildID)
}

func TestTrackerLogEntry(t *testing.T) {
	tr := NewTracker()
	e := tr.Log(model.LogError, "boom")
	assert.Equal(t, model.LogError, e.Kind)
	assert.Regexp(t, `^\d\d:\d\d:\d\d$`, e.Timestamp)
}
