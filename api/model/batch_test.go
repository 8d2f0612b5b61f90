package model

import "testing"

func TestBuildStates(t *testing.T) {
	states := []BuildState{StateIdle, StateConfiguring, StateRunning, StateSucceeded, StateFailed}

	seen := map[BuildState]bool{}
	for _, s := range states {
		if seen[s] {
			t.Errorf("duplicate state: %q", s)
		}
		seen[s] = true
		if s.Active() && s.Terminal() {
			t.Errorf("state %q is both active and terminal", s)
		}
	}
	if !StateRunning.Active() || StateIdle.Active() {
		t.Error("Active() mismatch")
	}
}

func TestBatchRecomputeCompletesOnce(t *testing.T) {
	b := &BatchStatus{TotalBuilds: 2, CurrentBuild: &CurrentBuildRef{Index: 0}}

	b.Completed = append(b.Completed, BuildOutcome{Success: true})
	if b.Recompute() {
		t.Fatal("completed after 1 of 2")
	}
	if b.Progress != 50 {
		t.Errorf("Progress = %d, want 50", b.Progress)
	}

	b.Failed = append(b.Failed, BuildOutcome{Error: "boom"})
	if !b.Recompute() {
		t.Fatal("expected completion on 2 of 2")
	}
	if !b.AllCompleted || b.CurrentBuild != nil || b.Progress != 100 {
		t.Errorf("unexpected state after completion: %+v", b)
	}
	if b.Recompute() {
		t.Error("completion reported twice")
	}
}

func TestBatchClone(t *testing.T) {
	b := &BatchStatus{
		Queue:        []QueueItem{{Index: 1}},
		Completed:    []BuildOutcome{{APKName: "a.apk"}},
		CurrentBuild: &CurrentBuildRef{Index: 1},
	}
	c := b.Clone()
	c.Queue[0].Index = 9
	c.Completed[0].APKName = "b.apk"
	c.CurrentBuild.Index = 5

	if b.Queue[0].Index != 1 || b.Completed[0].APKName != "a.apk" || b.CurrentBuild.Index != 1 {
		t.Error("clone shares memory with original")
	}
}
