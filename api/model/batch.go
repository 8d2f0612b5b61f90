package model

import "time"

type QueueItem struct {
	BatchID    string `json:"batchId"`
	Index      int    `json:"index"`
	URL        string `json:"url"`
	IconPath   string `json:"-"`
	NamePrefix string `json:"namePrefix"`
	FBPixelID  string `json:"fbPixelId,omitempty"`
	APKName    string `json:"apkName"`
}

type CurrentBuildRef struct {
	Index   int    `json:"index"`
	URL     string `json:"url"`
	APKName string `json:"apkName"`
}

type BatchStatus struct {
	ID                   string           `json:"id"`
	AppName              string           `json:"appName"`
	APKPrefix            string           `json:"apkPrefix"`
	TotalBuilds          int              `json:"totalBuilds"`
	Queue                []QueueItem      `json:"queue"`
	Completed            []BuildOutcome   `json:"completed"`
	Failed               []BuildOutcome   `json:"failed"`
	CurrentBuild         *CurrentBuildRef `json:"currentBuild"`
	AllCompleted         bool             `json:"allCompleted"`
	StartTime            time.Time        `json:"startTime"`
	FinishedAt           *time.Time       `json:"finishedAt,omitempty"`
	Progress             int              `json:"progress"`
	CurrentBuildProgress int              `json:"currentBuildProgress"`
}

// Finished is the number of items that have either completed or failed.
func (b *BatchStatus) Finished() int {
	return len(b.Completed) + len(b.Failed)
}

// Recompute refreshes the derived fields after an item finished. It returns
// true only on the call that first observes the batch as complete.
func (b *BatchStatus) Recompute() bool {
	if b.TotalBuilds > 0 {
		b.Progress = b.Finished() * 100 / b.TotalBuilds
	}
	if b.AllCompleted {
		return false
	}
	if b.Finished() >= b.TotalBuilds {
		b.AllCompleted = true
		b.CurrentBuild = nil
		b.Progress = 100
		return true
	}
	return false
}

// Clone returns a deep copy safe to hand to readers.
func (b *BatchStatus) Clone() *BatchStatus {
	c := *b
	c.Queue = append([]QueueItem{}, b.Queue...)
	c.Completed = append([]BuildOutcome{}, b.Completed...)
	c.Failed = append([]BuildOutcome{}, b.Failed...)
	if b.CurrentBuild != nil {
		cur := *b.CurrentBuild
		c.CurrentBuild = &cur
	}
	if b.FinishedAt != nil {
		t := *b.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

type BatchSummary struct {
	ID           string    `json:"id"`
	AppName      string    `json:"appName"`
	TotalBuilds  int       `json:"totalBuilds"`
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	AllCompleted bool      `json:"allCompleted"`
	StartTime    time.Time `json:"startTime"`
}

func (b *BatchStatus) Summary() BatchSummary {
	return BatchSummary{
		ID:           b.ID,
		AppName:      b.AppName,
		TotalBuilds:  b.TotalBuilds,
		Completed:    len(b.Completed),
		Failed:       len(b.Failed),
		AllCompleted: b.AllCompleted,
		StartTime:    b.StartTime,
	}
}
