package types

import (
	"time"
)

// BuildStatus is the lifecycle state of a folder build. Transitions are
// one way: pending -> running -> completed | failed.
type BuildStatus string

const (
	BuildPending   BuildStatus = "pending"
	BuildRunning   BuildStatus = "running"
	BuildCompleted BuildStatus = "completed"
	BuildFailed    BuildStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s BuildStatus) Terminal() bool {
	return s == BuildCompleted || s == BuildFailed
}

// BuildTask tracks one build across the folders it was asked to cover.
// Tasks live in process memory only and are not durable across restarts.
// Only one task may be non-terminal at any time, since every build mutates
// the shared vector store.
type BuildTask struct {
	TaskID     string      `json:"task_id"`
	MediaIDs   []int64     `json:"media_ids"`
	Status     BuildStatus `json:"status"`
	Progress   int         `json:"progress"`
	Message    string      `json:"message"`
	Total      int         `json:"total"`
	Processed  int         `json:"processed"`
	Added      int         `json:"added"`
	Removed    int         `json:"removed"`
	Degraded   int         `json:"degraded"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}
