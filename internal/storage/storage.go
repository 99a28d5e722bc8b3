// Package storage defines the replay run log.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a replay run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Run records one replay served to a client.
type Run struct {
	ID           string        `json:"id"`
	Fixture      string        `json:"fixture"`
	ReplayType   string        `json:"replay_type"`
	Transport    string        `json:"transport"` // sse, websocket, cli
	Status       RunStatus     `json:"status"`
	Interactions int           `json:"interactions"`
	Chunks       int           `json:"chunks"`
	Tokens       int           `json:"tokens"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
	Duration     time.Duration `json:"duration_ns"`
}

// ListOptions filters ListRuns. Runs come back newest first.
type ListOptions struct {
	Fixture string
	Status  RunStatus
	Limit   int
	Offset  int
}

// RunStore persists runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]*Run, error)
	Close() error
}

// Finish stamps the terminal state of run.
func (r *Run) Finish(status RunStatus, err error, now time.Time) {
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = now
	r.Duration = now.Sub(r.StartedAt)
}
