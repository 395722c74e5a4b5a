package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	StatusQueued    TaskStatus = "queued"
	StatusDeferred  TaskStatus = "deferred"
	StatusScheduled TaskStatus = "scheduled"
	StatusRunning   TaskStatus = "running"
	StatusFinished  TaskStatus = "finished"
	StatusFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

type Task struct {
	ID         string          `json:"id"`
	Func       string          `json:"func"`
	Args       json.RawMessage `json:"args,omitempty"`
	Queue      string          `json:"queue"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	StreamID   string          `json:"stream_id,omitempty"`
	Status     TaskStatus      `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Attempts   int             `json:"attempts"`
	MaxRetries int             `json:"max_retries"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  time.Time       `json:"started_at"`
	EndedAt    time.Time       `json:"ended_at"`
}

// EventsID is the progress stream the task reports into.
func (t Task) EventsID() string {
	if t.StreamID != "" {
		return t.StreamID
	}
	return t.ID
}

// EnqueueRequest describes a task to be recorded by the work queue. TaskID and
// StreamID are optional; a uuid is issued when TaskID is empty.
type EnqueueRequest struct {
	Queue      string
	Func       string
	Args       any
	DependsOn  []string
	TaskID     string
	StreamID   string
	MaxRetries int
}
