// Package tasks defines the envelope the service surface pushes through a
// pipeline of queues. The queue itself accepts any value; the server wraps
// work in a Task so outcomes can be recorded and looked up by ID.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Task represents a unit of work travelling through the pipeline.
//
// The Type field selects the processor used by each stage, while the Payload
// contains the actual job-specific data. Stage is updated by every stage that
// handles the task so a recorded outcome shows how far it got.
type Task struct {
	// ID is a unique identifier for the task (typically UUID).
	ID string `json:"id"`

	// Type categorizes the task for routing and metrics (e.g., "email", "notification").
	Type string `json:"type"`

	// Payload contains the job-specific data as a generic interface.
	// Processors are responsible for type assertion based on the Type field.
	Payload interface{} `json:"payload"`

	// CreatedAt is the timestamp when the task was first submitted.
	CreatedAt time.Time `json:"created_at"`

	// Priority orders the task inside stages running in priority mode.
	// Higher priority tasks are processed before lower priority ones.
	Priority int `json:"priority"`

	// Stage is the name of the last stage that processed the task.
	Stage string `json:"stage,omitempty"`
}

const (
	PriorityLow     = 0
	PriorityDefault = 1
	PriorityHigh    = 2
)

// New creates a task with a fresh ID.
func New(taskType string, payload interface{}, priority int) Task {
	return Task{
		ID:        uuid.New().String(),
		Type:      taskType,
		Payload:   payload,
		CreatedAt: time.Now(),
		Priority:  priority,
	}
}

// Clone returns a copy of t with a new ID and creation time. Scheduled
// templates are cloned on every run so each run is tracked separately.
func (t Task) Clone() Task {
	c := t
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now()
	c.Stage = ""
	return c
}
