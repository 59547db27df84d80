package task

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult is immutable once appended to a task. Its JSON form is defined
// in stage.go.
type StepResult struct {
	Stage     string
	Status    StepStatus
	StartedAt time.Time
	EndedAt   time.Time
	Duration  time.Duration
	Message   string
	Data      StageData
}

// Task is the status view of one processing job. Values handed out by the
// registry are copies and safe to read without locking.
type Task struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	Name         string       `json:"name"`
	Status       Status       `json:"status"`
	Progress     int          `json:"progress"`
	CurrentStage string       `json:"current_stage"`
	StartedAt    time.Time    `json:"started_at"`
	EndedAt      *time.Time   `json:"ended_at,omitempty"`
	Error        string       `json:"error,omitempty"`
	// Done is set after a terminal task's last log entry is written.
	Done         bool         `json:"done"`
	Steps        []StepResult `json:"steps"`
}

type Summary struct {
	ID        string     `json:"id"`
	JobID     string     `json:"job_id"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Done      bool       `json:"done"`
}

func (t *Task) Summary() Summary {
	return Summary{
		ID:        t.ID,
		JobID:     t.JobID,
		Name:      t.Name,
		Status:    t.Status,
		Progress:  t.Progress,
		StartedAt: t.StartedAt,
		EndedAt:   t.EndedAt,
		Done:      t.Done,
	}
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	if t.EndedAt != nil {
		end := *t.EndedAt
		c.EndedAt = &end
	}
	c.Steps = make([]StepResult, len(t.Steps))
	copy(c.Steps, t.Steps)
	return &c
}
