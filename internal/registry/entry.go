package registry

import (
	"context"
	"sync"
	"time"

	"github.com/podushkina/sarflow/internal/task"
)

// Entry is one task's mutable state. Everything except the cancellation
// request is written only by the task's own execution flow; readers get
// copies.
type Entry struct {
	mu      sync.RWMutex
	t       task.Task
	spec    task.JobSpec
	ctx     context.Context
	cancel  context.CancelFunc
	began   bool
	claimed bool
}

func NewEntry(parent context.Context, id string, spec task.JobSpec, now time.Time) *Entry {
	ctx, cancel := context.WithCancel(parent)
	return &Entry{
		t: task.Task{
			ID:        id,
			JobID:     spec.JobID,
			Name:      spec.Name,
			Status:    task.StatusPending,
			StartedAt: now,
			Steps:     []task.StepResult{},
		},
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (e *Entry) ID() string {
	return e.t.ID
}

func (e *Entry) Spec() task.JobSpec {
	return e.spec
}

// Context is cancelled when the task is cancelled or the process shuts down.
func (e *Entry) Context() context.Context {
	return e.ctx
}

// Begin moves a pending task to processing. It reports false when the task
// was cancelled before it got a worker.
func (e *Entry) Begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t.Status != task.StatusPending {
		return false
	}
	e.t.Status = task.StatusProcessing
	e.began = true
	return true
}

// Began reports whether the task ever got a worker.
func (e *Entry) Began() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.began
}

func (e *Entry) SetStage(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.t.Status.Terminal() {
		e.t.CurrentStage = name
	}
}

// AddStep appends r and raises progress. Progress never moves backwards and
// is frozen once the task is terminal.
func (e *Entry) AddStep(r task.StepResult, progress int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.t.Steps = append(e.t.Steps, r)
	if e.t.Status == task.StatusProcessing && progress > e.t.Progress {
		e.t.Progress = progress
	}
}

// Finish moves the task into a terminal status. Terminal statuses are sinks,
// so Finish on a finished task is a no-op that reports false.
func (e *Entry) Finish(status task.Status, msg string, at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finishLocked(status, msg, at)
}

func (e *Entry) finishLocked(status task.Status, msg string, at time.Time) bool {
	if e.t.Status.Terminal() {
		return false
	}

	e.t.Status = status
	e.t.EndedAt = &at
	switch status {
	case task.StatusCompleted:
		e.t.Progress = 100
	case task.StatusFailed:
		e.t.Error = msg
	}
	e.cancel()
	return true
}

// Cancel requests cooperative cancellation. It reports true only for the
// call that moved an active task to cancelled.
func (e *Entry) Cancel(at time.Time) bool {
	return e.Finish(task.StatusCancelled, "", at)
}

// CancelWith is Cancel that also runs then, with the stage the task was in,
// before the entry is unlocked. Nothing can mark the task done until then
// returns.
func (e *Entry) CancelWith(at time.Time, then func(stage string)) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finishLocked(task.StatusCancelled, "", at) {
		return false
	}
	if then != nil {
		then(e.t.CurrentStage)
	}
	return true
}

// Claim hands the finishing work for a terminal task to exactly one caller.
func (e *Entry) Claim() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.t.Status.Terminal() || e.claimed {
		return false
	}
	e.claimed = true
	return true
}

// MarkDone flags a terminal task whose log is complete.
func (e *Entry) MarkDone() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t.Status.Terminal() {
		e.t.Done = true
	}
}

func (e *Entry) Cancelled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.t.Status == task.StatusCancelled
}

func (e *Entry) Status() task.Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.t.Status
}

func (e *Entry) Snapshot() *task.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.t.Clone()
}

func (e *Entry) Summary() task.Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.t.Summary()
}
