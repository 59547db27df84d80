package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/podushkina/sarflow/internal/events"
	"github.com/podushkina/sarflow/internal/logsink"
	"github.com/podushkina/sarflow/internal/registry"
	"github.com/podushkina/sarflow/internal/task"
)

// ErrCancelled reports that a stage was not run, or was interrupted, because
// its task was cancelled. It is an outcome, not a failure.
var ErrCancelled = errors.New("task cancelled")

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Work is the body of one stage. It logs through sc and returns the stage's
// typed result.
type Work func(ctx context.Context, sc *logsink.Scope) (task.StageData, error)

type Stage struct {
	Name string
	Work Work
}

type Executor struct {
	sink   *logsink.Sink
	events *events.Broker
	now    func() time.Time
}

func New(sink *logsink.Sink, broker *events.Broker) *Executor {
	return &Executor{sink: sink, events: broker, now: time.Now}
}

// Run executes stage index of total for e. A completed stage raises the
// task's progress to floor((index+1)/total*100). A failing stage is recorded
// and returned as *StageError; a cancelled one as ErrCancelled.
func (x *Executor) Run(e *registry.Entry, index, total int, st Stage) (task.StepResult, error) {
	ctx := e.Context()
	if e.Cancelled() || ctx.Err() != nil {
		return task.StepResult{}, ErrCancelled
	}

	sc := x.sink.Scope(e.ID(), st.Name)
	e.SetStage(st.Name)
	x.publish(e, events.KindStage, "")
	sc.Log(task.LevelInfo, fmt.Sprintf("starting %s", st.Name), task.Fields{"index": index + 1, "total": total})

	start := x.now()
	data, err := safeRun(ctx, st.Work, sc)
	end := x.now()

	res := task.StepResult{
		Stage:     st.Name,
		StartedAt: start,
		EndedAt:   end,
		Duration:  end.Sub(start),
		Data:      data,
	}

	switch {
	case err != nil && (e.Cancelled() || ctx.Err() != nil):
		res.Status = task.StepSkipped
		res.Message = fmt.Sprintf("%s interrupted by cancellation", st.Name)
		res.Data = nil
		e.AddStep(res, 0)
		sc.Log(task.LevelWarning, res.Message, nil)
		return res, ErrCancelled

	case err != nil:
		res.Status = task.StepFailed
		res.Message = err.Error()
		res.Data = nil
		e.AddStep(res, 0)
		sc.Log(task.LevelError, fmt.Sprintf("%s failed: %v", st.Name, err), task.Fields{"duration_seconds": res.Duration.Seconds()})
		return res, &StageError{Stage: st.Name, Err: err}
	}

	res.Status = task.StepCompleted
	res.Message = fmt.Sprintf("%s completed in %s", st.Name, res.Duration.Round(time.Millisecond))
	progress := (index + 1) * 100 / total
	e.AddStep(res, progress)
	sc.Log(task.LevelInfo, res.Message, task.Fields{"duration_seconds": res.Duration.Seconds(), "progress": progress})
	x.publish(e, events.KindProgress, res.Message)
	return res, nil
}

func (x *Executor) publish(e *registry.Entry, kind events.Kind, msg string) {
	if x.events == nil {
		return
	}
	snap := e.Snapshot()
	x.events.Publish(events.Event{
		TaskID:   snap.ID,
		Kind:     kind,
		Status:   snap.Status,
		Stage:    snap.CurrentStage,
		Progress: snap.Progress,
		Message:  msg,
	})
}

// safeRun turns a panic inside stage work into an ordinary error so a broken
// stage fails its task instead of the process.
func safeRun(ctx context.Context, w Work, sc *logsink.Scope) (data task.StageData, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return w(ctx, sc)
}
