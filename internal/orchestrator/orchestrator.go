package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/podushkina/sarflow/internal/archive"
	"github.com/podushkina/sarflow/internal/catalog"
	"github.com/podushkina/sarflow/internal/download"
	"github.com/podushkina/sarflow/internal/events"
	"github.com/podushkina/sarflow/internal/executor"
	"github.com/podushkina/sarflow/internal/logsink"
	"github.com/podushkina/sarflow/internal/processing"
	"github.com/podushkina/sarflow/internal/registry"
	"github.com/podushkina/sarflow/internal/task"
	"github.com/podushkina/sarflow/internal/worker"
	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidJob    = errors.New("invalid job")
	ErrNotFound      = errors.New("task not found")
	ErrNotConfigured = errors.New("orchestrator is missing a catalog searcher; check ASF_API_TOKEN")
)

type Searcher interface {
	Search(ctx context.Context, area catalog.BBox, start, end time.Time, c catalog.Constraints, log catalog.Logger) (*catalog.Result, error)
}

type Downloader interface {
	Download(ctx context.Context, url, dest string, log download.Logger) error
}

type Options struct {
	Searcher   Searcher
	Downloader Downloader
	Engine     processing.Engine
	// Archive is optional; without it evicted tasks are simply gone.
	Archive archive.Archive
	// Events is optional; a private broker is created when nil.
	Events *events.Broker
	Logger *logrus.Logger

	DownloadDir       string
	Workers           int
	QueueSize         int
	MaxCompletedTasks int
}

type Orchestrator struct {
	registry   *registry.Registry
	sink       *logsink.Sink
	exec       *executor.Executor
	pool       *worker.Pool
	events     *events.Broker
	searcher   Searcher
	downloader Downloader
	engine     processing.Engine
	archive    archive.Archive
	logger     *logrus.Logger

	downloadDir string
	baseCtx     context.Context
	stop        context.CancelFunc
	now         func() time.Time
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Searcher == nil {
		return nil, ErrNotConfigured
	}
	if opts.Downloader == nil || opts.Engine == nil {
		return nil, errors.New("orchestrator needs a downloader and a processing engine")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Events == nil {
		opts.Events = events.NewBroker(0)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}

	sink := logsink.New(opts.Logger)
	ctx, stop := context.WithCancel(context.Background())

	o := &Orchestrator{
		registry:    registry.New(opts.MaxCompletedTasks, sink.Drop),
		sink:        sink,
		exec:        executor.New(sink, opts.Events),
		events:      opts.Events,
		searcher:    opts.Searcher,
		downloader:  opts.Downloader,
		engine:      opts.Engine,
		archive:     opts.Archive,
		logger:      opts.Logger,
		downloadDir: opts.DownloadDir,
		baseCtx:     ctx,
		stop:        stop,
		now:         time.Now,
	}
	o.pool = worker.NewPool(opts.Workers, opts.QueueSize, o.run, opts.Logger)
	return o, nil
}

// Run starts the workers. Call it once, before the first StartProcessing.
func (o *Orchestrator) Run() {
	o.pool.Start(o.baseCtx)
}

// Stop cancels every running task, waits for the workers and closes the
// event broker. Tasks still queued end as cancelled and are finished here.
func (o *Orchestrator) Stop() {
	o.stop()
	o.pool.Stop()

	now := o.now()
	for _, s := range o.registry.List() {
		e := o.registry.Get(s.ID)
		if e == nil {
			continue
		}
		if e.Cancel(now) {
			o.logger.WithField("task_id", s.ID).Info("Task cancelled by shutdown")
		}
		o.finalize(e)
	}
	o.events.Close()
}

// StartProcessing validates spec, registers a pending task and queues it. It
// returns as soon as the task is queued.
func (o *Orchestrator) StartProcessing(spec task.JobSpec) (string, error) {
	spec.Normalize()
	if err := spec.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	id := ulid.Make().String()
	e := registry.NewEntry(o.baseCtx, id, spec, o.now())
	if err := o.registry.Add(e); err != nil {
		return "", err
	}

	o.sink.Append(id, task.LogEntry{
		Level:   task.LevelInfo,
		Message: fmt.Sprintf("task created for job %s", spec.JobID),
		Fields: task.Fields{
			"area":       fmt.Sprintf("%g,%g,%g,%g", spec.Area.West, spec.Area.South, spec.Area.East, spec.Area.North),
			"start_date": spec.StartDate,
			"end_date":   spec.EndDate,
		},
	})

	o.publishStatus(e, "")
	if err := o.pool.Submit(id); err != nil {
		o.registry.Remove(id)
		o.sink.Drop(id)
		return "", fmt.Errorf("queue task: %w", err)
	}
	return id, nil
}

// Status returns the latest view of a task, consulting the archive for
// tasks no longer in memory. Unknown ids yield nil, nil.
func (o *Orchestrator) Status(ctx context.Context, id string) (*task.Task, error) {
	if e := o.registry.Get(id); e != nil {
		return e.Snapshot(), nil
	}
	if o.archive == nil {
		return nil, nil
	}
	return o.archive.Get(ctx, id)
}

func (o *Orchestrator) Logs(id string, offset, limit int) (task.LogPage, error) {
	if o.registry.Get(id) == nil {
		return task.LogPage{}, ErrNotFound
	}
	return o.sink.Read(id, offset, limit), nil
}

// Cancel reports true only when this call moved an active task to
// cancelled.
func (o *Orchestrator) Cancel(id string) bool {
	e := o.registry.Get(id)
	if e == nil {
		return false
	}
	ok := e.CancelWith(o.now(), func(stage string) {
		o.sink.Append(id, task.LogEntry{Level: task.LevelWarning, Stage: stage, Message: "cancellation requested"})
	})
	if !ok {
		return false
	}

	o.publishStatus(e, "cancelled")
	// a running task is finished by its worker once the current stage
	// returns; a queued one has nobody else to do it
	if !e.Began() {
		o.finalize(e)
	}
	return true
}

func (o *Orchestrator) List() []task.Summary {
	return o.registry.List()
}

func (o *Orchestrator) Stats() map[task.Status]int {
	return o.registry.Counts()
}

// Subscribe streams events for taskID, or for every task when it is empty.
func (o *Orchestrator) Subscribe(taskID string) *events.Subscription {
	return o.events.Subscribe(taskID)
}

func (o *Orchestrator) run(_ context.Context, id string) {
	e := o.registry.Get(id)
	if e == nil {
		return
	}
	if !e.Begin() {
		o.finalize(e)
		return
	}
	o.publishStatus(e, "")

	stages := o.stages(newPipeline(e.Spec(), o.downloadDir))
	for i, st := range stages {
		_, err := o.exec.Run(e, i, len(stages), st)
		if err == nil {
			continue
		}

		if errors.Is(err, executor.ErrCancelled) {
			e.Cancel(o.now())
		} else {
			var se *executor.StageError
			msg := err.Error()
			if errors.As(err, &se) {
				msg = se.Err.Error()
			}
			e.Finish(task.StatusFailed, msg, o.now())
		}
		o.finalize(e)
		return
	}

	e.Finish(task.StatusCompleted, "", o.now())
	o.finalize(e)
}

// finalize writes the closing log entry, marks the task done and archives it.
// Only the first call for a terminal task does anything.
func (o *Orchestrator) finalize(e *registry.Entry) {
	if !e.Claim() {
		return
	}
	snap := e.Snapshot()
	fields := task.Fields{"duration_seconds": o.now().Sub(snap.StartedAt).Seconds()}

	switch snap.Status {
	case task.StatusCompleted:
		o.sink.Append(snap.ID, task.LogEntry{Level: task.LevelInfo, Message: "processing completed", Fields: fields})
	case task.StatusFailed:
		o.sink.Append(snap.ID, task.LogEntry{Level: task.LevelError, Stage: snap.CurrentStage, Message: "processing failed: " + snap.Error, Fields: fields})
	case task.StatusCancelled:
		o.sink.Append(snap.ID, task.LogEntry{Level: task.LevelWarning, Stage: snap.CurrentStage, Message: "processing cancelled", Fields: fields})
	}
	e.MarkDone()
	o.publishStatus(e, snap.Error)
	o.logger.WithFields(logrus.Fields{
		"task_id":     snap.ID,
		"status":      snap.Status,
		"log_entries": o.sink.Len(snap.ID),
	}).Info("Task finished")

	if o.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.archive.Put(ctx, e.Snapshot()); err != nil {
			o.logger.WithField("task_id", snap.ID).Errorf("archive task: %v", err)
		}
		cancel()
	}

	for _, id := range o.registry.Prune() {
		o.logger.WithField("task_id", id).Debug("Evicted finished task")
	}
}

func (o *Orchestrator) publishStatus(e *registry.Entry, msg string) {
	snap := e.Snapshot()
	o.events.Publish(events.Event{
		TaskID:   snap.ID,
		Kind:     events.KindStatus,
		Status:   snap.Status,
		Stage:    snap.CurrentStage,
		Progress: snap.Progress,
		Message:  msg,
	})
}
