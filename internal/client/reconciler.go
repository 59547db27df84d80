package client

import (
	"context"
	"time"

	"github.com/podushkina/sarflow/internal/task"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPollInterval = 2 * time.Second

	logPageSize = 1000
)

// Poller is the part of API the reconciler uses.
type Poller interface {
	Start(ctx context.Context, spec task.JobSpec) (string, error)
	Status(ctx context.Context, id string) (*task.Task, error)
	Logs(ctx context.Context, id string, offset, limit int) (task.LogPage, error)
}

// Update is one reconciled change. Logs holds only entries not delivered
// in an earlier update.
type Update struct {
	TaskID   string
	Status   task.Status
	Stage    string
	Progress int
	Logs     []task.LogEntry
	Error    string
	// Final is set on the last update; Gone additionally means the server
	// no longer knew the task.
	Final bool
	Gone  bool
}

type Reconciler struct {
	api      Poller
	store    *StateStore
	interval time.Duration
	logger   *logrus.Logger
}

func NewReconciler(api Poller, store *StateStore, interval time.Duration, logger *logrus.Logger) *Reconciler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{api: api, store: store, interval: interval, logger: logger}
}

// Run resumes the task last started for spec's job, or starts a new one,
// and follows it. spec.JobID must be set.
func (r *Reconciler) Run(ctx context.Context, spec task.JobSpec) (<-chan Update, error) {
	if id, ok := r.store.Get(spec.JobID); ok {
		r.logger.WithFields(logrus.Fields{"job_id": spec.JobID, "task_id": id}).Info("Resuming task")
		return r.Follow(ctx, spec.JobID, id), nil
	}

	id, err := r.api.Start(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := r.store.Put(spec.JobID, id); err != nil {
		r.logger.WithField("task_id", id).Warnf("Failed to persist task id: %v", err)
	}
	r.logger.WithFields(logrus.Fields{"job_id": spec.JobID, "task_id": id}).Info("Task started")
	return r.Follow(ctx, spec.JobID, id), nil
}

// Follow polls taskID until it is done or gone, then clears jobID's
// stored task. Cancelling ctx stops polling but keeps the stored id so a
// later Run resumes. The channel is closed when following ends.
func (r *Reconciler) Follow(ctx context.Context, jobID, taskID string) <-chan Update {
	out := make(chan Update, 16)
	go r.follow(ctx, jobID, taskID, out)
	return out
}

// view is what the consumer has already been shown; snapshots are applied
// against it so repeating one is a no-op.
type view struct {
	status   task.Status
	stage    string
	progress int
	offset   int
}

func (r *Reconciler) follow(ctx context.Context, jobID, taskID string, out chan<- Update) {
	defer close(out)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var v view
	for {
		done := r.poll(ctx, jobID, taskID, &v, out)
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reconciler) poll(ctx context.Context, jobID, taskID string, v *view, out chan<- Update) bool {
	t, err := r.api.Status(ctx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		r.logger.WithField("task_id", taskID).Warnf("Status poll failed, retrying: %v", err)
		return false
	}

	if t == nil {
		r.finish(jobID, taskID)
		send(ctx, out, Update{TaskID: taskID, Status: v.status, Progress: v.progress, Final: true, Gone: true})
		return true
	}

	// the log is read after the status, so once a done task is seen this
	// read returns every remaining entry
	logs, ok := r.fetchLogs(ctx, taskID, v)
	if !ok {
		return false
	}

	u, changed := v.apply(t, logs)
	if t.Status.Terminal() && t.Done {
		r.finish(jobID, taskID)
		u.Final = true
		send(ctx, out, u)
		return true
	}
	if changed {
		send(ctx, out, u)
	}
	return false
}

func (r *Reconciler) fetchLogs(ctx context.Context, taskID string, v *view) ([]task.LogEntry, bool) {
	page, err := r.api.Logs(ctx, taskID, v.offset, logPageSize)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.WithField("task_id", taskID).Warnf("Log poll failed, retrying: %v", err)
		}
		return nil, false
	}
	v.offset += len(page.Entries)
	return page.Entries, true
}

func (r *Reconciler) finish(jobID, taskID string) {
	if err := r.store.Clear(jobID); err != nil {
		r.logger.WithField("task_id", taskID).Warnf("Failed to clear stored task id: %v", err)
	}
}

func (v *view) apply(t *task.Task, logs []task.LogEntry) (Update, bool) {
	changed := len(logs) > 0 || t.Status != v.status || t.CurrentStage != v.stage || t.Progress > v.progress

	v.status = t.Status
	v.stage = t.CurrentStage
	if t.Progress > v.progress {
		v.progress = t.Progress
	}

	return Update{
		TaskID:   t.ID,
		Status:   v.status,
		Stage:    v.stage,
		Progress: v.progress,
		Logs:     logs,
		Error:    t.Error,
	}, changed
}

func send(ctx context.Context, out chan<- Update, u Update) {
	select {
	case out <- u:
	case <-ctx.Done():
	}
}
