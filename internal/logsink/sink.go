package logsink

import (
	"fmt"
	"sync"
	"time"

	"github.com/podushkina/sarflow/internal/task"
	"github.com/sirupsen/logrus"
)

type buffer struct {
	mu      sync.RWMutex
	entries []task.LogEntry
}

// Sink holds one append-only log buffer per task. Appends to the same task
// are serialized by that task's buffer lock, so entries keep submission
// order; different tasks never contend beyond the map lookup.
type Sink struct {
	mu      sync.RWMutex
	buffers map[string]*buffer
	logger  *logrus.Logger
	now     func() time.Time
}

func New(logger *logrus.Logger) *Sink {
	return &Sink{
		buffers: make(map[string]*buffer),
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Sink) buffer(taskID string, create bool) *buffer {
	s.mu.RLock()
	b, ok := s.buffers[taskID]
	s.mu.RUnlock()
	if ok || !create {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buffers[taskID]; !ok {
		b = &buffer{entries: make([]task.LogEntry, 0, 32)}
		s.buffers[taskID] = b
	}
	return b
}

// Append stamps the entry with its sequence number and timestamp (when unset)
// and stores it. The stored copy is returned.
func (s *Sink) Append(taskID string, e task.LogEntry) task.LogEntry {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}

	b := s.buffer(taskID, true)
	b.mu.Lock()
	e.Seq = len(b.entries)
	b.entries = append(b.entries, e)
	b.mu.Unlock()

	s.mirror(taskID, e)
	return e
}

// Read returns entries [offset, offset+limit) and the current total. An
// offset at or past the end yields an empty slice.
func (s *Sink) Read(taskID string, offset, limit int) task.LogPage {
	b := s.buffer(taskID, false)
	if b == nil {
		return task.LogPage{Entries: []task.LogEntry{}}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	total := len(b.entries)
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	if offset >= total {
		return task.LogPage{Entries: []task.LogEntry{}, Total: total}
	}

	end := offset + limit
	if end > total || end < offset {
		end = total
	}

	out := make([]task.LogEntry, end-offset)
	copy(out, b.entries[offset:end])
	return task.LogPage{Entries: out, Total: total}
}

func (s *Sink) Len(taskID string) int {
	b := s.buffer(taskID, false)
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Drop releases a task's buffer. Only the registry calls it, when the task
// itself is evicted.
func (s *Sink) Drop(taskID string) {
	s.mu.Lock()
	delete(s.buffers, taskID)
	s.mu.Unlock()
}

func (s *Sink) mirror(taskID string, e task.LogEntry) {
	if s.logger == nil {
		return
	}

	entry := s.logger.WithFields(logrus.Fields{
		"task_id": taskID,
		"stage":   e.Stage,
	})
	if len(e.Fields) > 0 {
		entry = entry.WithFields(logrus.Fields(e.Fields))
	}

	switch e.Level {
	case task.LevelDebug:
		entry.Debug(e.Message)
	case task.LevelWarning:
		entry.Warn(e.Message)
	case task.LevelError:
		entry.Error(e.Message)
	default:
		entry.Info(e.Message)
	}
}

// Scope binds a sink to one task and stage. It satisfies the Logger
// interfaces of the catalog and download packages.
type Scope struct {
	sink   *Sink
	taskID string
	stage  string
}

func (s *Sink) Scope(taskID, stage string) *Scope {
	return &Scope{sink: s, taskID: taskID, stage: stage}
}

func (s *Scope) Log(level task.Level, msg string, fields task.Fields) {
	s.sink.Append(s.taskID, task.LogEntry{
		Level:   level,
		Stage:   s.stage,
		Message: msg,
		Fields:  fields,
	})
}

func (s *Scope) Debugf(format string, args ...interface{}) {
	s.Log(task.LevelDebug, fmt.Sprintf(format, args...), nil)
}

func (s *Scope) Infof(format string, args ...interface{}) {
	s.Log(task.LevelInfo, fmt.Sprintf(format, args...), nil)
}

func (s *Scope) Warnf(format string, args ...interface{}) {
	s.Log(task.LevelWarning, fmt.Sprintf(format, args...), nil)
}

func (s *Scope) Errorf(format string, args ...interface{}) {
	s.Log(task.LevelError, fmt.Sprintf(format, args...), nil)
}
