package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/podushkina/sarflow/internal/task"
)

// Registry owns every known task. It is constructed once and handed to the
// components that need it.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*Entry
	maxCompleted int
	onEvict      func(id string)
}

// New creates a registry that keeps at most maxCompleted terminal tasks.
// onEvict, when set, runs for each evicted task id after it is removed.
func New(maxCompleted int, onEvict func(id string)) *Registry {
	return &Registry{
		entries:      make(map[string]*Entry),
		maxCompleted: maxCompleted,
		onEvict:      onEvict,
	}
}

func (r *Registry) Add(e *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[e.ID()]; ok {
		return fmt.Errorf("task %s already registered", e.ID())
	}
	r.entries[e.ID()] = e
	return nil
}

// Get returns nil for unknown ids.
func (r *Registry) Get(id string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// List returns summaries ordered by start time, newest first.
func (r *Registry) List() []task.Summary {
	r.mu.RLock()
	out := make([]task.Summary, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Summary())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Counts() map[task.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[task.Status]int{
		task.StatusPending:    0,
		task.StatusProcessing: 0,
		task.StatusCompleted:  0,
		task.StatusFailed:     0,
		task.StatusCancelled:  0,
	}
	for _, e := range r.entries {
		counts[e.Status()]++
	}
	return counts
}

// Prune evicts the oldest done tasks beyond the retention limit and
// returns their ids. Tasks that are active or still finishing are never
// evicted.
func (r *Registry) Prune() []string {
	if r.maxCompleted <= 0 {
		return nil
	}

	r.mu.Lock()
	var done []task.Summary
	for _, e := range r.entries {
		if s := e.Summary(); s.Done {
			done = append(done, s)
		}
	}
	if len(done) <= r.maxCompleted {
		r.mu.Unlock()
		return nil
	}

	sort.Slice(done, func(i, j int) bool {
		return endOf(done[i]).Before(endOf(done[j]))
	})
	evicted := make([]string, 0, len(done)-r.maxCompleted)
	for _, s := range done[:len(done)-r.maxCompleted] {
		delete(r.entries, s.ID)
		evicted = append(evicted, s.ID)
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, id := range evicted {
			r.onEvict(id)
		}
	}
	return evicted
}

func endOf(s task.Summary) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.StartedAt
}
