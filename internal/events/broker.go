package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/podushkina/sarflow/internal/task"
)

type Kind string

const (
	KindStatus   Kind = "status"
	KindStage    Kind = "stage"
	KindProgress Kind = "progress"
)

type Event struct {
	TaskID   string      `json:"task_id"`
	Kind     Kind        `json:"kind"`
	Status   task.Status `json:"status"`
	Stage    string      `json:"stage,omitempty"`
	Progress int         `json:"progress"`
	Message  string      `json:"message,omitempty"`
	At       time.Time   `json:"at"`
}

// Broker fans every published event out to all subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses the event and its drop
// counter is incremented.
type Broker struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	closed  bool
	buffers int
}

type Subscription struct {
	C       <-chan Event
	ch      chan Event
	taskID  string
	broker  *Broker
	dropped atomic.Int64
}

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[*Subscription]struct{}), buffers: buffer}
}

// Subscribe returns a subscription to every task's events, or only to
// taskID's when it is not empty.
func (b *Broker) Subscribe(taskID string) *Subscription {
	ch := make(chan Event, b.buffers)
	s := &Subscription{C: ch, ch: ch, taskID: taskID, broker: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Broker) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		if s.taskID != "" && s.taskID != e.TaskID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close ends every subscription; their channels are closed after any
// buffered events.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
		delete(b.subs, s)
	}
}

// Unsubscribe detaches s and closes its channel.
func (s *Subscription) Unsubscribe() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}

func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}
