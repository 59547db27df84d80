package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull = errors.New("task queue is full")
	ErrStopped   = errors.New("worker pool is stopped")
)

// Handler runs one task to completion. It must return once ctx is cancelled.
type Handler func(ctx context.Context, taskID string)

type Pool struct {
	queue   chan string
	handler Handler
	count   int
	logger  *logrus.Logger
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

func NewPool(count, queueSize int, handler Handler, logger *logrus.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{
		queue:   make(chan string, queueSize),
		handler: handler,
		count:   count,
		logger:  logger,
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Infof("Started %d workers", p.count)
}

// Submit enqueues taskID without blocking.
func (p *Pool) Submit(taskID string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- taskID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new submissions and waits for the workers. Cancel the context
// passed to Start first, or Stop waits for the queue to drain.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.queue)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("All workers stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	p.logger.Debugf("Worker %d started", id)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debugf("Worker %d shutting down", id)
			return
		case taskID, ok := <-p.queue:
			if !ok {
				return
			}
			p.logger.Debugf("Worker %d processing task %s", id, taskID)
			p.handler(ctx, taskID)
		}
	}
}
