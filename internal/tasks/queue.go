package tasks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const taskTimeout = 10 * time.Second

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Queue runs best-effort side effects (audit writes, cache invalidation) off
// the critical path. Submit never blocks: when the queue is full the task is
// dropped and logged. Close drains whatever was accepted.
type Queue struct {
	tasks  chan task
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func NewQueue(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		tasks:  make(chan task, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	for t := range q.tasks {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		if err := t.fn(ctx); err != nil {
			q.logger.Warn("background task failed", "task", t.name, "err", err)
		}
		cancel()
	}
}

// Submit enqueues fn. Returns false when the task was dropped.
func (q *Queue) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case q.tasks <- task{name: name, fn: fn}:
		return true
	default:
		q.logger.Warn("background task dropped, queue full", "task", name)
		return false
	}
}

// Close stops accepting tasks and waits for the accepted ones to finish.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.tasks)
	})
	<-q.done
}
