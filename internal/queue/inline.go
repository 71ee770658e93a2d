package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"smsrelay/internal/async"
	"smsrelay/internal/logging"
	id "smsrelay/internal/utils/id"
)

// Inline runs each task on its own panic-guarded goroutine in this process.
// Tasks are not persisted and are lost on restart.
type Inline struct {
	mux     *Mux
	tracker *async.Tracker
	logger  logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewInline returns an in-process queue over mux.
func NewInline(mux *Mux, logger logging.Logger) *Inline {
	logger = logging.OrNop(logger)
	return &Inline{mux: mux, tracker: async.NewTracker(logger), logger: logger}
}

// Enqueue starts the task immediately. The task context is detached from
// ctx cancellation but keeps its values.
func (q *Inline) Enqueue(ctx context.Context, task Task) error {
	if task.Type == "" {
		return errors.New("queue: task type is required")
	}
	if !q.mux.Has(task.Type) {
		return fmt.Errorf("%w: %q", ErrUnknownTask, task.Type)
	}
	taskCtx := context.WithoutCancel(ctx)
	if task.LogID != "" {
		taskCtx = id.WithLogID(taskCtx, task.LogID)
	}

	// Starting under mu keeps every tracked task ahead of Close's Wait.
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.tracker.Go("queue."+task.Type, func() {
		if err := q.mux.Process(taskCtx, task); err != nil {
			logging.FromContext(taskCtx, q.logger).Warn("Task %s failed: %v", task.Type, err)
		}
	})
	return nil
}

// Close rejects new tasks and waits for running ones.
func (q *Inline) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.tracker.Wait()
	return nil
}

var _ Queue = (*Inline)(nil)
