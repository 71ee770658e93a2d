// Package queue runs relay tasks outside the request that triggered them.
//
// A Task is a typed, opaque payload. Producers Enqueue tasks; a Mux routes
// them to handlers. The inline driver runs handlers in-process, the asynq
// driver persists tasks in Redis and runs them on a worker server.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Task is one unit of background work. Payload encoding is up to the caller.
type Task struct {
	Type    string
	Payload []byte
	// LogID correlates the task with the request that produced it.
	LogID string
}

// Handler processes a task. Handlers must be idempotent; a returned error may
// cause a retry depending on the driver.
type Handler func(ctx context.Context, task Task) error

// Queue accepts tasks for asynchronous processing.
type Queue interface {
	// Enqueue returns once the task is accepted. It does not wait for the
	// handler to run.
	Enqueue(ctx context.Context, task Task) error
	Close() error
}

// ErrUnknownTask is returned for task types with no registered handler.
var ErrUnknownTask = errors.New("queue: no handler for task type")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// skipRetryError marks a failure that retrying cannot fix.
type skipRetryError struct {
	err error
}

func (e *skipRetryError) Error() string { return e.err.Error() }
func (e *skipRetryError) Unwrap() error { return e.err }

// SkipRetry wraps err so durable drivers drop the task instead of retrying.
func SkipRetry(err error) error {
	if err == nil {
		return nil
	}
	return &skipRetryError{err: err}
}

// IsSkipRetry reports whether err was marked with SkipRetry.
func IsSkipRetry(err error) bool {
	var skip *skipRetryError
	return errors.As(err, &skip)
}

// Mux routes tasks by type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux returns an empty router.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for taskType, replacing any previous handler.
func (m *Mux) Handle(taskType string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[taskType] = h
}

// Has reports whether taskType has a handler.
func (m *Mux) Has(taskType string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[taskType]
	return ok
}

// Types lists the registered task types in order.
func (m *Mux) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Process runs the handler registered for task.Type.
func (m *Mux) Process(ctx context.Context, task Task) error {
	m.mu.RLock()
	h, ok := m.handlers[task.Type]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, task.Type)
	}
	return h(ctx, task)
}
