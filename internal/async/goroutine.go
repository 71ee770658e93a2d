package async

import (
	"runtime/debug"
	"sync"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger PanicLogger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger PanicLogger, name string) {
	if r := recover(); r != nil {
		if logger == nil {
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}

// Tracker runs guarded goroutines and lets shutdown wait for them.
type Tracker struct {
	logger PanicLogger
	wg     sync.WaitGroup
}

// NewTracker returns a Tracker reporting panics to logger.
func NewTracker(logger PanicLogger) *Tracker {
	return &Tracker{logger: logger}
}

// Go runs fn like the package-level Go and counts it until it returns.
func (t *Tracker) Go(name string, fn func()) {
	t.wg.Add(1)
	Go(t.logger, name, func() {
		defer t.wg.Done()
		fn()
	})
}

// Wait blocks until every tracked goroutine has returned.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
