// Package dispatch provides the single serialized sequence on which every
// bridge call, ad-slot transition, identity transition and bridge message
// delivery runs. It plays the role of the host runtime's UI thread.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when work is submitted after the loop stopped.
var ErrClosed = errors.New("dispatch loop closed")

// Poster schedules work onto the serialized sequence. Asynchronous native
// completions use it to marshal their results back before touching state.
type Poster interface {
	Post(fn func()) error
}

// Loop runs posted functions one at a time, in submission order, on a single goroutine.
type Loop struct {
	logger *zap.Logger
	queue  chan func()

	mu     sync.RWMutex
	closed bool

	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewLoop creates a Loop with a queue of the given capacity. Call Run to start it.
func NewLoop(logger *zap.Logger, capacity int) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	return &Loop{
		logger:  logger,
		queue:   make(chan func(), capacity),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run executes queued work until ctx is done, discarding what is still queued,
// or until Close is called, after which already accepted work still runs.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case fn, ok := <-l.queue:
			if !ok {
				return
			}
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			l.logger.Error("dispatch task panic", zap.Any("panic", rec))
		}
	}()
	fn()
}

// Post enqueues fn. It blocks while the queue is full.
func (l *Loop) Post(fn func()) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- fn:
		return nil
	case <-l.quit:
		return ErrClosed
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be used from
// inside a task running on the loop.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return fmt.Errorf("dispatch call: %w", ctx.Err())
	}
}

// Close stops accepting work. Run returns once the queue is drained of what
// was already accepted or its context ends.
func (l *Loop) Close() {
	l.once.Do(func() {
		close(l.quit)
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.stopped
}

// Manual is a Poster that only queues work; RunPending executes it on the
// caller's goroutine. Tests use it to step asynchronous completions.
type Manual struct {
	mu    sync.Mutex
	tasks []func()
}

// Post queues fn.
func (m *Manual) Post(fn func()) error {
	m.mu.Lock()
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
	return nil
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// RunPending runs queued tasks, including ones they post, until none remain.
func (m *Manual) RunPending() {
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		m.mu.Unlock()
		fn()
	}
}
