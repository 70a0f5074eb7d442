// Package worker provides the single background execution context that owns
// all transport calls, plus a bounded request/response handoff for callers that
// must not block for long.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned when submitting to a loop that has been closed
var ErrClosed = errors.New("worker loop closed")

// ErrPanic wraps a panic recovered while running a job
var ErrPanic = errors.New("job panicked")

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine labelled with name for pprof.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GoroutineName retrieves the goroutine name from the context.
func GoroutineName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(goroutineNameKey).(string); ok {
		return v
	}
	return ""
}

// Job is a unit of work executed on the loop goroutine
type Job func(ctx context.Context)

// Loop runs submitted jobs one at a time on a dedicated goroutine.
// The goroutine is started on first Submit.
type Loop struct {
	name   string
	logger *logrus.Logger

	mu      sync.Mutex
	jobs    chan Job
	quit    chan struct{}
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a loop; queue is the number of jobs that may wait behind the running one
func New(name string, queue int, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.New()
	}
	if queue < 1 {
		queue = 1
	}
	return &Loop{
		name:   name,
		logger: logger,
		jobs:   make(chan Job, queue),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *Loop) startLocked() {
	if l.started {
		return
	}
	l.started = true

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	Go(ctx, l.name, func(ctx context.Context) {
		defer close(l.done)
		l.logger.WithField("worker", l.name).Debug("Worker loop started")
		for {
			select {
			case job := <-l.jobs:
				l.run(ctx, job)
			case <-l.quit:
				l.drain(ctx)
				l.logger.WithField("worker", l.name).Debug("Worker loop stopped")
				return
			}
		}
	})
}

// drain runs the jobs that were queued before Close
func (l *Loop) drain(ctx context.Context) {
	for {
		select {
		case job := <-l.jobs:
			l.run(ctx, job)
		default:
			return
		}
	}
}

func (l *Loop) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(logrus.Fields{
				"worker": l.name,
				"panic":  r,
			}).Error("Worker job panicked")
		}
	}()
	job(ctx)
}

// Submit queues job for execution. It blocks while the queue is full unless ctx is done.
func (l *Loop) Submit(ctx context.Context, job Job) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.startLocked()
	l.mu.Unlock()

	select {
	case l.jobs <- job:
		return nil
	case <-l.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits up to timeout for queued jobs to finish
func (l *Loop) Close(timeout time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.started
	close(l.quit)
	l.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-l.done:
		l.cancel()
		return nil
	case <-time.After(timeout):
		l.cancel()
		return fmt.Errorf("worker %q did not stop within %s", l.name, timeout)
	}
}

type result[T any] struct {
	val T
	err error
}

// Do runs fn on the loop and waits at most timeout for its result.
// When the wait expires context.DeadlineExceeded is returned and the eventual
// result is discarded; fn keeps running to completion on the loop.
func Do[T any](l *Loop, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Buffered so a late reply never blocks the loop
	replyCh := make(chan result[T], 1)
	err := l.Submit(ctx, func(loopCtx context.Context) {
		var res result[T]
		defer func() {
			if r := recover(); r != nil {
				res = result[T]{err: fmt.Errorf("%w: %v", ErrPanic, r)}
			}
			replyCh <- res
		}()
		v, err := fn(loopCtx)
		res = result[T]{val: v, err: err}
	})
	if err != nil {
		return zero, err
	}

	select {
	case res := <-replyCh:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
