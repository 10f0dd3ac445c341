// Package loop provides the single-threaded executor the engine runs on.
//
// Every piece of engine state is owned by one goroutine. Network I/O runs on
// background goroutines started with Go and re-enters the loop with Post;
// timers fire on the loop as well, so component code never takes locks for
// its own state.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Do after the loop has stopped.
var ErrClosed = errors.New("loop is closed")

// Timer is a cancellable scheduled task.
type Timer interface {
	// Stop prevents the task from running. It returns false if the task
	// already ran or was already stopped.
	Stop() bool
}

// Runtime is the execution environment shared by engine components.
type Runtime interface {
	// Post schedules fn to run on the loop.
	Post(fn func())
	// AfterFunc schedules fn to run on the loop after d.
	AfterFunc(d time.Duration, fn func()) Timer
	// Go runs fn off the loop. fn must use Post to touch loop-owned state.
	Go(fn func())
	// Now returns the runtime clock.
	Now() time.Time
}

// Loop is the production Runtime backed by a goroutine draining a queue.
// The queue is unbounded so that loop callbacks can always Post.
type Loop struct {
	wake chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending []func()
	closed  bool
	started bool
	running sync.WaitGroup
}

// New creates a loop. Run must be called to start it.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			return
		case <-l.wake:
		}

		l.mu.Lock()
		batch := l.pending
		l.pending = nil
		closed := l.closed
		l.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if closed {
			return
		}
	}
}

// Close stops accepting work, runs what is already queued and waits for Run
// and any background work started with Go to return.
func (l *Loop) Close() {
	l.mu.Lock()
	started := l.started
	l.closed = true
	l.mu.Unlock()
	l.signal()

	if started {
		<-l.done
	}
	l.running.Wait()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Post enqueues fn. Work posted after Close is dropped.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()
	l.signal()
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Do(fn func()) error {
	done := make(chan struct{})
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.pending = append(l.pending, func() {
		defer close(done)
		fn()
	})
	l.mu.Unlock()
	l.signal()

	select {
	case <-done:
		return nil
	case <-l.done:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// AfterFunc schedules fn on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fire() {
				fn()
			}
		})
	})
	return t
}

// Go runs fn on a new goroutine tracked by Close.
func (l *Loop) Go(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.running.Add(1)
	l.mu.Unlock()
	go func() {
		defer l.running.Done()
		fn()
	}()
}

// Now returns the wall clock.
func (l *Loop) Now() time.Time { return time.Now() }

// loopTimer guards against a timer that fired into the queue but was
// stopped before the loop got to it.
type loopTimer struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) fire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	t.fired = true
	return true
}

func (t *loopTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	t.timer.Stop()
	return true
}
