// Package looptest provides a deterministic loop.Runtime for tests.
package looptest

import (
	"sort"
	"sync"
	"time"

	"github.com/mmcdole/feedplay/internal/loop"
)

// Manual runs posted work inline, runs background work inline and only
// fires timers when the test advances its clock.
type Manual struct {
	mu       sync.Mutex
	now      time.Time
	queue    []func()
	draining bool
	timers   []*manualTimer
	seq      int

	holdGo     bool
	background []func()
}

var _ loop.Runtime = (*Manual)(nil)

// New returns a Manual runtime whose clock starts at a fixed instant.
func New() *Manual {
	return &Manual{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

type manualTimer struct {
	m       *Manual
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Post queues fn and drains the queue unless a drain is already running.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()
	m.drain()
}

func (m *Manual) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
	}
}

// Do runs fn through the queue.
func (m *Manual) Do(fn func()) error {
	m.Post(fn)
	return nil
}

// Go runs fn immediately on the calling goroutine, or queues it while
// background work is held.
func (m *Manual) Go(fn func()) {
	m.mu.Lock()
	if m.holdGo {
		m.background = append(m.background, fn)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	fn()
}

// HoldBackground makes Go queue work until RunBackground is called, so tests
// can interleave loop events with in-flight requests.
func (m *Manual) HoldBackground() {
	m.mu.Lock()
	m.holdGo = true
	m.mu.Unlock()
}

// RunBackground runs queued background work in submission order and
// returns how many functions ran. Work queued while running also runs.
func (m *Manual) RunBackground() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.background) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.background[0]
		m.background = m.background[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

// RunBackgroundAt runs only the i-th queued background function.
func (m *Manual) RunBackgroundAt(i int) {
	m.mu.Lock()
	fn := m.background[i]
	m.background = append(m.background[:i], m.background[i+1:]...)
	m.mu.Unlock()
	fn()
}

// Background reports how many functions are held.
func (m *Manual) Background() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.background)
}

// Now returns the fake clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// AfterFunc registers fn to fire once the clock reaches now+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) loop.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Pending reports how many timers are armed.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Advance moves the clock forward, firing due timers in deadline order.
// Timers armed by fired callbacks also fire if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		next := m.nextDue(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		if next.at.After(m.now) {
			m.now = next.at
		}
		next.fired = true
		m.mu.Unlock()
		m.Post(next.fn)
	}
}

func (m *Manual) nextDue(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}
