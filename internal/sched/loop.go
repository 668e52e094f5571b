// Package sched provides the single-threaded execution context for a device
// session: a FIFO of posted functions plus named, restartable timers, all
// drained by one goroutine. The MIDI ordering guarantees elsewhere in this
// module depend on everything session-related running through one Loop.
package sched

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTick is the quantum for tick-denominated delays. One tick is the
// shortest pause that reliably separates two hazard messages on the wire.
const DefaultTick = 100 * time.Millisecond

// Clock abstracts time so tests can drive the loop manually.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced Clock for tests.
type FakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{t: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// timerEntry is one armed task fire sitting in the heap. Entries are never
// removed early; a stale entry (seq mismatch) is dropped when popped.
type timerEntry struct {
	at   time.Time
	seq  uint64
	task *Task
}

type timerHeap []timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Loop is the session's single logical actor. Post is safe from any
// goroutine; posted functions and task callbacks run strictly one at a
// time, posts in FIFO order.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	timers timerHeap
	wake   chan struct{}
	clock  Clock
	tick   time.Duration
	log    *slog.Logger
}

// New creates a Loop on the system clock with the default tick.
func New(log *slog.Logger) *Loop {
	return NewWithClock(log, systemClock{}, DefaultTick)
}

// NewWithClock creates a Loop on an explicit clock and tick; tests pair it
// with a FakeClock and drive it via Step.
func NewWithClock(log *slog.Logger, clock Clock, tick time.Duration) *Loop {
	return &Loop{
		wake:  make(chan struct{}, 1),
		clock: clock,
		tick:  tick,
		log:   log,
	}
}

// TickInterval returns the loop's tick quantum.
func (l *Loop) TickInterval() time.Duration { return l.tick }

// Now returns the loop clock's current reading.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Post enqueues fn to run on the loop.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.wakeUp()
}

func (l *Loop) wakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Step runs every posted function and every task due at the current clock
// reading. Posts run in FIFO order and always ahead of due timer
// callbacks.
func (l *Loop) Step() {
	for {
		fn := l.popRunnable(l.clock.Now())
		if fn == nil {
			return
		}
		fn()
	}
}

// popRunnable returns the next runnable unit: the oldest posted function if
// any, else the callback of the earliest due timer. Stale timer entries are
// discarded on the way.
func (l *Loop) popRunnable(now time.Time) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue = l.queue[1:]
		return fn
	}

	for len(l.timers) > 0 && !now.Before(l.timers[0].at) {
		e := heap.Pop(&l.timers).(timerEntry)
		if e.task.take(e.seq) {
			return e.task.fn
		}
	}
	return nil
}

// nextDeadline returns the earliest live timer deadline, or ok=false when
// nothing is armed.
func (l *Loop) nextDeadline() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.timers) > 0 {
		e := l.timers[0]
		if e.task.live(e.seq) {
			return e.at, true
		}
		heap.Pop(&l.timers)
	}
	return time.Time{}, false
}

// Run drains the loop until ctx is cancelled. It uses the real clock for
// waiting, so it is only meaningful when the loop was built on one.
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.Step()

		var timerC <-chan time.Time
		var timer *time.Timer
		if at, ok := l.nextDeadline(); ok {
			d := at.Sub(l.clock.Now())
			if d < 0 {
				d = 0
			}
			timer = time.NewTimer(d)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			// Run whatever was already posted before reporting done.
			l.Step()
			return ctx.Err()
		case <-l.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) arm(t *Task, at time.Time, seq uint64) {
	l.mu.Lock()
	heap.Push(&l.timers, timerEntry{at: at, seq: seq, task: t})
	l.mu.Unlock()
	l.wakeUp()
}
