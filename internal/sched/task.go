package sched

import "time"

// Task is a named timer whose callback runs on the loop. At most one fire
// is pending per task: arming again or cancelling invalidates any earlier
// pending fire.
type Task struct {
	loop *Loop
	name string
	fn   func()

	// seq is bumped on every restart/cancel; heap entries carrying an
	// older seq are stale and get dropped instead of firing.
	seq     uint64
	pending bool
}

// NewTask creates a task owned by the loop. fn runs on the loop goroutine.
func (l *Loop) NewTask(name string, fn func()) *Task {
	return &Task{loop: l, name: name, fn: fn}
}

// RestartAfter arms the task to fire once after d, cancelling any pending
// fire first.
func (t *Task) RestartAfter(d time.Duration) {
	l := t.loop
	l.mu.Lock()
	t.seq++
	t.pending = true
	seq := t.seq
	at := l.clock.Now().Add(d)
	l.mu.Unlock()

	l.log.Debug("task armed", "task", t.name, "delay_ms", d.Milliseconds())
	l.arm(t, at, seq)
}

// RestartTicks arms the task to fire after n loop ticks.
func (t *Task) RestartTicks(n int) {
	t.RestartAfter(time.Duration(n) * t.loop.tick)
}

// Cancel drops any pending fire. Idempotent.
func (t *Task) Cancel() {
	l := t.loop
	l.mu.Lock()
	if t.pending {
		t.seq++
		t.pending = false
	}
	l.mu.Unlock()
}

// Pending reports whether a fire is armed and not yet delivered.
func (t *Task) Pending() bool {
	t.loop.mu.Lock()
	defer t.loop.mu.Unlock()
	return t.pending
}

// take claims a due heap entry: it reports whether the entry is current,
// and if so marks the task idle before its callback runs. Caller holds the
// loop mutex.
func (t *Task) take(seq uint64) bool {
	if !t.pending || t.seq != seq {
		return false
	}
	t.pending = false
	return true
}

// live reports whether a heap entry still corresponds to a pending fire.
// Caller holds the loop mutex.
func (t *Task) live(seq uint64) bool {
	return t.pending && t.seq == seq
}
