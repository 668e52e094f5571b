package session

import (
	"time"

	"github.com/pedalworks/softstepd/internal/sched"
)

// LongPressThreshold is how long a press must be held before the delayed
// events fire instead of the immediate ones.
const LongPressThreshold = 600 * time.Millisecond

// Button turns one key's press and release edges into behaviour events. A
// hold timer decides between the immediate and delayed variants; at most
// one of the release events fires per gesture.
type Button struct {
	name      string
	behaviour Behaviour
	ctx       ButtonContext
	hold      *sched.Task

	down      bool
	longFired bool
}

// NewButton creates a button delivering events for behaviour.
func NewButton(loop *sched.Loop, name string, b Behaviour, ctx ButtonContext) *Button {
	btn := &Button{name: name, behaviour: b, ctx: ctx}
	btn.hold = loop.NewTask("hold:"+name, btn.holdExpired)
	return btn
}

// Press registers the press edge. Repeated presses without a release are
// ignored.
func (b *Button) Press() {
	if b.down {
		return
	}
	b.down = true
	b.longFired = false
	b.behaviour.PressImmediate(b.ctx)
	b.hold.RestartAfter(LongPressThreshold)
}

// Release registers the release edge, delivering the delayed variant when
// the hold passed the threshold.
func (b *Button) Release() {
	if !b.down {
		return
	}
	b.down = false
	b.hold.Cancel()
	if b.longFired {
		b.behaviour.ReleaseDelayed(b.ctx)
		return
	}
	b.behaviour.ReleaseImmediate(b.ctx)
}

// Reset drops any in-flight gesture without delivering events. Used when
// the mode owning the button goes away mid-press.
func (b *Button) Reset() {
	b.down = false
	b.longFired = false
	b.hold.Cancel()
}

func (b *Button) holdExpired() {
	// Stale fire: the press may already be gone.
	if !b.down {
		return
	}
	b.longFired = true
	b.behaviour.PressDelayed(b.ctx)
}
