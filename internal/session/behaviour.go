package session

import "log/slog"

// Selector is the mode-change surface behaviours drive. The driver
// implements it so regime fast paths apply; Stack implements it directly
// for tests.
type Selector interface {
	Select(name string) error
	Push(name string) error
	Selected() string
	CurrentNonTransient() string
	LastNonTransient() string
	IsTransient(name string) bool
}

// ButtonContext is handed to a behaviour on every event: the selector to
// act on and the mode the button targets.
type ButtonContext struct {
	Modes Selector
	Mode  string
	Log   *slog.Logger
}

func (c ButtonContext) selectMode(name string) {
	if name == "" {
		return
	}
	if err := c.Modes.Select(name); err != nil {
		c.Log.Warn("mode selection failed", "mode", name, "err", err)
	}
}

func (c ButtonContext) pushMode(name string) {
	if err := c.Modes.Push(name); err != nil {
		c.Log.Warn("mode push failed", "mode", name, "err", err)
	}
}

// Behaviour decides how a mode button reacts to press, release and long
// hold. The button machine delivers PressImmediate on press, PressDelayed
// once the hold passes the long-press threshold, and exactly one of the
// release events depending on whether the threshold was passed.
type Behaviour interface {
	PressImmediate(ctx ButtonContext)
	ReleaseImmediate(ctx ButtonContext)
	PressDelayed(ctx ButtonContext)
	ReleaseDelayed(ctx ButtonContext)
}

// AlternateOnLongPress selects the target mode on a short press and Alt on
// a long hold. Without an Alt the selection happens on the press edge;
// with one it waits for the short release so the hold can still win.
type AlternateOnLongPress struct {
	Alt string
}

func (b AlternateOnLongPress) PressImmediate(ctx ButtonContext) {
	if b.Alt == "" {
		ctx.selectMode(ctx.Mode)
	}
}

func (b AlternateOnLongPress) ReleaseImmediate(ctx ButtonContext) {
	if b.Alt != "" {
		ctx.selectMode(ctx.Mode)
	}
}

func (b AlternateOnLongPress) PressDelayed(ctx ButtonContext) {
	if b.Alt != "" {
		ctx.selectMode(b.Alt)
	}
}

func (b AlternateOnLongPress) ReleaseDelayed(ButtonContext) {}

// ReleaseBehaviour fires only on release edges: the target on a short
// release, Alt (or the target again) after a long hold. Standalone targets
// need this; anything sent while the foot is still down would reach the
// firmware as a standalone-mode input.
type ReleaseBehaviour struct {
	Alt string
}

func (b ReleaseBehaviour) PressImmediate(ButtonContext) {}

func (b ReleaseBehaviour) ReleaseImmediate(ctx ButtonContext) {
	ctx.selectMode(ctx.Mode)
}

func (b ReleaseBehaviour) PressDelayed(ButtonContext) {}

func (b ReleaseBehaviour) ReleaseDelayed(ctx ButtonContext) {
	if b.Alt != "" {
		ctx.selectMode(b.Alt)
		return
	}
	ctx.selectMode(ctx.Mode)
}

// ModeSelectBehaviour drives the mode-select button. A short release
// toggles the chooser: back to the current non-transient mode from inside
// any popup, into the chooser otherwise. A long hold jumps straight to the
// previous non-transient mode; when that mode is a standalone one the jump
// waits for the release edge instead.
type ModeSelectBehaviour struct{}

func (ModeSelectBehaviour) PressImmediate(ButtonContext) {}

func (ModeSelectBehaviour) ReleaseImmediate(ctx ButtonContext) {
	if ctx.Modes.IsTransient(ctx.Modes.Selected()) {
		ctx.selectMode(ctx.Modes.CurrentNonTransient())
		return
	}
	ctx.pushMode(ctx.Mode)
}

func (ModeSelectBehaviour) PressDelayed(ctx ButtonContext) {
	prev := ctx.Modes.LastNonTransient()
	if prev == "" || CategoryOf(prev) == CategoryStandalone {
		return
	}
	ctx.selectMode(prev)
}

func (ModeSelectBehaviour) ReleaseDelayed(ctx ButtonContext) {
	prev := ctx.Modes.LastNonTransient()
	if CategoryOf(prev) != CategoryStandalone {
		// The delayed press already jumped.
		return
	}
	ctx.selectMode(prev)
}
