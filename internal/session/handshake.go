package session

import (
	"log/slog"

	"github.com/pedalworks/softstepd/internal/sched"
)

// StandaloneMode runs the device on one of its onboard presets. Entry sets
// the program before flipping the regime, so the entry sequence is the
// standalone-on sysex pair followed by at most one Program Change. Leave
// parks the background program while still in standalone and drops every
// output cache, forcing a full redraw once the hosted regime is back.
type StandaloneMode struct {
	name              string
	program           uint8
	backgroundProgram uint8
	link              *Link

	// applyLayer/removeLayer bind the mode's host-side controls, usually
	// just the exit handling; clearCaches invalidates LEDs and display.
	applyLayer  func()
	removeLayer func()
	clearCaches func()
}

// NewStandaloneMode creates a standalone mode for one onboard preset.
func NewStandaloneMode(name string, program, backgroundProgram uint8, link *Link, applyLayer, removeLayer, clearCaches func()) *StandaloneMode {
	return &StandaloneMode{
		name:              name,
		program:           program,
		backgroundProgram: backgroundProgram,
		link:              link,
		applyLayer:        applyLayer,
		removeLayer:       removeLayer,
		clearCaches:       clearCaches,
	}
}

// Name returns the mode name.
func (m *StandaloneMode) Name() string { return m.name }

// ProgramNumber returns the onboard preset the mode selects.
func (m *StandaloneMode) ProgramNumber() uint8 { return m.program }

func (m *StandaloneMode) Enter() {
	m.link.SetProgram(m.program)
	m.link.SetStandalone(true)
	if m.applyLayer != nil {
		m.applyLayer()
	}
}

func (m *StandaloneMode) Leave() {
	if m.removeLayer != nil {
		m.removeLayer()
	}
	// The background Program Change goes out while the regime is still
	// standalone; the transition mode waits a tick before flipping it.
	m.link.SetProgram(m.backgroundProgram)
	if m.clearCaches != nil {
		m.clearCaches()
	}
}

// transitionMode bridges standalone back to hosted. The transport reorders
// same-tick sysex ahead of other messages, so the hosted-off sysex must
// not share a tick with the background Program Change sent by the
// standalone mode's Leave. Entry arms a one-tick wait; the fire flips the
// regime and selects the pending target.
type transitionMode struct {
	link  *Link
	stack *Stack
	task  *sched.Task
	log   *slog.Logger

	// target is set by the driver right before selecting the transition
	// mode; empty falls back to the last non-transient mode.
	target string

	// fallback resolves the target when none is pending and no last
	// non-transient mode exists.
	fallback func() string
}

func newTransitionMode(loop *sched.Loop, link *Link, stack *Stack, fallback func() string, log *slog.Logger) *transitionMode {
	t := &transitionMode{link: link, stack: stack, fallback: fallback, log: log}
	t.task = loop.NewTask("standalone-exit", t.fire)
	return t
}

func (t *transitionMode) Enter() {
	t.task.RestartTicks(1)
}

func (t *transitionMode) Leave() {
	// Interrupted wait: another activation won the race. The regime flip
	// is abandoned with it.
	t.task.Cancel()
	t.target = ""
}

func (t *transitionMode) fire() {
	if t.stack.Selected() != TransitionModeName {
		return
	}
	t.link.SetStandalone(false)

	target := t.target
	t.target = ""
	if target == "" {
		target = t.stack.LastNonTransient()
	}
	if target == "" || !t.stack.Has(target) {
		target = t.fallback()
	}
	if target == "" {
		t.log.Warn("no mode to return to after standalone exit")
		return
	}
	if err := t.stack.Select(target); err != nil {
		t.log.Warn("standalone exit target failed", "mode", target, "err", err)
	}
}
