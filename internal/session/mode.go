package session

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pedalworks/softstepd/internal/sched"
)

// Built-in mode names. The underscore prefix marks them hidden, so none of
// them ever becomes the remembered non-transient mode.
const (
	// PreInitModeName occupies the stack before the boot sequence runs,
	// so the first real selection always has a previous mode to leave.
	PreInitModeName = "_pre_init"

	// DisabledModeName is forced while no identified device is attached.
	DisabledModeName = "_disabled"

	// StandaloneInitModeName parks the device in standalone with the
	// background program between identification and the first user mode.
	StandaloneInitModeName = "_standalone_init"

	// TransitionModeName carries the one-tick pause between the
	// background Program Change and the hosted-regime sysex on the way
	// out of standalone.
	TransitionModeName = "_standalone_exit"
)

// Category is derived from a mode's name prefix and decides transience and
// navigation defaults.
type Category uint8

const (
	CategoryUncategorized Category = iota
	CategoryDevice
	CategoryTrackControls
	CategoryEditTrackControls
	CategoryStandalone
	CategoryModeSelect
	CategoryHidden
)

func (c Category) String() string {
	switch c {
	case CategoryDevice:
		return "device"
	case CategoryTrackControls:
		return "track_controls"
	case CategoryEditTrackControls:
		return "edit_track_controls"
	case CategoryStandalone:
		return "standalone"
	case CategoryModeSelect:
		return "mode_select"
	case CategoryHidden:
		return "hidden"
	}
	return "uncategorized"
}

// Transient reports whether modes of this category stay out of the
// non-transient history: popups and system modes never become the mode
// back-navigation returns to.
func (c Category) Transient() bool {
	return c == CategoryHidden || c == CategoryModeSelect || c == CategoryEditTrackControls
}

// CategoryOf classifies a mode name. The edit prefix is checked before the
// plain track controls prefix since the former contains the latter.
func CategoryOf(name string) Category {
	switch {
	case strings.HasPrefix(name, "_"):
		return CategoryHidden
	case name == "mode_select":
		return CategoryModeSelect
	case strings.HasPrefix(name, "device_"):
		return CategoryDevice
	case strings.HasPrefix(name, "edit_track_controls_"):
		return CategoryEditTrackControls
	case strings.HasPrefix(name, "track_controls_"):
		return CategoryTrackControls
	case strings.HasPrefix(name, "standalone_"):
		return CategoryStandalone
	}
	return CategoryUncategorized
}

// Mode is one registered mode's activation side effects. Enter and Leave
// run on the session loop; neither may call back into the stack
// synchronously.
type Mode interface {
	Enter()
	Leave()
}

// ModeFuncs adapts two closures into a Mode. Nil funcs are no-ops.
type ModeFuncs struct {
	OnEnter func()
	OnLeave func()
}

func (m ModeFuncs) Enter() {
	if m.OnEnter != nil {
		m.OnEnter()
	}
}

func (m ModeFuncs) Leave() {
	if m.OnLeave != nil {
		m.OnLeave()
	}
}

// Stack is the session's mode machine: registered modes, the selected
// mode, and the non-transient history used for back-navigation. Not safe
// for concurrent use; the session loop is its only caller.
type Stack struct {
	loop  *sched.Loop
	log   *slog.Logger
	modes map[string]Mode
	order []string

	selected string

	// current is the selected non-transient mode; last is the one before
	// it. Transient modes never touch either.
	current string
	last    string

	// history holds the modes that were selected when a Push happened.
	history []string

	enteredAt time.Time
}

// NewStack creates a stack with the synthetic pre-init mode selected, so
// the boot sequence's first transition behaves like any other.
func NewStack(loop *sched.Loop, log *slog.Logger) *Stack {
	s := &Stack{
		loop:  loop,
		log:   log,
		modes: make(map[string]Mode),
	}
	s.modes[PreInitModeName] = ModeFuncs{}
	s.order = append(s.order, PreInitModeName)
	s.selected = PreInitModeName
	s.enteredAt = loop.Now()
	return s
}

// AddMode registers a mode under name. Registering a name twice is an
// error.
func (s *Stack) AddMode(name string, m Mode) error {
	if _, exists := s.modes[name]; exists {
		return fmt.Errorf("mode already registered: %s", name)
	}
	s.modes[name] = m
	s.order = append(s.order, name)
	return nil
}

// Has reports whether name is registered.
func (s *Stack) Has(name string) bool {
	_, ok := s.modes[name]
	return ok
}

// ModeNames returns all registered mode names in registration order.
func (s *Stack) ModeNames() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Selected returns the currently selected mode name.
func (s *Stack) Selected() string { return s.selected }

// CurrentNonTransient returns the selected non-transient mode, which a
// transient popup returns to. Empty until the first non-transient entry.
func (s *Stack) CurrentNonTransient() string { return s.current }

// LastNonTransient returns the non-transient mode before the current one,
// or empty.
func (s *Stack) LastNonTransient() string { return s.last }

// SetLastNonTransient seeds the back-navigation target. Used once at boot
// when the configuration names an initial last mode.
func (s *Stack) SetLastNonTransient(name string) {
	s.last = name
}

// EnteredAt returns when the selected mode was entered. Display scrolling
// and notification stomping key off this timestamp.
func (s *Stack) EnteredAt() time.Time { return s.enteredAt }

// IsTransient reports whether name's category keeps it out of the
// non-transient history.
func (s *Stack) IsTransient(name string) bool {
	return CategoryOf(name).Transient()
}

// Select makes name the exclusive mode, leaving the previous one and
// dropping any push history. Selecting the selected mode is a no-op.
func (s *Stack) Select(name string) error {
	s.history = s.history[:0]
	return s.transition(name)
}

// Push selects name while remembering the previously selected mode for
// Pop.
func (s *Stack) Push(name string) error {
	if name == s.selected {
		return nil
	}
	prev := s.selected
	if err := s.transition(name); err != nil {
		return err
	}
	s.history = append(s.history, prev)
	return nil
}

// Pop returns to the mode remembered by the latest Push, falling back to
// the current non-transient mode when nothing was pushed.
func (s *Stack) Pop() error {
	if n := len(s.history); n > 0 {
		target := s.history[n-1]
		s.history = s.history[:n-1]
		return s.transition(target)
	}
	if s.current == "" {
		return nil
	}
	return s.transition(s.current)
}

// PopUnselected drops the push history without a transition. Called after
// navigation that makes the remembered modes unreachable.
func (s *Stack) PopUnselected() {
	s.history = s.history[:0]
}

// ReplaceSelected swaps the selected mode without running Leave or Enter,
// rotating the non-transient history exactly like a real transition. This
// is the standalone fast path: the regime does not change, so neither
// mode's hardware side effects may run.
func (s *Stack) ReplaceSelected(name string) error {
	if _, ok := s.modes[name]; !ok {
		return fmt.Errorf("unknown mode: %s", name)
	}
	if name == s.selected {
		return nil
	}
	prev := s.selected
	s.selected = name
	s.rotate(name)
	s.enteredAt = s.loop.Now()
	s.log.Info("mode replaced", "from", prev, "to", name)
	return nil
}

func (s *Stack) transition(name string) error {
	m, ok := s.modes[name]
	if !ok {
		return fmt.Errorf("unknown mode: %s", name)
	}
	if name == s.selected {
		return nil
	}

	prev := s.selected
	if pm, ok := s.modes[prev]; ok {
		pm.Leave()
	}
	s.selected = name
	s.rotate(name)
	s.enteredAt = s.loop.Now()
	s.log.Info("mode changed", "from", prev, "to", name)
	m.Enter()
	return nil
}

// rotate updates the non-transient history for an entry into name.
// Re-entering the current non-transient mode after a popup must not
// clobber last.
func (s *Stack) rotate(name string) {
	if CategoryOf(name).Transient() {
		return
	}
	if s.current == name {
		return
	}
	s.last = s.current
	s.current = name
}
