package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeSelector records behaviour-driven mode changes without a real stack.
type fakeSelector struct {
	selected string
	current  string
	last     string
	calls    []string
}

func (f *fakeSelector) Select(name string) error {
	f.calls = append(f.calls, "select:"+name)
	f.selected = name
	if !CategoryOf(name).Transient() && f.current != name {
		f.last = f.current
		f.current = name
	}
	return nil
}

func (f *fakeSelector) Push(name string) error {
	f.calls = append(f.calls, "push:"+name)
	f.selected = name
	return nil
}

func (f *fakeSelector) Selected() string            { return f.selected }
func (f *fakeSelector) CurrentNonTransient() string { return f.current }
func (f *fakeSelector) LastNonTransient() string    { return f.last }
func (f *fakeSelector) IsTransient(name string) bool {
	return CategoryOf(name).Transient()
}

func behaviourCtx(f *fakeSelector, mode string) ButtonContext {
	return ButtonContext{Modes: f, Mode: mode, Log: discardLogger()}
}

func TestAlternateOnLongPressWithoutAlt(t *testing.T) {
	f := &fakeSelector{}
	ctx := behaviourCtx(f, "track_controls_a")
	b := AlternateOnLongPress{}

	b.PressImmediate(ctx)
	assert.Equal(t, []string{"select:track_controls_a"}, f.calls)

	// The release events add nothing.
	b.ReleaseImmediate(ctx)
	b.PressDelayed(ctx)
	b.ReleaseDelayed(ctx)
	assert.Len(t, f.calls, 1)
}

func TestAlternateOnLongPressShortPress(t *testing.T) {
	f := &fakeSelector{}
	ctx := behaviourCtx(f, "track_controls_a")
	b := AlternateOnLongPress{Alt: "edit_track_controls_a"}

	b.PressImmediate(ctx)
	assert.Empty(t, f.calls, "with an alternate the press must not select")

	b.ReleaseImmediate(ctx)
	assert.Equal(t, []string{"select:track_controls_a"}, f.calls)
}

func TestAlternateOnLongPressLongHold(t *testing.T) {
	f := &fakeSelector{}
	ctx := behaviourCtx(f, "track_controls_a")
	b := AlternateOnLongPress{Alt: "edit_track_controls_a"}

	b.PressImmediate(ctx)
	b.PressDelayed(ctx)
	assert.Equal(t, []string{"select:edit_track_controls_a"}, f.calls)

	b.ReleaseDelayed(ctx)
	assert.Len(t, f.calls, 1, "the long release adds nothing")
}

func TestReleaseBehaviourFiresOnlyOnRelease(t *testing.T) {
	f := &fakeSelector{}
	ctx := behaviourCtx(f, "standalone_a")
	b := ReleaseBehaviour{}

	b.PressImmediate(ctx)
	b.PressDelayed(ctx)
	assert.Empty(t, f.calls, "press edges must stay silent for standalone targets")

	b.ReleaseImmediate(ctx)
	assert.Equal(t, []string{"select:standalone_a"}, f.calls)
}

func TestReleaseBehaviourLongHoldSelectsAlt(t *testing.T) {
	f := &fakeSelector{}
	ctx := behaviourCtx(f, "standalone_a")

	ReleaseBehaviour{Alt: "standalone_b"}.ReleaseDelayed(ctx)
	assert.Equal(t, []string{"select:standalone_b"}, f.calls)

	f.calls = nil
	ReleaseBehaviour{}.ReleaseDelayed(ctx)
	assert.Equal(t, []string{"select:standalone_a"}, f.calls)
}

func TestModeSelectTogglesChooser(t *testing.T) {
	f := &fakeSelector{selected: "track_controls_a", current: "track_controls_a"}
	ctx := behaviourCtx(f, "mode_select")
	b := ModeSelectBehaviour{}

	b.ReleaseImmediate(ctx)
	assert.Equal(t, []string{"push:mode_select"}, f.calls)

	// From inside any popup the same release returns to the current
	// non-transient mode.
	f.calls = nil
	b.ReleaseImmediate(ctx)
	assert.Equal(t, []string{"select:track_controls_a"}, f.calls)
}

func TestModeSelectLongHoldJumpsToPrevious(t *testing.T) {
	f := &fakeSelector{
		selected: "track_controls_a",
		current:  "track_controls_a",
		last:     "track_controls_b",
	}
	ctx := behaviourCtx(f, "mode_select")
	b := ModeSelectBehaviour{}

	b.PressDelayed(ctx)
	assert.Equal(t, []string{"select:track_controls_b"}, f.calls)

	// After the jump the release must not fire again.
	b.ReleaseDelayed(ctx)
	assert.Len(t, f.calls, 1)
}

func TestModeSelectLongHoldDefersStandaloneJump(t *testing.T) {
	f := &fakeSelector{
		selected: "track_controls_a",
		current:  "track_controls_a",
		last:     "standalone_b",
	}
	ctx := behaviourCtx(f, "mode_select")
	b := ModeSelectBehaviour{}

	b.PressDelayed(ctx)
	assert.Empty(t, f.calls, "a standalone jump must wait for the release edge")

	b.ReleaseDelayed(ctx)
	assert.Equal(t, []string{"select:standalone_b"}, f.calls)
}

func TestModeSelectLongHoldWithoutHistory(t *testing.T) {
	f := &fakeSelector{selected: "track_controls_a", current: "track_controls_a"}
	ctx := behaviourCtx(f, "mode_select")
	b := ModeSelectBehaviour{}

	b.PressDelayed(ctx)
	b.ReleaseDelayed(ctx)
	assert.Empty(t, f.calls)
}
