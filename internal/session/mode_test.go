package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pedalworks/softstepd/internal/sched"
)

func testLoop() (*sched.Loop, *sched.FakeClock) {
	clock := sched.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return sched.NewWithClock(discardLogger(), clock, sched.DefaultTick), clock
}

// traceMode records its own Enter and Leave calls into a shared trace.
type traceMode struct {
	name  string
	trace *[]string
}

func (m traceMode) Enter() { *m.trace = append(*m.trace, "enter:"+m.name) }
func (m traceMode) Leave() { *m.trace = append(*m.trace, "leave:"+m.name) }

func newTestStack(t *testing.T, names ...string) (*Stack, *[]string) {
	loop, _ := testLoop()
	s := NewStack(loop, discardLogger())
	trace := &[]string{}
	for _, n := range names {
		require.NoError(t, s.AddMode(n, traceMode{name: n, trace: trace}))
	}
	return s, trace
}

func TestCategoryOf(t *testing.T) {
	cases := map[string]Category{
		"_pre_init":                  CategoryHidden,
		"_disabled":                  CategoryHidden,
		"mode_select":                CategoryModeSelect,
		"device_params":              CategoryDevice,
		"track_controls_volume":      CategoryTrackControls,
		"edit_track_controls_volume": CategoryEditTrackControls,
		"standalone_looper":          CategoryStandalone,
		"session_grid":               CategoryUncategorized,
	}
	for name, want := range cases {
		assert.Equal(t, want, CategoryOf(name), name)
	}
}

func TestTransience(t *testing.T) {
	assert.True(t, CategoryHidden.Transient())
	assert.True(t, CategoryModeSelect.Transient())
	assert.True(t, CategoryEditTrackControls.Transient())
	assert.False(t, CategoryStandalone.Transient())
	assert.False(t, CategoryTrackControls.Transient())
	assert.False(t, CategoryDevice.Transient())
	assert.False(t, CategoryUncategorized.Transient())
}

func TestPreInitIsInitiallySelected(t *testing.T) {
	s, _ := newTestStack(t)
	assert.Equal(t, PreInitModeName, s.Selected())
	assert.Empty(t, s.CurrentNonTransient())
}

func TestSelectRunsLeaveThenEnter(t *testing.T) {
	s, trace := newTestStack(t, "track_controls_a", "track_controls_b")

	require.NoError(t, s.Select("track_controls_a"))
	require.NoError(t, s.Select("track_controls_b"))
	assert.Equal(t, []string{
		"enter:track_controls_a",
		"leave:track_controls_a",
		"enter:track_controls_b",
	}, *trace)
}

func TestSelectUnknownModeFails(t *testing.T) {
	s, _ := newTestStack(t, "track_controls_a")
	assert.Error(t, s.Select("nope"))
	assert.Equal(t, PreInitModeName, s.Selected())
}

func TestNonTransientRotation(t *testing.T) {
	s, _ := newTestStack(t, "track_controls_a", "track_controls_b", "device_c")

	require.NoError(t, s.Select("track_controls_a"))
	assert.Equal(t, "track_controls_a", s.CurrentNonTransient())
	assert.Empty(t, s.LastNonTransient())

	require.NoError(t, s.Select("track_controls_b"))
	assert.Equal(t, "track_controls_b", s.CurrentNonTransient())
	assert.Equal(t, "track_controls_a", s.LastNonTransient())

	require.NoError(t, s.Select("device_c"))
	assert.Equal(t, "device_c", s.CurrentNonTransient())
	assert.Equal(t, "track_controls_b", s.LastNonTransient())
}

func TestTransientNeverRotatesCurrent(t *testing.T) {
	s, _ := newTestStack(t,
		"track_controls_a", "track_controls_b",
		"mode_select", "edit_track_controls_a", "_hidden_thing")

	require.NoError(t, s.Select("track_controls_a"))
	require.NoError(t, s.Select("track_controls_b"))

	for _, transient := range []string{"mode_select", "edit_track_controls_a", "_hidden_thing"} {
		require.NoError(t, s.Push(transient))
		assert.Equal(t, "track_controls_b", s.CurrentNonTransient(), transient)
		assert.Equal(t, "track_controls_a", s.LastNonTransient(), transient)
		require.NoError(t, s.Select("track_controls_b"))
	}
}

func TestReenteringCurrentKeepsLast(t *testing.T) {
	s, _ := newTestStack(t, "track_controls_a", "track_controls_b", "mode_select")

	require.NoError(t, s.Select("track_controls_a"))
	require.NoError(t, s.Select("track_controls_b"))
	require.NoError(t, s.Push("mode_select"))
	require.NoError(t, s.Select("track_controls_b"))

	// Returning from the popup to the current mode must not rotate a
	// mode onto itself.
	assert.Equal(t, "track_controls_b", s.CurrentNonTransient())
	assert.Equal(t, "track_controls_a", s.LastNonTransient())
}

func TestPushPop(t *testing.T) {
	s, trace := newTestStack(t, "track_controls_a", "mode_select")

	require.NoError(t, s.Select("track_controls_a"))
	require.NoError(t, s.Push("mode_select"))
	assert.Equal(t, "mode_select", s.Selected())

	require.NoError(t, s.Pop())
	assert.Equal(t, "track_controls_a", s.Selected())
	assert.Contains(t, *trace, "leave:mode_select")
}

func TestPopWithoutPushFallsBackToCurrent(t *testing.T) {
	s, _ := newTestStack(t, "track_controls_a", "mode_select")

	require.NoError(t, s.Select("track_controls_a"))
	require.NoError(t, s.Select("mode_select"))
	require.NoError(t, s.Pop())
	assert.Equal(t, "track_controls_a", s.Selected())
}

func TestReplaceSelectedSkipsEnterAndLeave(t *testing.T) {
	s, trace := newTestStack(t, "standalone_a", "standalone_b")

	require.NoError(t, s.Select("standalone_a"))
	*trace = (*trace)[:0]

	require.NoError(t, s.ReplaceSelected("standalone_b"))
	assert.Empty(t, *trace, "replace must not run mode side effects")
	assert.Equal(t, "standalone_b", s.Selected())
	assert.Equal(t, "standalone_b", s.CurrentNonTransient())
	assert.Equal(t, "standalone_a", s.LastNonTransient())
}

func TestEnteredAtTracksTransitions(t *testing.T) {
	loop, clock := testLoop()
	s := NewStack(loop, discardLogger())
	require.NoError(t, s.AddMode("track_controls_a", ModeFuncs{}))
	require.NoError(t, s.AddMode("track_controls_b", ModeFuncs{}))

	require.NoError(t, s.Select("track_controls_a"))
	first := s.EnteredAt()

	clock.Advance(3 * time.Second)
	require.NoError(t, s.Select("track_controls_b"))
	assert.Equal(t, 3*time.Second, s.EnteredAt().Sub(first))
}

func TestDuplicateModeRegistrationFails(t *testing.T) {
	s, _ := newTestStack(t, "track_controls_a")
	assert.Error(t, s.AddMode("track_controls_a", ModeFuncs{}))
}
