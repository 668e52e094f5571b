package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"github.com/pedalworks/softstepd/internal/keysafety"
	"github.com/pedalworks/softstepd/internal/leds"
	internalmidi "github.com/pedalworks/softstepd/internal/midi"
	"github.com/pedalworks/softstepd/internal/sched"
)

const testIdentityDelay = 500 * time.Millisecond

// traceBinder records layer churn per mode.
type traceBinder struct {
	calls []string
}

func (b *traceBinder) ApplyLayer(id string)  { b.calls = append(b.calls, "apply:"+id) }
func (b *traceBinder) RemoveLayer(id string) { b.calls = append(b.calls, "remove:"+id) }

type driverHarness struct {
	d      *Driver
	rec    *msgRecorder
	loop   *sched.Loop
	clock  *sched.FakeClock
	binder *traceBinder
}

func newTestDriver(t *testing.T, mutate func(*Config)) *driverHarness {
	t.Helper()
	loop, clock := testLoop()
	cfg := Config{
		InitialMode:          "track_controls_volume",
		IdentityRequestDelay: testIdentityDelay,
		KeySafetyStrategy:    keysafety.AllKeys,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	binder := &traceBinder{}
	d, err := NewDriver(loop, cfg, binder, discardLogger())
	require.NoError(t, err)

	rec := &msgRecorder{}
	d.out = rec.send

	require.NoError(t, d.AddMode("mode_select"))
	require.NoError(t, d.AddMode("track_controls_volume"))
	require.NoError(t, d.AddMode("track_controls_mute"))
	require.NoError(t, d.AddMode("edit_track_controls_volume"))
	require.NoError(t, d.AddMode("device_params"))
	require.NoError(t, d.AddStandaloneMode("standalone_looper", 5))
	require.NoError(t, d.AddStandaloneMode("standalone_tuner", 6))
	return &driverHarness{d: d, rec: rec, loop: loop, clock: clock, binder: binder}
}

func deviceIdentityFrame() midi.Message {
	return midi.SysEx([]byte{
		0x7E, 0x00, 0x06, 0x02,
		0x00, 0x1B, 0x48, // manufacturer
		0x0C, 0x00, // family
		0x02, 0x00, // member
		0x01, 0x00, 0x00, 0x00, // version
	})
}

func (h *driverHarness) tick() {
	h.clock.Advance(sched.DefaultTick)
	h.loop.Step()
}

// identify walks connect, identity request and reply; the driver ends up
// parked in standalone init.
func (h *driverHarness) identify(t *testing.T) {
	t.Helper()
	h.d.supervisor.OnConnect()
	h.clock.Advance(testIdentityDelay)
	h.loop.Step()
	h.d.HandleMessage(deviceIdentityFrame())
	h.loop.Step()
	require.Equal(t, StandaloneInitModeName, h.d.Selected())
}

// boot runs the full startup into the initial mode.
func (h *driverHarness) boot(t *testing.T) {
	t.Helper()
	h.identify(t)
	h.tick() // initial mode entry, via the exit transition
	h.tick() // transition fires
}

func keyPos(key int) (row, col int) {
	if key < 5 {
		return 1, key
	}
	return 0, key - 5
}

func (h *driverHarness) sensor(key int, dir internalmidi.Direction, val uint8) {
	row, col := keyPos(key)
	h.d.HandleMessage(midi.ControlChange(internalmidi.Channel, internalmidi.SensorCC(row, col, dir), val))
	h.loop.Step()
}

func (h *driverHarness) nav(cc uint8, val uint8) {
	h.d.HandleMessage(midi.ControlChange(internalmidi.Channel, cc, val))
	h.loop.Step()
}

func TestBootSequenceOrdering(t *testing.T) {
	h := newTestDriver(t, nil)

	h.identify(t)
	require.Equal(t, []string{
		"identity_request",
		"standalone_on", "standalone_on",
		"pc:0",
	}, h.rec.summary())
	assert.True(t, h.d.Link().Standalone())

	h.tick()
	assert.Equal(t, TransitionModeName, h.d.Selected())

	h.tick()
	assert.Equal(t, "track_controls_volume", h.d.Selected())
	assert.False(t, h.d.Link().Standalone())
	assert.Equal(t, []string{
		"identity_request",
		"standalone_on", "standalone_on",
		"pc:0",
		"standalone_off", "standalone_off",
	}, h.rec.summary())
	assert.Contains(t, h.binder.calls, "apply:track_controls_volume")
	assert.NotEmpty(t, h.d.SessionID())
}

func TestIdentityTimeoutDisablesOnce(t *testing.T) {
	h := newTestDriver(t, nil)

	h.d.supervisor.OnConnect()
	h.clock.Advance(testIdentityDelay)
	h.loop.Step()
	h.rec.reset()

	h.clock.Advance(2 * testIdentityDelay)
	h.loop.Step()
	assert.Equal(t, DisabledModeName, h.d.Selected())
	assert.False(t, h.d.Identified())

	// The probe keeps retrying, but nothing except identity requests may
	// reach the wire while disabled.
	h.clock.Advance(testIdentityDelay)
	h.loop.Step()
	h.clock.Advance(2 * testIdentityDelay)
	h.loop.Step()
	assert.Equal(t, DisabledModeName, h.d.Selected())
	for _, tag := range h.rec.summary() {
		assert.Equal(t, "identity_request", tag)
	}
}

func TestStandaloneToStandaloneFastPath(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)

	require.NoError(t, h.d.Select("standalone_looper"))
	require.Equal(t, "standalone_looper", h.d.Selected())
	h.rec.reset()

	require.NoError(t, h.d.Select("standalone_tuner"))
	assert.Equal(t, []string{"pc:6"}, h.rec.summary(),
		"a standalone switch is one program change, no sysex")
	assert.Equal(t, "standalone_tuner", h.d.Selected())
	assert.Equal(t, "standalone_tuner", h.d.CurrentNonTransient())
	assert.Equal(t, "standalone_looper", h.d.LastNonTransient())
}

func TestStandaloneExitSendsProgramBeforeSysex(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)
	require.NoError(t, h.d.Select("standalone_looper"))
	h.rec.reset()

	require.NoError(t, h.d.Select("track_controls_volume"))
	assert.Equal(t, TransitionModeName, h.d.Selected())
	assert.Equal(t, []string{"pc:0"}, h.rec.summary(),
		"the background program heads out before the regime flips")

	h.tick()
	assert.Equal(t, []string{"pc:0", "standalone_off", "standalone_off"}, h.rec.summary())
	assert.Equal(t, "track_controls_volume", h.d.Selected())
	assert.False(t, h.d.Link().Standalone())
}

func TestStandaloneInitialModeFastPath(t *testing.T) {
	h := newTestDriver(t, func(c *Config) { c.InitialMode = "standalone_looper" })

	h.identify(t)
	h.tick()
	assert.Equal(t, "standalone_looper", h.d.Selected())
	assert.True(t, h.d.Link().Standalone())
	assert.Equal(t, []string{
		"identity_request",
		"standalone_on", "standalone_on",
		"pc:0",
		"pc:5",
	}, h.rec.summary(), "booting into standalone must not round-trip through hosted")
}

func TestRememberedModeRestoredAfterReconnect(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)
	require.NoError(t, h.d.Select("track_controls_mute"))

	// Silent disconnect: a re-verification goes unanswered.
	h.d.supervisor.RequestIdentity()
	h.loop.Step()
	h.clock.Advance(2 * testIdentityDelay)
	h.loop.Step()
	require.Equal(t, DisabledModeName, h.d.Selected())

	h.d.HandleMessage(deviceIdentityFrame())
	h.loop.Step()
	h.tick()
	h.tick()
	assert.Equal(t, "track_controls_mute", h.d.Selected())
}

func TestDetachRemembersAndReattachRestores(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)
	require.NoError(t, h.d.Select("device_params"))

	h.d.Detach()
	assert.Equal(t, DisabledModeName, h.d.Selected())
	assert.False(t, h.d.Identified())

	h.d.out = h.rec.send
	h.d.supervisor.OnConnect()
	h.clock.Advance(testIdentityDelay)
	h.loop.Step()
	h.d.HandleMessage(deviceIdentityFrame())
	h.loop.Step()
	h.tick()
	h.tick()
	assert.Equal(t, "device_params", h.d.Selected())
}

func TestSensorsIgnoredInStandalone(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)

	h.sensor(0, internalmidi.DirUp, 90)
	require.True(t, h.d.Key(0).Pressed())
	h.sensor(0, internalmidi.DirUp, 0)

	require.NoError(t, h.d.Select("standalone_looper"))
	h.sensor(0, internalmidi.DirUp, 90)
	assert.False(t, h.d.Key(0).Pressed(),
		"standalone preset traffic reuses sensor CCs and must be dropped")
}

func TestNavRockerCyclesStandaloneModes(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)
	require.NoError(t, h.d.Select("standalone_looper"))
	h.rec.reset()

	h.nav(internalmidi.NavUpCC, 127)
	h.nav(internalmidi.NavUpCC, 0)
	assert.Equal(t, "standalone_tuner", h.d.Selected())
	assert.Equal(t, []string{"pc:6"}, h.rec.summary())

	h.nav(internalmidi.NavDownCC, 127)
	h.nav(internalmidi.NavDownCC, 0)
	assert.Equal(t, "standalone_looper", h.d.Selected())
	assert.Equal(t, []string{"pc:6", "pc:5"}, h.rec.summary())
}

func TestNavLeftExitsStandaloneToModeSelect(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)
	require.NoError(t, h.d.Select("standalone_looper"))

	h.nav(internalmidi.NavLeftCC, 127)
	h.nav(internalmidi.NavLeftCC, 0)
	require.Equal(t, TransitionModeName, h.d.Selected())

	h.tick()
	assert.Equal(t, "mode_select", h.d.Selected())
	assert.False(t, h.d.Link().Standalone())
}

func TestPingReverifiesAfterSilence(t *testing.T) {
	h := newTestDriver(t, func(c *Config) { c.PingInterval = 2 * time.Second })
	h.boot(t)
	h.rec.reset()

	h.clock.Advance(2 * time.Second)
	h.loop.Step()
	require.Equal(t, []string{"ping"}, h.rec.summary())

	h.d.HandleMessage(midi.SysEx([]byte{0x00, 0x1B, 0x48, 0x4F}))
	h.loop.Step()

	h.clock.Advance(2 * time.Second)
	h.loop.Step()
	require.Equal(t, []string{"ping", "ping"}, h.rec.summary())

	// No reply this time: the next interval re-verifies the identity.
	h.clock.Advance(2 * time.Second)
	h.loop.Step()
	assert.Equal(t, []string{"ping", "ping", "identity_request"}, h.rec.summary())
	assert.False(t, h.d.Identified())

	// A live session answering the re-verification keeps its mode.
	h.d.HandleMessage(deviceIdentityFrame())
	h.loop.Step()
	assert.True(t, h.d.Identified())
	assert.Equal(t, "track_controls_volume", h.d.Selected())
}

func TestBacklightAssertedBeforeBoot(t *testing.T) {
	on := true
	h := newTestDriver(t, func(c *Config) { c.Backlight = &on })

	h.identify(t)
	assert.Equal(t, []string{
		"identity_request",
		"backlight_on",
		"standalone_on", "standalone_on",
		"pc:0",
	}, h.rec.summary())
}

func TestBacklightWorkaroundRedrawsLEDs(t *testing.T) {
	on := true
	h := newTestDriver(t, func(c *Config) { c.Backlight = &on })
	h.boot(t)

	redCC := fmt.Sprintf("cc:%d=%d", internalmidi.LEDRedCC(3), uint8(leds.On))
	h.d.Light(3).SetColor(leds.Color{Red: leds.On}, false)
	require.Contains(t, h.rec.summary(), redCC)
	h.rec.reset()

	// The firmware drops hosted LED state after the backlight sysex; the
	// fix window rewrites it.
	h.clock.Advance(backlightFixDelay)
	h.loop.Step()
	assert.Contains(t, h.rec.summary(), redCC)

	h.rec.reset()
	h.clock.Advance(backlightFixInterval)
	h.loop.Step()
	assert.Contains(t, h.rec.summary(), redCC)
}

func TestGoodbyeParksDevice(t *testing.T) {
	off := false
	h := newTestDriver(t, func(c *Config) {
		c.DisconnectProgram = 3
		c.DisconnectBacklight = &off
	})
	h.boot(t)
	h.rec.reset()

	h.d.Goodbye()
	assert.Equal(t, []string{
		"standalone_on", "standalone_on",
		"pc:3",
		"backlight_off",
	}, h.rec.summary())
}

func TestModeButtonBinding(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)

	unbind, err := h.d.BindModeButton(0, "track_controls_mute")
	require.NoError(t, err)

	h.sensor(0, internalmidi.DirUp, 80)
	assert.Equal(t, "track_controls_mute", h.d.Selected())
	h.sensor(0, internalmidi.DirUp, 0)

	unbind()
	require.NoError(t, h.d.Select("track_controls_volume"))
	h.sensor(0, internalmidi.DirUp, 80)
	assert.Equal(t, "track_controls_volume", h.d.Selected(),
		"an unbound key must not drive mode changes")
}

func TestModeSelectButtonFlow(t *testing.T) {
	h := newTestDriver(t, nil)
	h.boot(t)
	require.NoError(t, h.d.Select("track_controls_mute"))

	_, err := h.d.BindModeButton(9, "mode_select")
	require.NoError(t, err)

	// Short press opens the chooser.
	h.sensor(9, internalmidi.DirUp, 90)
	h.sensor(9, internalmidi.DirUp, 0)
	assert.Equal(t, "mode_select", h.d.Selected())

	// Another short press backs out to the current mode.
	h.sensor(9, internalmidi.DirUp, 90)
	h.sensor(9, internalmidi.DirUp, 0)
	assert.Equal(t, "track_controls_mute", h.d.Selected())

	// A long hold jumps to the previous non-transient mode.
	h.sensor(9, internalmidi.DirUp, 90)
	h.clock.Advance(LongPressThreshold)
	h.loop.Step()
	h.sensor(9, internalmidi.DirUp, 0)
	assert.Equal(t, "track_controls_volume", h.d.Selected())
}

func TestPerModeKeySafetyOverride(t *testing.T) {
	h := newTestDriver(t, func(c *Config) {
		c.KeySafetyStrategy = keysafety.AllKeys
		c.ModeKeySafety = map[string]keysafety.Strategy{
			"track_controls_mute": keysafety.SingleKey,
		}
	})
	h.boot(t)

	h.sensor(0, internalmidi.DirUp, 50)
	h.sensor(4, internalmidi.DirUp, 50)
	assert.True(t, h.d.Key(0).Pressed())
	assert.True(t, h.d.Key(4).Pressed(), "the default strategy admits everything")
	h.sensor(0, internalmidi.DirUp, 0)
	h.sensor(4, internalmidi.DirUp, 0)

	require.NoError(t, h.d.Select("track_controls_mute"))
	h.sensor(0, internalmidi.DirUp, 50)
	h.sensor(4, internalmidi.DirUp, 50)
	assert.True(t, h.d.Key(0).Pressed())
	assert.False(t, h.d.Key(4).Pressed(), "the override admits one key at a time")
}
