// Package session implements the device session state machine: the mode
// stack with its transient and long-press semantics, the standalone/hosted
// handshake, connection supervision, and the plumbing from raw sensor
// values to mode actions. Everything in this package runs on one
// sched.Loop; nothing here is safe to call from other goroutines.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/gomidi/midi/v2"

	"github.com/pedalworks/softstepd/internal/display"
	"github.com/pedalworks/softstepd/internal/keysafety"
	"github.com/pedalworks/softstepd/internal/leds"
	internalmidi "github.com/pedalworks/softstepd/internal/midi"
	"github.com/pedalworks/softstepd/internal/sched"
)

// The firmware visually drops the hosted LED state some time after a
// backlight sysex; the driver re-sends the LED state for a few seconds
// after every identification that asserted the backlight.
const (
	backlightFixDelay    = 3500 * time.Millisecond
	backlightFixInterval = 200 * time.Millisecond
	backlightFixCount    = 20
)

var errNotConnected = errors.New("no device connection")

// Binder is the mapping layer's contract: it applies a mode's control
// bindings when the mode becomes active and removes them when it stops
// being active. What gets bound to what is the binder's business.
type Binder interface {
	ApplyLayer(modeID string)
	RemoveLayer(modeID string)
}

// NopBinder is a Binder that binds nothing.
type NopBinder struct{}

func (NopBinder) ApplyLayer(string)  {}
func (NopBinder) RemoveLayer(string) {}

// Config carries the construction-time session parameters. All fields are
// read once; changing them after NewDriver has no effect.
type Config struct {
	// InitialMode is entered after the boot sequence when no mode is
	// remembered from a previous connection.
	InitialMode string

	// InitialLastMode seeds the long-press back target before any real
	// navigation happened.
	InitialLastMode string

	// IdentityRequestDelay is the pause between connecting and the
	// identity request; the reply timeout is twice this.
	IdentityRequestDelay time.Duration

	// PingInterval enables the liveness probe when positive.
	PingInterval time.Duration

	KeySafetyStrategy keysafety.Strategy
	ModeKeySafety     map[string]keysafety.Strategy

	// Backlight nil leaves the backlight unmanaged.
	Backlight           *bool
	DisconnectBacklight *bool

	// BackgroundProgram is the standalone preset parked while crossing
	// out of standalone; DisconnectProgram is selected at shutdown.
	BackgroundProgram uint8
	DisconnectProgram uint8

	FullPressure bool
}

// Driver owns one device session end to end: transport attachment,
// identification, the mode stack, input routing and output rendering.
type Driver struct {
	loop   *sched.Loop
	log    *slog.Logger
	cfg    Config
	binder Binder

	// out is the live transport send, nil while disconnected. All
	// component sends go through sendFn so they survive reconnects.
	out    internalmidi.SendFunc
	conn   *internalmidi.Connection
	sendFn internalmidi.SendFunc

	link       *Link
	stack      *Stack
	supervisor *Supervisor
	arbiter    *keysafety.Arbiter
	palette    leds.Palette

	keys    [internalmidi.NumKeys]*KeyInput
	navs    [4]*NavInput
	lights  [internalmidi.NumKeys]*leds.Light
	display *display.Display

	transition         *transitionMode
	behaviours         map[string]Behaviour
	standalonePrograms map[string]uint8
	standaloneOrder    []string

	navBindings [4]struct{ press, release func() }

	backlightFix     *sched.Task
	backlightFixLeft int

	ping         *sched.Task
	pingAwaiting bool
}

// NewDriver builds a disconnected driver. Modes still need registering and
// a connection attaching before anything happens.
func NewDriver(loop *sched.Loop, cfg Config, binder Binder, log *slog.Logger) (*Driver, error) {
	if binder == nil {
		binder = NopBinder{}
	}
	d := &Driver{
		loop:               loop,
		log:                log,
		cfg:                cfg,
		binder:             binder,
		behaviours:         make(map[string]Behaviour),
		standalonePrograms: make(map[string]uint8),
		palette:            leds.DefaultPalette(),
	}
	d.sendFn = func(msg midi.Message) error {
		if d.out == nil {
			return errNotConnected
		}
		return d.out(msg)
	}

	d.link = NewLink(d.sendFn, log)
	d.stack = NewStack(loop, log)
	d.arbiter = keysafety.New(cfg.KeySafetyStrategy, log)
	d.display = display.New(d.sendFn, log)

	for row := 0; row < internalmidi.NumRows; row++ {
		for col := 0; col < internalmidi.NumCols; col++ {
			k, err := newKeyInput(d.arbiter, row, col, cfg.FullPressure)
			if err != nil {
				return nil, err
			}
			d.keys[k.Key()] = k
		}
	}
	for k := 0; k < internalmidi.NumKeys; k++ {
		d.lights[k] = leds.NewLight(fmt.Sprintf("key%d", k), k, d.sendFn, loop, log)
	}
	for _, dir := range internalmidi.Directions {
		d.navs[dir] = &NavInput{dir: dir}
		d.navs[dir].OnPress = func() { d.navPressed(dir) }
		d.navs[dir].OnRelease = func() { d.navReleased(dir) }
	}

	d.supervisor = NewSupervisor(loop, d.stack, d.sendFn, cfg.IdentityRequestDelay, SupervisorHooks{
		OnIdentified:     d.identified,
		OnDisconnected:   d.disconnected,
		EnterInitialMode: d.enterInitialMode,
	}, log)
	d.transition = newTransitionMode(loop, d.link, d.stack, d.fallbackMode, log)
	d.backlightFix = loop.NewTask("backlight-fix", d.backlightFixFire)
	d.ping = loop.NewTask("ping", d.pingFire)

	if err := d.stack.AddMode(DisabledModeName, ModeFuncs{OnEnter: d.clearOutputCaches}); err != nil {
		return nil, err
	}
	init := NewStandaloneMode(StandaloneInitModeName, cfg.BackgroundProgram, cfg.BackgroundProgram,
		d.link, nil, nil, d.clearOutputCaches)
	if err := d.stack.AddMode(StandaloneInitModeName, init); err != nil {
		return nil, err
	}
	if err := d.stack.AddMode(TransitionModeName, d.transition); err != nil {
		return nil, err
	}
	return d, nil
}

// Loop returns the session loop.
func (d *Driver) Loop() *sched.Loop { return d.loop }

// Link returns the hardware link.
func (d *Driver) Link() *Link { return d.link }

// Key returns one key's input (0-9).
func (d *Driver) Key(k int) *KeyInput { return d.keys[k] }

// Nav returns one navigation rocker direction.
func (d *Driver) Nav(dir internalmidi.Direction) *NavInput { return d.navs[dir] }

// Light returns one key's LED pair.
func (d *Driver) Light(k int) *leds.Light { return d.lights[k] }

// Display returns the 4-character display.
func (d *Driver) Display() *display.Display { return d.display }

// Palette returns the color table for renderers.
func (d *Driver) Palette() leds.Palette { return d.palette }

// Identified reports whether an identified device session is live.
func (d *Driver) Identified() bool { return d.supervisor.Identified() }

// SessionID returns the current identified session's id, empty while
// unidentified.
func (d *Driver) SessionID() string { return d.supervisor.SessionID() }

// ModeNames returns every registered mode in registration order.
func (d *Driver) ModeNames() []string { return d.stack.ModeNames() }

// AddMode registers a hosted mode whose contents the binder supplies.
func (d *Driver) AddMode(name string) error {
	if CategoryOf(name) == CategoryStandalone {
		return fmt.Errorf("standalone mode needs a program, use AddStandaloneMode: %s", name)
	}
	return d.stack.AddMode(name, &userMode{name: name, d: d})
}

// AddStandaloneMode registers a standalone mode selecting one onboard
// preset program.
func (d *Driver) AddStandaloneMode(name string, program uint8) error {
	if CategoryOf(name) != CategoryStandalone {
		return fmt.Errorf("not a standalone mode name: %s", name)
	}
	if program > 127 {
		return fmt.Errorf("program out of range: %d", program)
	}
	m := NewStandaloneMode(name, program, d.cfg.BackgroundProgram, d.link,
		func() {
			d.applyKeySafety(name)
			d.binder.ApplyLayer(name)
		},
		func() { d.binder.RemoveLayer(name) },
		d.clearOutputCaches)
	if err := d.stack.AddMode(name, m); err != nil {
		return err
	}
	d.standalonePrograms[name] = program
	d.standaloneOrder = append(d.standaloneOrder, name)
	return nil
}

// SetModeBehaviour overrides the button behaviour derived from a mode's
// category.
func (d *Driver) SetModeBehaviour(name string, b Behaviour) {
	d.behaviours[name] = b
}

// Selected returns the selected mode name.
func (d *Driver) Selected() string { return d.stack.Selected() }

// CurrentNonTransient returns the selected non-transient mode.
func (d *Driver) CurrentNonTransient() string { return d.stack.CurrentNonTransient() }

// LastNonTransient returns the non-transient mode before the current one.
func (d *Driver) LastNonTransient() string { return d.stack.LastNonTransient() }

// IsTransient reports whether a mode stays out of the non-transient
// history.
func (d *Driver) IsTransient(name string) bool { return d.stack.IsTransient(name) }

// Select changes the selected mode, routing through the regime handshake
// where the plain stack transition would violate the wire ordering:
// standalone to standalone is a single Program Change with a history swap,
// standalone to hosted goes through the one-tick transition mode.
func (d *Driver) Select(name string) error {
	if !d.stack.Has(name) {
		return fmt.Errorf("unknown mode: %s", name)
	}
	cur := d.stack.Selected()
	switch {
	case cur == name:
		return nil
	case d.standaloneRegime(cur) && d.standaloneRegime(name):
		if p, ok := d.standaloneProgram(name); ok {
			d.link.SetProgram(p)
		}
		return d.stack.ReplaceSelected(name)
	case d.standaloneRegime(cur) && name != TransitionModeName:
		d.transition.target = name
		return d.stack.Select(TransitionModeName)
	}
	return d.stack.Select(name)
}

// Push selects a mode while remembering the current one for Pop.
func (d *Driver) Push(name string) error { return d.stack.Push(name) }

// ExitStandalone leaves the standalone regime toward target; empty target
// restores the last non-transient mode.
func (d *Driver) ExitStandalone(target string) error {
	if !d.standaloneRegime(d.stack.Selected()) {
		return nil
	}
	d.transition.target = target
	return d.stack.Select(TransitionModeName)
}

// BindModeButton wires a key to select target with target's button
// behaviour. The returned func unbinds; binders call it from RemoveLayer.
func (d *Driver) BindModeButton(key int, target string) (func(), error) {
	if key < 0 || key >= internalmidi.NumKeys {
		return nil, fmt.Errorf("key out of range: %d", key)
	}
	if !d.stack.Has(target) {
		return nil, fmt.Errorf("unknown mode: %s", target)
	}
	btn := NewButton(d.loop, fmt.Sprintf("key%d:%s", key, target), d.behaviourFor(target),
		ButtonContext{Modes: d, Mode: target, Log: d.log})
	k := d.keys[key]
	k.OnPress = btn.Press
	k.OnRelease = btn.Release
	return func() {
		btn.Reset()
		k.OnPress, k.OnRelease = nil, nil
	}, nil
}

// BindNav installs hosted-regime hooks for one nav direction. In the
// standalone regime the driver owns the rocker: left and right exit the
// regime, up and down step through the standalone modes.
func (d *Driver) BindNav(dir internalmidi.Direction, onPress, onRelease func()) func() {
	d.navBindings[dir].press = onPress
	d.navBindings[dir].release = onRelease
	return func() {
		d.navBindings[dir].press = nil
		d.navBindings[dir].release = nil
	}
}

// Attach adopts a fresh transport connection and starts listening on it.
// Incoming messages are posted onto the session loop; listener errors go
// to onListenError, also on the loop.
func (d *Driver) Attach(conn *internalmidi.Connection, onListenError func(error)) error {
	d.conn = conn
	d.out = conn.Send
	err := conn.Listen(func(msg midi.Message) {
		d.loop.Post(func() { d.HandleMessage(msg) })
	}, func(err error) {
		d.loop.Post(func() {
			if onListenError != nil {
				onListenError(err)
			}
		})
	})
	if err != nil {
		d.conn = nil
		d.out = nil
		return err
	}
	d.supervisor.OnConnect()
	return nil
}

// Detach forgets the connection after the transport dropped it.
func (d *Driver) Detach() {
	d.conn = nil
	d.out = nil
	d.supervisor.HandleUnplug()
}

// Goodbye parks the device for shutdown: the disconnect program in
// standalone, with the configured disconnect backlight.
func (d *Driver) Goodbye() {
	if d.out == nil || !d.link.Enabled() {
		return
	}
	d.link.SetProgram(d.cfg.DisconnectProgram)
	d.link.SetStandalone(true)
	if d.cfg.DisconnectBacklight != nil {
		d.link.SetBacklight(d.cfg.DisconnectBacklight)
	}
}

// HandleMessage routes one incoming transport message. Runs on the
// session loop.
func (d *Driver) HandleMessage(msg midi.Message) {
	raw := []byte(msg)
	if len(raw) > 0 && raw[0] == 0xF0 {
		d.handleSysEx(raw)
		return
	}
	var ch, cc, val uint8
	if msg.GetControlChange(&ch, &cc, &val) {
		if ch != internalmidi.Channel {
			return
		}
		d.handleCC(cc, val)
	}
	// Everything else is firmware noise.
}

func (d *Driver) handleSysEx(frame []byte) {
	if id, ok := internalmidi.ParseIdentity(frame); ok {
		d.supervisor.HandleIdentity(id)
		return
	}
	if internalmidi.IsPingReply(frame) {
		d.pingAwaiting = false
		return
	}
	d.log.Debug("ignoring sysex", "len", len(frame))
}

func (d *Driver) handleCC(cc, val uint8) {
	if pos, dir, ok := internalmidi.SensorFromCC(cc); ok {
		// Standalone presets reuse the sensor CC space; none of it is
		// raw sensor data while the device runs its own preset.
		if d.standaloneRegime(d.stack.Selected()) {
			return
		}
		d.keys[internalmidi.KeyNumber(pos.Row, pos.Col)].Direction(dir).Value(val)
		return
	}
	if internalmidi.IsNavCC(cc) {
		d.navs[navDirection(cc)].Value(val)
		return
	}
	d.log.Debug("ignoring cc", "cc", cc, "value", val)
}

func navDirection(cc uint8) internalmidi.Direction {
	switch cc {
	case internalmidi.NavLeftCC:
		return internalmidi.DirLeft
	case internalmidi.NavRightCC:
		return internalmidi.DirRight
	case internalmidi.NavUpCC:
		return internalmidi.DirUp
	}
	return internalmidi.DirDown
}

func (d *Driver) navPressed(dir internalmidi.Direction) {
	if d.standaloneRegime(d.stack.Selected()) {
		return
	}
	if h := d.navBindings[dir].press; h != nil {
		h()
	}
}

// navReleased runs the standalone rocker actions on release edges; while
// the foot is down the firmware would read any regime change as a
// standalone-mode input.
func (d *Driver) navReleased(dir internalmidi.Direction) {
	if d.standaloneRegime(d.stack.Selected()) {
		var err error
		switch dir {
		case internalmidi.DirLeft:
			err = d.ExitStandalone(d.fallbackMode())
		case internalmidi.DirRight:
			err = d.ExitStandalone("")
		case internalmidi.DirUp:
			err = d.cycleStandalone(1)
		case internalmidi.DirDown:
			err = d.cycleStandalone(-1)
		}
		if err != nil {
			d.log.Warn("standalone nav failed", "dir", dir, "err", err)
		}
		return
	}
	if h := d.navBindings[dir].release; h != nil {
		h()
	}
}

// cycleStandalone steps through the registered standalone modes in
// registration order, wrapping at the ends.
func (d *Driver) cycleStandalone(step int) error {
	n := len(d.standaloneOrder)
	if n == 0 {
		return nil
	}
	cur := d.stack.Selected()
	idx := -1
	for i, name := range d.standaloneOrder {
		if name == cur {
			idx = i
			break
		}
	}
	if idx < 0 {
		return d.Select(d.standaloneOrder[0])
	}
	return d.Select(d.standaloneOrder[(idx+step+n)%n])
}

func (d *Driver) standaloneRegime(name string) bool {
	return name == StandaloneInitModeName || CategoryOf(name) == CategoryStandalone
}

func (d *Driver) standaloneProgram(name string) (uint8, bool) {
	if name == StandaloneInitModeName {
		return d.cfg.BackgroundProgram, true
	}
	p, ok := d.standalonePrograms[name]
	return p, ok
}

func (d *Driver) behaviourFor(name string) Behaviour {
	if b, ok := d.behaviours[name]; ok {
		return b
	}
	switch CategoryOf(name) {
	case CategoryStandalone:
		return ReleaseBehaviour{}
	case CategoryModeSelect:
		return ModeSelectBehaviour{}
	case CategoryTrackControls:
		if alt := "edit_" + name; d.stack.Has(alt) {
			return AlternateOnLongPress{Alt: alt}
		}
	}
	return AlternateOnLongPress{}
}

func (d *Driver) applyKeySafety(name string) {
	s := d.cfg.KeySafetyStrategy
	if o, ok := d.cfg.ModeKeySafety[name]; ok {
		s = o
	}
	d.arbiter.SetStrategy(s)
}

// identified runs on every fresh identification, before the boot mode
// sequence.
func (d *Driver) identified(internalmidi.Identity) {
	d.link.SetEnabled(true)
	d.link.SetBacklight(d.cfg.Backlight)
	if d.cfg.Backlight != nil {
		d.backlightFixLeft = backlightFixCount
		d.backlightFix.RestartAfter(backlightFixDelay)
	}
	if d.cfg.PingInterval > 0 {
		d.pingAwaiting = false
		d.ping.RestartAfter(d.cfg.PingInterval)
	}
}

// disconnected runs before the stack is forced into the disabled mode.
func (d *Driver) disconnected() {
	d.backlightFix.Cancel()
	d.ping.Cancel()
	d.pingAwaiting = false
	d.link.SetEnabled(false)
	for _, k := range d.keys {
		k.Reset()
	}
	for _, n := range d.navs {
		n.pressed = false
	}
}

// enterInitialMode picks the mode to enter after the boot sequence: the
// remembered mode from before the last disconnect, the configured initial
// mode, or the first sensible registered mode.
func (d *Driver) enterInitialMode(remembered string) {
	target := remembered
	if target == "" || !d.stack.Has(target) {
		target = d.cfg.InitialMode
	}
	if target == "" || !d.stack.Has(target) {
		target = d.fallbackMode()
	}
	if target == "" {
		d.log.Error("no mode registered to enter after boot")
		return
	}
	if err := d.Select(target); err != nil {
		d.log.Error("initial mode entry failed", "mode", target, "err", err)
		return
	}
	if d.cfg.InitialLastMode != "" && d.stack.LastNonTransient() == "" && d.stack.Has(d.cfg.InitialLastMode) {
		d.stack.SetLastNonTransient(d.cfg.InitialLastMode)
	}
}

// fallbackMode returns the mode-select mode when registered, else the
// first visible registered mode.
func (d *Driver) fallbackMode() string {
	for _, n := range d.stack.ModeNames() {
		if CategoryOf(n) == CategoryModeSelect {
			return n
		}
	}
	for _, n := range d.stack.ModeNames() {
		if CategoryOf(n) != CategoryHidden {
			return n
		}
	}
	return ""
}

// clearOutputCaches invalidates every LED and display cache so the next
// draw reaches the hardware even when the logical state did not change.
func (d *Driver) clearOutputCaches() {
	for _, l := range d.lights {
		l.ClearCache()
	}
	d.display.ClearCache()
}

func (d *Driver) backlightFixFire() {
	if !d.supervisor.Identified() {
		return
	}
	// LED CCs are hosted-regime traffic; while standalone the window keeps
	// counting but nothing goes out.
	if !d.standaloneRegime(d.stack.Selected()) {
		for _, l := range d.lights {
			l.Refresh()
		}
	}
	d.backlightFixLeft--
	if d.backlightFixLeft > 0 {
		d.backlightFix.RestartAfter(backlightFixInterval)
	}
}

func (d *Driver) pingFire() {
	if !d.supervisor.Identified() {
		return
	}
	if d.pingAwaiting {
		d.log.Warn("ping unanswered, re-verifying identity")
		d.pingAwaiting = false
		d.supervisor.RequestIdentity()
		d.ping.RestartAfter(d.cfg.PingInterval)
		return
	}
	if err := d.sendFn(midi.SysEx(internalmidi.PingRequest)); err != nil {
		d.log.Warn("ping failed", "err", err)
	}
	d.pingAwaiting = true
	d.ping.RestartAfter(d.cfg.PingInterval)
}

// userMode is a hosted mode whose contents live in the binder.
type userMode struct {
	name string
	d    *Driver
}

func (m *userMode) Enter() {
	m.d.applyKeySafety(m.name)
	m.d.binder.ApplyLayer(m.name)
}

func (m *userMode) Leave() {
	m.d.binder.RemoveLayer(m.name)
}
