package leds

import (
	"log/slog"

	"gitlab.com/gomidi/midi/v2"

	internalmidi "github.com/pedalworks/softstepd/internal/midi"
	"github.com/pedalworks/softstepd/internal/sched"
)

// Light drives one key's LED pair. Wire writes are deduplicated per CC
// against the last sent value; ClearCache drops that memory so the next
// write always reaches the hardware.
type Light struct {
	id   string
	key  int
	send internalmidi.SendFunc
	log  *slog.Logger

	delay *sched.Task
	pend  Color

	// last values on the wire; -1 means unknown, the next write sends.
	lastRed, lastGreen, lastLegacy int16

	lastDrawn    Color
	lastExternal Color

	// onExternal is installed by Group.Register; set, the group decides
	// what actually gets drawn.
	onExternal func(origin *Light, delay bool)
}

// NewLight creates the light for one key (0-9).
func NewLight(id string, key int, send internalmidi.SendFunc, loop *sched.Loop, log *slog.Logger) *Light {
	l := &Light{
		id:         id,
		key:        key,
		send:       send,
		log:        log,
		lastRed:    -1,
		lastGreen:  -1,
		lastLegacy: -1,
	}
	l.delay = loop.NewTask("light:"+id, func() { l.write(l.pend) })
	return l
}

// ID returns the light's identifier.
func (l *Light) ID() string { return l.id }

// Key returns the key number the light sits on.
func (l *Light) Key() int { return l.key }

// LastExternal returns the color most recently requested from outside.
func (l *Light) LastExternal() Color { return l.lastExternal }

// LastDrawn returns the color last written to the wire.
func (l *Light) LastDrawn() Color { return l.lastDrawn }

// SetColor requests c. With delay set, an off frame is committed now and c
// one tick later, so that several lights set in the same burst blink in
// phase. A grouped light defers the decision to its group.
func (l *Light) SetColor(c Color, delay bool) {
	l.lastExternal = c
	if l.onExternal != nil {
		l.onExternal(l, delay)
		return
	}
	l.render(c, delay)
}

// ClearCache forgets the wire state, forcing the next write through.
// Called when the device returns from standalone, where the firmware owned
// the LEDs.
func (l *Light) ClearCache() {
	l.lastRed, l.lastGreen, l.lastLegacy = -1, -1, -1
}

// Refresh rewrites the last drawn color unconditionally.
func (l *Light) Refresh() {
	l.ClearCache()
	l.write(l.lastDrawn)
}

func (l *Light) render(c Color, delay bool) {
	if delay {
		l.forceOff()
		l.pend = c
		l.delay.RestartTicks(1)
		return
	}
	l.delay.Cancel()
	l.write(c)
}

// forceOff puts a real off frame on the wire regardless of the cache.
func (l *Light) forceOff() {
	l.ClearCache()
	l.write(Color{})
}

func (l *Light) write(c Color) {
	if c.LegacyYellow {
		// The pair and the legacy location address the same physical
		// LEDs; darken the pair before handing the key to the old API.
		l.writePair(Color{})
		l.writeLegacy(c.Red)
	} else {
		if l.lastLegacy > int16(Off) {
			l.writeLegacy(Off)
		}
		l.writePair(c)
	}
	l.lastDrawn = c
}

func (l *Light) writePair(c Color) {
	if int16(c.Red) != l.lastRed {
		l.sendCC(internalmidi.LEDRedCC(l.key), uint8(c.Red))
		l.lastRed = int16(c.Red)
	}
	if int16(c.Green) != l.lastGreen {
		l.sendCC(internalmidi.LEDGreenCC(l.key), uint8(c.Green))
		l.lastGreen = int16(c.Green)
	}
}

// writeLegacy drives the deprecated location/color/state API. Each payload
// triplet is bracketed by zeroed guard triplets; without them the firmware
// corrupts the neighboring keys' LED state.
func (l *Light) writeLegacy(state Mode) {
	if int16(state) == l.lastLegacy {
		return
	}
	l.legacyGuard()
	l.sendCC(internalmidi.LegacyLocationCC, uint8(l.key))
	l.sendCC(internalmidi.LegacyColorCC, internalmidi.LegacyColorYellow)
	l.sendCC(internalmidi.LegacyStateCC, uint8(state))
	l.legacyGuard()
	l.lastLegacy = int16(state)
}

func (l *Light) legacyGuard() {
	for i := 0; i < internalmidi.LegacyGuardFrames; i++ {
		l.sendCC(internalmidi.LegacyLocationCC, 0)
		l.sendCC(internalmidi.LegacyColorCC, 0)
		l.sendCC(internalmidi.LegacyStateCC, 0)
	}
}

func (l *Light) sendCC(cc, value uint8) {
	if err := l.send(midi.ControlChange(internalmidi.Channel, cc, value)); err != nil {
		l.log.Warn("LED send failed", "light", l.id, "cc", cc, "err", err)
	}
}
