package session

import (
	"log/slog"

	"gitlab.com/gomidi/midi/v2"

	internalmidi "github.com/pedalworks/softstepd/internal/midi"
)

// Link holds the device-wide hardware state: the standalone/hosted regime,
// the standalone program and the display backlight. Setters are idempotent;
// traffic goes out only while enabled and only when a value actually
// changes, so callers can re-assert state freely without flooding the
// firmware.
type Link struct {
	send internalmidi.SendFunc
	log  *slog.Logger

	enabled    bool
	standalone bool

	// program is the standalone preset; -1 means none chosen yet.
	// lastProgram tracks the wire so a Program Change only goes out while
	// standalone and only when the value differs.
	program     int16
	lastProgram int16

	// backlight nil means unmanaged: no backlight sysex is ever sent.
	backlight     *bool
	sentBacklight *bool
}

// NewLink creates a disabled link. Nothing is sent until SetEnabled(true).
func NewLink(send internalmidi.SendFunc, log *slog.Logger) *Link {
	return &Link{
		send:        send,
		log:         log,
		program:     -1,
		lastProgram: -1,
	}
}

// Enabled reports whether the link may touch the hardware.
func (l *Link) Enabled() bool { return l.enabled }

// Standalone reports the regime the device is believed to be in.
func (l *Link) Standalone() bool { return l.standalone }

// Program returns the standalone program, -1 when none was set.
func (l *Link) Program() int16 { return l.program }

// SetEnabled gates hardware traffic. Disabling forgets everything known
// about the device, so the next session re-asserts regime, program and
// backlight from scratch.
func (l *Link) SetEnabled(v bool) {
	if v == l.enabled {
		return
	}
	l.enabled = v
	if !v {
		l.standalone = false
		l.lastProgram = -1
		l.sentBacklight = nil
	}
}

// SetStandalone switches the regime. Entering standalone sends the on
// sequence followed by the current program; the sysex pair is always fully
// on the wire before the Program Change referencing the new program.
func (l *Link) SetStandalone(v bool) {
	if v == l.standalone {
		return
	}
	l.standalone = v
	if !l.enabled {
		return
	}
	if v {
		for _, inner := range internalmidi.StandaloneOnMessages {
			l.sendSysEx(inner)
		}
		l.sendProgram()
		return
	}
	for _, inner := range internalmidi.StandaloneOffMessages {
		l.sendSysEx(inner)
	}
}

// SetProgram selects the standalone preset. The Program Change goes out
// immediately when the device is in standalone, otherwise it is held until
// the next standalone entry.
func (l *Link) SetProgram(p uint8) {
	if int16(p) == l.program {
		return
	}
	l.program = int16(p)
	if l.standalone && l.enabled {
		l.sendProgram()
	}
}

// SetBacklight sets the managed backlight state. nil leaves the backlight
// to the device: no sysex is emitted for it, now or later.
func (l *Link) SetBacklight(v *bool) {
	if v == nil {
		l.backlight = nil
		return
	}
	on := *v
	l.backlight = &on
	l.emitBacklight()
}

func (l *Link) emitBacklight() {
	if !l.enabled || l.backlight == nil {
		return
	}
	if l.sentBacklight != nil && *l.sentBacklight == *l.backlight {
		return
	}
	l.sendSysEx(internalmidi.BacklightMessage(*l.backlight))
	sent := *l.backlight
	l.sentBacklight = &sent
}

func (l *Link) sendProgram() {
	if l.program < 0 || l.program == l.lastProgram {
		return
	}
	if err := l.send(midi.ProgramChange(internalmidi.Channel, uint8(l.program))); err != nil {
		l.log.Warn("program change failed", "program", l.program, "err", err)
		return
	}
	l.lastProgram = l.program
}

func (l *Link) sendSysEx(inner []byte) {
	if err := l.send(midi.SysEx(inner)); err != nil {
		l.log.Warn("sysex send failed", "err", err)
	}
}
