// Package display drives the pedal's 4-character LED display. Text goes
// out as one ASCII byte per cell on consecutive CCs; writes are
// deduplicated per cell.
package display

import (
	"log/slog"

	"gitlab.com/gomidi/midi/v2"

	internalmidi "github.com/pedalworks/softstepd/internal/midi"
)

// Display is the 4-character text element.
type Display struct {
	send internalmidi.SendFunc
	log  *slog.Logger

	// last byte written per cell; -1 means unknown, the next write sends.
	cells [internalmidi.DisplayWidth]int16
	text  string
}

// New creates the display element.
func New(send internalmidi.SendFunc, log *slog.Logger) *Display {
	d := &Display{send: send, log: log}
	d.ClearCache()
	return d
}

// Text returns the last written text.
func (d *Display) Text() string { return d.text }

// Write shows text, padded or truncated to the display width. Bytes
// outside printable ASCII are replaced with spaces.
func (d *Display) Write(text string) {
	d.text = text
	for i := 0; i < internalmidi.DisplayWidth; i++ {
		b := byte(' ')
		if i < len(text) {
			b = text[i]
		}
		if b < 0x20 || b > 0x7E {
			b = ' '
		}
		if int16(b) == d.cells[i] {
			continue
		}
		if err := d.send(midi.ControlChange(internalmidi.Channel, internalmidi.DisplayCC(i), b)); err != nil {
			d.log.Warn("display send failed", "cell", i, "err", err)
		}
		d.cells[i] = int16(b)
	}
}

// Clear blanks the display.
func (d *Display) Clear() {
	d.Write("")
}

// ClearCache forgets the wire state, forcing the next write through.
func (d *Display) ClearCache() {
	for i := range d.cells {
		d.cells[i] = -1
	}
}

// Refresh rewrites the current text unconditionally.
func (d *Display) Refresh() {
	d.ClearCache()
	d.Write(d.text)
}
