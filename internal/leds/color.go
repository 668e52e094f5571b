// Package leds renders logical colors onto the pedal's per-key red/green
// LED pairs, coalescing multiple logical sources that share one physical
// pair and keeping simultaneously triggered blinkers in phase.
package leds

// Mode is the illumination mode for one LED, sent as the CC value.
type Mode uint8

const (
	Off Mode = iota
	On
	Blink
	FastBlink
	Flash
)

func (m Mode) String() string {
	switch m {
	case Off:
		return "off"
	case On:
		return "on"
	case Blink:
		return "blink"
	case FastBlink:
		return "fast_blink"
	case Flash:
		return "flash"
	}
	return "unknown"
}

// Color is the rendered state of one key's LED pair. LegacyYellow routes
// the color through the deprecated location/color/state API, the only
// encoding that reaches the hardware's solid yellow; Red then carries the
// legacy state mode.
type Color struct {
	Red, Green   Mode
	LegacyYellow bool
}

// IsOff reports whether the color renders as dark.
func (c Color) IsOff() bool {
	return c.Red == Off && c.Green == Off
}

// Palette maps logical color names to rendered colors. It is immutable by
// convention: built once and handed to every renderer at construction.
type Palette map[string]Color

// DefaultPalette returns the stock color table.
func DefaultPalette() Palette {
	return Palette{
		"off":              {},
		"red":              {Red: On},
		"green":            {Green: On},
		"amber":            {Red: On, Green: On},
		"yellow":           {Red: On, Green: On, LegacyYellow: true},
		"red_blink":        {Red: Blink},
		"green_blink":      {Green: Blink},
		"amber_blink":      {Red: Blink, Green: Blink},
		"red_fast_blink":   {Red: FastBlink},
		"green_fast_blink": {Green: FastBlink},
		"red_flash":        {Red: Flash},
		"green_flash":      {Green: Flash},
	}
}

// Get looks a name up, reporting ok=false for unknown names so callers can
// warn and fall through without rendering.
func (p Palette) Get(name string) (Color, bool) {
	c, ok := p[name]
	return c, ok
}
