package leds

import (
	"fmt"
	"log/slog"
)

// Group coalesces several logical lights onto one rendered state. The
// group's effective color is the first member, in registration order,
// whose externally requested color is not off; every member is drawn to
// the effective color so the physical LEDs they share never flicker
// between sources.
type Group struct {
	name    string
	members []*Light
	ids     map[string]bool
	log     *slog.Logger

	// propagating guards against re-entry while members are being
	// redrawn.
	propagating bool
}

// NewGroup creates an empty group.
func NewGroup(name string, log *slog.Logger) *Group {
	return &Group{name: name, ids: make(map[string]bool), log: log}
}

// Register adds a light to the group; registration order is priority.
// Registering the same id twice is an error.
func (g *Group) Register(l *Light) error {
	if g.ids[l.ID()] {
		return fmt.Errorf("light already registered in group %s: %s", g.name, l.ID())
	}
	g.ids[l.ID()] = true
	g.members = append(g.members, l)
	l.onExternal = g.lightChanged
	return nil
}

// Effective returns the group's winning color.
func (g *Group) Effective() Color {
	for _, m := range g.members {
		if !m.lastExternal.IsOff() {
			return m.lastExternal
		}
	}
	return Color{}
}

// lightChanged re-renders the group after one member's external color
// changed. The originator's delay flag propagates to every redraw so a
// synchronized update is not needlessly staggered.
func (g *Group) lightChanged(origin *Light, delay bool) {
	if g.propagating {
		return
	}
	g.propagating = true
	defer func() { g.propagating = false }()

	eff := g.Effective()
	for _, m := range g.members {
		if m.lastDrawn != eff {
			m.render(eff, delay)
		}
	}
}
