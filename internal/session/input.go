package session

import (
	"fmt"

	"github.com/pedalworks/softstepd/internal/keysafety"
	internalmidi "github.com/pedalworks/softstepd/internal/midi"
)

// maxRawPressure is the highest value the sensors report under full foot
// weight. Full-pressure scaling stretches it to the MIDI maximum.
const maxRawPressure = 100

// PressureInput filters one sensor direction's raw CC stream through its
// key safety lock. A refused acquisition silently drops every value until
// the sensor reports zero; the next nonzero value starts a fresh attempt.
type PressureInput struct {
	lock         *keysafety.Lock
	fullPressure bool

	active   bool
	rejected bool
	value    uint8

	onChange func()
}

// NewPressureInput creates the input for one sensor direction.
func NewPressureInput(lock *keysafety.Lock, fullPressure bool, onChange func()) *PressureInput {
	return &PressureInput{lock: lock, fullPressure: fullPressure, onChange: onChange}
}

// Value feeds one raw sensor reading.
func (p *PressureInput) Value(raw uint8) {
	if raw == 0 {
		wasActive := p.active
		p.active = false
		p.rejected = false
		p.value = 0
		p.lock.Release()
		if wasActive {
			p.changed()
		}
		return
	}
	if p.rejected {
		return
	}
	if !p.active {
		if !p.lock.Acquire() {
			p.rejected = true
			return
		}
		p.active = true
	}
	v := p.scale(raw)
	if v != p.value {
		p.value = v
		p.changed()
	}
}

// Pressure returns the current accepted pressure, zero while inactive.
func (p *PressureInput) Pressure() uint8 { return p.value }

// Active reports whether the sensor holds its lock.
func (p *PressureInput) Active() bool { return p.active }

// Reset drops the gesture and releases the lock without reporting a
// change. Used when the device disappears mid-press.
func (p *PressureInput) Reset() {
	p.active = false
	p.rejected = false
	p.value = 0
	p.lock.Release()
}

func (p *PressureInput) changed() {
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *PressureInput) scale(raw uint8) uint8 {
	if !p.fullPressure {
		return raw
	}
	v := int(raw) * 127 / maxRawPressure
	if v > 127 {
		v = 127
	}
	return uint8(v)
}

// KeyInput aggregates the four sensor directions of one key into a single
// pressure stream with press and release edges. The key's pressure is the
// maximum over its accepted direction values.
type KeyInput struct {
	key  int
	dirs [4]*PressureInput

	pressed  bool
	pressure uint8

	// OnPress, OnRelease and OnPressure are the mode layer's hooks. All
	// run on the session loop.
	OnPress    func()
	OnRelease  func()
	OnPressure func(v uint8)
}

// Key returns the key number (0-9).
func (k *KeyInput) Key() int { return k.key }

// Pressed reports whether any direction currently holds pressure.
func (k *KeyInput) Pressed() bool { return k.pressed }

// Pressure returns the key's aggregated pressure.
func (k *KeyInput) Pressure() uint8 { return k.pressure }

// Direction returns one direction's input, mainly for tests and expert
// bindings.
func (k *KeyInput) Direction(d internalmidi.Direction) *PressureInput {
	return k.dirs[d]
}

// Bind replaces all three hooks at once; nils clear.
func (k *KeyInput) Bind(onPress, onRelease func(), onPressure func(uint8)) {
	k.OnPress = onPress
	k.OnRelease = onRelease
	k.OnPressure = onPressure
}

// Reset drops any in-flight gesture on every direction without edges.
func (k *KeyInput) Reset() {
	for _, d := range k.dirs {
		d.Reset()
	}
	k.pressed = false
	k.pressure = 0
}

func (k *KeyInput) update() {
	var m uint8
	for _, d := range k.dirs {
		if v := d.Pressure(); v > m {
			m = v
		}
	}
	if m == k.pressure && (m > 0) == k.pressed {
		return
	}
	k.pressure = m

	switch {
	case m > 0 && !k.pressed:
		k.pressed = true
		if k.OnPress != nil {
			k.OnPress()
		}
	case m == 0 && k.pressed:
		k.pressed = false
		if k.OnRelease != nil {
			k.OnRelease()
		}
	}
	if k.OnPressure != nil {
		k.OnPressure(m)
	}
}

// newKeyInput builds the key's four direction inputs with their locks
// registered on the arbiter: directions of the same key are friends, every
// direction of an 8-adjacent key is an enemy.
func newKeyInput(arb *keysafety.Arbiter, row, col int, fullPressure bool) (*KeyInput, error) {
	k := &KeyInput{key: internalmidi.KeyNumber(row, col)}

	friends := make([]string, 0, len(internalmidi.Directions))
	for _, d := range internalmidi.Directions {
		friends = append(friends, lockID(row, col, d))
	}
	var enemies []string
	for _, n := range internalmidi.Neighbors(row, col) {
		for _, d := range internalmidi.Directions {
			enemies = append(enemies, lockID(n.Row, n.Col, d))
		}
	}

	for _, d := range internalmidi.Directions {
		lock, err := arb.CreateLock(lockID(row, col, d), friends, enemies)
		if err != nil {
			return nil, err
		}
		k.dirs[d] = NewPressureInput(lock, fullPressure, k.update)
	}
	return k, nil
}

func lockID(row, col int, d internalmidi.Direction) string {
	return fmt.Sprintf("key%d:%s", internalmidi.KeyNumber(row, col), d)
}

// NavInput is one direction of the navigation rocker: a plain momentary
// button with no pressure or key safety involved.
type NavInput struct {
	dir     internalmidi.Direction
	pressed bool

	OnPress   func()
	OnRelease func()
}

// Value feeds one raw nav CC value; nonzero is down.
func (n *NavInput) Value(raw uint8) {
	down := raw > 0
	if down == n.pressed {
		return
	}
	n.pressed = down
	if down {
		if n.OnPress != nil {
			n.OnPress()
		}
		return
	}
	if n.OnRelease != nil {
		n.OnRelease()
	}
}

// Pressed reports whether the direction is held.
func (n *NavInput) Pressed() bool { return n.pressed }
