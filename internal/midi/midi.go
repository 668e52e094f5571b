package midi

import (
	"fmt"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // Register rtmidi driver
)

// SendFunc transmits one outgoing MIDI message.
type SendFunc func(midi.Message) error

// Manager handles MIDI port discovery and connection lifecycle.
type Manager struct {
	mu sync.RWMutex
}

// NewManager creates a new MIDI manager
func NewManager() *Manager {
	return &Manager{}
}

// Close cleans up the MIDI driver
func (m *Manager) Close() {
	midi.CloseDriver()
}

// ListInPorts returns the names of available MIDI input ports
func (m *Manager) ListInPorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ins := midi.GetInPorts()
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names
}

// ListOutPorts returns the names of available MIDI output ports
func (m *Manager) ListOutPorts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outs := midi.GetOutPorts()
	names := make([]string, 0, len(outs))
	for _, out := range outs {
		names = append(names, out.String())
	}
	return names
}

// FindInPort returns the input port whose name matches pattern: an exact
// match wins, otherwise the first case-insensitive substring match.
func (m *Manager) FindInPort(pattern string) (drivers.In, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ins := midi.GetInPorts()
	for _, in := range ins {
		if in.String() == pattern {
			return in, nil
		}
	}
	for _, in := range ins {
		if containsFold(in.String(), pattern) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("input port not found: %s", pattern)
}

// FindOutPort returns the output port whose name matches pattern, with the
// same matching rules as FindInPort.
func (m *Manager) FindOutPort(pattern string) (drivers.Out, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	outs := midi.GetOutPorts()
	for _, out := range outs {
		if out.String() == pattern {
			return out, nil
		}
	}
	for _, out := range outs {
		if containsFold(out.String(), pattern) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("output port not found: %s", pattern)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Connection is an open input/output port pair for one device.
type Connection struct {
	in   drivers.In
	out  drivers.Out
	send SendFunc
	stop func()
}

// Connect opens the input and output ports matching the given patterns.
func (m *Manager) Connect(inPattern, outPattern string) (*Connection, error) {
	in, err := m.FindInPort(inPattern)
	if err != nil {
		return nil, err
	}
	out, err := m.FindOutPort(outPattern)
	if err != nil {
		return nil, err
	}

	if err := in.Open(); err != nil {
		return nil, fmt.Errorf("failed to open input port %q: %w", in.String(), err)
	}
	if err := out.Open(); err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("failed to open output port %q: %w", out.String(), err)
	}

	send, err := midi.SendTo(out)
	if err != nil {
		_ = in.Close()
		_ = out.Close()
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	return &Connection{in: in, out: out, send: SendFunc(send)}, nil
}

// InName returns the connected input port name.
func (c *Connection) InName() string { return c.in.String() }

// OutName returns the connected output port name.
func (c *Connection) OutName() string { return c.out.String() }

// Send transmits one message to the device.
func (c *Connection) Send(msg midi.Message) error {
	return c.send(msg)
}

// Listen starts delivering incoming messages, SysEx included, to fn. fn and
// onErr are invoked on the driver's listener goroutine; callers needing
// single-threaded handling must hand the message off themselves.
func (c *Connection) Listen(fn func(midi.Message), onErr func(error)) error {
	stop, err := midi.ListenTo(c.in, func(msg midi.Message, timestampms int32) {
		fn(msg)
	}, midi.UseSysEx(), midi.SysExBufferSize(1024), midi.HandleError(func(err error) {
		if onErr != nil {
			onErr(err)
		}
	}))
	if err != nil {
		return fmt.Errorf("failed to start listening: %w", err)
	}
	c.stop = stop
	return nil
}

// Close stops the listener and closes both ports.
func (c *Connection) Close() {
	if c.stop != nil {
		c.stop()
		c.stop = nil
	}
	_ = c.in.Close()
	_ = c.out.Close()
}
