package session

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gitlab.com/gomidi/midi/v2"

	internalmidi "github.com/pedalworks/softstepd/internal/midi"
	"github.com/pedalworks/softstepd/internal/sched"
)

// SupervisorHooks are the driver's entry points into the identification
// lifecycle. All run on the session loop.
type SupervisorHooks struct {
	// OnIdentified runs before the boot mode sequence, with the parsed
	// identity reply.
	OnIdentified func(internalmidi.Identity)

	// OnDisconnected runs before the stack is forced into the disabled
	// mode.
	OnDisconnected func()

	// EnterInitialMode runs one tick after the boot sequence parked the
	// device in standalone init. remembered carries the mode active
	// before the last disconnect, or empty.
	EnterInitialMode func(remembered string)
}

// Supervisor owns device identification: it issues identity requests,
// walks the stack through the boot sequence on a reply, and treats a
// missing reply as a disconnect. At most one request, one timeout and one
// after-identification task are pending at any time.
type Supervisor struct {
	loop  *sched.Loop
	stack *Stack
	send  internalmidi.SendFunc
	log   *slog.Logger
	hooks SupervisorHooks

	identityDelay time.Duration

	identified bool
	sessionID  string

	// remembered is the non-transient mode to restore after the next
	// identification. Survives repeated disconnects until consumed.
	remembered string

	request    *sched.Task
	timeout    *sched.Task
	afterIdent *sched.Task
}

// NewSupervisor creates a supervisor. identityDelay is the pause between a
// connection appearing and the identity request; the reply timeout is
// twice that.
func NewSupervisor(loop *sched.Loop, stack *Stack, send internalmidi.SendFunc, identityDelay time.Duration, hooks SupervisorHooks, log *slog.Logger) *Supervisor {
	s := &Supervisor{
		loop:          loop,
		stack:         stack,
		send:          send,
		log:           log,
		hooks:         hooks,
		identityDelay: identityDelay,
	}
	s.request = loop.NewTask("identity-request", s.RequestIdentity)
	s.timeout = loop.NewTask("identity-timeout", s.timedOut)
	s.afterIdent = loop.NewTask("after-identified", s.enterInitial)
	return s
}

// Identified reports whether the device has answered the latest request.
func (s *Supervisor) Identified() bool { return s.identified }

// SessionID returns the id of the current identified session, empty while
// unidentified.
func (s *Supervisor) SessionID() string { return s.sessionID }

// OnConnect schedules the identity request for a fresh connection. The
// delay gives the port time to settle before the request goes out.
func (s *Supervisor) OnConnect() {
	s.request.RestartAfter(s.identityDelay)
}

// RequestIdentity marks the device unidentified and sends an identity
// request. The reply must arrive within twice the identity delay or the
// device is treated as gone.
func (s *Supervisor) RequestIdentity() {
	if s.identified {
		s.log.Info("re-verifying device identity")
	}
	s.identified = false
	s.timeout.RestartAfter(2 * s.identityDelay)
	if err := s.send(midi.SysEx(internalmidi.IdentityRequest)); err != nil {
		s.log.Warn("identity request failed", "err", err)
	}
}

// HandleIdentity processes a parsed identity reply. The first reply after
// boot or a disconnect walks the stack through disabled and standalone
// init, then schedules the initial mode entry one tick later so its sends
// never share a tick with the init sequence.
func (s *Supervisor) HandleIdentity(id internalmidi.Identity) {
	s.timeout.Cancel()
	s.request.Cancel()
	if s.identified {
		return
	}
	s.identified = true
	s.sessionID = uuid.NewString()
	s.log.Info("device identified",
		"session", s.sessionID,
		"device_id", id.DeviceID,
		"version", fmt.Sprintf("% X", id.Version))

	if s.hooks.OnIdentified != nil {
		s.hooks.OnIdentified(id)
	}

	sel := s.stack.Selected()
	if sel != PreInitModeName && sel != DisabledModeName {
		// A re-verification while a session is live changes nothing.
		return
	}
	if err := s.stack.Select(DisabledModeName); err != nil {
		s.log.Error("boot sequence failed", "err", err)
		return
	}
	if err := s.stack.Select(StandaloneInitModeName); err != nil {
		s.log.Error("boot sequence failed", "err", err)
		return
	}
	s.afterIdent.RestartTicks(1)
}

// HandleUnplug tears the session down after the transport reported the
// connection gone.
func (s *Supervisor) HandleUnplug() {
	s.request.Cancel()
	if !s.identified && s.stack.Selected() == DisabledModeName {
		s.timeout.Cancel()
		return
	}
	s.markDisconnected("unplugged")
}

func (s *Supervisor) timedOut() {
	if s.identified {
		return
	}
	s.markDisconnected("identity timeout")
	// Keep probing; a half-dead port may still come back.
	s.request.RestartAfter(s.identityDelay)
}

func (s *Supervisor) markDisconnected(reason string) {
	s.timeout.Cancel()
	s.afterIdent.Cancel()
	s.identified = false
	s.sessionID = ""

	if cur := s.stack.CurrentNonTransient(); cur != "" {
		s.remembered = cur
	}
	if s.hooks.OnDisconnected != nil {
		s.hooks.OnDisconnected()
	}
	if err := s.stack.Select(DisabledModeName); err != nil {
		s.log.Error("disabled mode missing", "err", err)
	}
	s.log.Warn("device disconnected", "reason", reason)
}

func (s *Supervisor) enterInitial() {
	// The one-tick wait may have been overtaken by a disconnect.
	if s.stack.Selected() != StandaloneInitModeName {
		return
	}
	remembered := s.remembered
	s.remembered = ""
	if s.hooks.EnterInitialMode != nil {
		s.hooks.EnterInitialMode(remembered)
	}
}
