// Package keysafety arbitrates simultaneous pressure on the pedal's key
// sensors. Neighboring keys bleed pressure into each other on the physical
// board, so a mode may restrict how many keys can be active at once. Locks
// are plain tokens: the arbiter knows friendship and enmity between lock
// ids, not grid geometry.
package keysafety

import (
	"fmt"
	"log/slog"
)

// Strategy selects the arbitration policy. Changing it affects the next
// acquisition attempt only; held locks stay held.
type Strategy uint8

const (
	// AllKeys grants every acquisition.
	AllKeys Strategy = iota

	// AdjacentLockout refuses while any enemy lock is held.
	AdjacentLockout

	// SingleKey refuses while any non-friend lock is held anywhere.
	SingleKey
)

func (s Strategy) String() string {
	switch s {
	case AllKeys:
		return "all_keys"
	case AdjacentLockout:
		return "adjacent_lockout"
	case SingleKey:
		return "single_key"
	}
	return "unknown"
}

// ParseStrategy converts a config string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "all_keys":
		return AllKeys, nil
	case "adjacent_lockout":
		return AdjacentLockout, nil
	case "single_key":
		return SingleKey, nil
	}
	return AllKeys, fmt.Errorf("unknown key safety strategy: %q", s)
}

// Arbiter owns all locks of one device session. Not safe for concurrent
// use; the session loop is its only caller.
type Arbiter struct {
	strategy Strategy
	locks    map[string]*Lock
	log      *slog.Logger
}

// New creates an arbiter with the given initial strategy.
func New(strategy Strategy, log *slog.Logger) *Arbiter {
	return &Arbiter{
		strategy: strategy,
		locks:    make(map[string]*Lock),
		log:      log,
	}
}

// Strategy returns the active strategy.
func (a *Arbiter) Strategy() Strategy { return a.strategy }

// SetStrategy switches the arbitration policy for subsequent acquisitions.
func (a *Arbiter) SetStrategy(s Strategy) {
	if s == a.strategy {
		return
	}
	a.log.Debug("key safety strategy changed", "from", a.strategy, "to", s)
	a.strategy = s
}

// CreateLock registers a lock. friends are locks that may be held
// concurrently under SingleKey (the lock's own id is always a friend);
// enemies block it under AdjacentLockout. Registering an id twice is an
// error.
func (a *Arbiter) CreateLock(id string, friends, enemies []string) (*Lock, error) {
	if _, exists := a.locks[id]; exists {
		return nil, fmt.Errorf("lock already registered: %s", id)
	}
	l := &Lock{
		arbiter: a,
		id:      id,
		friends: make(map[string]bool, len(friends)+1),
		enemies: make(map[string]bool, len(enemies)),
	}
	l.friends[id] = true
	for _, f := range friends {
		l.friends[f] = true
	}
	for _, e := range enemies {
		l.enemies[e] = true
	}
	a.locks[id] = l
	return l, nil
}

// Lock is a per-sensor mutual-exclusion token. Once acquired it stays held
// until Release, so a gesture keeps its grant even when the policy would
// now refuse it.
type Lock struct {
	arbiter *Arbiter
	id      string
	friends map[string]bool
	enemies map[string]bool
	held    bool
}

// ID returns the lock's identifier.
func (l *Lock) ID() string { return l.id }

// Held reports whether the lock is currently acquired.
func (l *Lock) Held() bool { return l.held }

// Acquire attempts to take the lock under the current strategy. It is
// idempotent while held. A refusal is not an error; the caller drops the
// sensor value and retries on the next gesture.
func (l *Lock) Acquire() bool {
	if l.held {
		return true
	}
	if !l.admissible() {
		return false
	}
	l.held = true
	return true
}

// Release frees the lock. Idempotent.
func (l *Lock) Release() {
	l.held = false
}

func (l *Lock) admissible() bool {
	a := l.arbiter
	switch a.strategy {
	case AllKeys:
		return true
	case AdjacentLockout:
		for id := range l.enemies {
			if other, ok := a.locks[id]; ok && other.held {
				return false
			}
		}
		return true
	case SingleKey:
		for id, other := range a.locks {
			if other.held && !l.friends[id] {
				return false
			}
		}
		return true
	}
	return true
}
