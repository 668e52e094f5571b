package midi

import (
	"log/slog"
)

// preferredPortPatterns are tried in order when no explicit port pattern is
// configured. Firmware before v2.x enumerated as "SSCOM".
var preferredPortPatterns = []string{"SoftStep", "SSCOM"}

// Ports matching any of these patterns are never auto-connected
// (virtual/system ports).
var excludedPortPatterns = []string{"Midi Through", "Through Port", "Dummy"}

// WatcherCallbacks notify the owner about connection changes.
type WatcherCallbacks struct {
	// OnConnect is called with the freshly opened connection.
	OnConnect func(*Connection)

	// OnDisconnect is called after the connection has been torn down.
	OnDisconnect func()
}

// Watcher polls the MIDI port list and keeps at most one device connection
// open, reconnecting when the device reappears after an unplug. Tick must be
// called on a fixed interval from a single goroutine.
type Watcher struct {
	m          *Manager
	inPattern  string
	outPattern string
	conn       *Connection
	cb         WatcherCallbacks
	log        *slog.Logger
}

// NewWatcher creates a watcher. Empty patterns mean "auto": prefer known
// device names, fall back to the only non-virtual port.
func NewWatcher(m *Manager, inPattern, outPattern string, log *slog.Logger, cb WatcherCallbacks) *Watcher {
	return &Watcher{m: m, inPattern: inPattern, outPattern: outPattern, cb: cb, log: log}
}

// Connection returns the current connection, or nil.
func (w *Watcher) Connection() *Connection { return w.conn }

// Tick rescans the port list, dropping a vanished connection and attempting
// a connect when none is open.
func (w *Watcher) Tick() {
	if w.conn != nil {
		if w.stillPresent() {
			return
		}
		w.log.Warn("device ports disappeared", "in", w.conn.InName(), "out", w.conn.OutName())
		w.drop()
	}

	inName, inOK := w.pickPort(w.m.ListInPorts(), w.inPattern)
	outName, outOK := w.pickPort(w.m.ListOutPorts(), w.outPattern)
	if !inOK || !outOK {
		return
	}

	conn, err := w.m.Connect(inName, outName)
	if err != nil {
		w.log.Error("failed to connect", "in", inName, "out", outName, "err", err)
		return
	}
	w.conn = conn
	w.log.Info("device connected", "in", conn.InName(), "out", conn.OutName())
	if w.cb.OnConnect != nil {
		w.cb.OnConnect(conn)
	}
}

// HandleListenError tears the connection down after the listener died
// (usually an unplug). Call from the owner's goroutine, not the listener's.
func (w *Watcher) HandleListenError(err error) {
	if w.conn == nil {
		return
	}
	w.log.Warn("listener error, dropping connection", "err", err)
	w.drop()
}

// Close drops any open connection without reconnecting.
func (w *Watcher) Close() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
}

func (w *Watcher) drop() {
	w.conn.Close()
	w.conn = nil
	if w.cb.OnDisconnect != nil {
		w.cb.OnDisconnect()
	}
}

func (w *Watcher) stillPresent() bool {
	inThere, outThere := false, false
	for _, n := range w.m.ListInPorts() {
		if n == w.conn.InName() {
			inThere = true
			break
		}
	}
	for _, n := range w.m.ListOutPorts() {
		if n == w.conn.OutName() {
			outThere = true
			break
		}
	}
	return inThere && outThere
}

// pickPort selects a port name from names. An explicit pattern is matched
// directly; otherwise preferred device names are tried, then a single
// remaining non-virtual port is accepted.
func (w *Watcher) pickPort(names []string, pattern string) (string, bool) {
	if pattern != "" {
		for _, n := range names {
			if containsFold(n, pattern) {
				return n, true
			}
		}
		return "", false
	}

	candidates := make([]string, 0, len(names))
	for _, n := range names {
		if excludedPort(n) {
			continue
		}
		candidates = append(candidates, n)
	}
	for _, pat := range preferredPortPatterns {
		for _, n := range candidates {
			if containsFold(n, pat) {
				return n, true
			}
		}
	}
	if len(candidates) == 1 {
		return candidates[0], true
	}
	return "", false
}

func excludedPort(name string) bool {
	for _, pat := range excludedPortPatterns {
		if containsFold(name, pat) {
			return true
		}
	}
	return false
}
