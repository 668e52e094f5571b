package midi

// SoftStep wire protocol: grid geometry, controller numbers, and the SysEx
// vocabulary shared by the session driver and the tests. All SysEx payloads
// here are inner bytes only; midi.SysEx adds the F0/F7 framing.

// Grid geometry. Keys are numbered 0-9: 0-4 on the bottom row left to
// right, 5-9 on the top row.
const (
	NumRows = 2
	NumCols = 5
	NumKeys = NumRows * NumCols

	// All channel traffic to and from the pedal uses channel 1 (wire 0).
	Channel = 0
)

// Direction identifies one of the four pressure sensors under a key.
type Direction uint8

const (
	DirUp Direction = iota
	DirRight
	DirLeft
	DirDown
)

func (d Direction) String() string {
	switch d {
	case DirUp:
		return "up"
	case DirRight:
		return "right"
	case DirLeft:
		return "left"
	case DirDown:
		return "down"
	}
	return "unknown"
}

// Directions lists all sensor directions in wire order.
var Directions = [4]Direction{DirUp, DirRight, DirLeft, DirDown}

// Position is a key location on the 2x5 grid. Row 0 is the top row.
type Position struct {
	Row, Col int
}

// Valid reports whether the position is on the grid.
func (p Position) Valid() bool {
	return p.Row >= 0 && p.Row < NumRows && p.Col >= 0 && p.Col < NumCols
}

// KeyNumber returns the 0-based key index for a grid position.
// The bottom row (row 1) holds keys 0-4, the top row keys 5-9.
func KeyNumber(row, col int) int {
	return col + NumCols*(1-row)
}

// Sensor input CCs. Each key emits four pressure streams:
// CC 40 + 8*col + 4*row + direction, so the full grid occupies CC 40-79.
const sensorBaseCC = 40

// SensorCC returns the CC number carrying the pressure stream for one
// sensor direction of one key.
func SensorCC(row, col int, dir Direction) uint8 {
	return uint8(sensorBaseCC + 8*col + 4*row + int(dir))
}

// SensorFromCC decodes a sensor CC number back into its grid position and
// direction. ok is false for CCs outside the sensor range.
func SensorFromCC(cc uint8) (pos Position, dir Direction, ok bool) {
	if cc < sensorBaseCC || cc >= sensorBaseCC+8*NumCols {
		return Position{}, 0, false
	}
	n := int(cc - sensorBaseCC)
	return Position{Row: (n % 8) / 4, Col: n / 8}, Direction(n % 4), true
}

// Navigation pad input CCs. The nav pad is a separate rocker, not part of
// the key grid: left, right, up, down on CC 80-83.
const (
	NavLeftCC  uint8 = 80
	NavRightCC uint8 = 81
	NavUpCC    uint8 = 82
	NavDownCC  uint8 = 83
)

// IsNavCC reports whether cc belongs to the navigation pad.
func IsNavCC(cc uint8) bool {
	return cc >= NavLeftCC && cc <= NavDownCC
}

// LED output CCs. Each key has a red and a green LED, addressed as
// CC 20+key (red) and CC 110+key (green); the CC value selects the
// illumination mode (see leds.Mode).
const (
	ledRedBaseCC   = 20
	ledGreenBaseCC = 110
)

// LEDRedCC returns the CC addressing a key's red LED.
func LEDRedCC(key int) uint8 { return uint8(ledRedBaseCC + key) }

// LEDGreenCC returns the CC addressing a key's green LED.
func LEDGreenCC(key int) uint8 { return uint8(ledGreenBaseCC + key) }

// Deprecated solid-color LED API: location on CC 40, color on CC 41, state
// on CC 42. Solid yellow (color value 2) is only reachable through this
// encoding. The firmware corrupts neighboring LED state unless each payload
// triplet is bracketed by LegacyGuardFrames zeroed triplets.
const (
	LegacyLocationCC uint8 = 40
	LegacyColorCC    uint8 = 41
	LegacyStateCC    uint8 = 42

	// LegacyColorYellow is the only color family still using this API.
	LegacyColorYellow uint8 = 2

	// LegacyGuardFrames zeroed triplets before and after each payload.
	LegacyGuardFrames = 3
)

// Display output CCs. The 4-character LED display takes one ASCII byte per
// cell on CC 50-53, left to right.
const (
	displayBaseCC = 50

	// DisplayWidth is the number of character cells.
	DisplayWidth = 4
)

// DisplayCC returns the CC addressing one display cell (0-3).
func DisplayCC(cell int) uint8 { return uint8(displayBaseCC + cell) }

// Neighbors returns the 8-connected neighbor positions of a key. The grid
// does not wrap; edge and corner keys simply have fewer neighbors.
func Neighbors(row, col int) []Position {
	out := make([]Position, 0, 8)
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			if dr == 0 && dc == 0 {
				continue
			}
			p := Position{Row: row + dr, Col: col + dc}
			if p.Valid() {
				out = append(out, p)
			}
		}
	}
	return out
}

// --- SysEx vocabulary ---

// kmiHeader is the Keith McMillen Instruments manufacturer prefix carried
// by all device-specific SysEx.
var kmiHeader = []byte{0x00, 0x1B, 0x48}

// Identity handshake. The request is the universal device inquiry; the
// reply carries the manufacturer and family bytes we match on.
var (
	// IdentityRequest: 7E 7F 06 01 (non-realtime, all devices, general
	// information, identity request).
	IdentityRequest = []byte{0x7E, 0x7F, 0x06, 0x01}

	// identityFamily: family 0C 00, member 02 00 (SoftStep 2).
	identityFamily = []byte{0x0C, 0x00, 0x02, 0x00}
)

// Identity is a parsed identity reply.
type Identity struct {
	DeviceID       uint8
	Manufacturer   [3]byte
	Family, Member [2]byte
	Version        [4]byte
}

// ParseIdentity decodes a full F0..F7 frame as an identity reply and
// reports whether it came from a SoftStep. Frames from other devices
// decode with ok=false.
func ParseIdentity(frame []byte) (id Identity, ok bool) {
	// F0 7E <dev> 06 02 <mfr*3> <family*2> <member*2> <version*4> F7
	if len(frame) < 17 || frame[0] != 0xF0 || frame[len(frame)-1] != 0xF7 ||
		frame[1] != 0x7E || frame[3] != 0x06 || frame[4] != 0x02 {
		return Identity{}, false
	}
	if frame[5] != kmiHeader[0] || frame[6] != kmiHeader[1] || frame[7] != kmiHeader[2] {
		return Identity{}, false
	}
	id.DeviceID = frame[2]
	copy(id.Manufacturer[:], frame[5:8])
	copy(id.Family[:], frame[8:10])
	copy(id.Member[:], frame[10:12])
	copy(id.Version[:], frame[12:16])
	if id.Family[0] != identityFamily[0] || id.Family[1] != identityFamily[1] {
		return Identity{}, false
	}
	return id, true
}

// Standalone regime toggles. Each direction is a two-message sequence: the
// host-mode select followed by the state commit, and the firmware requires
// both before it honors the new regime.
var (
	// StandaloneOnMessages: 2C 00 selects standalone, 2D 00 commits it.
	StandaloneOnMessages = [][]byte{
		append(append([]byte{}, kmiHeader...), 0x2C, 0x00),
		append(append([]byte{}, kmiHeader...), 0x2D, 0x00),
	}

	// StandaloneOffMessages: 2C 01 selects hosted, 2D 01 commits it.
	StandaloneOffMessages = [][]byte{
		append(append([]byte{}, kmiHeader...), 0x2C, 0x01),
		append(append([]byte{}, kmiHeader...), 0x2D, 0x01),
	}
)

// BacklightMessage returns the inner SysEx selecting the display/LED
// backlight state: 63 00 off, 63 01 on.
func BacklightMessage(on bool) []byte {
	v := byte(0x00)
	if on {
		v = 0x01
	}
	return append(append([]byte{}, kmiHeader...), 0x63, v)
}

// Ping. The request (4E) is answered by the firmware with a 4F frame;
// neither carries a payload.
var (
	PingRequest = append(append([]byte{}, kmiHeader...), 0x4E)

	pingReplyOp = byte(0x4F)
)

// IsPingReply reports whether a full F0..F7 frame is a ping reply.
func IsPingReply(frame []byte) bool {
	if len(frame) < 6 || frame[0] != 0xF0 {
		return false
	}
	inner := frame[1 : len(frame)-1]
	if len(inner) != 4 {
		return false
	}
	return inner[0] == kmiHeader[0] && inner[1] == kmiHeader[1] &&
		inner[2] == kmiHeader[2] && inner[3] == pingReplyOp
}
