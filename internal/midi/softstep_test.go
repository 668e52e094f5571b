package midi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSensorCCRoundTrip(t *testing.T) {
	seen := map[uint8]bool{}
	for row := 0; row < NumRows; row++ {
		for col := 0; col < NumCols; col++ {
			for _, dir := range Directions {
				cc := SensorCC(row, col, dir)
				assert.GreaterOrEqual(t, cc, uint8(40))
				assert.LessOrEqual(t, cc, uint8(79))
				assert.False(t, seen[cc], "sensor CCs must be unique")
				seen[cc] = true

				pos, d, ok := SensorFromCC(cc)
				require.True(t, ok)
				assert.Equal(t, Position{Row: row, Col: col}, pos)
				assert.Equal(t, dir, d)
			}
		}
	}
	assert.Len(t, seen, NumKeys*4)
}

func TestSensorFromCCRejectsOutOfRange(t *testing.T) {
	_, _, ok := SensorFromCC(39)
	assert.False(t, ok)
	_, _, ok = SensorFromCC(80)
	assert.False(t, ok)
}

func TestKeyNumbering(t *testing.T) {
	// Bottom row left to right is 0-4, top row 5-9.
	assert.Equal(t, 0, KeyNumber(1, 0))
	assert.Equal(t, 4, KeyNumber(1, 4))
	assert.Equal(t, 5, KeyNumber(0, 0))
	assert.Equal(t, 9, KeyNumber(0, 4))
}

func TestLEDAddressing(t *testing.T) {
	assert.Equal(t, uint8(20), LEDRedCC(0))
	assert.Equal(t, uint8(29), LEDRedCC(9))
	assert.Equal(t, uint8(110), LEDGreenCC(0))
	assert.Equal(t, uint8(119), LEDGreenCC(9))
}

func TestDisplayCCs(t *testing.T) {
	assert.Equal(t, uint8(50), DisplayCC(0))
	assert.Equal(t, uint8(53), DisplayCC(DisplayWidth-1))
}

func TestNavCCs(t *testing.T) {
	assert.True(t, IsNavCC(NavLeftCC))
	assert.True(t, IsNavCC(NavDownCC))
	assert.False(t, IsNavCC(79))
	assert.False(t, IsNavCC(84))
}

func TestNeighborsDoNotWrap(t *testing.T) {
	corner := Neighbors(0, 0)
	assert.Len(t, corner, 3)
	for _, p := range corner {
		assert.True(t, p.Valid())
	}

	edge := Neighbors(0, 2)
	assert.Len(t, edge, 5)

	// On a two-row grid every non-corner key has exactly 5 neighbors.
	assert.Len(t, Neighbors(1, 3), 5)
}

func identityFrame(mfr [3]byte, family [2]byte) []byte {
	frame := []byte{0xF0, 0x7E, 0x00, 0x06, 0x02}
	frame = append(frame, mfr[:]...)
	frame = append(frame, family[:]...)
	frame = append(frame, 0x02, 0x00)             // member
	frame = append(frame, 0x01, 0x00, 0x00, 0x00) // version
	return append(frame, 0xF7)
}

func TestParseIdentity(t *testing.T) {
	id, ok := ParseIdentity(identityFrame([3]byte{0x00, 0x1B, 0x48}, [2]byte{0x0C, 0x00}))
	require.True(t, ok)
	assert.Equal(t, [3]byte{0x00, 0x1B, 0x48}, id.Manufacturer)
	assert.Equal(t, [2]byte{0x0C, 0x00}, id.Family)

	_, ok = ParseIdentity(identityFrame([3]byte{0x00, 0x20, 0x29}, [2]byte{0x0C, 0x00}))
	assert.False(t, ok, "other manufacturers must not identify")

	_, ok = ParseIdentity(identityFrame([3]byte{0x00, 0x1B, 0x48}, [2]byte{0x7F, 0x00}))
	assert.False(t, ok, "other families must not identify")

	_, ok = ParseIdentity([]byte{0xF0, 0x7E, 0x00, 0x06, 0x02, 0xF7})
	assert.False(t, ok)
}

func TestIsPingReply(t *testing.T) {
	assert.True(t, IsPingReply([]byte{0xF0, 0x00, 0x1B, 0x48, 0x4F, 0xF7}))
	assert.False(t, IsPingReply([]byte{0xF0, 0x00, 0x1B, 0x48, 0x4E, 0xF7}))
	assert.False(t, IsPingReply([]byte{0xF0, 0xF7}))
}
