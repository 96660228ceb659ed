package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeIDRoundTrip(t *testing.T) {
	cases := []struct {
		name              string
		extended, remote  bool
		id                uint32
	}{
		{"standard-data", false, false, 0x123},
		{"standard-remote", false, true, 0x7FF},
		{"extended-data", true, false, 0x1FFFFFFF},
		{"extended-remote", true, true, 0x0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			wireID := EncodeID(c.extended, c.remote, c.id)
			extended, remote, id := DecodeID(wireID)
			assert.Equal(t, c.extended, extended)
			assert.Equal(t, c.remote, remote)
			assert.Equal(t, c.id, id)
		})
	}
}

func TestDLCByteCountRoundTrip(t *testing.T) {
	for dlc, n := range dlcLengths {
		assert.Equal(t, n, DLCToByteCount(uint8(dlc)))
		assert.Equal(t, uint8(dlc), ByteCountToDLC(n))
	}
}

func TestByteCountToDLCRoundsUp(t *testing.T) {
	assert.Equal(t, ByteCountToDLC(12), ByteCountToDLC(9))
	assert.Equal(t, ByteCountToDLC(64), ByteCountToDLC(63))
}

func TestIsValidDLCLength(t *testing.T) {
	assert.True(t, IsValidDLCLength(0))
	assert.True(t, IsValidDLCLength(8))
	assert.True(t, IsValidDLCLength(48))
	assert.False(t, IsValidDLCLength(9))
	assert.False(t, IsValidDLCLength(65))
}

func TestFrameValidateClassic(t *testing.T) {
	f := Frame{ID: 0x100, Data: make([]byte, 8)}
	require.NoError(t, f.Validate())

	tooLong := Frame{ID: 0x100, Data: make([]byte, 12)}
	assert.Error(t, tooLong.Validate())

	brsOnClassic := Frame{ID: 0x100, Data: make([]byte, 4), Flags: FlagBRS}
	assert.Error(t, brsOnClassic.Validate())
}

func TestFrameValidateFD(t *testing.T) {
	f := Frame{ID: 0x100, Data: make([]byte, 32), Flags: FlagFDF | FlagBRS}
	require.NoError(t, f.Validate())
	assert.True(t, f.IsFD())

	badLen := Frame{ID: 0x100, Data: make([]byte, 9), Flags: FlagFDF}
	assert.Error(t, badLen.Validate())
}

func TestFrameValidateRemoteHasNoData(t *testing.T) {
	f := Frame{ID: 0x100, Remote: true}
	require.NoError(t, f.Validate())

	bad := Frame{ID: 0x100, Remote: true, Data: []byte{1}}
	assert.Error(t, bad.Validate())
}
