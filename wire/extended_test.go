package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxFrameMessageRoundTrip(t *testing.T) {
	f := Frame{ID: 0x123, Extended: true, Data: []byte{1, 2, 3, 4}}
	msg := TxFrameToMessage(f, 7)

	buf, err := msg.Marshal()
	require.NoError(t, err)
	assert.Equal(t, int(buf[0]), len(buf), "size field must equal encoded length")

	got, n, err := Unmarshal(buf, false)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, MsgTxFrame, got.Type)
	assert.Equal(t, uint8(7), got.Marker)

	back := got.ToFrame()
	assert.Equal(t, f.ID, back.ID)
	assert.Equal(t, f.Extended, back.Extended)
	assert.Equal(t, f.Data, back.Data)
}

func TestRxFrameMessageRoundTripWithTimestamp(t *testing.T) {
	f := Frame{ID: 0x7FF, Data: []byte{0xAA, 0xBB}, HasTimestamp: true, Timestamp: 123456}
	msg := RxFrameToMessage(f, true)

	buf, err := msg.Marshal()
	require.NoError(t, err)

	got, n, err := Unmarshal(buf, true)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	require.True(t, got.HasTimestamp)
	assert.Equal(t, uint32(123456), got.Timestamp)

	back := got.ToFrame()
	assert.Equal(t, f.Data, back.Data)
}

func TestRxFrameMessageRoundTripWithoutTimestamp(t *testing.T) {
	f := Frame{ID: 0x42, Data: []byte{1}}
	msg := RxFrameToMessage(f, false)

	buf, err := msg.Marshal()
	require.NoError(t, err)

	got, _, err := Unmarshal(buf, false)
	require.NoError(t, err)
	assert.False(t, got.HasTimestamp)
}

func TestRemoteFrameCarriesDLCInFirstDataByte(t *testing.T) {
	f := Frame{ID: 0x55, Remote: true}
	msg := TxFrameToMessage(f, 0)
	require.Len(t, msg.Data, 1)
	assert.Equal(t, ByteCountToDLC(0), msg.Data[0])

	buf, err := msg.Marshal()
	require.NoError(t, err)
	got, _, err := Unmarshal(buf, false)
	require.NoError(t, err)
	back := got.ToFrame()
	assert.True(t, back.Remote)
	assert.Empty(t, back.Data)
}

func TestTxEchoMessageRoundTrip(t *testing.T) {
	m := Message{Type: MsgTxEcho, Marker: 42, HasTimestamp: true, Timestamp: 99}
	buf, err := m.Marshal()
	require.NoError(t, err)

	got, _, err := Unmarshal(buf, true)
	require.NoError(t, err)
	assert.Equal(t, uint8(42), got.Marker)
	assert.Equal(t, uint32(99), got.Timestamp)
}

func TestErrorMessageRoundTrip(t *testing.T) {
	m := Message{
		Type:     MsgError,
		ErrID:    ErrIDBusOff | ErrIDTxTimeout,
		ErrBytes: [8]byte{0, 1, 2, 3, 4, 5, 6, 7},
	}
	buf, err := m.Marshal()
	require.NoError(t, err)

	got, _, err := Unmarshal(buf, false)
	require.NoError(t, err)
	assert.Equal(t, m.ErrID, got.ErrID)
	assert.Equal(t, m.ErrBytes, got.ErrBytes)
}

func TestStringMessageRoundTrip(t *testing.T) {
	m := Message{Type: MsgString, Text: "bus off"}
	buf, err := m.Marshal()
	require.NoError(t, err)

	got, _, err := Unmarshal(buf, false)
	require.NoError(t, err)
	assert.Equal(t, "bus off", got.Text)
}

func TestBusloadMessageRoundTrip(t *testing.T) {
	m := Message{Type: MsgBusload, Percent: 87}
	buf, err := m.Marshal()
	require.NoError(t, err)

	got, _, err := Unmarshal(buf, false)
	require.NoError(t, err)
	assert.Equal(t, uint8(87), got.Percent)
}

func TestUnmarshalTruncatedHeader(t *testing.T) {
	_, _, err := Unmarshal([]byte{5}, false)
	assert.Error(t, err)
}

func TestUnmarshalShortBuffer(t *testing.T) {
	_, _, err := Unmarshal([]byte{10, byte(MsgBusload)}, false)
	assert.Error(t, err)
}

func TestMultipleMessagesBackToBack(t *testing.T) {
	var stream []byte
	m1, _ := Message{Type: MsgBusload, Percent: 50}.Marshal()
	m2, _ := Message{Type: MsgString, Text: "ok"}.Marshal()
	stream = append(stream, m1...)
	stream = append(stream, m2...)

	got1, n1, err := Unmarshal(stream, false)
	require.NoError(t, err)
	assert.Equal(t, MsgBusload, got1.Type)

	got2, n2, err := Unmarshal(stream[n1:], false)
	require.NoError(t, err)
	assert.Equal(t, MsgString, got2.Type)
	assert.Equal(t, "ok", got2.Text)
	assert.Equal(t, len(stream), n1+n2)
}
