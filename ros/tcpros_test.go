package ros

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTcprosHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := newTcprosHeader()
	h.set("callerid", "/talker")
	h.set("topic", "/chatter")
	h.set("md5sum", "992ce8a1687cec8c8bd883ec73ca41d1")
	h.set("type", "std_msgs/String")

	frame := h.encode()
	body, consumed, ok, err := tryReadFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(frame), consumed)

	decoded, err := decodeTcprosHeader(body)
	require.NoError(t, err)

	v, ok := decoded.get("callerid")
	require.True(t, ok)
	assert.Equal(t, "/talker", v)

	v, ok = decoded.get("topic")
	require.True(t, ok)
	assert.Equal(t, "/chatter", v)
}

func TestTcprosHeaderSetReplacesInPlace(t *testing.T) {
	h := newTcprosHeader()
	h.set("a", "1")
	h.set("b", "2")
	h.set("a", "3")

	require.Len(t, h.fields, 2)
	v, _ := h.get("a")
	assert.Equal(t, "3", v)
	assert.Equal(t, "a", h.fields[0].Name, "replacing must not move the field")
}

func TestTryReadFrameIncremental(t *testing.T) {
	payload := []byte("hello tcpros")
	frame := frameBytes(payload)

	for i := 0; i < len(frame)-1; i++ {
		_, _, ok, err := tryReadFrame(frame[:i])
		require.NoError(t, err)
		require.False(t, ok, "frame must not be considered complete at %d of %d bytes", i, len(frame))
	}

	body, consumed, ok, err := tryReadFrame(frame)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(frame), consumed)
	assert.Equal(t, payload, body)
}

func TestTryReadFrameOversizedIsProtocolError(t *testing.T) {
	oversized := make([]byte, 4)
	oversized[3] = 0xFF // absurdly large little-endian length
	_, _, ok, err := tryReadFrame(oversized)
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestTwoFramesConcatenatedParseInSequence(t *testing.T) {
	f1 := frameBytes([]byte("first"))
	f2 := frameBytes([]byte("second"))
	buf := append(append([]byte(nil), f1...), f2...)

	body1, consumed1, ok, err := tryReadFrame(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(body1))

	body2, consumed2, ok, err := tryReadFrame(buf[consumed1:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(body2))
	assert.Equal(t, len(buf), consumed1+consumed2)
}
