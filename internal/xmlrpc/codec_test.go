package xmlrpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeCallRoundTrip(t *testing.T) {
	enc := StdEncoder{}
	dec := StdDecoder{}

	params := []Value{
		"/talker",
		"/chatter",
		"std_msgs/String",
		"http://127.0.0.1:45100/",
	}
	body := enc.EncodeCall("registerPublisher", params)

	method, got, err := dec.DecodeCall(body)
	require.NoError(t, err)
	assert.Equal(t, "registerPublisher", method)
	require.Len(t, got, 4)
	assert.Equal(t, "/talker", got[0])
	assert.Equal(t, "http://127.0.0.1:45100/", got[3])
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	enc := StdEncoder{}
	dec := StdDecoder{}

	resp := Response{
		StatusCode:    StatusSuccess,
		StatusMessage: "Success",
		Value: []Value{
			"http://127.0.0.1:45101/",
		},
	}
	body := enc.EncodeResponse([]Value{resp.AsValues()[0], resp.AsValues()[1], resp.AsValues()[2]})

	params, err := dec.DecodeResponse(body)
	require.NoError(t, err)
	triple, ok := DecodeResponseTriple(params)
	require.True(t, ok)
	assert.True(t, triple.OK())
	assert.Equal(t, "Success", triple.StatusMessage)

	arr, ok := triple.Value.([]Value)
	require.True(t, ok)
	require.Len(t, arr, 1)
	assert.Equal(t, "http://127.0.0.1:45101/", arr[0])
}

func TestEncodeDecodeStructPreservesOrder(t *testing.T) {
	enc := StdEncoder{}
	dec := StdDecoder{}

	s := Struct{
		{Name: "x", Value: int64(3)},
		{Name: "y", Value: "ciao"},
		{Name: "z", Value: []Value{int64(1), int64(2), int64(3)}},
	}
	body := enc.EncodeResponse([]Value{int64(StatusSuccess), "", s})

	params, err := dec.DecodeResponse(body)
	require.NoError(t, err)
	require.Len(t, params, 3)

	got, ok := params[2].(Struct)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, "x", got[0].Name)
	assert.Equal(t, "y", got[1].Name)
	assert.Equal(t, "z", got[2].Name)
}

func TestEncodeDecodeFault(t *testing.T) {
	enc := StdEncoder{}
	dec := StdDecoder{}

	body := enc.EncodeFault(1, "Unknown method")
	_, err := dec.DecodeResponse(body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown method")
}

func TestEncodeDecodeDateTime(t *testing.T) {
	enc := StdEncoder{}
	dec := StdDecoder{}

	when := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	body := enc.EncodeResponse([]Value{when})
	params, err := dec.DecodeResponse(body)
	require.NoError(t, err)
	require.Len(t, params, 1)
	got, ok := params[0].(time.Time)
	require.True(t, ok)
	assert.True(t, when.Equal(got))
}

func TestTryParseMessageIncremental(t *testing.T) {
	full := BuildResponse([]byte("<methodResponse></methodResponse>"))

	// Feed it one byte at a time; only the final byte should complete it.
	for i := 1; i < len(full); i++ {
		_, ok, err := TryParseMessage(full[:i])
		require.NoError(t, err)
		assert.False(t, ok, "should not parse a partial message at %d/%d bytes", i, len(full))
	}

	msg, ok, err := TryParseMessage(full)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(full), msg.Consumed)
	assert.Equal(t, "<methodResponse></methodResponse>", string(msg.Body))
}

func TestTryParseMessageStopsAtContentLength(t *testing.T) {
	first := BuildResponse([]byte("<methodResponse>one</methodResponse>"))
	second := BuildResponse([]byte("<methodResponse>two</methodResponse>"))
	buf := append(append([]byte{}, first...), second...)

	msg, ok, err := TryParseMessage(buf)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, len(first), msg.Consumed)
	assert.Equal(t, "<methodResponse>one</methodResponse>", string(msg.Body))

	msg2, ok, err := TryParseMessage(buf[msg.Consumed:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<methodResponse>two</methodResponse>", string(msg2.Body))
}
