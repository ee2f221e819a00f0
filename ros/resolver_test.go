package ros

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTTPURIHostPort(t *testing.T) {
	host, port, err := parseHTTPURIHostPort("http://192.168.1.5:45123/")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", host)
	assert.Equal(t, 45123, port)
}

func TestParseHTTPURIHostPortTolerantOfMissingScheme(t *testing.T) {
	host, port, err := parseHTTPURIHostPort("talker.local:9000")
	require.NoError(t, err)
	assert.Equal(t, "talker.local", host)
	assert.Equal(t, 9000, port)
}

func TestParseHTTPURIHostPortRejectsMissingPort(t *testing.T) {
	_, _, err := parseHTTPURIHostPort("http://talker.local/")
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestResolveHostPassesThroughNumericIP(t *testing.T) {
	resolved, err := resolveHost("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", resolved)
}

func TestParseRemapArgsSplitsPositionalAndRemaps(t *testing.T) {
	positional, remaps := ParseRemapArgs([]string{"talker", "__name:=listener", "chatter:=topic"})
	assert.Equal(t, []string{"talker"}, positional)
	assert.Equal(t, "listener", remaps["__name"])
	assert.Equal(t, "topic", remaps["chatter"])
}

func TestQualifyName(t *testing.T) {
	assert.Equal(t, "/ns/chatter", qualifyName("/ns", "chatter"))
	assert.Equal(t, "/chatter", qualifyName("", "chatter"))
	assert.Equal(t, "/chatter", qualifyName("/ns", "/chatter"))
	assert.Equal(t, "~private", qualifyName("/ns", "~private"))
}
