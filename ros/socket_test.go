package ros

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketConnectAndWriteReadRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		require.NoError(t, err)
		accepted <- conn
	}()

	addr := ln.Addr().(*net.TCPAddr)
	var s socket
	for {
		status := s.connect("127.0.0.1", addr.Port)
		if status == IODone {
			break
		}
		require.NotEqual(t, IOFailed, status)
		time.Sleep(time.Millisecond)
	}
	defer s.Close()

	server := <-accepted
	defer server.Close()

	_, err = server.Write([]byte("hello"))
	require.NoError(t, err)

	var buf [16]byte
	var n int
	for n < 5 {
		r, status := s.readInto(buf[n:])
		n += r
		require.NotEqual(t, IOFailed, status)
	}
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestSocketWriteFailsWithoutConnection(t *testing.T) {
	var s socket
	_, status := s.write([]byte("x"))
	assert.Equal(t, IOFailed, status)
}

func TestSocketReadFailsWithoutConnection(t *testing.T) {
	var s socket
	_, status := s.readInto(make([]byte, 4))
	assert.Equal(t, IOFailed, status)
}

func TestListenerAcceptNonBlocking(t *testing.T) {
	l, port, err := listenTCP("127.0.0.1", 0)
	require.NoError(t, err)
	defer l.Close()
	assert.NotZero(t, port)

	_, status := l.acceptNonBlocking()
	assert.Equal(t, IOInProgress, status)

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer client.Close()

	var conn net.Conn
	for conn == nil {
		var s IOStatus
		conn, s = l.acceptNonBlocking()
		require.NotEqual(t, IOFailed, s)
		if s == IOInProgress {
			time.Sleep(time.Millisecond)
		}
	}
	defer conn.Close()
	assert.NotNil(t, conn)
}
