package ros

import (
	"bytes"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawPublisherServer accepts one connection, reads a TCPROS header, replies
// with its own header, then writes one framed message, mimicking a
// publisher's side of the handshake without this package's own server
// machinery.
func rawPublisherServer(t *testing.T, replyFields map[string]string, message []byte) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done = make(chan struct{})
	go func() {
		defer close(done)
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = readRawFrame(t, conn) // peer header, unused by this test double

		reply := newTcprosHeader()
		for k, v := range replyFields {
			reply.set(k, v)
		}
		if _, err := conn.Write(reply.encode()); err != nil {
			return
		}
		if _, err := conn.Write(frameBytes(message)); err != nil {
			return
		}
	}()
	return ln.Addr().String(), done
}

func TestSubscriberSessionReceivesMessage(t *testing.T) {
	addr, done := rawPublisherServer(t, map[string]string{
		"callerid": "/talker",
		"md5sum":   "abc123",
		"type":     "std_msgs/String",
	}, []byte("hello"))
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n := newTestNode()
	n.tcprosClients = []*TcprosProcess{newTcprosProcess()}

	var got string
	s, err := n.NewSubscriber("/chatter", "std_msgs/String", "abc123", func(buf *bytes.Reader, _ interface{}) error {
		b, readErr := readAllBytes(buf)
		got = string(b)
		return readErr
	})
	require.NoError(t, err)
	s.PublisherHost = host
	s.TcprosPort = port
	n.assignSubscriberClientSlot(s)

	deadline := time.Now().Add(3 * time.Second)
	for got == "" {
		n.stepSubscriberSessions()
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for message delivery")
		}
	}
	<-done
	assert.Equal(t, "hello", got)
}

func TestSubscriberSessionResetsOnMD5Mismatch(t *testing.T) {
	addr, _ := rawPublisherServer(t, map[string]string{
		"md5sum": "different",
	}, nil)
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n := newTestNode()
	n.tcprosClients = []*TcprosProcess{newTcprosProcess()}

	s, err := n.NewSubscriber("/chatter", "std_msgs/String", "abc123", nil)
	require.NoError(t, err)
	s.PublisherHost = host
	s.TcprosPort = port
	n.assignSubscriberClientSlot(s)

	deadline := time.Now().Add(3 * time.Second)
	for s.ClientSlot >= 0 {
		n.stepSubscriberSessions()
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for session reset")
		}
	}
	assert.Equal(t, -1, s.ClientSlot)
	assert.Empty(t, s.PublisherHost)
	assert.Zero(t, s.TcprosPort)
}

func readAllBytes(r *bytes.Reader) ([]byte, error) {
	out := make([]byte, r.Len())
	_, err := r.Read(out)
	return out, err
}
