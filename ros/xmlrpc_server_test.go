package ros

import (
	"testing"

	"github.com/qianqian121/cros/internal/xmlrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode() *Node {
	return &Node{
		running:    true,
		logger:     noopLogger{},
		callerID:   "/listener",
		host:       "127.0.0.1",
		tcprosPort: 9000,
		reg:        &registries{maxPublishers: 8, maxSubscribers: 8, maxServiceProviders: 8},
		queue:      newDispatchQueue(8),
	}
}

func TestDispatchSlaveCallGetPid(t *testing.T) {
	n := newTestNode()
	n.pid = 777
	slot := newXmlrpcServerSlot()
	n.dispatchSlaveCall(slot, methodGetPid, nil)
	require.Equal(t, XmlrpcWriting, slot.State)

	msg, ok, err := xmlrpc.TryParseMessage(slot.sendBuf)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := xmlrpc.StdDecoder{}.DecodeResponse(msg.Body)
	require.NoError(t, err)
	resp, ok := xmlrpc.DecodeResponseTriple(got)
	require.True(t, ok)
	assert.Equal(t, int64(777), resp.Value)
}

func TestHandlePublisherUpdateRespondsEvenWithoutMatchingSubscriber(t *testing.T) {
	n := newTestNode()
	slot := newXmlrpcServerSlot()

	params := []xmlrpc.Value{"/master", "/unknown_topic", []xmlrpc.Value{"http://1.2.3.4:9999/"}}
	n.handlePublisherUpdate(slot, params)

	require.Equal(t, XmlrpcWriting, slot.State)
	msg, ok, err := xmlrpc.TryParseMessage(slot.sendBuf)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := xmlrpc.StdDecoder{}.DecodeResponse(msg.Body)
	require.NoError(t, err)
	resp, ok := xmlrpc.DecodeResponseTriple(got)
	require.True(t, ok)
	assert.False(t, resp.OK())
}

func TestHandleRequestTopicRejectsUnsupportedProtocol(t *testing.T) {
	n := newTestNode()
	_, err := n.NewPublisher("/chatter", "std_msgs/String", "abc", 0, nil)
	require.NoError(t, err)

	slot := newXmlrpcServerSlot()
	params := []xmlrpc.Value{"/talker", "/chatter", []xmlrpc.Value{[]xmlrpc.Value{"UDPROS"}}}
	n.handleRequestTopic(slot, params)

	msg, ok, err := xmlrpc.TryParseMessage(slot.sendBuf)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := xmlrpc.StdDecoder{}.DecodeResponse(msg.Body)
	require.NoError(t, err)
	resp, ok := xmlrpc.DecodeResponseTriple(got)
	require.True(t, ok)
	assert.False(t, resp.OK())
}

func TestHandleRequestTopicAcceptsTCPROS(t *testing.T) {
	n := newTestNode()
	_, err := n.NewPublisher("/chatter", "std_msgs/String", "abc", 0, nil)
	require.NoError(t, err)

	slot := newXmlrpcServerSlot()
	params := []xmlrpc.Value{"/talker", "/chatter", []xmlrpc.Value{[]xmlrpc.Value{"TCPROS"}}}
	n.handleRequestTopic(slot, params)

	msg, ok, err := xmlrpc.TryParseMessage(slot.sendBuf)
	require.NoError(t, err)
	require.True(t, ok)
	got, err := xmlrpc.StdDecoder{}.DecodeResponse(msg.Body)
	require.NoError(t, err)
	resp, ok := xmlrpc.DecodeResponseTriple(got)
	require.True(t, ok)
	require.True(t, resp.OK())
	proto, ok := resp.Value.([]xmlrpc.Value)
	require.True(t, ok)
	require.Len(t, proto, 3)
	assert.Equal(t, "TCPROS", proto[0])
	assert.Equal(t, int64(9000), proto[2])
}

func TestProtocolListHasTCPROS(t *testing.T) {
	assert.True(t, protocolListHasTCPROS([]xmlrpc.Value{[]xmlrpc.Value{"TCPROS"}}))
	assert.False(t, protocolListHasTCPROS([]xmlrpc.Value{[]xmlrpc.Value{"UDPROS"}}))
	assert.False(t, protocolListHasTCPROS(nil))
}
