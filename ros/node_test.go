package ros

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNodeAllocatesConfiguredCapacitiesAndListeners(t *testing.T) {
	n, err := NewNode(NodeConfig{
		CallerID:         "/test_node",
		MasterHost:       "127.0.0.1",
		MasterPort:       11311,
		Host:             "127.0.0.1",
		MaxXMLRPCClients: 3,
		MaxXMLRPCServers: 2,
		MaxTCPROSClients: 4,
		MaxTCPROSServers: 4,
		MaxPublishers:    2,
		MaxSubscribers:   2,
		Logger:           noopLogger{},
	})
	require.NoError(t, err)
	defer n.Shutdown()

	assert.True(t, n.running)
	assert.Len(t, n.xmlrpcClients, 3)
	assert.Len(t, n.xmlrpcServers, 2)
	assert.Len(t, n.tcprosClients, 4)
	assert.Len(t, n.tcprosServers, 4)
	assert.Equal(t, 2, n.reg.maxPublishers)
	assert.Equal(t, 2, n.reg.maxSubscribers)
	assert.Equal(t, fmt.Sprintf("http://127.0.0.1:%d/", n.xmlrpcPort), n.slaveURI())
	assert.Equal(t, fmt.Sprintf("rosrpc://127.0.0.1:%d", n.tcprosPort), n.serviceURI())
}

func TestNewNodeRejectsMissingCallerIDOrMaster(t *testing.T) {
	_, err := NewNode(NodeConfig{MasterHost: "127.0.0.1", MasterPort: 11311})
	assert.Error(t, err)

	_, err = NewNode(NodeConfig{CallerID: "/test_node"})
	assert.Error(t, err)
}

func TestShutdownClosesListenersAndCancelsPendingCalls(t *testing.T) {
	n, err := NewNode(NodeConfig{
		CallerID:   "/test_node",
		MasterHost: "127.0.0.1",
		MasterPort: 11311,
		Host:       "127.0.0.1",
		Logger:     noopLogger{},
	})
	require.NoError(t, err)

	var cancelledErr error
	require.NoError(t, n.queue.enqueue(&RosApiCall{
		Method: methodGetPid,
		Callback: func(res *ApiCallResult, _ interface{}) {
			cancelledErr = res.Err
		},
	}))

	xmlrpcPort, tcprosPort := n.xmlrpcPort, n.tcprosPort
	n.Shutdown()

	assert.False(t, n.running)
	assert.ErrorIs(t, cancelledErr, ErrCancelled)
	assert.True(t, n.queue.empty())

	// The listening sockets were closed, so the bound ports are free again.
	ln1, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", xmlrpcPort))
	require.NoError(t, err)
	_ = ln1.Close()
	ln2, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", tcprosPort))
	require.NoError(t, err)
	_ = ln2.Close()
}

func TestShutdownIsIdempotent(t *testing.T) {
	n, err := NewNode(NodeConfig{
		CallerID:   "/test_node",
		MasterHost: "127.0.0.1",
		MasterPort: 11311,
		Host:       "127.0.0.1",
		Logger:     noopLogger{},
	})
	require.NoError(t, err)
	n.Shutdown()
	assert.NotPanics(t, func() { n.Shutdown() })
}

func TestRestartAdvertisingEnqueuesEveryPublisherSubscriberAndService(t *testing.T) {
	n := &Node{
		running: true,
		logger:  noopLogger{},
		reg:     &registries{maxPublishers: 4, maxSubscribers: 4, maxServiceProviders: 4},
		queue:   newDispatchQueue(16),
	}
	n.xmlrpcClients = []*XmlrpcProcess{newXmlrpcClientSlot()}

	pub, err := n.NewPublisher("/chatter", "std_msgs/String", "abc123", 0, nil)
	require.NoError(t, err)
	sub, err := n.NewSubscriber("/listener_topic", "std_msgs/String", "abc123", nil)
	require.NoError(t, err)
	svc, err := n.NewServiceProvider("/add_two_ints", "my_srvs/AddTwoInts", "svcsum", nil)
	require.NoError(t, err)

	// NewPublisher/NewSubscriber/NewServiceProvider each already enqueued
	// their initial registration call; drain those before exercising
	// restartAdvertising in isolation.
	n.queue.calls = nil

	n.restartAdvertising()
	assert.Equal(t, 3, n.queue.len())

	// A second, back-to-back call must be a true no-op: every
	// registration it would enqueue is already sitting in the queue
	// from the first call, so the post-state is unchanged.
	n.restartAdvertising()
	assert.Equal(t, 3, n.queue.len())

	methods := map[string]bool{}
	for n.queue.len() > 0 {
		methods[n.queue.dequeue().Method] = true
	}
	assert.True(t, methods[methodRegisterPublisher])
	assert.True(t, methods[methodRegisterSubscriber])
	assert.True(t, methods[methodRegisterService])

	assert.Equal(t, "/chatter", pub.Topic)
	assert.Equal(t, "/listener_topic", sub.Topic)
	assert.Equal(t, "/add_two_ints", svc.Service)
}
