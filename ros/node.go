package ros

import (
	"fmt"
	"time"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

// Node is the root object of the runtime: it owns the registries, the
// client/server process fleets, the dispatch queue, and the single
// driver loop that advances all of them. All of its methods, and every
// callback it invokes, run on the thread that calls SpinOnce/Spin —
// there is no other mutator and therefore no lock.
type Node struct {
	callerID   string
	host       string
	xmlrpcPort int
	tcprosPort int

	masterHost     string
	masterPort     int
	masterPid      int
	masterPidKnown bool

	pid int

	reg   *registries
	queue *dispatchQueue

	xmlrpcClients []*XmlrpcProcess
	xmlrpcServers []*XmlrpcProcess
	tcprosClients []*TcprosProcess
	tcprosServers []*TcprosProcess

	xmlrpcListener *listener
	tcprosListener *listener

	paramSubs []*ParamSubscription

	// closingServerSlots holds indices into tcprosServers whose header
	// handshake was rejected (unknown topic/service, md5sum mismatch)
	// and so never joined a publisher's or service provider's session
	// list; stepClosingServerSlots still has to flush their error header.
	closingServerSlots []int

	logger Logger

	running     bool
	requestStop bool

	keepAliveInterval time.Duration
	lastKeepAlive     time.Time

	tickQuantum time.Duration

	homeDir string
}

// slaveURI returns the http://host:port/ address peers and the master
// use to reach this node's XML-RPC server.
func (n *Node) slaveURI() string {
	return fmt.Sprintf("http://%s:%d/", n.host, n.xmlrpcPort)
}

// serviceURI returns the rosrpc://host:port address advertised for
// service providers hosted by this node's TCPROS server.
func (n *Node) serviceURI() string {
	return fmt.Sprintf("rosrpc://%s:%d", n.host, n.tcprosPort)
}

func (n *Node) masterURI() string {
	return fmt.Sprintf("http://%s:%d/", n.masterHost, n.masterPort)
}

// CallerID returns the node's fully qualified name.
func (n *Node) CallerID() string { return n.callerID }

// Logger returns the node's configured logger.
func (n *Node) Logger() Logger { return n.logger }

// SpinOnce runs one iteration of the driver loop per §4.7:
//  1. poll listeners and ready sockets, advancing each process's state
//     machine one step;
//  2. bind the head dispatch-queue call to the master slot if idle;
//  3. advance every publish/subscribe/service session;
//  4. enqueue a keep-alive getPid if the interval has elapsed.
//
// It never blocks: every socket operation is non-blocking and a single
// pass touches every process record at most once.
func (n *Node) SpinOnce() {
	if !n.running {
		return
	}
	now := time.Now()

	n.acceptXmlrpcConnections()
	n.acceptTcprosConnections()
	n.stepTcprosServerHeaderPhase()
	n.stepClosingServerSlots()

	n.stepMasterSlot()
	n.stepPeerSlots()
	n.stepXmlrpcServerSlots()

	n.stepPublisherSessions(now)
	n.stepSubscriberSessions()
	n.stepServiceProviderSessions()
	n.stepServiceCallerSessions()

	if n.keepAliveInterval > 0 && now.Sub(n.lastKeepAlive) >= n.keepAliveInterval {
		n.lastKeepAlive = now
		n.enqueueKeepAlive()
	}

	if n.requestStop {
		n.running = false
	}
}

// Spin runs SpinOnce in a loop at the configured tick quantum until
// Shutdown is called or a slave-API shutdown request is served.
func (n *Node) Spin() {
	for n.running {
		n.SpinOnce()
		time.Sleep(n.tickQuantum)
	}
}

func (n *Node) enqueueKeepAlive() {
	slot := n.xmlrpcClients[0]
	if slot.State != XmlrpcIdle {
		return
	}
	call := &RosApiCall{
		Method:   methodGetPid,
		Params:   []xmlrpc.Value{n.callerID},
		Callback: func(*ApiCallResult, interface{}) {},
	}
	_ = n.queue.enqueue(call)
}

// acceptTcprosConnections polls the shared TCPROS listener and binds
// any newly accepted connection to a free server slot, in the header
// phase; bindPublishSession/bindServiceSession complete the bind once
// the header names a topic or a service.
func (n *Node) acceptTcprosConnections() {
	if n.tcprosListener == nil {
		return
	}
	conn, status := n.tcprosListener.acceptNonBlocking()
	if status != IODone {
		return
	}
	idx := n.findIdleTcprosServerSlot()
	if idx < 0 {
		n.logger.Warnf("tcpros server: no free slot, dropping inbound connection")
		_ = conn.Close()
		return
	}
	slot := n.tcprosServers[idx]
	slot.sock.adopt(conn)
	slot.State = TcprosReadingHeader
}

func (n *Node) findIdleTcprosServerSlot() int {
	for i, slot := range n.tcprosServers {
		if slot.State == TcprosIdle {
			return i
		}
	}
	return -1
}

// stepTcprosServerHeaderPhase reads a pending inbound header on every
// server slot still in ReadingHeader and routes it to the publisher or
// service-provider binder depending on which field the header carries.
// It runs before stepPublisherSessions/stepServiceProviderSessions so
// those steppers only ever see slots already past the header phase or
// freshly bound this same tick.
func (n *Node) stepTcprosServerHeaderPhase() {
	for i, slot := range n.tcprosServers {
		if slot.State != TcprosReadingHeader {
			continue
		}
		status, err := slot.stepReadHeader()
		if err != nil {
			n.logger.Warnf("tcpros server header error: %v", err)
			slot.reset()
			continue
		}
		switch status {
		case IODone:
			if _, isTopic := slot.PeerHeader.get("topic"); isTopic {
				n.bindPublishSession(i)
			} else if _, isService := slot.PeerHeader.get("service"); isService {
				n.bindServiceSession(i)
			} else {
				n.failServerSlotWithError(i, "missing topic/service field")
			}
		case IOFailed, IODisconnected:
			slot.reset()
		}
	}
}

// restartAdvertising implements §4.6: re-register every publisher,
// subscriber, and service in stable order. Two back-to-back calls (a
// failed ping immediately followed by a detected PID change, or any
// other double trigger on the same tick) must leave the queue exactly
// as one call would: isRegistrationPending skips a register* call for
// any provider that already has one enqueued or in flight on the
// master slot, so the second call finds everything already pending and
// enqueues nothing new.
func (n *Node) restartAdvertising() {
	for _, p := range n.reg.publishers {
		if p != nil && !n.isRegistrationPending(methodRegisterPublisher, p) {
			n.enqueueRegisterPublisher(p)
		}
	}
	for _, s := range n.reg.subscribers {
		if s != nil && !n.isRegistrationPending(methodRegisterSubscriber, s) {
			n.enqueueRegisterSubscriber(s)
		}
	}
	for _, svc := range n.reg.serviceProviders {
		if svc == nil || n.isRegistrationPending(methodRegisterService, svc) {
			continue
		}
		_, idx := n.reg.findServiceProviderByName(svc.Service)
		call := &RosApiCall{
			Method:      methodRegisterService,
			Params:      []xmlrpc.Value{n.callerID, svc.Service, n.serviceURI(), n.slaveURI()},
			ProviderIdx: idx,
			Callback:    n.onRegisterServiceResult,
			Ctx:         svc,
		}
		n.enqueueMasterCall(call)
	}
}

// isRegistrationPending reports whether a register* call for ctx is
// already sitting in the dispatch queue or currently assigned to the
// master client slot, so restartAdvertising can skip re-enqueuing it.
func (n *Node) isRegistrationPending(method string, ctx interface{}) bool {
	if master := n.xmlrpcClients[0]; master.CurrentCall != nil &&
		master.CurrentCall.Method == method && master.CurrentCall.Ctx == ctx {
		return true
	}
	return n.queue.hasPending(method, ctx)
}

// Shutdown sets the stop flag, cancels every pending dispatch-queue
// call, closes every open socket, and releases every process slot to
// Idle, matching §5's cooperative-cancellation rule.
func (n *Node) Shutdown() {
	if !n.running {
		return
	}
	n.logger.Debug("shutting node down")
	n.running = false

	n.queue.cancelAll()

	for _, slot := range n.xmlrpcClients {
		if slot.State != XmlrpcIdle {
			n.completeClientCall(slot, xmlrpc.Response{}, ErrCancelled)
		}
	}
	for _, slot := range n.xmlrpcServers {
		n.releaseServerSlot(slot)
	}
	for _, slot := range n.tcprosClients {
		slot.reset()
	}
	for _, slot := range n.tcprosServers {
		slot.reset()
	}
	_ = n.xmlrpcListener.Close()
	_ = n.tcprosListener.Close()

	n.logger.Debug("shutdown complete")
}
