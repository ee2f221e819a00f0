package ros

import (
	"fmt"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

// XmlrpcState enumerates the lifecycle of one XML-RPC process slot,
// shared by client slots (this file) and server slots (xmlrpc_server.go).
type XmlrpcState int

const (
	XmlrpcIdle XmlrpcState = iota
	XmlrpcConnecting
	XmlrpcWriting
	XmlrpcReading
	XmlrpcBusy
)

func (s XmlrpcState) String() string {
	switch s {
	case XmlrpcIdle:
		return "idle"
	case XmlrpcConnecting:
		return "connecting"
	case XmlrpcWriting:
		return "writing"
	case XmlrpcReading:
		return "reading"
	case XmlrpcBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// XmlrpcDirection distinguishes an outbound call slot from an inbound
// request slot, so the two halves of the wire protocol share one state
// enum without sharing behavior.
type XmlrpcDirection int

const (
	DirectionRequest XmlrpcDirection = iota
	DirectionResponse
)

// XmlrpcProcess is one XML-RPC socket slot: slot 0 of the client fleet
// is permanently bound to the master, lookupService included; slots
// 1..N-1 are used for calls addressed to another node (requestTopic).
// Server-direction slots are handled in xmlrpc_server.go.
type XmlrpcProcess struct {
	sock      socket
	State     XmlrpcState
	Direction XmlrpcDirection

	sendBuf []byte
	sendOff int
	recvBuf []byte

	// Host/Port identify who this slot is talking to: for Request
	// slots, the callee; for Response slots (xmlrpc_server.go), the
	// caller that connected to us.
	Host string
	Port int

	CurrentCall *RosApiCall
}

func newXmlrpcClientSlot() *XmlrpcProcess {
	return &XmlrpcProcess{State: XmlrpcIdle, Direction: DirectionRequest}
}

// assign binds call to an Idle slot, failing if the slot is busy.
func (x *XmlrpcProcess) assign(call *RosApiCall, host string, port int) error {
	if x.State != XmlrpcIdle {
		return fmt.Errorf("%w: xmlrpc slot busy", ErrCapacityExceeded)
	}
	x.CurrentCall = call
	x.Host = host
	x.Port = port
	x.State = XmlrpcConnecting
	return nil
}

// findIdleTcprosClientSlot returns the index of a free TCPROS client
// slot, or -1 if the pool is exhausted.
func (n *Node) findIdleTcprosClientSlot() int {
	for i, slot := range n.tcprosClients {
		if slot.State == TcprosIdle {
			return i
		}
	}
	return -1
}

// findIdleXmlrpcClientSlot returns the index of a free XML-RPC client
// slot beyond slot 0 (reserved for the master), or -1.
func (n *Node) findIdleXmlrpcClientSlot() int {
	for i := 1; i < len(n.xmlrpcClients); i++ {
		if n.xmlrpcClients[i].State == XmlrpcIdle {
			return i
		}
	}
	return -1
}

// enqueueMasterCall appends call to the dispatch queue bound for the
// master slot.
func (n *Node) enqueueMasterCall(call *RosApiCall) error {
	return n.queue.enqueue(call)
}

// enqueuePeerCall assigns call directly to a free peer XML-RPC client
// slot, bypassing the master dispatch queue, since peer calls are
// addressed to call.TargetHost/TargetPort rather than the master.
func (n *Node) enqueuePeerCall(call *RosApiCall) error {
	idx := n.findIdleXmlrpcClientSlot()
	if idx < 0 {
		return ErrCapacityExceeded
	}
	return n.xmlrpcClients[idx].assign(call, call.TargetHost, call.TargetPort)
}

// stepMasterSlot advances slot 0, binding the next dispatch-queue call
// once Idle, per driver step 3.
func (n *Node) stepMasterSlot() {
	slot := n.xmlrpcClients[0]
	if slot.State == XmlrpcIdle && !n.queue.empty() {
		call := n.queue.dequeue()
		_ = slot.assign(call, n.masterHost, n.masterPort)
	}
	n.stepClientSlot(slot)
}

// stepPeerSlots advances every peer XML-RPC client slot.
func (n *Node) stepPeerSlots() {
	for i := 1; i < len(n.xmlrpcClients); i++ {
		n.stepClientSlot(n.xmlrpcClients[i])
	}
}

// stepClientSlot advances one XML-RPC client slot by one tick.
func (n *Node) stepClientSlot(slot *XmlrpcProcess) {
	switch slot.State {
	case XmlrpcConnecting:
		status := slot.sock.connect(slot.Host, slot.Port)
		switch status {
		case IODone:
			n.beginWriteCall(slot)
		case IOFailed:
			n.completeClientCall(slot, xmlrpc.Response{}, ErrTransport)
		}
	case XmlrpcWriting:
		for slot.sendOff < len(slot.sendBuf) {
			w, status := slot.sock.write(slot.sendBuf[slot.sendOff:])
			slot.sendOff += w
			if status == IOInProgress {
				return
			}
			if status == IOFailed || status == IODisconnected {
				n.completeClientCall(slot, xmlrpc.Response{}, ErrTransport)
				return
			}
		}
		slot.State = XmlrpcReading
	case XmlrpcReading:
		var tmp [4096]byte
		r, status := slot.sock.readInto(tmp[:])
		if r > 0 {
			slot.recvBuf = append(slot.recvBuf, tmp[:r]...)
		}
		msg, ok, err := xmlrpc.TryParseMessage(slot.recvBuf)
		if err != nil {
			n.completeClientCall(slot, xmlrpc.Response{}, fmt.Errorf("%w: %v", ErrProtocol, err))
			return
		}
		if ok {
			params, err := xmlrpc.StdDecoder{}.DecodeResponse(msg.Body)
			if err != nil {
				n.completeClientCall(slot, xmlrpc.Response{}, fmt.Errorf("%w: %v", ErrProtocol, err))
				return
			}
			resp, ok := xmlrpc.DecodeResponseTriple(params)
			if !ok {
				n.completeClientCall(slot, xmlrpc.Response{}, fmt.Errorf("%w: malformed response triple", ErrProtocol))
				return
			}
			n.completeClientCall(slot, resp, nil)
			return
		}
		if status == IOFailed || status == IODisconnected {
			n.completeClientCall(slot, xmlrpc.Response{}, ErrTransport)
		}
	}
}

func (n *Node) beginWriteCall(slot *XmlrpcProcess) {
	call := slot.CurrentCall
	body := xmlrpc.StdEncoder{}.EncodeCall(call.Method, call.Params)
	slot.sendBuf = xmlrpc.BuildRequest(slot.Host, slot.Port, body)
	slot.sendOff = 0
	slot.State = XmlrpcWriting
}

// completeClientCall finishes the current call, invokes its completion
// callback, then releases the slot back to Idle, matching "scope-
// released on every path out of Idle".
func (n *Node) completeClientCall(slot *XmlrpcProcess, resp xmlrpc.Response, err error) {
	call := slot.CurrentCall
	_ = slot.sock.Close()
	slot.State = XmlrpcIdle
	slot.CurrentCall = nil
	slot.sendBuf = nil
	slot.sendOff = 0
	slot.recvBuf = nil

	if call == nil {
		return
	}
	if err == nil && !resp.OK() {
		err = fmt.Errorf("%w: %s", ErrProtocol, resp.StatusMessage)
	}
	n.dispatchMasterResponse(call, resp, err)
	if call.Callback != nil {
		call.Callback(&ApiCallResult{Method: call.Method, Response: resp, Err: err}, call.Ctx)
	}
}

// dispatchMasterResponse implements §4.2's per-method post-processing
// that must happen regardless of whether the call also carries a
// caller-supplied completion callback (getPid's master-restart
// detection in particular has to run even for calls issued internally
// by the keep-alive scheduler).
func (n *Node) dispatchMasterResponse(call *RosApiCall, resp xmlrpc.Response, err error) {
	if call.Method == methodGetPid {
		n.handleGetPidResult(resp, err)
	}
}

// handleGetPidResult implements the master-restart detection: a
// changed PID, or a failed ping, triggers restartAdvertising.
func (n *Node) handleGetPidResult(resp xmlrpc.Response, err error) {
	if err != nil {
		n.logger.Warnf("getPid keep-alive failed: %v", err)
		n.restartAdvertising()
		return
	}
	pid, ok := toIntValue(resp.Value)
	if !ok {
		return
	}
	if !n.masterPidKnown {
		n.masterPid = pid
		n.masterPidKnown = true
		return
	}
	if pid != n.masterPid {
		n.logger.Infof("master pid changed %d -> %d, restarting advertisements", n.masterPid, pid)
		n.masterPid = pid
		n.restartAdvertising()
	}
}
