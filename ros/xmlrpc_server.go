package ros

import (
	"net"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

func newXmlrpcServerSlot() *XmlrpcProcess {
	return &XmlrpcProcess{State: XmlrpcIdle, Direction: DirectionResponse}
}

// acceptXmlrpcConnections polls the slave-API listener and binds any
// newly accepted connection to a free server slot.
func (n *Node) acceptXmlrpcConnections() {
	if n.xmlrpcListener == nil {
		return
	}
	conn, status := n.xmlrpcListener.acceptNonBlocking()
	if status != IODone {
		return
	}
	idx := n.findIdleXmlrpcServerSlot()
	if idx < 0 {
		n.logger.Warnf("xmlrpc server: no free slot, dropping inbound connection")
		_ = conn.Close()
		return
	}
	slot := n.xmlrpcServers[idx]
	slot.sock.adopt(conn)
	slot.State = XmlrpcReading
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		slot.Host = tcpAddr.IP.String()
		slot.Port = tcpAddr.Port
	}
}

func (n *Node) findIdleXmlrpcServerSlot() int {
	for i, slot := range n.xmlrpcServers {
		if slot.State == XmlrpcIdle {
			return i
		}
	}
	return -1
}

// stepXmlrpcServerSlots advances every inbound XML-RPC server slot one
// tick.
func (n *Node) stepXmlrpcServerSlots() {
	for _, slot := range n.xmlrpcServers {
		n.stepServerSlot(slot)
	}
}

func (n *Node) stepServerSlot(slot *XmlrpcProcess) {
	switch slot.State {
	case XmlrpcReading:
		var tmp [4096]byte
		r, status := slot.sock.readInto(tmp[:])
		if r > 0 {
			slot.recvBuf = append(slot.recvBuf, tmp[:r]...)
		}
		msg, ok, err := xmlrpc.TryParseMessage(slot.recvBuf)
		if err != nil {
			n.releaseServerSlot(slot)
			return
		}
		if ok {
			method, params, err := xmlrpc.StdDecoder{}.DecodeCall(msg.Body)
			if err != nil {
				n.writeServerFault(slot, 400, err.Error())
				return
			}
			n.dispatchSlaveCall(slot, method, params)
			return
		}
		if status == IOFailed || status == IODisconnected {
			n.releaseServerSlot(slot)
		}
	case XmlrpcWriting:
		for slot.sendOff < len(slot.sendBuf) {
			w, status := slot.sock.write(slot.sendBuf[slot.sendOff:])
			slot.sendOff += w
			if status == IOInProgress {
				return
			}
			if status == IOFailed || status == IODisconnected {
				n.releaseServerSlot(slot)
				return
			}
		}
		n.releaseServerSlot(slot)
	}
}

func (n *Node) writeServerResponse(slot *XmlrpcProcess, resp xmlrpc.Response) {
	body := xmlrpc.StdEncoder{}.EncodeResponse(resp.AsValues())
	slot.sendBuf = xmlrpc.BuildResponse(body)
	slot.sendOff = 0
	slot.State = XmlrpcWriting
}

func (n *Node) writeServerFault(slot *XmlrpcProcess, code int, message string) {
	body := xmlrpc.StdEncoder{}.EncodeFault(code, message)
	slot.sendBuf = xmlrpc.BuildResponse(body)
	slot.sendOff = 0
	slot.State = XmlrpcWriting
}

func (n *Node) releaseServerSlot(slot *XmlrpcProcess) {
	_ = slot.sock.Close()
	slot.State = XmlrpcIdle
	slot.sendBuf = nil
	slot.sendOff = 0
	slot.recvBuf = nil
	slot.CurrentCall = nil
}

// dispatchSlaveCall implements §4.3's slave-API method dispatch.
func (n *Node) dispatchSlaveCall(slot *XmlrpcProcess, method string, params []xmlrpc.Value) {
	switch method {
	case methodGetPid:
		n.writeServerResponse(slot, successResponse(int64(n.pid)))
	case methodPublisherUpdate:
		n.handlePublisherUpdate(slot, params)
	case methodRequestTopic:
		n.handleRequestTopic(slot, params)
	case methodParamUpdate:
		n.handleParamUpdate(slot, params)
	case methodGetSubscriptions:
		n.writeServerResponse(slot, successResponse(n.enumerateSubscriptions()))
	case methodGetPublications:
		n.writeServerResponse(slot, successResponse(n.enumeratePublications()))
	case methodGetBusStats, methodGetBusInfo:
		n.writeServerResponse(slot, successResponse([]xmlrpc.Value{}))
	case methodGetMasterURI:
		n.writeServerResponse(slot, successResponse(n.masterURI()))
	case methodShutdown:
		n.writeServerResponse(slot, successResponse(int64(0)))
		n.requestStop = true
	default:
		n.writeServerFault(slot, 404, "Unknown method "+method)
	}
}

func successResponse(v xmlrpc.Value) xmlrpc.Response {
	return xmlrpc.Response{StatusCode: xmlrpc.StatusSuccess, StatusMessage: "", Value: v}
}

func failureResponse(msg string) xmlrpc.Response {
	return xmlrpc.Response{StatusCode: xmlrpc.StatusFailure, StatusMessage: msg, Value: int64(0)}
}

// handlePublisherUpdate implements §4.3/§9: locate the subscriber by
// topic; if its tcpros_port is unknown and a publisher URI is given,
// resolve it and enqueue requestTopic (idempotently). Per the resolved
// Open Question, the response is sent unconditionally even when the
// topic is not found, rather than dereferencing a missing record.
func (n *Node) handlePublisherUpdate(slot *XmlrpcProcess, params []xmlrpc.Value) {
	if len(params) < 3 {
		n.writeServerFault(slot, 400, "publisherUpdate: wrong number of arguments")
		return
	}
	topic, _ := params[1].(string)
	publishers, _ := params[2].([]xmlrpc.Value)

	s, _ := n.reg.findSubscriberByTopic(topic)
	if s == nil {
		n.writeServerResponse(slot, failureResponse("unknown topic "+topic))
		return
	}
	if s.TcprosPort == 0 && len(publishers) > 0 {
		if uri, ok := publishers[0].(string); ok && uri != "" {
			n.connectSubscriberToPublisherURI(s, uri)
		}
	}
	n.writeServerResponse(slot, successResponse(int64(0)))
}

// handleRequestTopic implements §4.3: locate the publisher, verify
// TCPROS is an acceptable protocol, and reply with our own address.
func (n *Node) handleRequestTopic(slot *XmlrpcProcess, params []xmlrpc.Value) {
	if len(params) < 3 {
		n.writeServerFault(slot, 400, "requestTopic: wrong number of arguments")
		return
	}
	topic, _ := params[1].(string)
	protocols, _ := params[2].([]xmlrpc.Value)

	p, _ := n.reg.findPublisherByTopic(topic)
	if p == nil {
		n.writeServerResponse(slot, failureResponse("unknown topic "+topic))
		return
	}
	if !protocolListHasTCPROS(protocols) {
		n.writeServerResponse(slot, failureResponse("no supported protocol"))
		return
	}
	proto := []xmlrpc.Value{"TCPROS", n.host, int64(n.tcprosPort)}
	n.writeServerResponse(slot, successResponse(proto))

	if p.Notify != nil {
		host, port := slot.Host, slot.Port
		p.Notify(topic, host, port, p.Ctx)
	}
}

func protocolListHasTCPROS(protocols []xmlrpc.Value) bool {
	for _, proto := range protocols {
		arr, ok := proto.([]xmlrpc.Value)
		if !ok || len(arr) == 0 {
			continue
		}
		if name, _ := arr[0].(string); name == "TCPROS" {
			return true
		}
	}
	return false
}

// handleParamUpdate implements §4.4: match the key against registered
// subscription prefixes and fire a status callback per match, carrying
// the full key the master sent.
func (n *Node) handleParamUpdate(slot *XmlrpcProcess, params []xmlrpc.Value) {
	if len(params) < 3 {
		n.writeServerFault(slot, 400, "paramUpdate: wrong number of arguments")
		return
	}
	key, _ := params[1].(string)
	value := params[2]
	n.deliverParamUpdate(key, valueToParam(value))
	n.writeServerResponse(slot, successResponse(int64(0)))
}

func (n *Node) enumerateSubscriptions() []xmlrpc.Value {
	out := make([]xmlrpc.Value, 0, len(n.reg.subscribers))
	for _, s := range n.reg.subscribers {
		if s == nil {
			continue
		}
		out = append(out, []xmlrpc.Value{s.Topic, s.TypeName})
	}
	return out
}

func (n *Node) enumeratePublications() []xmlrpc.Value {
	out := make([]xmlrpc.Value, 0, len(n.reg.publishers))
	for _, p := range n.reg.publishers {
		if p == nil {
			continue
		}
		out = append(out, []xmlrpc.Value{p.Topic, p.TypeName})
	}
	return out
}
