package ros

import (
	"bytes"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

// DeserializeCallback turns one received frame into application state.
// It runs on the driver thread for every message the TCP stream
// delivers and must not block.
type DeserializeCallback func(buf *bytes.Reader, ctx interface{}) error

// SubscriberNode is a registered topic subscription plus the single
// TCPROS client slot assigned to it, per spec's "at most one peer
// connection per subscriber at a time" invariant.
type SubscriberNode struct {
	Topic       string
	TypeName    string
	MD5Sum      string
	Deserialize DeserializeCallback
	Ctx         interface{}

	// PublisherHost/PublisherPort are the resolved address of the first
	// advertised publisher, set once registerSubscriber's response (or a
	// publisherUpdate slave call) names one; empty/0 means unknown.
	PublisherHost string
	PublisherPort int

	// TcprosPort is the port the peer's requestTopic response handed
	// back; 0 means unknown.
	TcprosPort int

	// ClientSlot is the index into Node.tcprosClients bound to this
	// subscription, or -1 when none is assigned.
	ClientSlot int

	// requestTopicInFlight guards against re-enqueuing requestTopic
	// while one is already pending, matching publisherUpdate's
	// idempotent re-enqueue rule.
	requestTopicInFlight bool
}

// NewSubscriber registers a subscription and enqueues registerSubscriber
// on the master slot.
func (n *Node) NewSubscriber(topic, typeName, md5sum string, cb DeserializeCallback) (*SubscriberNode, error) {
	if !n.running {
		return nil, ErrNotRunning
	}
	if topic == "" || topic[0] != '/' {
		return nil, ErrUnknownTopic
	}
	s := &SubscriberNode{
		Topic:       topic,
		TypeName:    typeName,
		MD5Sum:      md5sum,
		Deserialize: cb,
		ClientSlot:  -1,
	}
	if _, err := n.reg.addSubscriber(s); err != nil {
		return nil, err
	}
	n.enqueueRegisterSubscriber(s)
	return s, nil
}

func (n *Node) enqueueRegisterSubscriber(s *SubscriberNode) {
	_, idx := n.reg.findSubscriberByTopic(s.Topic)
	call := &RosApiCall{
		Method:      methodRegisterSubscriber,
		Params:      []xmlrpc.Value{n.callerID, s.Topic, s.TypeName, n.slaveURI()},
		ProviderIdx: idx,
		Callback:    n.onRegisterSubscriberResult,
		Ctx:         s,
	}
	n.enqueueMasterCall(call)
}

// onRegisterSubscriberResult implements §4.2's registerSubscriber
// post-processing: on success, if the response carries at least one
// publisher URI, resolve the first and enqueue requestTopic against it.
func (n *Node) onRegisterSubscriberResult(res *ApiCallResult, ctx interface{}) {
	s, _ := ctx.(*SubscriberNode)
	if res.Err != nil {
		n.logger.Warnf("registerSubscriber(%s) failed: %v", s.Topic, res.Err)
		return
	}
	uris, _ := res.Response.Value.([]xmlrpc.Value)
	if len(uris) == 0 {
		return
	}
	first, _ := uris[0].(string)
	if first == "" {
		return
	}
	n.connectSubscriberToPublisherURI(s, first)
}

// connectSubscriberToPublisherURI parses a http://host:port/ publisher
// URI, resolves the host, stores it on the subscriber, and enqueues a
// requestTopic call unless one is already in flight.
func (n *Node) connectSubscriberToPublisherURI(s *SubscriberNode, uri string) {
	host, port, err := parseHTTPURIHostPort(uri)
	if err != nil {
		n.logger.Warnf("subscriber(%s) could not parse publisher uri %q: %v", s.Topic, uri, err)
		return
	}
	resolved, err := resolveHost(host)
	if err != nil {
		n.logger.Warnf("subscriber(%s) could not resolve host %q: %v", s.Topic, host, err)
		return
	}
	s.PublisherHost = resolved
	s.PublisherPort = port
	if s.requestTopicInFlight {
		return
	}
	s.requestTopicInFlight = true
	_, idx := n.reg.findSubscriberByTopic(s.Topic)
	call := &RosApiCall{
		Method:      methodRequestTopic,
		Params:      []xmlrpc.Value{n.callerID, s.Topic, []xmlrpc.Value{[]xmlrpc.Value{"TCPROS"}}},
		ProviderIdx: idx,
		TargetHost:  resolved,
		TargetPort:  port,
		Callback:    n.onRequestTopicResult,
		Ctx:         s,
	}
	if err := n.enqueuePeerCall(call); err != nil {
		s.requestTopicInFlight = false
		n.logger.Warnf("subscriber(%s) could not enqueue requestTopic: %v", s.Topic, err)
	}
}

// onRequestTopicResult implements §4.2's peer-call response dispatch:
// the third element of the nested protocol array is the peer's TCP
// port. Once known, a TCPROS client slot is assigned and opened.
func (n *Node) onRequestTopicResult(res *ApiCallResult, ctx interface{}) {
	s, _ := ctx.(*SubscriberNode)
	s.requestTopicInFlight = false
	if res.Err != nil {
		n.logger.Warnf("requestTopic(%s) failed: %v", s.Topic, res.Err)
		return
	}
	proto, _ := res.Response.Value.([]xmlrpc.Value)
	if len(proto) < 3 {
		n.logger.Warnf("requestTopic(%s): malformed protocol params", s.Topic)
		return
	}
	port, ok := toIntValue(proto[2])
	if !ok {
		n.logger.Warnf("requestTopic(%s): non-numeric port", s.Topic)
		return
	}
	s.TcprosPort = port
	n.assignSubscriberClientSlot(s)
}

// assignSubscriberClientSlot binds a free TCPROS client slot to s and
// begins connecting to its resolved publisher address.
func (n *Node) assignSubscriberClientSlot(s *SubscriberNode) {
	if s.ClientSlot >= 0 {
		n.tcprosClients[s.ClientSlot].reset()
	}
	_, subIdx := n.reg.findSubscriberByTopic(s.Topic)
	idx := n.findIdleTcprosClientSlot()
	if idx < 0 {
		n.logger.Warnf("subscriber(%s): no free tcpros client slot", s.Topic)
		return
	}
	slot := n.tcprosClients[idx]
	slot.TopicIdx = subIdx
	slot.Role = tcprosRoleSubscribe
	slot.State = TcprosConnecting
	s.ClientSlot = idx
}

// stepSubscriberSessions advances every subscriber's TCPROS client slot
// one tick.
func (n *Node) stepSubscriberSessions() {
	for _, s := range n.reg.subscribers {
		if s == nil || s.ClientSlot < 0 {
			continue
		}
		n.stepOneSubscriberSession(s, n.tcprosClients[s.ClientSlot])
	}
}

func (n *Node) stepOneSubscriberSession(s *SubscriberNode, slot *TcprosProcess) {
	switch slot.State {
	case TcprosConnecting:
		status := slot.sock.connect(s.PublisherHost, s.TcprosPort)
		switch status {
		case IODone:
			hdr := newTcprosHeader()
			hdr.set("callerid", n.callerID)
			hdr.set("topic", s.Topic)
			hdr.set("md5sum", s.MD5Sum)
			hdr.set("type", s.TypeName)
			hdr.set("tcp_nodelay", "0")
			slot.beginWritingHeader(hdr)
		case IOFailed:
			n.resetSubscriberSession(s, slot)
		}
	case TcprosWritingHeader:
		status := slot.stepWriteHeader()
		switch status {
		case IODone:
			slot.State = TcprosReadingHeader
		case IOFailed, IODisconnected:
			n.resetSubscriberSession(s, slot)
		}
	case TcprosReadingHeader:
		status, err := slot.stepReadHeader()
		if err != nil {
			n.logger.Warnf("subscriber(%s) header error: %v", s.Topic, err)
			n.resetSubscriberSession(s, slot)
			return
		}
		switch status {
		case IODone:
			if errField, has := slot.PeerHeader.get("error"); has {
				n.logger.Warnf("subscriber(%s) rejected: %s", s.Topic, errField)
				n.resetSubscriberSession(s, slot)
				return
			}
			md5sum, _ := slot.PeerHeader.get("md5sum")
			if md5sum != "*" && md5sum != s.MD5Sum {
				n.logger.Warnf("subscriber(%s) md5sum mismatch", s.Topic)
				n.resetSubscriberSession(s, slot)
				return
			}
			slot.State = TcprosReadingMessage
		case IOFailed, IODisconnected:
			n.resetSubscriberSession(s, slot)
		}
	case TcprosReadingMessage:
		body, status, err := slot.stepReadMessage()
		if err != nil {
			n.logger.Warnf("subscriber(%s) frame error: %v", s.Topic, err)
			n.resetSubscriberSession(s, slot)
			return
		}
		switch status {
		case IODone:
			if s.Deserialize != nil {
				if err := s.Deserialize(bytes.NewReader(body), s.Ctx); err != nil {
					n.logger.Errorf("subscriber(%s) deserialize failed: %v", s.Topic, err)
				}
			}
		case IOFailed, IODisconnected:
			n.resetSubscriberSession(s, slot)
		}
	}
}

// resetSubscriberSession implements §4.5's reconnection rule: the
// subscriber's resolved address is cleared so the driver re-resolves on
// the next publisherUpdate, and the client slot is released.
func (n *Node) resetSubscriberSession(s *SubscriberNode, slot *TcprosProcess) {
	slot.reset()
	s.ClientSlot = -1
	s.PublisherHost = ""
	s.PublisherPort = 0
	s.TcprosPort = 0
}

// UnregisterSubscriber removes a subscription, releases its TCPROS
// client slot, and enqueues unregisterSubscriber on the master slot.
func (n *Node) UnregisterSubscriber(topic string) error {
	s, idx := n.reg.findSubscriberByTopic(topic)
	if s == nil {
		return ErrUnknownTopic
	}
	if s.ClientSlot >= 0 {
		n.tcprosClients[s.ClientSlot].reset()
	}
	n.reg.removeSubscriber(idx)
	call := &RosApiCall{
		Method:   methodUnregisterSub,
		Params:   []xmlrpc.Value{n.callerID, topic, n.slaveURI()},
		Callback: func(*ApiCallResult, interface{}) {},
	}
	return n.enqueueMasterCall(call)
}

func toIntValue(v xmlrpc.Value) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	default:
		return 0, false
	}
}
