package ros

import (
	"bytes"
	"net"
	"strconv"
	"time"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

// PublishCallback appends one serialized message to buf. It runs on the
// driver thread once per elapsed publish period per active session and
// must not block.
type PublishCallback func(buf *bytes.Buffer, ctx interface{}) error

// SlaveNotifyCallback is invoked when a subscriber connects to this
// publisher's TCPROS server slot, reporting the subscriber's address.
type SlaveNotifyCallback func(topic, host string, port int, ctx interface{})

// PublisherOption configures a PublisherNode at registration time.
type PublisherOption func(*PublisherNode)

// WithSlaveNotify installs a callback fired when a subscriber connects.
func WithSlaveNotify(cb SlaveNotifyCallback) PublisherOption {
	return func(p *PublisherNode) { p.Notify = cb }
}

// PublisherNode is a registered topic advertisement plus the set of
// TCPROS server slots currently streaming to subscribers.
type PublisherNode struct {
	Topic     string
	TypeName  string
	MD5Sum    string
	Serialize PublishCallback
	Notify    SlaveNotifyCallback
	Ctx       interface{}

	PublishPeriod time.Duration
	lastSend      time.Time

	// sessions holds the indices into Node.tcprosServers currently bound
	// to this publisher (Role == tcprosRolePublish, TopicIdx == this
	// publisher's registry index). A publisher may stream to several
	// subscribers concurrently, each with its own slot.
	sessions []int
}

// NewPublisher registers a publisher and enqueues registerPublisher on
// the master slot. With a positive period, the serialize callback is
// invoked once per active session each time the period elapses;
// period <= 0 disables periodic publishing and the callback is never
// invoked.
func (n *Node) NewPublisher(topic, typeName, md5sum string, period time.Duration, cb PublishCallback, opts ...PublisherOption) (*PublisherNode, error) {
	if !n.running {
		return nil, ErrNotRunning
	}
	if topic == "" || topic[0] != '/' {
		return nil, ErrUnknownTopic
	}
	p := &PublisherNode{
		Topic:         topic,
		TypeName:      typeName,
		MD5Sum:        md5sum,
		Serialize:     cb,
		PublishPeriod: period,
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, err := n.reg.addPublisher(p); err != nil {
		return nil, err
	}
	n.enqueueRegisterPublisher(p)
	return p, nil
}

func (n *Node) enqueueRegisterPublisher(p *PublisherNode) {
	_, idx := n.reg.findPublisherByTopic(p.Topic)
	call := &RosApiCall{
		Method:      methodRegisterPublisher,
		Params:      []xmlrpc.Value{n.callerID, p.Topic, p.TypeName, n.slaveURI()},
		ProviderIdx: idx,
		Callback:    n.onRegisterPublisherResult,
		Ctx:         p,
	}
	n.enqueueMasterCall(call)
}

func (n *Node) onRegisterPublisherResult(res *ApiCallResult, ctx interface{}) {
	p, _ := ctx.(*PublisherNode)
	if res.Err != nil {
		n.logger.Warnf("registerPublisher(%s) failed: %v", p.Topic, res.Err)
		return
	}
	n.logger.Debugf("registerPublisher(%s) succeeded", p.Topic)
}

// UnregisterPublisher removes a publisher registration, closes any
// sessions streaming to subscribers, and enqueues unregisterPublisher
// on the master slot.
func (n *Node) UnregisterPublisher(topic string) error {
	p, idx := n.reg.findPublisherByTopic(topic)
	if p == nil {
		return ErrUnknownTopic
	}
	for _, sessionIdx := range p.sessions {
		n.tcprosServers[sessionIdx].reset()
	}
	p.sessions = nil
	n.reg.removePublisher(idx)
	call := &RosApiCall{
		Method:   methodUnregisterPublisher,
		Params:   []xmlrpc.Value{n.callerID, topic, n.slaveURI()},
		Callback: func(*ApiCallResult, interface{}) {},
	}
	return n.enqueueMasterCall(call)
}

// bindPublishSession completes the header phase for a freshly accepted
// TCPROS connection once its inbound header has been read, binding it
// to the publisher named by the header's topic field.
func (n *Node) bindPublishSession(slotIdx int) {
	slot := n.tcprosServers[slotIdx]
	topic, _ := slot.PeerHeader.get("topic")
	md5sum, _ := slot.PeerHeader.get("md5sum")
	p, pubIdx := n.reg.findPublisherByTopic(topic)
	if p == nil {
		n.failServerSlotWithError(slotIdx, "unknown topic "+topic)
		return
	}
	if md5sum != "*" && md5sum != p.MD5Sum {
		n.failServerSlotWithError(slotIdx, "md5sum mismatch")
		return
	}
	reply := newTcprosHeader()
	reply.set("callerid", n.callerID)
	reply.set("md5sum", p.MD5Sum)
	reply.set("type", p.TypeName)
	reply.set("latching", "0")
	slot.TopicIdx = pubIdx
	slot.Role = tcprosRolePublish
	slot.beginWritingHeader(reply)
	p.sessions = append(p.sessions, slotIdx)

	if p.Notify != nil {
		host, port := peerAddr(slot)
		p.Notify(p.Topic, host, port, p.Ctx)
	}
}

// failServerSlotWithError queues a rejection header on an accepted
// connection that didn't bind to any publisher or service (unknown
// name, md5sum mismatch). Since the slot never joins a publisher's or
// service provider's session list, it is tracked in closingServerSlots
// so stepClosingServerSlots still flushes the header and releases it.
func (n *Node) failServerSlotWithError(slotIdx int, reason string) {
	slot := n.tcprosServers[slotIdx]
	reply := newTcprosHeader()
	reply.set("error", reason)
	slot.beginWritingHeader(reply)
	n.closingServerSlots = append(n.closingServerSlots, slotIdx)
	n.logger.Warnf("tcpros server session rejected: %s", reason)
}

// stepClosingServerSlots pumps the rejection header of every slot queued
// by failServerSlotWithError, releasing each once flushed or failed.
func (n *Node) stepClosingServerSlots() {
	live := n.closingServerSlots[:0]
	for _, idx := range n.closingServerSlots {
		slot := n.tcprosServers[idx]
		status := slot.stepWriteHeader()
		switch status {
		case IODone, IOFailed, IODisconnected:
			slot.reset()
		default:
			live = append(live, idx)
		}
	}
	n.closingServerSlots = live
}

// stepPublisherSessions advances every active publish server slot one
// tick: pumps the header handshake, and once in the message phase,
// serializes and frames a new payload whenever the publish period has
// elapsed.
func (n *Node) stepPublisherSessions(now time.Time) {
	for _, p := range n.reg.publishers {
		if p == nil {
			continue
		}
		live := p.sessions[:0]
		for _, idx := range p.sessions {
			slot := n.tcprosServers[idx]
			if n.stepOnePublishSession(p, slot, now) {
				live = append(live, idx)
			}
		}
		p.sessions = live
	}
}

// stepOnePublishSession advances slot one tick and returns false if the
// session has ended and the slot has been released.
func (n *Node) stepOnePublishSession(p *PublisherNode, slot *TcprosProcess, now time.Time) bool {
	switch slot.State {
	case TcprosWritingHeader:
		status := slot.stepWriteHeader()
		switch status {
		case IODone:
			slot.State = TcprosWritingMessage
		case IOFailed, IODisconnected:
			slot.reset()
			return false
		}
		return true
	case TcprosWritingMessage:
		if len(slot.pendingOut) > slot.outOffset {
			status := slot.stepWriteMessage()
			if status == IOFailed || status == IODisconnected {
				slot.reset()
				return false
			}
			return true
		}
		// lastSend == now means an earlier session already published on
		// this tick; this session gets its own message on the same tick.
		due := p.lastSend.Equal(now) || now.Sub(p.lastSend) >= p.PublishPeriod
		if p.PublishPeriod > 0 && due && p.Serialize != nil {
			var buf bytes.Buffer
			if err := p.Serialize(&buf, p.Ctx); err != nil {
				n.logger.Errorf("publish(%s) serialize failed: %v", p.Topic, err)
				return true
			}
			slot.queueMessage(buf.Bytes())
			p.lastSend = now
			status := slot.stepWriteMessage()
			if status == IOFailed || status == IODisconnected {
				slot.reset()
				return false
			}
		}
		return true
	default:
		return true
	}
}

// peerAddr reports the remote address of an accepted TCPROS slot.
func peerAddr(slot *TcprosProcess) (string, int) {
	if slot.sock.conn == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(slot.sock.conn.RemoteAddr().String())
	if err != nil {
		return "", 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
