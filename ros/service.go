package ros

import (
	"bytes"

	"github.com/qianqian121/cros/internal/xmlrpc"
)

// ServiceHandler produces a response for one request, reading req and
// writing into resp. It runs on the driver thread and must not block.
type ServiceHandler func(req *bytes.Reader, resp *bytes.Buffer, ctx interface{}) error

// ServiceProvider is a registered service advertisement plus the set of
// TCPROS server slots currently serving in-flight calls, keyed by
// service name instead of topic name per §4.9.
type ServiceProvider struct {
	Service  string
	TypeName string
	MD5Sum   string
	Handler  ServiceHandler
	Ctx      interface{}

	sessions []int
}

// NewServiceProvider registers a service and enqueues registerService
// on the master slot.
func (n *Node) NewServiceProvider(service, typeName, md5sum string, handler ServiceHandler) (*ServiceProvider, error) {
	if !n.running {
		return nil, ErrNotRunning
	}
	if service == "" || service[0] != '/' {
		return nil, ErrUnknownService
	}
	p := &ServiceProvider{Service: service, TypeName: typeName, MD5Sum: md5sum, Handler: handler}
	if _, err := n.reg.addServiceProvider(p); err != nil {
		return nil, err
	}
	_, idx := n.reg.findServiceProviderByName(service)
	call := &RosApiCall{
		Method:      methodRegisterService,
		Params:      []xmlrpc.Value{n.callerID, service, n.serviceURI(), n.slaveURI()},
		ProviderIdx: idx,
		Callback:    n.onRegisterServiceResult,
		Ctx:         p,
	}
	n.enqueueMasterCall(call)
	return p, nil
}

func (n *Node) onRegisterServiceResult(res *ApiCallResult, ctx interface{}) {
	p, _ := ctx.(*ServiceProvider)
	if res.Err != nil {
		n.logger.Warnf("registerService(%s) failed: %v", p.Service, res.Err)
		return
	}
	n.logger.Debugf("registerService(%s) succeeded", p.Service)
}

// UnregisterServiceProvider removes a service advertisement and
// enqueues unregisterService on the master slot.
func (n *Node) UnregisterServiceProvider(service string) error {
	p, idx := n.reg.findServiceProviderByName(service)
	if p == nil {
		return ErrUnknownService
	}
	for _, sessionIdx := range p.sessions {
		n.tcprosServers[sessionIdx].reset()
	}
	p.sessions = nil
	n.reg.removeServiceProvider(idx)
	call := &RosApiCall{
		Method:   methodUnregisterService,
		Params:   []xmlrpc.Value{n.callerID, service, n.serviceURI()},
		Callback: func(*ApiCallResult, interface{}) {},
	}
	return n.enqueueMasterCall(call)
}

// bindServiceSession completes the header phase for a freshly accepted
// TCPROS connection whose header names a service rather than a topic.
func (n *Node) bindServiceSession(slotIdx int) {
	slot := n.tcprosServers[slotIdx]
	service, _ := slot.PeerHeader.get("service")
	md5sum, _ := slot.PeerHeader.get("md5sum")
	p, svcIdx := n.reg.findServiceProviderByName(service)
	if p == nil {
		n.failServerSlotWithError(slotIdx, "unknown service "+service)
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
	slot.ServiceIdx = svcIdx
	slot.Role = tcprosRoleServiceProvide
	slot.beginWritingHeader(reply)
	p.sessions = append(p.sessions, slotIdx)
}

// stepServiceProviderSessions advances every in-flight service server
// slot one tick: header handshake, then request-frame read, handler
// invocation, and response-frame write.
func (n *Node) stepServiceProviderSessions() {
	for _, p := range n.reg.serviceProviders {
		if p == nil {
			continue
		}
		live := p.sessions[:0]
		for _, idx := range p.sessions {
			slot := n.tcprosServers[idx]
			if n.stepOneServiceProviderSession(p, slot) {
				live = append(live, idx)
			}
		}
		p.sessions = live
	}
}

func (n *Node) stepOneServiceProviderSession(p *ServiceProvider, slot *TcprosProcess) bool {
	switch slot.State {
	case TcprosWritingHeader:
		status := slot.stepWriteHeader()
		switch status {
		case IODone:
			slot.State = TcprosReadingMessage
		case IOFailed, IODisconnected:
			slot.reset()
			return false
		}
		return true
	case TcprosReadingMessage:
		body, status, err := slot.stepReadMessage()
		if err != nil {
			n.logger.Warnf("service(%s) request frame error: %v", p.Service, err)
			slot.reset()
			return false
		}
		switch status {
		case IODone:
			var resp bytes.Buffer
			if p.Handler != nil {
				if err := p.Handler(bytes.NewReader(body), &resp, p.Ctx); err != nil {
					n.logger.Errorf("service(%s) handler failed: %v", p.Service, err)
				}
			}
			slot.queueMessage(resp.Bytes())
			slot.State = TcprosWritingMessage
			return true
		case IOFailed, IODisconnected:
			slot.reset()
			return false
		}
		return true
	case TcprosWritingMessage:
		status := slot.stepWriteMessage()
		switch status {
		case IODone:
			persistent, _ := slot.PeerHeader.get("persistent")
			if persistent != "1" {
				slot.reset()
				return false
			}
			slot.State = TcprosReadingMessage
		case IOFailed, IODisconnected:
			slot.reset()
			return false
		}
		return true
	default:
		return true
	}
}

// ServiceResponseCallback delivers a service call's outcome: resp is
// nil when err is non-nil.
type ServiceResponseCallback func(resp *bytes.Reader, err error)

// ServiceCaller is a resolved client-side binding to a remote service,
// reused across calls when Persistent is set.
type ServiceCaller struct {
	Service    string
	MD5Sum     string
	Persistent bool

	host string
	port int

	clientSlot int

	pendingRequest  []byte
	pendingCallback ServiceResponseCallback
	lookupInFlight  bool
}

// NewServiceCaller creates a client-side binding to service, resolving
// its address lazily on the first Call.
func (n *Node) NewServiceCaller(service, md5sum string, persistent bool) (*ServiceCaller, error) {
	if !n.running {
		return nil, ErrNotRunning
	}
	if service == "" || service[0] != '/' {
		return nil, ErrUnknownService
	}
	c := &ServiceCaller{Service: service, MD5Sum: md5sum, Persistent: persistent, clientSlot: -1}
	if _, err := n.reg.addServiceCaller(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Call issues request against the service, resolving its address via
// lookupService first if unknown, and delivers the response (or error)
// to cb exactly once.
func (n *Node) Call(c *ServiceCaller, request []byte, cb ServiceResponseCallback) error {
	if !n.running {
		return ErrNotRunning
	}
	if c.host == "" {
		c.pendingRequest = request
		c.pendingCallback = cb
		if c.lookupInFlight {
			return nil
		}
		c.lookupInFlight = true
		_, idx := n.reg.findServiceCallerByName(c.Service)
		call := &RosApiCall{
			Method:      methodLookupService,
			Params:      []xmlrpc.Value{n.callerID, c.Service},
			ProviderIdx: idx,
			Callback:    n.onLookupServiceResult,
			Ctx:         c,
		}
		return n.enqueueMasterCall(call)
	}
	return n.beginServiceExchange(c, request, cb)
}

func (n *Node) onLookupServiceResult(res *ApiCallResult, ctx interface{}) {
	c, _ := ctx.(*ServiceCaller)
	c.lookupInFlight = false
	if res.Err != nil {
		if c.pendingCallback != nil {
			c.pendingCallback(nil, res.Err)
		}
		return
	}
	uri, ok := res.Response.Value.(string)
	if !ok {
		if c.pendingCallback != nil {
			c.pendingCallback(nil, ErrProtocol)
		}
		return
	}
	host, port, err := parseHTTPURIHostPort(uri)
	if err != nil {
		if c.pendingCallback != nil {
			c.pendingCallback(nil, err)
		}
		return
	}
	resolved, err := resolveHost(host)
	if err != nil {
		if c.pendingCallback != nil {
			c.pendingCallback(nil, err)
		}
		return
	}
	c.host = resolved
	c.port = port
	req, cb := c.pendingRequest, c.pendingCallback
	c.pendingRequest, c.pendingCallback = nil, nil
	_ = n.beginServiceExchange(c, req, cb)
}

func (n *Node) beginServiceExchange(c *ServiceCaller, request []byte, cb ServiceResponseCallback) error {
	if c.clientSlot >= 0 && n.tcprosClients[c.clientSlot].State == TcprosWait {
		// A persistent connection left open by the previous call carries
		// the next request frame directly, without a new handshake.
		c.pendingRequest = request
		c.pendingCallback = cb
		n.tcprosClients[c.clientSlot].queueMessage(request)
		return nil
	}
	idx := n.findIdleTcprosClientSlot()
	if idx < 0 {
		return ErrCapacityExceeded
	}
	slot := n.tcprosClients[idx]
	_, svcIdx := n.reg.findServiceCallerByName(c.Service)
	slot.ServiceIdx = svcIdx
	slot.Role = tcprosRoleServiceCall
	slot.State = TcprosConnecting
	c.clientSlot = idx
	c.pendingRequest = request
	c.pendingCallback = cb
	return nil
}

// stepServiceCallerSessions advances every in-flight service caller
// exchange one tick.
func (n *Node) stepServiceCallerSessions() {
	for _, c := range n.reg.serviceCallers {
		if c == nil || c.clientSlot < 0 {
			continue
		}
		n.stepOneServiceCallerSession(c, n.tcprosClients[c.clientSlot])
	}
}

func (n *Node) stepOneServiceCallerSession(c *ServiceCaller, slot *TcprosProcess) {
	switch slot.State {
	case TcprosConnecting:
		status := slot.sock.connect(c.host, c.port)
		switch status {
		case IODone:
			hdr := newTcprosHeader()
			hdr.set("callerid", n.callerID)
			hdr.set("service", c.Service)
			hdr.set("md5sum", c.MD5Sum)
			if c.Persistent {
				hdr.set("persistent", "1")
			}
			slot.beginWritingHeader(hdr)
		case IOFailed:
			n.finishServiceCall(c, slot, nil, ErrTransport)
		}
	case TcprosWritingHeader:
		status := slot.stepWriteHeader()
		switch status {
		case IODone:
			slot.State = TcprosReadingHeader
		case IOFailed, IODisconnected:
			n.finishServiceCall(c, slot, nil, ErrTransport)
		}
	case TcprosReadingHeader:
		status, err := slot.stepReadHeader()
		if err != nil {
			n.finishServiceCall(c, slot, nil, err)
			return
		}
		if status == IODone {
			if errField, has := slot.PeerHeader.get("error"); has {
				n.finishServiceCall(c, slot, nil, errProtocolf(errField))
				return
			}
			slot.queueMessage(c.pendingRequest)
			slot.State = TcprosWritingMessage
		} else if status == IOFailed || status == IODisconnected {
			n.finishServiceCall(c, slot, nil, ErrTransport)
		}
	case TcprosWritingMessage:
		status := slot.stepWriteMessage()
		switch status {
		case IODone:
			slot.State = TcprosReadingMessage
		case IOFailed, IODisconnected:
			n.finishServiceCall(c, slot, nil, ErrTransport)
		}
	case TcprosReadingMessage:
		body, status, err := slot.stepReadMessage()
		if err != nil {
			n.finishServiceCall(c, slot, nil, err)
			return
		}
		switch status {
		case IODone:
			n.finishServiceCall(c, slot, body, nil)
		case IOFailed, IODisconnected:
			n.finishServiceCall(c, slot, nil, ErrTransport)
		}
	}
}

func (n *Node) finishServiceCall(c *ServiceCaller, slot *TcprosProcess, body []byte, err error) {
	cb := c.pendingCallback
	c.pendingCallback = nil
	c.pendingRequest = nil
	if !c.Persistent || err != nil {
		slot.reset()
		c.clientSlot = -1
	} else {
		slot.State = TcprosWait
	}
	if cb != nil {
		if err != nil {
			cb(nil, err)
		} else {
			cb(bytes.NewReader(body), nil)
		}
	}
}

// UnregisterServiceCaller releases a service caller's client slot, if
// any is assigned.
func (n *Node) UnregisterServiceCaller(service string) error {
	c, idx := n.reg.findServiceCallerByName(service)
	if c == nil {
		return ErrUnknownService
	}
	if c.clientSlot >= 0 {
		n.tcprosClients[c.clientSlot].reset()
	}
	n.reg.removeServiceCaller(idx)
	return nil
}
