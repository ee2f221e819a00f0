package ros

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
)

// TcprosState enumerates the lifecycle of one peer TCP slot.
type TcprosState int

const (
	TcprosIdle TcprosState = iota
	TcprosConnecting
	TcprosWritingHeader
	TcprosReadingHeader
	TcprosWritingMessage
	TcprosReadingMessage
	TcprosWait
)

func (s TcprosState) String() string {
	switch s {
	case TcprosIdle:
		return "idle"
	case TcprosConnecting:
		return "connecting"
	case TcprosWritingHeader:
		return "writing-header"
	case TcprosReadingHeader:
		return "reading-header"
	case TcprosWritingMessage:
		return "writing-message"
	case TcprosReadingMessage:
		return "reading-message"
	case TcprosWait:
		return "wait"
	default:
		return "unknown"
	}
}

// maxFrameSize bounds a single TCPROS payload; a peer claiming a larger
// frame is treated as a protocol failure rather than risking an
// unbounded allocation.
const maxFrameSize = 64 << 20

// tcprosField is one ordered key=value member of a header.
type tcprosField struct {
	Name  string
	Value string
}

// tcprosHeader is the ordered set of key=value fields exchanged at
// connection setup, order-preserving because some peers are sensitive
// to field order in logs even though the protocol itself is not.
type tcprosHeader struct {
	fields []tcprosField
}

func newTcprosHeader() *tcprosHeader { return &tcprosHeader{} }

func (h *tcprosHeader) set(key, value string) {
	for i, f := range h.fields {
		if f.Name == key {
			h.fields[i].Value = value
			return
		}
	}
	h.fields = append(h.fields, tcprosField{Name: key, Value: value})
}

func (h *tcprosHeader) get(key string) (string, bool) {
	for _, f := range h.fields {
		if f.Name == key {
			return f.Value, true
		}
	}
	return "", false
}

// encode builds the single length-prefixed outer frame whose body is
// the concatenation of per-field u32_le length + "key=value" sub-frames.
func (h *tcprosHeader) encode() []byte {
	var body bytes.Buffer
	for _, f := range h.fields {
		line := f.Name + "=" + f.Value
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(line)))
		body.Write(lenBuf[:])
		body.WriteString(line)
	}
	return frameBytes(body.Bytes())
}

// decodeTcprosHeader parses a header frame's body (already stripped of
// its own outer length prefix) into key=value fields, in wire order.
func decodeTcprosHeader(body []byte) (*tcprosHeader, error) {
	h := newTcprosHeader()
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: truncated header field length", ErrProtocol)
		}
		n := binary.LittleEndian.Uint32(body[:4])
		body = body[4:]
		if int(n) > len(body) {
			return nil, fmt.Errorf("%w: truncated header field", ErrProtocol)
		}
		line := string(body[:n])
		body = body[n:]
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, fmt.Errorf("%w: malformed header field %q", ErrProtocol, line)
		}
		h.set(line[:eq], line[eq+1:])
	}
	return h, nil
}

// frameBytes wraps payload with its u32_le length prefix.
func frameBytes(payload []byte) []byte {
	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// tryReadFrame attempts to pull one complete length-prefixed frame out
// of buf. It returns the frame body, how many bytes of buf it consumed,
// and whether a complete frame was present; this is the mechanism by
// which frames are parsed incrementally across driver ticks.
func tryReadFrame(buf []byte) (body []byte, consumed int, ok bool, err error) {
	if len(buf) < 4 {
		return nil, 0, false, nil
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if n > maxFrameSize {
		return nil, 0, false, fmt.Errorf("%w: frame of %d bytes exceeds cap", ErrProtocol, n)
	}
	total := 4 + int(n)
	if len(buf) < total {
		return nil, 0, false, nil
	}
	return buf[4:total], total, true, nil
}

// TcprosProcess is one peer TCP slot: a publisher-side server session
// streaming to a subscriber, or a subscriber-side client session
// reading from a publisher, or a service request/response exchange.
type TcprosProcess struct {
	sock  socket
	State TcprosState

	// TopicIdx binds this slot to a PublisherNode or SubscriberNode by
	// registry index; ServiceIdx does the same for a service exchange.
	// Exactly one of the two is meaningful for a given slot, selected
	// by Role.
	TopicIdx   int
	ServiceIdx int
	Role       tcprosRole

	LocalHeader  *tcprosHeader
	PeerHeader   *tcprosHeader
	headerFrame  []byte // pending outgoing header bytes, nil once flushed
	headerOffset int

	recvBuf []byte

	pendingOut []byte
	outOffset  int

	lastActivity int64 // unix nanos; no code path sets or reads it (publish pacing uses PublisherNode.lastSend)
}

type tcprosRole int

const (
	tcprosRolePublish tcprosRole = iota
	tcprosRoleSubscribe
	tcprosRoleServiceProvide
	tcprosRoleServiceCall
)

func newTcprosProcess() *TcprosProcess {
	return &TcprosProcess{State: TcprosIdle, TopicIdx: -1, ServiceIdx: -1}
}

// reset returns the slot to Idle, closing its socket and releasing its
// buffers, matching the scope-released-on-every-path-out-of-Idle rule.
func (t *TcprosProcess) reset() {
	_ = t.sock.Close()
	t.State = TcprosIdle
	t.TopicIdx = -1
	t.ServiceIdx = -1
	t.LocalHeader = nil
	t.PeerHeader = nil
	t.headerFrame = nil
	t.headerOffset = 0
	t.recvBuf = nil
	t.pendingOut = nil
	t.outOffset = 0
}

// beginWritingHeader queues hdr as the outgoing header frame and moves
// the slot into WritingHeader.
func (t *TcprosProcess) beginWritingHeader(hdr *tcprosHeader) {
	t.LocalHeader = hdr
	t.headerFrame = hdr.encode()
	t.headerOffset = 0
	t.State = TcprosWritingHeader
}

// stepWriteHeader pumps queued header bytes onto the socket.
func (t *TcprosProcess) stepWriteHeader() IOStatus {
	for t.headerOffset < len(t.headerFrame) {
		n, status := t.sock.write(t.headerFrame[t.headerOffset:])
		t.headerOffset += n
		if status != IODone {
			return status
		}
	}
	return IODone
}

// stepReadHeader accumulates bytes until a full header frame is
// present, then decodes it.
func (t *TcprosProcess) stepReadHeader() (IOStatus, error) {
	var tmp [4096]byte
	n, status := t.sock.readInto(tmp[:])
	if n > 0 {
		t.recvBuf = append(t.recvBuf, tmp[:n]...)
	}
	body, consumed, ok, err := tryReadFrame(t.recvBuf)
	if err != nil {
		return IOFailed, err
	}
	if ok {
		hdr, err := decodeTcprosHeader(body)
		if err != nil {
			return IOFailed, err
		}
		t.PeerHeader = hdr
		t.recvBuf = t.recvBuf[consumed:]
		return IODone, nil
	}
	if status == IOFailed || status == IODisconnected {
		return status, nil
	}
	return IOInProgress, nil
}

// queueMessage frames payload and queues it for writing; used by the
// publisher side on each tick its publish period has elapsed.
func (t *TcprosProcess) queueMessage(payload []byte) {
	t.pendingOut = append(t.pendingOut, frameBytes(payload)...)
	t.outOffset = 0
	t.State = TcprosWritingMessage
}

// stepWriteMessage pumps queued message bytes; returns IODone once the
// whole buffer has been flushed.
func (t *TcprosProcess) stepWriteMessage() IOStatus {
	for t.outOffset < len(t.pendingOut) {
		n, status := t.sock.write(t.pendingOut[t.outOffset:])
		t.outOffset += n
		if status != IODone {
			return status
		}
	}
	t.pendingOut = nil
	t.outOffset = 0
	return IODone
}

// stepReadMessage accumulates bytes and, once a full frame is present,
// returns its body (nil, false otherwise).
func (t *TcprosProcess) stepReadMessage() ([]byte, IOStatus, error) {
	var tmp [65536]byte
	n, status := t.sock.readInto(tmp[:])
	if n > 0 {
		t.recvBuf = append(t.recvBuf, tmp[:n]...)
	}
	body, consumed, ok, err := tryReadFrame(t.recvBuf)
	if err != nil {
		return nil, IOFailed, err
	}
	if ok {
		out := append([]byte(nil), body...)
		t.recvBuf = t.recvBuf[consumed:]
		return out, IODone, nil
	}
	if status == IOFailed || status == IODisconnected {
		return nil, status, nil
	}
	return nil, IOInProgress, nil
}
