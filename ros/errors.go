package ros

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller can match with errors.Is. They correspond to
// the error-kind taxonomy of the runtime: Capacity and Fatal reach the
// application synchronously; Transport and Protocol are delivered
// through a call's completion callback instead.
var (
	// ErrCapacityExceeded is returned synchronously from a register or
	// enqueue operation when the relevant registry or the dispatch
	// queue is already full.
	ErrCapacityExceeded = errors.New("ros: capacity exceeded")

	// ErrUnknownTopic is returned when an operation names a topic that
	// has no matching publisher or subscriber record.
	ErrUnknownTopic = errors.New("ros: unknown topic")

	// ErrUnknownService is returned when an operation names a service
	// that has no matching provider or caller record.
	ErrUnknownService = errors.New("ros: unknown service")
)

// ErrTransport wraps a call-completion failure caused by a socket open,
// connect, read, or write failure, or an unexpected peer disconnect.
var ErrTransport = errors.New("ros: transport failure")

// ErrProtocol wraps a call-completion failure caused by malformed
// XML-RPC, a missing TCPROS header field, or an MD5/type mismatch.
var ErrProtocol = errors.New("ros: protocol failure")

// ErrCancelled is delivered to pending calls when the node shuts down
// before their exchange completed.
var ErrCancelled = errors.New("ros: call cancelled by shutdown")

// ErrNotRunning is returned by operations attempted after Shutdown.
var ErrNotRunning = errors.New("ros: node is not running")

// errProtocolf wraps ErrProtocol with a peer-supplied reason string,
// e.g. the "error" field of a rejected TCPROS header.
func errProtocolf(reason string) error {
	return fmt.Errorf("%w: %s", ErrProtocol, reason)
}
