package ros

import "github.com/qianqian121/cros/internal/xmlrpc"

// Method names. The master API is served by roscore; the slave API is
// served by this node's own XML-RPC server for peers and the master to
// call into.
const (
	methodRegisterPublisher   = "registerPublisher"
	methodUnregisterPublisher = "unregisterPublisher"
	methodRegisterSubscriber  = "registerSubscriber"
	methodUnregisterSub       = "unregisterSubscriber"
	methodRegisterService     = "registerService"
	methodUnregisterService   = "unregisterService"
	methodLookupService       = "lookupService"
	methodLookupNode          = "lookupNode"
	methodGetPublishedTopics  = "getPublishedTopics"
	methodGetTopicTypes       = "getTopicTypes"
	methodGetSystemState      = "getSystemState"
	methodGetURI              = "getUri"
	methodGetPid              = "getPid"
	methodGetParam            = "getParam"
	methodSetParam            = "setParam"
	methodHasParam            = "hasParam"
	methodDeleteParam         = "deleteParam"
	methodSearchParam         = "searchParam"
	methodSubscribeParam      = "subscribeParam"
	methodUnsubscribeParam    = "unsubscribeParam"
	methodGetParamNames       = "getParamNames"

	methodPublisherUpdate  = "publisherUpdate"
	methodRequestTopic     = "requestTopic"
	methodParamUpdate      = "paramUpdate"
	methodGetBusStats      = "getBusStats"
	methodGetBusInfo       = "getBusInfo"
	methodGetMasterURI     = "getMasterUri"
	methodShutdown         = "shutdown"
	methodGetSubscriptions = "getSubscriptions"
	methodGetPublications  = "getPublications"
)

// masterAPIMethods are the methods this node issues to the master (or,
// for requestTopic, to a peer node on a peer XML-RPC client slot).
var masterAPIMethods = map[string]bool{
	methodRegisterPublisher:   true,
	methodUnregisterPublisher: true,
	methodRegisterSubscriber:  true,
	methodUnregisterSub:       true,
	methodRegisterService:     true,
	methodUnregisterService:   true,
	methodLookupService:       true,
	methodLookupNode:          true,
	methodGetPublishedTopics:  true,
	methodGetTopicTypes:       true,
	methodGetSystemState:      true,
	methodGetURI:              true,
	methodGetPid:              true,
	methodGetParam:            true,
	methodSetParam:            true,
	methodHasParam:            true,
	methodDeleteParam:         true,
	methodSearchParam:         true,
	methodSubscribeParam:      true,
	methodUnsubscribeParam:    true,
	methodGetParamNames:       true,
	methodRequestTopic:        true,
}

// slaveAPIMethods are the methods this node serves on its own XML-RPC
// server, callable by peers and by the master.
var slaveAPIMethods = map[string]bool{
	methodGetPid:            true,
	methodPublisherUpdate:   true,
	methodRequestTopic:      true,
	methodParamUpdate:       true,
	methodGetBusStats:       true,
	methodGetBusInfo:        true,
	methodGetMasterURI:      true,
	methodShutdown:          true,
	methodGetSubscriptions: true,
	methodGetPublications:   true,
}

// ApiCallResult is handed to a call's completion callback once its
// exchange finishes, successfully or not.
type ApiCallResult struct {
	Method   string
	Response xmlrpc.Response
	Err      error
}

// ApiCallback is the application or internal completion handler for a
// RosApiCall. It runs on the driver thread and must not block.
type ApiCallback func(res *ApiCallResult, ctx interface{})

// RosApiCall is a pending request bound either to the master slot (the
// common case, via the dispatch queue) or to a specific peer slot
// (providerIdx/targetPort set).
type RosApiCall struct {
	Method string
	Params []xmlrpc.Value

	Callback ApiCallback
	Ctx      interface{}

	// ProviderIdx ties this call back to the subscriber/publisher/
	// service record it was issued on behalf of, or -1 for node-global
	// calls (e.g. getPid, setParam).
	ProviderIdx int

	// TargetHost/TargetPort override the master address when the call
	// must go to a specific peer (requestTopic).
	TargetHost string
	TargetPort int
}

func (c *RosApiCall) targetsPeer() bool {
	return c.TargetHost != "" || c.TargetPort != 0
}

// dispatchQueue is the single FIFO of calls bound for the master slot.
type dispatchQueue struct {
	calls    []*RosApiCall
	capacity int
}

func newDispatchQueue(capacity int) *dispatchQueue {
	return &dispatchQueue{capacity: capacity}
}

// enqueue appends a call, failing synchronously once the queue is at
// its declared capacity.
func (q *dispatchQueue) enqueue(c *RosApiCall) error {
	if len(q.calls) >= q.capacity {
		return ErrCapacityExceeded
	}
	q.calls = append(q.calls, c)
	return nil
}

func (q *dispatchQueue) empty() bool { return len(q.calls) == 0 }

// hasPending reports whether a call for method/ctx is already waiting
// in the queue, used by restartAdvertising to avoid enqueuing a
// duplicate register* call for the same publisher/subscriber/service.
func (q *dispatchQueue) hasPending(method string, ctx interface{}) bool {
	for _, c := range q.calls {
		if c.Method == method && c.Ctx == ctx {
			return true
		}
	}
	return false
}

func (q *dispatchQueue) len() int { return len(q.calls) }

// dequeue removes and returns the head call.
func (q *dispatchQueue) dequeue() *RosApiCall {
	if len(q.calls) == 0 {
		return nil
	}
	c := q.calls[0]
	q.calls = q.calls[1:]
	return c
}

// cancelAll invokes every pending call's callback with ErrCancelled and
// empties the queue; used on shutdown.
func (q *dispatchQueue) cancelAll() {
	for _, c := range q.calls {
		if c.Callback != nil {
			c.Callback(&ApiCallResult{Method: c.Method, Err: ErrCancelled}, c.Ctx)
		}
	}
	q.calls = nil
}
