package ros

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/qianqian121/cros/internal/roslog"
)

// NodeConfig configures NewNode. Only CallerID and MasterHost/MasterPort
// are required; every other field falls back to a documented default
// when left zero-valued. No field is ever populated by reading an
// environment variable here — that is left to the embedding program,
// which can pass NodeConfig.Host/MasterHost/MasterPort/CallerID derived
// from ROS_HOSTNAME/ROS_IP/ROS_MASTER_URI itself.
type NodeConfig struct {
	CallerID string

	MasterHost string
	MasterPort int

	// Host is the address advertised to peers and the master for this
	// node's own XML-RPC and TCPROS servers; empty resolves to the
	// outbound-facing local address.
	Host string

	// XMLRPCPort/TCPROSPort bind the node's two listeners; 0 picks an
	// ephemeral port, the common case.
	XMLRPCPort int
	TCPROSPort int

	MaxPublishers       int
	MaxSubscribers      int
	MaxServiceProviders int
	MaxServiceCallers   int
	MaxXMLRPCClients    int
	MaxXMLRPCServers    int
	MaxTCPROSClients    int
	MaxTCPROSServers    int

	// KeepAliveInterval governs the periodic getPid ping of §4.6;
	// zero selects the 5s default and a negative value disables
	// keep-alives.
	KeepAliveInterval time.Duration

	// TickQuantum is the sleep between SpinOnce calls inside Spin;
	// defaults to 100ms. SpinOnce itself never sleeps or blocks.
	TickQuantum time.Duration

	// Logger overrides the default logrus-backed logger.
	Logger Logger
}

func (c NodeConfig) maxPublishersOrDefault() int {
	if c.MaxPublishers > 0 {
		return c.MaxPublishers
	}
	return DefaultMaxPublishers
}

func (c NodeConfig) maxSubscribersOrDefault() int {
	if c.MaxSubscribers > 0 {
		return c.MaxSubscribers
	}
	return DefaultMaxSubscribers
}

func (c NodeConfig) maxServiceProvidersOrDefault() int {
	if c.MaxServiceProviders > 0 {
		return c.MaxServiceProviders
	}
	return DefaultMaxServiceProviders
}

func (c NodeConfig) maxServiceCallersOrDefault() int {
	if c.MaxServiceCallers > 0 {
		return c.MaxServiceCallers
	}
	return DefaultMaxServiceCallers
}

func (c NodeConfig) maxXMLRPCClientsOrDefault() int {
	if c.MaxXMLRPCClients > 0 {
		return c.MaxXMLRPCClients
	}
	return DefaultMaxXMLRPCClients
}

func (c NodeConfig) maxXMLRPCServersOrDefault() int {
	if c.MaxXMLRPCServers > 0 {
		return c.MaxXMLRPCServers
	}
	return DefaultMaxXMLRPCServers
}

func (c NodeConfig) maxTCPROSClientsOrDefault() int {
	if c.MaxTCPROSClients > 0 {
		return c.MaxTCPROSClients
	}
	return DefaultMaxTCPROSClients
}

func (c NodeConfig) maxTCPROSServersOrDefault() int {
	if c.MaxTCPROSServers > 0 {
		return c.MaxTCPROSServers
	}
	return DefaultMaxTCPROSServers
}

func (c NodeConfig) keepAliveIntervalOrDefault() time.Duration {
	if c.KeepAliveInterval != 0 {
		return c.KeepAliveInterval
	}
	return 5 * time.Second
}

func (c NodeConfig) tickQuantumOrDefault() time.Duration {
	if c.TickQuantum > 0 {
		return c.TickQuantum
	}
	return 100 * time.Millisecond
}

// NewNode builds a Node per cfg: it allocates every registry and process
// pool to its configured capacity, opens the node's XML-RPC and TCPROS
// listeners, and leaves it ready for SpinOnce/Spin. Slot 0 of the
// XML-RPC client fleet is permanently reserved for the master.
func NewNode(cfg NodeConfig) (*Node, error) {
	if cfg.CallerID == "" {
		return nil, fmt.Errorf("%w: CallerID is required", ErrProtocol)
	}
	if cfg.MasterHost == "" || cfg.MasterPort == 0 {
		return nil, fmt.Errorf("%w: MasterHost/MasterPort are required", ErrProtocol)
	}

	host := cfg.Host
	if host == "" {
		resolved, err := outboundAddress(cfg.MasterHost, cfg.MasterPort)
		if err != nil {
			return nil, err
		}
		host = resolved
	}

	logger := cfg.Logger
	if logger == nil {
		logger = roslog.New(cfg.CallerID)
	}

	xmlrpcLn, xmlrpcPort, err := listenTCP(host, cfg.XMLRPCPort)
	if err != nil {
		return nil, fmt.Errorf("%w: xmlrpc listen: %v", ErrTransport, err)
	}
	tcprosLn, tcprosPort, err := listenTCP(host, cfg.TCPROSPort)
	if err != nil {
		_ = xmlrpcLn.Close()
		return nil, fmt.Errorf("%w: tcpros listen: %v", ErrTransport, err)
	}

	n := &Node{
		callerID:   cfg.CallerID,
		host:       host,
		xmlrpcPort: xmlrpcPort,
		tcprosPort: tcprosPort,

		masterHost: cfg.MasterHost,
		masterPort: cfg.MasterPort,

		pid: os.Getpid(),

		reg:   newRegistries(cfg),
		queue: newDispatchQueue(cfg.maxXMLRPCClientsOrDefault()),

		xmlrpcListener: xmlrpcLn,
		tcprosListener: tcprosLn,

		logger: logger,

		running:           true,
		keepAliveInterval: cfg.keepAliveIntervalOrDefault(),
		tickQuantum:       cfg.tickQuantumOrDefault(),
	}

	n.xmlrpcClients = make([]*XmlrpcProcess, cfg.maxXMLRPCClientsOrDefault())
	for i := range n.xmlrpcClients {
		n.xmlrpcClients[i] = newXmlrpcClientSlot()
	}
	n.xmlrpcServers = make([]*XmlrpcProcess, cfg.maxXMLRPCServersOrDefault())
	for i := range n.xmlrpcServers {
		n.xmlrpcServers[i] = newXmlrpcServerSlot()
	}
	n.tcprosClients = make([]*TcprosProcess, cfg.maxTCPROSClientsOrDefault())
	for i := range n.tcprosClients {
		n.tcprosClients[i] = newTcprosProcess()
	}
	n.tcprosServers = make([]*TcprosProcess, cfg.maxTCPROSServersOrDefault())
	for i := range n.tcprosServers {
		n.tcprosServers[i] = newTcprosProcess()
	}

	return n, nil
}

// outboundAddress picks the local address that would be used to reach
// masterHost:masterPort, the same trick the teacher's node startup used
// to fill in a ROS_HOSTNAME/ROS_IP-less advertised address. Dialing UDP
// never sends a packet; it only consults the routing table.
func outboundAddress(masterHost string, masterPort int) (string, error) {
	conn, err := net.Dial("udp", fmt.Sprintf("%s:%d", masterHost, masterPort))
	if err != nil {
		return "", fmt.Errorf("%w: could not determine local address: %v", ErrTransport, err)
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("%w: could not determine local address", ErrTransport)
	}
	return addr.IP.String(), nil
}
