package ros

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// parseHTTPURIHostPort parses a "http://host:port/" (or "host:port",
// "http://host:port") master/slave URI into its host and port parts,
// per §4.2's first-publisher-URI parsing rule.
func parseHTTPURIHostPort(uri string) (string, int, error) {
	raw := uri
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("%w: missing host in uri %q", ErrProtocol, uri)
	}
	portStr := u.Port()
	if portStr == "" {
		return "", 0, fmt.Errorf("%w: missing port in uri %q", ErrProtocol, uri)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad port in uri %q", ErrProtocol, uri)
	}
	return host, port, nil
}

// resolveHost resolves an IPv4 or IPv6 hostname to its numeric address
// string, so peers are always contacted by address rather than by a
// name that might not be resolvable from inside a container or a
// differently-configured resolver than the one that advertised it.
func resolveHost(host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return "", err
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("%w: no addresses for host %q", ErrTransport, host)
	}
	return ips[0].String(), nil
}

// NameMap is an argv-derived "from:=to" remap table, the same
// convention ROS command-line tools use for __name/__master/__ip and
// arbitrary topic remaps. It has no side effects; applying a remap is a
// pure lookup left to the caller.
type NameMap map[string]string

// ParseRemapArgs splits argv into positional arguments and a NameMap,
// recognizing any "from:=to" token as a remap and leaving everything
// else positional. This mirrors the teacher's own remap convention for
// embedding programs that want ROS-style CLI remapping; the core never
// calls this itself.
func ParseRemapArgs(argv []string) (positional []string, remaps NameMap) {
	remaps = make(NameMap)
	for _, arg := range argv {
		if idx := strings.Index(arg, ":="); idx >= 0 {
			remaps[arg[:idx]] = arg[idx+2:]
			continue
		}
		positional = append(positional, arg)
	}
	return positional, remaps
}

// qualifyName prefixes name with ns unless it is already absolute
// (begins with "/") or private (begins with "~").
func qualifyName(ns, name string) string {
	if name == "" {
		return name
	}
	if name[0] == '/' || name[0] == '~' {
		return name
	}
	if ns == "" || ns == "/" {
		return "/" + name
	}
	return strings.TrimSuffix(ns, "/") + "/" + name
}
