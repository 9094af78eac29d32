package session

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/hans009/winfoom/internal/upstream"
)

// parseTarget extracts the endpoint a client asked this proxy to reach
// from its request head, along with a URL string suitable for
// pac.Evaluator.FindProxyForURL, per spec.md §3's Target and §4.C.
func parseTarget(head *RequestHead) (upstream.Target, string, error) {
	if strings.EqualFold(head.Method, "CONNECT") {
		host, portStr, err := net.SplitHostPort(head.Target)
		if err != nil {
			return upstream.Target{}, "", &ProtocolError{Reason: fmt.Sprintf("malformed CONNECT authority %q", head.Target)}
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return upstream.Target{}, "", &ProtocolError{Reason: fmt.Sprintf("malformed CONNECT port %q", portStr)}
		}
		return upstream.Target{Host: host, Port: port}, "https://" + head.Target, nil
	}

	u, err := url.Parse(head.Target)
	if err != nil || u.Host == "" {
		return upstream.Target{}, "", &ProtocolError{Reason: fmt.Sprintf("malformed absolute-URI request-target %q", head.Target)}
	}

	scheme := u.Scheme
	if scheme == "" {
		scheme = "http"
	}

	host := u.Hostname()
	portStr := u.Port()
	if portStr == "" {
		if scheme == "https" {
			portStr = "443"
		} else {
			portStr = "80"
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return upstream.Target{}, "", &ProtocolError{Reason: fmt.Sprintf("malformed port in %q", head.Target)}
	}

	return upstream.Target{Host: host, Port: port, Scheme: scheme}, head.Target, nil
}
