package upstream

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialConfig configures the low-level TCP dialing behavior shared by all
// directive kinds, grounded on dialer.Config/proxy.Config in the teacher.
type DialConfig struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
}

// dialDirect opens a raw TCP connection to addr, grounded on
// internal/dialer/direct.go's directDialer.Dial.
func dialDirect(ctx context.Context, cfg DialConfig, addr string) (net.Conn, error) {
	dd := net.Dialer{Timeout: cfg.DialTimeout}

	conn, err := dd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(cfg.KeepAlive)
	}

	return conn, nil
}

// SocketDialer opens a raw TCP connection to a Target through a SOCKS4,
// SOCKS5, or DIRECT Directive — spec.md §4.H.
type SocketDialer struct {
	cfg DialConfig
}

// NewSocketDialer constructs a SocketDialer.
func NewSocketDialer(cfg DialConfig) *SocketDialer {
	return &SocketDialer{cfg: cfg}
}

// Credentials carries the optional username/password used for SOCKS5
// username/password sub-negotiation (RFC 1929) and SOCKS4 user-id.
type Credentials struct {
	Username string
	Password string
}

// Dial opens a TCP connection from this machine to target, routed through
// d. A ProxyConnectError wraps any failure to reach the proxy or target,
// so the caller can blacklist d and try the next candidate.
func (s *SocketDialer) Dial(ctx context.Context, d Directive, target Target, creds Credentials) (net.Conn, error) {
	switch d.Kind {
	case KindDirect:
		conn, err := dialDirect(ctx, s.cfg, target.Addr())
		if err != nil {
			return nil, &ProxyConnectError{Directive: d, Err: err}
		}
		return conn, nil
	case KindSOCKS5:
		conn, err := dialSOCKS5(ctx, s.cfg, d.Addr(), target, creds)
		if err != nil {
			return nil, &ProxyConnectError{Directive: d, Err: err}
		}
		return conn, nil
	case KindSOCKS4:
		conn, err := dialSOCKS4(ctx, s.cfg, d.Addr(), target, creds.Username)
		if err != nil {
			return nil, &ProxyConnectError{Directive: d, Err: err}
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("socket dialer: unsupported directive kind %q", d.Kind)
	}
}
