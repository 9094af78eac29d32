package session

import (
	"context"

	"github.com/hans009/winfoom/internal/upstream"
)

// SocketConnectProcessor implements spec.md §4.H: CONNECT handled by
// opening a socket ourselves (SOCKS4, SOCKS5, or DIRECT) rather than
// delegating the tunnel setup to an HTTP upstream.
type SocketConnectProcessor struct {
	Dialer      *upstream.SocketDialer
	Credentials upstream.Credentials
	Duplex      DuplexConfig
}

// Process dials target through d and, on success, writes the synthetic
// "200 Connection established" response and duplexes client and upstream.
func (p *SocketConnectProcessor) Process(ctx context.Context, cc *ClientConnection, head *RequestHead, d upstream.Directive, target upstream.Target) error {
	conn, err := p.Dialer.Dial(ctx, d, target, p.Credentials)
	if err != nil {
		return err // already a *upstream.ProxyConnectError
	}

	if err := cc.Write("HTTP/1.1 200 Connection established"); err != nil {
		_ = conn.Close()
		return err
	}
	if err := cc.Writeln(); err != nil {
		_ = conn.Close()
		return err
	}
	cc.MarkCommitted()

	return Duplex(cc.Conn(), conn, p.Duplex)
}
