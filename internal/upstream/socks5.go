package upstream

import (
	"context"
	"fmt"
	"net"
	"time"

	txsocks5 "github.com/txthinking/socks5"
)

// dialSOCKS5 opens addr (a SOCKS5 upstream) and performs the RFC 1928
// greeting and CONNECT request for target, per spec.md §4.H: methods
// offered are NO_AUTH and, when creds.Username is set, USERNAME/PASSWORD
// (RFC 1929); the target is sent as DOMAINNAME when it is a hostname, so
// DNS resolution happens at the upstream, not here.
//
// Adapted from the teacher's internal/socks5/client.go, which wraps the
// same github.com/txthinking/socks5 protocol primitives used by
// dialer.SOCKS5ProxyDialer (there, only for the no-auth case).
func dialSOCKS5(ctx context.Context, cfg DialConfig, addr string, target Target, creds Credentials) (net.Conn, error) {
	conn, err := dialDirect(ctx, cfg, addr)
	if err != nil {
		return nil, err
	}

	if cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}

	if err := socks5Negotiate(conn, creds); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if err := socks5Connect(conn, target.Addr()); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return conn, nil
}

func socks5Negotiate(conn net.Conn, creds Credentials) error {
	methods := []byte{txsocks5.MethodNone}
	if creds.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 negotiation write: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 negotiation read: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
		if creds.Username == "" {
			return fmt.Errorf("socks5: server requires username/password")
		}
		if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(creds.Username), []byte(creds.Password)).WriteTo(conn); err != nil {
			return fmt.Errorf("socks5 userpass write: %w", err)
		}
		rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
		if err != nil {
			return fmt.Errorf("socks5 userpass read: %w", err)
		}
		if rep.Status != txsocks5.UserPassStatusSuccess {
			return fmt.Errorf("socks5: username/password authentication failed")
		}
		return nil
	default:
		return fmt.Errorf("socks5: unsupported negotiation method %d", neg.Method)
	}
}

func socks5Connect(conn net.Conn, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5: parse target address: %w", err)
	}
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:] // ParseAddress prefixes domain names with their length byte.
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 connect write: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 connect read: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return fmt.Errorf("socks5 connect to %s: server reply code %d", address, rep.Rep)
	}
	return nil
}
