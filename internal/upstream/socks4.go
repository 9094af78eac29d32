package upstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// socks4Granted is the SOCKS4 "request granted" reply code.
const socks4Granted = 0x5a

// dialSOCKS4 opens addr (a SOCKS4 upstream) and performs the legacy SOCKS4
// CONNECT handshake for target, per spec.md §4.H.
//
// No library in the retrieval pack implements a SOCKS4/SOCKS4A client
// (github.com/txthinking/socks5 is SOCKS5-only); this is a direct,
// from-the-RFC implementation — see DESIGN.md.
//
// If target.Host is a hostname rather than an IP literal, the SOCKS4A
// extension is used: the DSTIP field is set to the reserved 0.0.0.x
// placeholder and the hostname is appended after the (null-terminated)
// user id, leaving name resolution to the upstream. An IPv6 literal is
// rejected with an error.
func dialSOCKS4(ctx context.Context, cfg DialConfig, addr string, target Target, userID string) (net.Conn, error) {
	conn, err := dialDirect(ctx, cfg, addr)
	if err != nil {
		return nil, err
	}

	if cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.NegotiationTimeout))
	}

	if err := socks4Connect(conn, target, userID); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}

	return conn, nil
}

func socks4Connect(conn net.Conn, target Target, userID string) error {
	var req bytes.Buffer
	req.WriteByte(0x04) // VN
	req.WriteByte(0x01) // CD: CONNECT

	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(target.Port))
	req.Write(portBuf)

	socks4a := false
	if ip := net.ParseIP(target.Host); ip != nil {
		ip4 := ip.To4()
		if ip4 == nil {
			return fmt.Errorf("socks4: target %s is not an IPv4 address", target.Host)
		}
		req.Write(ip4)
	} else {
		socks4a = true
		req.Write([]byte{0x00, 0x00, 0x00, 0x01}) // SOCKS4A: invalid IP signals a following DOMAIN field.
	}

	req.WriteString(userID)
	req.WriteByte(0x00)

	if socks4a {
		req.WriteString(target.Host)
		req.WriteByte(0x00)
	}

	if _, err := conn.Write(req.Bytes()); err != nil {
		return fmt.Errorf("socks4 connect write: %w", err)
	}

	resp := make([]byte, 8)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return fmt.Errorf("socks4 connect read: %w", err)
	}
	if resp[0] != 0x00 {
		return fmt.Errorf("socks4: malformed reply version byte %d", resp[0])
	}
	if resp[1] != socks4Granted {
		return fmt.Errorf("socks4 connect to %s: rejected (code %d)", target.Addr(), resp[1])
	}
	return nil
}
