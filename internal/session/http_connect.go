package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hans009/winfoom/internal/auth"
	"github.com/hans009/winfoom/internal/upstream"
)

// HTTPConnectProcessor implements spec.md §4.G: CONNECT tunneled through
// an HTTP upstream proxy, retrying once on a 407 (twice for NTLM, whose
// type-1/type-3 handshake spans two legs).
type HTTPConnectProcessor struct {
	DialConfig    upstream.DialConfig
	Duplex        DuplexConfig
	Authenticator *auth.Authenticator
}

// Process opens a TCP connection to d's HTTP upstream, issues a CONNECT
// for target, and on success duplexes the client and upstream sockets.
func (p *HTTPConnectProcessor) Process(ctx context.Context, cc *ClientConnection, head *RequestHead, d upstream.Directive, target upstream.Target) error {
	conn, err := dialUpstream(ctx, p.DialConfig, d.Addr())
	if err != nil {
		return &upstream.ProxyConnectError{Directive: d, Err: err}
	}

	resp, err := p.connect(conn, target, "")
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("http-connect: %w", err)
	}

	if resp.StatusCode == http.StatusProxyAuthRequired {
		resp, err = p.retryWithAuth(conn, target, resp, d.Host)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("http-connect: auth retry: %w", err)
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		captured := captureResponse(resp)
		_ = conn.Close()

		if resp.StatusCode == http.StatusProxyAuthRequired {
			cc.MarkCommitted()
			_ = cc.WriteHTTPResponse(captured)
			return &ProxyAuthorizationError{Response: captured}
		}

		cc.MarkCommitted()
		_ = cc.WriteHTTPResponse(captured)
		return &TunnelRefusedError{Response: captured}
	}

	if err := writeConnectSuccess(cc, resp); err != nil {
		_ = conn.Close()
		return err
	}
	cc.MarkCommitted()

	return Duplex(cc.Conn(), conn, p.Duplex)
}

// connect sends one CONNECT request to conn for target, optionally
// carrying a Proxy-Authorization value, and reads back the response.
func (p *HTTPConnectProcessor) connect(conn net.Conn, target upstream.Target, proxyAuth string) (*http.Response, error) {
	if p.DialConfig.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(p.DialConfig.NegotiationTimeout))
		defer conn.SetDeadline(time.Time{})
	}

	addr := target.Addr()
	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", addr)
	fmt.Fprintf(&b, "Host: %s\r\n", addr)
	if proxyAuth != "" {
		fmt.Fprintf(&b, "Proxy-Authorization: %s\r\n", proxyAuth)
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(conn, b.String()); err != nil {
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: "CONNECT"})
	if err != nil {
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	return resp, nil
}

// retryWithAuth performs the scheme-appropriate challenge-response
// handshake on the same TCP connection and retries the CONNECT, per
// spec.md §4.G step 5.
func (p *HTTPConnectProcessor) retryWithAuth(conn net.Conn, target upstream.Target, challenge *http.Response, proxyHost string) (*http.Response, error) {
	if p.Authenticator == nil {
		return challenge, nil
	}

	scheme := p.Authenticator.ChooseScheme(challenge.Header.Values("Proxy-Authenticate"))
	switch scheme {
	case auth.SchemeNegotiate:
		header, err := p.Authenticator.NegotiateKerberos(context.Background(), proxyHost)
		if err != nil {
			return challenge, nil
		}
		return p.connect(conn, target, header)
	case auth.SchemeNTLM:
		return p.retryNTLM(conn, target, challenge)
	case auth.SchemeBasic:
		header := p.Authenticator.BasicHeader()
		if header == "" {
			return challenge, nil
		}
		return p.connect(conn, target, header)
	default:
		return challenge, nil
	}
}

// retryNTLM drives the NTLM type-1/type-3 handshake, which takes two legs
// on the same connection: a bare "NTLM" challenge (no token) gets a type-1
// negotiate message back, and the type-2 challenge that comes back in
// response to that carries the token Type3Message needs to finish.
func (p *HTTPConnectProcessor) retryNTLM(conn net.Conn, target upstream.Target, challenge *http.Response) (*http.Response, error) {
	resp := challenge
	token := ntlmChallengeToken(resp.Header.Values("Proxy-Authenticate"))

	if token == "" {
		header, err := p.Authenticator.NTLMType1Header()
		if err != nil {
			return challenge, nil
		}
		next, err := p.connect(conn, target, header)
		if err != nil {
			return nil, err
		}
		if next.StatusCode != http.StatusProxyAuthRequired {
			return next, nil
		}
		resp = next
		token = ntlmChallengeToken(resp.Header.Values("Proxy-Authenticate"))
		if token == "" {
			return resp, nil
		}
	}

	header, err := p.Authenticator.NTLMType3Header(token)
	if err != nil {
		return resp, nil
	}
	return p.connect(conn, target, header)
}

// ntlmChallengeToken returns the first Proxy-Authenticate value that
// carries an NTLM type-2 token, or "" when the upstream only advertised
// the bare "NTLM" scheme name with no token yet.
func ntlmChallengeToken(values []string) string {
	for _, v := range values {
		fields := strings.Fields(v)
		if len(fields) < 2 || !strings.EqualFold(fields[0], "NTLM") {
			continue
		}
		return v
	}
	return ""
}

// dialUpstream opens a plain TCP connection to addr, shared by the HTTP
// CONNECT processor and the non-CONNECT processor's HTTP-upstream path.
func dialUpstream(ctx context.Context, cfg upstream.DialConfig, addr string) (net.Conn, error) {
	dd := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := dd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(cfg.KeepAlive)
	}
	return conn, nil
}

// writeConnectSuccess forwards the upstream's 2xx CONNECT response status
// line verbatim and its headers to the client, per spec.md §4.G step 4.
// Header names arrive canonicalized by net/http, and headers with
// different names are written in no defined order.
func writeConnectSuccess(cc *ClientConnection, resp *http.Response) error {
	statusLine := resp.Proto + " " + resp.Status
	if err := cc.Write(statusLine); err != nil {
		return err
	}
	for name, values := range resp.Header {
		for _, v := range values {
			if err := cc.WriteHeader(name, v); err != nil {
				return err
			}
		}
	}
	return cc.Writeln()
}

// captureResponse reads a non-2xx response's body (bounded) and converts
// it into an UpstreamResponse for forwarding to the client (TunnelRefused /
// ProxyAuthorizationError semantics). The status line and body are kept
// verbatim; header names are canonicalized by net/http and headers with
// different names are collected in no defined order.
func captureResponse(resp *http.Response) UpstreamResponse {
	const maxCapturedBody = 64 * 1024
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	_ = resp.Body.Close()

	var headers []HeaderField
	for name, values := range resp.Header {
		for _, v := range values {
			headers = append(headers, HeaderField{Name: name, Value: v})
		}
	}

	statusLine := resp.Proto + " " + resp.Status
	return UpstreamResponse{StatusLine: statusLine, Headers: headers, Body: body}
}
