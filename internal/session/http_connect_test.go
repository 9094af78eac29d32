package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hans009/winfoom/internal/auth"
	"github.com/hans009/winfoom/internal/upstream"
)

// startFakeHTTPUpstream accepts a single connection and, on it, reads one
// CONNECT request per entry in responses and writes that entry back
// verbatim — exercising the same-connection multi-leg retries (Kerberos,
// NTLM) the way a real upstream proxy would rather than opening a fresh
// TCP connection per attempt. If the final response is 2xx, the
// connection switches to a byte echo afterward (simulating a tunnel).
func startFakeHTTPUpstream(t *testing.T, responses ...string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		br := bufio.NewReader(conn)

		for _, resp := range responses {
			for {
				line, err := br.ReadString('\n')
				if err != nil {
					conn.Close()
					return
				}
				if line == "\r\n" {
					break
				}
			}
			if _, err := conn.Write([]byte(resp)); err != nil {
				conn.Close()
				return
			}
		}

		last := responses[len(responses)-1]
		if !strings.HasPrefix(last, "HTTP/1.1 2") {
			conn.Close()
			return
		}

		buf := make([]byte, 1024)
		for {
			n, err := br.Read(buf)
			if err != nil {
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	return ln
}

func TestHTTPConnectProcessorSuccess(t *testing.T) {
	upstreamLn := startFakeHTTPUpstream(t, "HTTP/1.1 200 Connection established\r\n\r\n")
	defer upstreamLn.Close()

	host, portStr, _ := net.SplitHostPort(upstreamLn.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	proc := &HTTPConnectProcessor{
		DialConfig: upstream.DialConfig{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second},
	}

	cc, client := clientPair(t)
	defer client.Close()

	d := upstream.Directive{Kind: upstream.KindHTTP, Host: host, Port: port}
	target := upstream.Target{Host: "secure.example", Port: 443}

	done := make(chan error, 1)
	go func() {
		done <- proc.Process(context.Background(), cc, &RequestHead{Method: "CONNECT", Target: "secure.example:443", Version: "HTTP/1.1"}, d, target)
	}()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "200") {
		t.Fatalf("expected 200 status line, got %q", line)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after client close")
	}
}

func TestHTTPConnectProcessorForwardsTunnelRefused(t *testing.T) {
	upstreamLn := startFakeHTTPUpstream(t, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
	defer upstreamLn.Close()

	host, portStr, _ := net.SplitHostPort(upstreamLn.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	proc := &HTTPConnectProcessor{
		DialConfig: upstream.DialConfig{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second},
	}

	cc, client := clientPair(t)
	defer client.Close()

	d := upstream.Directive{Kind: upstream.KindHTTP, Host: host, Port: port}
	target := upstream.Target{Host: "secure.example", Port: 443}

	errCh := make(chan error, 1)
	go func() {
		errCh <- proc.Process(context.Background(), cc, &RequestHead{Method: "CONNECT", Target: "secure.example:443", Version: "HTTP/1.1"}, d, target)
	}()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "403") {
		t.Fatalf("expected 403 forwarded verbatim, got %q", line)
	}
	// net.Pipe is unbuffered: drain the headers Process still has to write.
	go func() { _, _ = io.Copy(io.Discard, br) }()

	processErr := <-errCh
	var tr *TunnelRefusedError
	if !errors.As(processErr, &tr) {
		t.Fatalf("expected TunnelRefusedError, got %v", processErr)
	}
}

func TestHTTPConnectProcessorRetriesOnceWithKerberos(t *testing.T) {
	upstreamLn := startFakeHTTPUpstream(t,
		"HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: Negotiate\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 200 Connection established\r\n\r\n",
	)
	defer upstreamLn.Close()

	host, portStr, _ := net.SplitHostPort(upstreamLn.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	authenticator := auth.NewAuthenticator("", "", fakeKerberosProvider{}, nil)
	proc := &HTTPConnectProcessor{
		DialConfig:    upstream.DialConfig{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second},
		Authenticator: authenticator,
	}

	cc, client := clientPair(t)
	defer client.Close()

	d := upstream.Directive{Kind: upstream.KindHTTP, Host: host, Port: port}
	target := upstream.Target{Host: "secure.example", Port: 443}

	done := make(chan error, 1)
	go func() {
		done <- proc.Process(context.Background(), cc, &RequestHead{Method: "CONNECT", Target: "secure.example:443", Version: "HTTP/1.1"}, d, target)
	}()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "200") {
		t.Fatalf("expected the retried CONNECT to succeed with 200, got %q", line)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after client close")
	}
}

type fakeKerberosProvider struct{}

func (fakeKerberosProvider) Negotiate(ctx context.Context, proxyHost string) (string, error) {
	return "faketoken", nil
}

func TestHTTPConnectProcessorCompletesNTLMHandshake(t *testing.T) {
	upstreamLn := startFakeHTTPUpstream(t,
		"HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: NTLM\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 407 Proxy Authentication Required\r\nProxy-Authenticate: NTLM dHlwZTItdG9rZW4=\r\nContent-Length: 0\r\n\r\n",
		"HTTP/1.1 200 Connection established\r\n\r\n",
	)
	defer upstreamLn.Close()

	host, portStr, _ := net.SplitHostPort(upstreamLn.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	ntlm := &fakeNTLMProvider{}
	authenticator := auth.NewAuthenticator("", "", nil, ntlm)
	proc := &HTTPConnectProcessor{
		DialConfig:    upstream.DialConfig{DialTimeout: 2 * time.Second, NegotiationTimeout: 2 * time.Second},
		Authenticator: authenticator,
	}

	cc, client := clientPair(t)
	defer client.Close()

	d := upstream.Directive{Kind: upstream.KindHTTP, Host: host, Port: port}
	target := upstream.Target{Host: "secure.example", Port: 443}

	done := make(chan error, 1)
	go func() {
		done <- proc.Process(context.Background(), cc, &RequestHead{Method: "CONNECT", Target: "secure.example:443", Version: "HTTP/1.1"}, d, target)
	}()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "200") {
		t.Fatalf("expected the NTLM handshake to finish with 200, got %q", line)
	}

	if !ntlm.type1Called {
		t.Error("expected Type1Message to be called for the bare NTLM challenge")
	}
	if ntlm.type3Challenge != "dHlwZTItdG9rZW4=" {
		t.Errorf("expected Type3Message to receive the type-2 challenge token, got %q", ntlm.type3Challenge)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after client close")
	}
}

type fakeNTLMProvider struct {
	type1Called    bool
	type3Challenge string
}

func (p *fakeNTLMProvider) Type1Message() (string, error) {
	p.type1Called = true
	return "dHlwZTEtbWVzc2FnZQ==", nil
}

func (p *fakeNTLMProvider) Type3Message(challengeB64 string) (string, error) {
	p.type3Challenge = challengeB64
	return "dHlwZTMtbWVzc2FnZQ==", nil
}
