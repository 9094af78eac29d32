package session

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hans009/winfoom/internal/upstream"
)

// startFakeHTTPOriginServer accepts one connection, reads one request head
// (discarding any body per Content-Length), and writes back resp verbatim.
func startFakeHTTPOriginServer(t *testing.T, resp string) net.Listener {
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
		defer conn.Close()

		br := bufio.NewReader(conn)
		var contentLength int
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			if line == "" {
				break
			}
			if name, value, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
				contentLength, _ = strconv.Atoi(strings.TrimSpace(value))
			}
		}
		if contentLength > 0 {
			buf := make([]byte, contentLength)
			_, _ = br.Read(buf)
		}
		conn.Write([]byte(resp))
	}()
	return ln
}

func TestNonConnectProcessorHTTPUpstreamPlainGET(t *testing.T) {
	upstreamLn := startFakeHTTPOriginServer(t, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
	defer upstreamLn.Close()

	host, portStr, _ := net.SplitHostPort(upstreamLn.Addr().String())
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	proc := &NonConnectProcessor{
		HTTPDialConfig: upstream.DialConfig{DialTimeout: 2 * time.Second},
	}

	cc, client := clientPair(t)
	defer client.Close()

	d := upstream.Directive{Kind: upstream.KindHTTP, Host: host, Port: port}
	target := upstream.Target{Host: "example.org", Port: 80, Scheme: "http"}
	head := &RequestHead{
		Method:  "GET",
		Target:  "http://example.org/",
		Version: "HTTP/1.1",
		Headers: []HeaderField{
			{Name: "Host", Value: "example.org"},
			{Name: "Proxy-Connection", Value: "keep-alive"},
		},
	}

	done := make(chan error, 1)
	go func() { done <- proc.Process(context.Background(), cc, head, d, target) }()

	br := bufio.NewReader(client)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "200") {
		t.Fatalf("expected 200 status line, got %q", line)
	}
	// net.Pipe is unbuffered: drain the headers and body Process still has
	// to write.
	go func() { _, _ = io.Copy(io.Discard, br) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Process returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return")
	}
}

func TestOriginFormStripsSchemeAndAuthority(t *testing.T) {
	cases := map[string]string{
		"http://example.org/path?q=1": "/path?q=1",
		"http://example.org":          "/",
		"https://a.b.c/":              "/",
	}
	for in, want := range cases {
		if got := originForm(in); got != want {
			t.Errorf("originForm(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsHopByHop(t *testing.T) {
	for _, name := range []string{"Connection", "keep-alive", "PROXY-AUTHORIZATION", "Transfer-Encoding"} {
		if !isHopByHop(name) {
			t.Errorf("expected %q to be hop-by-hop", name)
		}
	}
	if isHopByHop("Content-Type") {
		t.Error("Content-Type must not be treated as hop-by-hop")
	}
}
