package session

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func TestListenerDispatchesToHandler(t *testing.T) {
	received := make(chan string, 1)
	ln, err := Listen("127.0.0.1:0", net.KeepAliveConfig{}, 4, func(ctx context.Context, conn net.Conn) {
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		received <- line
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go ln.Serve(ctx)
	defer cancel()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}

	select {
	case line := <-received:
		if line != "hello\n" {
			t.Fatalf("got %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", net.KeepAliveConfig{}, 4, func(ctx context.Context, conn net.Conn) { conn.Close() })
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- ln.Serve(ctx) }()

	cancel()

	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if _, err := net.Dial("tcp", ln.Addr().String()); err == nil {
		t.Fatal("expected listener to be closed")
	}
}

func TestListenerBackpressureBlocksAcceptWhenSaturated(t *testing.T) {
	release := make(chan struct{})
	ln, err := Listen("127.0.0.1:0", net.KeepAliveConfig{}, 1, func(ctx context.Context, conn net.Conn) {
		defer conn.Close()
		// A handler that runs writes one byte, so a read on the second
		// connection only times out if its handler never started.
		_, _ = conn.Write([]byte{'x'})
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	first, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer first.Close()

	time.Sleep(50 * time.Millisecond)

	second, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = second.Read(buf)
	if err == nil {
		t.Fatal("expected the second connection's handler to be blocked by backpressure")
	}
}
