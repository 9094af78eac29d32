package session

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// DuplexGrace bounds how long the reverse-direction copy is given to
// finish after the forward direction completes, per spec.md §4.J step 4.
// The teacher's CopyBidirectional waits on the reverse task with no
// deadline at all, which DESIGN NOTES in spec.md flags as a leak; this is
// the fix.
const DuplexGrace = 5 * time.Second

// halfCloser is implemented by *net.TCPConn (and similar) to close only
// the write half of a connection.
type halfCloser interface {
	CloseWrite() error
}

// DuplexConfig configures per-stream idle read timeouts for a duplex
// session. A non-positive timeout disables the corresponding limit.
type DuplexConfig struct {
	ClientReadTimeout   time.Duration
	UpstreamReadTimeout time.Duration
	BufferSize          int
}

var defaultBufferPool = newBufferPool(32 * 1024)

// Duplex runs spec.md §4.J's Tunnel/DuplexSession between client and
// upstream until both directions terminate, then closes both. Grounded
// on internal/proxy/copy.go's CopyBidirectional (errgroup + close-once),
// generalized with the half-close-then-grace sequencing the spec
// requires instead of the teacher's immediate double-close on
// completion.
func Duplex(client, upstream net.Conn, cfg DuplexConfig) error {
	pool := defaultBufferPool
	if cfg.BufferSize > 0 {
		pool = newBufferPool(cfg.BufferSize)
	}

	clientSide := withIdleTimeout(client, cfg.ClientReadTimeout)
	upstreamSide := withIdleTimeout(upstream, cfg.UpstreamReadTimeout)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	reverseDone := make(chan error, 1)
	go func() {
		reverseDone <- copyDirection(clientSide, upstreamSide, pool) // upstream -> client
	}()

	fwdErr := copyDirection(upstreamSide, clientSide, pool) // client -> upstream

	if fwdErr != nil {
		// Step 5: an I/O error on the forward direction cancels the
		// reverse direction immediately, without grace.
		closeBoth()
		<-reverseDone
		return fwdErr
	}

	// Step 3: half-close upstream's write side to signal EOF to it.
	if hc, ok := upstream.(halfCloser); ok {
		_ = hc.CloseWrite()
	}

	// Step 4: bounded grace for the reverse direction to finish on its own.
	select {
	case revErr := <-reverseDone:
		return revErr
	case <-time.After(DuplexGrace):
		closeBoth()
		<-reverseDone
		return nil
	}
}

// copyDirection copies src->dst and normalizes benign terminations (EOF,
// read-timeout, use of a closed connection) to nil, per spec.md §4.J's
// "a timeout on either side is treated as normal EOF for the terminating
// direction."
func copyDirection(dst io.Writer, src io.Reader, pool *bufferPool) error {
	buf := pool.get()
	defer pool.put(buf)

	_, err := io.CopyBuffer(dst, src, buf)
	if isBenignCopyError(err) {
		return nil
	}
	return err
}

func isBenignCopyError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}

// idleTimeoutConn refreshes a read deadline before every Read, turning a
// configured duration into an idle timeout rather than an absolute one.
type idleTimeoutConn struct {
	net.Conn
	timeout time.Duration
}

func withIdleTimeout(conn net.Conn, timeout time.Duration) net.Conn {
	if timeout <= 0 {
		return conn
	}
	return &idleTimeoutConn{Conn: conn, timeout: timeout}
}

func (c *idleTimeoutConn) Read(b []byte) (int, error) {
	_ = c.SetReadDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(b)
}

// CloseWrite forwards to the underlying connection if it supports
// half-close, so Duplex's type assertion on the wrapped conn still works.
func (c *idleTimeoutConn) CloseWrite() error {
	if hc, ok := c.Conn.(halfCloser); ok {
		return hc.CloseWrite()
	}
	return nil
}
