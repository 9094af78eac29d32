package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/hans009/winfoom/internal/auth"
	"github.com/hans009/winfoom/internal/upstream"
)

// hopByHopHeaders lists the headers spec.md §4.I says must never be
// forwarded to the upstream.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade", "Proxy-Connection",
}

// NonConnectProcessor implements spec.md §4.I: every non-CONNECT method,
// forwarded either as an absolute-URI request through an HTTP upstream or
// as an origin-form request over a socket we open ourselves.
type NonConnectProcessor struct {
	SocketDialer *upstream.SocketDialer
	Credentials  upstream.Credentials

	HTTPDialConfig upstream.DialConfig
	Authenticator  *auth.Authenticator
}

// Process rewrites head for the chosen directive, streams the request
// body through, then streams the upstream's response back to the client.
func (p *NonConnectProcessor) Process(ctx context.Context, cc *ClientConnection, head *RequestHead, d upstream.Directive, target upstream.Target) error {
	var conn net.Conn
	var err error

	if d.Kind == upstream.KindHTTP {
		conn, err = dialUpstream(ctx, p.HTTPDialConfig, d.Addr())
	} else {
		conn, err = p.SocketDialer.Dial(ctx, d, target, p.Credentials)
	}
	if err != nil {
		if _, ok := err.(*upstream.ProxyConnectError); ok {
			return err
		}
		return &upstream.ProxyConnectError{Directive: d, Err: err}
	}
	defer conn.Close()

	body, err := requestBodyReader(cc.InputStream(), head)
	if err != nil {
		return err
	}

	proxyAuth := ""
	for attempt := 0; attempt < 2; attempt++ {
		if err := p.sendRequest(conn, head, d, target, body, proxyAuth); err != nil {
			return fmt.Errorf("non-connect: write request: %w", err)
		}

		br := bufio.NewReader(conn)
		statusLine, respHeaders, err := readResponseHead(br)
		if err != nil {
			return fmt.Errorf("non-connect: read response: %w", err)
		}

		if attempt == 0 && d.Kind == upstream.KindHTTP && isStatus(statusLine, 407) && p.Authenticator != nil {
			discardResponseBody(br, respHeaders)
			scheme := p.Authenticator.ChooseScheme(headerValues(respHeaders, "Proxy-Authenticate"))
			if scheme == auth.SchemeBasic {
				proxyAuth = p.Authenticator.BasicHeader()
				body = nil // already consumed on the first attempt
				continue
			}
		}

		return forwardResponse(cc, statusLine, respHeaders, br)
	}

	return nil
}

// sendRequest writes one HTTP/1.1 request line, rewritten headers, and
// body to conn.
func (p *NonConnectProcessor) sendRequest(conn io.Writer, head *RequestHead, d upstream.Directive, target upstream.Target, body io.Reader, proxyAuth string) error {
	requestTarget := head.Target
	if d.Kind != upstream.KindHTTP {
		requestTarget = originForm(head.Target)
	}

	contentLength, chunked := requestBodyFraming(head)

	headers := make([]HeaderField, 0, len(head.Headers)+2)
	for _, h := range head.Headers {
		if isHopByHop(h.Name) {
			continue
		}
		headers = append(headers, h)
	}
	headers = append(headers, HeaderField{Name: "Host", Value: target.Addr()})
	headers = append(headers, HeaderField{Name: "Connection", Value: "close"})
	if proxyAuth != "" {
		headers = append(headers, HeaderField{Name: "Proxy-Authorization", Value: proxyAuth})
	}
	switch {
	case chunked:
		headers = append(headers, HeaderField{Name: "Transfer-Encoding", Value: "chunked"})
	case contentLength >= 0:
		headers = append(headers, HeaderField{Name: "Content-Length", Value: strconv.FormatInt(contentLength, 10)})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", head.Method, requestTarget)
	for _, h := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	if _, err := io.WriteString(conn, b.String()); err != nil {
		return err
	}

	if body == nil {
		return nil
	}
	if chunked {
		cw := httputil.NewChunkedWriter(conn)
		if _, err := io.Copy(cw, body); err != nil {
			return err
		}
		return cw.Close()
	}
	_, err := io.Copy(conn, body)
	return err
}

// requestBodyFraming reports the outgoing body's framing, preferring
// chunked when the client declared it.
func requestBodyFraming(head *RequestHead) (contentLength int64, chunked bool) {
	if isChunked(head.Headers) {
		return -1, true
	}
	if cl, ok := head.Get("Content-Length"); ok {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return n, false
		}
	}
	return -1, false
}

// requestBodyReader returns a reader over the client's request body,
// decoding chunked framing if present, or nil if there is no body.
func requestBodyReader(raw io.Reader, head *RequestHead) (io.Reader, error) {
	if isChunked(head.Headers) {
		return httputil.NewChunkedReader(raw), nil
	}
	cl, ok := head.Get("Content-Length")
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || n <= 0 {
		return nil, nil
	}
	return io.LimitReader(raw, n), nil
}

func isChunked(headers []HeaderField) bool {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Transfer-Encoding") && strings.Contains(strings.ToLower(h.Value), "chunked") {
			return true
		}
	}
	return false
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// originForm strips scheme and authority from an absolute-URI
// request-target, leaving the origin-form path+query a directly-opened
// socket expects, per spec.md §4.I.
func originForm(absoluteURI string) string {
	idx := strings.Index(absoluteURI, "://")
	if idx < 0 {
		return absoluteURI
	}
	rest := absoluteURI[idx+3:]
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return "/"
	}
	return rest[slash:]
}

// readResponseHead reads a status line and headers from br.
func readResponseHead(br *bufio.Reader) (string, []HeaderField, error) {
	statusLine, err := readCRLFLine(br)
	if err != nil {
		return "", nil, err
	}

	var headers []HeaderField
	for {
		line, err := readCRLFLine(br)
		if err != nil {
			return "", nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", nil, &ProtocolError{Reason: fmt.Sprintf("malformed response header %q", line)}
		}
		headers = append(headers, HeaderField{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return statusLine, headers, nil
}

func readCRLFLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func isStatus(statusLine string, code int) bool {
	return strings.Contains(statusLine, " "+strconv.Itoa(code)+" ") || strings.HasSuffix(statusLine, " "+strconv.Itoa(code))
}

func headerValues(headers []HeaderField, name string) []string {
	var out []string
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// discardResponseBody drains a response body we are not forwarding (the
// 407 challenge on the first attempt), so the connection would be safe to
// reuse if it were kept open.
func discardResponseBody(br *bufio.Reader, headers []HeaderField) {
	if isChunked(headers) {
		_, _ = io.Copy(io.Discard, httputil.NewChunkedReader(br))
		return
	}
	if cl, ok := headerGet(headers, "Content-Length"); ok {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
			_, _ = io.CopyN(io.Discard, br, n)
		}
	}
}

func headerGet(headers []HeaderField, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// forwardResponse writes the upstream's status line and headers to the
// client verbatim, then streams its body, per spec.md §4.I and the
// "relays ... response bytes back verbatim" scenario in §8.
func forwardResponse(cc *ClientConnection, statusLine string, headers []HeaderField, br *bufio.Reader) error {
	if err := cc.Write(statusLine); err != nil {
		return err
	}
	for _, h := range headers {
		if err := cc.WriteHeader(h.Name, h.Value); err != nil {
			return err
		}
	}
	if err := cc.Writeln(); err != nil {
		return err
	}
	cc.MarkCommitted()

	switch {
	case isChunked(headers):
		cw := httputil.NewChunkedWriter(cc.OutputStream())
		if _, err := io.Copy(cw, httputil.NewChunkedReader(br)); err != nil {
			return err
		}
		return cw.Close()
	default:
		if cl, ok := headerGet(headers, "Content-Length"); ok {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil && n > 0 {
				_, err := io.CopyN(cc.OutputStream(), br, n)
				return err
			}
			return nil
		}
		_, err := io.Copy(cc.OutputStream(), br)
		return err
	}
}
