package session

import (
	"context"
	"errors"
	"log"
	"net"
	"strings"

	"github.com/hans009/winfoom/internal/upstream"
)

// Processor handles one connection once a candidate upstream directive has
// been chosen, per spec.md §4.F's selection table.
type Processor interface {
	Process(ctx context.Context, cc *ClientConnection, head *RequestHead, d upstream.Directive, target upstream.Target) error
}

// Router dispatches each request to the processor named by spec.md §4.F's
// selection table, retrying across candidate directives on
// upstream.ProxyConnectError and blacklisting the failed ones.
type Router struct {
	Selector  *upstream.Selector
	Blacklist *upstream.Blacklist

	HTTPConnect   Processor // CONNECT through an HTTP upstream
	SocketConnect Processor // CONNECT through SOCKS4/SOCKS5/DIRECT
	NonConnect    Processor // any other method, any upstream kind
}

// Route parses and processes exactly one request on cc, trying candidate
// directives in order until one succeeds or all are exhausted.
func (r *Router) Route(ctx context.Context, cc *ClientConnection) error {
	head, err := cc.ReadRequestHead()
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			_ = cc.WriteErrorResponse(400, pe.Error())
		}
		return err
	}

	target, targetURL, err := parseTarget(head)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			_ = cc.WriteErrorResponse(400, pe.Error())
		}
		return err
	}

	directives, err := r.Selector.Select(ctx, targetURL, target.Host)
	if err != nil {
		_ = cc.WriteErrorResponse(500, "upstream selection failed: "+err.Error())
		return err
	}

	isConnect := strings.EqualFold(head.Method, "CONNECT")

	var lastErr error
	for _, d := range directives {
		proc := r.processorFor(isConnect, d.Kind)
		lastErr = proc.Process(ctx, cc, head, d, target)
		if lastErr == nil {
			return nil
		}

		var connErr *upstream.ProxyConnectError
		if errors.As(lastErr, &connErr) {
			r.Blacklist.MarkBad(connErr.Directive)
			log.Printf("session: %s unreachable, blacklisting and trying next candidate: %v", connErr.Directive.Addr(), connErr.Err)
			continue
		}

		// Any other error: the processor has either already committed a
		// response (ProxyAuthorizationError, TunnelRefusedError) or the
		// connection is now unusable. Either way, stop trying directives.
		break
	}

	if lastErr == nil {
		lastErr = errNoDirectives
	}
	if !cc.Committed() {
		if isConnectTimeout(lastErr) {
			_ = cc.WriteErrorResponse(504, "upstream connect timeout: "+lastErr.Error())
		} else {
			_ = cc.WriteErrorResponse(502, "no reachable upstream: "+lastErr.Error())
		}
	}
	return lastErr
}

var errNoDirectives = errors.New("no candidate upstream directives")

// isConnectTimeout reports whether err is a ProxyConnectError whose
// underlying cause is a dial timeout (either a context deadline or a
// net.Error reporting Timeout()), per spec.md §6's separate "504 upstream
// connect timeout" status from the generic "502 no reachable upstream".
func isConnectTimeout(err error) bool {
	var connErr *upstream.ProxyConnectError
	if !errors.As(err, &connErr) {
		return false
	}
	if errors.Is(connErr.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(connErr.Err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func (r *Router) processorFor(isConnect bool, kind upstream.Kind) Processor {
	if isConnect {
		if kind == upstream.KindHTTP {
			return r.HTTPConnect
		}
		return r.SocketConnect
	}
	return r.NonConnect
}

// challengeValues extracts every Proxy-Authenticate header value from a
// captured upstream response, for auth.Authenticator.ChooseScheme.
func challengeValues(headers []HeaderField) []string {
	var out []string
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Proxy-Authenticate") {
			out = append(out, h.Value)
		}
	}
	return out
}
