package upstream

import "fmt"

// ProxyConnectError indicates that opening a TCP connection to a
// directive's upstream (or, for DIRECT, to the target) failed, timed out,
// or was refused — spec.md §7's ProxyConnectException. The router
// blacklists Directive and tries the next candidate.
type ProxyConnectError struct {
	Directive Directive
	Err       error
}

func (e *ProxyConnectError) Error() string {
	return fmt.Sprintf("connect to %s %s: %v", e.Directive.Kind, e.Directive.Addr(), e.Err)
}

func (e *ProxyConnectError) Unwrap() error { return e.Err }
