// Package config holds the immutable per-session configuration snapshot
// and the operations used to build and mutate it before a session starts.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Kind identifies which upstream proxy mechanism a session should use.
type Kind string

const (
	KindHTTP   Kind = "HTTP"
	KindSOCKS4 Kind = "SOCKS4"
	KindSOCKS5 Kind = "SOCKS5"
	KindPAC    Kind = "PAC"
	KindDirect Kind = "DIRECT"
)

// ParseKind validates a proxy.type value from the config file.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindHTTP, KindSOCKS4, KindSOCKS5, KindPAC, KindDirect:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown proxy.type %q", s)
	}
}

// Endpoint is a host+port pair for an upstream proxy.
type Endpoint struct {
	Host string
	Port int
}

// Addr returns the "host:port" form, or "" if the endpoint is unset.
func (e Endpoint) Addr() string {
	if e.Host == "" {
		return ""
	}
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) empty() bool { return e.Host == "" }

// Config is the immutable snapshot threaded through a session. It is built
// once (from defaults, a properties file, and/or OS autodetection) and is
// never mutated for the lifetime of a session; session.New takes a copy.
//
// The per-kind Set methods exist so that configuring one upstream kind can
// never clobber another's host/port — see DESIGN.md for why this is
// explicit rather than a single shared host/port pair.
type Config struct {
	LocalPort int

	ProxyType Kind

	HTTPProxy   Endpoint
	SOCKS4Proxy Endpoint
	SOCKS5Proxy Endpoint

	PacFileLocation string

	Username      string
	Password      string
	StorePassword bool
	Kerberos      bool

	TestURL string

	BlacklistTimeout time.Duration

	Autostart  bool
	Autodetect bool
}

// Default returns a Config populated with winfoom's documented defaults.
func Default() *Config {
	return &Config{
		LocalPort:        3129,
		ProxyType:        KindDirect,
		BlacklistTimeout: 30 * time.Minute,
	}
}

// SetHTTPProxy sets the HTTP upstream endpoint. It never touches the
// SOCKS4/SOCKS5 endpoints, unlike the fallthrough-afflicted setter this is
// modeled to replace (see DESIGN NOTES in spec.md).
func (c *Config) SetHTTPProxy(host string, port int) { c.HTTPProxy = Endpoint{Host: host, Port: port} }

// SetSOCKS4Proxy sets the SOCKS4 upstream endpoint.
func (c *Config) SetSOCKS4Proxy(host string, port int) { c.SOCKS4Proxy = Endpoint{Host: host, Port: port} }

// SetSOCKS5Proxy sets the SOCKS5 upstream endpoint.
func (c *Config) SetSOCKS5Proxy(host string, port int) { c.SOCKS5Proxy = Endpoint{Host: host, Port: port} }

// EndpointFor returns the configured endpoint for kind, or the zero
// Endpoint for DIRECT/PAC which carry no fixed endpoint.
func (c *Config) EndpointFor(kind Kind) Endpoint {
	switch kind {
	case KindHTTP:
		return c.HTTPProxy
	case KindSOCKS4:
		return c.SOCKS4Proxy
	case KindSOCKS5:
		return c.SOCKS5Proxy
	default:
		return Endpoint{}
	}
}

// Validate checks that the configuration is internally consistent enough
// to start a session.
func (c *Config) Validate() error {
	if c.LocalPort <= 0 || c.LocalPort > 65535 {
		return fmt.Errorf("invalid local.port %d", c.LocalPort)
	}
	switch c.ProxyType {
	case KindHTTP:
		if c.HTTPProxy.empty() {
			return fmt.Errorf("proxy.type=HTTP requires proxy.http.host/.port")
		}
	case KindSOCKS4:
		if c.SOCKS4Proxy.empty() {
			return fmt.Errorf("proxy.type=SOCKS4 requires proxy.socks4.host/.port")
		}
	case KindSOCKS5:
		if c.SOCKS5Proxy.empty() {
			return fmt.Errorf("proxy.type=SOCKS5 requires proxy.socks5.host/.port")
		}
	case KindPAC:
		if c.PacFileLocation == "" {
			return fmt.Errorf("proxy.type=PAC requires proxy.pac.fileLocation")
		}
	case KindDirect:
	default:
		return fmt.Errorf("unknown proxy.type %q", c.ProxyType)
	}
	return nil
}

// Clone returns a deep-enough copy suitable as a session's frozen snapshot.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
