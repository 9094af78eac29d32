// Package session binds one running proxy instance together: the
// listener, request parsing, upstream selection, and the per-method
// processors that open tunnels or stream non-CONNECT exchanges.
package session

import (
	"context"
	"log"
	"net"
	"strconv"

	"github.com/hans009/winfoom/internal/auth"
	"github.com/hans009/winfoom/internal/config"
	"github.com/hans009/winfoom/internal/osproxy"
	"github.com/hans009/winfoom/internal/pac"
	"github.com/hans009/winfoom/internal/upstream"
)

// Options configures a Session beyond what Config itself carries:
// external collaborators (PAC evaluator, OS proxy detector, Kerberos/NTLM
// providers) that spec.md §1 treats as plugged-in, plus the handful of
// timeouts Config does not name.
type Options struct {
	PacEvaluator     pac.Evaluator
	OSProxyDetector  osproxy.Detector
	KerberosProvider auth.KerberosProvider
	NTLMProvider     auth.NTLMProvider

	DialConfig     upstream.DialConfig
	DuplexConfig   DuplexConfig
	MaxConnections int
}

// Session is the running instance of spec.md §9's "single Session value
// explicitly threaded through components" — no process-wide singletons.
// It owns a frozen Config snapshot, the listener, and the shared
// Blacklist/Authenticator state for its lifetime.
type Session struct {
	cfg  *config.Config
	opts Options

	listener      *Listener
	blacklist     *upstream.Blacklist
	authenticator *auth.Authenticator
	router        *Router

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Session from a frozen Config snapshot and Options. It does
// not bind the listen socket; call Start for that.
func New(cfg *config.Config, opts Options) *Session {
	snapshot := cfg.Clone()

	if opts.OSProxyDetector != nil && snapshot.Autodetect {
		if settings, err := opts.OSProxyDetector.Detect(); err == nil {
			osproxy.Apply(snapshot, settings)
		} else {
			log.Printf("session: autodetect failed, keeping configured proxy.type: %v", err)
		}
	}

	blacklist := upstream.NewBlacklist(snapshot.BlacklistTimeout)
	authenticator := auth.NewAuthenticator(snapshot.Username, snapshot.Password, opts.KerberosProvider, opts.NTLMProvider)

	selector := upstream.NewSelector(snapshot, opts.PacEvaluator, blacklist)
	socketDialer := upstream.NewSocketDialer(opts.DialConfig)
	creds := upstream.Credentials{Username: snapshot.Username, Password: snapshot.Password}

	router := &Router{
		Selector:  selector,
		Blacklist: blacklist,
		HTTPConnect: &HTTPConnectProcessor{
			DialConfig:    opts.DialConfig,
			Duplex:        opts.DuplexConfig,
			Authenticator: authenticator,
		},
		SocketConnect: &SocketConnectProcessor{
			Dialer:      socketDialer,
			Credentials: creds,
			Duplex:      opts.DuplexConfig,
		},
		NonConnect: &NonConnectProcessor{
			SocketDialer:   socketDialer,
			Credentials:    creds,
			HTTPDialConfig: opts.DialConfig,
			Authenticator:  authenticator,
		},
	}

	return &Session{
		cfg:           snapshot,
		opts:          opts,
		blacklist:     blacklist,
		authenticator: authenticator,
		router:        router,
	}
}

// Config returns the frozen snapshot this session is running with.
func (s *Session) Config() *config.Config { return s.cfg }

// Start binds the listen socket on 127.0.0.1:cfg.LocalPort and begins
// accepting connections, per spec.md §4.A. It returns once the listener
// is bound; Serve runs in the background until Stop is called.
func (s *Session) Start(ctx context.Context) error {
	ln, err := Listen(
		net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.LocalPort)),
		s.opts.DialConfig.KeepAlive,
		s.opts.MaxConnections,
		s.handle,
	)
	if err != nil {
		return err
	}
	s.listener = ln

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := ln.Serve(runCtx); err != nil {
			log.Printf("session: listener stopped: %v", err)
		}
	}()

	return nil
}

// Addr returns the bound local address, valid after Start returns nil.
func (s *Session) Addr() net.Addr { return s.listener.Addr() }

// Stop closes the listener, cancels in-flight connections by closing
// their sockets, and invalidates the credential cache, per spec.md §4.K
// and §5's cancellation semantics. It returns once the accept loop has
// exited.
func (s *Session) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.done != nil {
		<-s.done
	}
	s.authenticator.Invalidate()
}

// handle services exactly one request on an accepted connection. Per
// spec.md §4.A/§4.B, only one request is parsed per connection: there is
// no persistent-connection request pipeline in this design, matching the
// CONNECT-dominant workload the processors are built for.
func (s *Session) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	cc := NewClientConnection(conn)
	if err := s.router.Route(ctx, cc); err != nil {
		log.Printf("session: %s: %v", conn.RemoteAddr(), err)
	}
}
