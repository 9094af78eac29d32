// Package auth provides credentials for upstream HTTP Basic/NTLM/Kerberos
// challenges and SOCKS5 username/password sub-negotiation (spec.md §4.K).
//
// Kerberos ticket acquisition and NTLM message construction against OS-
// integrated credentials are external collaborators per spec.md §1 ("the
// OS-specific helper" family) — this package defines the contract
// (KerberosProvider, NTLMProvider) and plugs in only a Basic
// implementation backed by the standard library, consistent with the
// teacher repo never shipping a Kerberos/SPNEGO or NTLM library either.
package auth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// Scheme identifies an HTTP proxy authentication mechanism.
type Scheme string

const (
	SchemeBasic     Scheme = "Basic"
	SchemeNTLM      Scheme = "NTLM"
	SchemeNegotiate Scheme = "Negotiate" // Kerberos/SPNEGO
	SchemeNone      Scheme = ""
)

// KerberosProvider obtains a Kerberos/SPNEGO token from the OS ticket
// cache for proxyHost, without prompting for a password.
type KerberosProvider interface {
	Negotiate(ctx context.Context, proxyHost string) (token string, err error)
}

// NTLMProvider produces the messages of an NTLM handshake using stored or
// OS-integrated credentials.
type NTLMProvider interface {
	// Type1Message returns the initial NTLM negotiate message, base64 encoded.
	Type1Message() (string, error)
	// Type3Message returns the NTLM authenticate message, base64 encoded,
	// answering the server's type-2 challenge (also base64 encoded).
	Type3Message(challengeB64 string) (string, error)
}

// Authenticator holds per-session credentials and optional Kerberos/NTLM
// providers. A credential cache keyed by upstream host lets repeated
// requests to the same proxy skip re-deriving a Kerberos token; Invalidate
// clears it on session stop, per spec.md §4.K.
type Authenticator struct {
	Username string
	Password string

	Kerberos KerberosProvider
	NTLM     NTLMProvider

	mu    sync.Mutex
	cache map[string]string // proxyHost -> cached "scheme token" header value
}

// NewAuthenticator constructs an Authenticator for one session.
func NewAuthenticator(username, password string, kerberos KerberosProvider, ntlm NTLMProvider) *Authenticator {
	return &Authenticator{
		Username: username,
		Password: password,
		Kerberos: kerberos,
		NTLM:     ntlm,
		cache:    make(map[string]string),
	}
}

// Invalidate clears the credential cache. Call on session stop.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache = make(map[string]string)
}

// BasicHeader returns the Proxy-Authorization value for HTTP Basic auth,
// or "" if no username is configured.
func (a *Authenticator) BasicHeader() string {
	if a.Username == "" {
		return ""
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.Username+":"+a.Password))
}

// SOCKS5Credentials returns the username/password to offer during SOCKS5
// RFC 1929 sub-negotiation.
func (a *Authenticator) SOCKS5Credentials() (username, password string) {
	return a.Username, a.Password
}

// ChooseScheme picks the strongest scheme this Authenticator can attempt
// from the Proxy-Authenticate challenge values the upstream offered,
// preferring Negotiate (Kerberos) over NTLM over Basic.
func (a *Authenticator) ChooseScheme(challenges []string) Scheme {
	var hasNegotiate, hasNTLM, hasBasic bool
	for _, c := range challenges {
		word := strings.ToUpper(strings.Fields(c)[0])
		switch word {
		case "NEGOTIATE":
			hasNegotiate = true
		case "NTLM":
			hasNTLM = true
		case "BASIC":
			hasBasic = true
		}
	}
	switch {
	case hasNegotiate && a.Kerberos != nil:
		return SchemeNegotiate
	case hasNTLM && a.NTLM != nil:
		return SchemeNTLM
	case hasBasic && a.Username != "":
		return SchemeBasic
	default:
		return SchemeNone
	}
}

// NegotiateKerberos performs the one-shot Kerberos/SPNEGO exchange and
// returns the Proxy-Authorization header value to retry the request with.
func (a *Authenticator) NegotiateKerberos(ctx context.Context, proxyHost string) (string, error) {
	if a.Kerberos == nil {
		return "", fmt.Errorf("auth: kerberos requested but not configured")
	}

	a.mu.Lock()
	if cached, ok := a.cache[proxyHost]; ok && strings.HasPrefix(cached, "Negotiate ") {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	token, err := a.Kerberos.Negotiate(ctx, proxyHost)
	if err != nil {
		return "", fmt.Errorf("kerberos negotiate for %s: %w", proxyHost, err)
	}
	header := "Negotiate " + token

	a.mu.Lock()
	a.cache[proxyHost] = header
	a.mu.Unlock()

	return header, nil
}

// NTLMType1Header returns the Proxy-Authorization header carrying the
// NTLM type-1 negotiate message, the first leg of the handshake.
func (a *Authenticator) NTLMType1Header() (string, error) {
	if a.NTLM == nil {
		return "", fmt.Errorf("auth: ntlm requested but not configured")
	}
	msg, err := a.NTLM.Type1Message()
	if err != nil {
		return "", fmt.Errorf("ntlm type1: %w", err)
	}
	return "NTLM " + msg, nil
}

// NTLMType3Header returns the Proxy-Authorization header carrying the
// NTLM type-3 authenticate message, given the upstream's type-2
// Proxy-Authenticate challenge value (e.g. "NTLM <base64>").
func (a *Authenticator) NTLMType3Header(challenge string) (string, error) {
	if a.NTLM == nil {
		return "", fmt.Errorf("auth: ntlm requested but not configured")
	}
	challengeB64 := strings.TrimSpace(strings.TrimPrefix(challenge, "NTLM"))
	msg, err := a.NTLM.Type3Message(challengeB64)
	if err != nil {
		return "", fmt.Errorf("ntlm type3: %w", err)
	}
	return "NTLM " + msg, nil
}
