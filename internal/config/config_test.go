package config

import "testing"

func TestPerKindSettersDoNotClobber(t *testing.T) {
	c := Default()
	c.SetHTTPProxy("proxy.example", 8080)
	c.SetSOCKS5Proxy("socks.example", 1080)

	if got := c.HTTPProxy.Addr(); got != "proxy.example:8080" {
		t.Fatalf("HTTPProxy = %q", got)
	}
	if got := c.SOCKS5Proxy.Addr(); got != "socks.example:1080" {
		t.Fatalf("SOCKS5Proxy = %q", got)
	}
	if !c.SOCKS4Proxy.empty() {
		t.Fatalf("SOCKS4Proxy should remain unset, got %+v", c.SOCKS4Proxy)
	}
}

func TestValidateRequiresEndpointForKind(t *testing.T) {
	c := Default()
	c.ProxyType = KindHTTP
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for HTTP proxy.type with no endpoint configured")
	}
	c.SetHTTPProxy("proxy.example", 8080)
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestObfuscateRoundTrip(t *testing.T) {
	got, err := DeobfuscatePassword(ObfuscatePassword("s3cr3t"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "s3cr3t" {
		t.Fatalf("got %q", got)
	}
}

func TestParseKind(t *testing.T) {
	for _, ok := range []string{"HTTP", "SOCKS4", "SOCKS5", "PAC", "DIRECT"} {
		if _, err := ParseKind(ok); err != nil {
			t.Fatalf("ParseKind(%q): %v", ok, err)
		}
	}
	if _, err := ParseKind("BOGUS"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
