package upstream

import "testing"

func TestParseDirectiveList(t *testing.T) {
	got, err := ParseDirectiveList("PROXY dead:8080; PROXY live:8080")
	if err != nil {
		t.Fatal(err)
	}
	want := []Directive{
		{Kind: KindHTTP, Host: "dead", Port: 8080},
		{Kind: KindHTTP, Host: "live", Port: 8080},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d directives, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("directive %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseDirectiveListDirectAndSocks(t *testing.T) {
	got, err := ParseDirectiveList("SOCKS s5.example:1080; SOCKS4 s4.example:1081; DIRECT")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Kind != KindSOCKS5 || got[1].Kind != KindSOCKS4 || got[2].Kind != KindDirect {
		t.Fatalf("got %+v", got)
	}
}

func TestParseDirectiveListEmpty(t *testing.T) {
	if _, err := ParseDirectiveList("   ;  "); err == nil {
		t.Fatal("expected error for an empty directive list")
	}
}

func TestParseDirectiveListMalformed(t *testing.T) {
	if _, err := ParseDirectiveList("BOGUS host:80"); err == nil {
		t.Fatal("expected error for unsupported directive kind")
	}
}
