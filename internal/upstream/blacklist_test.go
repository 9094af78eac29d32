package upstream

import (
	"testing"
	"time"
)

func TestBlacklistMarksAndExpires(t *testing.T) {
	bl := NewBlacklist(50 * time.Millisecond)
	d := Directive{Kind: KindHTTP, Host: "dead", Port: 8080}

	if bl.IsBad(d) {
		t.Fatal("directive should not start blacklisted")
	}

	bl.MarkBad(d)
	if !bl.IsBad(d) {
		t.Fatal("directive should be blacklisted immediately after MarkBad")
	}

	time.Sleep(100 * time.Millisecond)
	if bl.IsBad(d) {
		t.Fatal("directive should no longer be blacklisted after cooldown elapses")
	}
}

func TestBlacklistDisabledWhenCooldownNonPositive(t *testing.T) {
	bl := NewBlacklist(0)
	d := Directive{Kind: KindHTTP, Host: "dead", Port: 8080}
	bl.MarkBad(d)
	if bl.IsBad(d) {
		t.Fatal("a non-positive cooldown should disable blacklisting")
	}
}

func TestBlacklistDoesNotAffectOtherDirectives(t *testing.T) {
	bl := NewBlacklist(time.Minute)
	dead := Directive{Kind: KindHTTP, Host: "dead", Port: 8080}
	live := Directive{Kind: KindHTTP, Host: "live", Port: 8080}

	bl.MarkBad(dead)
	if bl.IsBad(live) {
		t.Fatal("marking one directive bad must not blacklist another")
	}
}
