package upstream

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Blacklist tracks directives that recently failed to connect so the
// selector can skip them for a cooldown window (spec.md §4.D).
//
// It is backed by patrickmn/go-cache, which already ships in the
// teacher's module graph as a transitive dependency of
// github.com/txthinking/socks5; this promotes it to a direct one. Its
// per-key TTL and background janitor match the "active iff now < expiry;
// expired entries are lazily removed" invariant directly, so there is no
// need for the hand-rolled sharded map a higher-churn workload (e.g.
// per-client-IP blacklisting, as in yiguihai11-SmartProxy/socks5/blacklist.go)
// would justify.
type Blacklist struct {
	cooldown time.Duration
	cache    *gocache.Cache
}

// NewBlacklist constructs a Blacklist with the given cooldown. A
// non-positive cooldown disables blacklisting entirely: MarkBad becomes a
// no-op and IsBad always returns false.
func NewBlacklist(cooldown time.Duration) *Blacklist {
	cleanup := cooldown
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &Blacklist{
		cooldown: cooldown,
		cache:    gocache.New(cooldown, cleanup),
	}
}

// MarkBad records that d failed to connect; it will be skipped by Select
// until the cooldown expires. Per spec.md §4.D, auth failures (407) must
// never call MarkBad — only TCP-connect-level failures should.
func (b *Blacklist) MarkBad(d Directive) {
	if b.cooldown <= 0 {
		return
	}
	b.cache.Set(d.key(), struct{}{}, gocache.DefaultExpiration)
}

// IsBad reports whether d has an active blacklist entry.
func (b *Blacklist) IsBad(d Directive) bool {
	if b.cooldown <= 0 {
		return false
	}
	_, found := b.cache.Get(d.key())
	return found
}
