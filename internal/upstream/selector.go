package upstream

import (
	"context"
	"fmt"

	"github.com/hans009/winfoom/internal/config"
	"github.com/hans009/winfoom/internal/pac"
)

// Selector produces an ordered list of candidate Directives for a target,
// per spec.md §4.C.
type Selector struct {
	cfg       *config.Config
	evaluator pac.Evaluator
	blacklist *Blacklist
}

// NewSelector constructs a Selector bound to a frozen config snapshot. The
// evaluator is only consulted when cfg.ProxyType == config.KindPAC and may
// be nil otherwise.
func NewSelector(cfg *config.Config, evaluator pac.Evaluator, blacklist *Blacklist) *Selector {
	return &Selector{cfg: cfg, evaluator: evaluator, blacklist: blacklist}
}

// Select returns the ordered candidate directives for targetURL/host,
// filtering out any that are currently blacklisted. If filtering would
// leave the list empty, the original unfiltered list is returned instead
// (spec.md §4.C step 3's "last-resort retry", preventing total starvation).
func (s *Selector) Select(ctx context.Context, targetURL, host string) ([]Directive, error) {
	directives, err := s.candidates(ctx, targetURL, host)
	if err != nil {
		return nil, err
	}

	filtered := make([]Directive, 0, len(directives))
	for _, d := range directives {
		if !s.blacklist.IsBad(d) {
			filtered = append(filtered, d)
		}
	}
	if len(filtered) == 0 {
		return directives, nil
	}
	return filtered, nil
}

func (s *Selector) candidates(ctx context.Context, targetURL, host string) ([]Directive, error) {
	switch s.cfg.ProxyType {
	case config.KindHTTP:
		ep := s.cfg.HTTPProxy
		return []Directive{{Kind: KindHTTP, Host: ep.Host, Port: ep.Port}}, nil
	case config.KindSOCKS4:
		ep := s.cfg.SOCKS4Proxy
		return []Directive{{Kind: KindSOCKS4, Host: ep.Host, Port: ep.Port}}, nil
	case config.KindSOCKS5:
		ep := s.cfg.SOCKS5Proxy
		return []Directive{{Kind: KindSOCKS5, Host: ep.Host, Port: ep.Port}}, nil
	case config.KindDirect:
		return []Directive{{Kind: KindDirect}}, nil
	case config.KindPAC:
		if s.evaluator == nil {
			return nil, fmt.Errorf("selector: proxy.type=PAC but no PAC evaluator configured")
		}
		result, err := s.evaluator.FindProxyForURL(ctx, targetURL, host)
		if err != nil {
			return nil, fmt.Errorf("pac evaluation: %w", err)
		}
		return ParseDirectiveList(result)
	default:
		return nil, fmt.Errorf("selector: unknown proxy.type %q", s.cfg.ProxyType)
	}
}
