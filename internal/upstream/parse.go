package upstream

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ParseDirectiveList parses a PAC-style semicolon-separated directive list
// ("PROXY host:port; SOCKS host:port; DIRECT") into an ordered []Directive,
// per spec.md §4.C step 2.
func ParseDirectiveList(raw string) ([]Directive, error) {
	var out []Directive
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		fields := strings.Fields(entry)
		kindWord := strings.ToUpper(fields[0])

		if kindWord == "DIRECT" {
			out = append(out, Directive{Kind: KindDirect})
			continue
		}

		if len(fields) != 2 {
			return nil, fmt.Errorf("pac directive %q: expected \"KIND host:port\"", entry)
		}

		host, portStr, err := net.SplitHostPort(fields[1])
		if err != nil {
			return nil, fmt.Errorf("pac directive %q: %w", entry, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("pac directive %q: invalid port: %w", entry, err)
		}

		switch kindWord {
		case "PROXY":
			out = append(out, Directive{Kind: KindHTTP, Host: host, Port: port})
		case "SOCKS", "SOCKS5":
			out = append(out, Directive{Kind: KindSOCKS5, Host: host, Port: port})
		case "SOCKS4":
			out = append(out, Directive{Kind: KindSOCKS4, Host: host, Port: port})
		default:
			return nil, fmt.Errorf("pac directive %q: unsupported kind %q", entry, fields[0])
		}
	}

	if len(out) == 0 {
		return nil, errors.New("pac: no usable directives")
	}
	return out, nil
}
