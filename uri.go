package coap

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme is a CoAP URI scheme (spec.md §3, §6).
type Scheme string

const (
	SchemeCoAP      Scheme = "coap"
	SchemeCoAPS     Scheme = "coaps"
	SchemeCoAPTCP   Scheme = "coap+tcp"
	SchemeCoAPSTCP  Scheme = "coaps+tcp"
	SchemeCoAPWS    Scheme = "coap+ws"
	SchemeCoAPSWS   Scheme = "coaps+ws"
)

var defaultPorts = map[Scheme]uint16{
	SchemeCoAP:     5683,
	SchemeCoAPS:    5684,
	SchemeCoAPTCP:  5683,
	SchemeCoAPSTCP: 5684,
	SchemeCoAPWS:   80,
	SchemeCoAPSWS:  443,
}

// URI is a decomposed CoAP URI (spec.md §3, §6): grammar is
// `scheme "://" host [":" port] ["/" path] ["?" query]`; "#fragment" is
// explicitly rejected.
type URI struct {
	Scheme Scheme
	Host   string
	Port   uint16
	Path   string
	Query  string
}

// ParseURI splits s into a URI struct, following the CoAP-specific
// grammar of spec.md §6 rather than generic RFC 3986 parsing (net/url
// accepts fragments and does not know this scheme family's port
// defaults; see DESIGN.md).
func ParseURI(s string) (URI, error) {
	var u URI

	schemeEnd := strings.Index(s, "://")
	if schemeEnd < 0 {
		return u, newErr(ErrInvalidData, "missing scheme separator")
	}
	scheme := Scheme(s[:schemeEnd])
	if _, ok := defaultPorts[scheme]; !ok {
		return u, newErr(ErrInvalidData, fmt.Sprintf("unsupported scheme %q", scheme))
	}
	u.Scheme = scheme
	rest := s[schemeEnd+3:]

	if strings.ContainsRune(rest, '#') {
		return u, newErr(ErrInvalidData, "fragment not allowed in a CoAP URI")
	}

	authorityEnd := len(rest)
	for i, c := range rest {
		if c == '/' || c == '?' {
			authorityEnd = i
			break
		}
	}
	authority := rest[:authorityEnd]
	rest = rest[authorityEnd:]

	host, port, err := splitHostPort(authority)
	if err != nil {
		return u, err
	}
	u.Host = host
	if port != 0 {
		u.Port = port
	} else {
		u.Port = defaultPorts[scheme]
	}

	if strings.HasPrefix(rest, "/") {
		rest = rest[1:]
	}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		u.Path = rest[:q]
		u.Query = rest[q+1:]
	} else {
		u.Path = rest
	}

	return u, nil
}

// splitHostPort parses "host[:port]", accepting a bracketed IPv6 literal.
func splitHostPort(authority string) (string, uint16, error) {
	if authority == "" {
		return "", 0, newErr(ErrInvalidData, "empty host")
	}
	if authority[0] == '[' {
		end := strings.IndexByte(authority, ']')
		if end < 0 {
			return "", 0, newErr(ErrInvalidData, "unterminated IPv6 literal")
		}
		host := authority[1:end]
		rest := authority[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if rest[0] != ':' {
			return "", 0, newErr(ErrInvalidData, "expected ':' after IPv6 literal")
		}
		port, err := parsePort(rest[1:])
		return host, port, err
	}
	if i := strings.LastIndexByte(authority, ':'); i >= 0 {
		port, err := parsePort(authority[i+1:])
		if err != nil {
			return "", 0, err
		}
		return authority[:i], port, nil
	}
	return authority, 0, nil
}

func parsePort(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, newErr(ErrInvalidData, fmt.Sprintf("invalid port %q", s))
	}
	return uint16(v), nil
}

// String recomposes the URI into its string form.
func (u URI) String() string {
	var b strings.Builder
	b.WriteString(string(u.Scheme))
	b.WriteString("://")
	if strings.ContainsRune(u.Host, ':') {
		b.WriteByte('[')
		b.WriteString(u.Host)
		b.WriteByte(']')
	} else {
		b.WriteString(u.Host)
	}
	if u.Port != 0 && u.Port != defaultPorts[u.Scheme] {
		fmt.Fprintf(&b, ":%d", u.Port)
	}
	if u.Path != "" {
		b.WriteByte('/')
		b.WriteString(u.Path)
	}
	if u.Query != "" {
		b.WriteByte('?')
		b.WriteString(u.Query)
	}
	return b.String()
}

// DecomposeToOptions reverse-composes the URI into the option list a
// request targeting it would carry: one Uri-Path per "/"-separated path
// segment, one Uri-Query per "&"-separated query term, in that order
// (spec.md §8 scenario 6).
func (u URI) DecomposeToOptions() Options {
	var opts Options
	if u.Path != "" {
		for _, seg := range strings.Split(u.Path, "/") {
			if seg != "" {
				opts = append(opts, Option{Number: OptURIPath, Value: seg})
			}
		}
	}
	if u.Query != "" {
		for _, term := range strings.Split(u.Query, "&") {
			if term != "" {
				opts = append(opts, Option{Number: OptURIQuery, Value: term})
			}
		}
	}
	return opts
}
