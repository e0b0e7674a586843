package http

import (
	"net"
	"net/url"
	"strings"
)

// DeniedError reports an outgoing request to a host outside the allow list.
type DeniedError struct {
	URL string
}

func (e *DeniedError) Error() string {
	return "outbound request to " + e.URL + " is not allowed"
}

// OutboundAllowed reports whether u matches one of the
// allowed_outbound_hosts patterns. A pattern is scheme://host[:port]
// where scheme, host and port may be "*" and host may be "*.suffix".
// A pattern without a port allows only the scheme's default port.
func OutboundAllowed(patterns []string, u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPort(scheme)
	}

	for _, p := range patterns {
		ps, ph, pp, ok := splitPattern(p)
		if !ok {
			continue
		}
		if ps != "*" && ps != scheme {
			continue
		}
		if !hostMatches(ph, host) {
			continue
		}
		if pp == "" {
			pp = defaultPort(scheme)
		}
		if pp != "*" && pp != port {
			continue
		}
		return true
	}
	return false
}

func splitPattern(p string) (scheme, host, port string, ok bool) {
	scheme, rest, found := strings.Cut(strings.ToLower(strings.TrimSpace(p)), "://")
	if !found || scheme == "" || rest == "" {
		return "", "", "", false
	}
	rest = strings.TrimSuffix(rest, "/")
	if h, pt, err := net.SplitHostPort(rest); err == nil {
		return scheme, h, pt, true
	}
	return scheme, rest, "", true
}

func hostMatches(pattern, host string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasPrefix(pattern, "*."):
		return strings.HasSuffix(host, pattern[1:])
	default:
		return pattern == host
	}
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}
