// Package origin implements browser Origin checking for the relay's
// WebSocket endpoint.
package origin

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Checker decides whether a WebSocket upgrade request's Origin is acceptable.
//
// With an explicit allowlist, each entry must be "*" or a normalized origin
// (scheme://host[:port]). Without one, the policy is same-host: the Origin
// must match the request's Host header, treating default ports as absent.
// Scheme is deliberately not compared against the request, since the relay
// may sit behind a TLS-terminating proxy and see plain HTTP.
type Checker struct {
	allowed []string
}

// NewChecker builds a checker from configured allowlist entries. Entries are
// normalized; invalid entries are dropped.
func NewChecker(allowedOrigins []string) *Checker {
	c := &Checker{}
	for _, entry := range allowedOrigins {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			c.allowed = append(c.allowed, "*")
			continue
		}
		if normalized, _, ok := Normalize(entry); ok {
			c.allowed = append(c.allowed, normalized)
		}
	}
	return c
}

// Allow reports whether the request's Origin header passes. Non-browser
// clients send no Origin header and are always accepted; they are not subject
// to cross-site request forgery.
func (c *Checker) Allow(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}

	normalized, host, ok := Normalize(header)
	if !ok {
		return false
	}

	if len(c.allowed) > 0 {
		for _, a := range c.allowed {
			if a == "*" || a == normalized {
				return true
			}
		}
		return false
	}

	if normalized == "null" {
		return false
	}
	scheme := "http"
	if strings.HasPrefix(normalized, "https://") {
		scheme = "https"
	}
	requestHost, ok := normalizeHost(r.Host, scheme)
	if !ok {
		return false
	}
	return host == requestHost
}

// Normalize validates an Origin header value and returns the canonical
// scheme://host[:port] form plus the host[:port] part. The special value
// "null" (sandboxed documents, file URLs) is passed through.
func Normalize(header string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// normalizeHost lowercases host[:port] and strips the scheme's default port.
func normalizeHost(raw, scheme string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(strings.TrimSpace(raw)))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port]. IPv6 literals come back
// without brackets; the port comes back unvalidated.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}

	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = raw[1:end]
		rest := raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return "", "", false
		}
		return hostname, rest[1:], true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		i := strings.IndexByte(raw, ':')
		if i == 0 || i == len(raw)-1 {
			return "", "", false
		}
		return raw[:i], raw[i+1:], true
	default:
		// Unbracketed IPv6 literals are not valid authority components.
		return "", "", false
	}
}
