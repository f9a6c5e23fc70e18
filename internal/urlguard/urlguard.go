// Package urlguard validates outbound URLs before any network fetch to
// prevent server-side request forgery (SSRF).
//
// Every feed refresh and audio download resolves its target through
// [Guard.ValidateURL] first. A URL is rejected when its scheme is not HTTP(S),
// its port is outside the allow-list, its hostname does not resolve, or any
// resolved address is non-public (loopback, link-local, multicast, private,
// reserved, or a cloud metadata endpoint). Rejections carry a typed
// [*SSRFError] so callers can log and skip without retrying.
package urlguard

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
)

// DefaultAllowedPorts is the port allow-list applied when a Guard is created
// with no explicit ports.
var DefaultAllowedPorts = []int{80, 443, 8080, 8443}

// metadataAddrs are well-known cloud metadata service addresses that must
// never be reachable regardless of their IP class.
var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("169.254.169.254"),
	netip.MustParseAddr("168.63.129.16"),
}

// SSRFError reports a URL that failed validation. It unwraps to [ErrSSRF] so
// callers can branch with errors.Is.
type SSRFError struct {
	URL    string
	Reason string
}

func (e *SSRFError) Error() string {
	return fmt.Sprintf("urlguard: blocked %q: %s", e.URL, e.Reason)
}

// ErrSSRF is the sentinel all SSRFError values unwrap to.
var ErrSSRF = fmt.Errorf("ssrf violation")

func (e *SSRFError) Unwrap() error { return ErrSSRF }

// LookupFunc resolves a hostname to its addresses. It exists so tests can
// inject resolution results; production Guards use net.DefaultResolver.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Guard validates URLs against scheme, port, and resolved-address rules.
// The zero value is not usable; construct with [New].
type Guard struct {
	allowedPorts map[int]bool
	lookup       LookupFunc
}

// Option configures a Guard.
type Option func(*Guard)

// WithAllowedPorts replaces the default port allow-list.
func WithAllowedPorts(ports []int) Option {
	return func(g *Guard) {
		g.allowedPorts = make(map[int]bool, len(ports))
		for _, p := range ports {
			g.allowedPorts[p] = true
		}
	}
}

// WithLookup replaces the DNS resolution function. Intended for tests.
func WithLookup(fn LookupFunc) Option {
	return func(g *Guard) { g.lookup = fn }
}

// New returns a Guard with the default port allow-list and system resolver.
func New(opts ...Option) *Guard {
	g := &Guard{lookup: systemLookup}
	WithAllowedPorts(DefaultAllowedPorts)(g)
	for _, o := range opts {
		o(g)
	}
	return g
}

func systemLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil, err
	}
	return ips, nil
}

// ValidateURL checks raw against all guard rules and returns the cleaned URL
// string on success. On any violation it returns a [*SSRFError].
func (g *Guard) ValidateURL(ctx context.Context, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", &SSRFError{URL: raw, Reason: fmt.Sprintf("unparseable url: %v", err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &SSRFError{URL: raw, Reason: fmt.Sprintf("scheme %q not allowed", u.Scheme)}
	}

	host := u.Hostname()
	if host == "" {
		return "", &SSRFError{URL: raw, Reason: "missing hostname"}
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", &SSRFError{URL: raw, Reason: fmt.Sprintf("invalid port %q", p)}
		}
	}
	if !g.allowedPorts[port] {
		return "", &SSRFError{URL: raw, Reason: fmt.Sprintf("port %d not in allow-list", port)}
	}

	// Literal IPs skip DNS but still face the address classification.
	var addrs []netip.Addr
	if ip, parseErr := netip.ParseAddr(host); parseErr == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = g.lookup(ctx, host)
		if err != nil {
			return "", &SSRFError{URL: raw, Reason: fmt.Sprintf("hostname did not resolve: %v", err)}
		}
		if len(addrs) == 0 {
			return "", &SSRFError{URL: raw, Reason: "hostname resolved to no addresses"}
		}
	}

	for _, addr := range addrs {
		if reason := classify(addr); reason != "" {
			return "", &SSRFError{URL: raw, Reason: fmt.Sprintf("address %s is %s", addr, reason)}
		}
	}

	return u.String(), nil
}

// classify returns a non-empty reason when addr must not be contacted.
func classify(addr netip.Addr) string {
	addr = addr.Unmap()
	for _, meta := range metadataAddrs {
		if addr == meta {
			return "a cloud metadata endpoint"
		}
	}
	switch {
	case addr.IsLoopback():
		return "a loopback address"
	case addr.IsLinkLocalUnicast() || addr.IsLinkLocalMulticast():
		return "a link-local address"
	case addr.IsMulticast():
		return "a multicast address"
	case addr.IsPrivate():
		return "a private address"
	case addr.IsUnspecified():
		return "an unspecified address"
	case !addr.IsGlobalUnicast():
		return "a reserved address"
	}
	return ""
}
