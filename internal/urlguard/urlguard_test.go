package urlguard_test

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/MrWong99/podscrub/internal/urlguard"
)

// fixedLookup returns a LookupFunc resolving every hostname to the given
// addresses.
func fixedLookup(addrs ...string) urlguard.LookupFunc {
	parsed := make([]netip.Addr, len(addrs))
	for i, a := range addrs {
		parsed[i] = netip.MustParseAddr(a)
	}
	return func(context.Context, string) ([]netip.Addr, error) {
		return parsed, nil
	}
}

func TestValidateURL_AllowsPublicHTTP(t *testing.T) {
	t.Parallel()

	g := urlguard.New(urlguard.WithLookup(fixedLookup("93.184.216.34")))
	got, err := g.ValidateURL(context.Background(), "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("ValidateURL: %v", err)
	}
	if got != "https://example.com/feed.xml" {
		t.Errorf("got %q", got)
	}
}

func TestValidateURL_RejectsBlockedAddresses(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		addr string
	}{
		{"loopback", "127.0.0.1"},
		{"loopback v6", "::1"},
		{"link-local", "169.254.10.10"},
		{"multicast", "224.0.0.1"},
		{"private 10", "10.1.2.3"},
		{"private 172", "172.16.0.9"},
		{"private 192", "192.168.1.1"},
		{"ula", "fd00::1"},
		{"unspecified", "0.0.0.0"},
		{"aws metadata", "169.254.169.254"},
		{"azure metadata", "168.63.129.16"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			g := urlguard.New(urlguard.WithLookup(fixedLookup(c.addr)))
			_, err := g.ValidateURL(context.Background(), "http://cdn.example.com/audio.mp3")
			if err == nil {
				t.Fatal("expected rejection")
			}
			if !errors.Is(err, urlguard.ErrSSRF) {
				t.Errorf("error %v is not ErrSSRF", err)
			}
			var se *urlguard.SSRFError
			if !errors.As(err, &se) {
				t.Errorf("error %v is not *SSRFError", err)
			}
		})
	}
}

func TestValidateURL_RejectsWhenAnyAddressBlocked(t *testing.T) {
	t.Parallel()

	// One public and one private address: DNS rebinding style. Must reject.
	g := urlguard.New(urlguard.WithLookup(fixedLookup("93.184.216.34", "10.0.0.1")))
	if _, err := g.ValidateURL(context.Background(), "http://evil.example.com/"); err == nil {
		t.Fatal("expected rejection for mixed resolution")
	}
}

func TestValidateURL_SchemeAndPortRules(t *testing.T) {
	t.Parallel()

	g := urlguard.New(urlguard.WithLookup(fixedLookup("93.184.216.34")))

	for _, bad := range []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"http://example.com:22/",
		"https://example.com:4443/",
	} {
		if _, err := g.ValidateURL(context.Background(), bad); err == nil {
			t.Errorf("expected rejection for %q", bad)
		}
	}

	for _, ok := range []string{
		"http://example.com/",
		"https://example.com/",
		"http://example.com:8080/feed",
		"https://example.com:8443/feed",
	} {
		if _, err := g.ValidateURL(context.Background(), ok); err != nil {
			t.Errorf("unexpected rejection for %q: %v", ok, err)
		}
	}
}

func TestValidateURL_LiteralIPSkipsDNS(t *testing.T) {
	t.Parallel()

	g := urlguard.New(urlguard.WithLookup(func(context.Context, string) ([]netip.Addr, error) {
		t.Fatal("lookup must not be called for literal IPs")
		return nil, nil
	}))
	if _, err := g.ValidateURL(context.Background(), "http://127.0.0.1/"); err == nil {
		t.Fatal("expected rejection for loopback literal")
	}
	if _, err := g.ValidateURL(context.Background(), "http://93.184.216.34/"); err != nil {
		t.Fatalf("unexpected rejection for public literal: %v", err)
	}
}

func TestValidateURL_ResolutionFailure(t *testing.T) {
	t.Parallel()

	g := urlguard.New(urlguard.WithLookup(func(context.Context, string) ([]netip.Addr, error) {
		return nil, errors.New("nxdomain")
	}))
	if _, err := g.ValidateURL(context.Background(), "http://nope.example.com/"); err == nil {
		t.Fatal("expected rejection for unresolvable host")
	}
}
