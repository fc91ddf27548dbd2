package ssrf

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/haasonsaas/nexushub/internal/faults"
)

// Resolver looks up the addresses behind a hostname. *net.Resolver
// satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// DefaultSchemes are the URL schemes accepted for tool endpoints.
var DefaultSchemes = []string{"http", "https", "ws", "wss"}

// Validator checks outbound endpoints.
type Validator struct {
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver

	// Schemes defaults to DefaultSchemes.
	Schemes []string

	// AllowPrivate disables address checks. Only meant for local development.
	AllowPrivate bool
}

// NewValidator returns a validator using the system resolver.
func NewValidator() *Validator {
	return &Validator{Resolver: net.DefaultResolver, Schemes: DefaultSchemes}
}

// ValidateURL parses raw and rejects it unless its scheme is allowed and
// every address its host resolves to is public. Violations are returned as
// config faults wrapping a *BlockedError.
func (v *Validator) ValidateURL(ctx context.Context, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "invalid endpoint url")
	}
	if !v.schemeAllowed(u.Scheme) {
		return nil, configFault(blocked(raw, fmt.Sprintf("scheme %q not allowed", u.Scheme)))
	}
	host := u.Hostname()
	if host == "" {
		return nil, configFault(blocked(raw, "missing host"))
	}
	if v.AllowPrivate {
		return u, nil
	}
	if err := v.ValidateHost(ctx, host); err != nil {
		return nil, configFault(err)
	}
	return u, nil
}

// ValidateHost checks a bare hostname or IP literal.
func (v *Validator) ValidateHost(ctx context.Context, host string) error {
	if IsBlockedHostname(host) {
		return blocked(host, "hostname blocked")
	}
	h := normalizeHostname(host)
	if addr, err := netip.ParseAddr(h); err == nil {
		if !IsPublicAddr(addr) {
			return blocked(host, "address is not public")
		}
		return nil
	}

	resolver := v.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupNetIP(ctx, "ip", h)
	if err != nil {
		return blocked(host, "resolve failed: "+err.Error())
	}
	if len(addrs) == 0 {
		return blocked(host, "no addresses")
	}
	for _, addr := range addrs {
		if !IsPublicAddr(addr) {
			return blocked(host, "resolves to non-public address "+addr.String())
		}
	}
	return nil
}

func (v *Validator) schemeAllowed(scheme string) bool {
	schemes := v.Schemes
	if len(schemes) == 0 {
		schemes = DefaultSchemes
	}
	scheme = strings.ToLower(scheme)
	for _, s := range schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

func configFault(err error) error {
	return faults.Wrap(faults.KindConfig, err, "endpoint rejected")
}
