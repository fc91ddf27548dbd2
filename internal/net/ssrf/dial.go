package ssrf

import (
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"
)

// Control is a net.Dialer Control hook. It runs after name resolution with
// the concrete address being dialed, so a hostname that passed ValidateURL
// and later resolves to a private address is still refused.
func (v *Validator) Control(network, address string, _ syscall.RawConn) error {
	if v.AllowPrivate {
		return nil
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return blocked(address, "unparseable dial address")
	}
	if !IsPublicAddr(ap.Addr()) {
		return blocked(address, "dial to non-public address")
	}
	return nil
}

// Dialer returns a dialer guarded by Control.
func (v *Validator) Dialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   v.Control,
	}
}

// HTTPClient returns a client that dials through Dialer and hands redirects
// back to the caller instead of following them.
func (v *Validator) HTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = v.Dialer().DialContext
	return &http.Client{
		Transport:     transport,
		CheckRedirect: NoRedirect,
	}
}

// NoRedirect is an http.Client CheckRedirect func that stops at the first
// redirect response.
func NoRedirect(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}
