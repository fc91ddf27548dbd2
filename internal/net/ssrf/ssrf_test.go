package ssrf

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/haasonsaas/nexushub/internal/faults"
)

type fakeResolver map[string][]string

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	ips, ok := f[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	out := make([]netip.Addr, 0, len(ips))
	for _, ip := range ips {
		out = append(out, netip.MustParseAddr(ip))
	}
	return out, nil
}

func TestIsPrivateIPAddress(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"100.64.0.1", true},
		{"100.128.0.1", false},
		{"0.0.0.0", true},
		{"224.0.0.1", true},
		{"8.8.8.8", false},
		{"::1", true},
		{"[::1]", true},
		{"fe80::1%eth0", true},
		{"fc00::1", true},
		{"::ffff:127.0.0.1", true},
		{"2606:4700::1111", false},
		{"not-an-ip", false},
	}
	for _, tt := range tests {
		if got := IsPrivateIPAddress(tt.ip); got != tt.want {
			t.Errorf("IsPrivateIPAddress(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}

func TestIsBlockedHostname(t *testing.T) {
	tests := []struct {
		host string
		want bool
	}{
		{"localhost", true},
		{"LOCALHOST.", true},
		{"api.localhost", true},
		{"printer.local", true},
		{"svc.cluster.internal", true},
		{"metadata.google.internal", true},
		{"mcp.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsBlockedHostname(tt.host); got != tt.want {
			t.Errorf("IsBlockedHostname(%q) = %v, want %v", tt.host, got, tt.want)
		}
	}
}

func TestValidator_ValidateURL(t *testing.T) {
	v := &Validator{Resolver: fakeResolver{
		"mcp.example.com":    {"93.184.216.34"},
		"rebind.example.com": {"93.184.216.34", "10.0.0.5"},
		"v6.example.com":     {"2606:4700::1111"},
	}}

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"public https", "https://mcp.example.com/rpc", false},
		{"public wss", "wss://mcp.example.com/ws", false},
		{"public v6", "http://v6.example.com", false},
		{"public literal", "http://8.8.8.8:8080/x", false},
		{"ftp scheme", "ftp://mcp.example.com", true},
		{"file scheme", "file:///etc/passwd", true},
		{"no host", "https:///path", true},
		{"loopback literal", "http://127.0.0.1/", true},
		{"v6 loopback literal", "http://[::1]:9000/", true},
		{"metadata ip", "http://169.254.169.254/latest", true},
		{"blocked name", "http://localhost:8080", true},
		{"one private answer", "https://rebind.example.com", true},
		{"unresolvable", "https://nowhere.example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := v.ValidateURL(context.Background(), tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ValidateURL(%q) = %v, want error", tt.url, u)
				}
				if !faults.Is(err, faults.KindConfig) {
					t.Errorf("kind = %s, want config", faults.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateURL(%q) error = %v", tt.url, err)
			}
		})
	}
}

func TestValidator_BlockedErrorIsMatchable(t *testing.T) {
	v := &Validator{Resolver: fakeResolver{}}
	_, err := v.ValidateURL(context.Background(), "http://10.0.0.1")
	if !errors.Is(err, ErrBlocked) {
		t.Fatalf("errors.Is(err, ErrBlocked) = false for %v", err)
	}
	var be *BlockedError
	if !errors.As(err, &be) || be.Endpoint != "10.0.0.1" {
		t.Errorf("BlockedError = %+v", be)
	}
}

func TestValidator_AllowPrivate(t *testing.T) {
	v := &Validator{AllowPrivate: true}
	if _, err := v.ValidateURL(context.Background(), "http://localhost:3000"); err != nil {
		t.Fatalf("AllowPrivate should skip address checks: %v", err)
	}
	if _, err := v.ValidateURL(context.Background(), "gopher://localhost"); err == nil {
		t.Fatal("scheme must still be checked")
	}
}

func TestValidator_Control(t *testing.T) {
	tests := []struct {
		address string
		allow   bool
		wantErr bool
	}{
		{"93.184.216.34:443", false, false},
		{"[2606:4700::1111]:443", false, false},
		{"127.0.0.1:8080", false, true},
		{"169.254.169.254:80", false, true},
		{"10.0.0.5:443", false, true},
		{"[::1]:80", false, true},
		{"[::ffff:127.0.0.1]:80", false, true},
		{"not-an-address", false, true},
		{"127.0.0.1:8080", true, false},
	}
	for _, tt := range tests {
		v := &Validator{AllowPrivate: tt.allow}
		err := v.Control("tcp", tt.address, nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("Control(%q, allow=%v) error = %v, wantErr %v", tt.address, tt.allow, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrBlocked) {
			t.Errorf("Control(%q) error %v does not match ErrBlocked", tt.address, err)
		}
	}
}

func TestValidator_HTTPClientRefusesPrivateDial(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	resp, err := NewValidator().HTTPClient().Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected dial to loopback to be refused")
	}
	if !errors.Is(err, ErrBlocked) {
		t.Errorf("error = %v, want ErrBlocked", err)
	}
	if hits.Load() != 0 {
		t.Errorf("loopback server received %d requests", hits.Load())
	}
}

func TestValidator_HTTPClientDoesNotFollowRedirects(t *testing.T) {
	var internalHits atomic.Int32
	internal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		internalHits.Add(1)
	}))
	defer internal.Close()
	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, internal.URL+"/latest/meta-data", http.StatusTemporaryRedirect)
	}))
	defer public.Close()

	v := &Validator{AllowPrivate: true}
	resp, err := v.HTTPClient().Post(public.URL, "application/json", nil)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want the redirect response itself", resp.StatusCode)
	}
	if internalHits.Load() != 0 {
		t.Error("redirect target was contacted")
	}
}
