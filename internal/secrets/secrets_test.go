package secrets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		in     string
		want   Ref
		wantOK bool
	}{
		{"env://MCP_TOKEN", Ref{Scheme: "env", Locator: "MCP_TOKEN"}, true},
		{"VAULT://secret/acme#token", Ref{Scheme: "vault", Locator: "secret/acme#token"}, true},
		{"plain-token", Ref{}, false},
		{"://nothing", Ref{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseRef(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ParseRef(%q) = %+v, %v; want %+v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestChain_LiteralsPassThrough(t *testing.T) {
	c := NewChain()
	for _, in := range []string{"sk-literal", "https://example.com/x"} {
		got, err := c.Resolve(context.Background(), in)
		if err != nil || got != in {
			t.Errorf("Resolve(%q) = %q, %v", in, got, err)
		}
	}
}

func TestChain_Env(t *testing.T) {
	t.Setenv("NEXUSHUB_TEST_SECRET", "s3cr3t")
	c := NewChain()
	got, err := c.Resolve(context.Background(), "env://NEXUSHUB_TEST_SECRET")
	if err != nil || got != "s3cr3t" {
		t.Fatalf("Resolve() = %q, %v", got, err)
	}
	if _, err := c.Resolve(context.Background(), "env://NEXUSHUB_MISSING_SECRET"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing env err = %v, want ErrNotFound", err)
	}
}

func TestChain_CachesUntilTTL(t *testing.T) {
	calls := 0
	now := time.Unix(1000, 0)
	c := NewChain(
		WithBackend("test", BackendFunc(func(context.Context, string) (string, error) {
			calls++
			return "v", nil
		})),
		WithCacheTTL(time.Minute),
	)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := c.Resolve(context.Background(), "test://x"); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("backend calls = %d, want 1", calls)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Resolve(context.Background(), "test://x"); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("backend calls after expiry = %d, want 2", calls)
	}
}

func TestVaultBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kv/data/tenants/acme" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"data":{"mcp_token":"tok-1"},"metadata":{"version":1}}}`))
	}))
	defer srv.Close()

	b, err := NewVaultBackend(VaultConfig{Address: srv.URL, Token: "root"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Lookup(context.Background(), "kv/tenants/acme#mcp_token")
	if err != nil || got != "tok-1" {
		t.Fatalf("Lookup() = %q, %v", got, err)
	}
	if _, err := b.Lookup(context.Background(), "kv/tenants/acme#other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing key err = %v", err)
	}
}

type fakeSecretsManager map[string]string

func (f fakeSecretsManager) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	v, ok := f[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestAWSBackend(t *testing.T) {
	b := NewAWSBackendWithClient(fakeSecretsManager{
		"plain": "abc",
		"json":  `{"token":"xyz","n":1}`,
	})
	tests := []struct {
		locator string
		want    string
		wantErr bool
	}{
		{"plain", "abc", false},
		{"json#token", "xyz", false},
		{"json#n", "", true},
		{"plain#token", "", true},
		{"absent", "", true},
	}
	for _, tt := range tests {
		got, err := b.Lookup(context.Background(), tt.locator)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Lookup(%q) = %q, %v", tt.locator, got, err)
		}
	}
}
