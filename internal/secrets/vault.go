package secrets

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig configures the vault:// backend.
type VaultConfig struct {
	Address string
	Token   string
	// Mount is the KV v2 mount used when a locator has a single segment.
	Mount string
}

// VaultBackend reads KV v2 secrets. Locators are mount/path#key; when key
// is omitted the field "value" is used.
type VaultBackend struct {
	client *vault.Client
	mount  string
}

// NewVaultBackend creates a Vault client.
func NewVaultBackend(cfg VaultConfig) (*VaultBackend, error) {
	vc := vault.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return &VaultBackend{client: client, mount: mount}, nil
}

// Lookup implements Backend.
func (b *VaultBackend) Lookup(ctx context.Context, locator string) (string, error) {
	path, key := splitKey(locator)
	if key == "" {
		key = "value"
	}
	mount, rest := b.mount, strings.Trim(path, "/")
	if first, tail, ok := strings.Cut(rest, "/"); ok {
		mount, rest = first, tail
	}
	if rest == "" {
		return "", fmt.Errorf("vault locator %q has no path", locator)
	}

	secret, err := b.client.KVv2(mount).Get(ctx, rest)
	if err != nil {
		return "", fmt.Errorf("vault read %s/%s: %w", mount, rest, err)
	}
	raw, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("vault %s/%s#%s: %w", mount, rest, key, ErrNotFound)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault %s/%s#%s is not a string", mount, rest, key)
	}
	return value, nil
}
