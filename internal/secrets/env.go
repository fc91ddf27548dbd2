package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvBackend reads secrets from environment variables.
type EnvBackend struct {
	// Lookup defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Lookup implements Backend.
func (b EnvBackend) Lookup(_ context.Context, name string) (string, error) {
	lookup := b.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(name)
	if !ok || v == "" {
		return "", fmt.Errorf("env %s: %w", name, ErrNotFound)
	}
	return v, nil
}
