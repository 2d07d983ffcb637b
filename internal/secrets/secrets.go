// Package secrets resolves credential references found in configuration.
//
// A reference is a value of the form "scheme:key". The built-in schemes are
// "env" (environment variable), "file" (file contents, as mounted by Docker
// or Kubernetes secrets) and "vault" (HashiCorp Vault KV v2, "path#field").
// Values without a known scheme are returned as is.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Provider looks up a secret by key within one scheme.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	// Name is the reference scheme the provider serves.
	Name() string
}

// Config configures the resolver. Vault is optional.
type Config struct {
	Vault *VaultConfig
}

// Resolver dispatches references to providers by scheme and caches results.
type Resolver struct {
	providers map[string]Provider
	cache     map[string]string
	cacheMu   sync.RWMutex
}

// NewResolver creates a resolver with the env and file providers, plus
// vault when cfg carries a Vault address.
func NewResolver(cfg *Config) (*Resolver, error) {
	r := &Resolver{
		providers: make(map[string]Provider),
		cache:     make(map[string]string),
	}
	r.Register(NewEnvProvider())
	r.Register(NewFileProvider())

	if cfg != nil && cfg.Vault != nil && cfg.Vault.Address != "" {
		vault, err := NewVaultProvider(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("create vault provider: %w", err)
		}
		r.Register(vault)
	}
	return r, nil
}

// Register adds or replaces the provider for p.Name().
func (r *Resolver) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Resolver) split(value string) (Provider, string, bool) {
	scheme, key, found := strings.Cut(value, ":")
	if !found || key == "" {
		return nil, "", false
	}
	p, ok := r.providers[scheme]
	return p, key, ok
}

// Resolve returns the secret behind value. Empty and plain values come back
// unchanged. A reference that resolves to an empty string is an error.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	p, key, ok := r.split(value)
	if !ok {
		return value, nil
	}

	r.cacheMu.RLock()
	if val, ok := r.cache[value]; ok {
		r.cacheMu.RUnlock()
		return val, nil
	}
	r.cacheMu.RUnlock()

	val, err := p.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("%s secret %q: %w", p.Name(), key, err)
	}
	if val == "" {
		return "", fmt.Errorf("%s secret %q is empty", p.Name(), key)
	}

	r.cacheMu.Lock()
	r.cache[value] = val
	r.cacheMu.Unlock()
	return val, nil
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("env var not set: %s", key)
	}
	return val, nil
}
