package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// VaultConfig configures the HashiCorp Vault provider.
type VaultConfig struct {
	// Address is the Vault server address (e.g., "http://localhost:8200")
	Address string
	// Token is the Vault authentication token
	Token string
	// MountPath is the KV v2 engine mount path (default: "secret")
	MountPath string
	// Timeout for Vault API requests
	Timeout time.Duration
}

// VaultProvider reads fields from KV v2 secrets. Keys have the form
// "path#field"; each path is fetched once per provider.
type VaultProvider struct {
	config *VaultConfig
	client *http.Client

	mu    sync.Mutex
	paths map[string]map[string]any
}

// NewVaultProvider creates a Vault secrets provider.
func NewVaultProvider(config *VaultConfig) (*VaultProvider, error) {
	if config == nil || config.Address == "" {
		return nil, fmt.Errorf("vault address required")
	}
	if config.Token == "" {
		return nil, fmt.Errorf("vault token required")
	}
	cfg := *config
	if cfg.MountPath == "" {
		cfg.MountPath = "secret"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &VaultProvider{
		config: &cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		paths:  make(map[string]map[string]any),
	}, nil
}

func (p *VaultProvider) Name() string { return "vault" }

func (p *VaultProvider) Get(ctx context.Context, key string) (string, error) {
	path, field, ok := strings.Cut(key, "#")
	if !ok || path == "" || field == "" {
		return "", fmt.Errorf("vault reference must be path#field, got %q", key)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}

	val, ok := data[field]
	if !ok {
		return "", fmt.Errorf("field %q not found at %s", field, path)
	}
	if s, ok := val.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", val), nil
}

func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.paths[path]; ok {
		return data, nil
	}

	url := fmt.Sprintf("%s/v1/%s/data/%s",
		strings.TrimSuffix(p.config.Address, "/"),
		p.config.MountPath,
		strings.TrimPrefix(path, "/"),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.config.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("secret path not found: %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("vault error %d: %s", resp.StatusCode, body)
	}

	var result struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	p.paths[path] = result.Data.Data
	return result.Data.Data, nil
}
