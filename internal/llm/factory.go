package llm

import (
	"fmt"
	"sort"
	"time"
)

// Provider kinds understood by the gateway.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindYandexGPT = "yandexgpt"
)

// ProviderConfig holds all configuration needed to create any provider.
type ProviderConfig struct {
	Kind     string // "openai", "anthropic", "yandexgpt"
	APIKey   string
	BaseURL  string // Override for proxies / self-hosted endpoints
	FolderID string // Yandex Cloud folder, yandexgpt only

	// Timeout bounds a single HTTP exchange (default: 2 minutes).
	Timeout time.Duration
}

// DefaultTimeout is used when a ProviderConfig leaves Timeout unset.
const DefaultTimeout = 2 * time.Minute

// TimeoutOrDefault returns the configured timeout or DefaultTimeout.
func (c ProviderConfig) TimeoutOrDefault() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// ProviderFactory creates Provider instances from config.
type ProviderFactory struct {
	constructors map[string]ProviderConstructor
}

// ProviderConstructor builds a Provider from config.
type ProviderConstructor func(cfg ProviderConfig) (Provider, error)

// NewFactory creates an empty factory.
func NewFactory() *ProviderFactory {
	return &ProviderFactory{
		constructors: make(map[string]ProviderConstructor),
	}
}

// Register adds a provider constructor under the given kind.
func (f *ProviderFactory) Register(kind string, ctor ProviderConstructor) {
	f.constructors[kind] = ctor
}

// Create builds a Provider from config.
func (f *ProviderFactory) Create(cfg ProviderConfig) (Provider, error) {
	ctor, ok := f.constructors[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("%w %q (registered: %v)", ErrUnsupportedProvider, cfg.Kind, f.Kinds())
	}
	return ctor(cfg)
}

// CreateAll builds one provider per config entry, keyed by kind.
func (f *ProviderFactory) CreateAll(cfgs []ProviderConfig) (map[string]Provider, error) {
	out := make(map[string]Provider, len(cfgs))
	for _, cfg := range cfgs {
		p, err := f.Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("creating %s provider: %w", cfg.Kind, err)
		}
		out[cfg.Kind] = p
	}
	return out, nil
}

// Kinds returns the registered provider kinds in sorted order.
func (f *ProviderFactory) Kinds() []string {
	var out []string
	for k := range f.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KnownProviders documents the built-in providers and their default endpoints.
//
//	openai    → https://api.openai.com/v1
//	anthropic → https://api.anthropic.com/v1
//	yandexgpt → https://llm.api.cloud.yandex.net
var KnownProviders = map[string]string{
	KindOpenAI:    "https://api.openai.com/v1",
	KindAnthropic: "https://api.anthropic.com/v1",
	KindYandexGPT: "https://llm.api.cloud.yandex.net",
}
