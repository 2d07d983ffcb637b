package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/efebarandurmaz/chatrelay/internal/config"
	"github.com/efebarandurmaz/chatrelay/internal/imagegen"
	"github.com/efebarandurmaz/chatrelay/internal/observability"
	"github.com/efebarandurmaz/chatrelay/internal/secrets"
	"github.com/efebarandurmaz/chatrelay/internal/store"
)

// loadConfig reads the config and resolves credential references.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	var vault *secrets.VaultConfig
	if v := cfg.Secrets.Vault; v.Address != "" {
		vault = &secrets.VaultConfig{
			Address:   v.Address,
			Token:     v.Token,
			MountPath: v.Mount,
			Timeout:   v.Timeout,
		}
	}
	resolver, err := secrets.NewResolver(&secrets.Config{Vault: vault})
	if err != nil {
		return nil, err
	}
	if err := cfg.ResolveSecrets(ctx, resolver); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func tracingConfig(cfg *config.Config) *observability.TracingConfig {
	tc := observability.DefaultTracingConfig()
	tc.ServiceVersion = version
	tc.OTLPEndpoint = cfg.Tracing.Endpoint
	if cfg.Tracing.Environment != "" {
		tc.Environment = cfg.Tracing.Environment
	}
	if cfg.Tracing.SampleRate > 0 {
		tc.SampleRate = cfg.Tracing.SampleRate
	}
	return tc
}

func storeConfig(cfg *config.Config) store.Config {
	return store.Config{
		Backend:    cfg.Store.Backend,
		RedisURL:   cfg.Store.RedisURL,
		SQLitePath: cfg.Store.SQLitePath,
	}
}

// imageBackends builds every image backend that has credentials.
func imageBackends(cfg *config.Config) map[string]imagegen.Backend {
	backends := make(map[string]imagegen.Backend)
	if p := cfg.Providers.OpenAI; p.APIKey != "" {
		backends[imagegen.ModeDallE] = imagegen.NewDallE(p.APIKey, p.BaseURL, p.Timeout)
	}
	if k := cfg.Image.Kandinsky; k.APIKey != "" && k.APISecret != "" {
		backends[imagegen.ModeKandinsky] = imagegen.NewKandinsky(imagegen.KandinskyConfig{
			APIKey:       k.APIKey,
			APISecret:    k.APISecret,
			BaseURL:      k.BaseURL,
			Timeout:      k.Timeout,
			PollAttempts: k.PollAttempts,
			PollInterval: k.PollInterval,
		})
	}
	return backends
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, storeConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return st, nil
}
