package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/efebarandurmaz/chatrelay/internal/bot"
	"github.com/efebarandurmaz/chatrelay/internal/gateway"
	"github.com/efebarandurmaz/chatrelay/internal/gating"
	"github.com/efebarandurmaz/chatrelay/internal/imagegen"
	"github.com/efebarandurmaz/chatrelay/internal/llmutil"
	"github.com/efebarandurmaz/chatrelay/internal/observability"
	"github.com/efebarandurmaz/chatrelay/internal/server"
)

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("telegram.token is required to serve")
	}

	logger := newLogger(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	tp, err := observability.InitTracing(ctx, tracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	providers, err := llmutil.DefaultFactory().CreateAll(cfg.ProviderConfigs())
	if err != nil {
		st.Close()
		return fmt.Errorf("creating LLM providers: %w", err)
	}
	kinds := make([]string, 0, len(providers))
	for kind := range providers {
		kinds = append(kinds, kind)
	}

	metrics := observability.Metrics()
	text := gateway.New(providers, cfg, gateway.WithMetrics(metrics), gateway.WithLogger(logger))
	for _, kind := range cfg.UsedProviders() {
		if !text.Has(kind) {
			logger.Warn("provider used by a chat has no adapter; its chats get a failure text", "provider", kind)
		}
	}
	images := imagegen.New(imageBackends(cfg), imagegen.WithMetrics(metrics), imagegen.WithLogger(logger))

	policy := gating.New(cfg.Bot.Me, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	policy.SilenceProbability = cfg.Bot.SilenceProbability

	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		st.Close()
		return fmt.Errorf("telegram: %w", err)
	}
	api.Debug = cfg.Telegram.Debug

	var limiter *rate.Limiter
	if cfg.Telegram.SendRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Telegram.SendRate), cfg.Telegram.SendBurst)
	}

	b := bot.New(bot.Options{
		API:       api,
		SelfID:    api.Self.ID,
		Settings:  cfg,
		Text:      text,
		Images:    images,
		ImageMode: cfg.Image.Mode,
		Gate:      policy,
		Store:     st,
		TagPrefix: cfg.Store.KeyPrefix,
		Limiter:   limiter,
		Metrics:   metrics,
		Logger:    logger,
	})

	srv := server.NewGracefulServer(
		&server.HealthConfig{Version: version, Addr: cfg.Health.Addr},
		&server.ShutdownConfig{Timeout: 30 * time.Second, Logger: logger},
	)
	srv.Health.Mount("/metrics", metrics.Registry().Handler())
	srv.Health.RegisterCheck("store", server.StoreHealthChecker(st.Name(), st.Ping))
	srv.Health.RegisterCheck("llm", server.ProvidersHealthChecker(kinds))
	srv.Health.RegisterCheck("telegram", server.TelegramHealthChecker(func(context.Context) error {
		_, err := api.GetMe()
		return err
	}))

	// Run returns once the update channel is closed and handlers are done.
	runDone := make(chan struct{})
	srv.RegisterHook(server.BotShutdownHook(api.StopReceivingUpdates, func() { <-runDone }))
	srv.RegisterHook(server.StoreShutdownHook(st.Close))
	srv.RegisterHook(server.TracingShutdownHook(tp.Shutdown))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.PollTimeout
	updates := api.GetUpdatesChan(u)

	logger.Info("chatrelay started",
		"bot", api.Self.UserName,
		"providers", kinds,
		"image_mode", cfg.Image.Mode,
		"store", st.Name(),
		"health_addr", cfg.Health.Addr,
	)

	go func() {
		defer close(runDone)
		b.Run(context.Background(), updates)
	}()
	srv.Start(cfg.Health.Addr)
	srv.Wait()

	logger.Info("chatrelay stopped")
	return nil
}
