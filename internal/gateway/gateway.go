// Package gateway turns a transcript into a reply for a chat. It resolves the
// chat's provider and model, calls the adapter, and maps every failure onto a
// short user-facing text. Generate never returns an error.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/llmutil"
	"github.com/efebarandurmaz/chatrelay/internal/observability"
)

// User-facing failure texts.
const (
	TextRateLimited = "Кажется я подустал и воткнулся в рейт-лимит. Давай сделаем перерыв ненадолго."
	TextRejected    = "Beep-bop, кажется я не умею отвечать на такие вопросы"
	TextTransport   = "Кажется у меня сбоит сеть. Ты попробуй позже, а я пока схожу чаю выпью."
	TextUnavailable = "Кажется на той стороне что-то сломалось. Попробуй попозже, а я пока посижу тихонько."
)

// Settings resolves per-chat provider selection at call time.
type Settings interface {
	ProviderForChat(chatID int64) string
	ModelForChat(chatID int64) string
}

// Result is the outcome of Generate. Text is always safe to show in the chat.
type Result struct {
	Success  bool
	Text     string
	Failure  llm.FailureKind
	Provider string
	Model    string
}

// Gateway dispatches transcripts to registered providers.
type Gateway struct {
	providers map[string]llm.Provider
	settings  Settings
	metrics   *observability.RelayMetrics
	logger    *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records request counters and latency into m.
func WithMetrics(m *observability.RelayMetrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger used for upstream errors.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway over providers keyed by kind.
func New(providers map[string]llm.Provider, settings Settings, opts ...Option) *Gateway {
	g := &Gateway{
		providers: providers,
		settings:  settings,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Has reports whether a provider is registered for kind.
func (g *Gateway) Has(kind string) bool {
	_, ok := g.providers[kind]
	return ok
}

// Generate answers the transcript on behalf of chatID.
func (g *Gateway) Generate(ctx context.Context, chatID int64, transcript []llm.Message) Result {
	kind := g.settings.ProviderForChat(chatID)
	model := g.settings.ModelForChat(chatID)

	ctx, span := observability.StartLLMSpan(ctx, kind, model, len(transcript))
	defer span.End()

	provider, ok := g.providers[kind]
	if !ok {
		err := fmt.Errorf("%w %q", llm.ErrUnsupportedProvider, kind)
		if _, known := llm.KnownProviders[kind]; known {
			err = fmt.Errorf("%w %q: api_key is empty", llm.ErrProviderNotConfigured, kind)
		}
		failure := llm.Classify(err)
		observability.RecordError(span, err)
		g.record(kind, model, 0, nil, failure)
		g.logger.Warn("no provider for chat", "chat_id", chatID, "provider", kind, "failure", failure)
		return Result{
			Text:     FailureText(failure, kind),
			Failure:  failure,
			Provider: kind,
			Model:    model,
		}
	}

	start := time.Now()
	resp, err := provider.Complete(ctx, &llm.Prompt{Messages: transcript}, &llm.RequestOptions{Model: model})
	elapsed := time.Since(start)

	text := ""
	if err == nil {
		text = llmutil.StripThinkingTags(resp.Content)
		if text == "" {
			err = fmt.Errorf("%s: empty completion", kind)
		}
	}

	if err != nil {
		failure := llm.Classify(err)
		observability.RecordError(span, err)
		observability.RecordLLMResult(span, 0, 0, elapsed, string(failure))
		g.record(kind, model, elapsed, nil, failure)
		g.logger.Error("generation failed",
			"chat_id", chatID,
			"provider", kind,
			"model", model,
			"failure", failure,
			"duration", elapsed,
			"error", err,
		)
		return Result{
			Text:     FailureText(failure, kind),
			Failure:  failure,
			Provider: kind,
			Model:    model,
		}
	}

	// Metrics stay labelled by the configured model. The upstream model
	// name is free-form and only goes to the span and the result.
	g.record(kind, model, elapsed, resp, llm.FailureNone)
	observability.RecordLLMResult(span, resp.InputTokens, resp.OutputTokens, elapsed, "")
	if resp.Model != "" {
		observability.RecordResponseModel(span, resp.Model)
		model = resp.Model
	}
	g.logger.Debug("generation done",
		"chat_id", chatID,
		"provider", kind,
		"model", model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"duration", elapsed,
	)

	return Result{
		Success:  true,
		Text:     text,
		Provider: kind,
		Model:    model,
	}
}

func (g *Gateway) record(kind, model string, elapsed time.Duration, resp *llm.Response, failure llm.FailureKind) {
	if g.metrics == nil {
		return
	}
	var in, out int
	if resp != nil {
		in, out = resp.InputTokens, resp.OutputTokens
	}
	g.metrics.RecordLLMRequest(kind, model, elapsed, in, out, string(failure))
}

// FailureText returns the chat text for a failure kind.
func FailureText(failure llm.FailureKind, kind string) string {
	switch failure {
	case llm.FailureRateLimited:
		return TextRateLimited
	case llm.FailureRejected:
		return TextRejected
	case llm.FailureTransport:
		return TextTransport
	case llm.FailureUnsupported:
		return "Unsupported provider: " + kind
	case llm.FailureNotConfigured:
		return "Provider not configured: " + kind
	default:
		return TextUnavailable
	}
}
