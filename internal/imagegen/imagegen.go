// Package imagegen generates pictures from a text prompt through DALL-E or
// Kandinsky (FusionBrain).
package imagegen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/observability"
)

// Supported modes.
const (
	ModeDallE     = "dall-e"
	ModeKandinsky = "kandinsky"
)

// Encoding tells the caller how ImageRef must be uploaded.
type Encoding string

const (
	EncodingURL    Encoding = "url"
	EncodingBase64 Encoding = "base64"
)

// Result is the outcome of an image generation.
type Result struct {
	Success  bool
	ImageRef string
	Encoding Encoding
	Censored bool
	Failure  llm.FailureKind

	// Polls is the number of status requests made, zero for synchronous
	// backends.
	Polls int
}

// Backend is a single image generation service.
type Backend interface {
	Generate(ctx context.Context, prompt string) (Result, error)
}

// Gateway dispatches prompts to the backend registered for a mode.
type Gateway struct {
	backends map[string]Backend
	metrics  *observability.RelayMetrics
	logger   *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMetrics records generation outcomes into m.
func WithMetrics(m *observability.RelayMetrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithLogger sets the logger used for upstream errors.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway over backends keyed by mode.
func New(backends map[string]Backend, opts ...Option) *Gateway {
	g := &Gateway{backends: backends, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate produces an image for prompt using mode. Errors are folded into
// Result.Failure; nothing is returned to the chat verbatim.
func (g *Gateway) Generate(ctx context.Context, prompt, mode string) Result {
	ctx, span := observability.StartImageSpan(ctx, mode)
	defer span.End()

	backend, ok := g.backends[mode]
	if !ok {
		observability.RecordError(span, fmt.Errorf("%w %q", llm.ErrUnsupportedProvider, mode))
		g.record(mode, Result{})
		return Result{Failure: llm.FailureUnsupported}
	}

	start := time.Now()
	res, err := backend.Generate(ctx, prompt)
	if err != nil {
		res = Result{Failure: llm.Classify(err), Polls: res.Polls}
		observability.RecordError(span, err)
		g.logger.Error("image generation failed",
			"mode", mode,
			"failure", res.Failure,
			"duration", time.Since(start),
			"error", err,
		)
	} else if !res.Success {
		g.logger.Warn("image generation gave no image",
			"mode", mode,
			"failure", res.Failure,
			"polls", res.Polls,
			"duration", time.Since(start),
		)
	}

	observability.RecordImageResult(span, res.Success, res.Censored, res.Polls)
	g.record(mode, res)
	return res
}

func (g *Gateway) record(mode string, res Result) {
	if g.metrics != nil {
		g.metrics.RecordImage(mode, res.Success, res.Censored)
	}
}
