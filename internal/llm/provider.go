package llm

import "context"

// Provider is the interface all text generation backends must implement.
type Provider interface {
	// Complete sends a transcript and returns the generated answer.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// RequestOptions carries per-call generation settings. Model is resolved per
// chat, so it travels with the request rather than the client.
type RequestOptions struct {
	Model       string
	MaxTokens   *int
	Temperature *float64
}

// ModelOr returns the requested model or fallback when none was set.
func (o *RequestOptions) ModelOr(fallback string) string {
	if o == nil || o.Model == "" {
		return fallback
	}
	return o.Model
}
