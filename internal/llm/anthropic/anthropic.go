package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	defaultModel     = "claude-instant-1.2"
	defaultMaxTokens = 1024
	apiVersion       = "2023-06-01"

	humanPrompt = "\n\nHuman:"
	aiPrompt    = "\n\nAssistant:"
)

const preamble = "Below is a back and forth between a user and a bot.\n" +
	"User turns are wrapped in <user> tags, bot turns are wrapped in <assistant> tags."

// Client implements llm.Provider for the Anthropic text completions API.
// That API has no role structure, so the transcript is flattened into a
// single tagged prompt by BuildPrompt.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates an Anthropic provider.
func New(apiKey, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return llm.KindAnthropic }

// BuildPrompt serializes a transcript into the Human/Assistant completion
// format. Non-system turns become <role>text</role> blocks in order; the
// system instruction goes after them, followed by the answering rules.
func BuildPrompt(prompt *llm.Prompt) string {
	var b strings.Builder
	b.WriteString(humanPrompt)
	b.WriteString(preamble)

	for _, m := range prompt.Messages {
		if m.Role == llm.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "\n<%s>%s</%s>", m.Role, m.Content, m.Role)
	}
	if system, ok := prompt.System(); ok && system != "" {
		b.WriteString("\n")
		b.WriteString(system)
	}
	b.WriteString("\nTreat the last user turn that has no bot answer as the request to answer.")
	b.WriteString("\nRespond ONLY with text and no tags.")
	b.WriteString(aiPrompt)
	return b.String()
}

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	maxTokens := defaultMaxTokens
	if opts != nil && opts.MaxTokens != nil {
		maxTokens = *opts.MaxTokens
	}

	body := map[string]any{
		"model":                opts.ModelOr(defaultModel),
		"prompt":               BuildPrompt(prompt),
		"max_tokens_to_sample": maxTokens,
	}
	if opts != nil && opts.Temperature != nil {
		body["temperature"] = *opts.Temperature
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/complete", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewAPIError(c.Name(), resp.StatusCode, respBody)
	}

	var result struct {
		Completion string `json:"completion"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("anthropic decode: %w", err)
	}

	return &llm.Response{
		Content:    llm.NeutralizeTags(strings.TrimSpace(result.Completion)),
		Model:      result.Model,
		StopReason: result.StopReason,
	}, nil
}
