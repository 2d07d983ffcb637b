// Package yandexgpt implements llm.Provider for the YandexGPT foundation
// models completion endpoint.
package yandexgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

const (
	defaultBaseURL = "https://llm.api.cloud.yandex.net"
	defaultModel   = "yandexgpt-lite"
	completionPath = "/foundationModels/v1/completion"

	temperature = 0.6
	maxTokens   = "1000"
)

// Client talks to YandexGPT over plain HTTP.
type Client struct {
	apiKey   string
	folderID string
	baseURL  string
	http     *http.Client
}

// New creates a YandexGPT provider.
func New(apiKey, folderID, baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:   apiKey,
		folderID: folderID,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return llm.KindYandexGPT }

type message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []message         `json:"messages"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message message `json:"message"`
			Status  string  `json:"status"`
		} `json:"alternatives"`
		Usage struct {
			InputTextTokens  string `json:"inputTextTokens"`
			CompletionTokens string `json:"completionTokens"`
		} `json:"usage"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

// ModelURI builds the gpt://<folder>/<model> identifier.
func (c *Client) ModelURI(model string) string {
	return fmt.Sprintf("gpt://%s/%s", c.folderID, model)
}

func (c *Client) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	msgs := make([]message, 0, len(prompt.Messages))
	for _, m := range prompt.Messages {
		msgs = append(msgs, message{Role: string(m.Role), Text: m.Content})
	}

	data, err := json.Marshal(completionRequest{
		ModelURI: c.ModelURI(opts.ModelOr(defaultModel)),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		},
		Messages: msgs,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionPath, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	req.Header.Set("x-folder-id", c.folderID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yandexgpt request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yandexgpt read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewAPIError(c.Name(), resp.StatusCode, respBody)
	}

	var result completionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("yandexgpt decode: %w", err)
	}
	if len(result.Result.Alternatives) == 0 {
		return nil, fmt.Errorf("yandexgpt: response has no alternatives")
	}

	alt := result.Result.Alternatives[0]
	return &llm.Response{
		Content:    alt.Message.Text,
		Model:      result.Result.ModelVersion,
		StopReason: alt.Status,
	}, nil
}
