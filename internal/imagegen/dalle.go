package imagegen

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
	dallEBaseURL = "https://api.openai.com/v1"
	dallESize    = "512x512"
)

// DallE generates images through the OpenAI images API.
type DallE struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewDallE creates a DALL-E backend. An empty baseURL selects the public API
// and a non-positive timeout selects llm.DefaultTimeout.
func NewDallE(apiKey, baseURL string, timeout time.Duration) *DallE {
	if baseURL == "" {
		baseURL = dallEBaseURL
	}
	if timeout <= 0 {
		timeout = llm.DefaultTimeout
	}
	return &DallE{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (d *DallE) Generate(ctx context.Context, prompt string) (Result, error) {
	data, err := json.Marshal(map[string]any{
		"prompt": prompt,
		"n":      1,
		"size":   dallESize,
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/images/generations", bytes.NewReader(data))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("dall-e request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("dall-e read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, llm.NewAPIError(ModeDallE, resp.StatusCode, body)
	}

	var result struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return Result{}, fmt.Errorf("dall-e decode: %w", err)
	}
	if len(result.Data) == 0 || result.Data[0].URL == "" {
		return Result{}, fmt.Errorf("dall-e: response has no image")
	}

	return Result{
		Success:  true,
		ImageRef: result.Data[0].URL,
		Encoding: EncodingURL,
	}, nil
}
