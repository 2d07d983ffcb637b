package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

// Polling defaults for Kandinsky jobs.
const (
	DefaultPollAttempts = 10
	DefaultPollInterval = 10 * time.Second
	// DefaultRequestTimeout bounds each FusionBrain HTTP call.
	DefaultRequestTimeout = 30 * time.Second
)

const (
	kandinskyBaseURL      = "https://api-key.fusionbrain.ai/key/api/v1"
	kandinskySide         = 512
	kandinskyStatusDone   = "DONE"
	kandinskyStatusFailed = "FAIL"
)

// KandinskyConfig configures the FusionBrain backend.
type KandinskyConfig struct {
	APIKey    string
	APISecret string
	BaseURL   string

	// Timeout bounds each HTTP call (default: 30s).
	Timeout time.Duration

	// PollAttempts bounds the number of status checks (default: 10).
	PollAttempts int
	// PollInterval is the wait between status checks (default: 10s).
	PollInterval time.Duration
}

// Kandinsky generates images through the FusionBrain async API: a job is
// started and its status polled until it is done, failed, or the attempts
// run out.
type Kandinsky struct {
	cfg  KandinskyConfig
	http *http.Client
}

// NewKandinsky creates a Kandinsky backend, filling unset fields with
// defaults.
func NewKandinsky(cfg KandinskyConfig) *Kandinsky {
	if cfg.BaseURL == "" {
		cfg.BaseURL = kandinskyBaseURL
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	return &Kandinsky{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type kandinskyParams struct {
	Type           string `json:"type"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	NumImages      int    `json:"num_images"`
	GenerateParams struct {
		Query string `json:"query"`
	} `json:"generateParams"`
}

type kandinskyStatus struct {
	UUID             string   `json:"uuid"`
	Status           string   `json:"status"`
	Images           []string `json:"images"`
	Censored         bool     `json:"censored"`
	ErrorDescription string   `json:"errorDescription"`
}

func (k *Kandinsky) Generate(ctx context.Context, prompt string) (Result, error) {
	modelID, err := k.model(ctx)
	if err != nil {
		return Result{}, err
	}

	jobID, err := k.run(ctx, modelID, prompt)
	if err != nil {
		return Result{}, err
	}

	for attempt := 1; attempt <= k.cfg.PollAttempts; attempt++ {
		var st kandinskyStatus
		if err := k.do(ctx, http.MethodGet, "/text2image/status/"+jobID, nil, "", &st); err != nil {
			return Result{Polls: attempt}, err
		}

		switch st.Status {
		case kandinskyStatusDone:
			if len(st.Images) == 0 {
				return Result{Polls: attempt}, fmt.Errorf("kandinsky: job %s done without images", jobID)
			}
			return Result{
				Success:  true,
				ImageRef: st.Images[0],
				Encoding: EncodingBase64,
				Censored: st.Censored,
				Polls:    attempt,
			}, nil
		case kandinskyStatusFailed:
			return Result{Failure: llm.FailureUnavailable, Polls: attempt}, nil
		}

		if attempt == k.cfg.PollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Result{Polls: attempt}, ctx.Err()
		case <-time.After(k.cfg.PollInterval):
		}
	}

	return Result{Failure: llm.FailureTransport, Polls: k.cfg.PollAttempts}, nil
}

func (k *Kandinsky) model(ctx context.Context) (string, error) {
	var models []struct {
		ID int `json:"id"`
	}
	if err := k.do(ctx, http.MethodGet, "/models", nil, "", &models); err != nil {
		return "", err
	}
	if len(models) == 0 {
		return "", fmt.Errorf("kandinsky: no models available")
	}
	return strconv.Itoa(models[0].ID), nil
}

func (k *Kandinsky) run(ctx context.Context, modelID, prompt string) (string, error) {
	params := kandinskyParams{
		Type:      "GENERATE",
		Width:     kandinskySide,
		Height:    kandinskySide,
		NumImages: 1,
	}
	params.GenerateParams.Query = prompt
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("model_id", modelID); err != nil {
		return "", err
	}
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="params"`)
	hdr.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(paramsJSON); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var st kandinskyStatus
	if err := k.do(ctx, http.MethodPost, "/text2image/run", &buf, mw.FormDataContentType(), &st); err != nil {
		return "", err
	}
	if st.UUID == "" {
		return "", fmt.Errorf("kandinsky: run response has no job id")
	}
	return st.UUID, nil
}

func (k *Kandinsky) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, k.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("X-Key", "Key "+k.cfg.APIKey)
	req.Header.Set("X-Secret", "Secret "+k.cfg.APISecret)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := k.http.Do(req)
	if err != nil {
		return fmt.Errorf("kandinsky %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("kandinsky read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return llm.NewAPIError(ModeKandinsky, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("kandinsky decode %s: %w", path, err)
	}
	return nil
}
