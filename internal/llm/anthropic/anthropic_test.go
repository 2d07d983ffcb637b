package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
)

func transcript() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a grumpy bot."},
		{Role: llm.RoleUser, Content: "hello there"},
		{Role: llm.RoleAssistant, Content: "what now"},
		{Role: llm.RoleUser, Content: "tell me a joke"},
	}
}

func TestNew_SetsDefaults(t *testing.T) {
	client := New("test-key", "", 0)

	if client.apiKey != "test-key" {
		t.Errorf("expected apiKey 'test-key', got %q", client.apiKey)
	}
	if client.baseURL != defaultBaseURL {
		t.Errorf("expected default baseURL %q, got %q", defaultBaseURL, client.baseURL)
	}
	if client.http == nil {
		t.Error("expected http client to be initialized")
	}
}

func TestName(t *testing.T) {
	if New("key", "", 0).Name() != "anthropic" {
		t.Error("expected name 'anthropic'")
	}
}

func TestBuildPrompt_Layout(t *testing.T) {
	prompt := BuildPrompt(&llm.Prompt{Messages: transcript()})

	if !strings.HasPrefix(prompt, "\n\nHuman:") {
		t.Errorf("prompt must start with the human marker, got %q", prompt[:20])
	}
	if !strings.HasSuffix(prompt, "\n\nAssistant:") {
		t.Error("prompt must end with the assistant marker")
	}

	order := []string{
		"<user>hello there</user>",
		"<assistant>what now</assistant>",
		"<user>tell me a joke</user>",
		"You are a grumpy bot.",
		"Respond ONLY with text and no tags.",
	}
	last := -1
	for _, part := range order {
		idx := strings.Index(prompt, part)
		if idx == -1 {
			t.Fatalf("prompt is missing %q:\n%s", part, prompt)
		}
		if idx < last {
			t.Fatalf("%q appears out of order:\n%s", part, prompt)
		}
		last = idx
	}
	if strings.Contains(prompt, "<system>") {
		t.Error("system message must not be wrapped in a tag")
	}
}

func TestBuildPrompt_NoSystem(t *testing.T) {
	prompt := BuildPrompt(&llm.Prompt{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	if !strings.Contains(prompt, "<user>hi</user>") {
		t.Fatalf("expected user block, got %q", prompt)
	}
}

func TestBuildPrompt_FirstSystemMessageOnly(t *testing.T) {
	prompt := BuildPrompt(&llm.Prompt{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "You are a grumpy bot."},
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleSystem, Content: "You are a cheerful bot."},
	}})
	if !strings.Contains(prompt, "You are a grumpy bot.") {
		t.Errorf("first system message missing:\n%s", prompt)
	}
	if strings.Contains(prompt, "cheerful") {
		t.Errorf("only the first system message belongs in the prompt:\n%s", prompt)
	}
}

func TestComplete_CorrectRequest(t *testing.T) {
	var capturedHeaders http.Header
	var capturedPath string
	var capturedBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedHeaders = r.Header
		capturedPath = r.URL.Path
		bodyBytes, _ := io.ReadAll(r.Body)
		json.Unmarshal(bodyBytes, &capturedBody)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"completion": " sure", "model": "claude-instant-1.2"})
	}))
	defer server.Close()

	client := New("test-api-key", server.URL, 0)
	_, err := client.Complete(context.Background(), &llm.Prompt{Messages: transcript()}, &llm.RequestOptions{Model: "claude-2.1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if capturedPath != "/complete" {
		t.Errorf("expected /complete, got %q", capturedPath)
	}
	if capturedHeaders.Get("x-api-key") != "test-api-key" {
		t.Errorf("expected x-api-key 'test-api-key', got %q", capturedHeaders.Get("x-api-key"))
	}
	if capturedHeaders.Get("anthropic-version") != "2023-06-01" {
		t.Errorf("expected anthropic-version '2023-06-01', got %q", capturedHeaders.Get("anthropic-version"))
	}
	if capturedBody["model"] != "claude-2.1" {
		t.Errorf("expected model 'claude-2.1', got %v", capturedBody["model"])
	}
	if capturedBody["max_tokens_to_sample"] != float64(1024) {
		t.Errorf("expected max_tokens_to_sample 1024, got %v", capturedBody["max_tokens_to_sample"])
	}
	if capturedBody["prompt"] != BuildPrompt(&llm.Prompt{Messages: transcript()}) {
		t.Errorf("unexpected prompt body: %v", capturedBody["prompt"])
	}
	if _, ok := capturedBody["messages"]; ok {
		t.Error("text completions request must not carry a messages list")
	}
}

func TestComplete_NeutralizesTags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"completion":  " <assistant>Knock knock</assistant> ",
			"stop_reason": "stop_sequence",
		})
	}))
	defer server.Close()

	resp, err := New("key", server.URL, 0).Complete(context.Background(), &llm.Prompt{Messages: transcript()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.ContainsAny(resp.Content, "<>") {
		t.Fatalf("angle brackets leaked into reply: %q", resp.Content)
	}
	if resp.Content != "[assistant]Knock knock[/assistant]" {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.StopReason != "stop_sequence" {
		t.Errorf("expected stop_reason 'stop_sequence', got %q", resp.StopReason)
	}
}

func TestComplete_HandlesNon200StatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
	}))
	defer server.Close()

	_, err := New("key", server.URL, 0).Complete(context.Background(), &llm.Prompt{Messages: transcript()}, nil)
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
	if llm.Classify(err) != llm.FailureRateLimited {
		t.Errorf("expected rate limited classification, got %q", llm.Classify(err))
	}
}

func TestComplete_HandlesMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{invalid json`))
	}))
	defer server.Close()

	_, err := New("key", server.URL, 0).Complete(context.Background(), &llm.Prompt{Messages: transcript()}, nil)
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}
