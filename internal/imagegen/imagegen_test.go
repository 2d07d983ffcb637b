package imagegen

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/efebarandurmaz/chatrelay/internal/llm"
	"github.com/efebarandurmaz/chatrelay/internal/observability"
)

func TestDallE_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["prompt"] != "кот в сапогах" || body["n"] != float64(1) || body["size"] != "512x512" {
			t.Errorf("unexpected body %v", body)
		}
		io.WriteString(w, `{"data":[{"url":"https://img.example/cat.png"}]}`)
	}))
	defer srv.Close()

	res, err := NewDallE("sk-test", srv.URL, time.Second).Generate(context.Background(), "кот в сапогах")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Success || res.ImageRef != "https://img.example/cat.png" || res.Encoding != EncodingURL {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestDallE_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":"content_policy_violation"}}`)
	}))
	defer srv.Close()

	_, err := NewDallE("k", srv.URL, time.Second).Generate(context.Background(), "x")
	if llm.Classify(err) != llm.FailureRejected {
		t.Fatalf("expected rejected failure, got %v", err)
	}
}

// fusionBrain is a scripted FusionBrain server. statuses is consumed one per
// status request; the last entry repeats.
type fusionBrain struct {
	t        *testing.T
	statuses []string
	polls    atomic.Int32
}

func (f *fusionBrain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Key") != "Key kk" || r.Header.Get("X-Secret") != "Secret ss" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/models":
		io.WriteString(w, `[{"id":4,"name":"Kandinsky"},{"id":1}]`)
	case r.Method == http.MethodPost && r.URL.Path == "/text2image/run":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			f.t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("model_id"); got != "4" {
			f.t.Errorf("model_id = %q", got)
		}
		var params kandinskyParams
		if err := json.Unmarshal([]byte(r.FormValue("params")), &params); err != nil {
			f.t.Errorf("params: %v", err)
		}
		if params.Type != "GENERATE" || params.Width != 512 || params.NumImages != 1 || params.GenerateParams.Query != "закат" {
			f.t.Errorf("unexpected params %+v", params)
		}
		if ct := r.MultipartForm.File; len(ct) != 0 {
			f.t.Errorf("unexpected file parts %v", ct)
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"uuid":"job-1","status":"INITIAL"}`)
	case r.Method == http.MethodGet && r.URL.Path == "/text2image/status/job-1":
		n := int(f.polls.Add(1))
		status := f.statuses[min(n, len(f.statuses))-1]
		resp := kandinskyStatus{UUID: "job-1", Status: status}
		if status == "DONE" {
			resp.Images = []string{"aGVsbG8="}
			resp.Censored = true
		}
		json.NewEncoder(w).Encode(resp)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

func newKandinsky(url string, attempts int) *Kandinsky {
	return NewKandinsky(KandinskyConfig{
		APIKey:       "kk",
		APISecret:    "ss",
		BaseURL:      url,
		Timeout:      time.Second,
		PollAttempts: attempts,
		PollInterval: time.Millisecond,
	})
}

func TestKandinsky_DoneAfterPolling(t *testing.T) {
	fb := &fusionBrain{t: t, statuses: []string{"INITIAL", "PROCESSING", "DONE"}}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	res, err := newKandinsky(srv.URL, 10).Generate(context.Background(), "закат")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !res.Success || res.ImageRef != "aGVsbG8=" || res.Encoding != EncodingBase64 || !res.Censored {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Polls != 3 || fb.polls.Load() != 3 {
		t.Errorf("polls = %d (server saw %d), want 3", res.Polls, fb.polls.Load())
	}
}

func TestKandinsky_NeverDone(t *testing.T) {
	fb := &fusionBrain{t: t, statuses: []string{"PROCESSING"}}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	res, err := newKandinsky(srv.URL, 4).Generate(context.Background(), "закат")
	if err != nil {
		t.Fatalf("exhausted polling should not be an error, got %v", err)
	}
	if res.Success {
		t.Fatal("expected no image")
	}
	if got := fb.polls.Load(); got != 4 {
		t.Errorf("server saw %d polls, want exactly 4", got)
	}
}

func TestKandinsky_FailStopsEarly(t *testing.T) {
	fb := &fusionBrain{t: t, statuses: []string{"PROCESSING", "FAIL"}}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	res, err := newKandinsky(srv.URL, 10).Generate(context.Background(), "закат")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Success || res.Failure != llm.FailureUnavailable {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := fb.polls.Load(); got != 2 {
		t.Errorf("server saw %d polls, want 2", got)
	}
}

func TestKandinsky_ContextCancelledWhileWaiting(t *testing.T) {
	fb := &fusionBrain{t: t, statuses: []string{"PROCESSING"}}
	srv := httptest.NewServer(fb)
	defer srv.Close()

	k := NewKandinsky(KandinskyConfig{
		APIKey: "kk", APISecret: "ss", BaseURL: srv.URL,
		PollAttempts: 10, PollInterval: time.Hour,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := k.Generate(ctx, "закат")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if llm.Classify(err) != llm.FailureTransport {
		t.Errorf("expected transport classification")
	}
}

func TestKandinsky_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(&fusionBrain{t: t})
	defer srv.Close()

	k := NewKandinsky(KandinskyConfig{APIKey: "wrong", APISecret: "ss", BaseURL: srv.URL})
	_, err := k.Generate(context.Background(), "x")

	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 APIError, got %v", err)
	}
}

func TestNewKandinsky_Defaults(t *testing.T) {
	k := NewKandinsky(KandinskyConfig{})
	if k.cfg.BaseURL != kandinskyBaseURL || k.cfg.PollAttempts != DefaultPollAttempts {
		t.Fatalf("unexpected defaults %+v", k.cfg)
	}
	if k.http.Timeout != DefaultRequestTimeout {
		t.Fatalf("http timeout = %v, want %v", k.http.Timeout, DefaultRequestTimeout)
	}
}

func TestNewDallE_DefaultTimeout(t *testing.T) {
	if d := NewDallE("sk", "", 0); d.http.Timeout != llm.DefaultTimeout {
		t.Fatalf("http timeout = %v, want %v", d.http.Timeout, llm.DefaultTimeout)
	}
}

func TestKandinsky_StalledEndpointTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	k := NewKandinsky(KandinskyConfig{
		APIKey:       "kk",
		APISecret:    "ss",
		BaseURL:      srv.URL,
		Timeout:      50 * time.Millisecond,
		PollAttempts: 10,
		PollInterval: 10 * time.Second,
	})

	done := make(chan error, 1)
	go func() {
		_, err := k.Generate(context.Background(), "закат")
		done <- err
	}()

	select {
	case err := <-done:
		if got := llm.Classify(err); got != llm.FailureTransport {
			t.Fatalf("expected transport failure, got %s (%v)", got, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Generate did not return on a stalled endpoint")
	}
}

type stubBackend struct {
	res Result
	err error
}

func (s stubBackend) Generate(context.Context, string) (Result, error) { return s.res, s.err }

func TestGateway_Generate(t *testing.T) {
	m := observability.NewRelayMetrics(observability.NewMetricsRegistry())
	g := New(map[string]Backend{
		ModeDallE:     stubBackend{err: llm.NewAPIError(ModeDallE, http.StatusBadRequest, []byte("nope"))},
		ModeKandinsky: stubBackend{res: Result{Success: true, ImageRef: "b64", Encoding: EncodingBase64}},
	}, WithMetrics(m))

	res := g.Generate(context.Background(), "x", ModeDallE)
	if res.Success || res.Failure != llm.FailureRejected {
		t.Errorf("dall-e: unexpected result %+v", res)
	}

	res = g.Generate(context.Background(), "x", ModeKandinsky)
	if !res.Success || res.ImageRef != "b64" {
		t.Errorf("kandinsky: unexpected result %+v", res)
	}

	res = g.Generate(context.Background(), "x", "midjourney")
	if res.Success || res.Failure != llm.FailureUnsupported {
		t.Errorf("unknown mode: unexpected result %+v", res)
	}

	var buf strings.Builder
	m.Registry().WritePrometheus(&buf)
	if !strings.Contains(buf.String(), `chatrelay_image_generations_total{mode="kandinsky",outcome="success"} 1`) {
		t.Errorf("missing success counter:\n%s", buf.String())
	}
}
