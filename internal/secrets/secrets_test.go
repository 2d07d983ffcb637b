package secrets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestResolver(t *testing.T, cfg *Config) *Resolver {
	t.Helper()
	r, err := NewResolver(cfg)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func TestResolver_PlainValues(t *testing.T) {
	r := newTestResolver(t, nil)

	for _, v := range []string{"", "sk-abc123", "redis://localhost:6379/0", "unknown:scheme", "env:"} {
		got, err := r.Resolve(context.Background(), v)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", v, err)
		}
		if got != v {
			t.Errorf("Resolve(%q) = %q, want unchanged", v, got)
		}
	}
}

func TestResolver_Env(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_TOKEN", "123:abc")
	r := newTestResolver(t, nil)

	got, err := r.Resolve(context.Background(), "env:CHATRELAY_TEST_TOKEN")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "123:abc" {
		t.Fatalf("got %q", got)
	}

	if _, err := r.Resolve(context.Background(), "env:CHATRELAY_TEST_MISSING_XYZ"); err == nil {
		t.Fatal("expected error for unset variable")
	}
}

func TestResolver_EmptyValueIsError(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_EMPTY", "")
	r := newTestResolver(t, nil)

	if _, err := r.Resolve(context.Background(), "env:CHATRELAY_TEST_EMPTY"); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestResolver_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telegram_token")
	if err := os.WriteFile(path, []byte("  file-token\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	r := newTestResolver(t, nil)

	got, err := r.Resolve(context.Background(), "file:"+path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "file-token" {
		t.Fatalf("got %q", got)
	}

	if _, err := r.Resolve(context.Background(), "file:"+filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestResolver_Cache(t *testing.T) {
	t.Setenv("CHATRELAY_TEST_ROTATE", "v1")
	r := newTestResolver(t, nil)
	ctx := context.Background()

	if got, _ := r.Resolve(ctx, "env:CHATRELAY_TEST_ROTATE"); got != "v1" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("CHATRELAY_TEST_ROTATE", "v2")
	if got, _ := r.Resolve(ctx, "env:CHATRELAY_TEST_ROTATE"); got != "v1" {
		t.Fatalf("expected cached v1, got %q", got)
	}
}

func TestResolver_UnregisteredScheme(t *testing.T) {
	r := newTestResolver(t, nil)

	for _, v := range []string{"vault:chatrelay#token", "sk-123", "redis://localhost:6379/0"} {
		got, err := r.Resolve(context.Background(), v)
		if err != nil || got != v {
			t.Errorf("Resolve(%q) = %q, %v; want value unchanged", v, got, err)
		}
	}
}

func vaultServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		switch r.URL.Path {
		case "/v1/secret/data/chatrelay":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":{"data":{"telegram_token":"vault-token","port":6379}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestVaultProvider(t *testing.T) {
	var calls int32
	srv := vaultServer(t, &calls)
	defer srv.Close()

	r := newTestResolver(t, &Config{Vault: &VaultConfig{Address: srv.URL, Token: "root"}})
	ctx := context.Background()

	got, err := r.Resolve(ctx, "vault:chatrelay#telegram_token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "vault-token" {
		t.Fatalf("got %q", got)
	}

	got, err = r.Resolve(ctx, "vault:chatrelay#port")
	if err != nil || got != "6379" {
		t.Fatalf("non-string field: %q, %v", got, err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected one fetch per path, got %d", n)
	}

	if _, err := r.Resolve(ctx, "vault:chatrelay#missing"); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("expected missing field error, got %v", err)
	}
	if _, err := r.Resolve(ctx, "vault:other#x"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected path not found, got %v", err)
	}
	if _, err := r.Resolve(ctx, "vault:chatrelay"); err == nil {
		t.Error("expected error for reference without field")
	}
}

func TestVaultProvider_Forbidden(t *testing.T) {
	var calls int32
	srv := vaultServer(t, &calls)
	defer srv.Close()

	p, err := NewVaultProvider(&VaultConfig{Address: srv.URL, Token: "wrong"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Get(context.Background(), "chatrelay#telegram_token")
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}

func TestNewVaultProvider_Validation(t *testing.T) {
	if _, err := NewVaultProvider(nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewVaultProvider(&VaultConfig{Address: "http://vault:8200"}); err == nil {
		t.Error("expected error for missing token")
	}
	p, err := NewVaultProvider(&VaultConfig{Address: "http://vault:8200", Token: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if p.config.MountPath != "secret" || p.config.Timeout == 0 {
		t.Errorf("defaults not applied: %+v", p.config)
	}
}

func TestNewResolver_VaultError(t *testing.T) {
	if _, err := NewResolver(&Config{Vault: &VaultConfig{Address: "http://vault:8200"}}); err == nil {
		t.Fatal("expected error when vault token is missing")
	}
}
