package internal

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testComponents(t *testing.T, cfg *Config) *Components {
	t.Helper()
	dir := t.TempDir()
	cfg.Vault.Path = filepath.Join(dir, "vault")
	cfg.SQLite.Path = filepath.Join(dir, "drafts.db")
	cfg.Drafts.FallbackFile = filepath.Join(dir, "drafts.json")
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	c, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHTTPHandler_Health(t *testing.T) {
	cfg := NewDefaultConfig()
	c := testComponents(t, cfg)
	srv := httptest.NewServer(NewHTTPHandler(cfg, c, "1.2.3"))
	defer srv.Close()

	for _, p := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(srv.URL + p)
		if err != nil {
			t.Fatal(err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"ok"`) {
			t.Errorf("%s: status %d body %s", p, resp.StatusCode, body)
		}
		if p == "/health/live" && !strings.Contains(string(body), "1.2.3") {
			t.Errorf("live probe missing version: %s", body)
		}
	}
}

func TestHTTPHandler_AuthAndPreview(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth = AuthConfig{Mode: AuthModeToken, Token: "secret"}
	c := testComponents(t, cfg)
	if err := os.WriteFile(filepath.Join(cfg.Vault.Path, "hello.md"), []byte("# Hello\n\nworld\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c.Vault.Invalidate()

	srv := httptest.NewServer(NewHTTPHandler(cfg, c, "dev"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/notes/hello.md/preview")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/notes/hello.md/preview", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "world") {
		t.Errorf("preview: status %d body %s", resp.StatusCode, body)
	}
}

func TestBuild_PlatformsOptional(t *testing.T) {
	cfg := NewDefaultConfig()
	c := testComponents(t, cfg)
	if _, err := c.Service.SendWeChat(t.Context(), "x.md", "", ""); err == nil {
		t.Error("wechat without accounts should fail")
	}
	if _, err := c.Service.PublishHalo(t.Context(), "x.md", "", nil); err == nil {
		t.Error("halo without sites should fail")
	}
}

func TestNewLogger_File(t *testing.T) {
	p := filepath.Join(t.TempDir(), "inkwell.log")
	log, closer := NewLogger(LogConfig{Format: LogFormatText, File: p, MaxSizeMB: 1}, os.Stdout)
	log.Info("hello", slog.String("k", "v"))
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(string(data), "k=v") {
		t.Errorf("log file = %q", data)
	}
}
