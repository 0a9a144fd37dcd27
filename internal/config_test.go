package internal

import (
	"strings"
	"testing"

	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/wechat"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfigValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLogConfig(t *testing.T) {
	cfg := LogConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty log config: %v", err)
	}
	if cfg.Format != LogFormatJSON {
		t.Errorf("format = %q, want %q", cfg.Format, LogFormatJSON)
	}
	cfg.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestSQLiteConfig_DisabledNeedsNoPath(t *testing.T) {
	if err := (&SQLiteConfig{Disabled: true}).Validate(); err != nil {
		t.Errorf("disabled sqlite: %v", err)
	}
	if err := (&SQLiteConfig{}).Validate(); err == nil {
		t.Error("enabled sqlite without path should fail")
	}
}

func TestWeChatConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.WeChat.Accounts = []wechat.Account{{Name: "main", AppID: "wx1", AppSecret: "s"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid account: %v", err)
	}
	if got := cfg.WeChat.DefaultAccount(); got != "main" {
		t.Errorf("DefaultAccount() = %q, want main", got)
	}

	cfg.WeChat.Accounts = append(cfg.WeChat.Accounts, wechat.Account{Name: "alt", AppID: "wx2", AppSecret: "s"})
	if got := cfg.WeChat.DefaultAccount(); got != "" {
		t.Errorf("two accounts without selection: DefaultAccount() = %q", got)
	}
	cfg.WeChat.SelectedAccount = "alt"
	if got := cfg.WeChat.DefaultAccount(); got != "alt" {
		t.Errorf("DefaultAccount() = %q, want alt", got)
	}

	cfg.WeChat.SelectedAccount = "ghost"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Errorf("unknown selected account: err = %v", err)
	}

	cfg.WeChat.SelectedAccount = ""
	cfg.WeChat.Accounts = append(cfg.WeChat.Accounts, wechat.Account{Name: "main", AppID: "wx3", AppSecret: "s"})
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("duplicate account: err = %v", err)
	}

	cfg.WeChat.Accounts = []wechat.Account{{Name: "x"}}
	if err := cfg.Validate(); err == nil {
		t.Error("account without credentials should fail")
	}
}

func TestHaloConfig(t *testing.T) {
	cfg := HaloConfig{
		DefaultSite: "blog",
		Sites:       []halo.Site{{Name: "blog", URL: "https://blog.example.com", Token: "pat"}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid site: %v", err)
	}
	cfg.Sites[0].URL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Error("invalid url should fail")
	}
	cfg.Sites[0].URL = "https://blog.example.com"
	cfg.DefaultSite = "other"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown default site should fail")
	}
}
