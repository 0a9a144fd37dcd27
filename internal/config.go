package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/wechat"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Log formats.
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Drafts  DraftsConfig      `yaml:"drafts"`
	Auth    AuthConfig        `yaml:"auth"`
	Theme   ThemeConfig       `yaml:"theme"`
	Render  RenderConfig      `yaml:"render"`
	Fetch   FetchConfig       `yaml:"fetch"`
	WeChat  WeChatConfig      `yaml:"wechat"`
	RedBook RedBookConfig     `yaml:"redbook"`
	Halo    HaloConfig        `yaml:"halo"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	sections := []struct {
		name string
		v    validation.Validatable
	}{
		{"app", &c.App},
		{"vault", &c.Vault},
		{"sqlite", &c.SQLite},
		{"auth", &c.Auth},
		{"theme", &c.Theme},
		{"render", &c.Render},
		{"wechat", &c.WeChat},
		{"halo", &c.Halo},
	}
	for _, s := range sections {
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	Log  LogConfig  `yaml:"log"`
	HTTP HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// LogConfig selects the log handler and destination. An empty File logs
// to stdout.
type LogConfig struct {
	Level      slog.Level `yaml:"level"`
	Format     string     `yaml:"format"`
	File       string     `yaml:"file"`
	MaxSizeMB  int        `yaml:"max_size_mb"`
	MaxBackups int        `yaml:"max_backups"`
	MaxAgeDays int        `yaml:"max_age_days"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	if c.Format == "" {
		c.Format = LogFormatJSON
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.In(LogFormatJSON, LogFormatText)),
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig points at the Markdown vault directory.
type VaultConfig struct {
	Path             string `yaml:"path"`
	AttachmentFolder string `yaml:"attachment_folder"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the draft database location. Disabled forces the
// JSON fallback store.
type SQLiteConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.When(!c.Disabled, validation.Required)),
	)
}

// DraftsConfig configures the fallback draft store.
type DraftsConfig struct {
	FallbackFile string `yaml:"fallback_file"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// ThemeConfig locates custom themes.
type ThemeConfig struct {
	Folder       string `yaml:"folder"`
	Custom       string `yaml:"custom"`
	BaseDisabled bool   `yaml:"base_disabled"`
	CacheSize    int64  `yaml:"cache_size"`
}

// Validate validates the theme configuration.
func (c *ThemeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Folder, validation.Required),
		validation.Field(&c.CacheSize, validation.Min(int64(0))),
	)
}

// RenderConfig tunes the render pipeline. Empty service URLs disable
// diagram and math rendering.
type RenderConfig struct {
	CodeLineNumbers bool          `yaml:"code_line_numbers"`
	CalloutWait     time.Duration `yaml:"callout_wait"`
	DiagramWait     time.Duration `yaml:"diagram_wait"`
	KrokiURL        string        `yaml:"kroki_url"`
	MathURL         string        `yaml:"math_url"`
	MathCacheSize   int64         `yaml:"math_cache_size"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CalloutWait, validation.Min(time.Duration(0))),
		validation.Field(&c.DiagramWait, validation.Min(time.Duration(0))),
		validation.Field(&c.KrokiURL, is.URL),
		validation.Field(&c.MathURL, is.URL),
		validation.Field(&c.MathCacheSize, validation.Min(int64(0))),
	)
}

// FetchConfig configures remote asset downloads.
type FetchConfig struct {
	AllowPrivate bool          `yaml:"allow_private"`
	Timeout      time.Duration `yaml:"timeout"`
}

// WeChatConfig lists the Official Accounts and send options.
type WeChatConfig struct {
	APIBase           string           `yaml:"api_base"`
	SelectedAccount   string           `yaml:"selected_account"`
	Accounts          []wechat.Account `yaml:"accounts"`
	Timeout           time.Duration    `yaml:"timeout"`
	CalloutTextColor  string           `yaml:"callout_text_color"`
	UploadDataURLs    bool             `yaml:"upload_data_urls"`
	UploadConcurrency int              `yaml:"upload_concurrency"`
	CardName          string           `yaml:"card_name"`
	CardSignature     string           `yaml:"card_signature"`
}

// Validate validates the WeChat configuration.
func (c *WeChatConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.APIBase, is.URL),
		validation.Field(&c.UploadConcurrency, validation.Min(0)),
	); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if err := validation.ValidateStruct(a,
			validation.Field(&a.Name, validation.Required),
			validation.Field(&a.AppID, validation.Required),
			validation.Field(&a.AppSecret, validation.Required),
		); err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		if seen[a.Name] {
			return fmt.Errorf("accounts[%d]: duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
	}
	if c.SelectedAccount != "" && !seen[c.SelectedAccount] {
		return fmt.Errorf("selected_account %q is not configured", c.SelectedAccount)
	}
	return nil
}

// DefaultAccount returns the selected account, or the only one configured.
func (c *WeChatConfig) DefaultAccount() string {
	if c.SelectedAccount != "" {
		return c.SelectedAccount
	}
	if len(c.Accounts) == 1 {
		return c.Accounts[0].Name
	}
	return ""
}

// RedBookConfig names the export folder.
type RedBookConfig struct {
	ExportRoot string `yaml:"export_root"`
}

// HaloConfig lists the Halo sites.
type HaloConfig struct {
	DefaultSite      string      `yaml:"default_site"`
	PublishByDefault bool        `yaml:"publish_by_default"`
	Sites            []halo.Site `yaml:"sites"`
}

// Validate validates the Halo configuration.
func (c *HaloConfig) Validate() error {
	seen := make(map[string]bool, len(c.Sites))
	for i := range c.Sites {
		s := &c.Sites[i]
		if err := validation.ValidateStruct(s,
			validation.Field(&s.Name, validation.Required),
			validation.Field(&s.URL, validation.Required, is.URL),
			validation.Field(&s.Token, validation.Required),
		); err != nil {
			return fmt.Errorf("sites[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("sites[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	if c.DefaultSite != "" && !seen[c.DefaultSite] {
		return fmt.Errorf("default_site %q is not configured", c.DefaultSite)
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			Log: LogConfig{
				Level:      slog.LevelInfo,
				Format:     LogFormatJSON,
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path:             "./vault",
			AttachmentFolder: "attachments",
		},
		SQLite: SQLiteConfig{
			Path: "./inkwell.db",
		},
		Drafts: DraftsConfig{
			FallbackFile: "./inkwell-drafts.json",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Theme: ThemeConfig{
			Folder:    "themes",
			CacheSize: 64,
		},
		Render: RenderConfig{
			CalloutWait:   3 * time.Second,
			DiagramWait:   10 * time.Second,
			MathCacheSize: 5000,
		},
		Fetch: FetchConfig{
			Timeout: 30 * time.Second,
		},
		WeChat: WeChatConfig{
			Timeout:           30 * time.Second,
			UploadConcurrency: 4,
		},
	}
}
