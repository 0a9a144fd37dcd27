package internal

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/starford/inkwell/internal/bus"
	"github.com/starford/inkwell/internal/capture"
	"github.com/starford/inkwell/internal/draft"
	"github.com/starford/inkwell/internal/fetch"
	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/publish"
	"github.com/starford/inkwell/internal/redbook"
	"github.com/starford/inkwell/internal/render"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/theme"
	"github.com/starford/inkwell/internal/vault"
	"github.com/starford/inkwell/internal/wechat"
)

const assetPrefix = "/api/assets/"

// Components are the wired collaborators shared by the HTTP service, the
// MCP server and the one-shot commands.
type Components struct {
	Store   *storage.FS
	Vault   *vault.Vault
	Bus     *bus.Bus
	Fetcher *fetch.Fetcher
	Themes  *theme.Manager
	Drafts  draft.Store
	Service *publish.Service
}

// Build wires every component from cfg. Close releases them.
func Build(cfg *Config, log *slog.Logger) (*Components, error) {
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	v := vault.New(store, cfg.Vault.AttachmentFolder, log)
	b := bus.New()

	fetcher := fetch.New(v, fetch.Options{
		AssetPrefix:  assetPrefix,
		AllowPrivate: cfg.Fetch.AllowPrivate,
		Timeout:      cfg.Fetch.Timeout,
	}, log)

	var diagrams capture.DiagramRenderer
	if cfg.Render.KrokiURL != "" {
		diagrams = capture.NewKroki(cfg.Render.KrokiURL)
	}
	var math render.MathEngine
	if cfg.Render.MathURL != "" {
		math = render.NewHTTPMath(cfg.Render.MathURL)
	}
	pipeline, err := render.New(render.Options{
		Vault:           v,
		Host:            capture.NewStaticHost(v, diagrams, log),
		Math:            math,
		CodeLineNumbers: cfg.Render.CodeLineNumbers,
		CalloutWait:     cfg.Render.CalloutWait,
		DiagramWait:     cfg.Render.DiagramWait,
		MathCacheSize:   cfg.Render.MathCacheSize,
		CardName:        cfg.WeChat.CardName,
		CardSignature:   cfg.WeChat.CardSignature,
		Log:             log,
	})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("init renderer: %w", err)
	}

	themes, err := theme.New(v, theme.Options{
		Folder:       cfg.Theme.Folder,
		Default:      cfg.Theme.Custom,
		BaseDisabled: cfg.Theme.BaseDisabled,
		CacheSize:    cfg.Theme.CacheSize,
	}, log)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("init themes: %w", err)
	}

	drafts, err := draft.Open(draft.Options{
		SQLitePath:     cfg.SQLite.Path,
		SQLiteDisabled: cfg.SQLite.Disabled,
		FallbackFile:   cfg.Drafts.FallbackFile,
	}, log)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("init draft store: %w", err)
	}

	deps := publish.Deps{
		Vault:    v,
		Pipeline: pipeline,
		Themes:   themes,
		Drafts:   draft.NewManager(drafts, b, log),
		Fetcher:  fetcher,
		RedBook: redbook.NewExporter(v, afero.NewBasePathFs(afero.NewOsFs(), store.Root()),
			fetcher, cfg.RedBook.ExportRoot, log),
		Bus: b,
	}
	if len(cfg.WeChat.Accounts) > 0 {
		client, err := wechat.NewClient(wechat.Options{
			APIBase:  cfg.WeChat.APIBase,
			Accounts: cfg.WeChat.Accounts,
			Timeout:  cfg.WeChat.Timeout,
		}, log)
		if err != nil {
			_ = drafts.Close()
			b.Close()
			return nil, err
		}
		deps.WeChat = client
	}
	if len(cfg.Halo.Sites) > 0 {
		deps.Halo = halo.NewPublisher(v, halo.Options{
			Sites:            cfg.Halo.Sites,
			DefaultSite:      cfg.Halo.DefaultSite,
			PublishByDefault: cfg.Halo.PublishByDefault,
		}, log)
	}

	svc := publish.New(deps, publish.Options{
		DefaultAccount:    cfg.WeChat.DefaultAccount(),
		CalloutTextColor:  cfg.WeChat.CalloutTextColor,
		UploadDataURLs:    cfg.WeChat.UploadDataURLs,
		UploadConcurrency: cfg.WeChat.UploadConcurrency,
	}, log)

	return &Components{
		Store:   store,
		Vault:   v,
		Bus:     b,
		Fetcher: fetcher,
		Themes:  themes,
		Drafts:  drafts,
		Service: svc,
	}, nil
}

// Close releases the draft store and the bus.
func (c *Components) Close() error {
	c.Bus.Close()
	return c.Drafts.Close()
}
