// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkwell/internal/api"
	"github.com/starford/inkwell/internal/mcpserver"
	"github.com/starford/inkwell/internal/watch"
)

func setup(opts []Option) (*application, io.Closer, error) {
	app := &application{version: "dev"}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	var closer io.Closer = nopCloser{}
	if app.logger == nil {
		app.logger, closer = NewLogger(app.config.App.Log, os.Stdout)
	}
	slog.SetDefault(app.logger)
	return app, closer, nil
}

// NewHTTPHandler builds the root router: health probes plus the API under
// /api.
func NewHTTPHandler(cfg *Config, c *Components, version string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, version)
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := c.Vault.Files(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"vault unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	assets := api.NewAssetHandler(c.Vault, c.Store, cfg.Vault.AttachmentFolder)
	r.Mount("/api", api.NewRouter(c.Service, cfg.Auth.AuthEnabled(), cfg.Auth.Token, c.Bus, assets))
	return r
}

// Run starts the HTTP service and the vault watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, logCloser, err := setup(opts)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	cfg, logger := app.config, app.logger

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Int("wechat_accounts", len(cfg.WeChat.Accounts)),
		slog.Int("halo_sites", len(cfg.Halo.Sites)),
		slog.String("log_level", cfg.App.Log.Level.String()))

	c, err := Build(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           NewHTTPHandler(cfg, c, app.version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	w := watch.New(c.Vault, c.Themes, c.Bus, logger)
	g.Go(func() error {
		if err := w.Run(gCtx); err != nil {
			logger.Warn("vault watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdio. Logs go to stderr or the
// configured file so stdout stays reserved for the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append(opts, func(a *application) {
		if a.logger == nil && a.config != nil && a.config.App.Log.File == "" {
			a.logger, _ = NewLogger(a.config.App.Log, os.Stderr)
		}
	})
	app, logCloser, err := setup(opts)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	c, err := Build(app.config, app.logger)
	if err != nil {
		return err
	}
	defer c.Close()

	srv := mcpserver.New(c.Service, mcpserver.Assets{
		Fetcher:    c.Fetcher,
		Writer:     c.Store,
		Folder:     app.config.Vault.AttachmentFolder,
		WikiEmbeds: true,
		Invalidate: c.Vault.Invalidate,
	}, app.version, app.logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.ServeStdio() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return nil
	}
}
