package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/inkwell/internal"
	"github.com/starford/inkwell/internal/publish"
	pkgconfig "github.com/starford/inkwell/pkg/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func loadConfig(cmd *cli.Command, strict bool) (*internal.Config, error) {
	configPath := cmd.String("config")
	cfg := internal.NewDefaultConfig()
	if strict {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}
	if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, true)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
}

// oneShot wires the components, runs fn and prints its result. Failures
// are logged in full and reported as the user-facing message.
func oneShot(fn func(ctx context.Context, cmd *cli.Command, svc *publish.Service) (any, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() == 0 {
			return fmt.Errorf("missing note path")
		}
		cfg, err := loadConfig(cmd, false)
		if err != nil {
			return err
		}
		logger, closer := internal.NewLogger(cfg.App.Log, os.Stderr)
		defer closer.Close()
		slog.SetDefault(logger)

		c, err := internal.Build(cfg, logger)
		if err != nil {
			return err
		}
		defer c.Close()

		out, err := fn(ctx, cmd, c.Service)
		if err != nil {
			logger.Error("command failed", slog.String("command", cmd.Name), slog.String("error", err.Error()))
			return errors.New(publish.UserMessage(err))
		}
		if s, ok := out.(string); ok {
			_, err = fmt.Fprintln(os.Stdout, s)
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(out)
	}
}

func accountFlag() cli.Flag {
	return &cli.StringFlag{Name: "account", Aliases: []string{"a"}, Usage: "WeChat account name"}
}

func themeFlag() cli.Flag {
	return &cli.StringFlag{Name: "theme", Aliases: []string{"t"}, Usage: "Custom theme name or note path"}
}

func main() {
	cmd := &cli.Command{
		Name:    "inkwell",
		Usage:   "Publish a Markdown vault to WeChat Official Accounts, RedBook and Halo",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API and the vault watcher",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:      "render",
				Usage:     "Print the themed HTML of a note",
				ArgsUsage: "<note>",
				Flags:     []cli.Flag{themeFlag()},
				Action: oneShot(func(ctx context.Context, cmd *cli.Command, svc *publish.Service) (any, error) {
					p, err := svc.RenderNote(ctx, cmd.Args().First(), cmd.String("theme"))
					if err != nil {
						return nil, err
					}
					return p.HTML, nil
				}),
			},
			{
				Name:      "wechat",
				Usage:     "Send a note to a WeChat draft box",
				ArgsUsage: "<note>",
				Flags:     []cli.Flag{accountFlag(), themeFlag()},
				Action: oneShot(func(ctx context.Context, cmd *cli.Command, svc *publish.Service) (any, error) {
					return svc.SendWeChat(ctx, cmd.Args().First(), cmd.String("account"), cmd.String("theme"))
				}),
			},
			{
				Name:      "redbook",
				Usage:     "Write the RedBook caption and images of a note",
				ArgsUsage: "<note>",
				Action: oneShot(func(ctx context.Context, cmd *cli.Command, svc *publish.Service) (any, error) {
					return svc.ExportRedBook(ctx, cmd.Args().First())
				}),
			},
			{
				Name:      "halo",
				Usage:     "Publish a note to a Halo site",
				ArgsUsage: "<note>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "site", Aliases: []string{"s"}, Usage: "Halo site name"},
					&cli.BoolFlag{Name: "publish", Usage: "Publish the post"},
					&cli.BoolFlag{Name: "draft", Usage: "Keep the post as a draft"},
				},
				Action: oneShot(func(ctx context.Context, cmd *cli.Command, svc *publish.Service) (any, error) {
					var flag *bool
					switch {
					case cmd.Bool("publish") && cmd.Bool("draft"):
						return nil, fmt.Errorf("--publish and --draft are mutually exclusive")
					case cmd.Bool("publish"):
						v := true
						flag = &v
					case cmd.Bool("draft"):
						v := false
						flag = &v
					}
					return svc.PublishHalo(ctx, cmd.Args().First(), cmd.String("site"), flag)
				}),
			},
			{
				Name:  "draft",
				Usage: "Inspect stored WeChat drafts",
				Commands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Print the stored draft of a note",
						ArgsUsage: "<note>",
						Flags:     []cli.Flag{accountFlag()},
						Action: oneShot(func(_ context.Context, cmd *cli.Command, svc *publish.Service) (any, error) {
							return svc.GetDraft(cmd.String("account"), cmd.Args().First())
						}),
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
