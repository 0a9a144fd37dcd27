// Package mcpserver exposes the publishing operations as MCP tools over
// stdio, so an assistant can preview and ship notes.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/inkwell/internal/fetch"
	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/publish"
	"github.com/starford/inkwell/internal/redbook"
	"github.com/starford/inkwell/internal/theme"
)

const syntaxURI = "inkwell://syntax"

// Service is the publishing surface the tools call.
type Service interface {
	RenderNote(ctx context.Context, notePath, themeRef string) (*publish.Preview, error)
	SendWeChat(ctx context.Context, notePath, account, themeRef string) (*publish.WeChatResult, error)
	ExportRedBook(ctx context.Context, notePath string) (*redbook.Result, error)
	PublishHalo(ctx context.Context, notePath, site string, publishFlag *bool) (*halo.Result, error)
	GetDraft(account, notePath string) (*models.Draft, error)
	ListThemes() ([]theme.Theme, error)
}

var _ Service = (*publish.Service)(nil)

// FileWriter stores a vault-relative file.
type FileWriter interface {
	Exists(path string) bool
	Write(path string, content []byte) error
}

// Assets configures upload_asset. The tool is not registered when Fetcher
// or Writer is nil.
type Assets struct {
	Fetcher *fetch.Fetcher
	Writer  FileWriter
	// Folder receives uploads; defaults to "attachments".
	Folder string
	// WikiEmbeds selects ![[name]] over ![name](path) in the returned snippet.
	WikiEmbeds bool
	// Invalidate is called after a file is written.
	Invalidate func()
}

// Server wraps the MCP server with the publishing tools.
type Server struct {
	mcp    *server.MCPServer
	svc    Service
	assets Assets
	log    *slog.Logger
}

// New creates a server with all tools registered.
func New(svc Service, assets Assets, version string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if assets.Folder == "" {
		assets.Folder = "attachments"
	}
	s := &Server{svc: svc, assets: assets, log: log}

	s.mcp = server.NewMCPServer(
		"Inkwell",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_note",
		mcp.WithDescription("Render a Markdown note to themed HTML as it would appear in the WeChat editor. "+
			"Read the inkwell://syntax resource for the supported dialect."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path (e.g. posts/hello.md)")),
		mcp.WithString("theme", mcp.Description("Custom theme name or note path; empty uses the default")),
	), s.renderNote)

	s.mcp.AddTool(mcp.NewTool("send_wechat_draft",
		mcp.WithDescription("Render a note, upload its images and create a draft in a WeChat Official Account. "+
			"The note needs a cover in its frontmatter."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path")),
		mcp.WithString("account", mcp.Description("Configured account name; empty uses the default")),
		mcp.WithString("theme", mcp.Description("Custom theme name or note path")),
	), s.sendWeChat)

	s.mcp.AddTool(mcp.NewTool("export_redbook",
		mcp.WithDescription("Write the RedBook caption and numbered images of a note into the export folder."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path")),
	), s.exportRedBook)

	s.mcp.AddTool(mcp.NewTool("publish_halo",
		mcp.WithDescription("Create or update the Halo post of a note. A note bound to one site is never published to another."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path")),
		mcp.WithString("site", mcp.Description("Configured site name; empty uses the bound or default site")),
		mcp.WithBoolean("publish", mcp.Description("Publish (true) or keep as draft (false); omit to follow the note")),
	), s.publishHalo)

	s.mcp.AddTool(mcp.NewTool("get_draft",
		mcp.WithDescription("Return the stored WeChat draft metadata of a note."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Vault-relative note path")),
		mcp.WithString("account", mcp.Description("Account name; empty uses the default")),
	), s.getDraft)

	s.mcp.AddTool(mcp.NewTool("list_themes",
		mcp.WithDescription("List the custom themes found in the theme folder."),
	), s.listThemes)

	if assets.Fetcher != nil && assets.Writer != nil {
		s.mcp.AddTool(mcp.NewTool("upload_asset",
			mcp.WithDescription("Download an image from an http(s) or data: URL into the attachment folder "+
				"and return the Markdown snippet that embeds it."),
			mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or base64 data URI")),
			mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when empty")),
		), s.uploadAsset)
	}

	s.mcp.AddResource(
		mcp.NewResource(syntaxURI, "Markdown Syntax",
			mcp.WithResourceDescription("Frontmatter keys and Markdown extensions the renderer understands."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readSyntaxResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) fail(tool string, err error) *mcp.CallToolResult {
	s.log.Warn("mcp: tool failed", slog.String("tool", tool), slog.String("error", err.Error()))
	return mcp.NewToolResultError(publish.UserMessage(err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) renderNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, err := s.svc.RenderNote(ctx, path, req.GetString("theme", ""))
	if err != nil {
		return s.fail("render_note", err), nil
	}
	return mcp.NewToolResultText(p.HTML), nil
}

func (s *Server) sendWeChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.SendWeChat(ctx, path, req.GetString("account", ""), req.GetString("theme", ""))
	if err != nil {
		return s.fail("send_wechat_draft", err), nil
	}
	return jsonResult(res)
}

func (s *Server) exportRedBook(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.ExportRedBook(ctx, path)
	if err != nil {
		return s.fail("export_redbook", err), nil
	}
	return jsonResult(res)
}

func (s *Server) publishHalo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var flag *bool
	if v, err := req.RequireBool("publish"); err == nil {
		flag = &v
	}
	res, err := s.svc.PublishHalo(ctx, path, req.GetString("site", ""), flag)
	if err != nil {
		return s.fail("publish_halo", err), nil
	}
	return jsonResult(res)
}

func (s *Server) getDraft(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetDraft(req.GetString("account", ""), path)
	if err != nil {
		return s.fail("get_draft", err), nil
	}
	return jsonResult(d)
}

func (s *Server) listThemes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	themes, err := s.svc.ListThemes()
	if err != nil {
		return s.fail("list_themes", err), nil
	}
	if len(themes) == 0 {
		return mcp.NewToolResultText("no custom themes found"), nil
	}
	return jsonResult(themes)
}

func (s *Server) readSyntaxResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      syntaxURI,
			MIMEType: "text/markdown",
			Text:     SyntaxGuide,
		},
	}, nil
}
