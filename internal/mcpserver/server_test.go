package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/fetch"
	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/publish"
	"github.com/starford/inkwell/internal/redbook"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/testutil"
	"github.com/starford/inkwell/internal/theme"
	"github.com/starford/inkwell/internal/vault"
)

type fakeService struct {
	themes   []theme.Theme
	haloFlag *bool
	haloSite string
	account  string
}

func (f *fakeService) RenderNote(_ context.Context, notePath, themeRef string) (*publish.Preview, error) {
	if notePath == "missing.md" {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, notePath)
	}
	return &publish.Preview{Path: notePath, Theme: themeRef, HTML: "<p>" + notePath + "|" + themeRef + "</p>"}, nil
}

func (f *fakeService) SendWeChat(_ context.Context, notePath, account, _ string) (*publish.WeChatResult, error) {
	f.account = account
	if notePath == "bare.md" {
		return nil, fmt.Errorf("%w: bare.md", apperr.ErrMissingCover)
	}
	return &publish.WeChatResult{Account: "main", MediaID: "draft-1"}, nil
}

func (f *fakeService) ExportRedBook(_ context.Context, notePath string) (*redbook.Result, error) {
	return &redbook.Result{Folder: strings.TrimSuffix(notePath, ".md"), ImageCount: 2}, nil
}

func (f *fakeService) PublishHalo(_ context.Context, _ string, site string, flag *bool) (*halo.Result, error) {
	f.haloSite = site
	f.haloFlag = flag
	if site == "other" {
		return nil, fmt.Errorf("%w: bound to blog", apperr.ErrSiteMismatch)
	}
	return &halo.Result{Name: "post-1", Site: "blog", Publish: flag != nil && *flag}, nil
}

func (f *fakeService) GetDraft(account, notePath string) (*models.Draft, error) {
	if notePath != "hello.md" {
		return nil, apperr.ErrNotFound
	}
	return &models.Draft{ID: models.DraftID("main", notePath), Title: "Hello"}, nil
}

func (f *fakeService) ListThemes() ([]theme.Theme, error) { return f.themes, nil }

func testServer(t *testing.T) (*Server, *fakeService, *storage.FS) {
	t.Helper()
	_, store := testutil.TestVault(t, nil)
	v := vault.New(store, "attachments", nil)
	svc := &fakeService{}
	srv := New(svc, Assets{
		Fetcher:    fetch.New(v, fetch.Options{}, nil),
		Writer:     store,
		Invalidate: v.Invalidate,
	}, "test", nil)
	return srv, svc, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "render_note":
		result, err = srv.renderNote(ctx, req)
	case "send_wechat_draft":
		result, err = srv.sendWeChat(ctx, req)
	case "export_redbook":
		result, err = srv.exportRedBook(ctx, req)
	case "publish_halo":
		result, err = srv.publishHalo(ctx, req)
	case "get_draft":
		result, err = srv.getDraft(ctx, req)
	case "list_themes":
		result, err = srv.listThemes(ctx, req)
	case "upload_asset":
		result, err = srv.uploadAsset(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRenderNote(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "render_note", map[string]any{"path": "a.md", "theme": "red"})
	if r.IsError || resultText(r) != "<p>a.md|red</p>" {
		t.Errorf("render = %q (error=%v)", resultText(r), r.IsError)
	}

	r = callTool(t, srv, "render_note", map[string]any{"path": "missing.md"})
	if !r.IsError || resultText(r) != publish.UserMessage(apperr.ErrNotFound) {
		t.Errorf("missing note = %q (error=%v)", resultText(r), r.IsError)
	}
}

func TestRequiredPath(t *testing.T) {
	srv, _, _ := testServer(t)
	for _, tool := range []string{"render_note", "send_wechat_draft", "export_redbook", "publish_halo", "get_draft"} {
		if r := callTool(t, srv, tool, map[string]any{}); !r.IsError {
			t.Errorf("%s without path should fail", tool)
		}
	}
}

func TestSendWeChatDraft(t *testing.T) {
	srv, svc, _ := testServer(t)
	r := callTool(t, srv, "send_wechat_draft", map[string]any{"path": "hello.md", "account": "alt"})
	if r.IsError {
		t.Fatalf("send failed: %s", resultText(r))
	}
	var res publish.WeChatResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.MediaID != "draft-1" || svc.account != "alt" {
		t.Errorf("result = %+v, account = %q", res, svc.account)
	}

	r = callTool(t, srv, "send_wechat_draft", map[string]any{"path": "bare.md"})
	if !r.IsError || resultText(r) != publish.UserMessage(apperr.ErrMissingCover) {
		t.Errorf("missing cover = %q", resultText(r))
	}
}

func TestPublishHaloFlag(t *testing.T) {
	srv, svc, _ := testServer(t)

	callTool(t, srv, "publish_halo", map[string]any{"path": "a.md"})
	if svc.haloFlag != nil {
		t.Errorf("omitted publish should pass nil, got %v", *svc.haloFlag)
	}

	r := callTool(t, srv, "publish_halo", map[string]any{"path": "a.md", "site": "blog", "publish": true})
	if r.IsError || svc.haloFlag == nil || !*svc.haloFlag || svc.haloSite != "blog" {
		t.Errorf("flag = %v site = %q result = %q", svc.haloFlag, svc.haloSite, resultText(r))
	}

	r = callTool(t, srv, "publish_halo", map[string]any{"path": "a.md", "site": "other"})
	if !r.IsError || resultText(r) != publish.UserMessage(apperr.ErrSiteMismatch) {
		t.Errorf("site mismatch = %q", resultText(r))
	}
}

func TestExportAndDraft(t *testing.T) {
	srv, _, _ := testServer(t)
	r := callTool(t, srv, "export_redbook", map[string]any{"path": "posts/x.md"})
	if r.IsError || !strings.Contains(resultText(r), `"folder": "posts/x"`) {
		t.Errorf("export = %q", resultText(r))
	}

	r = callTool(t, srv, "get_draft", map[string]any{"path": "hello.md"})
	if r.IsError || !strings.Contains(resultText(r), `"Hello"`) {
		t.Errorf("draft = %q", resultText(r))
	}
	r = callTool(t, srv, "get_draft", map[string]any{"path": "nope.md"})
	if !r.IsError {
		t.Error("missing draft should fail")
	}
}

func TestListThemes(t *testing.T) {
	srv, svc, _ := testServer(t)
	if r := callTool(t, srv, "list_themes", nil); resultText(r) != "no custom themes found" {
		t.Errorf("empty list = %q", resultText(r))
	}
	svc.themes = []theme.Theme{{Name: "red", Path: "themes/red.md"}}
	if r := callTool(t, srv, "list_themes", nil); !strings.Contains(resultText(r), "themes/red.md") {
		t.Errorf("list = %q", resultText(r))
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func pngDataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader)
}

func TestUploadAsset(t *testing.T) {
	srv, _, store := testServer(t)

	r := callTool(t, srv, "upload_asset", map[string]any{"url": pngDataURI(), "filename": "dot.png"})
	if r.IsError {
		t.Fatalf("upload failed: %s", resultText(r))
	}
	var res uploadResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if res.SavedPath != "attachments/dot.png" || res.MarkdownImage != "![dot.png](attachments/dot.png)" {
		t.Errorf("result = %+v", res)
	}
	data, err := store.Read("attachments/dot.png")
	if err != nil || string(data) != string(pngHeader) {
		t.Errorf("stored = %q, %v", data, err)
	}

	r = callTool(t, srv, "upload_asset", map[string]any{"url": pngDataURI(), "filename": "dot.png"})
	if !r.IsError || !strings.Contains(resultText(r), "already exists") {
		t.Errorf("duplicate = %q", resultText(r))
	}
}

func TestUploadAssetWikiEmbed(t *testing.T) {
	srv, _, _ := testServer(t)
	srv.assets.WikiEmbeds = true
	r := callTool(t, srv, "upload_asset", map[string]any{"url": pngDataURI()})
	if r.IsError {
		t.Fatalf("upload failed: %s", resultText(r))
	}
	var res uploadResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(res.MarkdownImage, "![[") || !strings.HasSuffix(res.SavedPath, ".png") {
		t.Errorf("result = %+v", res)
	}
}

func TestUploadAssetRejects(t *testing.T) {
	srv, _, _ := testServer(t)
	cases := map[string]map[string]any{
		"scheme":    {"url": "file:///etc/passwd"},
		"extension": {"url": pngDataURI(), "filename": "x.exe"},
		"mismatch":  {"url": pngDataURI(), "filename": "x.gif"},
		"missing":   {},
	}
	for name, args := range cases {
		if r := callTool(t, srv, "upload_asset", args); !r.IsError {
			t.Errorf("%s: expected error, got %q", name, resultText(r))
		}
	}
}

func TestSyntaxResource(t *testing.T) {
	srv, _, _ := testServer(t)
	contents, err := srv.readSyntaxResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != syntaxURI || !strings.Contains(tc.Text, "mpcard") {
		t.Errorf("resource = %+v", contents[0])
	}
}
