// Package publish ties rendering, theming and the platform exporters into
// the operations the API, MCP server and CLI expose.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/bus"
	"github.com/starford/inkwell/internal/capture"
	"github.com/starford/inkwell/internal/cssmerge"
	"github.com/starford/inkwell/internal/draft"
	"github.com/starford/inkwell/internal/fetch"
	"github.com/starford/inkwell/internal/halo"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/redbook"
	"github.com/starford/inkwell/internal/render"
	"github.com/starford/inkwell/internal/theme"
	"github.com/starford/inkwell/internal/vault"
	"github.com/starford/inkwell/internal/wechat"
)

// WeChat is the part of the WeChat client the service drives.
type WeChat interface {
	wechat.MaterialAPI
	Account(name string) (wechat.Account, error)
	AddDraft(ctx context.Context, account string, articles ...wechat.Article) (string, error)
	GetDraft(ctx context.Context, account, mediaID string) ([]wechat.NewsItem, error)
}

// Deps are the collaborators of a Service. WeChat, RedBook and Halo may be
// nil when the platform is not configured.
type Deps struct {
	Vault    *vault.Vault
	Pipeline *render.Pipeline
	Themes   *theme.Manager
	Drafts   *draft.Manager
	Fetcher  *fetch.Fetcher
	WeChat   WeChat
	RedBook  *redbook.Exporter
	Halo     *halo.Publisher
	Bus      bus.Publisher
}

// Options tune the WeChat send.
type Options struct {
	// DefaultAccount is used when a caller names no account.
	DefaultAccount string
	// CalloutTextColor pins callout body text; empty follows the article.
	CalloutTextColor  string
	UploadDataURLs    bool
	UploadConcurrency int
}

// Service runs publishing operations. Renders are serialised: a pipeline
// instance supports one render in flight.
type Service struct {
	deps Deps
	opts Options
	log  *slog.Logger

	renderMu sync.Mutex
}

// New creates a Service.
func New(deps Deps, opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if deps.Bus == nil {
		deps.Bus = bus.Nop{}
	}
	return &Service{deps: deps, opts: opts, log: log}
}

// Preview is a themed, sanitised rendering of a note.
type Preview struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	Theme string `json:"theme,omitempty"`
	HTML  string `json:"html"`
}

func (s *Service) render(ctx context.Context, notePath string, preview bool) (*render.Result, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()
	return s.deps.Pipeline.RenderNote(ctx, notePath, preview)
}

// RenderNote renders notePath for display with themeRef applied.
func (s *Service) RenderNote(ctx context.Context, notePath, themeRef string) (*Preview, error) {
	res, err := s.render(ctx, notePath, true)
	if err != nil {
		return nil, err
	}
	out, err := s.deps.Themes.ApplyHTML(render.Wrap(res.Preview()), themeRef)
	if err != nil {
		return nil, err
	}
	return &Preview{Path: notePath, Title: res.Title, Theme: themeRef, HTML: out}, nil
}

// WeChatResult reports a draft sent to an Official Account.
type WeChatResult struct {
	Account string             `json:"account"`
	MediaID string             `json:"media_id"`
	URL     string             `json:"url,omitempty"`
	Uploads wechat.UploadStats `json:"uploads"`
	Draft   *models.Draft      `json:"draft"`
}

func (s *Service) account(name string) (string, error) {
	if s.deps.WeChat == nil {
		return "", fmt.Errorf("%w: wechat is not configured", apperr.ErrConfig)
	}
	if name == "" {
		name = s.opts.DefaultAccount
	}
	if name == "" {
		return "", fmt.Errorf("%w: no wechat account selected", apperr.ErrConfig)
	}
	if _, err := s.deps.WeChat.Account(name); err != nil {
		return "", err
	}
	return name, nil
}

// SendWeChat renders notePath, uploads its media and stores it in the
// account's draft box. A missing cover aborts before anything is uploaded.
func (s *Service) SendWeChat(ctx context.Context, notePath, accountName, themeRef string) (*WeChatResult, error) {
	account, err := s.account(accountName)
	if err != nil {
		return nil, err
	}
	existing, err := s.deps.Drafts.Get(account, notePath)
	if err != nil {
		return nil, err
	}
	d, err := s.deps.Drafts.GetOrCreate(account, notePath)
	if err != nil {
		return nil, err
	}

	res, err := s.render(ctx, notePath, false)
	if err != nil {
		return nil, err
	}
	wechat.MetaFromFrontmatter(res.Frontmatter, res.Title).Sync(d, existing == nil)
	if themeRef == "" {
		themeRef = d.Theme
	}
	d.Theme = themeRef
	if d.CoverImageURL == "" && d.ThumbMediaID == "" {
		return nil, fmt.Errorf("%w: set cover in the frontmatter of %s", apperr.ErrMissingCover, notePath)
	}

	themed, err := s.deps.Themes.ApplyHTML(render.Wrap(res.HTML), themeRef)
	if err != nil {
		return nil, err
	}
	c, err := capture.ParseContainer(themed)
	if err != nil {
		return nil, fmt.Errorf("publish: parse article: %w", err)
	}

	up := wechat.NewUploader(s.deps.WeChat, s.deps.Fetcher, account, s.log)
	up.UploadDataURLs = s.opts.UploadDataURLs
	if s.opts.UploadConcurrency > 0 {
		up.Concurrency = s.opts.UploadConcurrency
	}
	var stats wechat.UploadStats
	c.Mutate(func(root *html.Node) {
		wechat.ApplyCalloutTextColor(root, s.opts.CalloutTextColor)
		stats = up.Upload(ctx, root, notePath)
		cssmerge.RemoveClassNames(root)
	})
	content := res.Restore(c.HTML())

	if d.ThumbMediaID == "" {
		id, err := up.UploadCover(ctx, d.CoverImageURL, notePath)
		if err != nil {
			return nil, fmt.Errorf("%w: cover %s: %v", apperr.ErrUploadFailed, d.CoverImageURL, err)
		}
		d.ThumbMediaID = id
	}

	mediaID, err := s.deps.WeChat.AddDraft(ctx, account, wechat.ArticleFromDraft(d, content))
	if err != nil {
		return nil, err
	}
	result := &WeChatResult{Account: account, MediaID: mediaID, Uploads: stats, Draft: d}
	items, err := s.deps.WeChat.GetDraft(ctx, account, mediaID)
	switch {
	case err != nil:
		s.log.Warn("publish: fetch draft url", slog.String("media_id", mediaID), slog.String("error", err.Error()))
	case len(items) > 0:
		result.URL = items[0].URL
	}

	d.LastDraftID = mediaID
	d.LastDraftURL = result.URL
	if _, err := s.deps.Drafts.Set(d); err != nil {
		return nil, err
	}
	s.deps.Bus.Publish(bus.Event{Topic: bus.WechatMaterialUpdated, Data: map[string]string{
		"account":  account,
		"media_id": mediaID,
		"note":     notePath,
	}})
	s.log.Info("publish: wechat draft created",
		slog.String("note", notePath),
		slog.String("account", account),
		slog.String("media_id", mediaID),
		slog.Int("uploaded", stats.Uploaded),
		slog.Int("failed", stats.Failed))
	return result, nil
}

// ExportRedBook writes the caption bundle of notePath.
func (s *Service) ExportRedBook(ctx context.Context, notePath string) (*redbook.Result, error) {
	if s.deps.RedBook == nil {
		return nil, fmt.Errorf("%w: redbook export is not configured", apperr.ErrConfig)
	}
	return s.deps.RedBook.Export(ctx, notePath)
}

// PublishHalo publishes notePath to a Halo site. publish overrides the
// frontmatter and the configured default when non-nil.
func (s *Service) PublishHalo(ctx context.Context, notePath, site string, publish *bool) (*halo.Result, error) {
	if s.deps.Halo == nil {
		return nil, fmt.Errorf("%w: halo is not configured", apperr.ErrConfig)
	}
	res, err := s.deps.Halo.Publish(ctx, notePath, site, publish)
	if err != nil {
		return nil, err
	}
	s.deps.Bus.Publish(bus.Event{Topic: bus.NoteChanged, Data: map[string]string{"path": notePath, "kind": "updated"}})
	return res, nil
}

// GetDraft returns the stored draft or apperr.ErrNotFound.
func (s *Service) GetDraft(accountName, notePath string) (*models.Draft, error) {
	if accountName == "" {
		accountName = s.opts.DefaultAccount
	}
	d, err := s.deps.Drafts.Get(accountName, notePath)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("%w: draft %s", apperr.ErrNotFound, models.DraftID(accountName, notePath))
	}
	return d, nil
}

// PutDraft stores d under accountName and notePath and reports whether a
// write happened.
func (s *Service) PutDraft(accountName, notePath string, d *models.Draft) (bool, error) {
	if d == nil {
		return false, fmt.Errorf("%w: empty body", apperr.ErrInvalidDraft)
	}
	if accountName == "" {
		accountName = s.opts.DefaultAccount
	}
	d.AccountName = accountName
	d.NotePath = notePath
	d.ID = models.DraftID(accountName, notePath)
	return s.deps.Drafts.Set(d)
}

// ListThemes returns the custom themes.
func (s *Service) ListThemes() ([]theme.Theme, error) {
	return s.deps.Themes.List()
}

// SetActiveFile announces the note a client is looking at.
func (s *Service) SetActiveFile(notePath string) error {
	if strings.TrimSpace(notePath) == "" || !s.deps.Vault.Exists(notePath) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, notePath)
	}
	s.deps.Bus.Publish(bus.Event{Topic: bus.ActiveFileChanged, Data: map[string]string{"path": notePath}})
	return nil
}

// UserMessage turns an operation error into the single notice shown to a
// user. The distinguished failure classes keep their own wording.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperr.ErrAttachmentPermission):
		return "附件上传失败：当前令牌没有附件上传权限"
	case errors.Is(err, apperr.ErrAttachmentNotConfigured):
		return "附件上传失败：站点尚未配置附件存储策略"
	case errors.Is(err, apperr.ErrSiteMismatch):
		return "该笔记已发布到其他站点，已取消本次发布"
	case errors.Is(err, apperr.ErrMissingCover):
		return "请先设置封面图片"
	case errors.Is(err, apperr.ErrInvalidDraft):
		return "草稿缺少账号或笔记路径"
	case errors.Is(err, apperr.ErrNotFound):
		return "未找到笔记或草稿"
	case errors.Is(err, apperr.ErrUploadFailed):
		return "上传失败，请稍后重试"
	case errors.Is(err, apperr.ErrConfig):
		return "配置错误：" + err.Error()
	default:
		return err.Error()
	}
}
