// Package wechat talks to the WeChat Official Account API and prepares
// rendered articles for its draft box.
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Yiling-J/theine-go"
	"golang.org/x/sync/singleflight"

	"github.com/starford/inkwell/internal/apperr"
)

// DefaultAPIBase is the public API endpoint.
const DefaultAPIBase = "https://api.weixin.qq.com"

// CDNHost serves uploaded material. Sources already on it are not
// uploaded again.
const CDNHost = "mmbiz.qpic.cn"

// Material kinds accepted by add_material.
const (
	KindImage = "image"
	KindVideo = "video"
	KindThumb = "thumb"
)

// Account is one Official Account's credentials.
type Account struct {
	Name      string `yaml:"name" json:"name"`
	AppID     string `yaml:"app_id" json:"app_id"`
	AppSecret string `yaml:"app_secret" json:"-"`
}

// APIError is an errcode/errmsg reply.
type APIError struct {
	Code int    `json:"errcode"`
	Msg  string `json:"errmsg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wechat: errcode %d: %s", e.Code, e.Msg)
}

// Token codes that mean the cached token must be dropped.
func (e *APIError) tokenExpired() bool {
	return e.Code == 40001 || e.Code == 40014 || e.Code == 42001
}

// Material is the reply of add_material.
type Material struct {
	MediaID string `json:"media_id"`
	URL     string `json:"url,omitempty"`
}

// MaterialInfo is the reply of get_material for a video.
type MaterialInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	DownURL     string `json:"down_url"`
}

// Article is one draft/add entry.
type Article struct {
	Title              string `json:"title"`
	Author             string `json:"author,omitempty"`
	Digest             string `json:"digest,omitempty"`
	Content            string `json:"content"`
	ContentSourceURL   string `json:"content_source_url,omitempty"`
	ThumbMediaID       string `json:"thumb_media_id"`
	ShowCoverPic       int    `json:"show_cover_pic,omitempty"`
	NeedOpenComment    int    `json:"need_open_comment"`
	OnlyFansCanComment int    `json:"only_fans_can_comment"`
	PicCrop235x1       string `json:"pic_crop_235_1,omitempty"`
	PicCrop1x1         string `json:"pic_crop_1_1,omitempty"`
}

// NewsItem is one entry of a stored draft.
type NewsItem struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	Digest       string `json:"digest"`
	Content      string `json:"content"`
	URL          string `json:"url"`
	ThumbMediaID string `json:"thumb_media_id"`
	ThumbURL     string `json:"thumb_url"`
}

// Options configures a Client.
type Options struct {
	APIBase  string
	Accounts []Account
	Timeout  time.Duration
}

type accessToken struct {
	value   string
	expires time.Time
}

// Client is a WeChat API client holding one access token per account.
type Client struct {
	base     string
	http     *http.Client
	accounts map[string]Account
	tokens   *theine.Cache[string, accessToken]
	group    singleflight.Group
	log      *slog.Logger
	now      func() time.Time
}

// NewClient creates a Client.
func NewClient(opts Options, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.APIBase == "" {
		opts.APIBase = DefaultAPIBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	tokens, err := theine.NewBuilder[string, accessToken](64).Build()
	if err != nil {
		return nil, fmt.Errorf("wechat: token cache: %w", err)
	}
	accounts := make(map[string]Account, len(opts.Accounts))
	for _, a := range opts.Accounts {
		accounts[a.Name] = a
	}
	return &Client{
		base:     strings.TrimRight(opts.APIBase, "/"),
		http:     &http.Client{Timeout: opts.Timeout},
		accounts: accounts,
		tokens:   tokens,
		log:      log,
		now:      time.Now,
	}, nil
}

// Account returns the named account.
func (c *Client) Account(name string) (Account, error) {
	a, ok := c.accounts[name]
	if !ok {
		return Account{}, fmt.Errorf("%w: no wechat account named %q", apperr.ErrConfig, name)
	}
	if a.AppID == "" || a.AppSecret == "" {
		return Account{}, fmt.Errorf("%w: wechat account %q needs app_id and app_secret", apperr.ErrConfig, name)
	}
	return a, nil
}

// Token returns a valid access token for account, refreshing it when it
// is missing or about to expire.
func (c *Client) Token(ctx context.Context, account string) (string, error) {
	if t, ok := c.tokens.Get(account); ok && c.now().Before(t.expires) {
		return t.value, nil
	}
	a, err := c.Account(account)
	if err != nil {
		return "", err
	}
	v, err, _ := c.group.Do(account, func() (any, error) {
		return c.fetchToken(ctx, a)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context, a Account) (string, error) {
	q := url.Values{}
	q.Set("grant_type", "client_credential")
	q.Set("appid", a.AppID)
	q.Set("secret", a.AppSecret)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/cgi-bin/token?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	var out struct {
		APIError
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if out.Code != 0 {
		return "", &out.APIError
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("wechat: token reply without access_token")
	}
	ttl := time.Duration(out.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	// Refresh a little early so a token never expires mid-request.
	c.tokens.Set(a.Name, accessToken{value: out.AccessToken, expires: c.now().Add(ttl - 5*time.Minute)}, 1)
	c.log.Info("wechat: access token refreshed", slog.String("account", a.Name))
	return out.AccessToken, nil
}

// Invalidate drops the cached token of account.
func (c *Client) Invalidate(account string) {
	c.tokens.Delete(account)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("wechat: %s: %w", req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("wechat: read %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("wechat: %s: HTTP %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("wechat: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// call runs an authenticated request built by build. A reply reporting an
// expired token drops the token and retries once.
func (c *Client) call(ctx context.Context, account string, build func(token string) (*http.Request, error), out interface{ apiErr() *APIError }) error {
	for attempt := 0; ; attempt++ {
		token, err := c.Token(ctx, account)
		if err != nil {
			return err
		}
		req, err := build(token)
		if err != nil {
			return err
		}
		*out.apiErr() = APIError{}
		if err := c.do(req, out); err != nil {
			return err
		}
		apiErr := out.apiErr()
		if apiErr.Code == 0 {
			return nil
		}
		if apiErr.tokenExpired() && attempt == 0 {
			c.Invalidate(account)
			continue
		}
		return apiErr
	}
}

func (e *APIError) apiErr() *APIError { return e }

func (c *Client) endpoint(p, token string, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	q.Set("access_token", token)
	return c.base + p + "?" + q.Encode()
}

func (c *Client) postJSON(ctx context.Context, account, p string, payload any, out interface{ apiErr() *APIError }) error {
	return c.call(ctx, account, func(token string) (*http.Request, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(p, token, nil), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// UploadMaterial stores a permanent material. Videos need a title, which
// is taken from filename.
func (c *Client) UploadMaterial(ctx context.Context, account string, data []byte, filename, kind string) (*Material, error) {
	if kind == "" {
		kind = KindImage
	}
	var out struct {
		APIError
		Material
	}
	err := c.call(ctx, account, func(token string) (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("media", filename)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if kind == KindVideo {
			desc, _ := json.Marshal(map[string]string{"title": filename, "introduction": filename})
			if err := mw.WriteField("description", string(desc)); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint("/cgi-bin/material/add_material", token, url.Values{"type": {kind}}), &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUploadFailed, err)
	}
	c.log.Debug("wechat: material uploaded", slog.String("kind", kind), slog.String("media_id", out.MediaID))
	return &out.Material, nil
}

type mediaReply struct {
	APIError
	MediaID string `json:"media_id"`
}

func mediaPayload(id string) map[string]string {
	return map[string]string{"media_id": id}
}

// AddDraft stores articles in the draft box and returns the draft media id.
func (c *Client) AddDraft(ctx context.Context, account string, articles ...Article) (string, error) {
	payload := map[string][]Article{"articles": articles}
	var out mediaReply
	if err := c.postJSON(ctx, account, "/cgi-bin/draft/add", payload, &out); err != nil {
		return "", err
	}
	return out.MediaID, nil
}

// GetDraft returns the articles of a stored draft.
func (c *Client) GetDraft(ctx context.Context, account, mediaID string) ([]NewsItem, error) {
	var out struct {
		APIError
		NewsItem []NewsItem `json:"news_item"`
	}
	if err := c.postJSON(ctx, account, "/cgi-bin/draft/get", mediaPayload(mediaID), &out); err != nil {
		return nil, err
	}
	return out.NewsItem, nil
}

// GetMaterial returns a video material's metadata, including its URL.
func (c *Client) GetMaterial(ctx context.Context, account, mediaID string) (*MaterialInfo, error) {
	var out struct {
		APIError
		MaterialInfo
	}
	if err := c.postJSON(ctx, account, "/cgi-bin/material/get_material", mediaPayload(mediaID), &out); err != nil {
		return nil, err
	}
	return &out.MaterialInfo, nil
}
