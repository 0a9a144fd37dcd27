// Package halo publishes notes to Halo CMS sites through the user-center
// content API.
package halo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/starford/inkwell/internal/apperr"
)

// ContentAnnotation carries the post body on posts and snapshots.
const ContentAnnotation = "content.halo.run/content-json"

const (
	contentAPI = "/apis/content.halo.run/v1alpha1"
	ucPosts    = "/apis/uc.api.content.halo.run/v1alpha1/posts"
)

// Attachment upload endpoints, tried in order. Console needs an admin
// token; user-center works for contributors.
var uploadPaths = []string{
	"/apis/console.api.storage.halo.run/v1alpha1/attachments/-/upload",
	"/apis/uc.api.storage.halo.run/v1alpha1/attachments/-/upload",
}

const notConfiguredDetail = "Attachment system setting is not configured"

// Site is one Halo instance.
type Site struct {
	Name  string `yaml:"name" json:"name"`
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"-"`
}

// Metadata is the Kubernetes-style object metadata Halo uses.
type Metadata struct {
	Name              string            `json:"name"`
	GenerateName      string            `json:"generateName,omitempty"`
	Annotations       map[string]string `json:"annotations,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Version           *int64            `json:"version,omitempty"`
	CreationTimestamp string            `json:"creationTimestamp,omitempty"`
}

// Excerpt is a post summary.
type Excerpt struct {
	AutoGenerate bool   `json:"autoGenerate"`
	Raw          string `json:"raw"`
}

// PostSpec holds the editable fields of a post.
type PostSpec struct {
	Title           string   `json:"title"`
	Slug            string   `json:"slug"`
	Cover           string   `json:"cover"`
	Categories      []string `json:"categories"`
	Tags            []string `json:"tags"`
	Excerpt         Excerpt  `json:"excerpt"`
	Publish         bool     `json:"publish"`
	PublishTime     string   `json:"publishTime,omitempty"`
	Visible         string   `json:"visible"`
	AllowComment    bool     `json:"allowComment"`
	Deleted         bool     `json:"deleted"`
	Pinned          bool     `json:"pinned"`
	Priority        int      `json:"priority"`
	Owner           string   `json:"owner"`
	Template        string   `json:"template"`
	HeadSnapshot    string   `json:"headSnapshot,omitempty"`
	BaseSnapshot    string   `json:"baseSnapshot,omitempty"`
	ReleaseSnapshot string   `json:"releaseSnapshot,omitempty"`
	HTMLMetas       []any    `json:"htmlMetas"`
}

// PostStatus is the server-computed state of a post.
type PostStatus struct {
	Permalink string `json:"permalink,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// Post is a Halo post resource. An empty Metadata.Name marks a post that
// has not been created yet.
type Post struct {
	APIVersion string      `json:"apiVersion"`
	Kind       string      `json:"kind"`
	Metadata   Metadata    `json:"metadata"`
	Spec       PostSpec    `json:"spec"`
	Status     *PostStatus `json:"status,omitempty"`
}

// Permalink returns the server-assigned permalink, or "".
func (p *Post) Permalink() string {
	if p == nil || p.Status == nil {
		return ""
	}
	return p.Status.Permalink
}

// Content is the body stored in ContentAnnotation.
type Content struct {
	RawType string `json:"rawType"`
	Raw     string `json:"raw"`
	Content string `json:"content"`
}

// NewPost returns an unsaved post with Halo's defaults.
func NewPost() *Post {
	return &Post{
		APIVersion: "content.halo.run/v1alpha1",
		Kind:       "Post",
		Metadata:   Metadata{Annotations: map[string]string{}},
		Spec: PostSpec{
			AllowComment: true,
			Categories:   []string{},
			Tags:         []string{},
			Excerpt:      Excerpt{AutoGenerate: true},
			Visible:      "PUBLIC",
			HTMLMetas:    []any{},
		},
	}
}

// Term is a category or tag.
type Term struct {
	Metadata Metadata       `json:"metadata"`
	Spec     map[string]any `json:"spec"`
}

// DisplayName returns spec.displayName.
func (t Term) DisplayName() string {
	s, _ := t.Spec["displayName"].(string)
	return s
}

// StatusError is a non-2xx reply.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("halo: HTTP %d: %s", e.Status, e.Body)
}

// Client calls one site.
type Client struct {
	site Site
	base string
	http *http.Client
	log  *slog.Logger
}

// NewClient creates a Client for site. hc may be nil.
func NewClient(site Site, hc *http.Client, log *slog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{site: site, base: strings.TrimRight(site.URL, "/"), http: hc, log: log}
}

// Site returns the configured site.
func (c *Client) Site() Site { return c.site }

func (c *Client) request(ctx context.Context, method, p string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+p, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.site.Token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("halo: %s %s: %w", method, p, err)
	}
	return resp, nil
}

// do sends in as JSON (when non-nil) and decodes the reply into out (when
// non-nil). A 404 wraps apperr.ErrNotFound.
func (c *Client) do(ctx context.Context, method, p string, in, out any) error {
	var body io.Reader
	ct := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body, ct = bytes.NewReader(data), "application/json"
	}
	resp, err := c.request(ctx, method, p, body, ct)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, p)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("halo: decode %s: %w", p, err)
	}
	return nil
}

// Ping checks that the site is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, ucPosts+"?page=0&size=1", nil, nil)
}

func postPath(name string) string { return ucPosts + "/" + url.PathEscape(name) }

// GetPost returns a post and the content of its head snapshot.
func (c *Client) GetPost(ctx context.Context, name string) (*Post, *Content, error) {
	var post Post
	if err := c.do(ctx, http.MethodGet, postPath(name), nil, &post); err != nil {
		return nil, nil, err
	}
	var snap map[string]any
	if err := c.do(ctx, http.MethodGet, postPath(name)+"/draft?patched=true", nil, &snap); err != nil {
		return nil, nil, err
	}
	content := &Content{RawType: "markdown"}
	if spec, ok := snap["spec"].(map[string]any); ok {
		if rt, ok := spec["rawType"].(string); ok && rt != "" {
			content.RawType = rt
		}
	}
	if raw := annotations(snap)[ContentAnnotation]; raw != "" {
		if err := json.Unmarshal([]byte(raw), content); err != nil {
			c.log.Warn("halo: bad content annotation", slog.String("post", name), slog.String("error", err.Error()))
		}
	}
	return &post, content, nil
}

func annotations(obj map[string]any) map[string]string {
	out := map[string]string{}
	meta, _ := obj["metadata"].(map[string]any)
	if anns, ok := meta["annotations"].(map[string]any); ok {
		for k, v := range anns {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// CreatePost creates post with content attached and returns the stored
// resource.
func (c *Client) CreatePost(ctx context.Context, post *Post, content *Content) (*Post, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	if post.Metadata.Annotations == nil {
		post.Metadata.Annotations = map[string]string{}
	}
	post.Metadata.Annotations[ContentAnnotation] = string(data)
	var out Post
	if err := c.do(ctx, http.MethodPost, ucPosts, post, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePost writes post metadata, then replaces the head snapshot's
// content. The snapshot is sent back whole so unknown fields survive.
func (c *Client) UpdatePost(ctx context.Context, post *Post, content *Content) error {
	name := post.Metadata.Name
	if err := c.do(ctx, http.MethodPut, postPath(name), post, nil); err != nil {
		return err
	}
	var snap map[string]any
	if err := c.do(ctx, http.MethodGet, postPath(name)+"/draft?patched=true", nil, &snap); err != nil {
		return err
	}
	data, err := json.Marshal(content)
	if err != nil {
		return err
	}
	meta, _ := snap["metadata"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
		snap["metadata"] = meta
	}
	anns, _ := meta["annotations"].(map[string]any)
	if anns == nil {
		anns = map[string]any{}
		meta["annotations"] = anns
	}
	anns[ContentAnnotation] = string(data)
	return c.do(ctx, http.MethodPut, postPath(name)+"/draft", snap, nil)
}

// SetPublished publishes or unpublishes a post.
func (c *Client) SetPublished(ctx context.Context, name string, publish bool) error {
	action := "unpublish"
	if publish {
		action = "publish"
	}
	return c.do(ctx, http.MethodPut, postPath(name)+"/"+action, nil, nil)
}

type termList struct {
	Items []Term `json:"items"`
}

// Terms lists categories (kind "categories") or tags (kind "tags").
func (c *Client) Terms(ctx context.Context, kind string) ([]Term, error) {
	var out termList
	if err := c.do(ctx, http.MethodGet, contentAPI+"/"+kind, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// CreateTerm creates a category or tag and returns its server name.
func (c *Client) CreateTerm(ctx context.Context, kind string, spec map[string]any) (string, error) {
	k := "Tag"
	prefix := "tag-"
	if kind == "categories" {
		k, prefix = "Category", "category-"
	}
	in := map[string]any{
		"apiVersion": "content.halo.run/v1alpha1",
		"kind":       k,
		"metadata":   map[string]any{"name": "", "generateName": prefix},
		"spec":       spec,
	}
	var out Term
	if err := c.do(ctx, http.MethodPost, contentAPI+"/"+kind, in, &out); err != nil {
		return "", err
	}
	return out.Metadata.Name, nil
}

// UploadAttachment stores a file and returns its absolute URL. Endpoints
// answering 404 are skipped. When every endpoint refused, the error wraps
// apperr.ErrAttachmentPermission for 401/403 or
// apperr.ErrAttachmentNotConfigured when storage is not set up.
func (c *Client) UploadAttachment(ctx context.Context, data []byte, filename string) (string, error) {
	var seenAuth, seenConfig bool
	for _, p := range uploadPaths {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			return "", err
		}
		if _, err := fw.Write(data); err != nil {
			return "", err
		}
		if err := mw.WriteField("filename", filename); err != nil {
			return "", err
		}
		if err := mw.Close(); err != nil {
			return "", err
		}

		resp, err := c.request(ctx, http.MethodPost, p, &buf, mw.FormDataContentType())
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrUploadFailed, err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			continue
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			seenAuth = true
			continue
		case resp.StatusCode == http.StatusBadRequest && strings.Contains(problemDetail(body), notConfiguredDetail):
			seenConfig = true
			continue
		case resp.StatusCode >= 400:
			return "", fmt.Errorf("%w: %s", apperr.ErrUploadFailed, &StatusError{Status: resp.StatusCode, Body: string(body)})
		}
		var att struct {
			Status struct {
				Permalink string `json:"permalink"`
			} `json:"status"`
		}
		// Any 2xx means the file is stored; do not try the next endpoint.
		if err := json.Unmarshal(body, &att); err != nil || att.Status.Permalink == "" {
			return "", fmt.Errorf("%w: %s stored without a permalink", apperr.ErrUploadFailed, filename)
		}
		return c.Permalink(att.Status.Permalink), nil
	}
	switch {
	case seenAuth:
		return "", apperr.ErrAttachmentPermission
	case seenConfig:
		return "", apperr.ErrAttachmentNotConfigured
	}
	return "", fmt.Errorf("%w: no endpoint accepted %s", apperr.ErrUploadFailed, filename)
}

func problemDetail(body []byte) string {
	var p struct {
		Detail string `json:"detail"`
	}
	_ = json.Unmarshal(body, &p)
	return p.Detail
}

var absURLRe = regexp.MustCompile(`(?i)^https?://`)

// Permalink makes a site-relative permalink absolute.
func (c *Client) Permalink(p string) string {
	if p == "" || absURLRe.MatchString(p) {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return c.base + p
}

// IsNotFound reports whether err is a 404 from the site.
func IsNotFound(err error) bool { return errors.Is(err, apperr.ErrNotFound) }
