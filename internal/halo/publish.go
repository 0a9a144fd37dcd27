package halo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/vault"
)

// CoverKeys name the post cover in frontmatter.
var CoverKeys = []string{"封面图", "封面", "cover", "thumbnail", "inkwell_cover"}

// FrontmatterKey holds the remote binding of a published note.
const FrontmatterKey = "halo"

const (
	maxFilenameLen = 180
	// Longer suffixes are treated as part of the name.
	maxExtLen = 16
)

var (
	embedRe   = regexp.MustCompile(`!\[\[([^\]]+)\]\]`)
	mdImageRe = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	linkRe    = regexp.MustCompile(`(!?)\[\[([^\]]+)\]\]`)
	slugRe    = regexp.MustCompile(`[^\w\x{4e00}-\x{9fa5}]+`)
	remoteRe  = regexp.MustCompile(`(?i)^(https?:|data:)`)
)

// Options configures a Publisher.
type Options struct {
	Sites            []Site
	DefaultSite      string
	PublishByDefault bool
	HTTPClient       *http.Client
}

// Publisher runs the publish flow of one note at a time per site.
type Publisher struct {
	vault *vault.Vault
	opts  Options
	md    goldmark.Markdown
	log   *slog.Logger
	now   func() time.Time

	mu       sync.Mutex
	notified map[error]bool
}

// NewPublisher creates a Publisher.
func NewPublisher(v *vault.Vault, opts Options, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		vault: v,
		opts:  opts,
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(ghtml.WithHardWraps(), ghtml.WithUnsafe()),
		),
		log:      log,
		now:      time.Now,
		notified: map[error]bool{},
	}
	return p
}

// Site resolves a site by name; "" selects the default, then the first.
func (p *Publisher) Site(name string) (Site, error) {
	want := name
	if want == "" {
		want = p.opts.DefaultSite
	}
	var site *Site
	for i := range p.opts.Sites {
		if p.opts.Sites[i].Name == want {
			site = &p.opts.Sites[i]
			break
		}
	}
	if site == nil && name == "" && len(p.opts.Sites) > 0 {
		site = &p.opts.Sites[0]
	}
	if site == nil {
		return Site{}, fmt.Errorf("%w: no halo site named %q", apperr.ErrConfig, want)
	}
	if strings.TrimSpace(site.URL) == "" || strings.TrimSpace(site.Token) == "" {
		return Site{}, fmt.Errorf("%w: halo site %q needs url and token", apperr.ErrConfig, site.Name)
	}
	return *site, nil
}

// Result reports a finished publish.
type Result struct {
	Name      string `json:"name"`
	Site      string `json:"site"`
	Permalink string `json:"permalink,omitempty"`
	Publish   bool   `json:"publish"`
	Created   bool   `json:"created"`
}

// Binding is the halo frontmatter block of a note.
type Binding struct {
	Site      string
	Name      string
	Publish   *bool
	Permalink string
}

// ReadBinding reads the halo block of fm.
func ReadBinding(fm map[string]any) Binding {
	m := parser.Map(fm, FrontmatterKey)
	b := Binding{
		Site:      parser.String(m, "site"),
		Name:      parser.String(m, "name"),
		Permalink: parser.String(m, "permalink"),
	}
	if v, ok := m["publish"].(bool); ok {
		b.Publish = &v
	}
	return b
}

// run is the state of one publish: upload and link caches.
type run struct {
	p      *Publisher
	client *Client
	site   Site
	from   string
	images map[string]string
	links  map[string]string
}

// Publish creates or updates the remote post of notePath. publish, when
// non-nil, overrides the frontmatter and the configured default.
func (p *Publisher) Publish(ctx context.Context, notePath, siteName string, publish *bool) (*Result, error) {
	site, err := p.Site(siteName)
	if err != nil {
		return nil, err
	}
	raw, err := p.vault.ReadFile(notePath)
	if err != nil {
		return nil, err
	}
	fm, body := parser.Split(raw)
	bound := ReadBinding(fm)
	if bound.Site != "" && bound.Site != site.URL {
		return nil, fmt.Errorf("%w: %s is bound to %s", apperr.ErrSiteMismatch, notePath, bound.Site)
	}

	r := &run{p: p, client: NewClient(site, p.opts.HTTPClient, p.log), site: site, from: notePath,
		images: map[string]string{}, links: map[string]string{}}

	processed, err := r.processMarkdown(ctx, body)
	if err != nil {
		return nil, p.report(err)
	}
	cover := ""
	if ref := parser.String(fm, CoverKeys...); ref != "" {
		if cover, err = r.coverURL(ctx, ref); err != nil {
			return nil, p.report(err)
		}
	}

	post, content := NewPost(), &Content{RawType: "markdown"}
	if bound.Name != "" {
		existing, c, err := r.client.GetPost(ctx, bound.Name)
		switch {
		case err == nil:
			post, content = existing, c
		case IsNotFound(err):
			p.log.Warn("halo: bound post missing, creating a new one", slog.String("name", bound.Name))
		default:
			return nil, err
		}
	}
	content.Raw = processed
	content.Content, err = p.renderHTML(processed)
	if err != nil {
		return nil, err
	}

	title := parser.Title(fm, strings.TrimSuffix(path.Base(notePath), path.Ext(notePath)))
	post.Spec.Title = title
	post.Spec.Slug = parser.String(fm, "slug")
	if post.Spec.Slug == "" {
		post.Spec.Slug = p.Slug(title)
	}
	post.Spec.Excerpt = Excerpt{AutoGenerate: true}
	if ex := parser.String(fm, "excerpt", "摘要"); ex != "" {
		post.Spec.Excerpt = Excerpt{Raw: ex}
	}
	if cover != "" {
		post.Spec.Cover = cover
	}
	if _, ok := fm["categories"]; ok {
		if post.Spec.Categories, err = r.termNames(ctx, "categories", parser.Strings(fm, "categories")); err != nil {
			return nil, err
		}
	}
	if _, ok := fm["tags"]; ok {
		if post.Spec.Tags, err = r.termNames(ctx, "tags", parser.Strings(fm, "tags")); err != nil {
			return nil, err
		}
	}

	res := &Result{Site: site.URL}
	if post.Metadata.Name != "" {
		if err := r.client.UpdatePost(ctx, post, content); err != nil {
			return nil, err
		}
	} else {
		post.Metadata.Name = uuid.NewString()
		created, err := r.client.CreatePost(ctx, post, content)
		if err != nil {
			return nil, err
		}
		if created.Metadata.Name != "" {
			post = created
		}
		res.Created = true
	}
	res.Name = post.Metadata.Name

	flag := p.opts.PublishByDefault
	if bound.Publish != nil {
		flag = *bound.Publish
	}
	if publish != nil {
		flag = *publish
	}
	if err := r.client.SetPublished(ctx, res.Name, flag); err != nil {
		return nil, err
	}
	res.Publish = flag

	if latest, _, err := r.client.GetPost(ctx, res.Name); err == nil {
		res.Permalink = r.client.Permalink(latest.Permalink())
	} else {
		p.log.Warn("halo: refetch post", slog.String("name", res.Name), slog.String("error", err.Error()))
	}

	err = p.vault.UpdateFrontmatter(notePath, func(fm map[string]any) {
		b := map[string]any{"site": site.URL, "name": res.Name, "publish": res.Publish}
		if res.Permalink != "" {
			b["permalink"] = res.Permalink
		}
		fm[FrontmatterKey] = b
	})
	if err != nil {
		return nil, fmt.Errorf("halo: write back frontmatter: %w", err)
	}
	p.log.Info("halo: post published",
		slog.String("note", notePath),
		slog.String("site", site.Name),
		slog.String("name", res.Name),
		slog.Bool("created", res.Created))
	return res, nil
}

// report logs the first attachment failure of each kind at warn level and
// later ones at debug.
func (p *Publisher) report(err error) error {
	for _, class := range []error{apperr.ErrAttachmentPermission, apperr.ErrAttachmentNotConfigured} {
		if !errors.Is(err, class) {
			continue
		}
		p.mu.Lock()
		first := !p.notified[class]
		p.notified[class] = true
		p.mu.Unlock()
		if first {
			p.log.Warn("halo: attachment upload refused", slog.String("error", err.Error()))
		} else {
			p.log.Debug("halo: attachment upload refused", slog.String("error", err.Error()))
		}
		return err
	}
	p.log.Error("halo: attachment upload failed", slog.String("error", err.Error()))
	return err
}

// Notified reports whether a failure of class has already been reported.
func (p *Publisher) Notified(class error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notified[class]
}

// Slug lowercases title and joins word runs with "-". Titles with no word
// characters get a timestamp slug.
func (p *Publisher) Slug(title string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(title)), "-"), "-")
	if s == "" {
		return fmt.Sprintf("post-%d", p.now().UnixMilli())
	}
	return s
}

func (p *Publisher) renderHTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("halo: render: %w", err)
	}
	return buf.String(), nil
}

func (r *run) processMarkdown(ctx context.Context, body string) (string, error) {
	out, err := parser.ReplaceOutsideCodeFences(body, func(seg string) (string, error) {
		return r.replaceImages(ctx, seg)
	})
	if err != nil {
		return "", err
	}
	return parser.ReplaceOutsideCodeFences(out, func(seg string) (string, error) {
		return r.replaceLinks(ctx, seg), nil
	})
}

// replaceImages uploads local embeds and Markdown images. Unresolvable
// references are left as written.
func (r *run) replaceImages(ctx context.Context, seg string) (string, error) {
	var firstErr error
	seg = embedRe.ReplaceAllStringFunc(seg, func(tok string) string {
		if firstErr != nil {
			return tok
		}
		target := parser.ParseWikilink(embedRe.FindStringSubmatch(tok)[1]).Target
		if target == "" {
			return tok
		}
		if remoteRe.MatchString(target) {
			return "![](" + target + ")"
		}
		u, err := r.upload(ctx, target)
		if err != nil {
			firstErr = err
			return tok
		}
		if u == "" {
			return tok
		}
		base := path.Base(target)
		return "![" + strings.TrimSuffix(base, path.Ext(base)) + "](" + u + ")"
	})
	if firstErr != nil {
		return "", firstErr
	}
	seg = mdImageRe.ReplaceAllStringFunc(seg, func(tok string) string {
		if firstErr != nil {
			return tok
		}
		m := mdImageRe.FindStringSubmatch(tok)
		ref := strings.Fields(strings.TrimSpace(m[2]))
		if len(ref) == 0 {
			return tok
		}
		target := strings.TrimSuffix(strings.TrimPrefix(ref[0], "<"), ">")
		if remoteRe.MatchString(target) {
			return tok
		}
		u, err := r.upload(ctx, target)
		if err != nil {
			firstErr = err
			return tok
		}
		if u == "" {
			return tok
		}
		return "![" + m[1] + "](" + u + ")"
	})
	return seg, firstErr
}

// upload sends a vault file once per publish and returns its URL, or ""
// when ref does not resolve.
func (r *run) upload(ctx context.Context, ref string) (string, error) {
	p := r.p.vault.ResolveImage(ref, r.from)
	if p == "" {
		p = r.p.vault.ResolveLink(ref, r.from)
	}
	if p == "" {
		return "", nil
	}
	if u, ok := r.images[p]; ok {
		return u, nil
	}
	data, err := r.p.vault.ReadFile(p)
	if err != nil {
		return "", err
	}
	u, err := r.client.UploadAttachment(ctx, data, AttachmentName(path.Base(p)))
	if err != nil {
		return "", err
	}
	r.images[p] = u
	return u, nil
}

// AttachmentName slugs the stem of name and caps its length.
func AttachmentName(name string) string {
	base, ext := name, strings.ToLower(path.Ext(name))
	if len(ext) > maxExtLen {
		ext = ""
	} else {
		base = strings.TrimSuffix(name, path.Ext(name))
	}
	stem := slug.Make(base)
	if stem == "" {
		stem = uuid.NewString()
	}
	if len(stem)+len(ext) > maxFilenameLen {
		stem = stem[:maxFilenameLen-len(ext)]
	}
	return stem + ext
}

func (r *run) coverURL(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if remoteRe.MatchString(ref) {
		return ref, nil
	}
	return r.upload(ctx, strings.TrimPrefix(ref, "vault:"))
}

// replaceLinks turns [[note|alias]] into a link to the note's published
// post, or into the bare alias when it has none.
func (r *run) replaceLinks(ctx context.Context, seg string) string {
	return linkRe.ReplaceAllStringFunc(seg, func(tok string) string {
		m := linkRe.FindStringSubmatch(tok)
		if m[1] == "!" {
			return tok
		}
		w := parser.ParseWikilink(m[2])
		if u := r.permalink(ctx, w.Target); u != "" {
			return "[" + w.Display() + "](" + u + ")"
		}
		return w.Display()
	})
}

func (r *run) permalink(ctx context.Context, target string) string {
	target, _, _ = strings.Cut(target, "#")
	target = strings.TrimSpace(target)
	if target == "" {
		return ""
	}
	if u, ok := r.links[target]; ok {
		return u
	}
	p := r.p.vault.ResolveLink(target, r.from)
	if p == "" {
		return ""
	}
	b := ReadBinding(r.p.vault.Frontmatter(p))
	if b.Site != "" && b.Site != r.site.URL {
		return ""
	}
	u := ""
	switch {
	case b.Permalink != "":
		u = r.client.Permalink(b.Permalink)
	case b.Name != "":
		if post, _, err := r.client.GetPost(ctx, b.Name); err == nil {
			u = r.client.Permalink(post.Permalink())
		}
	}
	if u != "" {
		r.links[target] = u
	}
	return u
}

// termNames maps display names to server names, creating the missing
// ones. Existing names come first, then created ones.
func (r *run) termNames(ctx context.Context, kind string, display []string) ([]string, error) {
	all, err := r.client.Terms(ctx, kind)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(all))
	for _, t := range all {
		byName[t.DisplayName()] = t.Metadata.Name
	}
	var existing, missing []string
	for _, d := range display {
		if n, ok := byName[d]; ok {
			existing = append(existing, n)
		} else {
			missing = append(missing, d)
		}
	}

	created := make([]string, len(missing))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range missing {
		spec := map[string]any{"displayName": d, "slug": r.p.Slug(d), "cover": ""}
		if kind == "categories" {
			spec["description"] = ""
			spec["template"] = ""
			spec["priority"] = len(all) + i
			spec["children"] = []string{}
		} else {
			spec["color"] = "#ffffff"
		}
		g.Go(func() error {
			n, err := r.client.CreateTerm(gctx, kind, spec)
			created[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return append(append([]string{}, existing...), created...), nil
}
