// Package render turns vault notes into WeChat-ready HTML. A Pipeline owns
// a goldmark instance configured with an ordered chain of extensions; each
// Render call gets its own Session.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"

	"github.com/starford/inkwell/internal/capture"
	inkparser "github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/vault"
)

// Options configures a Pipeline.
type Options struct {
	Vault *vault.Vault
	Host  capture.Host
	Math  MathEngine

	// AssetURL maps a vault path to a displayable URL.
	AssetURL func(p string) string

	// Prefix is the class-name prefix of decorated markup.
	Prefix          string
	CodeLineNumbers bool
	CalloutWait     time.Duration
	DiagramWait     time.Duration
	MathCacheSize   int64

	// Defaults for profile cards without a nickname or signature.
	CardName      string
	CardSignature string

	Log *slog.Logger
}

// Pipeline renders Markdown through the extension chain.
type Pipeline struct {
	opts       Options
	md         goldmark.Markdown
	extensions []Extension
	log        *slog.Logger
}

// DefaultAssetURL serves vault files through the API asset route.
func DefaultAssetURL(p string) string {
	parts := strings.Split(p, "/")
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return "/api/assets/" + strings.Join(parts, "/")
}

// New builds a pipeline with the full extension chain.
func New(opts Options) (*Pipeline, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.AssetURL == nil {
		opts.AssetURL = DefaultAssetURL
	}
	if opts.Prefix == "" {
		opts.Prefix = "inkwell"
	}
	if opts.CalloutWait <= 0 {
		opts.CalloutWait = capture.DefaultCalloutWait
	}
	if opts.DiagramWait <= 0 {
		opts.DiagramWait = capture.DefaultDiagramWait
	}
	if opts.MathCacheSize <= 0 {
		opts.MathCacheSize = 5000
	}
	if opts.CardName == "" {
		opts.CardName = "公众号名称"
	}
	if opts.CardSignature == "" {
		opts.CardSignature = "公众号简介"
	}

	p := &Pipeline{opts: opts, log: opts.Log}
	math, err := newMath(opts.Math, opts.MathCacheSize)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	p.extensions = []Extension{
		&listExt{},
		&footnoteExt{},
		&headingExt{prefix: opts.Prefix},
		&embedExt{p: p},
		&codeExt{p: p},
		&codespanExt{prefix: opts.Prefix},
		math,
		&iconExt{},
		&calloutExt{p: p},
		&tableExt{},
		&linksExt{},
		&imageExt{p: p},
	}

	exts := []goldmark.Extender{
		extension.Strikethrough,
		extension.Linkify,
		extension.TaskList,
		extension.NewTable(extension.WithTableCellAlignMethod(extension.TableCellAlignStyle)),
	}
	for _, e := range p.extensions {
		exts = append(exts, e)
	}
	p.md = goldmark.New(
		goldmark.WithExtensions(exts...),
		goldmark.WithParserOptions(parser.WithAttribute()),
		goldmark.WithRendererOptions(ghtml.WithHardWraps(), ghtml.WithUnsafe()),
	)
	return p, nil
}

// Extensions returns the chain in registration order.
func (p *Pipeline) Extensions() []Extension { return p.extensions }

// Result is the output of one render.
type Result struct {
	HTML        string
	Frontmatter map[string]any
	Title       string
	Cards       []Card
}

// RenderNote reads notePath from the vault and renders it.
func (p *Pipeline) RenderNote(ctx context.Context, notePath string, preview bool) (*Result, error) {
	if p.opts.Vault == nil {
		return nil, fmt.Errorf("render: no vault configured")
	}
	raw, err := p.opts.Vault.ReadNote(notePath)
	if err != nil {
		return nil, err
	}
	return p.Render(ctx, notePath, raw, preview)
}

// Render renders raw note text. notePath anchors relative links and
// selects the note the side channel renders.
func (p *Pipeline) Render(ctx context.Context, notePath, raw string, preview bool) (*Result, error) {
	fm, body := inkparser.Clean([]byte(raw))
	s := newSession(ctx, notePath, fm, preview, p.opts.Host, p.log.With(slog.String("note", notePath)))

	for _, e := range p.extensions {
		if err := e.Prepare(ctx, s); err != nil {
			return nil, fmt.Errorf("render: prepare %s: %w", e.Name(), err)
		}
	}

	source := []byte(body)
	pctx := parser.NewContext()
	pctx.Set(sessionKey, s)
	doc := p.md.Parser().Parse(text.NewReader(source), parser.WithContext(pctx))
	if d, ok := doc.(*ast.Document); ok {
		d.AddMeta(sessionMetaKey, s)
	}

	for _, e := range p.extensions {
		if w, ok := e.(Walker); ok {
			if err := w.Walk(ctx, s, doc, source); err != nil {
				return nil, fmt.Errorf("render: walk %s: %w", e.Name(), err)
			}
		}
	}

	var buf bytes.Buffer
	if err := p.md.Renderer().Render(&buf, source, doc); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}

	out := buf.String()
	for _, e := range p.extensions {
		var err error
		out, err = e.Postprocess(ctx, s, out)
		if err != nil {
			return nil, fmt.Errorf("render: postprocess %s: %w", e.Name(), err)
		}
	}
	out, err := removeEmptyListItems(out)
	if err != nil {
		return nil, fmt.Errorf("render: list cleanup: %w", err)
	}

	return &Result{
		HTML:        out,
		Frontmatter: fm,
		Title:       inkparser.Title(fm, strings.TrimSuffix(path.Base(notePath), path.Ext(notePath))),
		Cards:       s.Cards(),
	}, nil
}

var sessionKey = parser.NewContextKey()

var (
	brRe          = regexp.MustCompile(`(?i)<br\s*/?>`)
	nbspRe        = regexp.MustCompile(`(?i)&nbsp;`)
	emptySpanRe   = regexp.MustCompile(`(?i)<span[^>]*>\s*</span>`)
	emptySectRe   = regexp.MustCompile(`(?i)<section[^>]*>\s*</section>`)
	emptyDivRe    = regexp.MustCompile(`(?i)<div[^>]*>\s*</div>`)
	blankRunRe    = regexp.MustCompile(`[\s\x{00A0}\x{200B}-\x{200D}]+`)
	restoreSuffix = `"[^>]*>(.*?)</section>`
)

// removeEmptyListItems drops list items left with nothing but whitespace,
// line breaks and empty wrappers, unless they hold media. Code line-number
// columns are left alone.
func removeEmptyListItems(src string) (string, error) {
	return withDocument(src, func(doc *goquery.Document) {
		doc.Find("ol li, ul li").Each(func(_ int, li *goquery.Selection) {
			if li.Find("img, video, figure").Length() > 0 || li.Parent().HasClass("code-snippet__line-index") {
				return
			}
			inner, err := li.Html()
			if err != nil {
				return
			}
			inner = brRe.ReplaceAllString(inner, "")
			inner = nbspRe.ReplaceAllString(inner, "")
			inner = emptySpanRe.ReplaceAllString(inner, "")
			inner = emptySectRe.ReplaceAllString(inner, "")
			inner = emptyDivRe.ReplaceAllString(inner, "")
			inner = blankRunRe.ReplaceAllString(inner, "")
			if inner == "" {
				li.Remove()
			}
		})
	})
}

// withDocument parses an HTML fragment, lets fn edit it and serialises the
// body back.
func withDocument(src string, fn func(doc *goquery.Document)) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return "", err
	}
	fn(doc)
	return doc.Find("body").Html()
}

// Restore swaps every card placeholder section for the cached raw markup.
// It runs right before upload or copy, never for previews.
func (r *Result) Restore(html string) string {
	for _, c := range r.Cards {
		re, err := regexp.Compile(`(?s)<section[^>]*\sdata-id="` + regexp.QuoteMeta(c.ID) + restoreSuffix)
		if err != nil || !re.MatchString(html) {
			continue
		}
		html = re.ReplaceAllLiteralString(html, c.HTML)
	}
	return html
}

// Final is the upload-ready HTML with cards restored.
func (r *Result) Final() string { return r.Restore(r.HTML) }

var previewPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("section", "figure", "figcaption", "span", "div")
	p.AllowAttrs("class", "id", "style").Globally()
	p.AllowAttrs("data-id", "data-link", "data-linktype").Globally()
	p.AllowAttrs("width", "height", "src", "alt", "title").OnElements("img")
	p.AllowAttrs("start").OnElements("ol")
	p.AllowDataURIImages()
	p.AllowRelativeURLs(true)
	return p
}()

// Preview returns the HTML sanitised for display in a browser preview.
func (r *Result) Preview() string {
	return previewPolicy.Sanitize(r.HTML)
}

// Wrap puts rendered HTML inside the article root that themes target.
func Wrap(html string) string {
	return `<section id="inkwell-article" class="inkwell">` + html + `</section>`
}
