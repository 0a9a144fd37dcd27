package render

import (
	"context"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/starford/inkwell/internal/vault"
)

// AvatarClass marks images that are never wrapped in a figure.
const AvatarClass = "inkwell-avatar-image"

// imageExt resolves vault images to asset URLs and wraps every image in a
// figure with an optional caption row built from its title.
type imageExt struct {
	Base
	p *Pipeline
}

func (*imageExt) Name() string { return "image" }

func (e *imageExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *imageExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindImage, e.renderImage)
}

func (e *imageExt) renderImage(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Image)
	s := sessionOf(node)
	src := e.p.imageSrc(string(n.Destination), s.NotePath)
	_, _ = w.WriteString(`<img src="` + html.EscapeString(src) + `" alt="` + html.EscapeString(plainText(n, source)) + `"`)
	if len(n.Title) > 0 {
		_, _ = w.WriteString(` title="` + html.EscapeString(string(n.Title)) + `"`)
	}
	_, _ = w.WriteString(">")
	return ast.WalkSkipChildren, nil
}

// imageSrc maps an image reference to a displayable URL. Remote and data
// URLs pass through; vault references that cannot be resolved are kept.
func (p *Pipeline) imageSrc(raw, from string) string {
	ref := strings.TrimSpace(raw)
	if ref == "" || vault.IsRemote(ref) || p.opts.Vault == nil {
		return ref
	}
	if resolved := p.opts.Vault.ResolveImage(ref, from); resolved != "" {
		return p.opts.AssetURL(resolved)
	}
	return ref
}

func (e *imageExt) Postprocess(_ context.Context, _ *Session, src string) (string, error) {
	if !strings.Contains(src, "<img") {
		return src, nil
	}
	return withDocument(src, func(doc *goquery.Document) {
		doc.Find("img").Each(func(_ int, img *goquery.Selection) {
			if img.HasClass(AvatarClass) {
				return
			}
			title := strings.TrimSpace(img.AttrOr("title", ""))
			img.WrapHtml(`<figure class="image-with-caption"></figure>`)
			if title != "" {
				img.Parent().AppendHtml(`<div class="image-caption-row"><div class="triangle"></div><figcaption class="image-caption">` +
					html.EscapeString(title) + `</figcaption></div>`)
			}
		})
	})
}
