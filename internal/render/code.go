package render

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/starford/inkwell/internal/capture"
)

// Placeholders written in place of widgets the side channel could not
// supply.
const (
	MermaidFailed    = "<span>Mermaid 渲染失败</span>"
	AdmonitionFailed = "<span>Admonition 渲染失败</span>"
	ChartFailed      = "<span>图表渲染失败</span>"
	CalloutFailed    = "<span>Callout 渲染失败</span>"
)

// codeExt dispatches fenced blocks by language: diagrams, admonitions and
// charts come from the side channel, profile and official-account cards
// from their key/value bodies, everything else is highlighted code.
type codeExt struct {
	Base
	p *Pipeline
}

func (*codeExt) Name() string { return "code" }

func (e *codeExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *codeExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, e.renderCode)
	reg.Register(ast.KindCodeBlock, e.renderCode)
}

func fenceLang(n ast.Node, source []byte) string {
	f, ok := n.(*ast.FencedCodeBlock)
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(string(f.Language(source))))
}

func codeText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Walk captures side-channel widgets in document order. Each widget kind
// keeps its own index into the host DOM.
func (e *codeExt) Walk(ctx context.Context, s *Session, doc ast.Node, source []byte) error {
	var mermaid, admonition, chart int
	return ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindFencedCodeBlock {
			return ast.WalkContinue, nil
		}
		switch lang := fenceLang(n, source); {
		case lang == "mermaid":
			s.Stash(n, e.captureMermaid(ctx, s, mermaid))
			mermaid++
		case strings.HasPrefix(lang, "ad-"):
			s.Stash(n, e.captureAdmonition(ctx, s, admonition))
			admonition++
		case lang == "chart":
			s.Stash(n, e.captureChart(s, chart))
			chart++
		}
		return ast.WalkSkipChildren, nil
	})
}

func (e *codeExt) captureMermaid(ctx context.Context, s *Session, index int) string {
	c := s.Container()
	if c == nil {
		return MermaidFailed
	}
	root := c.WaitForChild(ctx, ".mermaid", index, "svg", e.p.opts.DiagramWait)
	if root == nil {
		return MermaidFailed
	}
	svg := capture.Find(root, "svg")
	if svg == nil {
		return MermaidFailed
	}
	dataURL, width, _, err := capture.SVGToPNGDataURL(svg, c.Measurer())
	if err != nil {
		s.Logger().Warn("mermaid rasterise failed", slog.Int("index", index), slog.String("error", err.Error()))
		return MermaidFailed
	}
	return fmt.Sprintf(`<section id="%s-mermaid-%d" class="mermaid"><img src="%s" class="mermaid-image" style="width:%dpx;height:auto;"></section>`,
		e.p.opts.Prefix, index, dataURL, width)
}

// waitIndexed waits until selector has more than index matches.
func waitIndexed(ctx context.Context, c *capture.Container, selector string, index int, p *Pipeline) *xhtml.Node {
	return c.WaitForIndex(ctx, selector, index, p.opts.CalloutWait)
}

func (e *codeExt) captureAdmonition(ctx context.Context, s *Session, index int) string {
	c := s.Container()
	if c == nil {
		return AdmonitionFailed
	}
	root := waitIndexed(ctx, c, ".callout.admonition", index, e.p)
	if root == nil {
		return AdmonitionFailed
	}
	capture.Remove(root, ".edit-block-button")
	capture.Remove(root, ".callout-fold")
	divToSection(root)
	return capture.OuterHTML(root)
}

func (e *codeExt) captureChart(s *Session, index int) string {
	root := s.Container().Query(".block-language-chart", index)
	if root == nil {
		return ChartFailed
	}
	src := ""
	if img := capture.Find(root, "img"); img != nil {
		src = dom.GetAttributeOr(img, "src", "")
	} else if canvas := capture.Find(root, "canvas"); canvas != nil {
		src = dom.GetAttributeOr(canvas, "data-url", "")
	}
	if src == "" {
		return ChartFailed
	}
	return fmt.Sprintf(`<section id="charts-img-%d" class="charts"><img src="%s" class="charts-image"></section>`,
		index, html.EscapeString(src))
}

func (e *codeExt) renderCode(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	s := sessionOf(node)
	lang := fenceLang(node, source)
	switch {
	case lang == "mermaid", strings.HasPrefix(lang, "ad-"), lang == "chart":
		if out, ok := s.Stashed(node); ok {
			_, _ = w.WriteString(out)
		} else {
			_, _ = w.WriteString(placeholderFor(lang))
		}
	case lang == e.p.opts.Prefix+"-profile":
		_, _ = w.WriteString(renderProfile(codeText(node, source)))
	case lang == "mpcard":
		_, _ = w.WriteString(e.renderCard(s, codeText(node, source)))
	default:
		_, _ = w.WriteString(highlightBlock(codeText(node, source), lang, e.p.opts.CodeLineNumbers))
	}
	return ast.WalkSkipChildren, nil
}

func placeholderFor(lang string) string {
	switch {
	case lang == "mermaid":
		return MermaidFailed
	case lang == "chart":
		return ChartFailed
	default:
		return AdmonitionFailed
	}
}

// divToSection renames every div in the subtree, n included, to section.
func divToSection(n *xhtml.Node) {
	if n.Type == xhtml.ElementNode && n.Data == "div" {
		n.Data = "section"
		n.DataAtom = atom.Section
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		divToSection(c)
	}
}
