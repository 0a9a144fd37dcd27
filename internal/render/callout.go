package render

import (
	"context"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	"github.com/starford/inkwell/internal/capture"
)

const calloutSelector = ".callout:not(.admonition)"

var calloutHeadRe = regexp.MustCompile(`^\[![\w-]+\]`)

// calloutExt replaces "> [!type]" blockquotes with the callout box the
// host rendered. Plain blockquotes render as usual.
type calloutExt struct {
	Base
	p *Pipeline
}

func (*calloutExt) Name() string { return "callout" }

func (e *calloutExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func isCallout(q *ast.Blockquote, source []byte) bool {
	para, ok := q.FirstChild().(*ast.Paragraph)
	if !ok || para.Lines().Len() == 0 {
		return false
	}
	first := para.Lines().At(0)
	return calloutHeadRe.MatchString(strings.TrimSpace(string(first.Value(source))))
}

// Walk pairs callout blockquotes, nested ones included, with host callouts
// in document order.
func (e *calloutExt) Walk(ctx context.Context, s *Session, doc ast.Node, source []byte) error {
	index := 0
	return ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		q, ok := n.(*ast.Blockquote)
		if !entering || !ok || !isCallout(q, source) {
			return ast.WalkContinue, nil
		}
		s.Stash(q, e.capture(ctx, s, index))
		index++
		return ast.WalkContinue, nil
	})
}

func (e *calloutExt) capture(ctx context.Context, s *Session, index int) string {
	c := s.Container()
	if c == nil {
		return CalloutFailed
	}
	root := waitIndexed(ctx, c, calloutSelector, index, e.p)
	if root == nil {
		return CalloutFailed
	}
	capture.Remove(root, ".callout-fold")
	capture.Remove(root, ".edit-block-button")
	divToSection(root)
	return `<section class="` + e.p.opts.Prefix + `-callout">` + capture.OuterHTML(root) + `</section>`
}

func (e *calloutExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindBlockquote, e.renderBlockquote)
}

func (e *calloutExt) renderBlockquote(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if html, ok := sessionOf(node).Stashed(node); ok {
		if entering {
			_, _ = w.WriteString(html + "\n")
		}
		return ast.WalkSkipChildren, nil
	}
	if entering {
		_, _ = w.WriteString("<blockquote>\n")
	} else {
		_, _ = w.WriteString("</blockquote>\n")
	}
	return ast.WalkContinue, nil
}
