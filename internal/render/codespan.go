package render

import (
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

var captionRe = regexp.MustCompile(`(?im)^wwcap:\s*(.*)$`)

// codespanExt renders inline code as a styled span; `wwcap: text` becomes
// an image caption instead.
type codespanExt struct {
	Base
	prefix string
}

func (*codespanExt) Name() string { return "codespan" }

func (e *codespanExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *codespanExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindCodeSpan, e.renderCodeSpan)
}

func (e *codespanExt) renderCodeSpan(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	code := strings.TrimSpace(plainText(node, source))
	if m := captionRe.FindStringSubmatch(code); m != nil {
		_, _ = w.WriteString(`<div class="` + e.prefix + `-image-caption">` + html.EscapeString(strings.TrimSpace(m[1])) + `</div>`)
		return ast.WalkSkipChildren, nil
	}
	_, _ = w.WriteString(`<span class="` + e.prefix + `-codespan">` + html.EscapeString(code) + `</span>`)
	return ast.WalkSkipChildren, nil
}
