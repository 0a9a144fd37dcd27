package render

import (
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// listExt frames lists for the editor: a padding class on the list and a
// section around every item body.
type listExt struct{ Base }

func (*listExt) Name() string { return "list" }

func (e *listExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *listExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindList, e.renderList)
	reg.Register(ast.KindListItem, e.renderListItem)
	reg.Register(extast.KindTaskCheckBox, e.renderCheckBox)
}

func (e *listExt) renderList(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.List)
	tag := "ul"
	if n.IsOrdered() {
		tag = "ol"
	}
	if !entering {
		_, _ = w.WriteString("</" + tag + ">\n")
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("<" + tag)
	if n.IsOrdered() && n.Start != 1 {
		_, _ = w.WriteString(` start="` + strconv.Itoa(n.Start) + `"`)
	}
	_, _ = w.WriteString(` class="list-paddingleft-1">`)
	return ast.WalkContinue, nil
}

func (e *listExt) renderListItem(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<li><section>")
	} else {
		_, _ = w.WriteString("</section></li>")
	}
	return ast.WalkContinue, nil
}

func (e *listExt) renderCheckBox(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	if node.(*extast.TaskCheckBox).IsChecked {
		_, _ = w.WriteString("☑ ")
	} else {
		_, _ = w.WriteString("☐ ")
	}
	return ast.WalkContinue, nil
}

type footnoteExt struct{ Base }

func (*footnoteExt) Name() string { return "footnote" }

func (*footnoteExt) Extend(m goldmark.Markdown) { extension.Footnote.Extend(m) }

// headingExt wraps heading text in the prefix/outbox/leaf/tail spans that
// themes decorate.
type headingExt struct {
	Base
	prefix string
}

func (*headingExt) Name() string { return "heading" }

func (e *headingExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *headingExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindHeading, e.renderHeading)
}

func (e *headingExt) renderHeading(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Heading)
	tag := "h" + strconv.Itoa(n.Level)
	p := e.prefix
	_, _ = w.WriteString("<" + tag + ">")
	_, _ = w.WriteString(`<span class="` + p + `-heading-prefix"> </span>`)
	_, _ = w.WriteString(`<span class="` + p + `-heading-outbox"><span class="` + p + `-heading-leaf">`)
	_, _ = w.WriteString(html.EscapeString(plainText(n, source)))
	_, _ = w.WriteString(`</span></span><span class="` + p + `-heading-tail"></span>`)
	_, _ = w.WriteString("</" + tag + ">\n")
	return ast.WalkSkipChildren, nil
}

// tableExt puts tables in a scroll container.
type tableExt struct{ Base }

func (*tableExt) Name() string { return "table" }

func (e *tableExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *tableExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(extast.KindTable, e.renderTable)
}

func (e *tableExt) renderTable(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<section class="table-container"><table>` + "\n")
	} else {
		_, _ = w.WriteString("</table></section>\n")
	}
	return ast.WalkContinue, nil
}

// plainText is the literal text under n, without markup.
func plainText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.Write(c.Label(source))
		case *embedNode:
			b.WriteString(c.Link.Display())
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
