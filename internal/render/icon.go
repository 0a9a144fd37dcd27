package render

import (
	"context"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"github.com/starford/inkwell/internal/capture"
)

const (
	iconSelector    = ".obsidian-icon.react-icon"
	iconPlaceholder = "<span>remix icon not found </span>"
)

var (
	kindIcon = ast.NewNodeKind("Icon")
	iconRe   = regexp.MustCompile("(?i)^`(ris|fas):([a-z0-9-]+)`")
)

type iconNode struct {
	ast.BaseInline
	Set  string
	Icon string
}

func (n *iconNode) Kind() ast.NodeKind { return kindIcon }

func (n *iconNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"set": n.Set, "icon": n.Icon}, nil)
}

// iconExt turns `ris:name` / `fas:name` codespans into the icon markup the
// host rendered for them.
type iconExt struct{ Base }

func (*iconExt) Name() string { return "icon" }

func (e *iconExt) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(util.Prioritized(&iconParser{}, 90)))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

type iconParser struct{}

func (iconParser) Trigger() []byte { return []byte{'`'} }

func (iconParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	m := iconRe.FindSubmatch(line)
	if m == nil {
		return nil
	}
	block.Advance(len(m[0]))
	return &iconNode{Set: strings.ToLower(string(m[1])), Icon: strings.ToLower(string(m[2]))}
}

// Walk pairs the i-th icon token with the i-th icon node of the host
// render. Every token consumes an index, found or not.
func (e *iconExt) Walk(ctx context.Context, s *Session, doc ast.Node, source []byte) error {
	var icons []*iconNode
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if in, ok := n.(*iconNode); ok && entering {
			icons = append(icons, in)
		}
		return ast.WalkContinue, nil
	})
	if len(icons) == 0 {
		return nil
	}
	c := s.Container()
	for i, n := range icons {
		if found := c.Query(iconSelector, i); found != nil {
			s.Stash(n, capture.OuterHTML(found))
		}
	}
	return nil
}

func (e *iconExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(kindIcon, e.renderIcon)
}

func (e *iconExt) renderIcon(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	if html, ok := sessionOf(node).Stashed(node); ok {
		_, _ = w.WriteString(html)
	} else {
		_, _ = w.WriteString(iconPlaceholder)
	}
	return ast.WalkSkipChildren, nil
}
