package render

import (
	"bytes"
	"html"
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	inkparser "github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/vault"
)

var kindEmbed = ast.NewNodeKind("Embed")

// embedNode is a [[wikilink]] or ![[embed]].
type embedNode struct {
	ast.BaseInline
	Link inkparser.Wikilink
}

func (n *embedNode) Kind() ast.NodeKind { return kindEmbed }

func (n *embedNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"target": n.Link.Target, "alias": n.Link.Alias}, nil)
}

// embedExt handles wiki syntax: image embeds become <img>, other links and
// embeds collapse to their display text.
type embedExt struct {
	Base
	p *Pipeline
}

func (*embedExt) Name() string { return "embed" }

func (e *embedExt) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithInlineParsers(util.Prioritized(&embedParser{}, 150)))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

type embedParser struct{}

func (embedParser) Trigger() []byte { return []byte{'!', '['} }

func (embedParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	start := 0
	embed := false
	if len(line) > 0 && line[0] == '!' {
		embed = true
		start = 1
	}
	if !bytes.HasPrefix(line[start:], []byte("[[")) {
		return nil
	}
	end := bytes.Index(line[start+2:], []byte("]]"))
	if end <= 0 {
		return nil
	}
	inner := string(line[start+2 : start+2+end])
	if bytes.ContainsAny([]byte(inner), "[]") {
		return nil
	}
	block.Advance(start + 2 + end + 2)
	w := inkparser.ParseWikilink(inner)
	w.Embed = embed
	return &embedNode{Link: w}
}

func (e *embedExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(kindEmbed, e.renderEmbed)
}

var sizeAliasRe = regexp.MustCompile(`^(\d+)(?:x(\d+))?$`)

func (e *embedExt) renderEmbed(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*embedNode)
	if !n.Link.Embed || !vault.IsImage(n.Link.Target) {
		_, _ = w.WriteString(html.EscapeString(n.Link.Display()))
		return ast.WalkSkipChildren, nil
	}

	s := sessionOf(node)
	src := e.p.imageSrc(n.Link.Target, s.NotePath)
	_, _ = w.WriteString(`<img src="` + html.EscapeString(src) + `"`)
	if m := sizeAliasRe.FindStringSubmatch(n.Link.Alias); m != nil {
		_, _ = w.WriteString(` alt="" width="` + m[1] + `"`)
		if m[2] != "" {
			_, _ = w.WriteString(` height="` + m[2] + `"`)
		}
	} else {
		_, _ = w.WriteString(` alt="` + html.EscapeString(n.Link.Alias) + `"`)
	}
	_, _ = w.WriteString(">")
	return ast.WalkSkipChildren, nil
}
