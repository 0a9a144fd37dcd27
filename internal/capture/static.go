package capture

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	ghtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	inkparser "github.com/starford/inkwell/internal/parser"
)

// NoteReader supplies raw note text.
type NoteReader interface {
	ReadNote(p string) (string, error)
}

// StaticHost renders notes the way the editor's reading view does:
// callouts and admonitions get their boxed chrome, icon codespans become
// icon spans, and diagram fences are filled with SVG in the background by
// a DiagramRenderer.
type StaticHost struct {
	notes    NoteReader
	diagrams DiagramRenderer
	md       goldmark.Markdown
	log      *slog.Logger
}

// NewStaticHost creates a host. diagrams may be nil, in which case diagram
// containers never receive an SVG.
func NewStaticHost(notes NoteReader, diagrams DiagramRenderer, log *slog.Logger) *StaticHost {
	if log == nil {
		log = slog.Default()
	}
	h := &StaticHost{notes: notes, diagrams: diagrams, log: log}
	h.md = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Footnote,
			highlighting.NewHighlighting(
				highlighting.WithStyle("github"),
				highlighting.WithFormatOptions(
					chromahtml.TabWidth(4),
					chromahtml.WithClasses(true),
				),
			),
			&widgets{host: h},
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(ghtml.WithHardWraps(), ghtml.WithUnsafe()),
	)
	return h
}

var diagramsKey = parser.NewContextKey()

type diagramJob struct {
	lang   string
	source string
}

// Render renders notePath into a fresh container and starts filling its
// diagram nodes.
func (h *StaticHost) Render(ctx context.Context, notePath string) (*Container, error) {
	raw, err := h.notes.ReadNote(notePath)
	if err != nil {
		return nil, fmt.Errorf("capture: read %s: %w", notePath, err)
	}
	_, body := inkparser.Clean([]byte(raw))
	out, jobs, err := h.convert([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("capture: render %s: %w", notePath, err)
	}
	c, err := ParseContainer(out)
	if err != nil {
		return nil, fmt.Errorf("capture: parse %s: %w", notePath, err)
	}
	if h.diagrams != nil {
		for i, job := range jobs {
			go h.fillDiagram(ctx, c, i, job)
		}
	}
	return c, nil
}

func (h *StaticHost) convert(src []byte) (string, []diagramJob, error) {
	pctx := parser.NewContext()
	doc := h.md.Parser().Parse(text.NewReader(src), parser.WithContext(pctx))
	var buf bytes.Buffer
	if err := h.md.Renderer().Render(&buf, src, doc); err != nil {
		return "", nil, err
	}
	jobs, _ := pctx.Get(diagramsKey).([]diagramJob)
	return buf.String(), jobs, nil
}

func (h *StaticHost) fillDiagram(ctx context.Context, c *Container, index int, job diagramJob) {
	svg, err := h.diagrams.RenderSVG(ctx, job.lang, job.source)
	if err != nil {
		h.log.Warn("diagram render failed", slog.Int("index", index), slog.String("error", err.Error()))
		return
	}
	if i := strings.Index(svg, "<svg"); i > 0 {
		svg = svg[i:]
	}
	parent := &xhtml.Node{Type: xhtml.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := xhtml.ParseFragment(strings.NewReader(svg), parent)
	if err != nil {
		h.log.Warn("diagram svg invalid", slog.Int("index", index), slog.String("error", err.Error()))
		return
	}
	sel := compile(".mermaid")
	c.Mutate(func(root *xhtml.Node) {
		target := nth(root, sel, index)
		if target == nil {
			return
		}
		for target.FirstChild != nil {
			target.RemoveChild(target.FirstChild)
		}
		for _, n := range nodes {
			target.AppendChild(n)
		}
	})
}

var (
	kindCallout    = ast.NewNodeKind("Callout")
	kindAdmonition = ast.NewNodeKind("Admonition")
	kindDiagram    = ast.NewNodeKind("Diagram")
	kindChart      = ast.NewNodeKind("Chart")

	calloutHeadRe = regexp.MustCompile(`^\[!([\w-]+)\]([+-]?)\s*(.*)$`)
	iconSpanRe    = regexp.MustCompile(`(?i)^(ris|fas):([a-z0-9-]+)$`)
)

type calloutNode struct {
	ast.BaseBlock
	Variant string
	Fold    string
	Title   string
}

func (n *calloutNode) Kind() ast.NodeKind { return kindCallout }
func (n *calloutNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"type": n.Variant, "title": n.Title}, nil)
}

type admonitionNode struct {
	ast.BaseBlock
	Variant  string
	Title    string
	Collapse string
	Body     string
}

func (n *admonitionNode) Kind() ast.NodeKind { return kindAdmonition }
func (n *admonitionNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"type": n.Variant}, nil)
}

type diagramNode struct {
	ast.BaseBlock
	Lang string
}

func (n *diagramNode) Kind() ast.NodeKind { return kindDiagram }
func (n *diagramNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"lang": n.Lang}, nil)
}

type chartNode struct {
	ast.BaseBlock
}

func (n *chartNode) Kind() ast.NodeKind { return kindChart }
func (n *chartNode) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

type widgets struct {
	host *StaticHost
}

func (w *widgets) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(parser.WithASTTransformers(
		util.Prioritized(&widgetTransformer{}, 100),
	))
	m.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&widgetRenderer{host: w.host}, 100),
	))
}

type widgetTransformer struct{}

func (t *widgetTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	source := reader.Source()
	var fences []*ast.FencedCodeBlock
	var quotes []*ast.Blockquote
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.FencedCodeBlock:
			fences = append(fences, n)
		case *ast.Blockquote:
			quotes = append(quotes, n)
		}
		return ast.WalkContinue, nil
	})

	var jobs []diagramJob
	for _, f := range fences {
		lang := strings.ToLower(string(f.Language(source)))
		body := blockText(f, source)
		var repl ast.Node
		switch {
		case lang == "mermaid":
			repl = &diagramNode{Lang: lang}
			jobs = append(jobs, diagramJob{lang: lang, source: body})
		case strings.HasPrefix(lang, "ad-"):
			repl = newAdmonition(strings.TrimPrefix(lang, "ad-"), body)
		case lang == "chart":
			repl = &chartNode{}
		default:
			continue
		}
		f.Parent().ReplaceChild(f.Parent(), f, repl)
	}
	pc.Set(diagramsKey, jobs)

	for _, q := range quotes {
		if c := toCallout(q, source); c != nil {
			q.Parent().ReplaceChild(q.Parent(), q, c)
		}
	}
}

func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
	return b.String()
}

func newAdmonition(typ, body string) *admonitionNode {
	n := &admonitionNode{Variant: typ}
	var rest []string
	head := true
	for _, line := range strings.Split(body, "\n") {
		if head {
			key, val, ok := strings.Cut(line, ":")
			switch k := strings.TrimSpace(strings.ToLower(key)); {
			case ok && k == "title":
				n.Title = strings.TrimSpace(val)
				continue
			case ok && k == "collapse":
				n.Collapse = strings.TrimSpace(val)
				continue
			case ok && (k == "icon" || k == "color"):
				continue
			}
			head = false
		}
		rest = append(rest, line)
	}
	n.Body = strings.Join(rest, "\n")
	if n.Title == "" {
		n.Title = capitalize(typ)
	}
	return n
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// inlineText concatenates the literal text of inline nodes.
func inlineText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
		case *ast.String:
			b.Write(c.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// toCallout turns a blockquote whose first line reads "[!type] title" into
// a callout node, or returns nil.
func toCallout(q *ast.Blockquote, source []byte) *calloutNode {
	para, ok := q.FirstChild().(*ast.Paragraph)
	if !ok || para.Lines().Len() == 0 {
		return nil
	}
	first := para.Lines().At(0)
	m := calloutHeadRe.FindStringSubmatch(strings.TrimSpace(string(first.Value(source))))
	if m == nil {
		return nil
	}
	c := &calloutNode{Variant: strings.ToLower(m[1]), Fold: m[2], Title: m[3]}
	if c.Title == "" {
		c.Title = capitalize(c.Variant)
	}

	// Drop the inline nodes making up the head line.
	for ch := para.FirstChild(); ch != nil; {
		next := ch.NextSibling()
		para.RemoveChild(para, ch)
		if t, ok := ch.(*ast.Text); ok && (t.SoftLineBreak() || t.HardLineBreak()) {
			break
		}
		ch = next
	}
	if !para.HasChildren() {
		q.RemoveChild(q, para)
	}
	for ch := q.FirstChild(); ch != nil; {
		next := ch.NextSibling()
		c.AppendChild(c, ch)
		ch = next
	}
	return c
}

type widgetRenderer struct {
	host *StaticHost
}

func (r *widgetRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(kindCallout, r.renderCallout)
	reg.Register(kindAdmonition, r.renderAdmonition)
	reg.Register(kindDiagram, r.renderDiagram)
	reg.Register(kindChart, r.renderChart)
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
}

func (r *widgetRenderer) renderCallout(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*calloutNode)
	if !entering {
		_, _ = w.WriteString("</div></div>\n")
		return ast.WalkContinue, nil
	}
	fmt.Fprintf(w, `<div class="callout" data-callout="%s"`, html.EscapeString(n.Variant))
	if n.Fold != "" {
		fmt.Fprintf(w, ` data-callout-fold="%s"`, n.Fold)
	}
	_, _ = w.WriteString(`><div class="callout-title"><div class="callout-icon"></div><div class="callout-title-inner">`)
	_, _ = w.WriteString(html.EscapeString(n.Title))
	_, _ = w.WriteString(`</div>`)
	if n.Fold != "" {
		_, _ = w.WriteString(`<div class="callout-fold"></div>`)
	}
	_, _ = w.WriteString(`</div><div class="callout-content">`)
	return ast.WalkContinue, nil
}

func (r *widgetRenderer) renderAdmonition(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*admonitionNode)
	body, _, err := r.host.convert([]byte(n.Body))
	if err != nil {
		return ast.WalkStop, err
	}
	fmt.Fprintf(w, `<div class="callout admonition" data-callout="%s">`, html.EscapeString(n.Variant))
	_, _ = w.WriteString(`<div class="callout-title"><div class="callout-icon"></div><div class="callout-title-inner">`)
	_, _ = w.WriteString(html.EscapeString(n.Title))
	_, _ = w.WriteString(`</div>`)
	if n.Collapse != "" {
		_, _ = w.WriteString(`<div class="callout-fold"></div>`)
	}
	_, _ = w.WriteString(`</div><div class="callout-content">`)
	_, _ = w.WriteString(body)
	_, _ = w.WriteString(`</div><div class="edit-block-button"></div></div>` + "\n")
	return ast.WalkSkipChildren, nil
}

func (r *widgetRenderer) renderDiagram(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		n := node.(*diagramNode)
		fmt.Fprintf(w, `<div class="%s"></div>`+"\n", html.EscapeString(n.Lang))
	}
	return ast.WalkSkipChildren, nil
}

func (r *widgetRenderer) renderChart(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString(`<div class="block-language-chart"></div>` + "\n")
	}
	return ast.WalkSkipChildren, nil
}

func (r *widgetRenderer) renderCodeSpan(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	content := strings.TrimSpace(inlineText(node, source))
	if m := iconSpanRe.FindStringSubmatch(content); m != nil {
		fmt.Fprintf(w, `<span class="obsidian-icon react-icon" data-icon="%s"></span>`, html.EscapeString(strings.ToLower(m[0])))
		return ast.WalkSkipChildren, nil
	}
	_, _ = w.WriteString("<code>")
	_, _ = w.WriteString(html.EscapeString(content))
	_, _ = w.WriteString("</code>")
	return ast.WalkSkipChildren, nil
}

// Timeouts for the widgets that settle after Render returns.
const (
	DefaultCalloutWait = time.Second
	DefaultDiagramWait = 5 * time.Second
)
