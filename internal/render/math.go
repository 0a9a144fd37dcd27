package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/gohugoio/hugo-goldmark-extensions/passthrough"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// MathEngine converts TeX to SVG markup.
type MathEngine interface {
	TeXToSVG(ctx context.Context, tex string, display bool) (string, error)
}

// HTTPMath posts TeX to a conversion service that answers with SVG. The
// display flag travels as the "display" query parameter.
type HTTPMath struct {
	URL    string
	Client *http.Client
}

// NewHTTPMath returns an engine posting to url.
func NewHTTPMath(url string) *HTTPMath {
	return &HTTPMath{URL: url, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (m *HTTPMath) TeXToSVG(ctx context.Context, tex string, display bool) (string, error) {
	url := m.URL + "?display=false"
	if display {
		url = m.URL + "?display=true"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(tex))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-tex")
	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("math: status %d", resp.StatusCode)
	}
	return string(body), nil
}

var (
	inlineDelimiters = []passthrough.Delimiters{{Open: "$", Close: "$"}}
	blockDelimiters  = []passthrough.Delimiters{{Open: "$$", Close: "$$"}}
)

// mathExt passes $..$ and $$..$$ through the parser untouched and renders
// them with the engine; without one the TeX is printed escaped.
type mathExt struct {
	Base
	engine MathEngine
	cache  *theine.LoadingCache[string, string]
}

func newMath(engine MathEngine, size int64) (*mathExt, error) {
	e := &mathExt{engine: engine}
	if engine == nil {
		return e, nil
	}
	cache, err := theine.NewBuilder[string, string](size).BuildWithLoader(
		func(ctx context.Context, key string) (theine.Loaded[string], error) {
			svg, err := engine.TeXToSVG(ctx, key[2:], key[0] == 'D')
			if err != nil {
				return theine.Loaded[string]{}, err
			}
			return theine.Loaded[string]{Value: svg, Cost: 1}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("math cache: %w", err)
	}
	e.cache = cache
	return e, nil
}

func (*mathExt) Name() string { return "math" }

func (e *mathExt) Extend(m goldmark.Markdown) {
	passthrough.New(passthrough.Config{
		InlineDelimiters: inlineDelimiters,
		BlockDelimiters:  blockDelimiters,
	}).Extend(m)
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 98)))
}

func (e *mathExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(passthrough.KindPassthroughInline, e.renderInline)
	reg.Register(passthrough.KindPassthroughBlock, e.renderBlock)
}

func (e *mathExt) tex(ctx context.Context, tex string, display bool) string {
	if e.cache == nil {
		return html.EscapeString(tex)
	}
	key := "I:" + tex
	if display {
		key = "D:" + tex
	}
	svg, err := e.cache.Get(ctx, key)
	if err != nil {
		return html.EscapeString(tex)
	}
	return svg
}

func trimDelims(raw string, d *passthrough.Delimiters) string {
	raw = strings.TrimSpace(raw)
	if d != nil {
		raw = strings.TrimSuffix(strings.TrimPrefix(raw, d.Open), d.Close)
	}
	return strings.TrimSpace(raw)
}

func (e *mathExt) renderInline(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n, ok := node.(*passthrough.PassthroughInline)
	if !ok {
		return ast.WalkSkipChildren, nil
	}
	tex := trimDelims(string(n.Text(source)), n.Delimiters)
	_, _ = w.WriteString(e.tex(sessionOf(node).Context(), tex, false))
	return ast.WalkSkipChildren, nil
}

func (e *mathExt) renderBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n, ok := node.(*passthrough.PassthroughBlock)
	if !ok {
		return ast.WalkSkipChildren, nil
	}
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	tex := trimDelims(buf.String(), n.Delimiters)
	_, _ = w.WriteString(`<section class="block-math">` + e.tex(sessionOf(node).Context(), tex, true) + "</section>\n")
	return ast.WalkSkipChildren, nil
}
