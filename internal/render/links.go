package render

import (
	"context"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// FallbackLinkLabel labels footer links that only ever appeared bare.
const FallbackLinkLabel = "外链"

type footLink struct {
	href string
	text string
}

type linkState struct {
	links []footLink
}

// linksExt prints external links inline as "text(url)", since the editor
// drops navigation, and collects them into a numbered footer.
type linksExt struct{ Base }

func (*linksExt) Name() string { return "links" }

func (e *linksExt) Extend(m goldmark.Markdown) {
	m.Renderer().AddOptions(renderer.WithNodeRenderers(util.Prioritized(e, 100)))
}

func (e *linksExt) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindLink, e.renderLink)
	reg.Register(ast.KindAutoLink, e.renderAutoLink)
}

func isExternal(href string) bool {
	return strings.HasPrefix(href, "http")
}

func (e *linksExt) renderLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	n := node.(*ast.Link)
	href := string(n.Destination)
	if !isExternal(href) {
		if entering {
			_, _ = w.WriteString(`<a href="` + html.EscapeString(href) + `">`)
		} else {
			_, _ = w.WriteString("</a>")
		}
		return ast.WalkContinue, nil
	}
	if !entering {
		return ast.WalkContinue, nil
	}
	text := plainText(n, source)
	writeExternal(w, text, href)
	st := stateOf[linkState](sessionOf(node), "links")
	st.links = append(st.links, footLink{href: href, text: text})
	return ast.WalkSkipChildren, nil
}

func (e *linksExt) renderAutoLink(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.AutoLink)
	href := string(n.URL(source))
	label := string(n.Label(source))
	if n.AutoLinkType != ast.AutoLinkURL || !isExternal(href) {
		_, _ = w.WriteString(`<a href="` + html.EscapeString(href) + `">` + html.EscapeString(label) + `</a>`)
		return ast.WalkSkipChildren, nil
	}
	writeExternal(w, label, href)
	st := stateOf[linkState](sessionOf(node), "links")
	st.links = append(st.links, footLink{href: href, text: label})
	return ast.WalkSkipChildren, nil
}

func writeExternal(w util.BufWriter, text, href string) {
	text = strings.TrimSpace(text)
	if text != "" && text != href {
		_, _ = w.WriteString(html.EscapeString(text))
	}
	_, _ = w.WriteString("<strong>(" + html.EscapeString(href) + ")</strong>")
}

// dedupLinks keeps one entry per href in first-seen order. A later label
// replaces the kept one when it is informative (non-empty, not the bare
// href) and either the kept label is the bare href or the new one is
// longer.
func dedupLinks(all []footLink) []footLink {
	var out []footLink
	seen := map[string]int{}
	for _, l := range all {
		i, ok := seen[l.href]
		if !ok {
			seen[l.href] = len(out)
			out = append(out, l)
			continue
		}
		cur := strings.TrimSpace(out[i].text)
		next := strings.TrimSpace(l.text)
		if next != "" && next != l.href && (cur == l.href || len([]rune(next)) > len([]rune(cur))) {
			out[i].text = next
		}
	}
	return out
}

func (e *linksExt) Postprocess(_ context.Context, s *Session, src string) (string, error) {
	st := stateOf[linkState](s, "links")
	if len(st.links) == 0 {
		return src, nil
	}
	var b strings.Builder
	b.WriteString(src)
	b.WriteString(`<section class="foot-links"><hr class="foot-links-separator"><ol>`)
	for _, l := range dedupLinks(st.links) {
		label := strings.TrimSpace(l.text)
		if label == "" || label == l.href {
			label = FallbackLinkLabel
		}
		href := html.EscapeString(l.href)
		b.WriteString("<li>" + html.EscapeString(label) + `：<a data-linktype="2" data-link="` + href + `" href="` + href + `">` + href + "</a>&nbsp;↩</li>")
	}
	b.WriteString("</ol></section>")
	return b.String(), nil
}
