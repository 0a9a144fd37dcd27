package cssmerge

import (
	"strings"

	"github.com/JohannesKaufmann/dom"
	"golang.org/x/net/html"
)

type styleDecl struct {
	prop, value string
}

// SetStyle sets one inline style property on n, replacing an existing
// value for the same property in place.
func SetStyle(n *html.Node, prop, value string) {
	decls := parseStyle(dom.GetAttributeOr(n, "style", ""))
	found := false
	for i := range decls {
		if strings.EqualFold(decls[i].prop, prop) {
			decls[i].value = value
			found = true
		}
	}
	if !found {
		decls = append(decls, styleDecl{prop: prop, value: value})
	}
	setAttr(n, "style", formatStyle(decls))
}

// Style returns the inline value of prop, or "".
func Style(n *html.Node, prop string) string {
	for _, d := range parseStyle(dom.GetAttributeOr(n, "style", "")) {
		if strings.EqualFold(d.prop, prop) {
			return d.value
		}
	}
	return ""
}

// parseStyle splits a style attribute on semicolons that sit outside
// parentheses and quotes, so data: URLs survive.
func parseStyle(s string) []styleDecl {
	var out []styleDecl
	depth := 0
	var quote byte
	start := 0
	flush := func(end int) {
		prop, value, ok := strings.Cut(s[start:end], ":")
		prop = strings.TrimSpace(prop)
		if ok && prop != "" {
			out = append(out, styleDecl{prop: prop, value: strings.TrimSpace(value)})
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		case c == ';' && depth == 0:
			flush(i)
			start = i + 1
		}
	}
	flush(len(s))
	return out
}

func formatStyle(decls []styleDecl) string {
	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		parts = append(parts, d.prop+": "+d.value+";")
	}
	return strings.Join(parts, " ")
}
