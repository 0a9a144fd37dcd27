package cssmerge

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

var (
	commentRe   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	ruleBlockRe = regexp.MustCompile(`([^{@}]+)\{([^}]*)\}`)
	importantRe = regexp.MustCompile(`(?i)\s*!\s*important\s*$`)
)

// Parse reads one stylesheet. The CSS object-model parser is tried first;
// when it rejects the sheet a brace/declaration splitter recovers what it
// can, and the parser's error is returned alongside that table.
func Parse(text string) (*Table, error) {
	t := NewTable()
	sheet, err := parser.Parse(text)
	if err == nil {
		collectRules(t, sheet.Rules)
		return t, nil
	}
	parseFallback(t, text)
	return t, fmt.Errorf("cssmerge: parse: %w", err)
}

func collectRules(t *Table, rules []*css.Rule) {
	for _, r := range rules {
		if r.Kind == css.AtRule {
			collectRules(t, r.Rules)
			continue
		}
		selectors := r.Selectors
		if len(selectors) == 0 {
			selectors = strings.Split(r.Prelude, ",")
		}
		decls := make([]namedDecl, 0, len(r.Declarations))
		for _, d := range r.Declarations {
			value, important := splitImportant(d.Value)
			if value == "" {
				continue
			}
			decls = append(decls, namedDecl{
				prop: strings.TrimSpace(d.Property),
				Decl: Decl{Value: value, Important: important || d.Important},
			})
		}
		addRule(t, selectors, decls)
	}
}

type namedDecl struct {
	prop string
	Decl
}

// addRule stores decls under every selector of a list. :root feeds the
// variable map; custom properties elsewhere are ignored.
func addRule(t *Table, selectors []string, decls []namedDecl) {
	for _, sel := range selectors {
		sel = strings.TrimSpace(sel)
		if sel == "" {
			continue
		}
		if sel == ":root" {
			for _, d := range decls {
				if strings.HasPrefix(d.prop, "--") {
					t.vars[d.prop] = d.Value
				}
			}
			continue
		}
		r := t.rule(sel)
		for _, d := range decls {
			if d.prop == "" || strings.HasPrefix(d.prop, "--") {
				continue
			}
			r.set(d.prop, d.Decl)
		}
	}
}

func parseFallback(t *Table, text string) {
	cleaned := commentRe.ReplaceAllString(text, "")
	for _, m := range ruleBlockRe.FindAllStringSubmatch(cleaned, -1) {
		selectorText := strings.TrimSpace(m[1])
		if selectorText == "" || strings.HasPrefix(selectorText, "@") {
			continue
		}
		addRule(t, strings.Split(selectorText, ","), parseDeclarations(m[2]))
	}
}

func parseDeclarations(body string) []namedDecl {
	var out []namedDecl
	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.TrimSpace(prop)
		if prop == "" {
			continue
		}
		value, important := splitImportant(value)
		if value == "" {
			continue
		}
		out = append(out, namedDecl{prop: prop, Decl: Decl{Value: value, Important: important}})
	}
	return out
}

func splitImportant(value string) (string, bool) {
	value = strings.TrimSpace(value)
	if loc := importantRe.FindStringIndex(value); loc != nil {
		return strings.TrimSpace(value[:loc[0]]), true
	}
	return value, false
}
