// Package cssmerge turns stylesheets into a rule table and applies it as
// inline styles, since the target editors strip <style> blocks.
//
// Selector specificity is not modelled. Among declarations of equal
// importance the last merged sheet wins.
package cssmerge

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
)

// Decl is one declaration value.
type Decl struct {
	Value     string
	Important bool
}

// Rule holds the declarations for a single selector, in first-seen order.
type Rule struct {
	Selector string
	props    []string
	decls    map[string]Decl
}

func newRule(selector string) *Rule {
	return &Rule{Selector: selector, decls: map[string]Decl{}}
}

// Get returns the declaration for prop.
func (r *Rule) Get(prop string) (Decl, bool) {
	d, ok := r.decls[prop]
	return d, ok
}

// Props returns the property names in first-seen order.
func (r *Rule) Props() []string { return r.props }

func (r *Rule) set(prop string, d Decl) {
	if _, ok := r.decls[prop]; !ok {
		r.props = append(r.props, prop)
	}
	r.decls[prop] = d
}

// merge copies d into the rule unless the stored declaration is important
// and d is not.
func (r *Rule) merge(prop string, d Decl) {
	if old, ok := r.decls[prop]; ok && old.Important && !d.Important {
		return
	}
	r.set(prop, d)
}

// Table is a variable map plus selector rules. A table is safe for
// concurrent Apply once merging is finished.
type Table struct {
	vars  map[string]string
	rules map[string]*Rule
	order []string

	compileOnce sync.Once
	compiled    []compiledRule
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{vars: map[string]string{}, rules: map[string]*Rule{}}
}

// Vars returns the variable map. Keys keep their leading "--".
func (t *Table) Vars() map[string]string { return t.vars }

// Var returns a variable value.
func (t *Table) Var(name string) (string, bool) {
	v, ok := t.vars[name]
	return v, ok
}

// Selectors returns the rule selectors in first-seen order.
func (t *Table) Selectors() []string { return t.order }

// Rule returns the rule for selector, or nil.
func (t *Table) Rule(selector string) *Rule { return t.rules[selector] }

// Decl looks up one declaration.
func (t *Table) Decl(selector, prop string) (Decl, bool) {
	r := t.rules[selector]
	if r == nil {
		return Decl{}, false
	}
	return r.Get(prop)
}

// Len returns the number of selectors.
func (t *Table) Len() int { return len(t.order) }

func (t *Table) rule(selector string) *Rule {
	r := t.rules[selector]
	if r == nil {
		r = newRule(selector)
		t.rules[selector] = r
		t.order = append(t.order, selector)
	}
	return r
}

// Merge folds other into t: variables are overwritten, declarations follow
// the important guard.
func (t *Table) Merge(other *Table) {
	for k, v := range other.vars {
		t.vars[k] = v
	}
	for _, sel := range other.order {
		src := other.rules[sel]
		dst := t.rule(sel)
		for _, p := range src.props {
			dst.merge(p, src.decls[p])
		}
	}
}

// MergeCSS parses css and merges the result. A parse error is returned
// after whatever could be recovered has been merged.
func (t *Table) MergeCSS(css string) error {
	if strings.TrimSpace(css) == "" {
		return nil
	}
	parsed, err := Parse(css)
	t.Merge(parsed)
	return err
}

// Build merges the base sheets in order and then the user sheet. A broken
// user sheet is logged and the table keeps the base rules plus whatever
// the fallback parser recovered.
func Build(base []string, user string, log *slog.Logger) *Table {
	if log == nil {
		log = slog.Default()
	}
	t := NewTable()
	for i, css := range base {
		if err := t.MergeCSS(css); err != nil {
			log.Debug("cssmerge: base sheet parsed by fallback", slog.Int("sheet", i), slog.String("error", err.Error()))
		}
	}
	if err := t.MergeCSS(user); err != nil {
		log.Warn("cssmerge: failed to parse custom css", slog.String("error", err.Error()))
	}
	return t
}

type compiledRule struct {
	rule   *Rule
	sel    cascadia.Sel
	pseudo string
	err    error
}
