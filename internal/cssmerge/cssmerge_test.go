package cssmerge

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func TestImportantSurvivesLaterPlainDeclaration(t *testing.T) {
	tbl := NewTable()
	for _, css := range []string{
		`.x { color: red; }`,
		`.x { color: blue !important; }`,
		`.x { color: green; }`,
	} {
		if err := tbl.MergeCSS(css); err != nil {
			t.Fatalf("MergeCSS(%q): %v", css, err)
		}
	}
	d, ok := tbl.Decl(".x", "color")
	if !ok {
		t.Fatal("missing .x color")
	}
	if d.Value != "blue" || !d.Important {
		t.Errorf("got %+v, want blue !important", d)
	}
}

func TestLaterImportantOverridesImportant(t *testing.T) {
	tbl := NewTable()
	_ = tbl.MergeCSS(`.x { color: blue !important; }`)
	_ = tbl.MergeCSS(`.x { color: green !important; }`)
	if d, _ := tbl.Decl(".x", "color"); d.Value != "green" {
		t.Errorf("color = %q, want green", d.Value)
	}
}

func TestSelectorListSplitAndRootVars(t *testing.T) {
	tbl, err := Parse(":root { --accent: #f00; }\nh1, h2 { color: var(--accent); margin: 0 }")
	if err != nil {
		t.Logf("object-model parser rejected sheet, fallback used: %v", err)
	}
	if v, ok := tbl.Var("--accent"); !ok || v != "#f00" {
		t.Errorf("--accent = %q (%v)", v, ok)
	}
	for _, sel := range []string{"h1", "h2"} {
		if d, ok := tbl.Decl(sel, "color"); !ok || d.Value != "var(--accent)" {
			t.Errorf("%s color = %+v (%v)", sel, d, ok)
		}
	}
	if tbl.Rule(":root") != nil {
		t.Error(":root must not become a rule")
	}
}

func TestFallbackParser(t *testing.T) {
	tbl := NewTable()
	parseFallback(tbl, "/* c */ .a , .b { color : red !important ; font-size: 12px; broken }")
	d, ok := tbl.Decl(".b", "color")
	if !ok || d.Value != "red" || !d.Important {
		t.Errorf(".b color = %+v (%v)", d, ok)
	}
	if d, _ := tbl.Decl(".a", "font-size"); d.Value != "12px" {
		t.Errorf(".a font-size = %q", d.Value)
	}
}

func TestBuildKeepsBaseOnBrokenUserSheet(t *testing.T) {
	tbl := Build([]string{`p { color: black; }`}, `p { color: red; } }}} {{{`, nil)
	if _, ok := tbl.Decl("p", "color"); !ok {
		t.Fatal("base rule lost")
	}
}

func TestResolveVarFallbackWithParens(t *testing.T) {
	vars := map[string]string{"--a": "1px"}
	got := ResolveVar("var(--missing, rgba(0, 0, 0, 0.5)) var(--a)", vars)
	if got != "rgba(0, 0, 0, 0.5) 1px" {
		t.Errorf("got %q", got)
	}
}

func TestResolveVarNested(t *testing.T) {
	vars := map[string]string{"--b": "red"}
	if got := ResolveVar("var(--a, var(--b))", vars); got != "red" {
		t.Errorf("got %q, want red", got)
	}
}

func TestResolveVarUndefinedWithoutFallback(t *testing.T) {
	if got := ResolveVar("solid var(--nope)", nil); got != "solid " {
		t.Errorf("got %q", got)
	}
}

func TestResolveVarDepthBound(t *testing.T) {
	vars := map[string]string{}
	for i := 0; i < 10; i++ {
		vars[varName(i)] = "var(" + varName(i+1) + ")"
	}
	vars[varName(10)] = "red"

	got := ResolveVar("var("+varName(0)+")", vars)
	if got != "var("+varName(10)+")" {
		t.Errorf("got %q, want the innermost reference left literal", got)
	}
}

func TestResolveVarCycleTerminates(t *testing.T) {
	vars := map[string]string{"--a": "var(--b)", "--b": "var(--a)"}
	got := ResolveVar("var(--a)", vars)
	if !strings.HasPrefix(got, "var(--") {
		t.Errorf("got %q", got)
	}
}

func varName(i int) string {
	return "--v" + string(rune('a'+i))
}

func parseBody(t *testing.T, fragment string) *html.Node {
	t.Helper()
	root := &html.Node{Type: html.ElementNode, Data: "section", DataAtom: atom.Section}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			t.Fatal(err)
		}
	}
	return buf.String()
}

func TestApplyInlinesDeclarations(t *testing.T) {
	tbl := Build(nil, `
:root { --fg: #333; }
p { color: var(--fg); line-height: 1.6 !important; }
.lead { font-weight: bold; }
`, nil)
	root := parseBody(t, `<p class="lead" style="margin: 0">hi</p>`)
	tbl.Apply(root, nil)

	p := root.FirstChild
	if got := Style(p, "color"); got != "#333" {
		t.Errorf("color = %q", got)
	}
	if got := Style(p, "line-height"); got != "1.6 !important" {
		t.Errorf("line-height = %q", got)
	}
	if got := Style(p, "font-weight"); got != "bold" {
		t.Errorf("font-weight = %q", got)
	}
	if got := Style(p, "margin"); got != "0" {
		t.Errorf("existing margin lost: %q", got)
	}
}

func TestApplySynthesizesPseudoElements(t *testing.T) {
	tbl := Build(nil, `h2::before { content: "#"; color: red; } h2::after { content: ''; display: block; }`, nil)
	root := parseBody(t, `<h2>Title</h2>`)
	tbl.Apply(root, nil)
	tbl.Apply(root, nil)

	out := render(t, root)
	want := `<h2><span data-inkwell-pseudo-before="true" style="color: red;">#</span>Title<span data-inkwell-pseudo-after="true" style="display: block;"></span></h2>`
	if out != want {
		t.Errorf("got  %s\nwant %s", out, want)
	}
}

func TestApplySkipsUnsupportedSelector(t *testing.T) {
	tbl := Build(nil, `p:unknown-pseudo(x) { color: red; } p { color: blue; }`, nil)
	root := parseBody(t, `<p>x</p>`)
	tbl.Apply(root, nil)
	if got := Style(root.FirstChild, "color"); got != "blue" {
		t.Errorf("color = %q, want blue", got)
	}
}

func TestSetStyleKeepsDataURLs(t *testing.T) {
	n := &html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{
		{Key: "style", Val: `background: url("data:image/png;base64,AAA"); color: red`},
	}}
	SetStyle(n, "color", "blue")
	want := `background: url("data:image/png;base64,AAA"); color: blue;`
	if got := n.Attr[0].Val; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRemoveClassNamesKeepsReserved(t *testing.T) {
	root := parseBody(t, `<div class="inkwell wx_tap appmsg_card"><span class="foo">x</span></div>`)
	RemoveClassNames(root)
	want := `<div class="wx_tap appmsg_card"><span>x</span></div>`
	if got := render(t, root); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
