package theme

import (
	"strings"
	"testing"

	"github.com/starford/inkwell/internal/testutil"
	"github.com/starford/inkwell/internal/vault"
)

const darkTheme = "---\ntheme_name: Dark\n---\n# Dark\n\nSome prose { not css }.\n\n```css\n.inkwell p { color: #eee; }\n```\n\n```js\nconsole.log(1)\n```\n\n```CSS\n.inkwell strong { color: orange !important; }\n```\n"

func newManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	_, store := testutil.TestVault(t, map[string]string{
		"themes/dark.md":    darkTheme,
		"themes/notes.md":   "# not a theme\n",
		"themes/sub/sky.md": "---\ntheme_name: Sky\n---\n```css\nh1 { color: blue; }\n```\n",
		"post.md":           "# post\n",
	})
	if opts.Folder == "" {
		opts.Folder = "themes"
	}
	m, err := New(vault.New(store, "", nil), opts, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestExtractCSS(t *testing.T) {
	got := ExtractCSS(darkTheme)
	want := ".inkwell p { color: #eee; }\n.inkwell strong { color: orange !important; }"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestList(t *testing.T) {
	m := newManager(t, Options{})
	themes, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(themes) != 2 {
		t.Fatalf("themes = %+v", themes)
	}
	if themes[0].Name != "Dark" || themes[0].Path != "themes/dark.md" {
		t.Errorf("themes[0] = %+v", themes[0])
	}
	if themes[1].Name != "Sky" {
		t.Errorf("themes[1] = %+v", themes[1])
	}
}

func TestListMissingFolder(t *testing.T) {
	m := newManager(t, Options{Folder: "nope"})
	themes, err := m.List()
	if err != nil || len(themes) != 0 {
		t.Errorf("got %v, %v", themes, err)
	}
}

func TestOwns(t *testing.T) {
	m := newManager(t, Options{})
	if !m.Owns("themes/dark.md") || m.Owns("post.md") {
		t.Error("Owns mismatch")
	}
}

func TestApplyHTMLByName(t *testing.T) {
	m := newManager(t, Options{})
	out, err := m.ApplyHTML(`<section class="inkwell"><p>a <strong>b</strong></p></section>`, "Dark")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"color: #eee;", "color: orange !important;", KeyAttr + `="`} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestApplyUsesBaseSheet(t *testing.T) {
	m := newManager(t, Options{})
	out, err := m.ApplyHTML(`<section class="inkwell"><p>x</p></section>`, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "line-height: 1.75;") {
		t.Errorf("base sheet not applied:\n%s", out)
	}
}

func TestApplySkipsSameKey(t *testing.T) {
	m := newManager(t, Options{BaseDisabled: true})
	once, err := m.ApplyHTML(`<section class="inkwell"><p>x</p></section>`, "themes/dark.md")
	if err != nil {
		t.Fatal(err)
	}
	twice, err := m.ApplyHTML(once, "themes/dark.md")
	if err != nil {
		t.Fatal(err)
	}
	if once != twice {
		t.Errorf("second apply changed output:\n%s\n%s", once, twice)
	}
}

func TestTableCachedByContent(t *testing.T) {
	m := newManager(t, Options{})
	a, keyA, err := m.Table("Dark")
	if err != nil {
		t.Fatal(err)
	}
	b, keyB, _ := m.Table("themes/dark.md")
	if keyA != keyB {
		t.Errorf("keys differ: %s %s", keyA, keyB)
	}
	if a != b {
		t.Log("table rebuilt; cache may have evicted it")
	}
	_, keySky, _ := m.Table("Sky")
	if keySky == keyA {
		t.Error("different themes share a key")
	}
}
