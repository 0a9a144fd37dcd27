package parser

import (
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - inkwell\n---\n# Hello\nBody text.\n")
	r := Parse(input, "note")
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	tags := Strings(r.Frontmatter, "tags")
	if len(tags) != 2 || tags[0] != "go" || tags[1] != "inkwell" {
		t.Errorf("tags = %v, want [go inkwell]", tags)
	}
	if r.Body != "# Hello\nBody text.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	r := Parse([]byte("# Just a heading\nSome text.\n"), "fallback")
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "fallback" {
		t.Errorf("title = %q, want %q", r.Title, "fallback")
	}
}

func TestSplit_InvalidYAMLStillStripped(t *testing.T) {
	fm, body := Split([]byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if fm != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
	if body != "Body\n" {
		t.Errorf("body = %q, want %q", body, "Body\n")
	}
}

func TestSplit_Unclosed(t *testing.T) {
	in := "---\ntitle: x\nno closing"
	fm, body := Split([]byte(in))
	if fm != nil || body != in {
		t.Errorf("unclosed block should be body: fm=%v body=%q", fm, body)
	}
}

func TestStripTemplateMarkers(t *testing.T) {
	in := "%%hh%%\nheader\n%%/hh%\nbody\n  %%TT%%  \nfooter\n%%/tt%%"
	got := StripTemplateMarkers(in)
	want := "header\nbody\nfooter"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNormalizeHRAfterImage(t *testing.T) {
	got := NormalizeHRAfterImage("# Hi\n\n![[pic.png]]\n---\n")
	if !strings.Contains(got, "![[pic.png]]\n\n---") {
		t.Errorf("rule not separated from image: %q", got)
	}

	got = NormalizeHRAfterImage("![a](b.png)\n***")
	if got != "![a](b.png)\n\n***" {
		t.Errorf("got %q", got)
	}

	// Plain text above a rule is left alone.
	in := "text\n---"
	if got := NormalizeHRAfterImage(in); got != in {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestWikilinks(t *testing.T) {
	links := Wikilinks("See [[Note A]] and ![[pic.png|300]] and [[Note B|alias]].")
	if len(links) != 3 {
		t.Fatalf("len = %d, want 3", len(links))
	}
	if links[0].Target != "Note A" || links[0].Display() != "Note A" {
		t.Errorf("links[0] = %+v", links[0])
	}
	if !links[1].Embed || links[1].Target != "pic.png" || links[1].Alias != "300" {
		t.Errorf("links[1] = %+v", links[1])
	}
	if links[2].Display() != "alias" || links[2].Raw != "[[Note B|alias]]" {
		t.Errorf("links[2] = %+v", links[2])
	}
}

func TestExtractLinks_Dedup(t *testing.T) {
	links := extractLinks("See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again. ![[img.png]]")
	if len(links) != 2 || links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestReplaceOutsideCodeFences(t *testing.T) {
	in := "a [[x]]\n```\n[[x]]\n```\nb [[x]]"
	got, err := ReplaceOutsideCodeFences(in, func(seg string) (string, error) {
		return strings.ReplaceAll(seg, "[[x]]", "X"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a X\n```\n[[x]]\n```\nb X"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestString(t *testing.T) {
	fm := map[string]any{"a": "  ", "b": " v ", "n": 3, "halo": map[string]any{"name": "p"}}
	if got := String(fm, "a", "b"); got != "v" {
		t.Errorf("String = %q, want v", got)
	}
	if got := String(fm, "n"); got != "3" {
		t.Errorf("String(n) = %q", got)
	}
	if got := String(Map(fm, "halo"), "name"); got != "p" {
		t.Errorf("nested = %q", got)
	}
	if got := String(nil, "x"); got != "" {
		t.Errorf("nil map = %q", got)
	}
}
