// Package parser splits frontmatter from Markdown notes and performs the
// line-level clean-up that runs before tokenizing.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	wikilinkRe   = regexp.MustCompile(`(!?)\[\[([^\]]+)\]\]`)
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	hrLineRe     = regexp.MustCompile(`^[\t ]*(?:-{3,}|\*{3,}|_{3,})[\t ]*$`)
	embedLineRe  = regexp.MustCompile(`^!\[\[.+\]\]$`)
	mdImgLineRe  = regexp.MustCompile(`^!\[[^\]]*\]\([^)]+\)$`)
	templateLine = map[string]struct{}{
		"%%hh%%": {}, "%%hh%": {}, "%%/hh%%": {}, "%%/hh%": {},
		"%%tt%%": {}, "%%tt%": {}, "%%/tt%%": {}, "%%/tt%": {},
	}
)

// Result holds the output of parsing a Markdown file.
type Result struct {
	Frontmatter map[string]any
	Body        string
	Links       []string
	Title       string
}

// Parse splits frontmatter from body and collects wikilink targets. name is
// the note's basename, used as the title when frontmatter carries none.
func Parse(data []byte, name string) *Result {
	fm, body := Split(data)
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Links:       extractLinks(body),
		Title:       Title(fm, name),
	}
}

// Split separates YAML frontmatter (between leading --- delimiters) from the
// Markdown body. If no frontmatter is found the entire content is body. A
// delimited block with invalid YAML is still stripped; the returned map is
// then nil.
func Split(data []byte) (map[string]any, string) {
	block, body, found := SplitRaw(data)
	if !found {
		return nil, body
	}
	var fm map[string]any
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, body
	}
	return fm, body
}

// SplitRaw is Split without decoding: it returns the YAML text between the
// delimiters and reports whether a delimited block was present.
func SplitRaw(data []byte) ([]byte, string, bool) {
	const delim = "---"
	if !bytes.HasPrefix(data, []byte(delim)) {
		return nil, string(data), false
	}

	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), false
	}

	block := rest[:idx]
	after := string(rest[idx+1+len(delim):])
	// Anything left on the closing delimiter line belongs to it.
	if nl := strings.IndexByte(after, '\n'); nl >= 0 && strings.TrimSpace(after[:nl]) == "" {
		after = after[nl+1:]
	} else if nl < 0 && strings.TrimSpace(after) == "" {
		after = ""
	}
	return block, after, true
}

// StripTemplateMarkers removes header/footer template marker lines such as
// %%hh%% and %%/tt%.
func StripTemplateMarkers(content string) string {
	if content == "" {
		return content
	}
	lines := splitLines(content)
	out := lines[:0]
	for _, line := range lines {
		if _, ok := templateLine[strings.ToLower(strings.TrimSpace(line))]; ok {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// NormalizeHRAfterImage inserts a blank line between a standalone image line
// and a horizontal rule directly below it. Without it the rule line turns
// the image paragraph into a setext heading.
func NormalizeHRAfterImage(content string) string {
	lines := splitLines(content)
	out := make([]string, 0, len(lines)+4)
	for i, line := range lines {
		if i > 0 && hrLineRe.MatchString(line) && isImageLine(lines[i-1]) {
			if len(out) > 0 && strings.TrimSpace(out[len(out)-1]) != "" {
				out = append(out, "")
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Clean applies the pre-tokenizing passes in order: frontmatter split,
// template marker removal and rule normalisation.
func Clean(data []byte) (map[string]any, string) {
	fm, body := Split(data)
	return fm, NormalizeHRAfterImage(StripTemplateMarkers(body))
}

func isImageLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	return embedLineRe.MatchString(trimmed) || mdImgLineRe.MatchString(trimmed)
}

func splitLines(s string) []string {
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// Wikilink is one [[target|alias]] occurrence; Embed is set for ![[...]].
type Wikilink struct {
	Raw    string
	Target string
	Alias  string
	Embed  bool
}

// Display returns the alias, or the target when no alias was given.
func (w Wikilink) Display() string {
	if w.Alias != "" {
		return w.Alias
	}
	return w.Target
}

// ParseWikilink splits the inner text of [[...]] into target and alias.
func ParseWikilink(inner string) Wikilink {
	target, alias, _ := strings.Cut(inner, "|")
	return Wikilink{
		Raw:    "[[" + inner + "]]",
		Target: strings.TrimSpace(target),
		Alias:  strings.TrimSpace(alias),
	}
}

// Wikilinks returns every wikilink in body in document order.
func Wikilinks(body string) []Wikilink {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	out := make([]Wikilink, 0, len(matches))
	for _, m := range matches {
		w := ParseWikilink(m[2])
		w.Raw = m[0]
		w.Embed = m[1] == "!"
		out = append(out, w)
	}
	return out
}

// extractLinks returns deduplicated wikilink targets, normalising aliases.
func extractLinks(body string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, w := range Wikilinks(body) {
		if w.Embed || w.Target == "" {
			continue
		}
		if _, ok := seen[w.Target]; ok {
			continue
		}
		seen[w.Target] = struct{}{}
		out = append(out, w.Target)
	}
	return out
}

// ReplaceOutsideCodeFences calls fn for every stretch of raw that is not
// inside a ``` fence and splices the results back together.
func ReplaceOutsideCodeFences(raw string, fn func(segment string) (string, error)) (string, error) {
	var b strings.Builder
	last := 0
	for _, loc := range codeFenceRe.FindAllStringIndex(raw, -1) {
		seg, err := fn(raw[last:loc[0]])
		if err != nil {
			return "", err
		}
		b.WriteString(seg)
		b.WriteString(raw[loc[0]:loc[1]])
		last = loc[1]
	}
	seg, err := fn(raw[last:])
	if err != nil {
		return "", err
	}
	b.WriteString(seg)
	return b.String(), nil
}

// Title returns the frontmatter "title" if present, otherwise fallback.
func Title(fm map[string]any, fallback string) string {
	if s := String(fm, "title"); s != "" {
		return s
	}
	return fallback
}

// String returns the first non-empty trimmed string value among keys.
// Numbers and booleans are formatted; other types are ignored.
func String(fm map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := fm[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case int, int64, float64, bool:
			s = fmt.Sprint(t)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// Strings returns a string list value. A single string is treated as a
// one-element list.
func Strings(fm map[string]any, key string) []string {
	switch v := fm[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

// Map returns a nested mapping value, or nil.
func Map(fm map[string]any, key string) map[string]any {
	m, _ := fm[key].(map[string]any)
	return m
}
