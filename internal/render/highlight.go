package render

import (
	"html"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

var nbspReplacer = strings.NewReplacer("\t", "&nbsp;&nbsp;&nbsp;&nbsp;", " ", "&nbsp;")

// escapeCode escapes text and spells out whitespace the editor would
// otherwise collapse.
func escapeCode(s string) string {
	return nbspReplacer.Replace(html.EscapeString(s))
}

func tokenClass(t chroma.TokenType) string {
	switch {
	case t.InCategory(chroma.Comment):
		return "hljs-comment"
	case t.InSubCategory(chroma.LiteralString):
		return "hljs-string"
	case t.InSubCategory(chroma.LiteralNumber):
		return "hljs-number"
	case t.InCategory(chroma.Keyword):
		return "hljs-keyword"
	}
	return ""
}

// highlightLines returns one HTML fragment per source line. Tokens that
// span lines (block comments, multi-line strings) are split so every line
// stays self-contained. Unknown languages are only escaped.
func highlightLines(code, lang string) []string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	want := strings.Count(code, "\n") + 1

	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lines := strings.Split(code, "\n")
		for i, l := range lines {
			lines[i] = escapeCode(l)
		}
		return lines
	}
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return highlightLines(code, "")
	}

	lines := []string{""}
	var cur strings.Builder
	for _, tok := range it.Tokens() {
		class := tokenClass(tok.Type)
		for j, piece := range strings.Split(tok.Value, "\n") {
			if j > 0 {
				lines[len(lines)-1] = cur.String()
				cur.Reset()
				lines = append(lines, "")
			}
			if piece == "" {
				continue
			}
			if class != "" {
				cur.WriteString(`<span class="` + class + `">` + escapeCode(piece) + `</span>`)
			} else {
				cur.WriteString(escapeCode(piece))
			}
		}
	}
	lines[len(lines)-1] = cur.String()
	if len(lines) > want {
		lines = lines[:want]
	}
	return lines
}

// highlightBlock renders a code block as one <code> per line inside the
// snippet frame, with an optional line-number column.
func highlightBlock(code, lang string, lineNumbers bool) string {
	lines := highlightLines(code, lang)
	var b strings.Builder
	b.WriteString(`<section class="code-section code-snippet__fix">`)
	if lineNumbers {
		b.WriteString(`<ul class="code-snippet__line-index code-snippet__js">`)
		for range lines {
			b.WriteString("<li></li>")
		}
		b.WriteString("</ul>")
	}
	if lang != "" {
		b.WriteString(`<pre style="max-width:1000% !important;" class="hljs language-` + html.EscapeString(lang) + `">`)
	} else {
		b.WriteString(`<pre class="hljs">`)
	}
	for _, l := range lines {
		if l == "" {
			l = "<br>"
		}
		b.WriteString("<code>" + l + "</code>")
	}
	b.WriteString("</pre></section>")
	return b.String()
}
