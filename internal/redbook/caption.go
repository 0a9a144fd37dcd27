// Package redbook turns a note into a RedBook post bundle: decorated plain
// caption text plus the note's images in upload order.
package redbook

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/starford/inkwell/internal/parser"
)

// Decorations used in caption text.
var (
	HeadingMarks = []string{"✨", "🔹", "🔸"}
	Bullet       = "▫️"
	OrderedMarks = []string{"1️⃣", "2️⃣", "3️⃣", "4️⃣", "5️⃣", "6️⃣", "7️⃣", "8️⃣", "9️⃣", "🔟"}
	TaskOpen     = "🔲"
	TaskDone     = "✅"
	Rule         = "---------------------"
)

var (
	embedRe     = regexp.MustCompile(`!\[\[([^\]|#]+)(?:#[^\]|]+)?(?:\|[^\]]+)?\]\]`)
	anyImageRe  = regexp.MustCompile(`!\[\[[^\]]+\]\]|!\[[^\]]*\]\([^)]+\)`)
	mdImageHead = regexp.MustCompile(`^!\[[^\]]*\]\(`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// Caption is a parsed note: the post text and its images, each referenced
// in Text as 【图N】 with N its 1-based position in Images.
type Caption struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

type imageList struct {
	refs  []string
	index map[string]int
}

// add records ref once and returns its 1-based position.
func (l *imageList) add(ref string) int {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return len(l.refs) + 1
	}
	if i, ok := l.index[ref]; ok {
		return i + 1
	}
	l.index[ref] = len(l.refs)
	l.refs = append(l.refs, ref)
	return len(l.refs)
}

var md = goldmark.New(goldmark.WithExtensions(
	extension.Strikethrough,
	extension.Linkify,
	extension.TaskList,
	extension.Table,
))

// Parse builds the caption of a note's raw text. A non-empty cover is
// listed first whether or not the body references it.
func Parse(content, cover string) *Caption {
	_, body := parser.Split([]byte(content))
	images := &imageList{index: map[string]int{}}
	if cover != "" {
		images.add(cover)
	}
	collectImages(body, images)

	src := []byte(normalizeEmbeds(body))
	doc := md.Parser().Parse(text.NewReader(src))
	w := &writer{src: src, images: images}
	w.blocks(doc)

	out := tagRe.ReplaceAllString(w.b.String(), "")
	out = strings.TrimSpace(blankRunRe.ReplaceAllString(out, "\n\n"))
	return &Caption{Text: out, Images: images.refs}
}

// collectImages lists image references in document order. Embeds and
// Markdown images are scanned in one pass so their relative order holds.
func collectImages(body string, images *imageList) {
	for _, tok := range anyImageRe.FindAllString(body, -1) {
		if strings.HasPrefix(tok, "![[") {
			inner := tok[3 : len(tok)-2]
			inner, _, _ = strings.Cut(inner, "|")
			inner, _, _ = strings.Cut(inner, "#")
			images.add(inner)
			continue
		}
		images.add(imageDest(strings.TrimSuffix(mdImageHead.ReplaceAllString(tok, ""), ")")))
	}
}

// imageDest drops an optional title from a Markdown image destination.
func imageDest(inner string) string {
	inner = strings.TrimSpace(inner)
	if strings.HasPrefix(inner, "<") {
		if end := strings.IndexByte(inner, '>'); end > 0 {
			return strings.TrimSpace(inner[1:end])
		}
	}
	if i := strings.IndexByte(inner, ' '); i > 0 {
		inner = inner[:i]
	}
	return inner
}

// normalizeEmbeds rewrites ![[file|400]] as a Markdown image so the
// tokenizer sees one image syntax.
func normalizeEmbeds(body string) string {
	return embedRe.ReplaceAllStringFunc(body, func(m string) string {
		ref := strings.TrimSpace(embedRe.FindStringSubmatch(m)[1])
		if ref == "" {
			return ""
		}
		return "![](<" + ref + ">)"
	})
}

func orderedMark(i int) string {
	if i >= 1 && i <= len(OrderedMarks) {
		return OrderedMarks[i-1]
	}
	return fmt.Sprintf("%d.", i)
}

type writer struct {
	src    []byte
	images *imageList
	b      strings.Builder
}

func (w *writer) blocks(parent ast.Node) {
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}
}

func (w *writer) block(n ast.Node) {
	switch n := n.(type) {
	case *ast.Heading:
		mark := ""
		if n.Level <= len(HeadingMarks) {
			mark = HeadingMarks[n.Level-1]
		}
		w.b.WriteString(mark + " " + w.inline(n) + "\n\n")
	case *ast.Paragraph, *ast.TextBlock:
		w.b.WriteString(w.inline(n) + "\n\n")
	case *ast.FencedCodeBlock:
		label := ""
		if lang := string(n.Language(w.src)); lang != "" {
			label = "（" + lang + "）"
		}
		w.b.WriteString("【代码块" + label + "】\n" + w.lines(n) + "\n\n")
	case *ast.CodeBlock:
		w.b.WriteString("【代码块】\n" + w.lines(n) + "\n\n")
	case *ast.Blockquote:
		inner := &writer{src: w.src, images: w.images}
		inner.blocks(n)
		for _, line := range strings.Split(inner.b.String(), "\n") {
			if strings.TrimSpace(line) != "" {
				w.b.WriteString("    " + line + "\n")
			}
		}
		w.b.WriteString("\n")
	case *ast.ThematicBreak:
		w.b.WriteString("\n" + Rule + "\n")
	case *ast.List:
		w.b.WriteString("\n" + w.list(n, "") + "\n")
	case *ast.HTMLBlock:
		w.b.WriteString(w.lines(n) + "\n\n")
	case *east.Table:
		for row := n.FirstChild(); row != nil; row = row.NextSibling() {
			var cells []string
			for c := row.FirstChild(); c != nil; c = c.NextSibling() {
				cells = append(cells, strings.TrimSpace(w.inline(c)))
			}
			w.b.WriteString(strings.Join(cells, " | ") + "\n")
		}
		w.b.WriteString("\n")
	default:
		w.blocks(n)
	}
}

func (w *writer) list(l *ast.List, indent string) string {
	var b strings.Builder
	num := l.Start
	if num == 0 {
		num = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		var parts, nested []string
		task := ""
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if sub, ok := c.(*ast.List); ok {
				nested = append(nested, w.list(sub, indent+"    "))
				continue
			}
			if box, ok := c.FirstChild().(*east.TaskCheckBox); ok {
				task = TaskOpen
				if box.IsChecked {
					task = TaskDone
				}
			}
			if t := strings.TrimSpace(w.inline(c)); t != "" {
				parts = append(parts, t)
			}
		}
		line := strings.Join(parts, " ")
		switch {
		case l.IsOrdered():
			b.WriteString(indent + orderedMark(num) + " " + line + "\n")
			num++
		case task != "":
			b.WriteString(indent + task + " " + line + "\n")
		default:
			b.WriteString(indent + Bullet + " " + line + "\n")
		}
		for _, s := range nested {
			b.WriteString(s)
		}
	}
	return b.String()
}

func (w *writer) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(w.src))
	}
	return strings.TrimRight(b.String(), "\n")
}

// inline flattens the inline children of n.
func (w *writer) inline(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(w.src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.Image:
			fmt.Fprintf(&b, "【图%d】", w.images.add(string(c.Destination)))
		case *ast.Link:
			label := w.inline(c)
			if len(c.Destination) == 0 {
				b.WriteString(label)
				continue
			}
			b.WriteString(label + "（链接：" + string(c.Destination) + "）")
		case *ast.AutoLink:
			url := string(c.URL(w.src))
			b.WriteString(string(c.Label(w.src)) + "（链接：" + url + "）")
		case *ast.RawHTML, *east.TaskCheckBox:
		default:
			b.WriteString(w.inline(c))
		}
	}
	return b.String()
}
