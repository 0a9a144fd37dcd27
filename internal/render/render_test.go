package render

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xhtml "golang.org/x/net/html"

	"github.com/starford/inkwell/internal/capture"
	"github.com/starford/inkwell/internal/storage"
	"github.com/starford/inkwell/internal/vault"
)

func newPipeline(t *testing.T, files map[string]string, opts Options) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	opts.Vault = vault.New(fs, "", nil)
	if opts.CalloutWait == 0 {
		opts.CalloutWait = 50 * time.Millisecond
	}
	if opts.DiagramWait == 0 {
		opts.DiagramWait = 50 * time.Millisecond
	}
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func render(t *testing.T, p *Pipeline, md string) *Result {
	t.Helper()
	res, err := p.Render(context.Background(), "n.md", md, false)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return res
}

func assertContains(t *testing.T, got string, wants ...string) {
	t.Helper()
	for _, w := range wants {
		if !strings.Contains(got, w) {
			t.Errorf("output missing %q\n%s", w, got)
		}
	}
}

func TestHeadingSpans(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "## Hello *world*\n")
	assertContains(t, res.HTML,
		`<h2><span class="inkwell-heading-prefix"> </span><span class="inkwell-heading-outbox"><span class="inkwell-heading-leaf">Hello world</span></span><span class="inkwell-heading-tail"></span></h2>`)
}

func TestFrontmatterAndTitle(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "---\ntitle: Post\n---\n%%hh%%\nbody\n")
	if res.Title != "Post" {
		t.Errorf("Title = %q, want %q", res.Title, "Post")
	}
	if strings.Contains(res.HTML, "title:") || strings.Contains(res.HTML, "%%") {
		t.Errorf("frontmatter or template marker leaked: %s", res.HTML)
	}

	res = render(t, p, "plain\n")
	if res.Title != "n" {
		t.Errorf("fallback Title = %q, want %q", res.Title, "n")
	}
}

func TestHRAfterImage(t *testing.T) {
	p := newPipeline(t, map[string]string{"pic.png": "x"}, Options{})
	res := render(t, p, "# Hi\n\n![[pic.png]]\n---\n")
	if strings.Contains(res.HTML, "<h2") {
		t.Errorf("image line turned into a setext heading: %s", res.HTML)
	}
	assertContains(t, res.HTML, "<hr", `src="/api/assets/pic.png"`)
}

func TestLinks_FooterDedupPrefersLabel(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	for _, md := range []string{
		"[text](https://a.example)\n\n[https://a.example](https://a.example)\n",
		"[https://a.example](https://a.example)\n\n[text](https://a.example)\n",
	} {
		res := render(t, p, md)
		assertContains(t, res.HTML,
			`text<strong>(https://a.example)</strong>`,
			`<section class="foot-links"><hr class="foot-links-separator"/><ol><li>text：<a data-linktype="2" data-link="https://a.example" href="https://a.example">https://a.example</a>`)
		if n := strings.Count(res.HTML, "<li>"); n != 1 {
			t.Errorf("footer items = %d, want 1", n)
		}
	}
}

func TestLinks_BareAndLocal(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "see https://b.example and [doc](./doc.md)\n")
	assertContains(t, res.HTML,
		`<strong>(https://b.example)</strong>`,
		`<a href="./doc.md">doc</a>`,
		`<li>外链：`)
	if strings.Contains(res.HTML, `data-link="./doc.md"`) {
		t.Error("local link leaked into footer")
	}
}

func TestLinks_StateIsPerRender(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	render(t, p, "[a](https://a.example)\n")
	res := render(t, p, "no links\n")
	if strings.Contains(res.HTML, "foot-links") {
		t.Errorf("links leaked across renders: %s", res.HTML)
	}
}

func TestDedupLinks(t *testing.T) {
	got := dedupLinks([]footLink{
		{href: "h1", text: "short"},
		{href: "h2", text: "h2"},
		{href: "h1", text: "much longer"},
		{href: "h1", text: "h1"},
		{href: "h2", text: ""},
	})
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].text != "much longer" {
		t.Errorf("h1 label = %q", got[0].text)
	}
	if got[1].text != "h2" {
		t.Errorf("h2 label = %q", got[1].text)
	}
}

func TestRemoveEmptyListItems(t *testing.T) {
	out, err := removeEmptyListItems(`<ol><li><section><br></section></li><li><img src="a.png"></li><li> &nbsp;<span></span>` + "\u200b" + `</li><li>keep</li></ol>`)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(out, "<li>"); n != 2 {
		t.Errorf("items = %d, want 2: %s", n, out)
	}
	assertContains(t, out, `<img src="a.png"/>`, "<li>keep</li>")
}

func TestListMarkup(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "3. a\n4. b\n\n- [x] done\n- [ ] todo\n")
	assertContains(t, res.HTML,
		`<ol start="3" class="list-paddingleft-1"><li><section>a</section></li>`,
		`<ul class="list-paddingleft-1">`,
		"☑ done", "☐ todo")
}

func TestTable(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "| a | b |\n|:--|--:|\n| 1 | 2 |\n")
	assertContains(t, res.HTML, `<section class="table-container"><table>`, `text-align:left`, `text-align:right`, "<tbody>")
}

func TestCodespan(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "`wwcap: My caption` and `x<y`\n")
	assertContains(t, res.HTML,
		`<div class="inkwell-image-caption">My caption</div>`,
		`<span class="inkwell-codespan">x&lt;y</span>`)
}

func TestWikiLinkShowsAlias(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "see [[Other Note|the other]] and [[Plain]]\n")
	assertContains(t, res.HTML, "see the other and Plain")
	if strings.Contains(res.HTML, "[[") {
		t.Errorf("wikilink syntax leaked: %s", res.HTML)
	}
}

func TestImages(t *testing.T) {
	p := newPipeline(t, map[string]string{"assets/pic.png": "x"}, Options{})
	res := render(t, p, "![alt](pic.png \"A caption\")\n\n![[pic.png|320]]\n\n![r](https://cdn.example/r.png)\n")
	assertContains(t, res.HTML,
		`<figure class="image-with-caption"><img src="/api/assets/assets/pic.png" alt="alt" title="A caption"/><div class="image-caption-row"><div class="triangle"></div><figcaption class="image-caption">A caption</figcaption></div></figure>`,
		`width="320"`,
		`src="https://cdn.example/r.png"`)
}

func TestProfileAvatarNotWrapped(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "```inkwell-profile\nnickname: Me\navatar: https://x.example/a.png\n```\n")
	assertContains(t, res.HTML, `class="inkwell-avatar-image"`)
	if strings.Contains(res.HTML, "image-with-caption") {
		t.Errorf("avatar wrapped in figure: %s", res.HTML)
	}
}

func TestHighlightLines(t *testing.T) {
	lines := highlightLines("a\tb c", "")
	if lines[0] != "a&nbsp;&nbsp;&nbsp;&nbsp;b&nbsp;c" {
		t.Errorf("plain line = %q", lines[0])
	}

	lines = highlightLines("func main() {\n\t/* a\n\tb */\n\ts := \"x\" // c\n}", "go")
	if len(lines) != 5 {
		t.Fatalf("lines = %d, want 5: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], `<span class="hljs-keyword">func</span>`) {
		t.Errorf("keyword not tagged: %q", lines[0])
	}
	if !strings.Contains(lines[1], "hljs-comment") || !strings.Contains(lines[2], "hljs-comment") {
		t.Errorf("block comment not split per line: %q / %q", lines[1], lines[2])
	}
	if !strings.Contains(lines[3], `hljs-string`) || !strings.Contains(lines[3], `<span class="hljs-comment">//&nbsp;c</span>`) {
		t.Errorf("string/comment not tagged: %q", lines[3])
	}
}

func TestCodeBlockMarkup(t *testing.T) {
	p := newPipeline(t, nil, Options{CodeLineNumbers: true})
	res := render(t, p, "```unknownlang\na\n\nb\n```\n")
	assertContains(t, res.HTML,
		`<section class="code-section code-snippet__fix"><ul class="code-snippet__line-index code-snippet__js"><li></li><li></li><li></li></ul>`,
		`class="hljs language-unknownlang"`,
		`<code>a</code><code><br/></code><code>b</code>`)
}

func TestWidgetsWithoutHost(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "```mermaid\ngraph TD\n```\n\n> [!note] Title\n> body\n\n> plain\n\n```ad-tip\nx\n```\n\n`ris:home` \n")
	assertContains(t, res.HTML, "Mermaid 渲染失败", "Callout 渲染失败", "Admonition 渲染失败", "<blockquote>", "remix icon not found")
}

type fakeHost struct {
	fragment string
	calls    int
}

func (h *fakeHost) Render(_ context.Context, _ string) (*capture.Container, error) {
	h.calls++
	return capture.ParseContainer(h.fragment)
}

const hostDOM = `<div class="callout" data-callout="note"><div class="callout-title"><div class="callout-title-inner">T</div><div class="callout-fold"></div></div><div class="callout-content"><p>x</p></div></div>` +
	`<p><span class="obsidian-icon react-icon" data-icon="ris:home"><svg viewBox="0 0 1 1"></svg></span></p>` +
	`<div class="callout admonition" data-callout="tip"><div class="callout-title">A</div><div class="callout-content">inner</div><div class="edit-block-button"></div></div>` +
	`<div class="mermaid"><svg viewBox="0 0 20 10"><rect width="20" height="10" fill="#000"></rect></svg></div>`

func TestWidgetsFromHost(t *testing.T) {
	host := &fakeHost{fragment: hostDOM}
	p := newPipeline(t, nil, Options{Host: host})
	md := "> [!note] T\n> x\n\n`ris:home` and `fas:missing`\n\n```ad-tip\ninner\n```\n\n```mermaid\ngraph TD\n```\n"
	res := render(t, p, md)

	assertContains(t, res.HTML,
		`<section class="inkwell-callout"><section class="callout" data-callout="note">`,
		`data-icon="ris:home"`,
		"remix icon not found",
		`<section class="callout admonition" data-callout="tip">`,
		`<section id="inkwell-mermaid-0" class="mermaid">`,
		`data:image/png;base64,`,
		`style="width:20px;height:auto;"`)
	for _, gone := range []string{"callout-fold", "edit-block-button", "<svg viewBox=\"0 0 20 10\""} {
		if strings.Contains(res.HTML, gone) {
			t.Errorf("output still contains %q", gone)
		}
	}
	if host.calls != 1 {
		t.Errorf("host rendered %d times, want 1", host.calls)
	}
}

// renderWithin fails the test instead of hanging when a capture wait never
// returns.
func renderWithin(t *testing.T, p *Pipeline, md string, limit time.Duration) *Result {
	t.Helper()
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := p.Render(context.Background(), "n.md", md, false)
		done <- outcome{res, err}
	}()
	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("Render: %v", o.err)
		}
		return o.res
	case <-time.After(limit):
		t.Fatalf("Render did not return within %s", limit)
		return nil
	}
}

func TestCalloutMissingFromHost(t *testing.T) {
	host := &fakeHost{fragment: `<div class="callout" data-callout="note"><div class="callout-content"><p>x</p></div></div>`}
	p := newPipeline(t, nil, Options{Host: host, CalloutWait: 50 * time.Millisecond})
	res := renderWithin(t, p, "> [!note] T\n> x\n\n> [!tip] U\n> y\n", 3*time.Second)

	assertContains(t, res.HTML, `<section class="callout" data-callout="note">`, CalloutFailed)
	if n := strings.Count(res.HTML, "inkwell-callout"); n != 1 {
		t.Errorf("captured %d callouts, want 1\n%s", n, res.HTML)
	}
}

func TestAdmonitionMissingFromHost(t *testing.T) {
	host := &fakeHost{fragment: `<div class="callout admonition" data-callout="tip"><div class="callout-content">one</div></div>`}
	p := newPipeline(t, nil, Options{Host: host, CalloutWait: 50 * time.Millisecond})
	res := renderWithin(t, p, "```ad-tip\none\n```\n\n```ad-note\ntwo\n```\n", 3*time.Second)

	assertContains(t, res.HTML, `<section class="callout admonition" data-callout="tip">`, AdmonitionFailed)
}

// lateHost returns a container that gains its callout only after Render
// has returned, the way a live preview fills in asynchronously.
type lateHost struct {
	late  string
	delay time.Duration
}

func (h *lateHost) Render(_ context.Context, _ string) (*capture.Container, error) {
	c, err := capture.ParseContainer(`<p>loading</p>`)
	if err != nil {
		return nil, err
	}
	src, err := capture.ParseContainer(h.late)
	if err != nil {
		return nil, err
	}
	node := src.Query(".callout", 0)
	go func() {
		time.Sleep(h.delay)
		c.Mutate(func(root *xhtml.Node) { root.AppendChild(node) })
	}()
	return c, nil
}

func TestCalloutArrivesDuringWait(t *testing.T) {
	host := &lateHost{
		late:  `<div class="callout" data-callout="note"><div class="callout-content"><p>late body</p></div></div>`,
		delay: 20 * time.Millisecond,
	}
	p := newPipeline(t, nil, Options{Host: host, CalloutWait: 2 * time.Second})
	res := renderWithin(t, p, "> [!note] T\n> late body\n", 3*time.Second)

	assertContains(t, res.HTML, `<section class="inkwell-callout">`, "late body")
	if strings.Contains(res.HTML, CalloutFailed) {
		t.Errorf("callout fell back to placeholder\n%s", res.HTML)
	}
}

func TestMpcard(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "```mpcard\nid: gh_123\nheadimg: https://x.example/h.png\nnickname: Inkwell\n```\n")
	assertContains(t, res.HTML, `data-id="gh_123"`, `class="inkwell-mpcard-wrapper"`, "公众号简介")
	if len(res.Cards) != 1 || res.Cards[0].ID != "gh_123" {
		t.Fatalf("cards = %+v", res.Cards)
	}

	final := res.Final()
	assertContains(t, final, `<mp-common-profile`, `data-nickname="Inkwell"`)
	if strings.Contains(final, "inkwell-mpcard-wrapper") {
		t.Errorf("placeholder not restored: %s", final)
	}
	if !strings.Contains(res.Preview(), "inkwell-mpcard-wrapper") {
		t.Error("preview should keep the placeholder")
	}

	res = render(t, p, "```mpcard\nnickname: NoID\n```\n")
	assertContains(t, res.HTML, "公众号名片数据错误，缺少id")
	res = render(t, p, "```mpcard\nid: gh_1\n```\n")
	assertContains(t, res.HTML, "公众号名片数据为空")
}

func TestParseCard_RawMarkup(t *testing.T) {
	info := ParseCard(`<mp-common-profile data-id="gh_9" data-nickname="A &amp; B" data-headimg='h.png'></mp-common-profile>`)
	if info == nil || info.ID != "gh_9" || info.Nickname != "A & B" || info.HeadImg != "h.png" {
		t.Fatalf("info = %+v", info)
	}
	if got := cardHTML(info); !strings.HasPrefix(got, `<section class="mp_profile_iframe_wrp"`) {
		t.Errorf("raw card not wrapped: %s", got)
	}
}

type fakeMath struct{ calls int }

func (m *fakeMath) TeXToSVG(_ context.Context, tex string, display bool) (string, error) {
	m.calls++
	if display {
		return `<svg class="display">` + tex + `</svg>`, nil
	}
	return `<svg class="inline">` + tex + `</svg>`, nil
}

func TestMath(t *testing.T) {
	p := newPipeline(t, nil, Options{})
	res := render(t, p, "inline $a<b$ here\n")
	assertContains(t, res.HTML, "a&lt;b")

	m := &fakeMath{}
	p = newPipeline(t, nil, Options{Math: m})
	res = render(t, p, "inline $x^2$ here\n\n$$\ny=1\n$$\n")
	assertContains(t, res.HTML, `<svg class="inline">x^2</svg>`, `<section class="block-math"><svg class="display">y=1</svg></section>`)
}
