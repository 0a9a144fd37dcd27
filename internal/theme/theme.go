// Package theme discovers theme notes in the vault and applies their CSS,
// merged over the embedded base sheet, as inline styles.
package theme

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/Yiling-J/theine-go"
	"golang.org/x/net/html"

	"github.com/starford/inkwell/internal/checksum"
	"github.com/starford/inkwell/internal/cssmerge"
	"github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/vault"
)

// KeyAttr marks a root that already carries a theme's inline styles.
const KeyAttr = "data-inkwell-theme-key"

//go:embed base.css
var baseCSS string

// BaseCSS returns the embedded base sheet.
func BaseCSS() string { return baseCSS }

var cssBlockRe = regexp.MustCompile("(?is)```css[^\\n]*\\n(.*?)\\n?```")

// ExtractCSS joins the ```css fenced blocks of a theme note. Prose and
// other fences are ignored.
func ExtractCSS(note string) string {
	var blocks []string
	for _, m := range cssBlockRe.FindAllStringSubmatch(note, -1) {
		if b := strings.TrimSpace(m[1]); b != "" {
			blocks = append(blocks, b)
		}
	}
	return strings.Join(blocks, "\n")
}

// Theme is a note under the theme folder whose frontmatter names it.
type Theme struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Options configures a Manager.
type Options struct {
	// Folder holds theme notes.
	Folder string
	// Default is the theme used when a caller names none.
	Default string
	// BaseDisabled skips the embedded base sheet.
	BaseDisabled bool
	// CacheSize bounds the number of cached rule tables.
	CacheSize int64
}

// Manager lists themes and applies them.
type Manager struct {
	vault *vault.Vault
	opts  Options
	cache *theine.Cache[string, *cssmerge.Table]
	log   *slog.Logger
}

// New creates a Manager.
func New(v *vault.Vault, opts Options, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 16
	}
	cache, err := theine.NewBuilder[string, *cssmerge.Table](opts.CacheSize).Build()
	if err != nil {
		return nil, fmt.Errorf("theme: cache: %w", err)
	}
	return &Manager{vault: v, opts: opts, cache: cache, log: log}, nil
}

// Folder returns the theme folder.
func (m *Manager) Folder() string { return m.opts.Folder }

// Owns reports whether p lies in the theme folder.
func (m *Manager) Owns(p string) bool {
	folder := strings.Trim(m.opts.Folder, "/")
	return folder != "" && strings.HasPrefix(p, folder+"/")
}

// List returns every theme note, sorted by name. A missing folder yields
// no themes.
func (m *Manager) List() ([]Theme, error) {
	folder := strings.Trim(m.opts.Folder, "/")
	if folder == "" {
		return []Theme{}, nil
	}
	notes, err := m.vault.Notes(folder)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Theme{}, nil
		}
		return nil, fmt.Errorf("theme: list: %w", err)
	}
	themes := []Theme{}
	for _, n := range notes {
		name := strings.TrimSpace(parser.String(m.vault.Frontmatter(n.Path), "theme_name"))
		if name == "" {
			continue
		}
		themes = append(themes, Theme{Name: name, Path: n.Path})
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].Name < themes[j].Name })
	return themes, nil
}

// resolve maps a theme reference (path or display name) to a note path.
func (m *Manager) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = m.opts.Default
	}
	if ref == "" {
		return ""
	}
	if path.Ext(ref) == ".md" && m.vault.Exists(ref) {
		return ref
	}
	themes, err := m.List()
	if err != nil {
		m.log.Warn("theme: list", slog.String("error", err.Error()))
		return ""
	}
	for _, t := range themes {
		if t.Name == ref || t.Path == ref+".md" {
			return t.Path
		}
	}
	return ""
}

// CSS returns the custom CSS of a theme. An unknown theme yields "".
func (m *Manager) CSS(ref string) (string, error) {
	p := m.resolve(ref)
	if p == "" {
		return "", nil
	}
	note, err := m.vault.ReadNote(p)
	if err != nil {
		return "", fmt.Errorf("theme: read %s: %w", p, err)
	}
	return ExtractCSS(note), nil
}

// Table returns the merged rule table for a theme and the key identifying
// it. Tables are cached by the digest of the theme CSS.
func (m *Manager) Table(ref string) (*cssmerge.Table, string, error) {
	custom, err := m.CSS(ref)
	if err != nil {
		return nil, "", err
	}
	key := checksum.Short(fmt.Sprintf("%t\x00%s", m.opts.BaseDisabled, custom))
	if t, ok := m.cache.Get(key); ok {
		return t, key, nil
	}
	var base []string
	if !m.opts.BaseDisabled {
		base = []string{baseCSS}
	}
	t := cssmerge.Build(base, custom, m.log)
	m.cache.Set(key, t, 1)
	return t, key, nil
}

// Apply inlines the theme onto root. A root already carrying the same key
// is left untouched.
func (m *Manager) Apply(root *html.Node, ref string) error {
	t, key, err := m.Table(ref)
	if err != nil {
		return err
	}
	if attr(root, KeyAttr) == key {
		return nil
	}
	t.Apply(root, m.log)
	setAttr(root, KeyAttr, key)
	return nil
}

// ApplyHTML inlines the theme onto every top-level element of an HTML
// fragment.
func (m *Manager) ApplyHTML(fragment, ref string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", fmt.Errorf("theme: parse html: %w", err)
	}
	body := doc.Find("body")
	for _, n := range body.Children().Nodes {
		if err := m.Apply(n, ref); err != nil {
			return "", err
		}
	}
	return body.Html()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
