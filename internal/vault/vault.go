// Package vault is the note-content collaborator: it reads notes and their
// frontmatter, resolves link and image references the way the editor does,
// and rewrites frontmatter in place.
package vault

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/storage"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".svg": true,
}

// IsImage reports whether p has an image extension.
func IsImage(p string) bool {
	return imageExts[strings.ToLower(path.Ext(p))]
}

// Vault wraps a storage provider with link resolution and a cached file list.
type Vault struct {
	store            storage.Provider
	attachmentFolder string
	log              *slog.Logger

	mu    sync.RWMutex
	files []models.FileMetadata // nil when stale

	fmMu sync.Mutex // serialises frontmatter rewrites
}

// New creates a Vault. attachmentFolder follows the editor setting: empty or
// "." for the note's own folder, "./x" for a folder relative to the note,
// anything else relative to the vault root.
func New(store storage.Provider, attachmentFolder string, log *slog.Logger) *Vault {
	if log == nil {
		log = slog.Default()
	}
	return &Vault{store: store, attachmentFolder: attachmentFolder, log: log}
}

// Root returns the vault's absolute directory.
func (v *Vault) Root() string { return v.store.Root() }

// Invalidate drops the cached file list. The watcher calls it on every
// create/remove/rename.
func (v *Vault) Invalidate() {
	v.mu.Lock()
	v.files = nil
	v.mu.Unlock()
}

// Files returns every regular file in the vault.
func (v *Vault) Files() ([]models.FileMetadata, error) {
	v.mu.RLock()
	files := v.files
	v.mu.RUnlock()
	if files != nil {
		return files, nil
	}
	files, err := v.store.Files("")
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []models.FileMetadata{}
	}
	v.mu.Lock()
	v.files = files
	v.mu.Unlock()
	return files, nil
}

// Notes lists Markdown notes under dir.
func (v *Vault) Notes(dir string) ([]models.FileMetadata, error) {
	return v.store.Notes(dir)
}

// Exists reports whether p is a file in the vault.
func (v *Vault) Exists(p string) bool { return v.store.Exists(p) }

// ReadFile returns raw bytes; a missing file yields apperr.ErrNotFound.
func (v *Vault) ReadFile(p string) ([]byte, error) {
	data, err := v.store.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, p)
		}
		return nil, err
	}
	return data, nil
}

// ReadNote returns the note's text.
func (v *Vault) ReadNote(p string) (string, error) {
	data, err := v.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Frontmatter returns the note's frontmatter or nil when it has none or
// cannot be read.
func (v *Vault) Frontmatter(p string) map[string]any {
	data, err := v.ReadFile(p)
	if err != nil {
		return nil
	}
	fm, _ := parser.Split(data)
	return fm
}

func cleanRef(raw string) string {
	ref := strings.TrimSpace(raw)
	const appPrefix = "app://obsidian.md/"
	if strings.HasPrefix(ref, appPrefix) {
		if u, err := url.PathUnescape(ref[len(appPrefix):]); err == nil {
			ref = u
		}
	}
	for _, sep := range []string{"|", "?", "#"} {
		if i := strings.Index(ref, sep); i >= 0 {
			ref = ref[:i]
		}
	}
	return strings.TrimPrefix(strings.TrimSpace(ref), "/")
}

// ResolveLink resolves a link path relative to the note at from, the way
// the editor resolves [[links]]: exact path, path relative to the note's
// folder, then the shortest vault path ending in the link. Links without an
// extension are taken to point at notes. It returns "" when nothing matches.
func (v *Vault) ResolveLink(link, from string) string {
	ref := cleanRef(link)
	if ref == "" {
		return ""
	}
	refs := []string{ref}
	if path.Ext(ref) == "" {
		refs = []string{ref + ".md", ref}
	}
	dir := path.Dir(from)
	for _, r := range refs {
		if v.store.Exists(r) {
			return r
		}
		if dir != "." && dir != "" {
			if rel := path.Join(dir, r); v.store.Exists(rel) {
				return rel
			}
		}
	}

	files, err := v.Files()
	if err != nil {
		v.log.Warn("vault: list files", slog.String("error", err.Error()))
		return ""
	}
	best := ""
	for _, r := range refs {
		want := fold("/" + r)
		for _, f := range files {
			if !strings.HasSuffix(fold("/"+f.Path), want) {
				continue
			}
			if best == "" || len(f.Path) < len(best) ||
				(len(f.Path) == len(best) && path.Dir(f.Path) == dir) {
				best = f.Path
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

// ResolveImage finds the vault image a reference points to. Resolution order:
// link resolution against the note, the same for the bare basename, the
// configured attachment folder, then a case-insensitive basename scan of the
// whole vault. It returns "" when the reference is remote or unresolvable.
func (v *Vault) ResolveImage(raw, from string) string {
	if IsRemote(raw) {
		return ""
	}
	ref := cleanRef(raw)
	if ref == "" {
		return ""
	}
	if p := v.ResolveLink(ref, from); p != "" && IsImage(p) {
		return p
	}
	base := path.Base(ref)
	if strings.Contains(ref, "/") {
		if p := v.ResolveLink(base, from); p != "" && IsImage(p) {
			return p
		}
	}

	for _, c := range v.attachmentCandidates(ref, base, path.Dir(from)) {
		if IsImage(c) && v.store.Exists(c) {
			return c
		}
	}

	files, err := v.Files()
	if err != nil {
		return ""
	}
	want := fold(base)
	for _, f := range files {
		if IsImage(f.Path) && fold(path.Base(f.Path)) == want {
			return f.Path
		}
	}
	return ""
}

func (v *Vault) attachmentCandidates(ref, base, noteDir string) []string {
	if noteDir == "." {
		noteDir = ""
	}
	folder := strings.TrimSuffix(v.attachmentFolder, "/")
	switch {
	case folder == "" || folder == ".":
		if noteDir == "" {
			return []string{ref, base}
		}
		return []string{path.Join(noteDir, ref), path.Join(noteDir, base)}
	case strings.HasPrefix(folder, "./"):
		rel := path.Join(noteDir, folder[2:])
		return []string{path.Join(rel, ref), path.Join(rel, base)}
	default:
		return []string{
			path.Join(folder, ref), path.Join(folder, base),
			path.Join(noteDir, folder, ref), path.Join(noteDir, folder, base),
		}
	}
}

// IsRemote reports whether ref is an http(s) or data: URL.
func IsRemote(ref string) bool {
	r := strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(r, "http://") || strings.HasPrefix(r, "https://") || strings.HasPrefix(r, "data:")
}

// fold normalises a path for comparison: NFC then lower case. Notes synced
// from macOS often carry NFD file names.
func fold(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}

// UpdateFrontmatter applies fn to the note's frontmatter and writes the note
// back atomically. Existing keys keep their order and formatting unless fn
// changed their value; new keys are appended in sorted order.
func (v *Vault) UpdateFrontmatter(p string, fn func(fm map[string]any)) error {
	v.fmMu.Lock()
	defer v.fmMu.Unlock()

	data, err := v.ReadFile(p)
	if err != nil {
		return err
	}
	block, body, found := parser.SplitRaw(data)

	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	if found && len(bytes.TrimSpace(block)) > 0 {
		var doc yaml.Node
		if err := yaml.Unmarshal(block, &doc); err != nil {
			return fmt.Errorf("vault: parse frontmatter of %s: %w", p, err)
		}
		if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 && doc.Content[0].Kind == yaml.MappingNode {
			root = doc.Content[0]
		}
	}

	fm := map[string]any{}
	if err := root.Decode(&fm); err != nil {
		return fmt.Errorf("vault: decode frontmatter of %s: %w", p, err)
	}
	fn(fm)
	if err := mergeMapping(root, fm); err != nil {
		return fmt.Errorf("vault: encode frontmatter of %s: %w", p, err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	if err := encodeYAML(&buf, root); err != nil {
		return fmt.Errorf("vault: encode frontmatter of %s: %w", p, err)
	}
	buf.WriteString("---\n")
	buf.WriteString(body)

	if err := v.store.Write(p, buf.Bytes()); err != nil {
		return err
	}
	v.log.Debug("vault: frontmatter updated", slog.String("path", p))
	return nil
}

func encodeYAML(w io.Writer, root *yaml.Node) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func mergeMapping(root *yaml.Node, fm map[string]any) error {
	seen := make(map[string]bool, len(fm))
	content := make([]*yaml.Node, 0, len(root.Content)+2*len(fm))
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, old := root.Content[i], root.Content[i+1]
		val, ok := fm[k.Value]
		if !ok {
			continue
		}
		seen[k.Value] = true
		var prev any
		if err := old.Decode(&prev); err == nil && reflect.DeepEqual(prev, val) {
			content = append(content, k, old)
			continue
		}
		n := &yaml.Node{}
		if err := n.Encode(val); err != nil {
			return err
		}
		content = append(content, k, n)
	}

	var added []string
	for k := range fm {
		if !seen[k] {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		n := &yaml.Node{}
		if err := n.Encode(fm[k]); err != nil {
			return err
		}
		content = append(content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, n)
	}
	root.Content = content
	return nil
}
