package redbook

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/starford/inkwell/internal/fetch"
	"github.com/starford/inkwell/internal/parser"
	"github.com/starford/inkwell/internal/vault"
)

// CoverKeys are the frontmatter keys naming the post cover, RedBook keys
// first.
var CoverKeys = []string{"小红书封面图", "小红书封面", "redbook_cover", "xhs_cover", "封面图", "cover", "thumbnail", "inkwell_cover"}

// Bundle file names.
const (
	DefaultLabel = "小红书导出"
	TextFile     = "文案.txt"
	ImageDir     = "图片"
	ManifestFile = "上传顺序.txt"
)

var unsafeNameRe = regexp.MustCompile(`[\\/:*?"<>|]`)

// Result describes a written bundle.
type Result struct {
	Folder     string   `json:"folder"`
	ImageCount int      `json:"image_count"`
	Found      int      `json:"found"`
	Manifest   []string `json:"manifest"`
}

// Exporter writes bundles next to the exported notes.
type Exporter struct {
	vault   *vault.Vault
	fs      afero.Fs
	fetcher *fetch.Fetcher
	label   string
	log     *slog.Logger
	now     func() time.Time
}

// NewExporter creates an Exporter writing through fs, which is rooted at
// the vault. label names the export folder; fetcher, when non-nil, lets
// remote images be downloaded into the bundle.
func NewExporter(v *vault.Vault, fs afero.Fs, fetcher *fetch.Fetcher, label string, log *slog.Logger) *Exporter {
	if log == nil {
		log = slog.Default()
	}
	if label == "" {
		label = DefaultLabel
	}
	return &Exporter{vault: v, fs: fs, fetcher: fetcher, label: label, log: log, now: time.Now}
}

// Cover returns the normalised cover reference of a note, or "".
func (e *Exporter) Cover(fm map[string]any) string {
	ref := parser.String(fm, CoverKeys...)
	if ref == "" {
		return ""
	}
	ref = strings.TrimPrefix(ref, "vault:")
	switch {
	case strings.HasPrefix(ref, "obsidian://"):
		if u, err := url.Parse(ref); err == nil {
			if f := u.Query().Get("file"); f != "" {
				ref = f
			}
		}
	case strings.HasPrefix(ref, "file://"):
		abs, err := url.PathUnescape(strings.TrimPrefix(ref, "file://"))
		root := strings.TrimSuffix(e.vault.Root(), "/")
		if err == nil && root != "" && strings.HasPrefix(abs, root+"/") {
			ref = strings.TrimPrefix(abs, root+"/")
		}
	}
	return ref
}

// Export writes the bundle of notePath under
// <parent of the note's folder>/<label>/<title>-<YYYYMMDD-HHMMSS>/.
// Every image gets a manifest line, found or not.
func (e *Exporter) Export(ctx context.Context, notePath string) (*Result, error) {
	raw, err := e.vault.ReadNote(notePath)
	if err != nil {
		return nil, err
	}
	fm, _ := parser.Split([]byte(raw))
	caption := Parse(raw, e.Cover(fm))

	root := path.Dir(path.Dir(notePath))
	if root == "." {
		root = ""
	}
	title := safeName(strings.TrimSuffix(path.Base(notePath), path.Ext(notePath)))
	folder := path.Join(root, e.label, title+"-"+e.now().Format("20060102-150405"))
	imageDir := path.Join(folder, ImageDir)
	if err := e.fs.MkdirAll(imageDir, 0o755); err != nil {
		return nil, fmt.Errorf("redbook: create %s: %w", folder, err)
	}
	if err := afero.WriteFile(e.fs, path.Join(folder, TextFile), []byte(caption.Text), 0o644); err != nil {
		return nil, fmt.Errorf("redbook: write caption: %w", err)
	}

	res := &Result{Folder: folder, ImageCount: len(caption.Images)}
	for i, ref := range caption.Images {
		n := i + 1
		data, base, ext, ok := e.image(ctx, ref, notePath)
		if !ok {
			res.Manifest = append(res.Manifest, fmt.Sprintf("图%d: 未找到（%s）", n, ref))
			continue
		}
		name := fmt.Sprintf("%02d-%s.%s", n, safeName(base), ext)
		if err := afero.WriteFile(e.fs, path.Join(imageDir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("redbook: write %s: %w", name, err)
		}
		res.Manifest = append(res.Manifest, fmt.Sprintf("图%d: %s（原始：%s）", n, name, ref))
		res.Found++
	}

	manifest := strings.Join(res.Manifest, "\n") + "\n"
	if err := afero.WriteFile(e.fs, path.Join(folder, ManifestFile), []byte(manifest), 0o644); err != nil {
		return nil, fmt.Errorf("redbook: write manifest: %w", err)
	}
	e.log.Info("redbook: bundle exported",
		slog.String("note", notePath),
		slog.String("folder", folder),
		slog.Int("images", res.ImageCount),
		slog.Int("found", res.Found))
	return res, nil
}

// image loads one referenced image and returns its bytes, basename and
// extension.
func (e *Exporter) image(ctx context.Context, ref, from string) ([]byte, string, string, bool) {
	if vault.IsRemote(ref) {
		if e.fetcher == nil {
			return nil, "", "", false
		}
		a, err := e.fetcher.Fetch(ctx, ref, from)
		if err != nil {
			e.log.Warn("redbook: fetch image", slog.String("ref", ref), slog.String("error", err.Error()))
			return nil, "", "", false
		}
		base, ext := splitName(a.Name)
		return a.Data, base, ext, true
	}
	p := e.vault.ResolveImage(ref, from)
	if p == "" {
		return nil, "", "", false
	}
	data, err := e.vault.ReadFile(p)
	if err != nil {
		return nil, "", "", false
	}
	base, ext := splitName(path.Base(p))
	return data, base, ext, true
}

func splitName(name string) (string, string) {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "png"
	}
	return base, ext
}

func safeName(name string) string {
	name = strings.TrimSpace(unsafeNameRe.ReplaceAllString(name, "-"))
	if name == "" {
		return "未命名"
	}
	return name
}
