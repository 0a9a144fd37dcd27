// Package fetch loads the bytes behind an image or video reference found in
// rendered HTML: data: URIs, preview asset URLs, vault paths and remote
// http(s) URLs.
package fetch

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/starford/inkwell/internal/vault"
)

// MaxAssetSize bounds any single asset.
const MaxAssetSize = 20 << 20

var safeFilenameRe = regexp.MustCompile(`[^\p{L}\p{N}._-]`)

// Asset is a fetched file.
type Asset struct {
	Data []byte
	MIME string
	// Ext includes the leading dot.
	Ext  string
	Name string
	// VaultPath is set when the asset came from the vault.
	VaultPath string
}

// Options configures a Fetcher.
type Options struct {
	// AssetPrefix is the URL prefix under which the preview serves vault
	// files, e.g. "/api/assets/".
	AssetPrefix string
	// AllowPrivate disables the private-address guard. Tests and
	// self-hosted CMS instances on a LAN need it.
	AllowPrivate bool
	Timeout      time.Duration
}

// Fetcher resolves references to bytes.
type Fetcher struct {
	vault  *vault.Vault
	opts   Options
	client *http.Client
	log    *slog.Logger
}

// New creates a Fetcher.
func New(v *vault.Vault, opts Options, log *slog.Logger) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: opts.Timeout}
	transport := &http.Transport{DialContext: dialer.DialContext}
	if !opts.AllowPrivate {
		transport.DialContext = safeDialContext(dialer)
	}
	client := &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return nil
		},
	}
	return &Fetcher{vault: v, opts: opts, client: client, log: log}
}

// Fetch loads src. from is the note the reference appears in, used for
// vault-relative resolution.
func (f *Fetcher) Fetch(ctx context.Context, src, from string) (*Asset, error) {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
		return nil, fmt.Errorf("fetch: empty source")
	case strings.HasPrefix(src, "data:"):
		return DecodeDataURI(src)
	case strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://"):
		if p := f.assetPath(src); p != "" {
			return f.fromVault(p)
		}
		return f.fetchHTTP(ctx, src)
	}
	if p := f.assetPath(src); p != "" {
		return f.fromVault(p)
	}
	p := f.vault.ResolveImage(src, from)
	if p == "" {
		p = f.vault.ResolveLink(src, from)
	}
	if p == "" {
		return nil, fmt.Errorf("fetch: unresolved reference %q", src)
	}
	return f.fromVault(p)
}

// assetPath recovers the vault path from a preview asset URL, or "".
func (f *Fetcher) assetPath(src string) string {
	prefix := f.opts.AssetPrefix
	if prefix == "" {
		return ""
	}
	rest := src
	if u, err := url.Parse(src); err == nil && u.Scheme != "" {
		rest = u.EscapedPath()
	}
	if !strings.HasPrefix(rest, prefix) {
		return ""
	}
	p, err := url.PathUnescape(strings.TrimPrefix(rest, prefix))
	if err != nil {
		return ""
	}
	return p
}

func (f *Fetcher) fromVault(p string) (*Asset, error) {
	data, err := f.vault.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	a := newAsset(data, path.Base(p))
	a.VaultPath = p
	return a, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (*Asset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: download failed: HTTP %d", resp.StatusCode)
	}
	data, err := readLimited(resp.Body, MaxAssetSize)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	a := newAsset(data, "")
	a.Name = FilenameFromURL(rawURL, a.Ext)
	f.log.Debug("fetch: downloaded", slog.String("url", rawURL), slog.Int("bytes", len(data)))
	return a, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read body failed: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("file too large: exceeds %d bytes", limit)
	}
	return data, nil
}

func newAsset(data []byte, name string) *Asset {
	mime, ext := Detect(data)
	if name == "" {
		name = uuid.New().String() + ext
	}
	return &Asset{Data: data, MIME: mime, Ext: ext, Name: SanitizeFilename(name)}
}

// Detect sniffs the MIME type and extension of data.
func Detect(data []byte) (mime, ext string) {
	m := mimetype.Detect(data)
	mime = m.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	ext = m.Extension()
	if ext == "" {
		ext = ".bin"
	}
	return mime, ext
}

// DecodeDataURI parses data:[<mediatype>][;base64],<data>.
func DecodeDataURI(uri string) (*Asset, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("fetch: invalid data URI: missing comma separator")
	}

	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		var err error
		data, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("fetch: invalid base64 data: %w", err)
			}
		}
	} else {
		s, err := url.PathUnescape(encoded)
		if err != nil {
			return nil, fmt.Errorf("fetch: invalid data URI: %w", err)
		}
		data = []byte(s)
	}
	if len(data) > MaxAssetSize {
		return nil, fmt.Errorf("fetch: file too large: exceeds %d bytes", MaxAssetSize)
	}
	return newAsset(data, ""), nil
}

// FilenameFromURL takes the last path segment of rawURL when it looks like
// a file name, and falls back to a random name with ext.
func FilenameFromURL(rawURL, ext string) string {
	if ext == "" {
		ext = ".bin"
	}
	if strings.HasPrefix(rawURL, "data:") {
		return uuid.New().String() + ext
	}
	if parsed, err := url.Parse(rawURL); err == nil {
		base := path.Base(parsed.Path)
		if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
			return SanitizeFilename(base)
		}
	}
	return uuid.New().String() + ext
}

// SanitizeFilename strips path separators and unsafe characters.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	name = safeFilenameRe.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "/" {
		name = uuid.New().String()
	}
	return name
}
