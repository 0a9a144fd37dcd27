package wechat

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/starford/inkwell/internal/capture"
	"github.com/starford/inkwell/internal/cssmerge"
	"github.com/starford/inkwell/internal/fetch"
)

// MinSVGUploadSize is the serialized length below which inline SVGs (icons)
// stay inline.
const MinSVGUploadSize = 10000

// MaterialAPI is the part of the client the uploader needs.
type MaterialAPI interface {
	UploadMaterial(ctx context.Context, account string, data []byte, filename, kind string) (*Material, error)
	GetMaterial(ctx context.Context, account, mediaID string) (*MaterialInfo, error)
}

// UploadStats counts what one Upload pass did.
type UploadStats struct {
	Uploaded int `json:"uploaded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Uploader moves an article's media onto the WeChat CDN.
type Uploader struct {
	api     MaterialAPI
	fetcher *fetch.Fetcher
	account string
	// Concurrency bounds the uploads in flight per media class.
	Concurrency int
	// UploadDataURLs also uploads images whose source is a data: URL.
	UploadDataURLs bool
	log            *slog.Logger
	now            func() time.Time
}

// NewUploader creates an Uploader for account.
func NewUploader(api MaterialAPI, f *fetch.Fetcher, account string, log *slog.Logger) *Uploader {
	if log == nil {
		log = slog.Default()
	}
	return &Uploader{api: api, fetcher: f, account: account, Concurrency: 4, log: log, now: time.Now}
}

type counters struct {
	uploaded, skipped, failed atomic.Int32
}

func (c *counters) stats() UploadStats {
	return UploadStats{Uploaded: int(c.uploaded.Load()), Skipped: int(c.skipped.Load()), Failed: int(c.failed.Load())}
}

// Upload replaces large inline SVGs, canvases, images and videos under
// root with CDN copies. from is the note the article was rendered from.
// Each media class is uploaded concurrently and settles fully before the
// next starts; a failed element keeps its original source.
func (u *Uploader) Upload(ctx context.Context, root *html.Node, from string) UploadStats {
	var c counters
	doc := goquery.NewDocumentFromNode(root)
	u.settle(ctx, "svg", doc.Find("svg").Nodes, &c, func(ctx context.Context, n *html.Node) (func(), error) {
		return u.uploadSVG(ctx, n)
	})
	u.settle(ctx, "canvas", doc.Find("canvas").Nodes, &c, func(ctx context.Context, n *html.Node) (func(), error) {
		return u.uploadCanvas(ctx, n)
	})
	u.settle(ctx, "image", doc.Find("img").Nodes, &c, func(ctx context.Context, n *html.Node) (func(), error) {
		return u.uploadImage(ctx, n, from)
	})
	u.settle(ctx, "video", doc.Find("video").Nodes, &c, func(ctx context.Context, n *html.Node) (func(), error) {
		return u.uploadVideo(ctx, n, from)
	})
	return c.stats()
}

var errSkip = fmt.Errorf("skip")

// settle runs fn for every node and waits for all of them. fn returns the
// tree mutation to apply; mutations run after the barrier so the tree is
// only touched from one goroutine.
func (u *Uploader) settle(ctx context.Context, class string, nodes []*html.Node, c *counters,
	fn func(context.Context, *html.Node) (func(), error)) {
	if len(nodes) == 0 {
		return
	}
	apply := make([]func(), len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(u.Concurrency, 1))
	for i, n := range nodes {
		g.Go(func() error {
			mutate, err := fn(gctx, n)
			switch {
			case err == errSkip:
				c.skipped.Add(1)
			case err != nil:
				c.failed.Add(1)
				u.log.Error("wechat: upload failed", slog.String("class", class), slog.String("error", err.Error()))
			default:
				c.uploaded.Add(1)
				apply[i] = mutate
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, m := range apply {
		if m != nil {
			m()
		}
	}
}

// filename names an upload image-<ms>.<ext> after the MIME subtype, then
// the source's extension, then png.
func (u *Uploader) filename(mime, src string) string {
	ext := ""
	if _, sub, ok := strings.Cut(mime, "/"); ok {
		ext = strings.TrimSuffix(sub, "+xml")
	}
	if ext == "" || ext == "octet-stream" {
		clean, _, _ := strings.Cut(src, "?")
		clean, _, _ = strings.Cut(clean, "#")
		ext = strings.TrimPrefix(strings.ToLower(path.Ext(clean)), ".")
	}
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("image-%d.%s", u.now().UnixMilli(), ext)
}

func (u *Uploader) uploadSVG(ctx context.Context, svg *html.Node) (func(), error) {
	if len(capture.OuterHTML(svg)) < MinSVGUploadSize {
		return nil, errSkip
	}
	w, h := capture.SVGSize(svg, nil)
	data, err := capture.RasterizeSVG(svg, w, h)
	if err != nil {
		return nil, err
	}
	m, err := u.api.UploadMaterial(ctx, u.account, data, u.filename("image/png", ""), KindImage)
	if err != nil {
		return nil, err
	}
	return func() { replaceWithImage(svg, m.URL) }, nil
}

// uploadCanvas uploads a canvas snapshot carried in its data-url attribute.
func (u *Uploader) uploadCanvas(ctx context.Context, canvas *html.Node) (func(), error) {
	src := attr(canvas, "data-url")
	if !strings.HasPrefix(src, "data:") {
		return nil, fmt.Errorf("canvas without snapshot")
	}
	a, err := fetch.DecodeDataURI(src)
	if err != nil {
		return nil, err
	}
	m, err := u.api.UploadMaterial(ctx, u.account, a.Data, u.filename(a.MIME, ""), KindImage)
	if err != nil {
		return nil, err
	}
	return func() { replaceWithImage(canvas, m.URL) }, nil
}

func (u *Uploader) skipSource(src string) bool {
	return src == "" || strings.Contains(src, "://"+CDNHost+"/") ||
		(!u.UploadDataURLs && strings.HasPrefix(src, "data:"))
}

func (u *Uploader) uploadImage(ctx context.Context, img *html.Node, from string) (func(), error) {
	src := attr(img, "src")
	if u.skipSource(src) {
		return nil, errSkip
	}
	a, err := u.fetcher.Fetch(ctx, src, from)
	if err != nil {
		return nil, err
	}
	data, mime, err := PrepareImage(a.Data, a.MIME)
	if err != nil {
		return nil, err
	}
	m, err := u.api.UploadMaterial(ctx, u.account, data, u.filename(mime, src), KindImage)
	if err != nil {
		return nil, err
	}
	if m.URL == "" {
		return nil, fmt.Errorf("upload of %s returned no url", src)
	}
	return func() { setAttr(img, "src", m.URL) }, nil
}

func (u *Uploader) uploadVideo(ctx context.Context, video *html.Node, from string) (func(), error) {
	src := attr(video, "src")
	if u.skipSource(src) {
		return nil, errSkip
	}
	a, err := u.fetcher.Fetch(ctx, src, from)
	if err != nil {
		return nil, err
	}
	m, err := u.api.UploadMaterial(ctx, u.account, a.Data, u.filename(a.MIME, src), KindVideo)
	if err != nil {
		return nil, err
	}
	info, err := u.api.GetMaterial(ctx, u.account, m.MediaID)
	if err != nil {
		return nil, err
	}
	return func() { setAttr(video, "src", info.DownURL) }, nil
}

// UploadCover uploads the cover image ref and returns its media id.
func (u *Uploader) UploadCover(ctx context.Context, ref, from string) (string, error) {
	a, err := u.fetcher.Fetch(ctx, ref, from)
	if err != nil {
		return "", err
	}
	data, mime, err := PrepareImage(a.Data, a.MIME)
	if err != nil {
		return "", err
	}
	ext := "png"
	if strings.Contains(mime, "jpeg") {
		ext = "jpg"
	}
	m, err := u.api.UploadMaterial(ctx, u.account, data, "banner-cover."+ext, KindImage)
	if err != nil {
		return "", err
	}
	return m.MediaID, nil
}

func replaceWithImage(n *html.Node, src string) {
	if n.Parent == nil {
		return
	}
	img := &html.Node{Type: html.ElementNode, Data: "img", DataAtom: atom.Img,
		Attr: []html.Attribute{{Key: "src", Val: src}}}
	n.Parent.InsertBefore(img, n)
	n.Parent.RemoveChild(n)
}

// ApplyCalloutTextColor pins callout body text to color, or to the
// article's paragraph colour when color is empty, so the WeChat editor's
// own callout styles cannot wash it out.
func ApplyCalloutTextColor(root *html.Node, color string) {
	doc := goquery.NewDocumentFromNode(root)
	if color == "" {
		if p := doc.Find("p").First(); p.Length() > 0 {
			color = cssmerge.Style(p.Get(0), "color")
		}
	}
	if color == "" {
		color = cssmerge.Style(root, "color")
	}
	if color == "" {
		color = "#333333"
	}
	doc.Find(".inkwell-callout .callout-text, .inkwell-callout .callout-content p, .inkwell-callout .callout-content li").
		Each(func(_ int, s *goquery.Selection) {
			n := s.Get(0)
			cssmerge.SetStyle(n, "color", color)
			cssmerge.SetStyle(n, "opacity", "1")
			cssmerge.SetStyle(n, "filter", "none")
		})
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
