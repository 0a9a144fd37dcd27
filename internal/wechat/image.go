package wechat

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	_ "image/gif"

	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxImageWidth is the widest image uploaded as-is; the article column is
// narrower than this on every client.
const MaxImageWidth = 1080

// PrepareImage re-encodes images the material endpoint rejects or that are
// wider than MaxImageWidth. WebP and BMP become PNG; oversized JPEGs stay
// JPEG. Other inputs are returned unchanged along with their MIME type.
func PrepareImage(data []byte, mime string) ([]byte, string, error) {
	needsConvert := strings.Contains(mime, "webp") || strings.Contains(mime, "bmp")
	if strings.Contains(mime, "svg") || strings.Contains(mime, "gif") {
		return data, mime, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if needsConvert {
			return nil, "", fmt.Errorf("wechat: decode %s: %w", mime, err)
		}
		return data, mime, nil
	}
	if !needsConvert && cfg.Width <= MaxImageWidth {
		return data, mime, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("wechat: decode %s: %w", mime, err)
	}
	if b := img.Bounds(); b.Dx() > MaxImageWidth {
		h := int(math.Round(float64(b.Dy()) * float64(MaxImageWidth) / float64(b.Dx())))
		if h < 1 {
			h = 1
		}
		img = resize(img, MaxImageWidth, h)
	}

	var buf bytes.Buffer
	if strings.Contains(mime, "jpeg") {
		if err := jpeg.Encode(&buf, flattenAlpha(img), &jpeg.Options{Quality: 90}); err != nil {
			return nil, "", fmt.Errorf("wechat: encode jpeg: %w", err)
		}
		return buf.Bytes(), "image/jpeg", nil
	}
	if err := png.Encode(&buf, img); err != nil {
		return nil, "", fmt.Errorf("wechat: encode png: %w", err)
	}
	return buf.Bytes(), "image/png", nil
}

func resize(src image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}

// flattenAlpha composites src onto white for formats without alpha.
func flattenAlpha(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}
