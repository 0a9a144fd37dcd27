package capture

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/JohannesKaufmann/dom"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	"golang.org/x/net/html"
)

// Fallback size used when an SVG carries no usable dimensions.
const (
	FallbackWidth  = 800
	FallbackHeight = 400
)

// SVGSize computes the pixel size of svg: live bounding box when a
// measurer is given, then viewBox, then width/height attributes, then
// FallbackWidth x FallbackHeight.
func SVGSize(svg *html.Node, m Measurer) (int, int) {
	if m != nil {
		if w, h, ok := m.BoundingBox(svg); ok && w > 0 && h > 0 {
			return int(math.Ceil(w)), int(math.Ceil(h))
		}
	}
	if vb := strings.Fields(strings.ReplaceAll(dom.GetAttributeOr(svg, "viewBox", ""), ",", " ")); len(vb) == 4 {
		w, errW := strconv.ParseFloat(vb[2], 64)
		h, errH := strconv.ParseFloat(vb[3], 64)
		if errW == nil && errH == nil && w > 0 && h > 0 {
			return int(math.Ceil(w)), int(math.Ceil(h))
		}
	}
	w := parseLength(dom.GetAttributeOr(svg, "width", ""))
	h := parseLength(dom.GetAttributeOr(svg, "height", ""))
	if w > 0 && h > 0 {
		return int(math.Ceil(w)), int(math.Ceil(h))
	}
	return FallbackWidth, FallbackHeight
}

// parseLength reads "120", "120px" or "120.5"; percentages and other
// units yield 0.
func parseLength(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
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

// RasterizeSVG draws svg at width x height and returns PNG bytes.
func RasterizeSVG(svg *html.Node, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("capture: empty svg size")
	}
	n := Clone(svg)
	setAttr(n, "xmlns", "http://www.w3.org/2000/svg")
	setAttr(n, "width", strconv.Itoa(width))
	setAttr(n, "height", strconv.Itoa(height))

	icon, err := oksvg.ReadIconStream(strings.NewReader(OuterHTML(n)), oksvg.IgnoreErrorMode)
	if err != nil {
		return nil, fmt.Errorf("capture: parse svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("capture: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// SVGToPNGDataURL sizes and rasterises svg into a data:image/png URL.
func SVGToPNGDataURL(svg *html.Node, m Measurer) (string, int, int, error) {
	w, h := SVGSize(svg, m)
	data, err := RasterizeSVG(svg, w, h)
	if err != nil {
		return "", 0, 0, err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), w, h, nil
}
