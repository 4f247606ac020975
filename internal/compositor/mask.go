package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// roundedRectMask returns an anti-aliased alpha mask of a w x h rectangle
// with corner radius r.
func roundedRectMask(w, h int, r float64) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	r = math.Max(0, math.Min(r, math.Min(float64(w), float64(h))/2))
	for y := 0; y < h; y++ {
		py := float64(y) + 0.5
		cy := clamp(py, r, float64(h)-r)
		for x := 0; x < w; x++ {
			px := float64(x) + 0.5
			cx := clamp(px, r, float64(w)-r)
			d := math.Hypot(px-cx, py-cy)
			m.SetAlpha(x, y, color.Alpha{A: coverage(r - d)})
		}
	}
	return m
}

// circleMask returns an anti-aliased disc of radius r centered in a square.
func circleMask(r float64) *image.Alpha {
	size := int(math.Ceil(2 * r))
	m := image.NewAlpha(image.Rect(0, 0, size, size))
	c := float64(size) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			d := math.Hypot(float64(x)+0.5-c, float64(y)+0.5-c)
			m.SetAlpha(x, y, color.Alpha{A: coverage(r - d)})
		}
	}
	return m
}

// coverage maps a signed distance inside an edge to an alpha value.
func coverage(inside float64) uint8 {
	return uint8(math.Round(clamp(inside+0.5, 0, 1) * 255))
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return (lo + hi) / 2
	}
	return math.Max(lo, math.Min(v, hi))
}

// fillRoundedRect paints c over dst inside rect with corner radius r.
func fillRoundedRect(dst draw.Image, rect image.Rectangle, r float64, c color.Color) {
	mask := roundedRectMask(rect.Dx(), rect.Dy(), r)
	draw.DrawMask(dst, rect, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// fillRect paints c over dst inside rect.
func fillRect(dst draw.Image, rect image.Rectangle, c color.Color) {
	draw.Draw(dst, rect, image.NewUniform(c), image.Point{}, draw.Over)
}

// fillCircle paints a disc of radius r centered at (cx, cy).
func fillCircle(dst draw.Image, cx, cy, r float64, c color.Color) {
	mask := circleMask(r)
	size := mask.Bounds().Dx()
	origin := image.Pt(int(math.Round(cx-float64(size)/2)), int(math.Round(cy-float64(size)/2)))
	rect := image.Rectangle{Min: origin, Max: origin.Add(image.Pt(size, size))}
	draw.DrawMask(dst, rect, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

// pasteRounded draws src at pt clipped to a rounded rectangle.
func pasteRounded(dst draw.Image, src image.Image, pt image.Point, r float64) {
	b := src.Bounds()
	mask := roundedRectMask(b.Dx(), b.Dy(), r)
	draw.DrawMask(dst, image.Rectangle{Min: pt, Max: pt.Add(b.Size())}, src, b.Min, mask, image.Point{}, draw.Over)
}
