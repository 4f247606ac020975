// Package compositor renders raw screenshots into mockups, collages and
// social crops.
package compositor

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

var (
	gray200 = rgb(0xE5E7EB)
	gray100 = rgb(0xF3F4F6)
	gray300 = rgb(0xD1D5DB)
	gray400 = rgb(0x9CA3AF)
	gray500 = rgb(0x6B7280)
	gray700 = rgb(0x374151)
	gray800 = rgb(0x1F2937)
	black   = rgb(0x000000)
	white   = rgb(0xFFFFFF)

	lightRed    = rgb(0xFF5F56)
	lightYellow = rgb(0xFFBD2E)
	lightGreen  = rgb(0x27C93F)
)

func canvas(w, h int, bg color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	if bg != nil {
		draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	}
	return img
}

// Hero places src on a brand-tinted background with rounded corners and a
// soft drop shadow.
func Hero(src image.Image, brand color.NRGBA) *image.NRGBA {
	const (
		padding = 60
		radius  = 12
		shadowY = 4
		sigma   = 16
	)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	bgW, bgH := w+2*padding, h+2*padding
	out := canvas(bgW, bgH, tint(brand, 0.08))

	shadow := canvas(bgW, bgH, nil)
	fillRoundedRect(shadow, image.Rect(padding, padding+shadowY, padding+w, padding+shadowY+h), radius,
		tint(black, 0.12))
	draw.Draw(out, out.Bounds(), imaging.Blur(shadow, sigma), image.Point{}, draw.Over)

	fillRoundedRect(out, image.Rect(padding, padding, padding+w, padding+h), radius, white)
	pasteRounded(out, src, image.Pt(padding, padding), radius)
	return out
}

// BrowserChrome frames src in a desktop browser window.
func BrowserChrome(src image.Image) *image.NRGBA {
	const (
		chromeH = 40
		pad     = 2
	)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	frameW, frameH := w+2*pad, h+chromeH+2*pad
	out := canvas(frameW, frameH, nil)

	fillRoundedRect(out, out.Bounds(), 10, gray200)
	fillRoundedRect(out, image.Rect(0, 0, frameW, chromeH), 10, gray100)
	fillRect(out, image.Rect(0, 20, frameW, chromeH), gray100)

	fillCircle(out, 20, 20, 6, lightRed)
	fillCircle(out, 40, 20, 6, lightYellow)
	fillCircle(out, 60, 20, 6, lightGreen)

	if urlW := frameW - 160; urlW > 0 {
		fillRoundedRect(out, image.Rect(80, 10, 80+urlW, 30), 4, gray200)
	}
	fillRect(out, image.Rect(pad, chromeH, pad+w, chromeH+h), black)
	draw.Draw(out, image.Rect(pad, chromeH, pad+w, chromeH+h), src, src.Bounds().Min, draw.Over)
	return out
}

// Laptop frames src in a laptop lid and base.
func Laptop(src image.Image) *image.NRGBA {
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	frameW, frameH := w+80, h+120
	out := canvas(frameW, frameH, nil)

	fillRoundedRect(out, image.Rect(0, 0, frameW, h+50), 16, gray200)
	fillRoundedRect(out, image.Rect(20, 20, w+60, h+30), 4, gray800)
	fillRoundedRect(out, image.Rect(40, 30, 40+w, 30+h), 2, black)
	// The base flares outward past the canvas edges, so it fills the full width.
	fillRect(out, image.Rect(0, h+50, frameW, frameH), gray300)
	fillRoundedRect(out, image.Rect(frameW/2-60, h+55, frameW/2+60, h+59), 2, gray400)

	draw.Draw(out, image.Rect(40, 30, 40+w, 30+h), src, src.Bounds().Min, draw.Over)
	return out
}

// Phone fits src to a 390x844 screen inside a handset frame.
func Phone(src image.Image) *image.NRGBA {
	const screenW, screenH = 390, 844
	frameW, frameH := screenW+40, screenH+80
	out := canvas(frameW, frameH, nil)

	fillRoundedRect(out, out.Bounds(), 36, gray800)
	fillRoundedRect(out, image.Rect(4, 4, frameW-4, frameH-4), 34, gray700)
	fillRoundedRect(out, image.Rect(20, 40, 20+screenW, 40+screenH), 4, black)
	fillRoundedRect(out, image.Rect(frameW/2-40, 12, frameW/2+40, 32), 10, gray800)

	screen := imaging.Fill(src, screenW, screenH, imaging.Center, imaging.Lanczos)
	draw.Draw(out, image.Rect(20, 40, 20+screenW, 40+screenH), screen, image.Point{}, draw.Over)
	return out
}

// Tablet fits src to a 768x1024 screen inside a tablet frame.
func Tablet(src image.Image) *image.NRGBA {
	const screenW, screenH = 768, 1024
	frameW, frameH := screenW+60, screenH+80
	out := canvas(frameW, frameH, nil)

	fillRoundedRect(out, out.Bounds(), 24, gray700)
	fillRoundedRect(out, image.Rect(30, 40, 30+screenW, 40+screenH), 4, black)
	fillCircle(out, float64(frameW)/2, 20, 4, gray500)

	screen := imaging.Fill(src, screenW, screenH, imaging.Center, imaging.Lanczos)
	draw.Draw(out, image.Rect(30, 40, 30+screenW, 40+screenH), screen, image.Point{}, draw.Over)
	return out
}

// Collage lays out up to gridSize images in rows of at most three cells.
func Collage(srcs []image.Image, gridSize int, brand color.NRGBA) *image.NRGBA {
	const (
		cellW, cellH = 480, 300
		gap          = 20
		padding      = 40
		radius       = 12
	)
	n := min(len(srcs), gridSize)
	cols := gridSize
	if gridSize > 3 {
		cols = 3
	}
	rows := int(math.Ceil(float64(n) / float64(cols)))

	totalW := cols*cellW + (cols-1)*gap + 2*padding
	totalH := rows*cellH + max(rows-1, 0)*gap + 2*padding
	out := canvas(totalW, totalH, tint(brand, 0.05))

	for i := 0; i < n; i++ {
		col, row := i%cols, i/cols
		cell := imaging.Fill(srcs[i], cellW, cellH, imaging.Center, imaging.Lanczos)
		pasteRounded(out, cell, image.Pt(padding+col*(cellW+gap), padding+row*(cellH+gap)), radius)
	}
	return out
}

// SocialSize is a named social card size.
type SocialSize struct {
	Platform      string
	Width, Height int
}

// SocialSizes lists the generated social crops in output order.
var SocialSizes = []SocialSize{
	{"twitter", 1200, 675},
	{"linkedin", 1200, 627},
	{"dribbble", 1600, 1200},
	{"producthunt", 1270, 760},
}

// Social crops src to size keeping the top of the page.
func Social(src image.Image, size SocialSize) *image.NRGBA {
	return imaging.Fill(src, size.Width, size.Height, imaging.Top, imaging.Lanczos)
}
