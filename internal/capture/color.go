package capture

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// dominantColor returns the center of the most populated cell of a
// 16x16x16 RGB histogram.
func dominantColor(img image.Image) (r, g, b uint8) {
	var bins [4096]int
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			cr, cg, cb, _ := img.At(x, y).RGBA()
			bins[(cr>>12)<<8|(cg>>12)<<4|cb>>12]++
		}
	}

	best := 0
	for i, n := range bins {
		if n > bins[best] {
			best = i
		}
	}
	return uint8(best>>8)<<4 | 8, uint8(best>>4&0xf)<<4 | 8, uint8(best&0xf)<<4 | 8
}

func diff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// usableBrandColor rejects near-gray, near-white and near-black colors.
func usableBrandColor(r, g, b uint8) bool {
	gray := diff(r, g) < 30 && diff(g, b) < 30 && diff(r, b) < 30
	white := r > 230 && g > 230 && b > 230
	black := r < 25 && g < 25 && b < 25
	return !gray && !white && !black
}

// DetectBrandColor picks the dominant color of a PNG strip as #rrggbb, or
// returns fallback when the image is unreadable or the color is neutral.
func DetectBrandColor(strip []byte, fallback string) string {
	img, err := imaging.Decode(bytes.NewReader(strip))
	if err != nil {
		return fallback
	}
	r, g, b := dominantColor(img)
	if !usableBrandColor(r, g, b) {
		return fallback
	}
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}
