package compositor

import (
	"image/color"
	"regexp"
	"strconv"
)

var hexColor = regexp.MustCompile(`(?i)^#?([a-f\d]{2})([a-f\d]{2})([a-f\d]{2})$`)

// fallbackRGB is used for brand colors that do not parse.
var fallbackRGB = color.NRGBA{R: 45, G: 74, B: 34, A: 255}

// parseHex parses #rrggbb, or returns the fallback brand color.
func parseHex(hex string) color.NRGBA {
	m := hexColor.FindStringSubmatch(hex)
	if m == nil {
		return fallbackRGB
	}
	r, _ := strconv.ParseUint(m[1], 16, 8)
	g, _ := strconv.ParseUint(m[2], 16, 8)
	b, _ := strconv.ParseUint(m[3], 16, 8)
	return color.NRGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255}
}

// tint returns c at the given opacity.
func tint(c color.NRGBA, opacity float64) color.NRGBA {
	c.A = uint8(opacity*255 + 0.5)
	return c
}

func rgb(hex uint32) color.NRGBA {
	return color.NRGBA{R: uint8(hex >> 16), G: uint8(hex >> 8), B: uint8(hex), A: 255}
}
