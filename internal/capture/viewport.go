// Package capture drives a headless browser over a site and stores raw
// screenshots per page and viewport.
package capture

import "github.com/cwygoda/scouter/internal/domain"

// Viewport is a named browser window size.
type Viewport struct {
	Name   string
	Width  int
	Height int
}

var viewports = map[string]Viewport{
	domain.ViewportDesktop: {domain.ViewportDesktop, 1440, 900},
	domain.ViewportTablet:  {domain.ViewportTablet, 768, 1024},
	domain.ViewportMobile:  {domain.ViewportMobile, 390, 844},
}

// LookupViewport returns the size for a viewport name.
func LookupViewport(name string) (Viewport, bool) {
	v, ok := viewports[name]
	return v, ok
}

// colorStrip is the region sampled for brand color detection.
var colorStrip = Rect{X: 0, Y: 0, Width: 1440, Height: 200}

// featureOffsets returns the scroll offsets of up to three feature sections.
func featureOffsets(pageHeight, viewportHeight int) []int {
	if viewportHeight <= 0 {
		return nil
	}
	sections := min(3, pageHeight/viewportHeight)
	offsets := make([]int, 0, sections)
	for s := 1; s <= sections; s++ {
		y := min(viewportHeight*s, pageHeight-viewportHeight)
		offsets = append(offsets, max(y, 0))
	}
	return offsets
}
