package capture

import "context"

// Rect is a page-coordinate clip region.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Browser starts isolated browser sessions.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one browser tab. Implementations bound every call by ctx.
type Session interface {
	Navigate(ctx context.Context, url string) error
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// Click clicks the first visible element matching a CSS selector and
	// reports whether anything was clicked.
	Click(ctx context.Context, selector string) (bool, error)
	WaitFonts(ctx context.Context) error
	SetViewport(ctx context.Context, width, height int) error
	PageHeight(ctx context.Context) (int, error)
	Screenshot(ctx context.Context, clip Rect) ([]byte, error)
	FullScreenshot(ctx context.Context) ([]byte, error)
	Close()
}
