package capture

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// ChromeOptions configures the local Chrome launcher.
type ChromeOptions struct {
	ExecPath  string
	UserAgent string
}

// Chrome launches a fresh headless Chrome per session.
type Chrome struct {
	opts ChromeOptions
}

// NewChrome creates a Chrome launcher.
func NewChrome(opts ChromeOptions) *Chrome {
	return &Chrome{opts: opts}
}

// NewSession starts a browser process and opens one tab in it.
func (c *Chrome) NewSession(ctx context.Context) (Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if c.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.opts.ExecPath))
	}
	if c.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromeSession{ctx: browserCtx, cancel: func() {
		browserCancel()
		allocCancel()
	}}

	// The first Run launches Chrome bound to the context it is given, so it
	// runs on the browser context itself. Cancelling ctx aborts the launch.
	stop := context.AfterFunc(ctx, s.cancel)
	err := chromedp.Run(browserCtx)
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return s, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the started tab, bounded by the caller's deadline
// and cancellation. It must not be used to launch the browser.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (s *chromeSession) Title(ctx context.Context) (string, error) {
	var title string
	err := s.run(ctx, chromedp.Title(&title))
	return title, err
}

const clickScript = `(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	const r = el.getBoundingClientRect();
	if (r.width === 0 && r.height === 0) return false;
	el.click();
	return true;
})()`

func (s *chromeSession) Click(ctx context.Context, selector string) (bool, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return false, err
	}
	var clicked bool
	err = s.run(ctx, chromedp.Evaluate(fmt.Sprintf(clickScript, quoted), &clicked))
	return clicked, err
}

func (s *chromeSession) WaitFonts(ctx context.Context) error {
	var ready bool
	return s.run(ctx, chromedp.Evaluate(`document.fonts.ready.then(() => true)`, &ready,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
}

func (s *chromeSession) SetViewport(ctx context.Context, width, height int) error {
	return s.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (s *chromeSession) PageHeight(ctx context.Context) (int, error) {
	var height int
	err := s.run(ctx, chromedp.Evaluate(`document.body.scrollHeight`, &height))
	return height, err
}

func (s *chromeSession) Screenshot(ctx context.Context, clip Rect) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{
				X:      float64(clip.X),
				Y:      float64(clip.Y),
				Width:  float64(clip.Width),
				Height: float64(clip.Height),
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	return buf, err
}

func (s *chromeSession) FullScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := s.run(ctx, chromedp.FullScreenshot(&buf, 100))
	return buf, err
}

func (s *chromeSession) Close() {
	s.cancel()
}
