package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cwygoda/scouter/internal/domain"
)

// Options tunes browser timing.
type Options struct {
	NavigationTimeout time.Duration
	ActionTimeout     time.Duration
	SettleDelay       time.Duration
	ViewportSettle    time.Duration
	ClickSettle       time.Duration
	MaxInteriorPages  int
}

// DefaultOptions returns the standard capture timings.
func DefaultOptions() Options {
	return Options{
		NavigationTimeout: 30 * time.Second,
		ActionTimeout:     15 * time.Second,
		SettleDelay:       2 * time.Second,
		ViewportSettle:    1500 * time.Millisecond,
		ClickSettle:       500 * time.Millisecond,
		MaxInteriorPages:  5,
	}
}

// Engine implements domain.CaptureEngine.
type Engine struct {
	browser Browser
	assets  domain.AssetStore
	rules   []Rule
	opts    Options
	logger  *slog.Logger
}

// NewEngine creates a capture engine storing screenshots in assets.
func NewEngine(browser Browser, assets domain.AssetStore, opts Options) *Engine {
	return &Engine{
		browser: browser,
		assets:  assets,
		rules:   DefaultRules(),
		opts:    opts,
		logger:  slog.Default(),
	}
}

// WithLogger replaces the engine logger.
func (e *Engine) WithLogger(l *slog.Logger) *Engine {
	e.logger = l
	return e
}

// WithRules replaces the interstitial rule list.
func (e *Engine) WithRules(rules []Rule) *Engine {
	e.rules = rules
	return e
}

// Capture scouts the home page and up to MaxInteriorPages navigation links.
// Only a home page failure is returned as an error.
func (e *Engine) Capture(ctx context.Context, p domain.CaptureParams, emit domain.EmitFunc) (*domain.CaptureOutput, error) {
	u, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	host := u.Hostname()
	log := e.logger.With("job", p.JobID)

	emit(domain.StepBrowser, "Launching scout browser...", 10)
	session, err := e.browser.NewSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer session.Close()

	emit(domain.StepNavigate, fmt.Sprintf("Navigating to %s...", host), 15)
	if err := e.navigate(ctx, session, p.URL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", p.URL, err)
	}

	emit(domain.StepCookies, "Dismissing cookie banners...", 20)
	if err := e.settle(ctx, session); err != nil {
		return nil, err
	}

	emit(domain.StepText, "Reading site content...", 25)
	doc, pageHTML, err := e.snapshot(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	text := ExtractText(doc)
	markdown, err := Markdown(pageHTML, host)
	if err != nil {
		log.Warn("markdown conversion failed", "url", p.URL, "error", err)
	}
	title := e.title(ctx, session)

	brand := p.BrandColor
	if p.AutoDetectColor {
		emit(domain.StepColor, "Detecting brand color...", 28)
		brand = e.detectColor(ctx, session, brand)
	}

	emit(domain.StepLinks, "Discovering pages...", 30)
	links := DiscoverLinks(doc, p.URL)

	emit(domain.StepCapture, "Capturing homepage...", 35)
	home, err := e.capturePage(ctx, session, p, p.URL, title, "home")
	if err != nil {
		return nil, fmt.Errorf("capture home page: %w", err)
	}
	pages := []domain.PageCapture{*home}

	total := min(len(links), e.opts.MaxInteriorPages)
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			log.Warn("interior pages skipped", "remaining", total-i, "error", ctx.Err())
			break
		}
		pct := 40 + int(math.Round(float64(i)/float64(total)*25))
		emit(domain.StepCapture, fmt.Sprintf("Scouting page %d of %d...", i+2, total+1), pct)

		page, err := e.interior(ctx, session, p, links[i], fmt.Sprintf("page-%d", i+1))
		if err != nil {
			log.Info("skipped page", "url", links[i], "error", err)
			continue
		}
		pages = append(pages, *page)
	}

	return &domain.CaptureOutput{
		Pages:           pages,
		TextContent:     text,
		ContentMarkdown: markdown,
		BrandColor:      brand,
	}, nil
}

func (e *Engine) interior(ctx context.Context, s Session, p domain.CaptureParams, link, prefix string) (*domain.PageCapture, error) {
	if err := e.navigate(ctx, s, link); err != nil {
		return nil, err
	}
	if err := e.settle(ctx, s); err != nil {
		return nil, err
	}
	return e.capturePage(ctx, s, p, link, e.title(ctx, s), prefix)
}

func (e *Engine) navigate(ctx context.Context, s Session, target string) error {
	return withTimeout(ctx, e.opts.NavigationTimeout, func(ctx context.Context) error {
		return s.Navigate(ctx, target)
	})
}

// settle dismisses interstitials and waits for fonts and late layout.
func (e *Engine) settle(ctx context.Context, s Session) error {
	if doc, _, err := e.snapshot(ctx, s); err == nil {
		var rule string
		err := e.within(ctx, func(ctx context.Context) error {
			var err error
			rule, err = Dismiss(ctx, doc, e.rules, s)
			return err
		})
		if err == nil && rule != "" {
			e.logger.Debug("dismissed interstitial", "rule", rule)
			if err := sleep(ctx, e.opts.ClickSettle); err != nil {
				return err
			}
		}
	}

	if err := e.within(ctx, s.WaitFonts); err != nil {
		e.logger.Debug("fonts not ready", "error", err)
	}
	return sleep(ctx, e.opts.SettleDelay)
}

func (e *Engine) snapshot(ctx context.Context, s Session) (*goquery.Document, string, error) {
	var pageHTML string
	err := e.within(ctx, func(ctx context.Context) error {
		var err error
		pageHTML, err = s.HTML(ctx)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return nil, "", err
	}
	return doc, pageHTML, nil
}

func (e *Engine) title(ctx context.Context, s Session) string {
	var title string
	err := e.within(ctx, func(ctx context.Context) error {
		var err error
		title, err = s.Title(ctx)
		return err
	})
	if err != nil {
		return ""
	}
	return title
}

func (e *Engine) detectColor(ctx context.Context, s Session, fallback string) string {
	desktop := viewports[domain.ViewportDesktop]
	var strip []byte
	err := e.within(ctx, func(ctx context.Context) error {
		if err := s.SetViewport(ctx, desktop.Width, desktop.Height); err != nil {
			return err
		}
		var err error
		strip, err = s.Screenshot(ctx, colorStrip)
		return err
	})
	if err != nil {
		return fallback
	}
	return DetectBrandColor(strip, fallback)
}

// capturePage takes hero, full and feature shots for every requested
// viewport. A failed upload drops only that screenshot.
func (e *Engine) capturePage(ctx context.Context, s Session, p domain.CaptureParams, pageURL, title, prefix string) (*domain.PageCapture, error) {
	page := &domain.PageCapture{URL: pageURL, Title: title, Screenshots: []domain.Screenshot{}}

	for _, device := range p.Devices {
		vp, ok := LookupViewport(device)
		if !ok {
			continue
		}
		shots, err := e.captureViewport(ctx, s, p.JobID, prefix, vp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", device, err)
		}
		page.Screenshots = append(page.Screenshots, shots...)
	}
	return page, nil
}

func (e *Engine) captureViewport(ctx context.Context, s Session, jobID, prefix string, vp Viewport) ([]domain.Screenshot, error) {
	err := e.within(ctx, func(ctx context.Context) error {
		return s.SetViewport(ctx, vp.Width, vp.Height)
	})
	if err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := sleep(ctx, e.opts.ViewportSettle); err != nil {
		return nil, err
	}

	var shots []domain.Screenshot
	store := func(data []byte, name string, height int, kind domain.ScreenshotType) {
		loc, err := e.assets.Put(ctx, jobID, name, data, "image/png")
		if err != nil {
			e.logger.Warn("screenshot upload failed", "job", jobID, "name", name, "error", err)
			return
		}
		shots = append(shots, domain.Screenshot{
			Path:     loc,
			Viewport: vp.Name,
			Width:    vp.Width,
			Height:   height,
			Type:     kind,
		})
	}
	shoot := func(clip *Rect) ([]byte, error) {
		var data []byte
		err := e.within(ctx, func(ctx context.Context) error {
			var err error
			if clip == nil {
				data, err = s.FullScreenshot(ctx)
			} else {
				data, err = s.Screenshot(ctx, *clip)
			}
			return err
		})
		return data, err
	}

	hero, err := shoot(&Rect{Width: vp.Width, Height: vp.Height})
	if err != nil {
		return nil, fmt.Errorf("hero screenshot: %w", err)
	}
	store(hero, fmt.Sprintf("%s-%s-hero.png", prefix, vp.Name), vp.Height, domain.ShotHero)

	var pageHeight int
	err = e.within(ctx, func(ctx context.Context) error {
		var err error
		pageHeight, err = s.PageHeight(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("page height: %w", err)
	}

	full, err := shoot(nil)
	if err != nil {
		return nil, fmt.Errorf("full screenshot: %w", err)
	}
	store(full, fmt.Sprintf("%s-%s-full.png", prefix, vp.Name), pageHeight, domain.ShotFull)

	for i, y := range featureOffsets(pageHeight, vp.Height) {
		feature, err := shoot(&Rect{Y: y, Width: vp.Width, Height: vp.Height})
		if err != nil {
			return nil, fmt.Errorf("feature screenshot: %w", err)
		}
		store(feature, fmt.Sprintf("%s-%s-feature-%d.png", prefix, vp.Name, i+1), vp.Height, domain.ShotFeature)
	}
	return shots, nil
}

// within runs fn under the per-action timeout.
func (e *Engine) within(ctx context.Context, fn func(context.Context) error) error {
	return withTimeout(ctx, e.opts.ActionTimeout, fn)
}

func withTimeout(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(tctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
