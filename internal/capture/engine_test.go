package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/cwygoda/scouter/internal/domain"
)

// fakeSession serves canned pages keyed by URL.
type fakeSession struct {
	mu       sync.Mutex
	pages    map[string]string
	heights  map[string]int
	navErr   map[string]error
	current  string
	clicks   []string
	clickOK  bool
	viewport [2]int
	strip    []byte
	closed   bool
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.navErr[url]; err != nil {
		return err
	}
	f.current = url
	return nil
}

func (f *fakeSession) HTML(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages[f.current], nil
}

func (f *fakeSession) Title(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "Title " + f.current, nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, selector)
	return f.clickOK, nil
}

func (f *fakeSession) WaitFonts(ctx context.Context) error { return nil }

func (f *fakeSession) SetViewport(ctx context.Context, width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewport = [2]int{width, height}
	return nil
}

func (f *fakeSession) PageHeight(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heights[f.current], nil
}

func (f *fakeSession) Screenshot(ctx context.Context, clip Rect) ([]byte, error) {
	if clip == colorStrip && f.strip != nil {
		return f.strip, nil
	}
	return []byte(fmt.Sprintf("clip %d,%d", clip.Y, clip.Height)), nil
}

func (f *fakeSession) FullScreenshot(ctx context.Context) ([]byte, error) {
	return []byte("full"), nil
}

func (f *fakeSession) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeBrowser struct {
	session *fakeSession
	err     error
}

func (b *fakeBrowser) NewSession(ctx context.Context) (Session, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.session, nil
}

// fakeAssets records uploads and can fail selected names.
type fakeAssets struct {
	mu      sync.Mutex
	names   []string
	failFor string
}

func (a *fakeAssets) Put(ctx context.Context, jobID, name string, data []byte, contentType string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failFor != "" && strings.Contains(name, a.failFor) {
		return "", errors.New("upload failed")
	}
	a.names = append(a.names, name)
	return "/assets/" + jobID + "/" + name, nil
}

func (a *fakeAssets) Open(ctx context.Context, jobID, name string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

func (a *fakeAssets) RemoveJob(ctx context.Context, jobID string) error { return nil }

type recordedEvent struct {
	step     domain.Step
	detail   string
	progress int
}

func recorder() (*[]recordedEvent, domain.EmitFunc) {
	var mu sync.Mutex
	events := &[]recordedEvent{}
	return events, func(step domain.Step, detail string, progress int) {
		mu.Lock()
		defer mu.Unlock()
		*events = append(*events, recordedEvent{step, detail, progress})
	}
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.SettleDelay = 0
	opts.ViewportSettle = 0
	opts.ClickSettle = 0
	return opts
}

const homeHTML = `<html><head><title>Home</title></head><body>
<header><nav>
  <a href="/">Home</a>
  <a href="/pricing">Pricing</a>
  <a href="/about#team">Team</a>
  <a href="https://other.example.org/x">Elsewhere</a>
  <a href="/docs">Docs</a>
  <a href="/docs">Docs again</a>
</nav></header>
<main><h1>Ship faster with Acme</h1><p>Acme builds the tools your team needs.</p></main>
<div class="cookie-banner"><button>Accept all</button></div>
</body></html>`

func newFakeSite() *fakeSession {
	return &fakeSession{
		pages: map[string]string{
			"https://acme.test":         homeHTML,
			"https://acme.test/pricing": `<html><body><p>Plans and pricing</p></body></html>`,
			"https://acme.test/docs":    `<html><body><p>Documentation</p></body></html>`,
		},
		heights: map[string]int{
			"https://acme.test":         3000,
			"https://acme.test/pricing": 1000,
			"https://acme.test/docs":    500,
		},
		navErr:  map[string]error{},
		clickOK: true,
	}
}

func TestEngine_Capture(t *testing.T) {
	site := newFakeSite()
	assets := &fakeAssets{}
	engine := NewEngine(&fakeBrowser{session: site}, assets, fastOptions())
	events, emit := recorder()

	out, err := engine.Capture(context.Background(), domain.CaptureParams{
		JobID:      "scout-1",
		URL:        "https://acme.test",
		BrandColor: "#2D4A22",
		Devices:    []string{"desktop", "mobile"},
	}, emit)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	if len(out.Pages) != 3 {
		t.Fatalf("Capture() pages = %d, want 3", len(out.Pages))
	}
	if out.Pages[1].URL != "https://acme.test/pricing" || out.Pages[2].URL != "https://acme.test/docs" {
		t.Errorf("interior pages = %s, %s", out.Pages[1].URL, out.Pages[2].URL)
	}
	if out.BrandColor != "#2D4A22" {
		t.Errorf("BrandColor = %q, want hint", out.BrandColor)
	}
	if !strings.Contains(out.TextContent, "Acme builds the tools") {
		t.Errorf("TextContent = %q", out.TextContent)
	}
	if !strings.Contains(out.ContentMarkdown, "Ship faster with Acme") {
		t.Errorf("ContentMarkdown = %q", out.ContentMarkdown)
	}
	if !site.closed {
		t.Error("session not closed")
	}

	// home: per viewport hero + full + 3 features (desktop 3000/900, mobile 3000/844)
	home := out.Pages[0]
	if got := len(home.Screenshots); got != 10 {
		t.Errorf("home screenshots = %d, want 10", got)
	}
	first := home.Screenshots[0]
	if first.Path != "/assets/scout-1/home-desktop-hero.png" || first.Type != domain.ShotHero || first.Width != 1440 {
		t.Errorf("first screenshot = %+v", first)
	}
	if full := home.Screenshots[1]; full.Type != domain.ShotFull || full.Height != 3000 {
		t.Errorf("full screenshot = %+v, want measured height 3000", full)
	}
	if got := home.Screenshots[4].Path; got != "/assets/scout-1/home-desktop-feature-3.png" {
		t.Errorf("feature path = %q", got)
	}
	if got := len(out.Pages[2].Screenshots); got != 4 {
		t.Errorf("docs screenshots = %d, want 4 (no features)", got)
	}
	if got := out.Pages[1].Screenshots[0].Path; got != "/assets/scout-1/page-1-desktop-hero.png" {
		t.Errorf("interior path = %q", got)
	}

	wantSteps := []domain.Step{
		domain.StepBrowser, domain.StepNavigate, domain.StepCookies, domain.StepText,
		domain.StepLinks, domain.StepCapture, domain.StepCapture, domain.StepCapture,
	}
	if len(*events) != len(wantSteps) {
		t.Fatalf("events = %+v, want %d", *events, len(wantSteps))
	}
	for i, step := range wantSteps {
		if (*events)[i].step != step {
			t.Errorf("event[%d].step = %q, want %q", i, (*events)[i].step, step)
		}
	}
	if ev := (*events)[6]; ev.progress != 40 || ev.detail != "Scouting page 2 of 3..." {
		t.Errorf("interior event = %+v", ev)
	}
	if ev := (*events)[7]; ev.progress != 53 {
		t.Errorf("second interior progress = %d, want 53", ev.progress)
	}
	if len(site.clicks) == 0 {
		t.Error("no interstitial click attempted")
	}
}

func TestEngine_HomeNavigationFails(t *testing.T) {
	site := newFakeSite()
	site.navErr["https://acme.test"] = errors.New("net::ERR_NAME_NOT_RESOLVED")
	engine := NewEngine(&fakeBrowser{session: site}, &fakeAssets{}, fastOptions())
	_, emit := recorder()

	_, err := engine.Capture(context.Background(), domain.CaptureParams{
		JobID: "scout-1", URL: "https://acme.test", Devices: []string{"desktop"},
	}, emit)
	if err == nil {
		t.Fatal("Capture() error = nil, want navigation error")
	}
	if !site.closed {
		t.Error("session not closed after failure")
	}
}

func TestEngine_InteriorFailureSkipped(t *testing.T) {
	site := newFakeSite()
	site.navErr["https://acme.test/pricing"] = errors.New("timeout")
	engine := NewEngine(&fakeBrowser{session: site}, &fakeAssets{}, fastOptions())
	_, emit := recorder()

	out, err := engine.Capture(context.Background(), domain.CaptureParams{
		JobID: "scout-1", URL: "https://acme.test", Devices: []string{"desktop"},
	}, emit)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if len(out.Pages) != 2 || out.Pages[1].URL != "https://acme.test/docs" {
		t.Errorf("pages = %+v, want home and docs", out.Pages)
	}
}

func TestEngine_BrowserLaunchFails(t *testing.T) {
	engine := NewEngine(&fakeBrowser{err: errors.New("no chrome")}, &fakeAssets{}, fastOptions())
	_, emit := recorder()

	_, err := engine.Capture(context.Background(), domain.CaptureParams{
		JobID: "scout-1", URL: "https://acme.test", Devices: []string{"desktop"},
	}, emit)
	if err == nil {
		t.Fatal("Capture() error = nil, want launch error")
	}
}

func TestEngine_UploadFailureDropsScreenshot(t *testing.T) {
	site := newFakeSite()
	engine := NewEngine(&fakeBrowser{session: site}, &fakeAssets{failFor: "home-desktop-full"}, fastOptions())
	_, emit := recorder()

	out, err := engine.Capture(context.Background(), domain.CaptureParams{
		JobID: "scout-1", URL: "https://acme.test", Devices: []string{"desktop"},
	}, emit)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	for _, s := range out.Pages[0].Screenshots {
		if s.Type == domain.ShotFull {
			t.Errorf("full screenshot recorded despite failed upload: %+v", s)
		}
	}
	if got := len(out.Pages[0].Screenshots); got != 4 {
		t.Errorf("home screenshots = %d, want 4", got)
	}
}

func TestEngine_AutoDetectColor(t *testing.T) {
	site := newFakeSite()
	site.strip = solidPNG(t, color.RGBA{R: 200, G: 30, B: 60, A: 255})
	engine := NewEngine(&fakeBrowser{session: site}, &fakeAssets{}, fastOptions())
	events, emit := recorder()

	out, err := engine.Capture(context.Background(), domain.CaptureParams{
		JobID: "scout-1", URL: "https://acme.test", Devices: []string{"desktop"},
		BrandColor: "#2D4A22", AutoDetectColor: true,
	}, emit)
	if err != nil {
		t.Fatalf("Capture() error = %v", err)
	}
	if out.BrandColor != "#c81838" {
		t.Errorf("BrandColor = %q, want %q", out.BrandColor, "#c81838")
	}
	found := false
	for _, ev := range *events {
		if ev.step == domain.StepColor && ev.progress == 28 {
			found = true
		}
	}
	if !found {
		t.Error("color event not emitted")
	}
}

func TestFeatureOffsets(t *testing.T) {
	tests := []struct {
		pageHeight, vh int
		want           []int
	}{
		{3000, 900, []int{900, 1800, 2100}},
		{1000, 900, []int{100}},
		{500, 900, []int{}},
		{10000, 844, []int{844, 1688, 2532}},
		{900, 900, []int{0}},
	}
	for _, tt := range tests {
		got := featureOffsets(tt.pageHeight, tt.vh)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("featureOffsets(%d, %d) = %v, want %v", tt.pageHeight, tt.vh, got, tt.want)
		}
	}
}

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error = %v", err)
	}
	return buf.Bytes()
}

func rgba(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
