package http

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cwygoda/scouter/internal/adapter/fetch"
	"github.com/cwygoda/scouter/internal/adapter/sqlite"
	"github.com/cwygoda/scouter/internal/adapter/storage"
	"github.com/cwygoda/scouter/internal/bundle"
	"github.com/cwygoda/scouter/internal/domain"
	"github.com/cwygoda/scouter/internal/progress"
)

// fakeEngine stores one hero screenshot per request.
type fakeEngine struct {
	assets domain.AssetStore
	err    error
}

func (f *fakeEngine) Capture(ctx context.Context, p domain.CaptureParams, emit domain.EmitFunc) (*domain.CaptureOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	emit(domain.StepCapture, "Capturing...", 35)
	url, err := f.assets.Put(ctx, p.JobID, "home-desktop-hero.png", []byte("hero"), "image/png")
	if err != nil {
		return nil, err
	}
	return &domain.CaptureOutput{
		Pages: []domain.PageCapture{{
			URL:   p.URL,
			Title: "Example",
			Screenshots: []domain.Screenshot{
				{Path: url, Viewport: domain.ViewportDesktop, Width: 1440, Height: 900, Type: domain.ShotHero},
			},
		}},
		TextContent: "Example product text",
	}, nil
}

// fakeCompositor blocks until release is closed when set.
type fakeCompositor struct {
	assets  domain.AssetStore
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeCompositor) Enhance(ctx context.Context, p domain.EnhanceParams, emit domain.EmitFunc) domain.EnhanceOutput {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		close(f.started)
		<-f.release
	}
	url, err := f.assets.Put(ctx, p.JobID, "hero-1-enhanced.png", []byte("enhanced"), "image/png")
	if err != nil {
		return domain.EnhanceOutput{}
	}
	emit(domain.StepDone, "All assets ready!", 100)
	return domain.EnhanceOutput{
		Assets:  []domain.EnhancedAsset{{Path: url, Type: domain.CategoryMockup}},
		Success: true,
	}
}

type fakeCopy struct{}

func (fakeCopy) Generate(ctx context.Context, in domain.CopyInput) domain.CopyResult {
	d := in.Domain
	if d == "" {
		d = "this product"
	}
	return domain.CopyResult{Pitch: "Discover what " + d + " has to offer.", Blurbs: []string{"a", "b", "c"}}
}

type testEnv struct {
	srv        *Server
	repo       *sqlite.Repository
	bus        *progress.Memory
	store      *storage.Local
	engine     *fakeEngine
	compositor *fakeCompositor
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	repo, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	store, err := storage.NewLocal(filepath.Join(dir, "assets"), "")
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	bus := progress.NewMemory()
	engine := &fakeEngine{assets: store}
	comp := &fakeCompositor{assets: store}
	registry := fetch.NewRegistry(fetch.NewStoreResolver(store))

	svc := domain.NewJobService(repo, bus, domain.Pipeline{
		Capture:    engine,
		Compositor: comp,
		Copy:       fakeCopy{},
		Bundler:    bundle.New(registry),
		Assets:     store,
	})
	opts := Options{CaptureTimeout: 5 * time.Second, StreamTimeout: 200 * time.Millisecond}
	return &testEnv{
		srv:        NewServer(svc, store, ":8080", opts),
		repo:       repo,
		bus:        bus,
		store:      store,
		engine:     engine,
		compositor: comp,
	}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp.Error
}

func (e *testEnv) scout(t *testing.T) scoutResponse {
	t.Helper()
	rec := e.do(http.MethodPost, "/api/scout", `{"url":"https://example.com","devices":["desktop"],"jobId":"scout-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("scout status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp scoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return resp
}

func TestServer_Scout_Success(t *testing.T) {
	env := setupTestServer(t)

	resp := env.scout(t)
	if resp.ID != "scout-1" {
		t.Errorf("response id = %q, want %q", resp.ID, "scout-1")
	}
	if resp.Domain != "example.com" {
		t.Errorf("response domain = %q, want %q", resp.Domain, "example.com")
	}
	if resp.BrandColor != domain.DefaultBrandColor {
		t.Errorf("response brandColor = %q, want %q", resp.BrandColor, domain.DefaultBrandColor)
	}
	if len(resp.Pages) != 1 || len(resp.Pages[0].Screenshots) != 1 {
		t.Fatalf("response pages = %+v, want one page with one screenshot", resp.Pages)
	}
	if !resp.Persisted {
		t.Error("response persisted = false, want true")
	}

	job, err := env.repo.Get(context.Background(), "scout-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Stage != domain.StageCaptured {
		t.Errorf("job.Stage = %q, want %q", job.Stage, domain.StageCaptured)
	}
}

func TestServer_Scout_Validation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing url", `{}`},
		{"invalid url", `{"url":"not a valid url"}`},
		{"unsupported scheme", `{"url":"ftp://example.com"}`},
		{"bad job id", `{"url":"https://example.com","jobId":"../x"}`},
		{"no devices", `{"url":"https://example.com","devices":["watch"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/scout", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if msg := decodeError(t, rec); msg == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestServer_Scout_ExistingJobID(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)
	if rec := env.do(http.MethodPost, "/api/enhance", `{"scoutId":"scout-1"}`); rec.Code != http.StatusOK {
		t.Fatalf("enhance status = %d, body = %s", rec.Code, rec.Body)
	}

	rec := env.do(http.MethodPost, "/api/scout", `{"url":"https://other.example","jobId":"scout-1"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "already exists") {
		t.Errorf("error = %q, want already exists", msg)
	}

	job, _ := env.repo.Get(context.Background(), "scout-1")
	if job.URL != "https://example.com" {
		t.Errorf("job.URL = %q, want %q", job.URL, "https://example.com")
	}
	if job.Stage != domain.StageBundlingReady || len(job.Assets) != 1 {
		t.Errorf("job = stage %q, %d assets, want bundling_ready with 1 asset", job.Stage, len(job.Assets))
	}
}

func TestServer_Scout_EngineFailure(t *testing.T) {
	env := setupTestServer(t)
	env.engine.err = errors.New("navigation timeout")

	rec := env.do(http.MethodPost, "/api/scout", `{"url":"https://example.com"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if msg := decodeError(t, rec); msg != "navigation timeout" {
		t.Errorf("error = %q, want %q", msg, "navigation timeout")
	}
}

func TestServer_Enhance(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)

	rec := env.do(http.MethodPost, "/api/enhance", `{"scoutId":"scout-1","brandColor":"#ff0000"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp enhanceResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !resp.Success || resp.ScoutID != "scout-1" {
		t.Errorf("response = %+v, want success for scout-1", resp)
	}
	if len(resp.Assets) != 1 || resp.Assets[0] != "/assets/scout-1/hero-1-enhanced.png" {
		t.Errorf("response assets = %v", resp.Assets)
	}
	if len(resp.AssetsMeta) != 1 || resp.AssetsMeta[0].Type != domain.CategoryMockup {
		t.Errorf("response assetsMeta = %+v", resp.AssetsMeta)
	}

	// a second request replays the stored assets
	rec = env.do(http.MethodPost, "/api/enhance", `{"scoutId":"scout-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay status = %d", rec.Code)
	}
	if env.compositor.calls != 1 {
		t.Errorf("compositor calls = %d, want 1", env.compositor.calls)
	}
}

func TestServer_Enhance_InFlight(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)
	env.compositor.started = make(chan struct{})
	env.compositor.release = make(chan struct{})

	done := make(chan int)
	go func() {
		done <- env.do(http.MethodPost, "/api/enhance", `{"scoutId":"scout-1"}`).Code
	}()
	<-env.compositor.started

	rec := env.do(http.MethodPost, "/api/enhance", `{"scoutId":"scout-1"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}

	close(env.compositor.release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first request status = %d, want %d", code, http.StatusOK)
	}
}

func TestServer_Enhance_ClientDisconnect(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)
	env.compositor.started = make(chan struct{})
	env.compositor.release = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/enhance", strings.NewReader(`{"scoutId":"scout-1"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.srv.ServeHTTP(rec, req)
		close(done)
	}()

	<-env.compositor.started
	cancel()
	close(env.compositor.release)
	<-done

	job, err := env.repo.Get(context.Background(), "scout-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Stage != domain.StageBundlingReady {
		t.Errorf("job.Stage = %q, want %q", job.Stage, domain.StageBundlingReady)
	}
	if len(job.Assets) != 1 {
		t.Errorf("job.Assets = %d, want the full set of 1", len(job.Assets))
	}
}

func TestServer_Enhance_MissingID(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(http.MethodPost, "/api/enhance", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_Copy(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)

	tests := []struct {
		name      string
		body      string
		wantPitch string
	}{
		{"recorded", `{"textContent":"Some text","domain":"example.com","pageTitle":"Example","scoutId":"scout-1"}`, "Discover what example.com has to offer."},
		{"unrecorded", `{"textContent":"Some text","domain":"other.com"}`, "Discover what other.com has to offer."},
		{"invalid json", `not json`, "Discover what this product has to offer."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/copy", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			var resp domain.CopyResult
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Pitch != tt.wantPitch {
				t.Errorf("pitch = %q, want %q", resp.Pitch, tt.wantPitch)
			}
		})
	}

	job, _ := env.repo.Get(context.Background(), "scout-1")
	if job.Copy == nil {
		t.Error("job.Copy = nil, want recorded copy")
	}
}

func TestServer_Bundle(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)
	env.do(http.MethodPost, "/api/enhance", `{"scoutId":"scout-1"}`)

	rec := env.do(http.MethodPost, "/api/bundle", `{"scoutId":"scout-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q, want application/zip", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="scouter-scout-1.zip"` {
		t.Errorf("Content-Disposition = %q", cd)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("zip.NewReader() error = %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "hero/home-desktop-hero.png,mockup/hero-1-enhanced.png" {
		t.Errorf("archive entries = %s", got)
	}
}

func TestServer_Bundle_Errors(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing id", `{}`, http.StatusBadRequest},
		{"unknown job", `{"scoutId":"nope"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/bundle", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_Progress(t *testing.T) {
	env := setupTestServer(t)
	env.bus.Publish("scout-1", domain.NewProgressEvent(domain.StepInit, "Preparing scout...", 5))
	env.bus.Publish("scout-1", domain.NewProgressEvent(domain.StepBrowser, "Launching browser...", 10))

	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/scout/progress?jobId=scout-1")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	// The stream closes on its own after StreamTimeout.
	var got []domain.ProgressEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev domain.ProgressEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		got = append(got, ev)
	}
	if len(got) != 2 || got[0].Progress != 5 || got[1].Step != domain.StepBrowser {
		t.Errorf("events = %+v, want init then browser", got)
	}
}

func TestServer_Progress_MissingJobID(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(http.MethodGet, "/api/scout/progress", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestServer_Assets(t *testing.T) {
	env := setupTestServer(t)
	env.store.Put(context.Background(), "scout-1", "a.png", []byte("png-bytes"), "image/png")

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"served", "/assets/scout-1/a.png", http.StatusOK},
		{"missing", "/assets/scout-1/b.png", http.StatusNotFound},
		{"escape", "/assets/scout-1/../scout-2/a.png", http.StatusForbidden},
		{"bad job id", "/assets/bad%20id/a.png", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodGet, tt.target, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	rec := env.do(http.MethodGet, "/assets/scout-1/a.png", "")
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "public, max-age=3600" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if body, _ := io.ReadAll(rec.Body); string(body) != "png-bytes" {
		t.Errorf("body = %q, want %q", body, "png-bytes")
	}
}

func TestServer_GetJob(t *testing.T) {
	env := setupTestServer(t)
	env.scout(t)

	rec := env.do(http.MethodGet, "/api/jobs/scout-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp jobResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Stage != string(domain.StageCaptured) || resp.Status != string(domain.StatusComplete) {
		t.Errorf("response stage/status = %q/%q", resp.Stage, resp.Status)
	}
	if len(resp.Pages) != 1 || resp.Pages[0].ScreenshotCount != 1 || resp.Pages[0].Viewports[0] != domain.ViewportDesktop {
		t.Errorf("response pages = %+v", resp.Pages)
	}

	rec = env.do(http.MethodGet, "/api/jobs/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp map[string]string
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestServer_Port(t *testing.T) {
	env := setupTestServer(t)

	if env.srv.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", env.srv.Port())
	}
	if env.srv.Addr() != ":8080" {
		t.Errorf("Addr() = %q, want %q", env.srv.Addr(), ":8080")
	}
}
