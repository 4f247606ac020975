// Package http exposes the job pipeline over HTTP.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cwygoda/scouter/internal/adapter/storage"
	"github.com/cwygoda/scouter/internal/domain"
)

// Options tunes request handling.
type Options struct {
	// CaptureTimeout bounds a capture once it has been detached from the
	// request.
	CaptureTimeout time.Duration
	// EnhanceTimeout bounds a detached enhancement.
	EnhanceTimeout time.Duration
	// StreamTimeout closes progress streams.
	StreamTimeout time.Duration
}

// DefaultOptions returns the server defaults.
func DefaultOptions() Options {
	return Options{
		CaptureTimeout: 3 * time.Minute,
		EnhanceTimeout: 3 * time.Minute,
		StreamTimeout:  5 * time.Minute,
	}
}

// Server is the HTTP adapter for the scout pipeline.
type Server struct {
	svc    *domain.JobService
	assets domain.AssetStore
	router *chi.Mux
	server *http.Server
	opts   Options
	logger *slog.Logger
}

// NewServer creates a new HTTP server. assets backs the /assets route.
func NewServer(svc *domain.JobService, assets domain.AssetStore, addr string, opts Options) *Server {
	s := &Server{
		svc:    svc,
		assets: assets,
		router: chi.NewRouter(),
		opts:   opts,
		logger: slog.Default(),
	}
	s.routes()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s
}

// WithLogger replaces the server logger.
func (s *Server) WithLogger(l *slog.Logger) *Server {
	s.logger = l
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/scout", s.handleScout)
		r.Get("/scout/progress", s.handleProgress)
		r.Post("/enhance", s.handleEnhance)
		r.Post("/copy", s.handleCopy)
		r.Post("/bundle", s.handleBundle)
		r.Get("/jobs/{id}", s.handleGetJob)
	})
	s.router.Get(storage.AssetPrefix+"{jobID}/*", s.handleAsset)
	s.router.Get("/health", s.handleHealth)
}

// scoutRequest is the request body for POST /api/scout.
type scoutRequest struct {
	URL             string   `json:"url"`
	BrandColor      string   `json:"brandColor"`
	Devices         []string `json:"devices"`
	AutoDetectColor bool     `json:"autoDetectColor"`
	UserID          string   `json:"userId"`
	JobID           string   `json:"jobId"`
}

type scoutResponse struct {
	ID          string               `json:"id"`
	URL         string               `json:"url"`
	Domain      string               `json:"domain"`
	BrandColor  string               `json:"brandColor"`
	Pages       []domain.PageCapture `json:"pages"`
	TextContent string               `json:"textContent"`
	Persisted   bool                 `json:"persisted"`
}

type enhanceRequest struct {
	ScoutID    string               `json:"scoutId"`
	BrandColor string               `json:"brandColor"`
	Pages      []domain.PageCapture `json:"pages"`
}

type enhanceResponse struct {
	Success    bool                   `json:"success"`
	Assets     []string               `json:"assets"`
	AssetsMeta []domain.EnhancedAsset `json:"assetsMeta"`
	ScoutID    string                 `json:"scoutId"`
	Persisted  bool                   `json:"persisted"`
}

type copyRequest struct {
	TextContent string `json:"textContent"`
	Domain      string `json:"domain"`
	PageTitle   string `json:"pageTitle"`
	ScoutID     string `json:"scoutId"`
}

type bundleRequest struct {
	ScoutID string `json:"scoutId"`
}

// errorResponse is the JSON error response.
type errorResponse struct {
	Error string `json:"error"`
}

// detach drops the request's cancellation and bounds the work by timeout
// instead. A zero timeout leaves it unbounded.
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Server) handleScout(w http.ResponseWriter, r *http.Request) {
	var req scoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// The browser session must not be abandoned half-used when the client
	// disconnects.
	ctx, cancel := detach(r.Context(), s.opts.CaptureTimeout)
	defer cancel()

	res, err := s.svc.Capture(ctx, domain.CaptureRequest{
		JobID:           req.JobID,
		URL:             req.URL,
		BrandColor:      req.BrandColor,
		Devices:         req.Devices,
		AutoDetectColor: req.AutoDetectColor,
		UserID:          req.UserID,
	})
	if err != nil {
		s.writeServiceError(w, "scout", err)
		return
	}

	job := res.Job
	s.writeJSON(w, http.StatusOK, scoutResponse{
		ID:          job.ID,
		URL:         job.URL,
		Domain:      job.Domain,
		BrandColor:  job.BrandColor,
		Pages:       nonNil(job.Pages),
		TextContent: job.TextContent,
		Persisted:   res.Record.Persisted,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		s.writeError(w, http.StatusBadRequest, "Missing jobId")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	if s.opts.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StreamTimeout)
		defer cancel()
	}

	events, stop := s.svc.Watch(ctx, jobID)
	defer stop()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return
		}
		flusher.Flush()
	}
}

func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	var req enhanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// A disconnect must not cut the asset set short.
	ctx, cancel := detach(r.Context(), s.opts.EnhanceTimeout)
	defer cancel()

	res, err := s.svc.Enhance(ctx, domain.EnhanceRequest{
		JobID:      req.ScoutID,
		BrandColor: req.BrandColor,
		Pages:      req.Pages,
	})
	if err != nil {
		s.writeServiceError(w, "enhance", err)
		return
	}

	paths := make([]string, len(res.Assets))
	for i, a := range res.Assets {
		paths[i] = a.Path
	}
	s.writeJSON(w, http.StatusOK, enhanceResponse{
		Success:    res.Success,
		Assets:     paths,
		AssetsMeta: nonNil(res.Assets),
		ScoutID:    res.JobID,
		Persisted:  res.Record.Persisted,
	})
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	var req copyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.logger.Warn("copy request not decoded", "error", err)
	}
	if req.ScoutID != "" && !domain.ValidJobID(req.ScoutID) {
		req.ScoutID = ""
	}

	result, _ := s.svc.GenerateCopy(r.Context(), req.ScoutID, domain.CopyInput{
		TextContent: req.TextContent,
		Domain:      req.Domain,
		PageTitle:   req.PageTitle,
	})
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	plan, err := s.svc.PrepareBundle(r.Context(), req.ScoutID)
	if err != nil {
		s.writeServiceError(w, "bundle", err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="scouter-%s.zip"`, plan.Job.ID))
	if err := s.svc.WriteBundle(r.Context(), w, plan); err != nil {
		// Headers are gone; all that is left is to log.
		s.logger.Error("bundle write failed", "job", plan.Job.ID, "error", err)
	}
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	name := chi.URLParam(r, "*")

	rc, err := s.assets.Open(r.Context(), jobID, name)
	switch {
	case errors.Is(err, storage.ErrForbidden):
		s.writeError(w, http.StatusForbidden, "Forbidden")
		return
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "File not found")
		return
	case err != nil:
		s.logger.Error("asset open failed", "job", jobID, "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to serve file")
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}

// jobResponse is the JSON shape of a stored job record.
type jobResponse struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"userId"`
	URL         string                 `json:"url"`
	Domain      string                 `json:"domain"`
	BrandColor  string                 `json:"brandColor"`
	Pages       []pageSummary          `json:"pages"`
	TextContent string                 `json:"textContent"`
	Status      string                 `json:"status"`
	Stage       string                 `json:"stage"`
	Assets      []domain.EnhancedAsset `json:"assets"`
	Copy        *domain.CopyResult     `json:"copy"`
	Error       string                 `json:"error,omitempty"`
	Devices     []string               `json:"devices"`
	CreatedAt   string                 `json:"createdAt"`
	UpdatedAt   string                 `json:"updatedAt"`
}

type pageSummary struct {
	URL             string              `json:"url"`
	Title           string              `json:"title"`
	ScreenshotCount int                 `json:"screenshotCount"`
	Viewports       []string            `json:"viewports"`
	Screenshots     []domain.Screenshot `json:"screenshots"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, "get job", err)
		return
	}
	s.writeJSON(w, http.StatusOK, jobToResponse(job))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMissingURL),
		errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidJobID),
		errors.Is(err, domain.ErrNoDevices),
		errors.Is(err, domain.ErrMissingJobID):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrNoAssets):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStageConflict), errors.Is(err, domain.ErrJobExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed", "error", err)
	}
	s.writeError(w, status, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func jobToResponse(job *domain.Job) jobResponse {
	pages := make([]pageSummary, len(job.Pages))
	for i, p := range job.Pages {
		pages[i] = pageSummary{
			URL:             p.URL,
			Title:           p.Title,
			ScreenshotCount: len(p.Screenshots),
			Viewports:       nonNil(p.Viewports()),
			Screenshots:     nonNil(p.Screenshots),
		}
	}
	return jobResponse{
		ID:          job.ID,
		UserID:      job.UserID,
		URL:         job.URL,
		Domain:      job.Domain,
		BrandColor:  job.BrandColor,
		Pages:       pages,
		TextContent: job.TextContent,
		Status:      string(job.Status),
		Stage:       string(job.Stage),
		Assets:      nonNil(job.Assets),
		Copy:        job.Copy,
		Error:       job.Error,
		Devices:     nonNil(job.Devices),
		CreatedAt:   job.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.server.Addr
}

// Port extracts the port from the address.
func (s *Server) Port() int {
	addr := s.server.Addr
	if idx := strings.LastIndex(addr, ":"); idx >= 0 {
		port, _ := strconv.Atoi(addr[idx+1:])
		return port
	}
	return 0
}
