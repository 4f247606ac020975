package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

var httpPattern = regexp.MustCompile(`^https?://`)

// maxBody caps a single download.
const maxBody = 64 << 20

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// HTTPResolver downloads absolute http(s) URLs.
type HTTPResolver struct {
	client *http.Client
}

// NewHTTPResolver creates a resolver with the given per-request timeout.
func NewHTTPResolver(timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPResolver{client: &http.Client{Timeout: timeout}}
}

// Name returns the resolver name.
func (h *HTTPResolver) Name() string {
	return "http"
}

// Match returns true for absolute http(s) URLs.
func (h *HTTPResolver) Match(url string) bool {
	return httpPattern.MatchString(url)
}

// Fetch performs a single GET.
func (h *HTTPResolver) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}
