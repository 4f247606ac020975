// Package storage implements job-namespaced asset stores.
package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/cwygoda/scouter/internal/domain"
)

var (
	ErrForbidden = errors.New("path escapes job namespace")
	ErrNotFound  = errors.New("asset not found")
)

// Store is an AssetStore that can also map its own public URLs back to keys.
type Store interface {
	domain.AssetStore
	// Resolve reports the job and object name behind a URL this store issued.
	Resolve(url string) (jobID, name string, ok bool)
}

// CleanName validates jobID and returns the slash-separated key of rel
// inside the job namespace.
func CleanName(jobID, rel string) (string, error) {
	if !domain.ValidJobID(jobID) {
		return "", fmt.Errorf("%w: invalid job id %q", ErrForbidden, jobID)
	}
	if strings.ContainsAny(rel, "\x00\\") {
		return "", fmt.Errorf("%w: %q", ErrForbidden, rel)
	}

	cleaned := path.Clean(path.Join(jobID, rel))
	if !strings.HasPrefix(cleaned, jobID+"/") {
		return "", fmt.Errorf("%w: %q", ErrForbidden, rel)
	}
	return cleaned, nil
}

// splitKey splits a "jobID/name" key from a URL path suffix.
func splitKey(rest string) (jobID, name string, ok bool) {
	jobID, name, found := strings.Cut(rest, "/")
	if !found || name == "" {
		return "", "", false
	}
	if _, err := CleanName(jobID, name); err != nil {
		return "", "", false
	}
	return jobID, name, true
}
