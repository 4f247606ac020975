package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// AssetPrefix is the URL path under which local assets are served.
const AssetPrefix = "/assets/"

// Local stores assets under <dir>/<jobID>/<name>.
type Local struct {
	dir       string
	publicURL string
}

// NewLocal creates a filesystem store. publicURL is prepended to issued
// asset paths and may be empty for host-relative URLs.
func NewLocal(dir, publicURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Local{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

// URL returns the public URL of a stored asset.
func (s *Local) URL(jobID, name string) string {
	return s.publicURL + AssetPrefix + jobID + "/" + name
}

// Put writes data atomically and returns its public URL.
func (s *Local) Put(ctx context.Context, jobID, name string, data []byte, contentType string) (string, error) {
	key, err := CleanName(jobID, name)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	return s.URL(jobID, key[len(jobID)+1:]), nil
}

// Open returns a reader for a stored asset.
func (s *Local) Open(ctx context.Context, jobID, name string) (io.ReadCloser, error) {
	key, err := CleanName(jobID, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	if info, err := f.Stat(); err == nil && info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, nil
}

// RemoveJob deletes every asset of a job.
func (s *Local) RemoveJob(ctx context.Context, jobID string) error {
	if _, err := CleanName(jobID, "x"); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(s.dir, jobID))
}

// Resolve maps an issued URL, absolute or host-relative, back to its key.
func (s *Local) Resolve(raw string) (string, string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	if u.IsAbs() {
		if s.publicURL == "" || !strings.HasPrefix(raw, s.publicURL+"/") {
			return "", "", false
		}
	}
	rest, ok := strings.CutPrefix(u.Path, AssetPrefix)
	if !ok {
		return "", "", false
	}
	return splitKey(rest)
}
