package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

const (
	gcsPublicHost = "https://storage.googleapis.com/"
	gcsPrefix     = "scouts"
)

// GCS stores assets as objects under scouts/<jobID>/<name> in one bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a store using application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Close releases the client.
func (s *GCS) Close() error {
	return s.client.Close()
}

func (s *GCS) objectName(key string) string {
	return gcsPrefix + "/" + key
}

// URL returns the public object URL for a key.
func (s *GCS) URL(key string) string {
	return gcsPublicHost + s.bucket + "/" + s.objectName(key)
}

// Put uploads data and returns the public object URL.
func (s *GCS) Put(ctx context.Context, jobID, name string, data []byte, contentType string) (string, error) {
	key, err := CleanName(jobID, name)
	if err != nil {
		return "", err
	}

	w := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=3600"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Open returns a reader for an object.
func (s *GCS) Open(ctx context.Context, jobID, name string) (io.ReadCloser, error) {
	key, err := CleanName(jobID, name)
	if err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(s.objectName(key)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return r, err
}

// RemoveJob deletes every object under the job prefix.
func (s *GCS) RemoveJob(ctx context.Context, jobID string) error {
	if _, err := CleanName(jobID, "x"); err != nil {
		return err
	}
	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: s.objectName(jobID) + "/"})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			return nil
		}
		if err != nil {
			return err
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
	}
}

// Resolve maps a public object URL back to its key.
func (s *GCS) Resolve(raw string) (string, string, bool) {
	rest, ok := strings.CutPrefix(raw, gcsPublicHost+s.bucket+"/"+gcsPrefix+"/")
	if !ok {
		return "", "", false
	}
	if i := strings.IndexAny(rest, "?#"); i >= 0 {
		rest = rest[:i]
	}
	if unescaped, err := url.PathUnescape(rest); err == nil {
		rest = unescaped
	}
	return splitKey(rest)
}
