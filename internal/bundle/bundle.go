package bundle

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/scouter/internal/domain"
)

const fetchConcurrency = 4

// Bundler implements domain.Bundler.
type Bundler struct {
	fetcher domain.Fetcher
	logger  *slog.Logger
}

// New creates a bundler that resolves entry URLs through f.
func New(f domain.Fetcher) *Bundler {
	return &Bundler{fetcher: f, logger: slog.Default()}
}

// WithLogger replaces the bundler logger.
func (b *Bundler) WithLogger(l *slog.Logger) *Bundler {
	b.logger = l
	return b
}

type member struct {
	entry domain.BundleEntry
	data  []byte
}

// Write fetches the entries concurrently and streams a zip to w. Entries
// that cannot be fetched are left out.
func (b *Bundler) Write(ctx context.Context, w io.Writer, job *domain.Job, entries []domain.BundleEntry) error {
	members := make([]*member, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, e := range entries {
		if e.URL == "" {
			members[i] = &member{entry: e, data: e.Body}
			continue
		}
		g.Go(func() error {
			data, err := b.fetcher.Fetch(gctx, e.URL)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				b.logger.Warn("bundle fetch failed", "job", job.ID, "url", e.URL, "error", err)
				return nil
			}
			members[i] = &member{entry: e, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var ok []*member
	for _, m := range members {
		if m != nil {
			ok = append(ok, m)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool {
		x, y := ok[i].entry, ok[j].entry
		if x.Folder != y.Folder {
			return x.Folder < y.Folder
		}
		return x.Name < y.Name
	})

	modified := job.UpdatedAt
	if modified.IsZero() {
		modified = time.Now()
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	for _, m := range ok {
		fw, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.entry.Path(),
			Method:   zip.Deflate,
			Modified: modified,
		})
		if err != nil {
			return fmt.Errorf("zip %s: %w", m.entry.Path(), err)
		}
		if _, err := fw.Write(m.data); err != nil {
			return fmt.Errorf("zip %s: %w", m.entry.Path(), err)
		}
	}
	return zw.Close()
}
