package compositor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/cwygoda/scouter/internal/domain"
)

const fetchConcurrency = 4

// Compositor implements domain.Compositor over a fetcher and asset store.
type Compositor struct {
	fetcher domain.Fetcher
	assets  domain.AssetStore
	logger  *slog.Logger
}

// New creates a compositor.
func New(fetcher domain.Fetcher, assets domain.AssetStore) *Compositor {
	return &Compositor{fetcher: fetcher, assets: assets, logger: slog.Default()}
}

// WithLogger replaces the compositor logger.
func (c *Compositor) WithLogger(l *slog.Logger) *Compositor {
	c.logger = l
	return c
}

// run holds the state of one Enhance call.
type run struct {
	*Compositor
	jobID    string
	sources  *sourceCache
	out      []domain.EnhancedAsset
	produced int
	log      *slog.Logger
}

// Enhance renders every derived asset it can. Individual failures are
// logged and skipped.
func (c *Compositor) Enhance(ctx context.Context, p domain.EnhanceParams, emit domain.EmitFunc) domain.EnhanceOutput {
	r := &run{
		Compositor: c,
		jobID:      p.JobID,
		sources:    newSourceCache(c.fetcher),
		out:        []domain.EnhancedAsset{},
		log:        c.logger.With("job", p.JobID),
	}
	brand := parseHex(p.BrandColor)

	var heroes, all []domain.Screenshot
	heroCount := 0
	for _, page := range p.Pages {
		for _, shot := range page.Screenshots {
			all = append(all, shot)
			if shot.Type != domain.ShotHero {
				continue
			}
			heroCount++
			if shot.Path != "" {
				heroes = append(heroes, shot)
			}
		}
	}
	total := heroCount*2 + 4

	emit(domain.StepEnhance, "Enhancing screenshots...", 72)
	for i, shot := range heroes {
		step := i + 1
		emit(domain.StepEnhance, fmt.Sprintf("Enhancing hero %d...", step),
			72+int(math.Round(float64(step)/float64(total)*15)))

		src, err := r.sources.get(ctx, shot.Path)
		if err != nil {
			r.log.Warn("hero source unavailable", "url", shot.Path, "error", err)
			continue
		}
		base := fmt.Sprintf("hero-%d", step)
		r.produce(ctx, base+"-enhanced.png", domain.CategoryMockup, func() image.Image { return Hero(src, brand) })
		switch shot.Viewport {
		case domain.ViewportDesktop:
			r.produce(ctx, base+"-laptop.png", domain.CategoryMockup, func() image.Image { return Laptop(src) })
			r.produce(ctx, base+"-browser.png", domain.CategoryMockup, func() image.Image { return BrowserChrome(src) })
		case domain.ViewportMobile:
			r.produce(ctx, base+"-phone.png", domain.CategoryMockup, func() image.Image { return Phone(src) })
		case domain.ViewportTablet:
			r.produce(ctx, base+"-tablet.png", domain.CategoryMockup, func() image.Image { return Tablet(src) })
		}
	}

	emit(domain.StepCollage, "Building grid collages...", 88)
	var features []domain.Screenshot
	for _, shot := range all {
		if shot.Type == domain.ShotFeature {
			features = append(features, shot)
		}
	}
	features = features[:min(len(features), 3)]
	first := all[:min(len(all), 6)]
	r.prefetch(ctx, append(append([]domain.Screenshot{}, features...), first...))

	if imgs := r.loaded(ctx, features); len(imgs) >= 2 {
		r.produce(ctx, "collage-3.png", domain.CategoryGrid, func() image.Image { return Collage(imgs, 3, brand) })
	}
	if imgs := r.loaded(ctx, first); len(imgs) >= 4 {
		r.produce(ctx, "collage-6.png", domain.CategoryGrid, func() image.Image { return Collage(imgs, 6, brand) })
	}

	emit(domain.StepSocial, "Generating social assets...", 92)
	if hero, ok := desktopHero(p.Pages); ok {
		if src, err := r.sources.get(ctx, hero.Path); err == nil {
			for _, size := range SocialSizes {
				name := fmt.Sprintf("%s-%dx%d.png", size.Platform, size.Width, size.Height)
				r.produce(ctx, name, domain.CategorySocial, func() image.Image { return Social(src, size) })
			}
		} else {
			r.log.Warn("social source unavailable", "url", hero.Path, "error", err)
		}
	}

	emit(domain.StepDone, "All assets ready!", 100)
	return domain.EnhanceOutput{
		Assets:  r.out,
		Success: r.produced > 0 || len(all) == 0,
	}
}

// produce renders, encodes and stores one asset.
func (r *run) produce(ctx context.Context, name string, category domain.AssetCategory, render func() image.Image) {
	if ctx.Err() != nil {
		return
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, render(), imaging.PNG); err != nil {
		r.log.Warn("encode failed", "name", name, "error", err)
		return
	}
	url, err := r.assets.Put(ctx, r.jobID, name, buf.Bytes(), "image/png")
	if err != nil {
		r.log.Warn("asset upload failed", "name", name, "error", err)
		return
	}
	r.out = append(r.out, domain.EnhancedAsset{Path: url, Type: category})
	r.produced++
}

// prefetch loads sources concurrently into the cache.
func (r *run) prefetch(ctx context.Context, shots []domain.Screenshot) {
	var g errgroup.Group
	g.SetLimit(fetchConcurrency)
	for _, shot := range shots {
		if shot.Path == "" {
			continue
		}
		g.Go(func() error {
			r.sources.get(ctx, shot.Path)
			return nil
		})
	}
	g.Wait()
}

// loaded returns the decodable sources of shots in order.
func (r *run) loaded(ctx context.Context, shots []domain.Screenshot) []image.Image {
	var imgs []image.Image
	for _, shot := range shots {
		if shot.Path == "" {
			continue
		}
		img, err := r.sources.get(ctx, shot.Path)
		if err != nil {
			r.log.Warn("collage source unavailable", "url", shot.Path, "error", err)
			continue
		}
		imgs = append(imgs, img)
	}
	return imgs
}

func desktopHero(pages []domain.PageCapture) (domain.Screenshot, bool) {
	if len(pages) == 0 {
		return domain.Screenshot{}, false
	}
	for _, shot := range pages[0].Screenshots {
		if shot.Type == domain.ShotHero && shot.Viewport == domain.ViewportDesktop && shot.Path != "" {
			return shot, true
		}
	}
	return domain.Screenshot{}, false
}

// sourceCache fetches and decodes each URL at most once.
type sourceCache struct {
	fetcher domain.Fetcher
	mu      sync.Mutex
	entries map[string]*source
}

type source struct {
	once sync.Once
	img  image.Image
	err  error
}

func newSourceCache(f domain.Fetcher) *sourceCache {
	return &sourceCache{fetcher: f, entries: make(map[string]*source)}
}

func (c *sourceCache) get(ctx context.Context, url string) (image.Image, error) {
	c.mu.Lock()
	s, ok := c.entries[url]
	if !ok {
		s = &source{}
		c.entries[url] = s
	}
	c.mu.Unlock()

	s.once.Do(func() {
		data, err := c.fetcher.Fetch(ctx, url)
		if err != nil {
			s.err = err
			return
		}
		s.img, s.err = imaging.Decode(bytes.NewReader(data))
	})
	return s.img, s.err
}
