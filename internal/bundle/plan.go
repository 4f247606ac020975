// Package bundle assembles a job's screenshots, enhanced assets and copy
// into a zip archive.
package bundle

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/cwygoda/scouter/internal/domain"
)

// Plan lists the archive members for job. Unparseable URLs are skipped.
// Generated copy entries are only added when there is at least one
// screenshot or enhanced asset to bundle.
func (b *Bundler) Plan(job *domain.Job) []domain.BundleEntry {
	var entries []domain.BundleEntry
	seen := make(map[string]int)
	add := func(e domain.BundleEntry) {
		e.Name = dedupe(seen, e.Folder, e.Name)
		entries = append(entries, e)
	}

	for p, page := range job.Pages {
		for i, shot := range page.Screenshots {
			name, ok := fileName(shot.Path)
			if !ok {
				b.logger.Warn("invalid screenshot url", "job", job.ID, "url", shot.Path)
				continue
			}
			if name == "" {
				name = fmt.Sprintf("shot-%d-%d.png", p, i)
			}
			folder := "raw"
			if shot.Type == domain.ShotHero {
				folder = "hero"
			}
			add(domain.BundleEntry{Folder: folder, Name: name, URL: shot.Path})
		}
	}

	for i, asset := range job.Assets {
		name, ok := fileName(asset.Path)
		if !ok {
			b.logger.Warn("invalid asset url", "job", job.ID, "url", asset.Path)
			continue
		}
		if name == "" {
			name = fmt.Sprintf("enhanced-%d.png", i)
		}
		folder := string(asset.Type)
		if folder == "" {
			folder = "enhanced"
		}
		add(domain.BundleEntry{Folder: folder, Name: name, URL: asset.Path})
	}

	if len(entries) == 0 {
		return nil
	}

	if job.Copy != nil {
		if data, err := json.MarshalIndent(job.Copy, "", "  "); err == nil {
			add(domain.BundleEntry{Folder: "copy", Name: "copy.json", Body: data})
		}
	}
	if strings.TrimSpace(job.ContentMarkdown) != "" {
		add(domain.BundleEntry{Folder: "copy", Name: "content.md", Body: []byte(job.ContentMarkdown)})
	}
	return entries
}

// fileName returns the percent-decoded last path segment of raw, or "" when
// the segment cannot serve as an entry name. ok is false when raw is not a
// URL at all.
func fileName(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := u.Path
	if strings.HasSuffix(p, "/") {
		return "", true
	}
	name := path.Base(p)
	if strings.Trim(name, "./") == "" {
		// "..", "." and the like would read as traversal once extracted.
		return "", true
	}
	return strings.ReplaceAll(name, `\`, "_"), true
}

// dedupe returns name, or name with a numeric suffix when folder/name was
// already taken.
func dedupe(seen map[string]int, folder, name string) string {
	key := folder + "/" + name
	n := seen[key]
	seen[key] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for {
		n++
		candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
		ckey := folder + "/" + candidate
		if seen[ckey] == 0 {
			seen[ckey] = 1
			seen[key] = n
			return candidate
		}
	}
}
