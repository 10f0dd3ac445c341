// Package source turns an item's detail payload into an ordered list of
// playable candidates and picks one.
package source

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/mmcdole/feedplay/internal/domain"
)

// Well-known candidate ids
const (
	LocalCache = "local_cache"
	Origin     = "nas_origin"
	Proxy      = "nas_proxy"
	Upstream   = "douyin"
	Audio      = "audio"
)

// URLBuilder produces absolute, playable URLs
type URLBuilder interface {
	ResolveURL(ref string) string
	LocalStreamURL(awemeID string) string
	ProxyURL(raw string, live bool) string
}

// Selection is the playback context a candidate is chosen against,
// highest priority first.
type Selection struct {
	ForcedID    string
	ActiveID    string
	PreferredID string
}

// Result is the outcome of one resolution
type Result struct {
	Candidates []domain.SourceCandidate
	Selected   string
}

// Chosen returns the selected candidate
func (r Result) Chosen() (domain.SourceCandidate, bool) {
	for _, c := range r.Candidates {
		if c.ID == r.Selected {
			return c, true
		}
	}
	return domain.SourceCandidate{}, false
}

// Options tunes the Engine
type Options struct {
	// ProxyUpstream routes upstream platform URLs through the server proxy
	ProxyUpstream bool
}

// Engine resolves sources. It holds no per-item state.
type Engine struct {
	urls   URLBuilder
	opts   Options
	logger *slog.Logger
}

func NewEngine(urls URLBuilder, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{urls: urls, opts: opts, logger: logger}
}

// Resolve builds the candidates for a recorded item. A note without any
// stream yields an empty Result and no error.
func (e *Engine) Resolve(detail domain.ItemDetail, sel Selection) (Result, error) {
	list := newCandidateList()
	for _, c := range detail.VideoURLs {
		url := e.urls.ResolveURL(strings.TrimSpace(c.URL))
		if c.ID == Upstream {
			url = e.upstream(c.URL)
		}
		list.add(c.ID, c.Label, url, c.NeedAuth)
	}

	if list.empty() && detail.Type != domain.ItemTypeNote {
		if strings.TrimSpace(detail.LocalPath) != "" {
			list.add(LocalCache, "Local cache", e.urls.LocalStreamURL(detail.AwemeID), false)
		}
		list.add(Origin, "NAS (LAN)", detail.UploadedOriginURL, true)
		list.add(Proxy, "NAS (proxy)", e.urls.ResolveURL(detail.UploadedURL), false)
		list.add(Upstream, "Douyin", e.upstream(detail.VideoURL), false)
	}

	if list.empty() && detail.Type == domain.ItemTypeNote {
		list.add(Audio, "Audio", e.urls.ResolveURL(detail.AudioURL), false)
		if list.empty() {
			return Result{}, nil
		}
	}

	if list.empty() {
		return Result{}, fmt.Errorf("%s: %w", detail.AwemeID, domain.ErrResolutionFailure)
	}

	res := Result{Candidates: list.items}
	res.Selected = Select(res.Candidates, sel, detail.DefaultVideoSource)
	return res, nil
}

func (e *Engine) upstream(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !e.opts.ProxyUpstream {
		return e.urls.ResolveURL(raw)
	}
	return e.urls.ProxyURL(raw, false)
}

// Select applies the selection priority: forced, active, preferred,
// backend default, then the first candidate.
func Select(candidates []domain.SourceCandidate, sel Selection, defaultID string) string {
	if len(candidates) == 0 {
		return ""
	}
	for _, id := range []string{sel.ForcedID, sel.ActiveID, sel.PreferredID, defaultID} {
		if id == "" {
			continue
		}
		if slices.ContainsFunc(candidates, func(c domain.SourceCandidate) bool { return c.ID == id }) {
			return id
		}
	}
	return candidates[0].ID
}

// candidateList accumulates candidates, dropping empty and duplicate URLs
type candidateList struct {
	items []domain.SourceCandidate
	seen  map[string]bool
}

func newCandidateList() *candidateList {
	return &candidateList{seen: make(map[string]bool)}
}

func (l *candidateList) add(id, label, url string, needAuth bool) {
	url = strings.TrimSpace(url)
	key := strings.ToLower(url)
	if url == "" || id == "" || l.seen[key] {
		return
	}
	l.seen[key] = true
	if label == "" {
		label = id
	}
	l.items = append(l.items, domain.SourceCandidate{ID: id, Label: label, URL: url, NeedAuth: needAuth})
}

func (l *candidateList) empty() bool {
	return len(l.items) == 0
}
