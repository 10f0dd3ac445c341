// Package feed keeps the local item list in step with the server list.
package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/loop"
	"github.com/mmcdole/feedplay/internal/metrics"
)

const (
	DefaultPageSize        = 30
	DefaultRefreshDebounce = 600 * time.Millisecond
)

// Options tunes the Synchronizer
type Options struct {
	PageSize        int
	RefreshDebounce time.Duration
}

// ChangeKind names what happened to the list
type ChangeKind string

const (
	ChangeLoaded    ChangeKind = "loaded"
	ChangeAppended  ChangeKind = "appended"
	ChangeRefreshed ChangeKind = "refreshed"
	ChangeFailed    ChangeKind = "failed"
)

// Change is delivered to the owner on the loop after the list was updated
type Change struct {
	Kind   ChangeKind
	Reason string
	Err    error
}

// Synchronizer owns the paginated list for one filter. It is confined to the
// event loop; fetches run in the background and are applied on the loop.
type Synchronizer struct {
	rt     loop.Runtime
	client domain.FeedClient
	opts   Options
	logger *slog.Logger

	filter    domain.FeedFilter
	items     []domain.FeedItem
	total     int
	page      int
	loading   bool
	filterGen uint64
	listGen   uint64

	refreshTimer  loop.Timer
	pendingReason string
	refreshSeq    uint64
	appliedSeq    uint64

	onChange func(Change)
}

// New creates a synchronizer for the daily feed. Nothing is fetched until
// SetFilter is called.
func New(rt loop.Runtime, client domain.FeedClient, opts Options, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.RefreshDebounce <= 0 {
		opts.RefreshDebounce = DefaultRefreshDebounce
	}
	return &Synchronizer{
		rt:       rt,
		client:   client,
		opts:     opts,
		logger:   logger,
		filter:   domain.FeedFilter{Kind: domain.FilterDaily},
		onChange: func(Change) {},
	}
}

// OnChange sets the owner callback
func (s *Synchronizer) OnChange(fn func(Change)) {
	if fn == nil {
		fn = func(Change) {}
	}
	s.onChange = fn
}

// Items returns the current list. Callers must not modify it.
func (s *Synchronizer) Items() []domain.FeedItem { return s.items }

func (s *Synchronizer) Total() int                { return s.total }
func (s *Synchronizer) Page() int                 { return s.page }
func (s *Synchronizer) Loading() bool             { return s.loading }
func (s *Synchronizer) Filter() domain.FeedFilter { return s.filter }

// HasMore reports whether the server holds items beyond the local list
func (s *Synchronizer) HasMore() bool {
	return len(s.items) < s.total
}

// SetFilter switches lists: state is cleared, any pending refresh is
// cancelled and page one is loaded.
func (s *Synchronizer) SetFilter(f domain.FeedFilter) {
	s.filterGen++
	s.listGen++
	s.filter = f
	s.items = nil
	s.total = 0
	s.page = 0
	s.loading = false
	s.pendingReason = ""
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}

	s.logger.Info("loading feed", "filter", f.Key())
	s.fetch(1, func(page domain.FeedPage) {
		s.items = page.Items
		s.total = page.Total
		s.page = 1
		s.onChange(Change{Kind: ChangeLoaded})
	})
}

// LoadMore appends the next page. It is ignored while a load is in flight
// or when the list is complete.
func (s *Synchronizer) LoadMore() {
	if s.loading || s.page == 0 || !s.HasMore() {
		return
	}
	next := s.page + 1
	s.fetch(next, func(page domain.FeedPage) {
		seen := make(map[string]bool, len(s.items))
		for _, item := range s.items {
			if id := item.Identity(); id != "" {
				seen[id] = true
			}
		}
		added := 0
		for _, item := range page.Items {
			id := item.Identity()
			if id != "" && seen[id] {
				continue
			}
			seen[id] = id != ""
			s.items = append(s.items, item)
			added++
		}
		s.total = page.Total
		s.page = next
		if added == 0 && len(page.Items) == 0 {
			// the server ran dry before total
			s.total = len(s.items)
		}
		s.onChange(Change{Kind: ChangeAppended})
	})
}

// fetch loads one page in the background and applies it with the list
// generation checked.
func (s *Synchronizer) fetch(page int, apply func(domain.FeedPage)) {
	filter, filterGen, listGen := s.filter, s.filterGen, s.listGen
	s.loading = true

	s.rt.Go(func() {
		result, err := s.client.Feed(context.Background(), filter, page, s.opts.PageSize)
		s.rt.Post(func() {
			if filterGen != s.filterGen || listGen != s.listGen {
				s.logger.Debug("dropping stale feed page", "filter", filter.Key(), "page", page)
				return
			}
			s.loading = false
			if err != nil {
				s.logger.Error("failed to load feed", "error", err, "filter", filter.Key(), "page", page)
				s.onChange(Change{Kind: ChangeFailed, Err: err})
				return
			}
			apply(result)
		})
	})
}

// NotifyPush schedules a silent refresh. Bursts collapse into one refresh;
// a deletion reason is kept for the whole burst.
func (s *Synchronizer) NotifyPush(reason string) {
	if !(domain.FeedEvent{Reason: s.pendingReason}).IsDeletion() {
		s.pendingReason = reason
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = s.rt.AfterFunc(s.opts.RefreshDebounce, func() {
		s.refreshTimer = nil
		reason := s.pendingReason
		s.pendingReason = ""
		s.refresh(reason)
	})
}

// refresh re-fetches page one and merges it into the list
func (s *Synchronizer) refresh(reason string) {
	filter, filterGen := s.filter, s.filterGen
	s.refreshSeq++
	seq := s.refreshSeq
	metrics.RecordFeedRefresh(reason)

	s.rt.Go(func() {
		result, err := s.client.Feed(context.Background(), filter, 1, s.opts.PageSize)
		s.rt.Post(func() {
			if filterGen != s.filterGen || seq <= s.appliedSeq {
				return
			}
			if err != nil {
				s.logger.Warn("silent refresh failed", "error", err, "reason", reason)
				return
			}
			s.appliedSeq = seq
			initial := s.page == 0
			// an in-flight load belongs to the replaced list
			s.listGen++
			s.loading = false
			s.items = mergeFirstPage(s.items, result)
			s.total = max(result.Total, len(s.items))
			s.page = max(s.page, 1)
			s.logger.Debug("feed refreshed", "reason", reason, "items", len(s.items), "total", s.total)
			if initial {
				s.onChange(Change{Kind: ChangeLoaded})
				return
			}
			s.onChange(Change{Kind: ChangeRefreshed, Reason: reason})
		})
	})
}

// mergeFirstPage puts a fresh page one in front of the later pages already
// loaded. Old items ranked before the last fresh item that the server no
// longer returns are dropped; items further down are kept until a reload
// can vouch for them. A page one holding the whole list replaces it.
func mergeFirstPage(old []domain.FeedItem, fresh domain.FeedPage) []domain.FeedItem {
	if len(fresh.Items) >= fresh.Total {
		return fresh.Items
	}
	inFresh := make(map[string]bool, len(fresh.Items))
	for _, item := range fresh.Items {
		if id := item.Identity(); id != "" {
			inFresh[id] = true
		}
	}
	anchor := -1
	for i, item := range old {
		if inFresh[item.Identity()] {
			anchor = i
		}
	}

	merged := make([]domain.FeedItem, 0, len(fresh.Items)+len(old)-anchor-1)
	merged = append(merged, fresh.Items...)
	for _, item := range old[anchor+1:] {
		if id := item.Identity(); id != "" && inFresh[id] {
			continue
		}
		merged = append(merged, item)
	}
	return merged
}

// Listen forwards server push events to NotifyPush until ctx is done
func (s *Synchronizer) Listen(ctx context.Context, sub domain.FeedSubscriber) error {
	return sub.Subscribe(ctx, func(ev domain.FeedEvent) {
		s.rt.Post(func() { s.NotifyPush(ev.Reason) })
	})
}
