package playback

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/feed"
	"github.com/mmcdole/feedplay/internal/log"
	"github.com/mmcdole/feedplay/internal/loop/looptest"
	"github.com/mmcdole/feedplay/internal/source"
	"github.com/mmcdole/feedplay/internal/store"
	"github.com/mmcdole/feedplay/internal/stream"
)

const backendHost = "nas.local:8000"

type load struct {
	url    string
	offset time.Duration
}

type fakeElement struct {
	loads    []load
	unloads  int
	position time.Duration
	emit     func(stream.ElementEvent)
}

func (e *fakeElement) Load(url string, offset time.Duration, emit func(stream.ElementEvent)) error {
	e.loads = append(e.loads, load{url, offset})
	e.emit = emit
	return nil
}

func (e *fakeElement) Unload()                 { e.unloads++ }
func (e *fakeElement) Position() time.Duration { return e.position }

func (e *fakeElement) last() load {
	if len(e.loads) == 0 {
		return load{}
	}
	return e.loads[len(e.loads)-1]
}

type fakePipeline struct{ el *fakeElement }

func (p *fakePipeline) Attach(url string, offset time.Duration, emit func(stream.ElementEvent), _ func(stream.Fault)) error {
	return p.el.Load(url, offset, emit)
}
func (p *fakePipeline) ResumeLoading()     {}
func (p *fakePipeline) RecoverMediaError() {}
func (p *fakePipeline) Destroy()           {}

type fakeFeed struct {
	mu    sync.Mutex
	items []domain.FeedItem
	lists map[string][]domain.FeedItem
}

func (f *fakeFeed) set(items ...domain.FeedItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

func (f *fakeFeed) Feed(_ context.Context, filter domain.FeedFilter, page, pageSize int) (domain.FeedPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.items
	if list, ok := f.lists[filter.Key()]; ok {
		items = list
	}
	start := min((page-1)*pageSize, len(items))
	end := min(start+pageSize, len(items))
	return domain.FeedPage{Total: len(items), Items: slices.Clone(items[start:end])}, nil
}

type fakeBackend struct {
	mu          sync.Mutex
	details     map[string]*domain.ItemDetail
	detailErr   map[string]error
	detailCalls []string
	rooms       map[string]*domain.LiveRoomInfo
	prefetches  []string
	members     map[string]bool
	checks      int
	adds        int
	removes     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		details:   map[string]*domain.ItemDetail{},
		detailErr: map[string]error{},
		rooms:     map[string]*domain.LiveRoomInfo{},
		members:   map[string]bool{},
	}
}

func videoDetail(id string) *domain.ItemDetail {
	return &domain.ItemDetail{
		AwemeID: id,
		Type:    domain.ItemTypeVideo,
		VideoURLs: []domain.SourceCandidate{
			{ID: source.Proxy, Label: "NAS", URL: "http://" + backendHost + "/media/" + id + ".mp4"},
			{ID: source.Upstream, Label: "Douyin", URL: "https://cdn.example/" + id + ".mp4"},
		},
		DefaultVideoSource: source.Proxy,
	}
}

func proxyURL(id string) string { return "http://" + backendHost + "/media/" + id + ".mp4" }

func (b *fakeBackend) Detail(_ context.Context, awemeID string) (*domain.ItemDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detailCalls = append(b.detailCalls, awemeID)
	if err := b.detailErr[awemeID]; err != nil {
		return nil, err
	}
	if d, ok := b.details[awemeID]; ok {
		return d, nil
	}
	return videoDetail(awemeID), nil
}

func (b *fakeBackend) LiveRoom(_ context.Context, secUserID string) (*domain.LiveRoomInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room, ok := b.rooms[secUserID]; ok {
		return room, nil
	}
	return nil, fmt.Errorf("room %s: %w", secUserID, domain.ErrContentGone)
}

func (b *fakeBackend) Prefetch(_ context.Context, url string, size int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prefetches = append(b.prefetches, url)
	return size, nil
}

func (b *fakeBackend) CheckMembership(_ context.Context, _ string, ids []string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checks++
	var found []string
	for _, id := range ids {
		if b.members[id] {
			found = append(found, id)
		}
	}
	return found, nil
}

func (b *fakeBackend) AddToPlaylist(_ context.Context, _ string, ids []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds++
	for _, id := range ids {
		b.members[id] = true
	}
	return len(ids), nil
}

func (b *fakeBackend) RemoveFromPlaylist(_ context.Context, _ string, ids []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes++
	for _, id := range ids {
		delete(b.members, id)
	}
	return len(ids), nil
}

type urls struct{}

func (urls) ResolveURL(raw string) string { return raw }
func (urls) LocalStreamURL(awemeID string) string {
	return "http://" + backendHost + "/local/" + awemeID
}
func (urls) ProxyURL(raw string, live bool) string {
	if live {
		return "http://" + backendHost + "/live?url=" + raw
	}
	return "http://" + backendHost + "/stream?url=" + raw
}

type harness struct {
	rt      *looptest.Manual
	el      *fakeElement
	feed    *fakeFeed
	backend *fakeBackend
	records *store.RecordStore
	prefs   *store.Preferences
	members *store.MembershipCache
	stream  *stream.Controller
	sync    *feed.Synchronizer
	ctrl    *Controller
}

func newHarness(t *testing.T, opts Options, items ...domain.FeedItem) *harness {
	t.Helper()
	logger := log.NullLogger()
	db, err := store.Open("", "http://"+backendHost, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		rt:      looptest.New(),
		el:      &fakeElement{},
		feed:    &fakeFeed{items: items, lists: map[string][]domain.FeedItem{}},
		backend: newFakeBackend(),
	}
	h.records = store.NewRecordStore(db, h.rt, store.RecordOptions{}, logger)
	h.prefs = store.NewPreferences(db, logger)
	h.members = store.NewMembershipCache(db, logger)
	h.stream = stream.New(h.rt, h.el, func(el stream.Element) stream.Pipeline {
		return &fakePipeline{el: h.el}
	}, h.prefs, backendHost, stream.DefaultConfig(), logger)
	h.sync = feed.New(h.rt, h.feed, feed.Options{PageSize: 10}, logger)
	h.ctrl = New(Deps{
		Runtime:     h.rt,
		Feed:        h.sync,
		Sources:     source.NewEngine(urls{}, source.Options{}, logger),
		Stream:      h.stream,
		Backend:     h.backend,
		Records:     h.records,
		Membership:  h.members,
		Preferences: h.prefs,
	}, opts, logger)
	t.Cleanup(h.ctrl.Close)
	return h
}

var daily = domain.FeedFilter{Kind: domain.FilterDaily}

func videos(ids ...string) []domain.FeedItem {
	items := make([]domain.FeedItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, domain.FeedItem{Type: domain.ItemTypeVideo, AwemeID: id, Title: "title " + id})
	}
	return items
}

func (h *harness) emit(kind stream.ElementEventKind, pos, dur time.Duration) {
	h.el.emit(stream.ElementEvent{Kind: kind, Position: pos, Duration: dur})
}

func (h *harness) activeID() string {
	if s := h.ctrl.Session(); s != nil {
		return s.Identity
	}
	return ""
}

func TestStart_SelectsFirstItem(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2", "v3")...)
	h.ctrl.Start(daily)

	assert.Equal(t, 0, h.ctrl.ActiveIndex())
	assert.Equal(t, "video:v1", h.activeID())
	require.Len(t, h.el.loads, 1)
	assert.Equal(t, load{proxyURL("v1"), 0}, h.el.last())
	assert.Equal(t, stream.StateAttaching, h.stream.State())

	h.emit(stream.ElementPlaying, 0, 0)
	assert.Equal(t, stream.StatePlaying, h.ctrl.Snapshot().State)
}

func TestActivate_ResumesFromStoredPosition(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.records.Upsert("video:v1", store.Update{Time: 30 * time.Second, Duration: 60 * time.Second})
	h.ctrl.Start(daily)

	assert.Equal(t, load{proxyURL("v1"), 30 * time.Second}, h.el.last())
	assert.Equal(t, 30*time.Second, h.ctrl.Session().ResumeOffset)
}

func TestActivate_IgnoresOffsetBelowThreshold(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.records.Upsert("video:v1", store.Update{Time: 800 * time.Millisecond, Duration: 60 * time.Second})
	h.ctrl.Start(daily)

	assert.Equal(t, load{proxyURL("v1"), 0}, h.el.last())
}

func TestActivate_PrefersCachedOffsetOverStored(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementTimeUpdate, 10*time.Second, 60*time.Second)
	h.rt.Advance(500 * time.Millisecond)
	h.emit(stream.ElementTimeUpdate, 10500*time.Millisecond, 60*time.Second)

	require.NoError(t, h.ctrl.PlayNext())
	require.NoError(t, h.ctrl.PlayPrevious())

	assert.Equal(t, load{proxyURL("v1"), 10500 * time.Millisecond}, h.el.last())
}

func TestCompletedRecord_SuppressesAutoplayUntilReplay(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.records.MarkCompleted("video:v1", 60*time.Second)
	h.ctrl.Start(daily)

	assert.Empty(t, h.el.loads)
	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Session)
	assert.True(t, snap.Session.ReplayReady)
	assert.Equal(t, source.Proxy, snap.Session.SourceID)

	require.NoError(t, h.ctrl.Replay())
	assert.Equal(t, load{proxyURL("v1"), 0}, h.el.last())

	rec, ok := h.records.Get("video:v1")
	require.True(t, ok)
	assert.False(t, rec.Completed)
	assert.Zero(t, rec.Progress)
	assert.Zero(t, rec.Time)
	assert.False(t, h.ctrl.Session().ReplayReady)
}

func TestReplay_WithoutSession(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.ctrl.Replay(), domain.ErrNoSession)
}

func TestPlayNext_PersistsOutgoingAsCompleted(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2", "v3")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementPlaying, 0, 0)
	h.emit(stream.ElementTimeUpdate, 59500*time.Millisecond, 60*time.Second)

	require.NoError(t, h.ctrl.PlayNext())

	assert.Equal(t, 1, h.ctrl.ActiveIndex())
	assert.Equal(t, "video:v2", h.activeID())
	assert.Equal(t, load{proxyURL("v2"), 0}, h.el.last())

	rec, ok := h.records.Get("video:v1")
	require.True(t, ok)
	assert.True(t, rec.Completed)
	assert.Equal(t, 100, rec.Progress)
	assert.Equal(t, "watched", h.ctrl.Snapshot().Items[0].Label)
}

func TestPlayNext_PersistsPartialPosition(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementTimeUpdate, 15*time.Second, 60*time.Second)

	require.NoError(t, h.ctrl.PlayNext())

	rec, _ := h.records.Get("video:v1")
	assert.False(t, rec.Completed)
	assert.Equal(t, 15*time.Second, rec.Time)
	assert.Equal(t, 25, rec.Progress)
	assert.Equal(t, "25%", h.ctrl.Snapshot().Items[0].Label)
}

func TestPlayNext_WrapsAround(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	require.NoError(t, h.ctrl.PlayNext())
	require.NoError(t, h.ctrl.PlayNext())
	assert.Equal(t, 0, h.ctrl.ActiveIndex())
}

func TestPlayPrevious_StaysOnFirst(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	loads := len(h.el.loads)

	require.NoError(t, h.ctrl.PlayPrevious())
	assert.Equal(t, 0, h.ctrl.ActiveIndex())
	assert.Len(t, h.el.loads, loads)
}

func TestSelectItem_SameIndexIsNoop(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	sessionID := h.ctrl.Session().ID
	unloads := h.el.unloads

	require.NoError(t, h.ctrl.SelectItem(0, true))

	assert.Len(t, h.el.loads, 1)
	assert.Equal(t, unloads, h.el.unloads)
	assert.Equal(t, sessionID, h.ctrl.Session().ID)
	assert.True(t, h.ctrl.Snapshot().AudioUnlocked)
}

func TestSelectItem_OutOfRange(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)

	assert.ErrorIs(t, h.ctrl.SelectItem(5, true), domain.ErrIndexOutOfRange)
	assert.ErrorIs(t, h.ctrl.SelectItem(-1, true), domain.ErrIndexOutOfRange)
	assert.Equal(t, 0, h.ctrl.ActiveIndex())
}

func TestEnded_MarksCompletedAndAdvances(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementPlaying, 0, 0)
	h.emit(stream.ElementEnded, 42*time.Second, 42*time.Second)

	rec, _ := h.records.Get("video:v1")
	assert.True(t, rec.Completed)
	assert.Equal(t, 42*time.Second, rec.Time)
	assert.Equal(t, 1, h.ctrl.ActiveIndex())
	assert.Equal(t, load{proxyURL("v2"), 0}, h.el.last())

	h.emit(stream.ElementEnded, 10*time.Second, 10*time.Second)
	assert.Equal(t, 0, h.ctrl.ActiveIndex())
	// v1 is completed, so it waits for replay
	assert.True(t, h.ctrl.Session().ReplayReady)
	assert.Len(t, h.el.loads, 2)
}

func TestEnded_SingleItemWaitsForReplay(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementEnded, 30*time.Second, 30*time.Second)

	assert.Equal(t, 0, h.ctrl.ActiveIndex())
	assert.True(t, h.ctrl.Session().ReplayReady)
	assert.Len(t, h.el.loads, 1)
}

func TestProgress_PersistsAtMostOncePerInterval(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)

	h.emit(stream.ElementTimeUpdate, 1*time.Second, 100*time.Second)
	h.rt.Advance(300 * time.Millisecond)
	h.emit(stream.ElementTimeUpdate, 1300*time.Millisecond, 100*time.Second)

	rec, _ := h.records.Get("video:v1")
	assert.Equal(t, 1*time.Second, rec.Time)

	h.rt.Advance(time.Second)
	h.emit(stream.ElementTimeUpdate, 2300*time.Millisecond, 100*time.Second)
	rec, _ = h.records.Get("video:v1")
	assert.Equal(t, 2300*time.Millisecond, rec.Time)
	assert.Equal(t, 2, rec.Progress)
}

func TestRefresh_MovedActiveItemStaysAttached(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementPlaying, 0, 0)
	sessionID := h.ctrl.Session().ID
	loads, unloads := len(h.el.loads), h.el.unloads

	h.feed.set(videos("n1", "n2", "n3", "v1", "v2")...)
	h.sync.NotifyPush(domain.ReasonVideo)
	h.rt.Advance(time.Second)

	assert.Equal(t, 3, h.ctrl.ActiveIndex())
	assert.Equal(t, sessionID, h.ctrl.Session().ID)
	assert.Len(t, h.el.loads, loads)
	assert.Equal(t, unloads, h.el.unloads)
	assert.Equal(t, stream.StatePlaying, h.stream.State())
}

func TestRefresh_DeletionTearsDownWithNotice(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementPlaying, 0, 0)

	h.feed.set(videos("v2")...)
	h.sync.NotifyPush(domain.ReasonDelete)
	h.rt.Advance(time.Second)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, -1, snap.ActiveIndex)
	assert.Nil(t, snap.Session)
	assert.Equal(t, NoticeContentRemoved, snap.Notice)
	assert.Equal(t, stream.StateIdle, snap.State)

	// navigation still works afterwards
	require.NoError(t, h.ctrl.SelectItem(0, true))
	assert.Equal(t, load{proxyURL("v2"), 0}, h.el.last())
}

func TestRefresh_RemovedWithoutDeletionFallsBackToFirst(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)

	h.feed.set(videos("n1", "v2")...)
	h.sync.NotifyPush(domain.ReasonVideo)
	h.rt.Advance(time.Second)

	assert.Equal(t, 0, h.ctrl.ActiveIndex())
	assert.Equal(t, "video:n1", h.activeID())
	assert.Equal(t, load{proxyURL("n1"), 0}, h.el.last())
}

func TestRefresh_EmptyListClearsSelection(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)

	h.feed.set()
	h.sync.NotifyPush(domain.ReasonCleanup)
	h.rt.Advance(time.Second)

	assert.Equal(t, -1, h.ctrl.ActiveIndex())
	assert.Equal(t, stream.StateIdle, h.stream.State())
}

func TestSwitchSource_ReattachesAtPosition(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementPlaying, 0, 0)
	h.emit(stream.ElementTimeUpdate, 12*time.Second, 60*time.Second)

	require.NoError(t, h.ctrl.SwitchSource(source.Upstream))

	assert.Equal(t, load{"https://cdn.example/v1.mp4", 12 * time.Second}, h.el.last())
	assert.Equal(t, source.Upstream, h.ctrl.Session().SourceID)
	assert.Empty(t, h.prefs.SourcePreference(), "preference waits for playback")

	h.emit(stream.ElementPlaying, 12*time.Second, 0)
	assert.Equal(t, source.Upstream, h.prefs.SourcePreference())
}

func TestSwitchSource_PreferenceAppliesToNextItem(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	require.NoError(t, h.ctrl.SwitchSource(source.Upstream))
	h.emit(stream.ElementPlaying, 0, 0)

	require.NoError(t, h.ctrl.PlayNext())
	assert.Equal(t, "https://cdn.example/v2.mp4", h.el.last().url)
}

func TestSwitchSource_Errors(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	assert.ErrorIs(t, h.ctrl.SwitchSource(source.Proxy), domain.ErrNoSession)

	h.ctrl.Start(daily)
	assert.Error(t, h.ctrl.SwitchSource("bogus"))

	loads := len(h.el.loads)
	require.NoError(t, h.ctrl.SwitchSource(source.Proxy))
	assert.Len(t, h.el.loads, loads)
}

func TestCycleSource(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)

	require.NoError(t, h.ctrl.CycleSource())
	assert.Equal(t, source.Upstream, h.ctrl.Session().SourceID)
	require.NoError(t, h.ctrl.CycleSource())
	assert.Equal(t, source.Proxy, h.ctrl.Session().SourceID)
}

func TestStaleDetailIsDropped(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2", "v3")...)
	h.rt.HoldBackground()
	h.ctrl.Start(daily)
	h.rt.RunBackgroundAt(0) // page one

	require.Equal(t, 0, h.ctrl.ActiveIndex())
	require.NoError(t, h.ctrl.SelectItem(1, true))

	// v1 detail lands after the viewer moved on
	h.rt.RunBackgroundAt(0)
	assert.Empty(t, h.el.loads)

	h.rt.RunBackground()
	require.Len(t, h.el.loads, 1)
	assert.Equal(t, proxyURL("v2"), h.el.last().url)
}

func TestDetailGone_ShowsNoticeAndKeepsNavigation(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.backend.detailErr["v1"] = fmt.Errorf("detail v1: %w", domain.ErrContentGone)
	h.ctrl.Start(daily)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, NoticeContentRemoved, snap.Notice)
	assert.ErrorIs(t, snap.Err, domain.ErrContentGone)
	assert.Empty(t, h.el.loads)

	require.NoError(t, h.ctrl.PlayNext())
	assert.Equal(t, proxyURL("v2"), h.el.last().url)
	assert.Empty(t, h.ctrl.Snapshot().Notice)
}

func TestPrefetch_WarmsNextItem(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2", "v3")...)
	h.ctrl.Start(daily)

	assert.Equal(t, []string{"v1", "v2"}, h.backend.detailCalls)
	assert.Equal(t, []string{proxyURL("v2")}, h.backend.prefetches)

	require.NoError(t, h.ctrl.PlayNext())
	assert.Equal(t, []string{"v1", "v2", "v3"}, h.backend.detailCalls, "v2 detail is reused")
	assert.Equal(t, proxyURL("v2"), h.el.last().url)
}

func TestPrefetch_SkipsLastItem(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)
	assert.Empty(t, h.backend.prefetches)
}

func TestNote_WithoutAudioHasNoStream(t *testing.T) {
	note := domain.FeedItem{Type: domain.ItemTypeNote, AwemeID: "n1"}
	h := newHarness(t, Options{}, note)
	h.backend.details["n1"] = &domain.ItemDetail{AwemeID: "n1", Type: domain.ItemTypeNote}
	h.ctrl.Start(daily)

	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Session)
	assert.True(t, snap.Session.NoStream)
	assert.NoError(t, snap.Err)
	assert.Empty(t, h.el.loads)
}

func TestLive_ResolvesFromRoomInfo(t *testing.T) {
	live := domain.FeedItem{Type: domain.ItemTypeLive, SecUserID: "u1", HLSPullURLMap: map[string]string{"SD1": "https://live.example/stale.m3u8"}}
	h := newHarness(t, Options{}, live)
	h.backend.rooms["u1"] = &domain.LiveRoomInfo{LiveStatus: true, Room: domain.LiveRoom{
		HLSPullURLMap: map[string]string{"SD1": "https://live.example/sd.m3u8", "FULL_HD1": "https://live.example/hd.m3u8"},
	}}
	h.ctrl.Start(daily)

	assert.Equal(t, "live:u1", h.activeID())
	assert.Equal(t, load{"https://live.example/hd.m3u8", 0}, h.el.last())
	assert.Equal(t, "hls:FULL_HD1", h.ctrl.Session().SourceID)

	h.emit(stream.ElementTimeUpdate, 30*time.Second, 0)
	_, ok := h.records.Get("live:u1")
	assert.False(t, ok, "live progress is not recorded")
}

func TestLive_FallsBackToItemMaps(t *testing.T) {
	live := domain.FeedItem{Type: domain.ItemTypeLive, SecUserID: "u2", FLVPullURL: map[string]string{"HD1": "https://live.example/hd.flv"}}
	h := newHarness(t, Options{}, live)
	h.ctrl.Start(daily)

	assert.Equal(t, "https://live.example/hd.flv", h.el.last().url)
}

func TestLive_EndedShowsNotice(t *testing.T) {
	live := domain.FeedItem{Type: domain.ItemTypeLive, SecUserID: "u3"}
	h := newHarness(t, Options{}, live)
	h.backend.rooms["u3"] = &domain.LiveRoomInfo{LiveStatus: false}
	h.ctrl.Start(daily)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, NoticeLiveEnded, snap.Notice)
	assert.ErrorIs(t, snap.Err, domain.ErrResolutionFailure)
}

func TestAuthorize_RetriesWithCacheBust(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.backend.details["v1"] = &domain.ItemDetail{
		AwemeID: "v1",
		Type:    domain.ItemTypeVideo,
		VideoURLs: []domain.SourceCandidate{
			{ID: source.Origin, URL: "http://192.168.1.50:5005/dav/v1.mp4", NeedAuth: true},
		},
	}
	h.ctrl.Start(daily)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, stream.StateAuthRequired, snap.State)
	assert.NotEmpty(t, snap.AuthURL)
	assert.ErrorIs(t, snap.Err, domain.ErrAuthorizationRequired)
	assert.Equal(t, domain.KindAuthorization, domain.Classify(snap.Err))
	assert.Empty(t, h.el.loads)

	require.NoError(t, h.ctrl.Authorize())
	assert.NoError(t, h.ctrl.Snapshot().Err)
	require.Len(t, h.el.loads, 1)
	assert.True(t, strings.HasPrefix(h.el.last().url, "http://192.168.1.50:5005/dav/v1.mp4?_auth="))
	assert.True(t, h.prefs.HostAuthorized("192.168.1.50:5005"))
}

func TestSetFilter_SwitchesListAndSelectsFirst(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	pl := domain.FeedFilter{Kind: domain.FilterPlaylist, PlaylistID: "p1"}
	h.feed.lists[pl.Key()] = videos("p1", "p2")
	h.ctrl.Start(daily)
	h.emit(stream.ElementTimeUpdate, 20*time.Second, 60*time.Second)

	h.ctrl.SetFilter(pl)

	rec, _ := h.records.Get("video:v1")
	assert.Equal(t, 20*time.Second, rec.Time)
	assert.Equal(t, "video:p1", h.activeID())
	assert.Equal(t, pl, h.ctrl.Snapshot().Filter)
}

func TestActivate_LoadsMoreNearEnd(t *testing.T) {
	ids := make([]string, 25)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%d", i)
	}
	h := newHarness(t, Options{}, videos(ids...)...)
	h.ctrl.Start(daily)
	require.Len(t, h.sync.Items(), 10)

	require.NoError(t, h.ctrl.SelectItem(6, true))
	assert.Len(t, h.sync.Items(), 10)

	require.NoError(t, h.ctrl.SelectItem(7, true))
	assert.Len(t, h.sync.Items(), 20)
}

func TestToggleMembership(t *testing.T) {
	h := newHarness(t, Options{PlaylistID: "fav"}, videos("v1")...)
	h.ctrl.Start(daily)
	require.True(t, h.ctrl.Session().MemberKnown)
	require.Equal(t, 1, h.backend.checks)

	var got []bool
	record := func(member bool, err error) {
		require.NoError(t, err)
		got = append(got, member)
	}
	h.ctrl.TogglePlaylistMembership(record)
	h.ctrl.TogglePlaylistMembership(record)

	assert.Equal(t, []bool{true, false}, got)
	assert.Equal(t, 1, h.backend.adds)
	assert.Equal(t, 1, h.backend.removes)
	assert.Equal(t, 1, h.backend.checks, "cached membership skips the check")

	member, known := h.members.Read("fav", "video:v1")
	assert.True(t, known)
	assert.False(t, member)
	assert.False(t, h.ctrl.Session().Member)
}

func TestCheckMembership_ForceBypassesCache(t *testing.T) {
	h := newHarness(t, Options{PlaylistID: "fav"}, videos("v1")...)
	h.ctrl.Start(daily)
	h.backend.members["v1"] = true

	var member bool
	h.ctrl.CheckMembership(false, func(m bool, err error) { member = m })
	assert.False(t, member)

	h.ctrl.CheckMembership(true, func(m bool, err error) { member = m })
	assert.True(t, member)
	assert.Equal(t, 2, h.backend.checks)
}

func TestMembership_NeedsPlaylist(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)

	var err error
	h.ctrl.TogglePlaylistMembership(func(_ bool, e error) { err = e })
	assert.ErrorIs(t, err, ErrNoPlaylist)
	assert.Zero(t, h.backend.checks)
}

func TestMembership_StaleResultKeepsCacheOnly(t *testing.T) {
	h := newHarness(t, Options{PlaylistID: "fav"}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.rt.HoldBackground()

	h.ctrl.TogglePlaylistMembership(nil)
	require.NoError(t, h.ctrl.SelectItem(1, true))
	h.rt.RunBackground()

	member, _ := h.members.Read("fav", "video:v1")
	assert.True(t, member)
	assert.Equal(t, "video:v2", h.activeID())
	assert.False(t, h.ctrl.Session().Member)
}

func TestReplayItem_OtherIndexStartsFromZero(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.records.MarkCompleted("video:v2", 60*time.Second)
	h.ctrl.Start(daily)

	require.NoError(t, h.ctrl.ReplayItem(1))
	assert.Equal(t, load{proxyURL("v2"), 0}, h.el.last())
	rec, _ := h.records.Get("video:v2")
	assert.False(t, rec.Completed)
}

func TestClose_PersistsActivePosition(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementTimeUpdate, 5*time.Second, 60*time.Second)
	h.rt.Advance(200 * time.Millisecond)
	h.emit(stream.ElementTimeUpdate, 5800*time.Millisecond, 60*time.Second)

	h.ctrl.Close()

	rec, _ := h.records.Get("video:v1")
	assert.Equal(t, 5800*time.Millisecond, rec.Time)
	assert.Equal(t, stream.StateIdle, h.stream.State())
}

func TestSnapshot_RevisionAdvances(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	before := h.ctrl.Snapshot().Revision
	h.ctrl.Start(daily)
	after := h.ctrl.Snapshot()

	assert.Greater(t, after.Revision, before)
	assert.Len(t, after.Items, 2)
	assert.Equal(t, 2, after.Total)
	assert.False(t, after.HasMore)
}

func numbered(n int) []domain.FeedItem {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%02d", i)
	}
	return videos(ids...)
}

func TestRefresh_ActiveItemBeyondFirstPageStaysAttached(t *testing.T) {
	all := numbered(35)
	h := newHarness(t, Options{}, all...)
	h.ctrl.Start(daily)
	h.ctrl.LoadMore()
	h.ctrl.LoadMore()
	require.Len(t, h.sync.Items(), 30)

	require.NoError(t, h.ctrl.SelectItem(12, true))
	h.emit(stream.ElementPlaying, 0, 0)
	sessionID := h.ctrl.Session().ID
	loads := len(h.el.loads)

	// a new upload lands on top of page one
	withNew := append(videos("n00"), all...)
	h.feed.set(withNew...)
	h.sync.NotifyPush(domain.ReasonVideo)
	h.rt.Advance(time.Second)

	assert.Equal(t, "video:v12", h.activeID())
	assert.Equal(t, 13, h.ctrl.ActiveIndex())
	assert.Equal(t, sessionID, h.ctrl.Session().ID)
	assert.Len(t, h.el.loads, loads)
	assert.Equal(t, stream.StatePlaying, h.stream.State())

	i := feed.IndexOf(h.sync.Items(), "video:v28")
	require.GreaterOrEqual(t, i, 10)
	require.NoError(t, h.ctrl.SelectItem(i, true))
	h.emit(stream.ElementPlaying, 0, 0)

	// only v00 is deleted upstream
	h.feed.set(slices.Delete(slices.Clone(withNew), 1, 2)...)
	h.sync.NotifyPush(domain.ReasonDelete)
	h.rt.Advance(time.Second)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "video:v28", h.activeID())
	assert.Empty(t, snap.Notice)
	assert.Equal(t, stream.StatePlaying, snap.State)
	assert.Equal(t, -1, feed.IndexOf(h.sync.Items(), "video:v00"))
}

func TestDetailOffline_IsVisibleAndResumeRetries(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.backend.detailErr["v1"] = domain.ErrServerOffline
	h.ctrl.Start(daily)
	h.rt.Advance(time.Minute)

	snap := h.ctrl.Snapshot()
	require.NotNil(t, snap.Session)
	assert.False(t, snap.Session.Resolving)
	assert.ErrorIs(t, snap.Err, domain.ErrResolutionFailure)
	assert.ErrorIs(t, snap.Err, domain.ErrTransientNetwork)
	assert.True(t, domain.Classify(snap.Err).IsUserVisible())
	assert.Empty(t, h.el.loads)

	delete(h.backend.detailErr, "v1")
	require.NoError(t, h.ctrl.Resume())
	assert.Equal(t, load{proxyURL("v1"), 0}, h.el.last())
	assert.NoError(t, h.ctrl.Snapshot().Err)
}

func TestStopped_KeepsPositionWithoutAdvancing(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.ctrl.Start(daily)
	h.emit(stream.ElementPlaying, 0, 0)
	h.emit(stream.ElementTimeUpdate, 20*time.Second, time.Minute)

	h.emit(stream.ElementStopped, 25*time.Second, time.Minute)

	assert.Equal(t, 0, h.ctrl.ActiveIndex())
	assert.Equal(t, stream.StateIdle, h.stream.State())
	rec, ok := h.records.Get("video:v1")
	require.True(t, ok)
	assert.False(t, rec.Completed)
	assert.Equal(t, 25*time.Second, rec.Time)
	assert.Len(t, h.el.loads, 1)

	require.NoError(t, h.ctrl.Resume())
	assert.Equal(t, load{proxyURL("v1"), 25 * time.Second}, h.el.last())

	// a second resume while attached does nothing
	require.NoError(t, h.ctrl.Resume())
	assert.Len(t, h.el.loads, 2)
}

func TestResume_WithoutSession(t *testing.T) {
	h := newHarness(t, Options{})
	assert.ErrorIs(t, h.ctrl.Resume(), domain.ErrNoSession)
}

func TestReplay_LiveWritesNoRecord(t *testing.T) {
	live := domain.FeedItem{Type: domain.ItemTypeLive, SecUserID: "u1"}
	h := newHarness(t, Options{}, live)
	h.backend.rooms["u1"] = &domain.LiveRoomInfo{LiveStatus: true, Room: domain.LiveRoom{
		HLSPullURLMap: map[string]string{"SD1": "https://live.example/sd.m3u8"},
	}}
	h.ctrl.Start(daily)
	require.Len(t, h.el.loads, 1)

	require.NoError(t, h.ctrl.Replay())
	require.NoError(t, h.ctrl.ReplayItem(0))

	assert.Len(t, h.el.loads, 3)
	_, ok := h.records.Get("live:u1")
	assert.False(t, ok)
}

func TestPrefetch_SkipsSourcesAwaitingAuthorization(t *testing.T) {
	h := newHarness(t, Options{}, videos("v1", "v2")...)
	h.backend.details["v2"] = &domain.ItemDetail{
		AwemeID: "v2",
		Type:    domain.ItemTypeVideo,
		VideoURLs: []domain.SourceCandidate{
			{ID: source.Origin, URL: "http://192.168.1.50:5005/dav/v2.mp4"},
		},
	}
	h.ctrl.Start(daily)

	assert.Equal(t, []string{"v1", "v2"}, h.backend.detailCalls)
	assert.Empty(t, h.backend.prefetches)

	// once the host is allowed the next warm-up goes through
	h.prefs.RememberHost("192.168.1.50:5005")
	require.NoError(t, h.ctrl.SelectItem(1, true))
	require.NoError(t, h.ctrl.SelectItem(0, true))
	assert.Equal(t, []string{"http://192.168.1.50:5005/dav/v2.mp4"}, h.backend.prefetches)
}
