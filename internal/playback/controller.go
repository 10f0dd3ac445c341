// Package playback orchestrates navigation, resume, source selection and
// progress persistence for the active feed item.
package playback

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/feedplay/internal/domain"
	"github.com/mmcdole/feedplay/internal/feed"
	"github.com/mmcdole/feedplay/internal/loop"
	"github.com/mmcdole/feedplay/internal/source"
	"github.com/mmcdole/feedplay/internal/store"
	"github.com/mmcdole/feedplay/internal/stream"
)

const (
	DefaultProgressInterval    = time.Second
	DefaultResumeThreshold     = time.Second
	DefaultCompletionTolerance = time.Second
	DefaultPrefetchBytes       = 512 * 1024
	DefaultLoadAhead           = 2
)

// Notices shown to the viewer
const (
	NoticeContentRemoved = "content removed"
	NoticeFeedFailed     = "feed unavailable"
	NoticeLiveEnded      = "live ended"
)

// Records persists playback progress
type Records interface {
	Get(id string) (domain.PlaybackRecord, bool)
	Upsert(id string, u store.Update) domain.PlaybackRecord
	MarkCompleted(id string, duration time.Duration) domain.PlaybackRecord
	Reset(id string) domain.PlaybackRecord
	Revision() uint64
	Flush()
}

// Membership caches playlist membership
type Membership interface {
	Read(collectionID, id string) (member, known bool)
	Write(collectionID, id string, member bool)
}

// Preferences stores the preferred source id
type Preferences interface {
	SourcePreference() string
	SetSourcePreference(id string)
}

// Stream owns the media attachment
type Stream interface {
	Attach(req stream.Request)
	Detach()
	Authorize() error
	State() stream.State
	AuthURL() string
	Position() time.Duration
	Gated(url string, needAuth bool) bool
	OnEvent(fn func(stream.Event))
}

// Backend is the subset of the server API used during playback
type Backend interface {
	domain.DetailClient
	domain.PlaylistClient
}

// Options tunes the Controller
type Options struct {
	ProgressInterval    time.Duration
	ResumeThreshold     time.Duration
	CompletionTolerance time.Duration
	PrefetchBytes       int64
	LoadAhead           int

	// PlaylistID is the collection toggled by TogglePlaylistMembership. When
	// empty, the playlist being browsed is used.
	PlaylistID string
}

func (o Options) withDefaults() Options {
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.ResumeThreshold <= 0 {
		o.ResumeThreshold = DefaultResumeThreshold
	}
	if o.CompletionTolerance <= 0 {
		o.CompletionTolerance = DefaultCompletionTolerance
	}
	if o.PrefetchBytes <= 0 {
		o.PrefetchBytes = DefaultPrefetchBytes
	}
	if o.LoadAhead <= 0 {
		o.LoadAhead = DefaultLoadAhead
	}
	return o
}

// Deps are the collaborators of a Controller
type Deps struct {
	Runtime     loop.Runtime
	Feed        *feed.Synchronizer
	Sources     *source.Engine
	Stream      Stream
	Backend     Backend
	Records     Records
	Membership  Membership
	Preferences Preferences
}

// Controller is the top-level orchestrator. Every method must run on the
// event loop.
type Controller struct {
	rt         loop.Runtime
	feed       *feed.Synchronizer
	sources    *source.Engine
	stream     Stream
	backend    Backend
	records    Records
	membership Membership
	prefs      Preferences
	opts       Options
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sess          *Session
	offsets       map[string]time.Duration
	prefetched    map[string]*domain.ItemDetail
	audioUnlocked bool
	notice        string
	err           error
	revision      uint64
}

// New wires a controller to its collaborators and subscribes to their events
func New(deps Deps, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		rt:         deps.Runtime,
		feed:       deps.Feed,
		sources:    deps.Sources,
		stream:     deps.Stream,
		backend:    deps.Backend,
		records:    deps.Records,
		membership: deps.Membership,
		prefs:      deps.Preferences,
		opts:       opts.withDefaults(),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		offsets:    make(map[string]time.Duration),
		prefetched: make(map[string]*domain.ItemDetail),
	}
	c.stream.OnEvent(c.handleStreamEvent)
	c.feed.OnChange(c.handleFeedChange)
	return c
}

// Start loads the initial list
func (c *Controller) Start(filter domain.FeedFilter) {
	c.SetFilter(filter)
}

// ActiveIndex returns the index of the active item, or -1
func (c *Controller) ActiveIndex() int {
	if c.sess == nil {
		return -1
	}
	return c.sess.Index
}

// Session returns the active session, or nil
func (c *Controller) Session() *Session {
	return c.sess
}

// SelectItem makes item i active. Re-selecting the active item only records
// the user gesture.
func (c *Controller) SelectItem(i int, userAction bool) error {
	items := c.feed.Items()
	if i < 0 || i >= len(items) {
		return fmt.Errorf("select %d of %d: %w", i, len(items), domain.ErrIndexOutOfRange)
	}
	if userAction {
		c.audioUnlocked = true
	}
	if c.sess != nil && c.sess.Index == i && c.sess.Identity == items[i].Identity() {
		return nil
	}
	c.activate(i)
	return nil
}

// PlayNext advances to the next item, wrapping to the first
func (c *Controller) PlayNext() error {
	items := c.feed.Items()
	if len(items) == 0 {
		return fmt.Errorf("play next: %w", domain.ErrIndexOutOfRange)
	}
	next := 0
	if c.sess != nil {
		next = (c.sess.Index + 1) % len(items)
	}
	return c.SelectItem(next, true)
}

// PlayPrevious steps back one item; it stays put on the first item
func (c *Controller) PlayPrevious() error {
	if c.sess == nil {
		return c.SelectItem(0, true)
	}
	if c.sess.Index == 0 {
		return nil
	}
	return c.SelectItem(c.sess.Index-1, true)
}

// Replay restarts the active item from zero without re-navigating
func (c *Controller) Replay() error {
	sess := c.sess
	if sess == nil {
		return fmt.Errorf("replay: %w", domain.ErrNoSession)
	}
	c.audioUnlocked = true
	c.resetProgress(sess.Item)
	sess.ReplayReady = false
	sess.SuppressAutoplay = false
	sess.ResumeOffset = 0

	if cand, ok := sess.candidate(sess.SourceID); ok {
		c.logger.Info("replaying item", "identity", sess.Identity, "session", sess.ID)
		c.attach(sess, cand, 0)
	}
	c.bump()
	return nil
}

// Resume re-attaches the active item at its last position after the viewer
// stopped it or recovery gave up. A failed resolution is retried.
func (c *Controller) Resume() error {
	sess := c.sess
	if sess == nil {
		return fmt.Errorf("resume: %w", domain.ErrNoSession)
	}
	if sess.ReplayReady {
		return c.Replay()
	}
	switch c.stream.State() {
	case stream.StateIdle, stream.StateFailed:
	default:
		return nil
	}
	if sess.Resolving {
		return nil
	}
	c.audioUnlocked = true
	c.err = nil
	cand, ok := sess.candidate(sess.SourceID)
	if !ok {
		if sess.NoStream {
			return fmt.Errorf("resume: %w", domain.ErrResolutionFailure)
		}
		c.logger.Info("retrying resolution", "identity", sess.Identity, "session", sess.ID)
		sess.ResolveErr = nil
		sess.SuppressAutoplay = false
		c.resolve(sess, "")
		c.bump()
		return nil
	}
	offset := time.Duration(0)
	if !sess.Item.IsLive() {
		offset = max(sess.ResumeOffset, c.offsets[sess.Identity])
	}
	sess.SuppressAutoplay = false
	c.attach(sess, cand, offset)
	c.bump()
	return nil
}

// ReplayItem restarts item i from zero, navigating to it when needed
func (c *Controller) ReplayItem(i int) error {
	items := c.feed.Items()
	if i < 0 || i >= len(items) {
		return fmt.Errorf("replay %d of %d: %w", i, len(items), domain.ErrIndexOutOfRange)
	}
	if c.sess != nil && c.sess.Index == i && c.sess.Identity == items[i].Identity() {
		return c.Replay()
	}
	c.resetProgress(items[i])
	return c.SelectItem(i, true)
}

// SwitchSource re-attaches the active item on another candidate at the
// current position. The choice becomes the preference once it plays.
func (c *Controller) SwitchSource(id string) error {
	sess := c.sess
	if sess == nil {
		return fmt.Errorf("switch source: %w", domain.ErrNoSession)
	}
	cand, ok := sess.candidate(id)
	if !ok {
		return fmt.Errorf("switch source: unknown source %q", id)
	}
	if id == sess.SourceID && c.stream.State() != stream.StateFailed {
		return nil
	}

	pos := max(c.stream.Position(), c.offsets[sess.Identity])
	sess.SourceID = id
	sess.PendingPreference = id
	sess.ResolveErr = nil
	c.err = nil
	c.logger.Info("switching source", "identity", sess.Identity, "source", id, "position", pos)
	if !sess.SuppressAutoplay {
		c.attach(sess, cand, pos)
	}
	c.bump()
	return nil
}

// CycleSource switches to the candidate after the current one
func (c *Controller) CycleSource() error {
	sess := c.sess
	if sess == nil || len(sess.Candidates) == 0 {
		return fmt.Errorf("cycle source: %w", domain.ErrNoSession)
	}
	next := 0
	for i, cand := range sess.Candidates {
		if cand.ID == sess.SourceID {
			next = (i + 1) % len(sess.Candidates)
			break
		}
	}
	return c.SwitchSource(sess.Candidates[next].ID)
}

// Authorize confirms the pending LAN authorization
func (c *Controller) Authorize() error {
	c.audioUnlocked = true
	err := c.stream.Authorize()
	if err == nil {
		c.err = nil
	}
	c.bump()
	return err
}

// SetFilter tears down playback and switches the list. The first item of the
// new list becomes active once it loads.
func (c *Controller) SetFilter(f domain.FeedFilter) {
	c.deactivate()
	c.notice = ""
	c.err = nil
	c.feed.SetFilter(f)
	c.bump()
}

// LoadMore appends the next page
func (c *Controller) LoadMore() {
	c.feed.LoadMore()
}

// Close persists the active position and releases the attachment
func (c *Controller) Close() {
	c.deactivate()
	c.records.Flush()
	c.cancel()
}

// activate tears down the current item and starts item i
func (c *Controller) activate(i int) {
	items := c.feed.Items()
	item := items[i]

	c.persistOutgoing()
	c.stream.Detach()

	sess := newSession(i, item)
	c.sess = sess
	c.notice = ""
	c.err = nil

	if rec, ok := c.records.Get(sess.Identity); ok && rec.Completed {
		sess.SuppressAutoplay = true
		sess.ReplayReady = true
	} else {
		offset := max(c.offsets[sess.Identity], rec.Time)
		if offset > c.opts.ResumeThreshold {
			sess.ResumeOffset = offset
		}
	}

	c.logger.Debug("activating item", "identity", sess.Identity, "index", i, "session", sess.ID,
		"resume", sess.ResumeOffset, "replayReady", sess.ReplayReady)

	c.resolve(sess, "")
	c.prefetchNext(sess)
	c.refreshMembership(sess)
	c.maybeLoadMore()
	c.bump()
}

// deactivate persists and tears down without selecting anything
func (c *Controller) deactivate() {
	c.persistOutgoing()
	c.stream.Detach()
	c.sess = nil
}

// persistOutgoing stores the best known position of the active item
func (c *Controller) persistOutgoing() {
	sess := c.sess
	if sess == nil || sess.Identity == "" || sess.Item.IsLive() {
		return
	}
	rec, _ := c.records.Get(sess.Identity)
	pos := max(c.stream.Position(), c.offsets[sess.Identity], rec.Time)
	dur := max(sess.duration, rec.Duration)
	if pos <= 0 && dur <= 0 {
		return
	}
	completed := dur > 0 && pos >= dur-c.opts.CompletionTolerance
	c.records.Upsert(sess.Identity, store.Update{Time: pos, Duration: dur, Completed: completed})
	c.offsets[sess.Identity] = pos
}

// resetProgress clears the stored position. Live items never have one.
func (c *Controller) resetProgress(item domain.FeedItem) {
	id := item.Identity()
	if id == "" || item.IsLive() {
		return
	}
	c.records.Reset(id)
	delete(c.offsets, id)
}

func (c *Controller) attach(sess *Session, cand domain.SourceCandidate, offset time.Duration) {
	c.stream.Attach(stream.Request{
		URL:      cand.URL,
		SourceID: cand.ID,
		Live:     sess.Item.IsLive(),
		NeedAuth: cand.NeedAuth,
		Offset:   offset,
	})
}

// maybeLoadMore fetches the next page when the active item nears the end
func (c *Controller) maybeLoadMore() {
	if c.sess == nil || !c.feed.HasMore() {
		return
	}
	if c.sess.Index >= len(c.feed.Items())-1-c.opts.LoadAhead {
		c.feed.LoadMore()
	}
}

func (c *Controller) bump() {
	c.revision++
}
